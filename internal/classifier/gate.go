package classifier

import "context"

// Gate admits outbound classifier calls. *ratelimit.Throttle satisfies it.
type Gate interface {
	Acquire(ctx context.Context) error
}

type retryGateKey struct{}

// WithRetryGate makes adapters that retry take a permit from g before every
// retry. The caller takes the permit for the first attempt itself.
func WithRetryGate(ctx context.Context, g Gate) context.Context {
	if g == nil {
		return ctx
	}
	return context.WithValue(ctx, retryGateKey{}, g)
}

func acquireRetry(ctx context.Context) error {
	if g, ok := ctx.Value(retryGateKey{}).(Gate); ok {
		return g.Acquire(ctx)
	}
	return nil
}
