package classifier

import (
	"context"
	"errors"
	"time"

	"github.com/ortaieb/image-checker/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type instrumented struct {
	next Classifier
}

// Instrument wraps c with a span and call metrics.
func Instrument(c Classifier) Classifier {
	return &instrumented{next: c}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Classify(ctx context.Context, image []byte, mimeType string, description string) (Verdict, error) {
	provider := i.next.Name()
	ctx, span := otel.Tracer("image-checker/classifier").Start(ctx, "classifier.classify",
		trace.WithAttributes(
			attribute.String("classifier.provider", provider),
			attribute.String("image.mime_type", mimeType),
			attribute.Int("image.bytes", len(image)),
		),
	)
	defer span.End()

	start := time.Now()
	v, err := i.next.Classify(ctx, image, mimeType, description)
	metrics.ClassifierLatencySeconds.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	outcome := "match"
	switch {
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		outcome = "canceled"
	case err != nil:
		outcome = "error"
	case !v.Match:
		outcome = "no_match"
	}
	metrics.ClassifierCallsTotal.WithLabelValues(provider, outcome).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return v, err
	}
	span.SetAttributes(attribute.Bool("classifier.match", v.Match))
	return v, nil
}
