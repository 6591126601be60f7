package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// Compute returns the delay before retry number attempts (0-based) under policy.
// Unknown policies behave like exp_full_jitter.
func Compute(policy string, base time.Duration, max time.Duration, attempts int, rng *rand.Rand) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case PolicyFixed:
		return minDuration(base, max)
	case PolicyLinear:
		return minDuration(base*time.Duration(maxInt(1, attempts)), max)
	case PolicyExponential:
		return exponential(base, max, attempts)
	case PolicyExpEqualJitter:
		d := exponential(base, max, attempts)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(d-half)+1))
	default:
		d := exponential(base, max, attempts)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

func exponential(base, max time.Duration, attempts int) time.Duration {
	f := float64(base) * math.Pow(2, float64(attempts))
	if f >= float64(max) || math.IsInf(f, 1) {
		return max
	}
	return time.Duration(f)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
