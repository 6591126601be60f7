package metadata

import (
	"context"
	"time"

	"github.com/ortaieb/image-checker/internal/evaluators"
)

// Metadata is what an image says about where and when it was captured.
// Either field may be nil; absence is a normal outcome.
type Metadata struct {
	GPS        *evaluators.Point
	CapturedAt *time.Time
}

type Extractor interface {
	Extract(ctx context.Context, image []byte) (Metadata, error)
}
