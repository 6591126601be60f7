package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ortaieb/image-checker/internal/classifier"
	"github.com/ortaieb/image-checker/internal/evaluators"
	"github.com/ortaieb/image-checker/internal/metadata"
	"github.com/ortaieb/image-checker/internal/providers"
	"github.com/ortaieb/image-checker/pkg/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeImages serves images by path. Unknown paths are not found.
type fakeImages struct {
	images  map[string]*providers.Image
	loadErr map[string]error
}

func (f *fakeImages) Validate(req domain.ValidationRequest) error {
	if req.HasImagePath() == (len(req.Image) > 0) {
		return providers.ErrUnsupportedReference
	}
	return nil
}

func (f *fakeImages) Load(ctx context.Context, req domain.ValidationRequest) (*providers.Image, error) {
	if err := f.loadErr[req.ImagePath]; err != nil {
		return nil, err
	}
	img, ok := f.images[req.ImagePath]
	if !ok {
		return nil, providers.ErrImageNotFound
	}
	return img, nil
}

type fakeExtractor struct {
	md    metadata.Metadata
	calls atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte) (metadata.Metadata, error) {
	f.calls.Add(1)
	return f.md, ctx.Err()
}

type fakeClassifier struct {
	fn    func(ctx context.Context, description string) (classifier.Verdict, error)
	calls atomic.Int32
}

func (f *fakeClassifier) Name() string { return "fake" }

func (f *fakeClassifier) Classify(ctx context.Context, image []byte, mimeType string, description string) (classifier.Verdict, error) {
	f.calls.Add(1)
	if f.fn == nil {
		return classifier.Verdict{Match: true}, nil
	}
	return f.fn(ctx, description)
}

type countingAcquirer struct {
	n atomic.Int32
}

func (a *countingAcquirer) Acquire(ctx context.Context) error {
	a.n.Add(1)
	return ctx.Err()
}

// validatorFunc adapts a function to ValidationService.
type validatorFunc func(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error)

func (f validatorFunc) Evaluate(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
	return f(ctx, req)
}

type recordingCallback struct {
	mu   sync.Mutex
	sent []domain.ProcessingRecord
}

func (r *recordingCallback) Send(ctx context.Context, rec domain.ProcessingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, rec)
}

func (r *recordingCallback) Drain(context.Context) error { return nil }

func (r *recordingCallback) records() []domain.ProcessingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ProcessingRecord(nil), r.sent...)
}

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (u *memUploader) UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = map[string][]byte{}
	}
	u.objects[objectPath] = append([]byte(nil), data...)
	return "mem://" + objectPath, nil
}

func jpeg() *providers.Image {
	return &providers.Image{Data: []byte{0xff, 0xd8, 0xff, 0xe0}, MIMEType: "image/jpeg", Source: "test"}
}

func pointPtr(lat, long float64) *evaluators.Point {
	return &evaluators.Point{Lat: lat, Long: long}
}

func timePtr(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func intPtr(n int) *int { return &n }
