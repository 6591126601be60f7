package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/ortaieb/image-checker/internal/metrics"
	"github.com/ortaieb/image-checker/internal/providers"
	"github.com/ortaieb/image-checker/internal/repository"
	"github.com/ortaieb/image-checker/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ResultsService owns the terminal transitions of a record and everything
// that follows them: metrics, the optional archive copy and the callback.
type ResultsService interface {
	Get(ctx context.Context, id string) (domain.ProcessingRecord, error)
	Complete(ctx context.Context, id string, res domain.ValidationResult) (domain.ProcessingRecord, error)
	Fail(ctx context.Context, id string, failure domain.Failure) (domain.ProcessingRecord, error)
}

type resultsService struct {
	repo     repository.StatusRepository
	uploader providers.Uploader
	callback ResultCallbackService
	logger   *slog.Logger
	now      func() time.Time
}

// NewResultsService builds the service. uploader and callback may be nil.
func NewResultsService(repo repository.StatusRepository, uploader providers.Uploader, callback ResultCallbackService, logger *slog.Logger, now func() time.Time) ResultsService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &resultsService{repo: repo, uploader: uploader, callback: callback, logger: logger, now: now}
}

func (s *resultsService) Get(ctx context.Context, id string) (domain.ProcessingRecord, error) {
	return s.repo.Get(ctx, id)
}

func (s *resultsService) Complete(ctx context.Context, id string, res domain.ValidationResult) (domain.ProcessingRecord, error) {
	return s.finish(ctx, id, repository.Transition{To: domain.StateCompleted, Result: &res}, string(res.Resolution))
}

func (s *resultsService) Fail(ctx context.Context, id string, failure domain.Failure) (domain.ProcessingRecord, error) {
	return s.finish(ctx, id, repository.Transition{To: domain.StateFailed, Failure: &failure}, string(failure.Reason))
}

func (s *resultsService) finish(ctx context.Context, id string, t repository.Transition, outcome string) (domain.ProcessingRecord, error) {
	ctx, span := otel.Tracer("image-checker/results").Start(ctx, "image_checker.finish",
		trace.WithAttributes(
			attribute.String("image_checker.processing_id", id),
			attribute.String("image_checker.state", string(t.To)),
			attribute.String("image_checker.outcome", outcome),
		),
	)
	defer span.End()

	t.At = s.now().UTC()
	rec, err := s.repo.Transition(ctx, id, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ProcessingRecord{}, err
	}

	metrics.RequestsFinishedTotal.WithLabelValues(string(rec.State), outcome).Inc()
	if d := t.At.Sub(rec.SubmittedAt).Seconds(); d >= 0 {
		metrics.ProcessingLatencySeconds.WithLabelValues(string(rec.State)).Observe(d)
	}
	s.logger.Info("request finished", "processing_id", id, "status", rec.State, "outcome", outcome)

	body := NewResultPayload(rec)
	if s.uploader != nil {
		if b, err := json.Marshal(body); err == nil {
			objPath := path.Join("results", fmt.Sprintf("%s.json", id))
			if loc, err := s.uploader.UploadBytes(ctx, objPath, "application/json", b); err != nil {
				span.RecordError(err)
				s.logger.Warn("result archive upload failed", "processing_id", id, "err", err)
			} else {
				s.logger.Debug("result archived", "processing_id", id, "location", loc)
			}
		}
	}
	if s.callback != nil {
		s.callback.Send(context.WithoutCancel(ctx), rec)
	}
	return rec, nil
}

// ResultPayload is the client-facing view of a record, shared by the
// results endpoint, callbacks and archives.
type ResultPayload struct {
	ProcessingID string                   `json:"processing-id"`
	Status       domain.ProcessingState   `json:"status"`
	Results      *domain.ValidationResult `json:"results,omitempty"`
	Error        *domain.Failure          `json:"error,omitempty"`
	SubmittedAt  time.Time                `json:"submitted-at"`
	FinishedAt   *time.Time               `json:"finished-at,omitempty"`
}

func NewResultPayload(rec domain.ProcessingRecord) ResultPayload {
	rec = rec.Clone()
	return ResultPayload{
		ProcessingID: rec.ProcessingID,
		Status:       rec.State,
		Results:      rec.Result,
		Error:        rec.Failure,
		SubmittedAt:  rec.SubmittedAt,
		FinishedAt:   rec.FinishedAt,
	}
}
