package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ortaieb/image-checker/internal/classifier"
	"github.com/ortaieb/image-checker/internal/evaluators"
	"github.com/ortaieb/image-checker/internal/metrics"
	"github.com/ortaieb/image-checker/internal/providers"
	"github.com/ortaieb/image-checker/internal/repository"
	"github.com/ortaieb/image-checker/pkg/domain"
)

var (
	ErrQueueFull         = errors.New("queue full")
	ErrDuplicate         = errors.New("duplicate processing id")
	ErrInvalidConstraint = errors.New("invalid request")
	ErrShuttingDown      = errors.New("shutting down")
)

// Processing ids name archive objects, so they are kept to a path-safe alphabet.
var processingIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

type AdmissionService interface {
	// Submit validates req and enqueues it without blocking. On success the
	// record already exists in state accepted.
	Submit(ctx context.Context, req domain.ValidationRequest) (string, error)
	// Start launches the worker pool. Workers stop once the queue is closed and drained.
	Start(ctx context.Context)
	// Shutdown stops admission and waits for queued and in-flight work.
	Shutdown(ctx context.Context) error
	Stats(ctx context.Context) domain.QueueStats
}

type AdmissionOptions struct {
	QueueSize         int
	Workers           int
	ProcessingTimeout time.Duration
}

type job struct {
	req domain.ValidationRequest
}

type admissionService struct {
	repo      repository.StatusRepository
	images    providers.ImageSource
	validator ValidationService
	results   ResultsService
	logger    *slog.Logger
	now       func() time.Time

	queue   chan job
	workers int
	timeout time.Duration

	mu      sync.Mutex
	closing bool
	started bool
	wg      sync.WaitGroup
}

func NewAdmissionService(repo repository.StatusRepository, images providers.ImageSource, validator ValidationService, results ResultsService, logger *slog.Logger, now func() time.Time, opts AdmissionOptions) AdmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 5 * time.Minute
	}
	return &admissionService{
		repo:      repo,
		images:    images,
		validator: validator,
		results:   results,
		logger:    logger,
		now:       now,
		queue:     make(chan job, opts.QueueSize),
		workers:   opts.Workers,
		timeout:   opts.ProcessingTimeout,
	}
}

func (s *admissionService) Submit(ctx context.Context, req domain.ValidationRequest) (string, error) {
	if err := s.validate(req); err != nil {
		metrics.RequestsSubmittedTotal.WithLabelValues("invalid").Inc()
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		metrics.RequestsSubmittedTotal.WithLabelValues("shutting_down").Inc()
		return "", ErrShuttingDown
	}
	if s.repo.Exists(ctx, req.ProcessingID) {
		metrics.RequestsSubmittedTotal.WithLabelValues("duplicate").Inc()
		return "", fmt.Errorf("%w: %s", ErrDuplicate, req.ProcessingID)
	}
	if len(s.queue) >= cap(s.queue) {
		metrics.RequestsSubmittedTotal.WithLabelValues("queue_full").Inc()
		return "", ErrQueueFull
	}
	rec := domain.ProcessingRecord{
		ProcessingID: req.ProcessingID,
		State:        domain.StateAccepted,
		SubmittedAt:  s.now().UTC(),
		CallbackURL:  req.CallbackURL,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			metrics.RequestsSubmittedTotal.WithLabelValues("duplicate").Inc()
			return "", fmt.Errorf("%w: %s", ErrDuplicate, req.ProcessingID)
		}
		return "", err
	}
	// Only Submit sends, always under mu, so the capacity check above holds.
	s.queue <- job{req: req}
	metrics.RequestsSubmittedTotal.WithLabelValues("accepted").Inc()
	s.logger.Debug("request accepted", "processing_id", req.ProcessingID, "depth", len(s.queue))
	return req.ProcessingID, nil
}

func (s *admissionService) validate(req domain.ValidationRequest) error {
	if strings.TrimSpace(req.ProcessingID) == "" {
		return fmt.Errorf("%w: processing-id is required", ErrInvalidConstraint)
	}
	if !processingIDPattern.MatchString(req.ProcessingID) || strings.Contains(req.ProcessingID, "..") {
		return fmt.Errorf("%w: processing-id must be 1-128 characters of [A-Za-z0-9._-] without \"..\"", ErrInvalidConstraint)
	}
	if strings.TrimSpace(req.Analysis.Content) == "" {
		return fmt.Errorf("%w: analysis-request.content is required", ErrInvalidConstraint)
	}
	if loc := req.Analysis.Location; loc != nil {
		if !(evaluators.Point{Lat: loc.Lat, Long: loc.Long}).Valid() {
			return fmt.Errorf("%w: location lat must be within [-90,90] and long within [-180,180]", ErrInvalidConstraint)
		}
		if !(loc.MaxDistance > 0) {
			return fmt.Errorf("%w: location max_distance must be positive", ErrInvalidConstraint)
		}
	}
	if dt := req.Analysis.DateTime; dt != nil {
		if _, err := evaluators.ResolveWindow(*dt); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConstraint, err)
		}
	}
	if err := s.images.Validate(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConstraint, err)
	}
	if cb := strings.TrimSpace(req.CallbackURL); cb != "" {
		u, err := url.Parse(cb)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: callback-url must be an absolute http(s) URL", ErrInvalidConstraint)
		}
	}
	return nil
}

func (s *admissionService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			for j := range s.queue {
				s.process(ctx, id, j)
			}
		}(i)
	}
	s.logger.Info("workers started", "workers", s.workers, "capacity", cap(s.queue))
}

func (s *admissionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *admissionService) Stats(ctx context.Context) domain.QueueStats {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	depth := len(s.queue)
	return domain.QueueStats{
		StoreStats:     s.repo.Stats(ctx),
		Capacity:       cap(s.queue),
		Depth:          depth,
		AvailableSlots: cap(s.queue) - depth,
		Workers:        s.workers,
		ShuttingDown:   closing,
	}
}

type evaluation struct {
	res domain.ValidationResult
	err error
}

func (s *admissionService) process(base context.Context, worker int, j job) {
	id := j.req.ProcessingID
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("worker panic", "processing_id", id, "panic", r, "stack", string(debug.Stack()))
			s.fail(base, id, domain.FailureInternal, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if _, err := s.repo.Transition(base, id, repository.Transition{To: domain.StateInProgress, At: s.now().UTC()}); err != nil {
		s.logger.Error("cannot start request", "processing_id", id, "err", err)
		return
	}
	s.logger.Info("processing request", "processing_id", id, "worker", worker)

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	done := make(chan evaluation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("validation panic", "processing_id", id, "panic", r, "stack", string(debug.Stack()))
				done <- evaluation{err: fmt.Errorf("validation panic: %v", r)}
			}
		}()
		res, err := s.validator.Evaluate(ctx, j.req)
		done <- evaluation{res: res, err: err}
	}()

	var ev evaluation
	select {
	case ev = <-done:
	case <-ctx.Done():
		// Cancel first so the classifier call and any open file or connection is released.
		cancel()
		ev = evaluation{err: ctx.Err()}
	}

	if ev.err == nil {
		if _, err := s.results.Complete(context.WithoutCancel(base), id, ev.res); err != nil {
			s.logger.Error("cannot complete request", "processing_id", id, "err", err)
		}
		return
	}
	reason, msg := s.classify(ev.err)
	s.logger.Warn("request failed", "processing_id", id, "reason", reason, "err", ev.err)
	s.fail(base, id, reason, msg)
}

func (s *admissionService) classify(err error) (domain.FailureReason, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout, fmt.Sprintf("processing exceeded %s", s.timeout)
	case errors.Is(err, providers.ErrImageUnreadable):
		return domain.FailureImageUnreadable, err.Error()
	case errors.Is(err, classifier.ErrUnavailable):
		return domain.FailureClassifierUnavailable, err.Error()
	case errors.Is(err, context.Canceled):
		return domain.FailureInternal, "processing canceled by shutdown"
	default:
		return domain.FailureInternal, err.Error()
	}
}

func (s *admissionService) fail(ctx context.Context, id string, reason domain.FailureReason, msg string) {
	if _, err := s.results.Fail(context.WithoutCancel(ctx), id, domain.Failure{Reason: reason, Message: msg}); err != nil {
		s.logger.Error("cannot record failure", "processing_id", id, "err", err)
	}
}
