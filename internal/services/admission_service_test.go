package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ortaieb/image-checker/internal/classifier"
	"github.com/ortaieb/image-checker/internal/providers"
	"github.com/ortaieb/image-checker/internal/repository"
	"github.com/ortaieb/image-checker/pkg/domain"
)

type pipeline struct {
	repo repository.StatusRepository
	svc  AdmissionService
}

func newPipeline(opts AdmissionOptions, validator ValidationService) *pipeline {
	repo := repository.NewStatusRepository()
	results := NewResultsService(repo, nil, nil, discardLogger(), nil)
	return &pipeline{
		repo: repo,
		svc:  NewAdmissionService(repo, &fakeImages{}, validator, results, discardLogger(), nil, opts),
	}
}

func accepting() ValidationService {
	return validatorFunc(func(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
		return domain.NewValidationResult(nil), nil
	})
}

func validRequest(id string) domain.ValidationRequest {
	return domain.ValidationRequest{
		ProcessingID: id,
		ImagePath:    "img.jpg",
		Analysis:     domain.AnalysisRequest{Content: "a cat"},
	}
}

func (p *pipeline) waitFor(t *testing.T, id string, state domain.ProcessingState) domain.ProcessingRecord {
	t.Helper()
	var rec domain.ProcessingRecord
	require.Eventually(t, func() bool {
		r, err := p.repo.Get(context.Background(), id)
		if err != nil {
			return false
		}
		rec = r
		return r.State == state
	}, 2*time.Second, 5*time.Millisecond, "record %s never reached %s", id, state)
	return rec
}

func TestSubmit_RecordExistsBeforeReturn(t *testing.T) {
	p := newPipeline(AdmissionOptions{QueueSize: 4}, accepting())

	id, err := p.svc.Submit(context.Background(), validRequest("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	rec, err := p.repo.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAccepted, rec.State)
	assert.False(t, rec.SubmittedAt.IsZero())
}

func TestSubmit_QueueFullLeavesNoRecord(t *testing.T) {
	p := newPipeline(AdmissionOptions{QueueSize: 2}, accepting())

	for i := 0; i < 2; i++ {
		_, err := p.svc.Submit(context.Background(), validRequest(fmt.Sprintf("r%d", i)))
		require.NoError(t, err)
	}
	_, err := p.svc.Submit(context.Background(), validRequest("r2"))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, p.repo.Exists(context.Background(), "r2"))

	st := p.svc.Stats(context.Background())
	assert.Equal(t, 2, st.Capacity)
	assert.Equal(t, 2, st.Depth)
	assert.Equal(t, 0, st.AvailableSlots)
	assert.EqualValues(t, 2, st.Accepted)
}

func TestSubmit_Duplicate(t *testing.T) {
	p := newPipeline(AdmissionOptions{QueueSize: 4}, accepting())

	_, err := p.svc.Submit(context.Background(), validRequest("same"))
	require.NoError(t, err)
	_, err = p.svc.Submit(context.Background(), validRequest("same"))
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, p.svc.Stats(context.Background()).Depth)
}

func TestSubmit_InvalidRequestsNeverReachTheQueue(t *testing.T) {
	cases := map[string]func(r *domain.ValidationRequest){
		"missing id":      func(r *domain.ValidationRequest) { r.ProcessingID = " " },
		"id traversal":    func(r *domain.ValidationRequest) { r.ProcessingID = "../../escaped" },
		"id dot dot":      func(r *domain.ValidationRequest) { r.ProcessingID = "a..b" },
		"id separator":    func(r *domain.ValidationRequest) { r.ProcessingID = "a/b" },
		"id too long":     func(r *domain.ValidationRequest) { r.ProcessingID = strings.Repeat("x", 129) },
		"missing content": func(r *domain.ValidationRequest) { r.Analysis.Content = "" },
		"latitude range": func(r *domain.ValidationRequest) {
			r.Analysis.Location = &domain.LocationConstraint{Lat: 91, Long: 0, MaxDistance: 10}
		},
		"longitude range": func(r *domain.ValidationRequest) {
			r.Analysis.Location = &domain.LocationConstraint{Lat: 0, Long: -181, MaxDistance: 10}
		},
		"zero distance": func(r *domain.ValidationRequest) {
			r.Analysis.Location = &domain.LocationConstraint{Lat: 0, Long: 0}
		},
		"three datetime fields": func(r *domain.ValidationRequest) {
			r.Analysis.DateTime = &domain.DateTimeConstraint{Start: "2025-08-01T10:00:00Z", End: "2025-08-01T11:00:00Z", Duration: intPtr(60)}
		},
		"one datetime field": func(r *domain.ValidationRequest) {
			r.Analysis.DateTime = &domain.DateTimeConstraint{Start: "2025-08-01T10:00:00Z"}
		},
		"end before start": func(r *domain.ValidationRequest) {
			r.Analysis.DateTime = &domain.DateTimeConstraint{Start: "2025-08-01T10:00:00Z", End: "2025-08-01T09:00:00Z"}
		},
		"non-positive duration": func(r *domain.ValidationRequest) {
			r.Analysis.DateTime = &domain.DateTimeConstraint{End: "2025-08-01T10:00:00Z", Duration: intPtr(0)}
		},
		"path and inline image": func(r *domain.ValidationRequest) { r.Image = []byte{1} },
		"no image":              func(r *domain.ValidationRequest) { r.ImagePath = "" },
		"callback scheme":       func(r *domain.ValidationRequest) { r.CallbackURL = "ftp://example.com/hook" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := newPipeline(AdmissionOptions{QueueSize: 4}, accepting())
			req := validRequest("bad")
			mutate(&req)
			_, err := p.svc.Submit(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidConstraint)
			assert.Zero(t, p.svc.Stats(context.Background()).Total)
		})
	}
}

func TestWorkers_ProcessInAdmissionOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var mu sync.Mutex
	var order []string
	p := newPipeline(AdmissionOptions{QueueSize: 10, Workers: 1}, validatorFunc(
		func(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
			mu.Lock()
			order = append(order, req.ProcessingID)
			mu.Unlock()
			return domain.NewValidationResult(nil), nil
		}))

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := p.svc.Submit(context.Background(), validRequest(id))
		require.NoError(t, err)
	}
	p.svc.Start(context.Background())
	require.NoError(t, p.svc.Shutdown(context.Background()))

	assert.Equal(t, ids, order)
	for _, id := range ids {
		rec := p.waitFor(t, id, domain.StateCompleted)
		require.NotNil(t, rec.Result)
		assert.True(t, rec.Result.Accepted())
		assert.NotNil(t, rec.StartedAt)
		assert.NotNil(t, rec.FinishedAt)
	}
}

func TestShutdown_DrainsAndRejectsNewWork(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newPipeline(AdmissionOptions{QueueSize: 10, Workers: 2}, validatorFunc(
		func(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
			time.Sleep(5 * time.Millisecond)
			return domain.NewValidationResult([]string{"no"}), nil
		}))
	p.svc.Start(context.Background())
	for i := 0; i < 6; i++ {
		_, err := p.svc.Submit(context.Background(), validRequest(fmt.Sprintf("r%d", i)))
		require.NoError(t, err)
	}

	require.NoError(t, p.svc.Shutdown(context.Background()))
	_, err := p.svc.Submit(context.Background(), validRequest("late"))
	require.ErrorIs(t, err, ErrShuttingDown)

	st := p.svc.Stats(context.Background())
	assert.True(t, st.ShuttingDown)
	assert.EqualValues(t, 6, st.Completed)
	assert.Zero(t, st.Depth)
}

func TestWorker_TimeoutFailsAndMovesOn(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	released := make(chan struct{})
	p := newPipeline(AdmissionOptions{QueueSize: 4, Workers: 1, ProcessingTimeout: 50 * time.Millisecond}, validatorFunc(
		func(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
			if req.ProcessingID == "stuck" {
				<-ctx.Done()
				close(released)
				return domain.ValidationResult{}, ctx.Err()
			}
			return domain.NewValidationResult(nil), nil
		}))
	p.svc.Start(context.Background())

	for _, id := range []string{"stuck", "next"} {
		_, err := p.svc.Submit(context.Background(), validRequest(id))
		require.NoError(t, err)
	}

	rec := p.waitFor(t, "stuck", domain.StateFailed)
	require.NotNil(t, rec.Failure)
	assert.Equal(t, domain.FailureTimeout, rec.Failure.Reason)
	assert.Less(t, rec.FinishedAt.Sub(*rec.StartedAt), time.Second)
	p.waitFor(t, "next", domain.StateCompleted)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("stuck evaluation was never canceled")
	}
	require.NoError(t, p.svc.Shutdown(context.Background()))
}

func TestWorker_MapsProcessingErrors(t *testing.T) {
	errs := map[string]error{
		"unreadable":  fmt.Errorf("%w: not an image", providers.ErrImageUnreadable),
		"unavailable": fmt.Errorf("%w: 3 attempts", classifier.ErrUnavailable),
		"internal":    errors.New("boom"),
	}
	p := newPipeline(AdmissionOptions{QueueSize: 10, Workers: 2}, validatorFunc(
		func(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
			if req.ProcessingID == "panic" {
				panic("exploded")
			}
			return domain.ValidationResult{}, errs[req.ProcessingID]
		}))
	p.svc.Start(context.Background())
	defer p.svc.Shutdown(context.Background())

	want := map[string]domain.FailureReason{
		"unreadable":  domain.FailureImageUnreadable,
		"unavailable": domain.FailureClassifierUnavailable,
		"internal":    domain.FailureInternal,
		"panic":       domain.FailureInternal,
	}
	for id := range want {
		_, err := p.svc.Submit(context.Background(), validRequest(id))
		require.NoError(t, err)
	}
	for id, reason := range want {
		rec := p.waitFor(t, id, domain.StateFailed)
		require.NotNil(t, rec.Failure, id)
		assert.Equal(t, reason, rec.Failure.Reason, id)
		assert.NotEmpty(t, rec.Failure.Message, id)
	}
	rec, _ := p.repo.Get(context.Background(), "panic")
	assert.True(t, strings.Contains(rec.Failure.Message, "exploded"))
}

func TestShutdown_HonorsContext(t *testing.T) {
	block := make(chan struct{})
	p := newPipeline(AdmissionOptions{QueueSize: 2, Workers: 1, ProcessingTimeout: time.Minute}, validatorFunc(
		func(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
			<-block
			return domain.NewValidationResult(nil), nil
		}))
	p.svc.Start(context.Background())
	_, err := p.svc.Submit(context.Background(), validRequest("slow"))
	require.NoError(t, err)
	p.waitFor(t, "slow", domain.StateInProgress)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.svc.Shutdown(ctx), context.DeadlineExceeded)

	close(block)
	require.NoError(t, p.svc.Shutdown(context.Background()))
	p.waitFor(t, "slow", domain.StateCompleted)
}
