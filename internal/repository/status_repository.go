package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ortaieb/image-checker/pkg/domain"
)

var (
	ErrNotFound          = errors.New("processing record not found")
	ErrAlreadyExists     = errors.New("processing record already exists")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Transition describes a lifecycle move applied by the worker.
// Result is required when moving to completed and Failure when moving to failed.
type Transition struct {
	To      domain.ProcessingState
	At      time.Time
	Result  *domain.ValidationResult
	Failure *domain.Failure
}

type StatusRepository interface {
	Insert(ctx context.Context, rec domain.ProcessingRecord) error
	Exists(ctx context.Context, id string) bool
	Transition(ctx context.Context, id string, t Transition) (domain.ProcessingRecord, error)
	Get(ctx context.Context, id string) (domain.ProcessingRecord, error)
	Stats(ctx context.Context) domain.StoreStats

	// RemoveFinishedBefore drops up to limit terminal records finished before the cutoff.
	RemoveFinishedBefore(ctx context.Context, limit int, before time.Time) (int, error)
}

type statusMemoryRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.ProcessingRecord
}

func NewStatusRepository() StatusRepository {
	return &statusMemoryRepo{records: make(map[string]*domain.ProcessingRecord)}
}

func (r *statusMemoryRepo) Insert(ctx context.Context, rec domain.ProcessingRecord) error {
	if rec.ProcessingID == "" {
		return fmt.Errorf("insert: empty processing id")
	}
	if rec.State != domain.StateAccepted {
		return fmt.Errorf("insert %s: %w: initial state must be %s", rec.ProcessingID, ErrInvalidTransition, domain.StateAccepted)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ProcessingID]; ok {
		return ErrAlreadyExists
	}
	cp := rec.Clone()
	r.records[rec.ProcessingID] = &cp
	return nil
}

func (r *statusMemoryRepo) Exists(ctx context.Context, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok
}

func (r *statusMemoryRepo) Transition(ctx context.Context, id string, t Transition) (domain.ProcessingRecord, error) {
	switch t.To {
	case domain.StateCompleted:
		if t.Result == nil {
			return domain.ProcessingRecord{}, fmt.Errorf("%w: completed requires a result", ErrInvalidTransition)
		}
	case domain.StateFailed:
		if t.Failure == nil {
			return domain.ProcessingRecord{}, fmt.Errorf("%w: failed requires a failure", ErrInvalidTransition)
		}
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.ProcessingRecord{}, ErrNotFound
	}
	if !rec.State.CanTransitionTo(t.To) {
		return domain.ProcessingRecord{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.State, t.To)
	}

	// Build the next version aside and swap it in, so readers holding the
	// read lock never see a half-applied record.
	next := rec.Clone()
	next.State = t.To
	switch t.To {
	case domain.StateInProgress:
		next.StartedAt = &at
	case domain.StateCompleted:
		res := t.Result.Clone()
		next.Result = &res
		next.FinishedAt = &at
	case domain.StateFailed:
		f := *t.Failure
		next.Failure = &f
		next.FinishedAt = &at
	}
	r.records[id] = &next
	return next.Clone(), nil
}

func (r *statusMemoryRepo) Get(ctx context.Context, id string) (domain.ProcessingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.ProcessingRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *statusMemoryRepo) Stats(ctx context.Context) domain.StoreStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s domain.StoreStats
	for _, rec := range r.records {
		s.Total++
		switch rec.State {
		case domain.StateAccepted:
			s.Accepted++
		case domain.StateInProgress:
			s.InProgress++
		case domain.StateCompleted:
			s.Completed++
		case domain.StateFailed:
			s.Failed++
		}
	}
	return s
}

func (r *statusMemoryRepo) RemoveFinishedBefore(ctx context.Context, limit int, before time.Time) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.records {
		if removed >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !rec.State.Terminal() || rec.FinishedAt == nil {
			continue
		}
		if rec.FinishedAt.Before(before) {
			delete(r.records, id)
			removed++
		}
	}
	return removed, nil
}
