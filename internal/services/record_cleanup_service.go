package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/ortaieb/image-checker/internal/repository"
)

type RecordCleanupService interface {
	Start(ctx context.Context)
}

type recordCleanupService struct {
	repo      repository.StatusRepository
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	batch     int
	now       func() time.Time
}

// NewRecordCleanupService sweeps terminal records older than retention.
func NewRecordCleanupService(repo repository.StatusRepository, logger *slog.Logger, intervalSeconds int, retention time.Duration) RecordCleanupService {
	if intervalSeconds <= 0 {
		intervalSeconds = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &recordCleanupService{
		repo:      repo,
		logger:    logger,
		interval:  time.Duration(intervalSeconds) * time.Second,
		retention: retention,
		batch:     1000,
		now:       time.Now,
	}
}

func (s *recordCleanupService) Start(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *recordCleanupService) sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.retention)
	total := 0
	for {
		removed, err := s.repo.RemoveFinishedBefore(ctx, s.batch, cutoff)
		if err != nil {
			s.logger.Warn("record cleanup failed", "err", err)
			return total
		}
		total += removed
		if removed < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.Info("record cleanup removed", "count", total)
	}
	return total
}
