package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ortaieb/image-checker/internal/backoff"
	"github.com/ortaieb/image-checker/internal/metrics"
	"github.com/ortaieb/image-checker/internal/ratelimit"
	"github.com/ortaieb/image-checker/internal/tracing"
	"github.com/ortaieb/image-checker/pkg/domain"
)

const (
	HeaderCallbackTimestamp = "X-Image-Checker-Timestamp"
	HeaderCallbackSignature = "X-Image-Checker-Signature"
)

type ResultCallbackService interface {
	// Send delivers rec to its callback URL in the background.
	Send(ctx context.Context, rec domain.ProcessingRecord)
	// Drain stops accepting sends and waits for in-flight deliveries. When
	// ctx ends first the remaining deliveries are cancelled.
	Drain(ctx context.Context) error
}

type resultCallbackService struct {
	logger      *slog.Logger
	secret      string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	client      *http.Client
	now         func() time.Time

	limiter ratelimit.Limiter
	bucket  ratelimit.Bucket

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	stop     context.Context
	cancel   context.CancelFunc
}

func NewResultCallbackService(logger *slog.Logger, secret string, maxAttempts int, baseDelaySeconds int, maxDelaySeconds int, limiter ratelimit.Limiter, bucket ratelimit.Bucket) ResultCallbackService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelaySeconds <= 0 {
		baseDelaySeconds = 2
	}
	if maxDelaySeconds <= 0 {
		maxDelaySeconds = 60
	}
	stop, cancel := context.WithCancel(context.Background())
	return &resultCallbackService{
		stop:        stop,
		cancel:      cancel,
		logger:      logger,
		secret:      secret,
		maxAttempts: maxAttempts,
		baseDelay:   time.Duration(baseDelaySeconds) * time.Second,
		maxDelay:    time.Duration(maxDelaySeconds) * time.Second,
		client:      &http.Client{Timeout: 30 * time.Second},
		now:         time.Now,
		limiter:     limiter,
		bucket:      bucket,
	}
}

func (s *resultCallbackService) Send(ctx context.Context, rec domain.ProcessingRecord) {
	if strings.TrimSpace(rec.CallbackURL) == "" || !rec.State.Terminal() {
		return
	}
	b, err := json.Marshal(NewResultPayload(rec))
	if err != nil {
		s.logger.Warn("result callback encode failed", "processing_id", rec.ProcessingID, "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		metrics.CallbackDeliveriesTotal.WithLabelValues("failure").Inc()
		s.logger.Warn("result callback dropped during shutdown", "processing_id", rec.ProcessingID)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		defer context.AfterFunc(s.stop, cancel)()
		s.sendWithRetry(ctx, rec.ProcessingID, rec.CallbackURL, b)
	}()
}

func (s *resultCallbackService) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
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
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *resultCallbackService) sendWithRetry(ctx context.Context, id string, url string, body []byte) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.waitForToken(ctx, url); err != nil {
			lastErr = err
			break
		}
		lastErr = s.deliver(ctx, url, body)
		if lastErr == nil {
			metrics.CallbackDeliveriesTotal.WithLabelValues("success").Inc()
			return
		}
		var bad *invalidCallbackError
		if errors.As(lastErr, &bad) {
			break
		}
		s.logger.Debug("result callback attempt failed", "processing_id", id, "attempt", attempt, "err", lastErr)
		if attempt < s.maxAttempts {
			if err := sleepOrDone(ctx, s.backoffDelay(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}
	metrics.CallbackDeliveriesTotal.WithLabelValues("failure").Inc()
	s.logger.Warn("result callback failed", "processing_id", id, "url", url, "err", lastErr)
}

// waitForToken blocks while the per-URL bucket is empty. Limiter errors let
// the delivery through.
func (s *resultCallbackService) waitForToken(ctx context.Context, url string) error {
	if s.limiter == nil || !s.bucket.Enabled() {
		return nil
	}
	for {
		dec, err := s.limiter.Allow(ctx, "callback", url, s.bucket)
		if err != nil || dec.Allowed {
			return nil
		}
		metrics.RateLimitHitsTotal.WithLabelValues("callback", "result").Inc()
		if err := sleepOrDone(ctx, dec.RetryAfter); err != nil {
			return err
		}
	}
}

type invalidCallbackError struct{ err error }

func (e *invalidCallbackError) Error() string { return "invalid callback request: " + e.err.Error() }
func (e *invalidCallbackError) Unwrap() error { return e.err }

func (s *resultCallbackService) deliver(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &invalidCallbackError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	s.addSignature(req, body)
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback receiver answered %d", resp.StatusCode)
	}
	return nil
}

func (s *resultCallbackService) backoffDelay(attempt int) time.Duration {
	return backoff.Compute(backoff.PolicyExponential, s.baseDelay, s.maxDelay, attempt-1, nil)
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sign returns the hex HMAC-SHA256 of "<ts>.<body>" under secret.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *resultCallbackService) addSignature(req *http.Request, body []byte) {
	if strings.TrimSpace(s.secret) == "" {
		return
	}
	ts := s.now().UTC().Unix()
	req.Header.Set(HeaderCallbackTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(HeaderCallbackSignature, Sign(s.secret, ts, body))
}
