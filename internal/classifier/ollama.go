package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ortaieb/image-checker/internal/backoff"
	"github.com/ortaieb/image-checker/internal/tracing"
)

type OllamaConfig struct {
	// URL is either the server root or the full /api/chat endpoint.
	URL         string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	HTTPClient  *http.Client
}

type ollamaClassifier struct {
	endpoint    string
	model       string
	timeout     time.Duration
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	http        *http.Client
	logger      *slog.Logger
	rng         *rand.Rand
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewOllamaClassifier(cfg OllamaConfig, logger *slog.Logger) Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "llava:7b"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &ollamaClassifier{
		endpoint:    chatEndpoint(cfg.URL),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		http:        cfg.HTTPClient,
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:       sleepOrDone,
	}
}

func chatEndpoint(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw + "/api/chat"
	}
	return raw
}

func (c *ollamaClassifier) Name() string { return ProviderOllama }

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

// permanentError marks a response that retrying will not fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (c *ollamaClassifier) Classify(ctx context.Context, image []byte, mimeType string, description string) (Verdict, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{{
			Role:    "user",
			Content: BuildPrompt(description),
			Images:  []string{base64.StdEncoding.EncodeToString(image)},
		}},
		Stream:  false,
		Options: ollamaOptions{Temperature: 0.1, NumPredict: 500},
	})
	if err != nil {
		return Verdict{}, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff.Compute(backoff.PolicyExponential, c.baseBackoff, c.maxBackoff, attempt-1, c.rng)
			c.logger.Warn("classifier call failed; retrying", "provider", ProviderOllama, "attempt", attempt, "delay", delay, "err", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return Verdict{}, err
			}
			if err := acquireRetry(ctx); err != nil {
				return Verdict{}, err
			}
		}
		reply, err := c.call(ctx, body)
		if err == nil {
			return ParseVerdict(reply), nil
		}
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return Verdict{}, perm.err
		}
		lastErr = err
	}
	return Verdict{}, fmt.Errorf("%w: %d attempts: %v", ErrUnavailable, c.maxAttempts, lastErr)
}

func (c *ollamaClassifier) call(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectHeaders(ctx, req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		err := fmt.Errorf("ollama: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", err
		}
		return "", permanentError{err}
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	return strings.TrimSpace(out.Message.Content), nil
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
