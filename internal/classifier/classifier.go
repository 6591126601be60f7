package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrUnavailable means the classifier could not be reached or kept failing
// after retries. Requests hitting it end in a failed state rather than a verdict.
var ErrUnavailable = errors.New("classifier unavailable")

type Verdict struct {
	Match       bool
	Explanation string
}

type Classifier interface {
	Name() string
	Classify(ctx context.Context, image []byte, mimeType string, description string) (Verdict, error)
}

const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

type Config struct {
	Provider   string
	URL        string
	Model      string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// New builds the configured classifier wrapped with tracing and metrics.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Classifier, error) {
	var (
		c   Classifier
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOllama:
		c = NewOllamaClassifier(OllamaConfig{
			URL:        cfg.URL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, logger)
	case ProviderGemini:
		c, err = NewGeminiClassifier(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(c), nil
}
