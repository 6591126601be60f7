package bench

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/ortaieb/image-checker/internal/classifier"
	"github.com/ortaieb/image-checker/internal/evaluators"
	"github.com/ortaieb/image-checker/internal/metadata"
	"github.com/ortaieb/image-checker/pkg/app"
	"github.com/ortaieb/image-checker/pkg/config"
	"github.com/ortaieb/image-checker/pkg/domain"
)

var benchJPEG = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0xff, 0xd9}

type matchAll struct{}

func (matchAll) Name() string { return "bench" }

func (matchAll) Classify(ctx context.Context, image []byte, mimeType, description string) (classifier.Verdict, error) {
	return classifier.Verdict{Match: true}, nil
}

type fixedMetadata struct{ md metadata.Metadata }

func (f fixedMetadata) Extract(ctx context.Context, image []byte) (metadata.Metadata, error) {
	return f.md, nil
}

func newBenchApp(b *testing.B) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)

	dir := b.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bench.jpg"), benchJPEG, 0o644); err != nil {
		b.Fatalf("write image: %v", err)
	}

	cfg := &config.Config{
		Env:                      "dev",
		LogLevel:                 "error",
		LogFormat:                "json",
		RedisAddr:                mr.Addr(),
		ImageBaseDir:             dir,
		MaxImageBytes:            1 << 20,
		ProcessingTimeoutMinutes: 1,
		QueueSize:                1 << 16,
		Workers:                  4,
		CleanupIntervalSeconds:   300,

		// Benchmarks keep rate limiting disabled.
		RateLimit: config.RateLimitConfig{},
	}

	captured := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a, err := app.NewApplication(context.Background(), cfg,
		app.WithClassifier(matchAll{}),
		app.WithExtractor(fixedMetadata{md: metadata.Metadata{
			GPS:        &evaluators.Point{Lat: 48.8584, Long: 2.2945},
			CapturedAt: &captured,
		}}),
	)
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	b.Cleanup(func() {
		sctx, c := context.WithTimeout(context.Background(), 30*time.Second)
		defer c()
		_ = a.Shutdown(sctx)
		cancel()
	})
	return a
}

func doJSONRequest(b *testing.B, h http.Handler, method, path string, body []byte) (int, []byte) {
	b.Helper()

	var rbody *bytes.Reader
	if body == nil {
		rbody = bytes.NewReader([]byte{})
	} else {
		rbody = bytes.NewReader(body)
	}

	req := httptest.NewRequest(method, path, rbody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func benchRequest(id string) domain.ValidationRequest {
	return domain.ValidationRequest{
		ProcessingID: id,
		ImagePath:    "bench.jpg",
		Analysis: domain.AnalysisRequest{
			Content:  "the eiffel tower",
			Location: &domain.LocationConstraint{Lat: 48.8584, Long: 2.2945, MaxDistance: 500},
			DateTime: &domain.DateTimeConstraint{Start: "2025-06-01T11:00:00Z", End: "2025-06-01T13:00:00Z"},
		},
	}
}

func waitTerminal(b *testing.B, a *app.Application, id string) {
	b.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := a.Results.Get(context.Background(), id)
		if err == nil && rec.State.Terminal() {
			return
		}
		time.Sleep(100 * time.Microsecond)
	}
	b.Fatalf("record %s did not finish", id)
}

func BenchmarkHTTP_SubmitStatusResult(b *testing.B) {
	a := newBenchApp(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("http-%d", i)
		body := []byte(fmt.Sprintf(`{"processing-id":%q,"image-path":"bench.jpg","analysis-request":{"content":"the eiffel tower","location":{"lat":48.8584,"long":2.2945,"max_distance":500}}}`, id))
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/validate", body)
		if status != http.StatusAccepted {
			b.Fatalf("submit status %d body=%s", status, string(resp))
		}

		waitTerminal(b, a, id)

		status, resp = doJSONRequest(b, a.Engine, http.MethodGet, "/results/"+id, nil)
		if status != http.StatusOK {
			b.Fatalf("results status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkAdmission_SubmitAndFinish(b *testing.B) {
	a := newBenchApp(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("svc-%d", i)
		if _, err := a.Admission.Submit(ctx, benchRequest(id)); err != nil {
			b.Fatalf("Submit: %v", err)
		}
		waitTerminal(b, a, id)
	}
}
