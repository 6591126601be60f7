package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ortaieb/image-checker/internal/classifier"
	"github.com/ortaieb/image-checker/internal/evaluators"
	"github.com/ortaieb/image-checker/internal/metadata"
	"github.com/ortaieb/image-checker/internal/metrics"
	"github.com/ortaieb/image-checker/internal/providers"
	"github.com/ortaieb/image-checker/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const ReasonCannotLocateImage = "cannot locate image"

// Acquirer gates classifier calls, retries included. *ratelimit.Throttle satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

type ValidationService interface {
	Evaluate(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error)
}

type validationService struct {
	images     providers.ImageSource
	extractor  metadata.Extractor
	classifier classifier.Classifier
	throttle   Acquirer
	logger     *slog.Logger
}

func NewValidationService(images providers.ImageSource, extractor metadata.Extractor, cls classifier.Classifier, throttle Acquirer, logger *slog.Logger) ValidationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &validationService{
		images:     images,
		extractor:  extractor,
		classifier: cls,
		throttle:   throttle,
		logger:     logger,
	}
}

// checkOutcome is what one check contributes: a rejection reason, or "" when it passed.
type checkOutcome struct {
	ran    bool
	reason string
}

func (s *validationService) Evaluate(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
	ctx, span := otel.Tracer("image-checker/validation").Start(ctx, "image_checker.evaluate",
		trace.WithAttributes(
			attribute.String("image_checker.processing_id", req.ProcessingID),
			attribute.Bool("image_checker.location", req.Analysis.Location != nil),
			attribute.Bool("image_checker.datetime", req.Analysis.DateTime != nil),
		),
	)
	defer span.End()

	img, err := s.images.Load(ctx, req)
	if err != nil {
		if errors.Is(err, providers.ErrImageNotFound) {
			s.logger.Info("image not located", "processing_id", req.ProcessingID, "err", err)
			span.SetAttributes(attribute.String("image_checker.resolution", string(domain.ResolutionRejected)))
			return domain.NewValidationResult([]string{ReasonCannotLocateImage}), nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ValidationResult{}, err
	}

	var content, location, datetime checkOutcome
	g, gctx := errgroup.WithContext(ctx)
	meta := sync.OnceValues(func() (metadata.Metadata, error) {
		return s.extractor.Extract(gctx, img.Data)
	})

	if req.Analysis.Content != "" {
		g.Go(func() error {
			out, err := s.checkContent(gctx, img, req.Analysis.Content)
			content = out
			return err
		})
	}
	if loc := req.Analysis.Location; loc != nil {
		g.Go(func() error {
			md, err := meta()
			if err != nil {
				return err
			}
			location = checkLocation(md, *loc)
			return nil
		})
	}
	if dt := req.Analysis.DateTime; dt != nil {
		g.Go(func() error {
			w, err := evaluators.ResolveWindow(*dt)
			if err != nil {
				return err
			}
			md, err := meta()
			if err != nil {
				return err
			}
			datetime = checkDateTime(md, w)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ValidationResult{}, err
	}

	var reasons []string
	for _, c := range []struct {
		name string
		out  checkOutcome
	}{{"content", content}, {"location", location}, {"datetime", datetime}} {
		switch {
		case !c.out.ran:
			continue
		case c.out.reason != "":
			reasons = append(reasons, c.out.reason)
			metrics.CheckOutcomesTotal.WithLabelValues(c.name, "rejected").Inc()
		default:
			metrics.CheckOutcomesTotal.WithLabelValues(c.name, "passed").Inc()
		}
	}
	res := domain.NewValidationResult(reasons)
	span.SetAttributes(attribute.String("image_checker.resolution", string(res.Resolution)))
	return res, nil
}

func (s *validationService) checkContent(ctx context.Context, img *providers.Image, description string) (checkOutcome, error) {
	if s.throttle != nil {
		if err := s.throttle.Acquire(ctx); err != nil {
			return checkOutcome{}, err
		}
		ctx = classifier.WithRetryGate(ctx, s.throttle)
	}
	v, err := s.classifier.Classify(ctx, img.Data, img.MIMEType, description)
	if err != nil {
		if errors.Is(err, classifier.ErrUnavailable) || ctx.Err() != nil {
			return checkOutcome{}, err
		}
		return checkOutcome{ran: true, reason: fmt.Sprintf("content check failed: %v", err)}, nil
	}
	if !v.Match {
		if v.Explanation != "" {
			s.logger.Debug("content mismatch", "description", description, "explanation", v.Explanation)
		}
		return checkOutcome{ran: true, reason: fmt.Sprintf("image content does not match description: %q", description)}, nil
	}
	return checkOutcome{ran: true}, nil
}

func checkLocation(md metadata.Metadata, c domain.LocationConstraint) checkOutcome {
	if md.GPS == nil {
		return checkOutcome{ran: true, reason: "no location metadata found"}
	}
	got := *md.GPS
	if !got.Valid() {
		return checkOutcome{ran: true, reason: fmt.Sprintf("invalid location metadata: latitude %.6f, longitude %.6f", got.Lat, got.Long)}
	}
	want := evaluators.Point{Lat: c.Lat, Long: c.Long}
	d := evaluators.Haversine(got, want)
	if d > c.MaxDistance {
		return checkOutcome{ran: true, reason: fmt.Sprintf("image location %s is %s from expected location %s, exceeding %s limit",
			got, evaluators.FormatDistance(d), want, evaluators.FormatDistance(c.MaxDistance))}
	}
	return checkOutcome{ran: true}
}

func checkDateTime(md metadata.Metadata, w evaluators.Window) checkOutcome {
	if md.CapturedAt == nil {
		return checkOutcome{ran: true, reason: fmt.Sprintf("no capture time metadata found; expected a capture time within %s", w)}
	}
	at := *md.CapturedAt
	if w.Contains(at) {
		return checkOutcome{ran: true}
	}
	minutes, before := w.Offset(at)
	side := "after allowed end time"
	if before {
		side = "before allowed start time"
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return checkOutcome{ran: true, reason: fmt.Sprintf("image timestamp %s is %d %s %s, outside allowed time range %s",
		at.Format(evaluators.TimestampLayout), minutes, unit, side, w)}
}
