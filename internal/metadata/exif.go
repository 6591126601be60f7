package metadata

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ortaieb/image-checker/internal/evaluators"
	"github.com/rwcarlsen/goexif/exif"
)

// exifTimeLayout is the EXIF DateTime format. EXIF carries no zone, so
// values are read as UTC.
const exifTimeLayout = "2006:01:02 15:04:05"

type exifExtractor struct {
	logger *slog.Logger
}

func NewExifExtractor(logger *slog.Logger) Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &exifExtractor{logger: logger}
}

func (e *exifExtractor) Extract(ctx context.Context, image []byte) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	x, err := exif.Decode(bytes.NewReader(image))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		if err != nil {
			e.logger.Debug("no usable exif data", "err", err)
		}
		return Metadata{}, nil
	}

	var md Metadata
	if lat, long, err := x.LatLong(); err == nil {
		md.GPS = &evaluators.Point{Lat: lat, Long: long}
	}
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTime} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		if t, ok := parseExifTime(raw); ok {
			md.CapturedAt = &t
			break
		}
	}
	return md, nil
}

func parseExifTime(raw string) (time.Time, bool) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "\x00")
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(exifTimeLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
