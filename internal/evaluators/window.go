package evaluators

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ortaieb/image-checker/pkg/domain"
)

var (
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrInvalidConstraint = errors.New("invalid datetime constraint")
)

// TimestampLayout is used when timestamps appear in rejection reasons.
const TimestampLayout = "2006-01-02 15:04:05 -0700"

// legacyOffset matches the "...Z+1" / "...Z-03:30" suffix some clients send instead of an RFC 3339 offset.
var legacyOffset = regexp.MustCompile(`^(.+?)Z([+-])(\d{1,2})(?::?(\d{2}))?$`)

// Window is a closed time interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within [Start, End], bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s to %s", w.Start.Format(TimestampLayout), w.End.Format(TimestampLayout))
}

// Offset describes how far t sits outside the window in minutes, rounded up
// so any point outside is at least 1. It returns 0, false when t is inside.
func (w Window) Offset(t time.Time) (minutes int64, before bool) {
	switch {
	case t.Before(w.Start):
		return ceilMinutes(w.Start.Sub(t)), true
	case t.After(w.End):
		return ceilMinutes(t.Sub(w.End)), false
	default:
		return 0, false
	}
}

func ceilMinutes(d time.Duration) int64 {
	m := int64(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}

// maxDurationMinutes is the largest duration that still fits a time.Duration.
const maxDurationMinutes = math.MaxInt64 / int64(time.Minute)

// ParseTimestamp accepts RFC 3339 and the legacy "Z±H[:MM]" offset suffix.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	m := legacyOffset.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	hours, _ := strconv.Atoi(m[3])
	mins := 0
	if m[4] != "" {
		mins, _ = strconv.Atoi(m[4])
	}
	if hours > 23 || mins > 59 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	t, err := time.Parse(time.RFC3339, fmt.Sprintf("%s%s%02d:%02d", m[1], m[2], hours, mins))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t, nil
}

// ResolveWindow turns a constraint carrying exactly two of start, end and
// duration into a closed interval.
func ResolveWindow(c domain.DateTimeConstraint) (Window, error) {
	if n := c.FieldCount(); n != 2 {
		return Window{}, fmt.Errorf("%w: exactly two of start, end and duration are required, got %d", ErrInvalidConstraint, n)
	}
	var duration time.Duration
	if c.Duration != nil {
		if *c.Duration <= 0 {
			return Window{}, fmt.Errorf("%w: duration must be positive", ErrInvalidConstraint)
		}
		if int64(*c.Duration) > maxDurationMinutes {
			return Window{}, fmt.Errorf("%w: duration must not exceed %d minutes", ErrInvalidConstraint, maxDurationMinutes)
		}
		duration = time.Duration(*c.Duration) * time.Minute
	}

	var start, end time.Time
	var err error
	if strings.TrimSpace(c.Start) != "" {
		if start, err = ParseTimestamp(c.Start); err != nil {
			return Window{}, fmt.Errorf("%w: start: %w", ErrInvalidConstraint, err)
		}
	}
	if strings.TrimSpace(c.End) != "" {
		if end, err = ParseTimestamp(c.End); err != nil {
			return Window{}, fmt.Errorf("%w: end: %w", ErrInvalidConstraint, err)
		}
	}

	switch {
	case c.Duration == nil:
		if !end.After(start) {
			return Window{}, fmt.Errorf("%w: end must be after start", ErrInvalidConstraint)
		}
	case start.IsZero():
		start = end.Add(-duration)
	default:
		end = start.Add(duration)
	}
	if !end.After(start) {
		return Window{}, fmt.Errorf("%w: resolved window is empty", ErrInvalidConstraint)
	}
	return Window{Start: start, End: end}, nil
}
