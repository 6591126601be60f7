package evaluators

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ortaieb/image-checker/pkg/domain"
)

func intPtr(v int) *int { return &v }

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestResolveWindowStartDuration(t *testing.T) {
	w, err := ResolveWindow(domain.DateTimeConstraint{Start: "2025-08-01T15:23:00+01:00", Duration: intPtr(10)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !w.Start.Equal(mustParse(t, "2025-08-01T15:23:00+01:00")) {
		t.Fatalf("start = %v", w.Start)
	}
	if !w.End.Equal(mustParse(t, "2025-08-01T15:33:00+01:00")) {
		t.Fatalf("end = %v", w.End)
	}
	if !w.Contains(mustParse(t, "2025-08-01T15:25:00+01:00")) {
		t.Fatal("15:25 should be inside")
	}
	if w.Contains(mustParse(t, "2025-08-01T15:40:00+01:00")) {
		t.Fatal("15:40 should be outside")
	}
}

func TestResolveWindowEndDuration(t *testing.T) {
	w, err := ResolveWindow(domain.DateTimeConstraint{End: "2025-08-01T12:00:00Z", Duration: intPtr(30)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !w.Start.Equal(mustParse(t, "2025-08-01T11:30:00Z")) || !w.End.Equal(mustParse(t, "2025-08-01T12:00:00Z")) {
		t.Fatalf("window = %v", w)
	}
}

func TestResolveWindowStartEnd(t *testing.T) {
	w, err := ResolveWindow(domain.DateTimeConstraint{Start: "2025-08-01T10:00:00Z", End: "2025-08-01T11:00:00Z"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if w.End.Sub(w.Start) != time.Hour {
		t.Fatalf("window = %v", w)
	}
}

func TestResolveWindowRejectsMalformed(t *testing.T) {
	limit := maxDurationMinutes
	tests := []struct {
		name string
		c    domain.DateTimeConstraint
	}{
		{"one field", domain.DateTimeConstraint{Start: "2025-08-01T10:00:00Z"}},
		{"three fields", domain.DateTimeConstraint{Start: "2025-08-01T10:00:00Z", End: "2025-08-01T11:00:00Z", Duration: intPtr(5)}},
		{"end before start", domain.DateTimeConstraint{Start: "2025-08-01T11:00:00Z", End: "2025-08-01T10:00:00Z"}},
		{"end equals start", domain.DateTimeConstraint{Start: "2025-08-01T11:00:00Z", End: "2025-08-01T11:00:00Z"}},
		{"zero duration", domain.DateTimeConstraint{Start: "2025-08-01T11:00:00Z", Duration: intPtr(0)}},
		{"negative duration", domain.DateTimeConstraint{End: "2025-08-01T11:00:00Z", Duration: intPtr(-5)}},
		{"garbage start", domain.DateTimeConstraint{Start: "yesterday", Duration: intPtr(5)}},
		{"duration overflows", domain.DateTimeConstraint{Start: "2025-08-01T11:00:00Z", Duration: intPtr(math.MaxInt)}},
		{"duration just past limit", domain.DateTimeConstraint{End: "2025-08-01T11:00:00Z", Duration: intPtr(int(limit) + 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveWindow(tt.c)
			if !errors.Is(err, ErrInvalidConstraint) {
				t.Fatalf("expected ErrInvalidConstraint, got %v", err)
			}
		})
	}
}

func TestParseTimestampLegacyOffset(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-08-01T15:23:00Z+1", "2025-08-01T15:23:00+01:00"},
		{"2025-08-01T15:23:00Z-3", "2025-08-01T15:23:00-03:00"},
		{"2025-08-01T15:23:00Z+05:30", "2025-08-01T15:23:00+05:30"},
		{"2025-08-01T15:23:00Z", "2025-08-01T15:23:00Z"},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", tt.in, err)
		}
		if !got.Equal(mustParse(t, tt.want)) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseTimestamp("2025-08-01T15:23:00Z+99"); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestWindowContainsIsInclusive(t *testing.T) {
	start := mustParse(t, "2025-08-01T10:00:00Z")
	end := mustParse(t, "2025-08-01T10:10:00Z")
	w := Window{Start: start, End: end}
	if !w.Contains(start) || !w.Contains(end) {
		t.Fatal("bounds must be included")
	}
	if w.Contains(start.Add(-time.Nanosecond)) || w.Contains(end.Add(time.Nanosecond)) {
		t.Fatal("instants beyond bounds must be excluded")
	}
}

func TestWindowOffset(t *testing.T) {
	w := Window{Start: mustParse(t, "2025-08-01T10:00:00Z"), End: mustParse(t, "2025-08-01T10:10:00Z")}

	if m, before := w.Offset(mustParse(t, "2025-08-01T09:45:00Z")); m != 15 || !before {
		t.Fatalf("before: got %d %v", m, before)
	}
	if m, before := w.Offset(mustParse(t, "2025-08-01T10:17:30Z")); m != 8 || before {
		t.Fatalf("after: got %d %v", m, before)
	}
	if m, _ := w.Offset(mustParse(t, "2025-08-01T10:05:00Z")); m != 0 {
		t.Fatalf("inside: got %d", m)
	}
	if m, before := w.Offset(mustParse(t, "2025-08-01T10:10:30Z")); m != 1 || before {
		t.Fatalf("30s after: got %d %v", m, before)
	}
	if m, before := w.Offset(mustParse(t, "2025-08-01T09:59:59Z")); m != 1 || !before {
		t.Fatalf("1s before: got %d %v", m, before)
	}
}

func TestWindowString(t *testing.T) {
	w := Window{Start: mustParse(t, "2025-08-01T15:23:00+01:00"), End: mustParse(t, "2025-08-01T15:33:00+01:00")}
	want := "2025-08-01 15:23:00 +0100 to 2025-08-01 15:33:00 +0100"
	if got := w.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
