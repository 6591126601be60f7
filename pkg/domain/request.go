package domain

import "strings"

type ValidationRequest struct {
	ProcessingID string          `json:"processing-id"`
	ImagePath    string          `json:"image-path,omitempty"`
	Image        []byte          `json:"image,omitempty"` // base64 in JSON
	Analysis     AnalysisRequest `json:"analysis-request"`
	CallbackURL  string          `json:"callback-url,omitempty"`
}

type AnalysisRequest struct {
	Content  string              `json:"content"`
	Location *LocationConstraint `json:"location,omitempty"`
	DateTime *DateTimeConstraint `json:"datetime,omitempty"`
}

// LocationConstraint bounds the capture position. MaxDistance is in meters.
type LocationConstraint struct {
	Lat         float64 `json:"lat"`
	Long        float64 `json:"long"`
	MaxDistance float64 `json:"max_distance"`
}

// DateTimeConstraint carries exactly two of Start, End and Duration (minutes).
type DateTimeConstraint struct {
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Duration *int   `json:"duration,omitempty"`
}

func (c DateTimeConstraint) FieldCount() int {
	n := 0
	if strings.TrimSpace(c.Start) != "" {
		n++
	}
	if strings.TrimSpace(c.End) != "" {
		n++
	}
	if c.Duration != nil {
		n++
	}
	return n
}

// HasImagePath reports whether the request references its image by path rather than inline bytes.
func (r ValidationRequest) HasImagePath() bool {
	return strings.TrimSpace(r.ImagePath) != ""
}
