package domain

type Resolution string

const (
	ResolutionAccepted Resolution = "accepted"
	ResolutionRejected Resolution = "rejected"
)

type ValidationResult struct {
	Resolution Resolution `json:"resolution"`
	Reasons    []string   `json:"reasons"`
}

// NewValidationResult resolves to accepted iff no reasons were collected.
func NewValidationResult(reasons []string) ValidationResult {
	if len(reasons) == 0 {
		return ValidationResult{Resolution: ResolutionAccepted, Reasons: []string{}}
	}
	out := make([]string, len(reasons))
	copy(out, reasons)
	return ValidationResult{Resolution: ResolutionRejected, Reasons: out}
}

func (r ValidationResult) Accepted() bool { return r.Resolution == ResolutionAccepted }

func (r ValidationResult) Clone() ValidationResult {
	out := r
	out.Reasons = append([]string{}, r.Reasons...)
	return out
}
