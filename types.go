package kenbi

import (
	"github.com/google/uuid"
)

// Severity of a guardian finding.
type Severity string

const (
	SeverityWarning       Severity = "WARNING"
	SeverityInfo          Severity = "INFO"
	SeverityNotApplicable Severity = "NOT_APPLICABLE"
	SeverityIgnore        Severity = "IGNORE"
	SeverityOK            Severity = "OK"
)

// Finding is the public representation of one guardian rule result.
// No internal package imports; safe to use from outside the module.
type Finding struct {
	Rule      string   `json:"rule"`
	Category  string   `json:"category"`
	Severity  Severity `json:"severity"`
	Summary   string   `json:"summary"`
	Solution  string   `json:"solution,omitempty"`
	Observed  int64    `json:"observed"`
	Total     int64    `json:"total"`
	Ratio     float64  `json:"ratio"`
	Threshold float64  `json:"threshold"`
}

// GuardianRun is one evaluation of the rule library over a profile,
// findings ordered most actionable first.
type GuardianRun struct {
	ID        uuid.UUID `json:"id"`
	ProfileID uuid.UUID `json:"profile_id"`
	Findings  []Finding `json:"findings"`
}

// Warnings returns the findings with severity WARNING.
func (r GuardianRun) Warnings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityWarning {
			out = append(out, f)
		}
	}
	return out
}
