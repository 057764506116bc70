// Package guardian runs a library of structural rules ("guards") over call
// trees to detect known JVM performance problems.
//
// A guard locates the frames it cares about with matchers and a traversal
// strategy, sums their samples or weight, and compares the share of the whole
// tree against a threshold. Results are ordered most actionable first.
package guardian

import (
	"fmt"
	"strings"
)

// Severity of a guard result. The numeric order is the presentation order:
// WARNING first, OK last.
type Severity int

const (
	SeverityWarning       Severity = 1
	SeverityInfo          Severity = 2
	SeverityNotApplicable Severity = 3
	SeverityIgnore        Severity = 4
	SeverityOK            Severity = 5
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityInfo:
		return "INFO"
	case SeverityNotApplicable:
		return "NOT_APPLICABLE"
	case SeverityIgnore:
		return "IGNORE"
	case SeverityOK:
		return "OK"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSeverity parses a severity name.
func ParseSeverity(name string) (Severity, error) {
	for s := SeverityWarning; s <= SeverityOK; s++ {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("guardian: unknown severity %q", name)
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Category groups guards in reports.
type Category string

const (
	CategoryGarbageCollection Category = "Garbage Collection"
	CategoryJIT               Category = "JIT Compilation"
	CategoryVirtualMachine    Category = "Virtual Machine"
	CategoryApplication       Category = "Application"
	CategoryAllocation        Category = "Allocation"
)

// Result is the outcome of one guard.
type Result struct {
	Rule      string
	Category  Category
	Severity  Severity
	Observed  int64
	Total     int64
	Ratio     float64
	Threshold float64
	// Matches is the number of subtrees the guard selected.
	Matches     int
	Summary     string
	Explanation string
	Solution    string
}

// ExportResult is the serialized form of a Result.
type ExportResult struct {
	Rule        string   `json:"rule"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Summary     string   `json:"summary"`
	Explanation string   `json:"explanation,omitempty"`
	Solution    string   `json:"solution,omitempty"`
	// Score is the observed share of the tree in percent.
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Observed  int64   `json:"observed"`
	Total     int64   `json:"total"`
}

// Export maps results into their serialized form, keeping their order.
func Export(results []Result) []ExportResult {
	out := make([]ExportResult, len(results))
	for i, r := range results {
		out[i] = ExportResult{
			Rule:        r.Rule,
			Category:    r.Category,
			Severity:    r.Severity,
			Summary:     r.Summary,
			Explanation: r.Explanation,
			Solution:    r.Solution,
			Score:       r.Ratio * 100,
			Threshold:   r.Threshold * 100,
			Observed:    r.Observed,
			Total:       r.Total,
		}
	}
	return out
}
