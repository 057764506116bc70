package mcp

import (
	"fmt"
	"math"
	"strings"

	"github.com/ashita-ai/kenbi/internal/guardian"
	"github.com/ashita-ai/kenbi/internal/model"
	"github.com/ashita-ai/kenbi/internal/service/analysis"
)

const maxCompactExplanation = 300

// compactProfile returns the fields of a profile an agent picks recordings by.
func compactProfile(p model.ProfileInfo) map[string]any {
	m := map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"source":      p.EventSource,
		"event_types": p.EventTypes,
		"created_at":  p.CreatedAt,
	}
	if p.Project != "" {
		m["project"] = p.Project
	}
	if p.GarbageCollector != "" && p.GarbageCollector != model.GCUnknown {
		m["gc"] = p.GarbageCollector
	}
	if !p.StartedAt.IsZero() {
		m["started_at"] = p.StartedAt
	}
	return m
}

// compactGuardian groups guardian results for an agent: findings carry
// their explanation, rules that could not run are listed by name only.
func compactGuardian(r analysis.GuardianReport, includeOK bool) map[string]any {
	var findings []map[string]any
	var notApplicable, passed []string
	for _, res := range r.Results {
		switch res.Severity {
		case guardian.SeverityWarning, guardian.SeverityInfo:
			findings = append(findings, compactFinding(res))
		case guardian.SeverityOK:
			passed = append(passed, res.Rule)
		default:
			notApplicable = append(notApplicable, res.Rule)
		}
	}

	m := map[string]any{
		"profile_id": r.ProfileID,
		"summary":    guardianSummary(r.Results),
		"findings":   findings,
	}
	if len(notApplicable) > 0 {
		m["not_applicable"] = notApplicable
	}
	if includeOK {
		m["ok"] = passed
	}
	return m
}

func compactFinding(r guardian.ExportResult) map[string]any {
	m := map[string]any{
		"rule":      r.Rule,
		"category":  r.Category,
		"severity":  r.Severity,
		"summary":   r.Summary,
		"score":     math.Round(r.Score*100) / 100,
		"threshold": r.Threshold,
	}
	if r.Explanation != "" {
		m["explanation"] = truncate(r.Explanation, maxCompactExplanation)
	}
	if r.Solution != "" {
		m["solution"] = r.Solution
	}
	return m
}

// guardianSummary renders one sentence per severity with findings, most
// severe first, e.g. "1 warning: G1 Garbage Collection (40.0%). 14 rules passed."
func guardianSummary(results []guardian.ExportResult) string {
	var warnings, infos []string
	passed := 0
	for _, r := range results {
		switch r.Severity {
		case guardian.SeverityWarning:
			warnings = append(warnings, fmt.Sprintf("%s (%.1f%%)", r.Rule, r.Score))
		case guardian.SeverityInfo:
			infos = append(infos, fmt.Sprintf("%s (%.1f%%)", r.Rule, r.Score))
		case guardian.SeverityOK:
			passed++
		}
	}

	var parts []string
	if len(warnings) > 0 {
		parts = append(parts, fmt.Sprintf("%d %s: %s.", len(warnings), plural(len(warnings), "warning"), strings.Join(warnings, ", ")))
	}
	if len(infos) > 0 {
		parts = append(parts, fmt.Sprintf("%d informational: %s.", len(infos), strings.Join(infos, ", ")))
	}
	if len(parts) == 0 {
		parts = append(parts, "No problems found.")
	}
	parts = append(parts, fmt.Sprintf("%d %s passed.", passed, plural(passed, "rule")))
	return strings.Join(parts, " ")
}

// compactDiff drops the tree and keeps the totals and the largest changes.
func compactDiff(d analysis.Diff) map[string]any {
	changes := make([]map[string]any, len(d.Changes))
	for i, c := range d.Changes {
		changes[i] = map[string]any{
			"frame":      c.Name(),
			"path":       compactPath(c.Path),
			"kind":       c.Kind,
			"primary":    c.Primary,
			"secondary":  c.Secondary,
			"self_delta": c.SelfDelta,
		}
	}
	return map[string]any{
		"event_type": d.EventType,
		"primary":    d.Root.Primary,
		"secondary":  d.Root.Secondary,
		"delta":      d.Root.Delta,
		"changes":    changes,
	}
}

// compactPath keeps the first and the last frames of long paths.
func compactPath(path []string) string {
	const keep = 3
	if len(path) <= 2*keep {
		return strings.Join(path, " > ")
	}
	head := strings.Join(path[:keep], " > ")
	tail := strings.Join(path[len(path)-keep:], " > ")
	return fmt.Sprintf("%s > ... (%d frames) > %s", head, len(path)-2*keep, tail)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
