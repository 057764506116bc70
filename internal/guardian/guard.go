package guardian

import (
	"bytes"
	"fmt"
	"slices"
	"text/template"

	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/model"
)

// MatchPolicy selects the traversal built from a guard's matcher.
type MatchPolicy uint8

const (
	// FirstMatch stops at the first matching frame (SingleMatch).
	FirstMatch MatchPolicy = iota
	// AllMatches collects every matching subtree (CollectAll).
	AllMatches
)

// ResultPolicy selects what a guard sums.
type ResultPolicy uint8

const (
	ResultSamples ResultPolicy = iota
	ResultWeight
)

// Preconditions gate a guard on what is known about the profile. Zero
// fields impose no requirement.
type Preconditions struct {
	EventSource       model.EventSource
	GarbageCollectors []model.GarbageCollector
	EventKinds        []model.RecordKind
	DebugSymbols      bool
}

// Check reports whether info satisfies the preconditions, and why not.
func (p Preconditions) Check(info model.ProfileInfo) (bool, string) {
	if p.EventSource != "" && info.EventSource != p.EventSource {
		return false, fmt.Sprintf("requires event source %s, recording has %s", p.EventSource, info.EventSource)
	}
	if len(p.GarbageCollectors) > 0 && !slices.Contains(p.GarbageCollectors, info.GarbageCollector) {
		return false, fmt.Sprintf("requires garbage collector %v, recording uses %s", p.GarbageCollectors, info.GarbageCollector)
	}
	for _, k := range p.EventKinds {
		if !info.HasKind(k) {
			return false, fmt.Sprintf("requires %s events", k)
		}
	}
	if p.DebugSymbols && !info.DebugSymbols {
		return false, "requires JVM debug symbols"
	}
	return true, ""
}

// Guard is a declarative rule. The evaluator is shared by every guard; a
// guard only supplies data.
type Guard struct {
	Name     string
	Category Category
	// Tree is the kind of tree the guard runs on.
	Tree model.RecordKind
	// TargetTypes restricts matching to frames of these types. Traversals
	// still pass through frames of other types.
	TargetTypes []frame.Type
	Matcher     Matcher
	MatchPolicy MatchPolicy
	// Traversal, when set, replaces the traversal derived from MatchPolicy.
	// It receives the matcher already restricted to TargetTypes.
	Traversal     func(m Matcher) Traversable
	ResultPolicy  ResultPolicy
	Threshold     float64
	Informational bool
	Preconditions Preconditions
	// Summary, Explanation and Solution are text/template sources rendered
	// with TemplateData.
	Summary     string
	Explanation string
	Solution    string
}

// TemplateData is the data guard texts are rendered with.
type TemplateData struct {
	Rule             string
	Observed         int64
	Total            int64
	ObservedLabel    string
	TotalLabel       string
	Percent          float64
	ThresholdPercent float64
	Matches          int
	Reason           string
}

type compiled struct {
	Guard
	summary     *template.Template
	explanation *template.Template
	solution    *template.Template
}

func compile(g Guard) (*compiled, error) {
	if g.Name == "" {
		return nil, fmt.Errorf("guardian: guard without a name")
	}
	if g.Matcher == nil && g.Traversal == nil {
		return nil, fmt.Errorf("guardian: guard %q: no matcher or traversal", g.Name)
	}
	if g.Threshold < 0 || g.Threshold > 1 {
		return nil, fmt.Errorf("guardian: guard %q: threshold %v outside [0, 1]", g.Name, g.Threshold)
	}
	c := &compiled{Guard: g}
	var err error
	if c.summary, err = parse(g.Name, "summary", g.Summary); err != nil {
		return nil, err
	}
	if c.explanation, err = parse(g.Name, "explanation", g.Explanation); err != nil {
		return nil, err
	}
	if c.solution, err = parse(g.Name, "solution", g.Solution); err != nil {
		return nil, err
	}
	return c, nil
}

func parse(rule, part, src string) (*template.Template, error) {
	t, err := template.New(rule + "/" + part).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("guardian: guard %q: parse %s: %w", rule, part, err)
	}
	return t, nil
}

func (c *compiled) traversal() Traversable {
	m := c.Matcher
	if len(c.TargetTypes) > 0 && m != nil {
		m = And(OfType(c.TargetTypes...), m)
	}
	if c.Traversal != nil {
		return c.Traversal(m)
	}
	if c.MatchPolicy == AllMatches {
		return CollectAll(m)
	}
	return SingleMatch(m)
}

func (c *compiled) useWeight() bool {
	return c.ResultPolicy == ResultWeight
}

// evaluate runs the guard. The tree is only read.
func (c *compiled) evaluate(in Input, minSamples int64) Result {
	res := Result{Rule: c.Name, Category: c.Category, Threshold: c.Threshold}
	data := TemplateData{Rule: c.Name, ThresholdPercent: c.Threshold * 100}

	if ok, reason := c.Preconditions.Check(in.Info); !ok {
		res.Severity = SeverityNotApplicable
		res.Summary = reason
		return res
	}
	tree := in.Trees[c.Tree]
	if tree == nil {
		res.Severity = SeverityNotApplicable
		res.Summary = fmt.Sprintf("no %s samples in the recording", c.Tree)
		return res
	}

	root := tree.Root()
	res.Total = root.Value(c.useWeight())
	if res.Total == 0 || root.TotalSamples() < minSamples {
		res.Severity = SeverityIgnore
		res.Summary = fmt.Sprintf("not enough samples (%d) to evaluate", root.TotalSamples())
		return res
	}

	selected := Walk(tree, c.traversal(), 0)
	for _, n := range selected {
		res.Observed += n.Value(c.useWeight())
	}
	res.Matches = len(selected)
	res.Ratio = float64(res.Observed) / float64(res.Total)

	switch {
	case res.Ratio <= c.Threshold:
		res.Severity = SeverityOK
	case c.Informational:
		res.Severity = SeverityInfo
	default:
		res.Severity = SeverityWarning
	}

	format := model.FormatterFor(c.Tree, c.useWeight())
	data.Observed, data.Total = res.Observed, res.Total
	data.ObservedLabel, data.TotalLabel = format(res.Observed), format(res.Total)
	data.Percent = res.Ratio * 100
	data.Matches = res.Matches
	res.Summary = render(c.summary, data)
	if res.Severity != SeverityOK {
		res.Explanation = render(c.explanation, data)
		res.Solution = render(c.solution, data)
	}
	return res
}

func render(t *template.Template, data TemplateData) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fmt.Sprintf("%s: %v", t.Name(), err)
	}
	return buf.String()
}
