package guardian

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/model"
)

// Input is what guards are evaluated against. Trees are keyed by the kind of
// records they were built from and are only read.
type Input struct {
	Info  model.ProfileInfo
	Trees map[model.RecordKind]*frame.Tree
}

// Provider evaluates a fixed list of guards.
type Provider struct {
	guards      []*compiled
	minSamples  int64
	fingerprint string
}

// NewProvider compiles the guards. Trees with fewer than minSamples samples
// yield IGNORE for every guard that reaches evaluation.
func NewProvider(guards []Guard, minSamples int64) (*Provider, error) {
	p := &Provider{guards: make([]*compiled, 0, len(guards)), minSamples: minSamples}
	seen := make(map[string]struct{}, len(guards))
	for _, g := range guards {
		if _, dup := seen[g.Name]; dup {
			return nil, fmt.Errorf("guardian: duplicate guard %q", g.Name)
		}
		seen[g.Name] = struct{}{}
		c, err := compile(g)
		if err != nil {
			return nil, err
		}
		p.guards = append(p.guards, c)
	}
	p.fingerprint = fingerprint(guards, minSamples)
	return p, nil
}

// Fingerprint identifies the rule configuration: the registered guards in
// order, their thresholds, severities and texts, and the sample minimum.
// Results computed under different fingerprints are not interchangeable.
func (p *Provider) Fingerprint() string {
	return p.fingerprint
}

func fingerprint(guards []Guard, minSamples int64) string {
	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	write(strconv.FormatInt(minSamples, 10))
	for _, g := range guards {
		write(g.Name)
		write(strconv.FormatFloat(g.Threshold, 'g', -1, 64))
		write(strconv.FormatBool(g.Informational))
		write(g.Summary)
		write(g.Explanation)
		write(g.Solution)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Guards returns the names of the registered guards in registration order.
func (p *Provider) Guards() []string {
	out := make([]string, len(p.guards))
	for i, g := range p.guards {
		out[i] = g.Name
	}
	return out
}

// NeedsKinds returns the tree kinds the applicable guards would read for info.
func (p *Provider) NeedsKinds(info model.ProfileInfo) []model.RecordKind {
	var kinds []model.RecordKind
	for _, g := range p.guards {
		if ok, _ := g.Preconditions.Check(info); ok && !slices.Contains(kinds, g.Tree) {
			kinds = append(kinds, g.Tree)
		}
	}
	slices.Sort(kinds)
	return kinds
}

// Run evaluates every guard concurrently and returns the results ordered by
// severity priority, ties in registration order. Running twice over the same
// input yields identical results.
func (p *Provider) Run(in Input) []Result {
	results := make([]Result, len(p.guards))
	var eg errgroup.Group
	for i, g := range p.guards {
		eg.Go(func() error {
			results[i] = g.evaluate(in, p.minSamples)
			return nil
		})
	}
	_ = eg.Wait()
	SortResults(results)
	return results
}

// SortResults orders results by severity priority, WARNING first. The sort
// is stable.
func SortResults(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		return cmp.Compare(a.Severity, b.Severity)
	})
}

// Count returns the number of results per severity.
func Count(results []Result) map[Severity]int {
	out := make(map[Severity]int)
	for _, r := range results {
		out[r.Severity]++
	}
	return out
}
