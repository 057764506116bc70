package guardian

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/model"
)

type stack struct {
	samples int64
	weight  int64
	frames  []frame.Descriptor
}

func f(name string, typ frame.Type) frame.Descriptor {
	return frame.Descriptor{Name: name, Type: typ}
}

func java(name string) frame.Descriptor { return f(name, frame.TypeJITCompiled) }
func cpp(name string) frame.Descriptor  { return f(name, frame.TypeCPP) }

func build(stacks ...stack) *frame.Tree {
	b := frame.NewBuilder()
	for _, s := range stacks {
		descs := make([]frame.Descriptor, len(s.frames))
		copy(descs, s.frames)
		for i := range descs {
			descs[i].Samples = s.samples
			descs[i].Weight = s.weight
		}
		descs[len(descs)-1].IsTop = true
		b.Add(descs)
	}
	return b.Build()
}

func execInput(info model.ProfileInfo, tree *frame.Tree) Input {
	return Input{Info: info, Trees: map[model.RecordKind]*frame.Tree{model.KindExecution: tree}}
}

func hotGuard(threshold float64) Guard {
	return Guard{
		Name:        "Hot",
		Category:    CategoryApplication,
		Tree:        model.KindExecution,
		Matcher:     Exact("hot"),
		MatchPolicy: AllMatches,
		Threshold:   threshold,
		Summary:     `{{.Rule}} {{.Observed}}/{{.Total}} {{printf "%.1f" .Percent}}%`,
		Explanation: `over {{printf "%.1f" .ThresholdPercent}}%`,
		Solution:    `fix {{.Matches}}`,
	}
}

func runOne(t *testing.T, g Guard, in Input, minSamples int64) Result {
	t.Helper()
	p, err := NewProvider([]Guard{g}, minSamples)
	require.NoError(t, err)
	results := p.Run(in)
	require.Len(t, results, 1)
	return results[0]
}

func TestThresholdBoundary(t *testing.T) {
	tests := []struct {
		observed int64
		want     Severity
	}{
		{10, SeverityOK},
		{11, SeverityWarning},
		{0, SeverityOK},
	}
	for _, tt := range tests {
		tree := build(
			stack{samples: tt.observed, frames: []frame.Descriptor{java("main"), java("hot")}},
			stack{samples: 100 - tt.observed, frames: []frame.Descriptor{java("main"), java("cold")}},
		)
		res := runOne(t, hotGuard(0.10), execInput(model.ProfileInfo{}, tree), 0)
		assert.Equal(t, tt.want, res.Severity, "observed=%d", tt.observed)
		assert.Equal(t, tt.observed, res.Observed)
		assert.Equal(t, int64(100), res.Total)
		assert.InDelta(t, float64(tt.observed)/100, res.Ratio, 1e-12)
	}
}

func TestRenderedTexts(t *testing.T) {
	tree := build(
		stack{samples: 11, frames: []frame.Descriptor{java("main"), java("hot")}},
		stack{samples: 89, frames: []frame.Descriptor{java("main"), java("cold")}},
	)
	res := runOne(t, hotGuard(0.10), execInput(model.ProfileInfo{}, tree), 0)
	assert.Equal(t, "Hot 11/100 11.0%", res.Summary)
	assert.Equal(t, "over 10.0%", res.Explanation)
	assert.Equal(t, "fix 1", res.Solution)

	ok := runOne(t, hotGuard(0.5), execInput(model.ProfileInfo{}, build(
		stack{samples: 11, frames: []frame.Descriptor{java("main"), java("hot")}},
		stack{samples: 89, frames: []frame.Descriptor{java("main"), java("cold")}},
	)), 0)
	assert.Equal(t, SeverityOK, ok.Severity)
	assert.Empty(t, ok.Explanation, "OK results carry only the summary")
}

func TestPreconditionGating(t *testing.T) {
	g := hotGuard(0.0)
	g.Preconditions = Preconditions{GarbageCollectors: []model.GarbageCollector{model.GCZ}}
	tree := build(stack{samples: 50, frames: []frame.Descriptor{java("hot")}})

	res := runOne(t, g, execInput(model.ProfileInfo{GarbageCollector: model.GCG1}, tree), 0)
	assert.Equal(t, SeverityNotApplicable, res.Severity)
	assert.Equal(t, "Hot", res.Rule)
	assert.Equal(t, CategoryApplication, res.Category)
	assert.Zero(t, res.Ratio)
	assert.Zero(t, res.Observed)
	assert.Zero(t, res.Total)
	assert.Contains(t, res.Summary, "ZGC")

	res = runOne(t, g, execInput(model.ProfileInfo{GarbageCollector: model.GCZ}, tree), 0)
	assert.Equal(t, SeverityWarning, res.Severity)
}

func TestPreconditionsCheck(t *testing.T) {
	info := model.ProfileInfo{
		EventSource:      model.SourceAsyncProfiler,
		GarbageCollector: model.GCG1,
		EventTypes:       []model.EventType{model.EventExecutionSample},
	}
	tests := []struct {
		name string
		p    Preconditions
		want bool
	}{
		{"none", Preconditions{}, true},
		{"source match", Preconditions{EventSource: model.SourceAsyncProfiler}, true},
		{"source mismatch", Preconditions{EventSource: model.SourceJDK}, false},
		{"gc any of", Preconditions{GarbageCollectors: []model.GarbageCollector{model.GCParallel, model.GCG1}}, true},
		{"kind present", Preconditions{EventKinds: []model.RecordKind{model.KindExecution}}, true},
		{"kind missing", Preconditions{EventKinds: []model.RecordKind{model.KindAllocation}}, false},
		{"debug symbols", Preconditions{DebugSymbols: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := tt.p.Check(info)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.want, reason == "")
		})
	}
}

func TestIgnoreAndMissingTree(t *testing.T) {
	empty := emptyInput()
	res := runOne(t, hotGuard(0.1), empty, 0)
	assert.Equal(t, SeverityNotApplicable, res.Severity, "no execution tree at all")

	res = runOne(t, hotGuard(0.1), execInput(model.ProfileInfo{}, frame.NewBuilder().Build()), 0)
	assert.Equal(t, SeverityIgnore, res.Severity, "empty tree")

	small := build(stack{samples: 5, frames: []frame.Descriptor{java("hot")}})
	res = runOne(t, hotGuard(0.1), execInput(model.ProfileInfo{}, small), 10)
	assert.Equal(t, SeverityIgnore, res.Severity, "below min samples")
}

func emptyInput() Input {
	return Input{Trees: map[model.RecordKind]*frame.Tree{}}
}

func TestInformationalGuard(t *testing.T) {
	g := hotGuard(0.1)
	g.Informational = true
	tree := build(stack{samples: 1, frames: []frame.Descriptor{java("hot")}})
	res := runOne(t, g, execInput(model.ProfileInfo{}, tree), 0)
	assert.Equal(t, SeverityInfo, res.Severity)
}

func TestTargetTypesRestrictMatching(t *testing.T) {
	g := hotGuard(0.1)
	g.TargetTypes = []frame.Type{frame.TypeCPP}
	tree := build(
		stack{samples: 5, frames: []frame.Descriptor{java("main"), java("hot")}},
		stack{samples: 5, frames: []frame.Descriptor{cpp("vm"), cpp("hot")}},
	)
	res := runOne(t, g, execInput(model.ProfileInfo{}, tree), 0)
	assert.Equal(t, int64(5), res.Observed, "only the C++ frame named hot counts")
}

func TestWeightPolicy(t *testing.T) {
	g := hotGuard(0.5)
	g.Tree = model.KindAllocation
	g.ResultPolicy = ResultWeight
	g.Summary = `{{.ObservedLabel}} of {{.TotalLabel}}`
	tree := build(
		stack{samples: 1, weight: 3 << 20, frames: []frame.Descriptor{java("hot")}},
		stack{samples: 9, weight: 1 << 20, frames: []frame.Descriptor{java("cold")}},
	)
	in := Input{Trees: map[model.RecordKind]*frame.Tree{model.KindAllocation: tree}}
	res := runOne(t, g, in, 0)
	assert.Equal(t, SeverityWarning, res.Severity)
	assert.InDelta(t, 0.75, res.Ratio, 1e-12)
	assert.Equal(t, "3.0 MiB of 4.0 MiB", res.Summary)
}

func TestMatchers(t *testing.T) {
	tree := build(stack{samples: 1, frames: []frame.Descriptor{
		java("java.util.HashMap#putVal"),
		java("java.util.HashMap$TreeNode#putTreeVal"),
	}})
	parent, _ := tree.Root().Child("java.util.HashMap#putVal")
	node, _ := parent.Child("java.util.HashMap$TreeNode#putTreeVal")

	assert.True(t, Exact("java.util.HashMap$TreeNode#putTreeVal")(node))
	assert.True(t, Prefix("java.util.HashMap$")(node))
	assert.True(t, Suffix("#putTreeVal")(node))
	assert.True(t, Contains("TreeNode")(node))
	assert.True(t, Named("java.util.HashMap$TreeNode#putTreeVal", "java.util.HashMap#putVal")(node))
	assert.True(t, Named("java.util.HashMap$TreeNode#putTreeVal", "")(node))
	assert.False(t, Named("java.util.HashMap$TreeNode#putTreeVal", "java.util.HashMap#get")(node))
	assert.False(t, Named("java.util.HashMap#putVal", "anything")(parent), "children of the root have no parent name")
	assert.True(t, OfType(frame.TypeCPP, frame.TypeJITCompiled)(node))
	assert.False(t, OfType(frame.TypeKernel)(node))
	assert.True(t, And(Prefix("java."), Suffix("Val"))(node))
	assert.False(t, And(Prefix("java."), Suffix("nope"))(node))
	assert.True(t, Or(Exact("x"), Contains("TreeNode"))(node))
	assert.True(t, Not(Exact("x"))(node))
	assert.True(t, AnyPrefix("x", "java.util")(node))
	assert.True(t, AnyOf("x", "java.util.HashMap#putVal")(parent))
}

func traversalTree() *frame.Tree {
	return build(
		stack{samples: 4, frames: []frame.Descriptor{cpp("start_thread"), cpp("thread_native_entry"), cpp("Thread::call_run"), cpp("VMThread::run"), cpp("VM_Operation::evaluate")}},
		stack{samples: 3, frames: []frame.Descriptor{cpp("start_thread"), cpp("thread_native_entry"), cpp("Thread::call_run"), cpp("G1ConcurrentRefineThread::run_service"), cpp("G1RemSet::refine")}},
		stack{samples: 2, frames: []frame.Descriptor{java("main"), java("work"), cpp("G1BarrierSetRuntime::write_ref_field_post_entry")}},
		stack{samples: 1, frames: []frame.Descriptor{java("main"), java("G1lookalike")}},
	)
}

func TestSingleMatchStopsAtFirstBreadthFirst(t *testing.T) {
	tr := SingleMatch(Prefix("G1"))
	selected := Walk(traversalTree(), tr, 0)
	require.Len(t, selected, 1)
	assert.Equal(t, "G1lookalike", selected[0].Name(), "shallowest match wins")
	assert.Equal(t, Done, tr.Next())
	assert.Nil(t, tr.Traverse(traversalTree().Root()), "done traversals are no-ops")
}

func TestCollectAllDoesNotDescendIntoMatches(t *testing.T) {
	tr := CollectAll(Prefix("G1"))
	selected := Walk(traversalTree(), tr, 0)
	var names []string
	var total int64
	for _, n := range selected {
		names = append(names, n.Name())
		total += n.TotalSamples()
	}
	assert.ElementsMatch(t, []string{
		"G1lookalike",
		"G1ConcurrentRefineThread::run_service",
		"G1BarrierSetRuntime::write_ref_field_post_entry",
	}, names, "G1RemSet::refine sits under a match and is not collected again")
	assert.Equal(t, int64(6), total)
	assert.Equal(t, Continue, tr.Next())
}

func TestWalkMaxDepth(t *testing.T) {
	selected := Walk(traversalTree(), CollectAll(Prefix("G1")), 2)
	require.Len(t, selected, 1)
	assert.Equal(t, "G1lookalike", selected[0].Name())
}

func TestNamedHop(t *testing.T) {
	path := []string{"start_thread", "thread_native_entry", "Thread::call_run"}

	sel := Walk(traversalTree(), NamedHop(path, Exact("VMThread::run")), 0)
	require.Len(t, sel, 1)
	assert.Equal(t, "VMThread::run", sel[0].Name())
	assert.Equal(t, int64(4), sel[0].TotalSamples())

	sel = Walk(traversalTree(), NamedHop(path, nil), 0)
	require.Len(t, sel, 1)
	assert.Equal(t, "Thread::call_run", sel[0].Name())
	assert.Equal(t, int64(7), sel[0].TotalSamples())

	assert.Empty(t, Walk(traversalTree(), NamedHop([]string{"start_thread", "missing"}, nil), 0))
	assert.Empty(t, Walk(traversalTree(), NamedHop(path, Exact("nope")), 0))
}

func asyncProfilerInfo(gc model.GarbageCollector) model.ProfileInfo {
	return model.ProfileInfo{
		EventSource:      model.SourceAsyncProfiler,
		GarbageCollector: gc,
		EventTypes:       []model.EventType{model.EventExecutionSample, model.EventObjectAllocationInNewTLAB},
	}
}

func defaultInput() Input {
	exec := build(
		stack{samples: 40, frames: []frame.Descriptor{cpp("start_thread"), cpp("thread_native_entry"), cpp("Thread::call_run"), cpp("G1ConcurrentRefineThread::run_service")}},
		stack{samples: 10, frames: []frame.Descriptor{cpp("start_thread"), cpp("thread_native_entry"), cpp("Thread::call_run"), cpp("VMThread::run")}},
		stack{samples: 30, frames: []frame.Descriptor{java("java.lang.Thread#run"), java("com.acme.Handler#serve")}},
		stack{samples: 15, frames: []frame.Descriptor{java("java.lang.Thread#run"), java("java.lang.Throwable#<init>"), java("java.lang.Throwable#fillInStackTrace")}},
		stack{samples: 5, frames: []frame.Descriptor{java("java.lang.Thread#run"), f("do_syscall_64", frame.TypeKernel)}},
	)
	alloc := build(
		stack{samples: 1, weight: 900, frames: []frame.Descriptor{java("com.acme.Handler#serve"), java("java.lang.Integer#valueOf")}},
		stack{samples: 1, weight: 100, frames: []frame.Descriptor{java("com.acme.Handler#serve"), java("byte[]")}},
	)
	return Input{
		Info: asyncProfilerInfo(model.GCG1),
		Trees: map[model.RecordKind]*frame.Tree{
			model.KindExecution:  exec,
			model.KindAllocation: alloc,
		},
	}
}

func TestDefaultGuards(t *testing.T) {
	p, err := NewProvider(DefaultGuards(), 0)
	require.NoError(t, err)
	results := p.Run(defaultInput())
	require.Len(t, results, len(DefaultGuards()))

	byRule := make(map[string]Result, len(results))
	for _, r := range results {
		byRule[r.Rule] = r
	}
	assert.Equal(t, SeverityWarning, byRule["G1 Garbage Collection"].Severity)
	assert.Equal(t, int64(40), byRule["G1 Garbage Collection"].Observed)
	assert.Equal(t, SeverityNotApplicable, byRule["ZGC Garbage Collection"].Severity)
	assert.Equal(t, SeverityNotApplicable, byRule["Serial Garbage Collection"].Severity)
	assert.Equal(t, SeverityWarning, byRule["VM Operations"].Severity)
	assert.Equal(t, int64(10), byRule["VM Operations"].Observed)
	assert.Equal(t, SeverityWarning, byRule["Exceptions"].Severity)
	assert.Equal(t, SeverityOK, byRule["Kernel Time"].Severity)
	assert.Equal(t, SeverityOK, byRule["JIT Compilation"].Severity)
	assert.Equal(t, SeverityWarning, byRule["Boxing Allocation"].Severity)
	assert.Contains(t, byRule["Boxing Allocation"].Summary, "900 B")

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Severity, results[i].Severity, "results are ordered by severity priority")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	p, err := NewProvider(DefaultGuards(), 0)
	require.NoError(t, err)
	in := defaultInput()
	first := p.Run(in)
	second := p.Run(in)
	assert.Equal(t, first, second)
}

func TestSortResultsKeepsRegistrationOrderWithinSeverity(t *testing.T) {
	results := []Result{
		{Rule: "a", Severity: SeverityOK},
		{Rule: "b", Severity: SeverityWarning},
		{Rule: "c", Severity: SeverityNotApplicable},
		{Rule: "d", Severity: SeverityWarning},
		{Rule: "e", Severity: SeverityInfo},
		{Rule: "f", Severity: SeverityIgnore},
	}
	SortResults(results)
	var order []string
	for _, r := range results {
		order = append(order, r.Rule)
	}
	assert.Equal(t, []string{"b", "d", "e", "c", "f", "a"}, order)
	assert.Equal(t, map[Severity]int{
		SeverityWarning: 2, SeverityInfo: 1, SeverityNotApplicable: 1, SeverityIgnore: 1, SeverityOK: 1,
	}, Count(results))
}

func TestSeverityText(t *testing.T) {
	assert.Equal(t, "NOT_APPLICABLE", SeverityNotApplicable.String())
	s, err := ParseSeverity("warning")
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, s)
	_, err = ParseSeverity("fatal")
	assert.Error(t, err)
	assert.Equal(t, "Severity(9)", Severity(9).String())
}

func TestNewProviderValidates(t *testing.T) {
	_, err := NewProvider([]Guard{hotGuard(0.1), hotGuard(0.2)}, 0)
	assert.ErrorContains(t, err, "duplicate")

	bad := hotGuard(0.1)
	bad.Summary = "{{.Nope"
	_, err = NewProvider([]Guard{bad}, 0)
	assert.ErrorContains(t, err, "parse summary")

	noMatcher := hotGuard(0.1)
	noMatcher.Matcher = nil
	_, err = NewProvider([]Guard{noMatcher}, 0)
	assert.Error(t, err)

	outOfRange := hotGuard(1.5)
	_, err = NewProvider([]Guard{outOfRange}, 0)
	assert.Error(t, err)
}

func TestNeedsKinds(t *testing.T) {
	p, err := NewProvider(DefaultGuards(), 0)
	require.NoError(t, err)
	assert.Equal(t, []model.RecordKind{model.KindExecution, model.KindAllocation}, p.NeedsKinds(asyncProfilerInfo(model.GCG1)))
	assert.Equal(t, []model.RecordKind{model.KindExecution}, p.NeedsKinds(model.ProfileInfo{EventSource: model.SourceJDK}))
}

func TestFingerprintTracksRuleConfig(t *testing.T) {
	fp := func(guards []Guard, minSamples int64) string {
		t.Helper()
		p, err := NewProvider(guards, minSamples)
		require.NoError(t, err)
		return p.Fingerprint()
	}
	base := fp(DefaultGuards(), 0)
	assert.NotEmpty(t, base)
	assert.Equal(t, base, fp(DefaultGuards(), 0))

	assert.NotEqual(t, base, fp(DefaultGuards(), 100), "sample minimum")

	th := 0.9
	raised, err := ApplyOverrides(DefaultGuards(), Overrides{Rules: map[string]RuleOverride{
		"G1 Garbage Collection": {Threshold: &th},
	}})
	require.NoError(t, err)
	assert.NotEqual(t, base, fp(raised, 0), "threshold")

	disabled, err := ApplyOverrides(DefaultGuards(), Overrides{Rules: map[string]RuleOverride{
		"Log4j Logging": {Disabled: true},
	}})
	require.NoError(t, err)
	assert.NotEqual(t, base, fp(disabled, 0), "disabled rule")

	quiet := DefaultGuards()
	quiet[0].Informational = !quiet[0].Informational
	assert.NotEqual(t, base, fp(quiet, 0), "informational flag")
}

func TestOverrides(t *testing.T) {
	ov, err := LoadOverrides(strings.NewReader(`
rules:
  "G1 Garbage Collection":
    threshold: 0.5
  "Log4j Logging":
    disabled: true
`))
	require.NoError(t, err)

	guards, err := ApplyOverrides(DefaultGuards(), ov)
	require.NoError(t, err)
	assert.Len(t, guards, len(DefaultGuards())-1)
	for _, g := range guards {
		assert.NotEqual(t, "Log4j Logging", g.Name)
		if g.Name == "G1 Garbage Collection" {
			assert.InDelta(t, 0.5, g.Threshold, 1e-12)
		}
	}

	p, err := NewProvider(guards, 0)
	require.NoError(t, err)
	for _, r := range p.Run(defaultInput()) {
		if r.Rule == "G1 Garbage Collection" {
			assert.Equal(t, SeverityOK, r.Severity, "40% is below the raised threshold")
		}
	}
	assert.Len(t, DefaultGuards(), len(guards)+1, "defaults are not modified")
}

func TestOverridesErrors(t *testing.T) {
	_, err := LoadOverrides(strings.NewReader("rules:\n  x:\n    threshold: 2\n"))
	assert.ErrorContains(t, err, "outside")

	_, err = LoadOverrides(strings.NewReader("rulez: {}\n"))
	assert.Error(t, err)

	empty, err := LoadOverrides(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.Rules)

	_, err = ApplyOverrides(DefaultGuards(), Overrides{Rules: map[string]RuleOverride{"Nope": {Disabled: true}}})
	assert.ErrorContains(t, err, "unknown guard")
}

func TestExport(t *testing.T) {
	out := Export([]Result{{
		Rule: "Hot", Category: CategoryApplication, Severity: SeverityWarning,
		Observed: 11, Total: 100, Ratio: 0.11, Threshold: 0.1, Summary: "s",
	}})
	require.Len(t, out, 1)
	assert.InDelta(t, 11.0, out[0].Score, 1e-9)
	assert.InDelta(t, 10.0, out[0].Threshold, 1e-9)
	assert.Equal(t, SeverityWarning, out[0].Severity)
}
