package frame

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stack returns the descriptors of one record walking names root to leaf.
func stack(samples, weight int64, names ...string) []Descriptor {
	descs := make([]Descriptor, len(names))
	for i, n := range names {
		descs[i] = Descriptor{Name: n, Type: TypeJITCompiled, Samples: samples, Weight: weight}
	}
	descs[len(descs)-1].IsTop = true
	return descs
}

func build(stacks ...[]Descriptor) *Tree {
	b := NewBuilder()
	for _, s := range stacks {
		b.Add(s)
	}
	return b.Build()
}

func mustChild(t *testing.T, n Node, path ...string) Node {
	t.Helper()
	for _, name := range path {
		c, ok := n.Child(name)
		require.True(t, ok, "missing child %q under %q", name, n.Name())
		n = c
	}
	return n
}

func TestBuildSharedPrefix(t *testing.T) {
	tree := build(
		stack(1, 0, "A", "B", "C"),
		stack(1, 0, "A", "B", "D"),
	)

	root := tree.Root()
	assert.Equal(t, int64(2), root.TotalSamples())
	a := mustChild(t, root, "A")
	assert.Equal(t, int64(2), a.TotalSamples())
	b := mustChild(t, a, "B")
	assert.Equal(t, int64(2), b.TotalSamples())
	require.Equal(t, 2, b.NumChildren())
	assert.Equal(t, "C", b.ChildAt(0).Name())
	assert.Equal(t, "D", b.ChildAt(1).Name())
	assert.Equal(t, int64(1), b.ChildAt(0).TotalSamples())
	assert.Equal(t, int64(1), b.ChildAt(1).TotalSamples())

	assert.False(t, b.IsSelf())
	assert.True(t, b.ChildAt(0).IsSelf())
	assert.Equal(t, int64(1), b.ChildAt(1).SelfSamples())
}

func TestBuildAccumulatesWeightAndMultiplicity(t *testing.T) {
	tree := build(
		stack(3, 300, "main", "alloc"),
		stack(2, 50, "main"),
	)
	main := mustChild(t, tree.Root(), "main")
	assert.Equal(t, int64(5), main.TotalSamples())
	assert.Equal(t, int64(350), main.TotalWeight())
	assert.Equal(t, int64(2), main.SelfSamples())
	assert.Equal(t, int64(50), main.SelfWeight())
	assert.Equal(t, int64(350), tree.Root().TotalWeight())
	assert.Equal(t, int64(3), mustChild(t, main, "alloc").SelfSamples())
}

func TestBuildSkipsEmptyStacks(t *testing.T) {
	b := NewBuilder()
	b.Add(stack(1, 1, "A"))
	b.Add(nil)
	b.Add([]Descriptor{})
	tree := b.Build()

	assert.Equal(t, int64(1), tree.Root().TotalSamples())
	assert.Equal(t, int64(1), tree.Root().TotalWeight())
	assert.Equal(t, 2, tree.Len())
}

func TestBuilderCannotBeReused(t *testing.T) {
	b := NewBuilder()
	b.Add(stack(1, 0, "A"))
	b.Build()
	assert.Panics(t, func() { b.Add(stack(1, 0, "A")) })
	assert.Panics(t, func() { b.Build() })
}

func TestChildrenAreOrderedAndUnique(t *testing.T) {
	tree := build(
		stack(1, 0, "root", "zeta"),
		stack(1, 0, "root", "alpha"),
		stack(1, 0, "root", "mu"),
		stack(1, 0, "root", "alpha"),
	)
	root := mustChild(t, tree.Root(), "root")
	var names []string
	for _, c := range root.Children() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, names)
	assert.Equal(t, int64(2), mustChild(t, root, "alpha").TotalSamples())
}

func TestParentLookup(t *testing.T) {
	tree := build(stack(1, 0, "A", "B", "C"))
	c := mustChild(t, tree.Root(), "A", "B", "C")

	p, ok := c.Parent()
	require.True(t, ok)
	assert.Equal(t, "B", p.Name())
	assert.Equal(t, "B", c.ParentName())
	assert.Equal(t, 3, c.Depth())
	assert.Equal(t, []string{"A", "B", "C"}, c.Path())

	_, ok = tree.Root().Parent()
	assert.False(t, ok)
	assert.Equal(t, "", mustChild(t, tree.Root(), "A").ParentName())
}

func TestDominantTypeIsOrderIndependent(t *testing.T) {
	jit := []Descriptor{{Name: "m", Type: TypeJITCompiled, Samples: 1, IsTop: true}}
	interp := []Descriptor{{Name: "m", Type: TypeInterpreted, Samples: 3, IsTop: true}}

	a := build(jit, interp)
	b := build(interp, jit)
	assert.True(t, Equal(a, b))
	m := mustChild(t, a.Root(), "m")
	assert.Equal(t, TypeInterpreted, m.Type())
	assert.Equal(t, int64(1), m.SamplesByType(TypeJITCompiled))
	assert.Equal(t, int64(3), m.SamplesByType(TypeInterpreted))
}

func partitionA() *Tree {
	return build(
		stack(1, 10, "A", "B", "C"),
		stack(2, 20, "A", "X"),
	)
}

func partitionB() *Tree {
	return build(
		stack(1, 5, "A", "B", "D"),
		stack(4, 40, "A", "B", "C"),
		stack(1, 1, "Z"),
	)
}

func TestMergeAdditivity(t *testing.T) {
	merged := Merge(partitionA(), partitionB())

	assert.Equal(t, int64(9), merged.Root().TotalSamples())
	assert.Equal(t, int64(76), merged.Root().TotalWeight())
	a := mustChild(t, merged.Root(), "A")
	assert.Equal(t, int64(8), a.TotalSamples())
	assert.Equal(t, int64(75), a.TotalWeight())
	c := mustChild(t, a, "B", "C")
	assert.Equal(t, int64(5), c.TotalSamples())
	assert.Equal(t, int64(50), c.TotalWeight())
	assert.Equal(t, int64(5), c.SelfSamples())
	assert.Equal(t, int64(2), mustChild(t, a, "X").TotalSamples())
	assert.Equal(t, int64(1), mustChild(t, a, "B", "D").TotalSamples())
	assert.Equal(t, int64(1), mustChild(t, merged.Root(), "Z").TotalSamples())

	x := mustChild(t, a, "X")
	assert.Equal(t, "A", x.ParentName(), "re-homed subtree keeps its parent relation")
}

func TestMergeCommutative(t *testing.T) {
	ab := Merge(partitionA(), partitionB())
	ba := Merge(partitionB(), partitionA())
	assert.True(t, Equal(ab, ba))
}

func TestMergeEqualsSequentialBuild(t *testing.T) {
	sequential := build(
		stack(1, 10, "A", "B", "C"),
		stack(2, 20, "A", "X"),
		stack(1, 5, "A", "B", "D"),
		stack(4, 40, "A", "B", "C"),
		stack(1, 1, "Z"),
	)
	assert.True(t, Equal(sequential, Merge(partitionA(), partitionB())))
}

func TestMergeIdentity(t *testing.T) {
	a := partitionA()
	assert.Same(t, a, Merge(a, nil))
	assert.Same(t, a, Merge(nil, a))

	empty := NewBuilder().Build()
	got := Merge(empty, a)
	assert.Same(t, a, got)
	assert.True(t, Equal(partitionA(), got), "merging an empty tree leaves the other unchanged")
}

func TestMergeConsumesOperands(t *testing.T) {
	small := build(stack(1, 0, "A"))
	large := partitionB()

	got := Merge(small, large)
	assert.Same(t, large, got)
	assert.Panics(t, func() { small.Root() })
	assert.Panics(t, func() { Merge(got, small) })
	assert.Panics(t, func() { Merge(got, got) })
}

func TestMergeAll(t *testing.T) {
	var parts []*Tree
	var want []*Tree
	for i := range 7 {
		s := stack(int64(i+1), int64(10*i), "main", fmt.Sprintf("worker-%d", i%3), "task")
		parts = append(parts, build(s))
		want = append(want, build(s))
	}
	parts = append(parts, nil)

	got := MergeAll(parts)
	sequential := want[0]
	for _, w := range want[1:] {
		sequential = Merge(sequential, w)
	}
	assert.True(t, Equal(sequential, got))
	assert.Equal(t, int64(28), got.Root().TotalSamples())
}

func TestMergeAllEdgeCases(t *testing.T) {
	assert.True(t, MergeAll(nil).Empty())

	one := partitionA()
	assert.Same(t, one, MergeAll([]*Tree{one}))

	dup := partitionA()
	assert.Panics(t, func() { MergeAll([]*Tree{dup, dup}) })
}

func TestWalkSkipsSubtrees(t *testing.T) {
	tree := build(
		stack(1, 0, "A", "B", "C"),
		stack(1, 0, "D"),
	)
	var seen []string
	tree.Walk(func(n Node, depth int) bool {
		if n.IsRoot() {
			return true
		}
		seen = append(seen, fmt.Sprintf("%d:%s", depth, n.Name()))
		return n.Name() != "A"
	})
	assert.Equal(t, []string{"1:A", "1:D"}, seen)
}

func TestExport(t *testing.T) {
	tree := build(
		stack(3, 3000, "A", "B"),
		stack(1, 1000, "A", "C"),
	)
	out := Export(tree, ExportOptions{
		UseWeight: true,
		Formatter: func(v int64) string { return fmt.Sprintf("%d B", v) },
		MinValue:  2000,
	})

	assert.Equal(t, RootName, out.Name)
	assert.Equal(t, int64(4000), out.Value)
	assert.Equal(t, "4000 B", out.Label)
	require.Len(t, out.Children, 1)
	a := out.Children[0]
	assert.Equal(t, "A", a.Name)
	assert.Equal(t, "JIT_COMPILED", a.FrameType)
	assert.InDelta(t, 100.0, a.Percent, 1e-9)
	require.Len(t, a.Children, 1, "C is pruned below MinValue")
	assert.Equal(t, "B", a.Children[0].Name)
	assert.Equal(t, int64(3000), a.Children[0].Self)
	assert.InDelta(t, 75.0, a.Children[0].Percent, 1e-9)
}

func TestExportMaxDepthAndTypeBreakdown(t *testing.T) {
	tree := build(
		[]Descriptor{{Name: "m", Type: TypeJITCompiled, Samples: 2}, {Name: "leaf", Type: TypeNative, Samples: 2, IsTop: true}},
		[]Descriptor{{Name: "m", Type: TypeInterpreted, Samples: 1, IsTop: true}},
	)
	out := Export(tree, ExportOptions{MaxDepth: 1})
	require.Len(t, out.Children, 1)
	m := out.Children[0]
	assert.Empty(t, m.Children)
	assert.Equal(t, "3", m.Label)
	assert.Equal(t, map[string]int64{"JIT_COMPILED": 2, "INTERPRETED": 1}, m.TypeSamples)
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	tests := []struct {
		code string
		want Type
	}{
		{"JIT compiled", TypeJITCompiled},
		{"JIT_COMPILED", TypeJITCompiled},
		{"C1 compiled", TypeC1Compiled},
		{"Inlined", TypeInlined},
		{"Interpreted", TypeInterpreted},
		{"Native", TypeNative},
		{"C++", TypeCPP},
		{"cpp", TypeCPP},
		{"Kernel", TypeKernel},
		{"kernel frame", TypeKernel},
		{"LAMBDA_SYNTHETIC", TypeLambdaSynthetic},
		{"bogus", TypeUnknown},
		{"", TypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.Resolve(tt.code))
		})
	}
	assert.Len(t, reg.Types(), int(numTypes))
}

func TestTypePredicates(t *testing.T) {
	assert.True(t, TypeInlined.IsJava())
	assert.False(t, TypeCPP.IsJava())
	assert.True(t, TypeLambdaSynthetic.IsSynthetic())
	assert.False(t, TypeKernel.IsSynthetic())
	assert.Equal(t, "C++", TypeCPP.Title())
	assert.Equal(t, "Type(200)", Type(200).String())
}
