package diff

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kenbi/internal/frame"
)

func build(stacks ...[]string) *frame.Tree {
	b := frame.NewBuilder()
	for _, s := range stacks {
		descs := make([]frame.Descriptor, len(s))
		for i, n := range s {
			descs[i] = frame.Descriptor{Name: n, Type: frame.TypeJITCompiled, Samples: 1, Weight: 10}
		}
		descs[len(descs)-1].IsTop = true
		b.Add(descs)
	}
	return b.Build()
}

func childNames(f *Frame) []string {
	var out []string
	for _, c := range f.Children {
		out = append(out, c.Name)
	}
	return out
}

func treeChildNames(n frame.Node) []string {
	var out []string
	for _, c := range n.Children() {
		out = append(out, c.Name())
	}
	return out
}

func TestGenerateClassification(t *testing.T) {
	primary := build(
		[]string{"main", "parse", "lex"},
		[]string{"main", "parse", "lex"},
		[]string{"main", "render"},
	)
	secondary := build(
		[]string{"main", "parse", "lex"},
		[]string{"main", "io"},
		[]string{"main", "io", "read"},
	)

	d := Generate(primary, secondary)
	require.NotNil(t, d)
	assert.Equal(t, KindShared, d.Kind)
	assert.Equal(t, Values{Samples: 3, Weight: 30}, d.Primary)
	assert.Equal(t, Values{Samples: 3, Weight: 30}, d.Secondary)

	main := d.Child("main")
	require.NotNil(t, main)
	assert.Equal(t, []string{"io", "parse", "render"}, childNames(main))

	parse := main.Child("parse")
	assert.Equal(t, KindShared, parse.Kind)
	assert.Equal(t, int64(2), parse.Primary.Samples)
	assert.Equal(t, int64(1), parse.Secondary.Samples)

	render := main.Child("render")
	assert.Equal(t, KindAdded, render.Kind)
	assert.Equal(t, Values{Samples: 1, Weight: 10}, render.Primary)
	assert.Zero(t, render.Secondary)
	assert.Equal(t, frame.TypeJITCompiled, render.FrameType)

	io := main.Child("io")
	assert.Equal(t, KindRemoved, io.Kind)
	assert.Zero(t, io.Primary)
	assert.Equal(t, int64(2), io.Secondary.Samples)
	read := io.Child("read")
	require.NotNil(t, read)
	assert.Equal(t, KindRemoved, read.Kind, "one-sided branches stay one-sided all the way down")
}

func TestGenerateCompleteness(t *testing.T) {
	primary := build(
		[]string{"a", "b", "c"},
		[]string{"a", "x"},
		[]string{"q"},
	)
	secondary := build(
		[]string{"a", "b", "d"},
		[]string{"a", "y", "z"},
		[]string{"r"},
	)
	d := Generate(primary, secondary)

	var check func(f *Frame, p, s frame.Node)
	check = func(f *Frame, p, s frame.Node) {
		var union []string
		if !p.IsZero() {
			union = append(union, treeChildNames(p)...)
		}
		if !s.IsZero() {
			union = append(union, treeChildNames(s)...)
		}
		slices.Sort(union)
		union = slices.Compact(union)
		require.Equal(t, union, childNames(f), "children of %q", f.Name)

		for _, c := range f.Children {
			var pc, sc frame.Node
			if !p.IsZero() {
				pc, _ = p.Child(c.Name)
			}
			if !s.IsZero() {
				sc, _ = s.Child(c.Name)
			}
			switch {
			case !pc.IsZero() && !sc.IsZero():
				assert.Equal(t, KindShared, c.Kind)
			case !pc.IsZero():
				assert.Equal(t, KindAdded, c.Kind)
			default:
				assert.Equal(t, KindRemoved, c.Kind)
			}
			check(c, pc, sc)
		}
	}
	check(d, primary.Root(), secondary.Root())
}

func TestGenerateAbsentSides(t *testing.T) {
	assert.Nil(t, Generate(nil, nil))

	only := build([]string{"a", "b"})
	added := Generate(only, nil)
	assert.Equal(t, KindAdded, added.Kind)
	assert.Equal(t, KindAdded, added.Child("a").Child("b").Kind)

	removed := Generate(nil, only)
	assert.Equal(t, KindRemoved, removed.Kind)
	assert.Equal(t, int64(1), removed.Child("a").Secondary.Samples)
}

func TestGenerateLeavesTreesUntouched(t *testing.T) {
	primary := build([]string{"a", "b"})
	secondary := build([]string{"a", "c"})
	Generate(primary, secondary)
	assert.True(t, frame.Equal(build([]string{"a", "b"}), primary))
	assert.True(t, frame.Equal(build([]string{"a", "c"}), secondary))
}

func TestExport(t *testing.T) {
	primary := build([]string{"a", "b"}, []string{"a", "b"})
	secondary := build([]string{"a", "c"})

	out := Export(Generate(primary, secondary), ExportOptions{UseWeight: true})
	assert.Equal(t, frame.RootName, out.Name)
	assert.Equal(t, int64(30), out.Value)
	assert.Equal(t, "20 vs 10", out.Label)

	require.Len(t, out.Children, 1)
	a := out.Children[0]
	require.Len(t, a.Children, 2)
	assert.Equal(t, KindAdded, a.Children[0].Type)
	assert.Equal(t, int64(20), a.Children[0].Primary)
	assert.Equal(t, int64(20), a.Children[0].Delta)
	assert.Equal(t, "20", a.Children[0].Label)
	assert.Equal(t, KindRemoved, a.Children[1].Type)
	assert.Equal(t, int64(-10), a.Children[1].Delta)

	raw, err := json.Marshal(a.Children[1])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"REMOVED"`)

	pruned := Export(Generate(build([]string{"a", "b"}, []string{"a", "b"}), build([]string{"a", "c"})), ExportOptions{MinValue: 2})
	assert.Len(t, pruned.Children[0].Children, 1)
}

func TestExportNilTree(t *testing.T) {
	out := Export(nil, ExportOptions{})
	assert.Equal(t, frame.RootName, out.Name)
	assert.Zero(t, out.Value)
	assert.Empty(t, out.Children)
	assert.Empty(t, TopChanges(nil, 10, false))
}

func TestKindText(t *testing.T) {
	for _, k := range []Kind{KindAdded, KindRemoved, KindShared} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var got Kind
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}
	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("MOVED")))
}

func TestTopChanges(t *testing.T) {
	primary := build(
		[]string{"main", "hot"},
		[]string{"main", "hot"},
		[]string{"main", "hot"},
		[]string{"main", "steady"},
	)
	secondary := build(
		[]string{"main", "steady"},
		[]string{"main", "gone"},
		[]string{"main", "gone"},
	)

	changes := TopChanges(Generate(primary, secondary), 0, false)
	require.Len(t, changes, 2)
	assert.Equal(t, []string{"main", "hot"}, changes[0].Path)
	assert.Equal(t, int64(3), changes[0].SelfDelta)
	assert.Equal(t, KindAdded, changes[0].Kind)
	assert.Equal(t, "gone", changes[1].Name())
	assert.Equal(t, int64(-2), changes[1].SelfDelta)

	assert.Len(t, TopChanges(Generate(primary2(), nil), 1, false), 1)
	assert.Empty(t, TopChanges(nil, 5, false))
}

func primary2() *frame.Tree {
	return build([]string{"a"}, []string{"b"})
}
