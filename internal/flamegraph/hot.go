package flamegraph

import (
	"cmp"
	"slices"

	"github.com/ashita-ai/kenbi/internal/frame"
)

// HotFrame is a frame name with the self value summed over every position
// it occupies in the tree.
type HotFrame struct {
	Name      string  `json:"name"`
	FrameType string  `json:"frame_type"`
	Self      int64   `json:"self"`
	Percent   float64 `json:"percent"`
}

// TopFrames returns the n frames with the largest self value, largest first.
// Ties are ordered by name. n <= 0 returns every frame with self value.
func TopFrames(t *frame.Tree, n int, useWeight bool) []HotFrame {
	type acc struct {
		typ  frame.Type
		self int64
	}
	byName := make(map[string]*acc)
	t.Walk(func(node frame.Node, _ int) bool {
		if node.IsRoot() {
			return true
		}
		v := node.SelfValue(useWeight)
		if v == 0 {
			return true
		}
		a, ok := byName[node.Name()]
		if !ok {
			a = &acc{typ: node.Type()}
			byName[node.Name()] = a
		}
		a.self += v
		return true
	})

	total := t.Root().Value(useWeight)
	out := make([]HotFrame, 0, len(byName))
	for name, a := range byName {
		hf := HotFrame{Name: name, FrameType: a.typ.String(), Self: a.self}
		if total > 0 {
			hf.Percent = float64(a.self) * 100 / float64(total)
		}
		out = append(out, hf)
	}
	slices.SortFunc(out, func(a, b HotFrame) int {
		if c := cmp.Compare(b.Self, a.Self); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
