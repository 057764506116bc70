package frame

import (
	"slices"

	"golang.org/x/sync/errgroup"
)

// Merge combines two partial trees and returns the single owned result.
//
// Both operands are consumed: the larger one is mutated and returned, the other
// has its arena released and panics on further use. Counters of nodes present
// on both sides are summed; subtrees present on one side only are re-homed
// into the result. A nil operand is the identity, so is an empty tree.
// Merge is not reentrant: operands must not overlap with any concurrent merge.
func Merge(a, b *Tree) *Tree {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a == b:
		panic("frame: merge of a tree with itself")
	}
	a.mustLive()
	b.mustLive()

	dst, src := a, b
	if len(src.nodes) > len(dst.nodes) {
		dst, src = src, dst
	}
	dst.mergeNode(RootID, src, RootID)
	src.release()
	return dst
}

func (t *Tree) mergeNode(dstID ID, src *Tree, srcID ID) {
	s := &src.nodes[srcID]
	d := &t.nodes[dstID]
	d.totalSamples += s.totalSamples
	d.totalWeight += s.totalWeight
	d.selfSamples += s.selfSamples
	d.selfWeight += s.selfWeight
	d.self = d.self || s.self
	for i := range d.typeSamples {
		d.typeSamples[i] += s.typeSamples[i]
	}
	d.typ = d.dominantType()

	for _, sc := range s.children {
		name := src.nodes[sc].name
		i, found := t.findChild(dstID, name)
		if found {
			t.mergeNode(t.nodes[dstID].children[i], src, sc)
			continue
		}
		id := t.copySubtree(dstID, src, sc)
		p := &t.nodes[dstID]
		p.children = slices.Insert(p.children, i, id)
	}
}

// copySubtree appends src's subtree rooted at srcID to t's arena under parent
// and returns the new subtree root. The caller links it into parent.
func (t *Tree) copySubtree(parent ID, src *Tree, srcID ID) ID {
	n := src.nodes[srcID]
	kids := n.children
	n.parent = parent
	n.children = make([]ID, 0, len(kids))

	id := ID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	for _, k := range kids {
		c := t.copySubtree(id, src, k)
		t.nodes[id].children = append(t.nodes[id].children, c)
	}
	return id
}

// MergeAll reduces partial trees with a balanced pairwise reduction. Each level
// merges disjoint pairs concurrently. The operands are consumed. The result is
// the same regardless of the order of trees; with no trees an empty tree is
// returned.
func MergeAll(trees []*Tree) *Tree {
	level := make([]*Tree, 0, len(trees))
	seen := make(map[*Tree]struct{}, len(trees))
	for _, t := range trees {
		if t == nil {
			continue
		}
		if _, dup := seen[t]; dup {
			panic("frame: MergeAll operands overlap")
		}
		seen[t] = struct{}{}
		level = append(level, t)
	}
	if len(level) == 0 {
		return NewBuilder().Build()
	}

	for len(level) > 1 {
		next := make([]*Tree, (len(level)+1)/2)
		var g errgroup.Group
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next[i/2] = level[i]
				continue
			}
			g.Go(func() error {
				next[i/2] = Merge(level[i], level[i+1])
				return nil
			})
		}
		_ = g.Wait()
		level = next
	}
	return level[0]
}

// Equal reports whether two trees have the same shape and the same counters
// at every node.
func Equal(a, b *Tree) bool {
	if a == nil || b == nil {
		return a == b
	}
	return equalNode(a.Root(), b.Root())
}

func equalNode(a, b Node) bool {
	x, y := a.get(), b.get()
	if x.name != y.name || x.typ != y.typ || x.self != y.self ||
		x.totalSamples != y.totalSamples || x.totalWeight != y.totalWeight ||
		x.selfSamples != y.selfSamples || x.selfWeight != y.selfWeight ||
		x.typeSamples != y.typeSamples || len(x.children) != len(y.children) {
		return false
	}
	for i := range x.children {
		if !equalNode(a.ChildAt(i), b.ChildAt(i)) {
			return false
		}
	}
	return true
}
