package frame

import (
	"slices"
	"strings"
)

// ID addresses a node in its tree's arena. IDs are stable for the lifetime of
// the tree; the root is always RootID.
type ID int32

const (
	// RootID is the sentinel root node. It has no name and no type.
	RootID ID = 0

	noParent ID = -1
)

// node is the arena record. The parent field is a lookup relation, not an
// ownership edge: nodes are owned by the arena slice alone.
type node struct {
	name         string
	typ          Type
	parent       ID
	self         bool
	totalSamples int64
	totalWeight  int64
	selfSamples  int64
	selfWeight   int64
	typeSamples  [numTypes]int64
	children     []ID // sorted by name, names unique
}

// Tree is an aggregated call tree. A Tree returned by Builder.Build is never
// mutated again except by Merge, which consumes its operands.
type Tree struct {
	nodes    []node
	consumed bool
}

// dominantType is the type most samples reached the node as. Ties go to the
// lower type so the result does not depend on insertion or merge order.
func (n *node) dominantType() Type {
	best, most := n.typ, int64(0)
	for t, c := range n.typeSamples {
		if c > most {
			best, most = Type(t), c
		}
	}
	return best
}

func newTree() *Tree {
	t := &Tree{nodes: make([]node, 1, 64)}
	t.nodes[RootID] = node{parent: noParent}
	return t
}

// Root returns the sentinel root node.
func (t *Tree) Root() Node {
	t.mustLive()
	return Node{tree: t, id: RootID}
}

// Node returns the node addressed by id.
func (t *Tree) Node(id ID) Node {
	t.mustLive()
	_ = t.nodes[id] // bounds check
	return Node{tree: t, id: id}
}

// Len returns the number of nodes including the root.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Empty reports whether no record has contributed to the tree.
func (t *Tree) Empty() bool {
	t.mustLive()
	r := &t.nodes[RootID]
	return len(r.children) == 0 && r.totalSamples == 0 && r.totalWeight == 0
}

// Walk visits the tree depth-first in child-name order, starting at the root
// (depth 0). Returning false from fn skips the node's subtree.
func (t *Tree) Walk(fn func(n Node, depth int) bool) {
	t.mustLive()
	t.walk(RootID, 0, fn)
}

func (t *Tree) walk(id ID, depth int, fn func(Node, int) bool) {
	if !fn(Node{tree: t, id: id}, depth) {
		return
	}
	for _, c := range t.nodes[id].children {
		t.walk(c, depth+1, fn)
	}
}

func (t *Tree) mustLive() {
	if t.consumed {
		panic("frame: use of a tree consumed by Merge")
	}
}

func (t *Tree) release() {
	t.nodes = nil
	t.consumed = true
}

func (t *Tree) findChild(parent ID, name string) (int, bool) {
	return slices.BinarySearchFunc(t.nodes[parent].children, name, func(id ID, name string) int {
		return strings.Compare(t.nodes[id].name, name)
	})
}

func (t *Tree) childOrCreate(parent ID, name string, typ Type) ID {
	i, found := t.findChild(parent, name)
	if found {
		return t.nodes[parent].children[i]
	}
	id := ID(len(t.nodes))
	t.nodes = append(t.nodes, node{name: name, typ: typ, parent: parent})
	p := &t.nodes[parent]
	p.children = slices.Insert(p.children, i, id)
	return id
}

// Node is a read-only handle to a tree node. The zero Node stands for an
// absent node.
type Node struct {
	tree *Tree
	id   ID
}

func (n Node) get() *node {
	return &n.tree.nodes[n.id]
}

// IsZero reports whether n is the absent node.
func (n Node) IsZero() bool { return n.tree == nil }

// ID returns the node's arena handle.
func (n Node) ID() ID { return n.id }

// Tree returns the tree the node belongs to.
func (n Node) Tree() *Tree { return n.tree }

// IsRoot reports whether n is the sentinel root.
func (n Node) IsRoot() bool { return n.id == RootID }

func (n Node) Name() string        { return n.get().name }
func (n Node) Type() Type          { return n.get().typ }
func (n Node) TotalSamples() int64 { return n.get().totalSamples }
func (n Node) TotalWeight() int64  { return n.get().totalWeight }
func (n Node) SelfSamples() int64  { return n.get().selfSamples }
func (n Node) SelfWeight() int64   { return n.get().selfWeight }

// IsSelf reports whether the frame was the top of the stack for at least one
// contributing record.
func (n Node) IsSelf() bool { return n.get().self }

// Value returns total weight when useWeight is set, total samples otherwise.
func (n Node) Value(useWeight bool) int64 {
	if useWeight {
		return n.TotalWeight()
	}
	return n.TotalSamples()
}

// SelfValue is the self counterpart of Value.
func (n Node) SelfValue(useWeight bool) int64 {
	if useWeight {
		return n.SelfWeight()
	}
	return n.SelfSamples()
}

// SamplesByType returns the samples that reached this frame as type t.
func (n Node) SamplesByType(t Type) int64 {
	if t >= numTypes {
		return 0
	}
	return n.get().typeSamples[t]
}

// Parent returns the parent node; the root has none.
func (n Node) Parent() (Node, bool) {
	p := n.get().parent
	if p == noParent {
		return Node{}, false
	}
	return Node{tree: n.tree, id: p}, true
}

// ParentName returns the parent's name, or "" for the root and its children.
func (n Node) ParentName() string {
	if p, ok := n.Parent(); ok {
		return p.Name()
	}
	return ""
}

// Child returns the child named name.
func (n Node) Child(name string) (Node, bool) {
	i, found := n.tree.findChild(n.id, name)
	if !found {
		return Node{}, false
	}
	return Node{tree: n.tree, id: n.get().children[i]}, true
}

// NumChildren returns the number of children.
func (n Node) NumChildren() int { return len(n.get().children) }

// ChildAt returns the i-th child in name order.
func (n Node) ChildAt(i int) Node {
	return Node{tree: n.tree, id: n.get().children[i]}
}

// Children returns the children in name order.
func (n Node) Children() []Node {
	ids := n.get().children
	out := make([]Node, len(ids))
	for i, id := range ids {
		out[i] = Node{tree: n.tree, id: id}
	}
	return out
}

// Depth returns the distance from the root.
func (n Node) Depth() int {
	d := 0
	for p := n.get().parent; p != noParent; p = n.tree.nodes[p].parent {
		d++
	}
	return d
}

// Path returns the frame names from the root's child down to n.
func (n Node) Path() []string {
	var path []string
	for id := n.id; id != RootID && id != noParent; id = n.tree.nodes[id].parent {
		path = append(path, n.tree.nodes[id].name)
	}
	slices.Reverse(path)
	return path
}
