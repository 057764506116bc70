package guardian

import "github.com/ashita-ai/kenbi/internal/frame"

// Status is the state of a traversal.
type Status uint8

const (
	Continue Status = iota
	Done
)

// Traversable is a stateful, single-use tree walk. The driver calls Traverse
// once for every frame of a level, starting with the root, and descends into
// the frames Traverse returns. Once Next reports Done further calls are no-ops.
type Traversable interface {
	// Traverse inspects the children of n and returns the children to
	// descend into on the next level.
	Traverse(n frame.Node) []frame.Node
	Next() Status
	// Selected returns the frames the traversal picked.
	Selected() []frame.Node
}

// Walk drives t level by level from the root of tree until t is done, the tree
// is exhausted, or maxDepth levels were inspected (0 means no limit). It
// returns the selected frames.
func Walk(tree *frame.Tree, t Traversable, maxDepth int) []frame.Node {
	level := []frame.Node{tree.Root()}
	for depth := 0; len(level) > 0 && (maxDepth <= 0 || depth < maxDepth); depth++ {
		var next []frame.Node
		for _, n := range level {
			next = append(next, t.Traverse(n)...)
			if t.Next() == Done {
				return t.Selected()
			}
		}
		level = next
	}
	return t.Selected()
}

type single struct {
	m        Matcher
	selected []frame.Node
	status   Status
}

// SingleMatch selects the first frame m matches, breadth first, and stops.
func SingleMatch(m Matcher) Traversable {
	return &single{m: m}
}

func (s *single) Traverse(n frame.Node) []frame.Node {
	if s.status == Done {
		return nil
	}
	children := n.Children()
	for _, c := range children {
		if s.m(c) {
			s.selected = []frame.Node{c}
			s.status = Done
			return nil
		}
	}
	return children
}

func (s *single) Next() Status           { return s.status }
func (s *single) Selected() []frame.Node { return s.selected }

type collect struct {
	m        Matcher
	selected []frame.Node
}

// CollectAll selects every frame m matches. It does not descend into selected
// frames, so no samples are counted twice.
func CollectAll(m Matcher) Traversable {
	return &collect{m: m}
}

func (c *collect) Traverse(n frame.Node) []frame.Node {
	children := n.Children()
	descend := children[:0:0]
	for _, ch := range children {
		if c.m(ch) {
			c.selected = append(c.selected, ch)
			continue
		}
		descend = append(descend, ch)
	}
	return descend
}

func (c *collect) Next() Status           { return Continue }
func (c *collect) Selected() []frame.Node { return c.selected }

type hop struct {
	path     []string
	then     Matcher
	pos      int
	selected []frame.Node
	status   Status
}

// NamedHop follows the children named by path one level at a time. Without a
// matcher it selects the frame at the end of the path; with one, it selects
// the first child of that frame then matches. A missing hop ends the walk
// with nothing selected.
func NamedHop(path []string, then Matcher) Traversable {
	return &hop{path: path, then: then}
}

func (h *hop) Traverse(n frame.Node) []frame.Node {
	if h.status == Done {
		return nil
	}
	if h.pos == len(h.path) {
		h.status = Done
		if h.then == nil {
			h.selected = []frame.Node{n}
			return nil
		}
		for _, c := range n.Children() {
			if h.then(c) {
				h.selected = []frame.Node{c}
				break
			}
		}
		return nil
	}
	c, ok := n.Child(h.path[h.pos])
	if !ok {
		h.status = Done
		return nil
	}
	h.pos++
	if h.pos == len(h.path) && h.then == nil {
		h.selected = []frame.Node{c}
		h.status = Done
		return nil
	}
	return []frame.Node{c}
}

func (h *hop) Next() Status           { return h.status }
func (h *hop) Selected() []frame.Node { return h.selected }
