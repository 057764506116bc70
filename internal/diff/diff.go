// Package diff compares two call trees. The result is a tree over the union of
// both trees' branches where every node is tagged ADDED (primary only),
// REMOVED (secondary only) or SHARED (both sides, with both sides' counts
// kept separately).
package diff

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/kenbi/internal/frame"
)

// Kind classifies a diff node.
type Kind uint8

const (
	KindAdded Kind = iota + 1
	KindRemoved
	KindShared
)

func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "ADDED"
	case KindRemoved:
		return "REMOVED"
	case KindShared:
		return "SHARED"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MarshalText encodes the kind as its upper-case name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes an upper-case kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "ADDED":
		*k = KindAdded
	case "REMOVED":
		*k = KindRemoved
	case "SHARED":
		*k = KindShared
	default:
		return fmt.Errorf("diff: unknown kind %q", b)
	}
	return nil
}

// Values are the totals of one side of a diff node.
type Values struct {
	Samples int64 `json:"samples"`
	Weight  int64 `json:"weight"`
}

// Value returns Weight when useWeight is set, Samples otherwise.
func (v Values) Value(useWeight bool) int64 {
	if useWeight {
		return v.Weight
	}
	return v.Samples
}

// Frame is a node of the diff tree. For ADDED nodes Secondary is zero, for
// REMOVED nodes Primary is zero. Children are ordered by name. A Frame is not
// modified after Generate returns it.
type Frame struct {
	Name      string
	FrameType frame.Type
	Kind      Kind
	Primary   Values
	Secondary Values
	Children  []*Frame
}

// Child returns the child named name, or nil.
func (f *Frame) Child(name string) *Frame {
	for _, c := range f.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Delta is the primary value minus the secondary value.
func (f *Frame) Delta(useWeight bool) int64 {
	return f.Primary.Value(useWeight) - f.Secondary.Value(useWeight)
}

// Generate diffs primary against secondary. Either side may be nil, meaning
// absent; with both absent the result is nil. Neither tree is modified.
func Generate(primary, secondary *frame.Tree) *Frame {
	var p, s frame.Node
	if primary != nil {
		p = primary.Root()
	}
	if secondary != nil {
		s = secondary.Root()
	}
	if p.IsZero() && s.IsZero() {
		return nil
	}
	return generate(p, s)
}

// generate builds the diff node for p and s, either of which may be the zero
// Node. Recursion runs over the union of both sides' children.
func generate(p, s frame.Node) *Frame {
	f := &Frame{}
	switch {
	case s.IsZero():
		f.Kind = KindAdded
		f.Name, f.FrameType = p.Name(), p.Type()
		f.Primary = values(p)
	case p.IsZero():
		f.Kind = KindRemoved
		f.Name, f.FrameType = s.Name(), s.Type()
		f.Secondary = values(s)
	default:
		f.Kind = KindShared
		f.Name, f.FrameType = p.Name(), p.Type()
		f.Primary = values(p)
		f.Secondary = values(s)
	}

	var pc, sc []frame.Node
	if !p.IsZero() {
		pc = p.Children()
	}
	if !s.IsZero() {
		sc = s.Children()
	}
	f.Children = make([]*Frame, 0, max(len(pc), len(sc)))
	i, j := 0, 0
	for i < len(pc) || j < len(sc) {
		switch {
		case j == len(sc) || (i < len(pc) && pc[i].Name() < sc[j].Name()):
			f.Children = append(f.Children, generate(pc[i], frame.Node{}))
			i++
		case i == len(pc) || sc[j].Name() < pc[i].Name():
			f.Children = append(f.Children, generate(frame.Node{}, sc[j]))
			j++
		default:
			f.Children = append(f.Children, generate(pc[i], sc[j]))
			i++
			j++
		}
	}
	return f
}

func values(n frame.Node) Values {
	return Values{Samples: n.TotalSamples(), Weight: n.TotalWeight()}
}
