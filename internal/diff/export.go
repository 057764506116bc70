package diff

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/ashita-ai/kenbi/internal/frame"
)

// ExportOptions controls diff export.
type ExportOptions struct {
	UseWeight bool
	Formatter func(int64) string
	// MinValue prunes subtrees whose combined value is below it.
	MinValue int64
}

// ExportNode is the serialized form of a diff node. Value is the sum of both
// sides and sizes the node in a differential flamegraph.
type ExportNode struct {
	Name      string       `json:"name"`
	FrameType string       `json:"frameType"`
	Type      Kind         `json:"type"`
	Value     int64        `json:"value"`
	Primary   int64        `json:"primary"`
	Secondary int64        `json:"secondary"`
	Delta     int64        `json:"delta"`
	Label     string       `json:"label"`
	Children  []ExportNode `json:"children,omitempty"`
}

// Export maps the diff tree into nested export nodes. A nil tree exports as
// an empty root.
func Export(root *Frame, opts ExportOptions) ExportNode {
	if root == nil {
		return ExportNode{Name: frame.RootName}
	}
	format := opts.Formatter
	if format == nil {
		format = func(v int64) string { return strconv.FormatInt(v, 10) }
	}
	out := exportFrame(root, opts, format)
	out.Name = frame.RootName
	return out
}

func exportFrame(f *Frame, opts ExportOptions, format func(int64) string) ExportNode {
	p, s := f.Primary.Value(opts.UseWeight), f.Secondary.Value(opts.UseWeight)
	out := ExportNode{
		Name:      f.Name,
		FrameType: f.FrameType.String(),
		Type:      f.Kind,
		Value:     p + s,
		Primary:   p,
		Secondary: s,
		Delta:     p - s,
	}
	switch f.Kind {
	case KindAdded:
		out.Label = format(p)
	case KindRemoved:
		out.Label = format(s)
	default:
		out.Label = format(p) + " vs " + format(s)
	}
	for _, c := range f.Children {
		if c.Primary.Value(opts.UseWeight)+c.Secondary.Value(opts.UseWeight) < opts.MinValue {
			continue
		}
		out.Children = append(out.Children, exportFrame(c, opts, format))
	}
	return out
}

// Change is a frame position whose self value moved between the two sides.
type Change struct {
	Path      []string `json:"path"`
	Kind      Kind     `json:"kind"`
	Primary   int64    `json:"primary"`
	Secondary int64    `json:"secondary"`
	// SelfDelta is the change of the frame's own value, excluding children.
	SelfDelta int64 `json:"self_delta"`
}

// Name is the frame name at the end of the path.
func (c Change) Name() string {
	return c.Path[len(c.Path)-1]
}

// TopChanges returns the n positions with the largest absolute self delta,
// largest first. Positions without change are left out; n <= 0 returns all.
func TopChanges(root *Frame, n int, useWeight bool) []Change {
	var out []Change
	var walk func(f *Frame, path []string)
	walk = func(f *Frame, path []string) {
		for _, c := range f.Children {
			cp := append(path[:len(path):len(path)], c.Name)
			self := c.Delta(useWeight)
			for _, g := range c.Children {
				self -= g.Delta(useWeight)
			}
			if self != 0 {
				out = append(out, Change{
					Path:      cp,
					Kind:      c.Kind,
					Primary:   c.Primary.Value(useWeight),
					Secondary: c.Secondary.Value(useWeight),
					SelfDelta: self,
				})
			}
			walk(c, cp)
		}
	}
	if root != nil {
		walk(root, nil)
	}

	slices.SortStableFunc(out, func(a, b Change) int {
		return cmp.Compare(abs(b.SelfDelta), abs(a.SelfDelta))
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
