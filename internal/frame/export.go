package frame

import "strconv"

// RootName is the name given to the sentinel root in exported payloads.
const RootName = "all"

// ExportOptions controls flamegraph export.
type ExportOptions struct {
	// UseWeight exports total weight instead of sample counts.
	UseWeight bool
	// Formatter renders values into labels. Defaults to a plain integer.
	Formatter func(int64) string
	// MinValue prunes subtrees whose value is below it.
	MinValue int64
	// MaxDepth limits export depth; 0 means unlimited.
	MaxDepth int
}

// ExportNode is the serialized form of a frame used by flamegraph payloads.
type ExportNode struct {
	Name        string           `json:"name"`
	FrameType   string           `json:"frameType"`
	Value       int64            `json:"value"`
	Self        int64            `json:"self"`
	Percent     float64          `json:"percent"`
	Label       string           `json:"label"`
	TypeSamples map[string]int64 `json:"typeSamples,omitempty"`
	Children    []ExportNode     `json:"children,omitempty"`
}

// Export maps the tree into nested export nodes, children in name order.
func Export(t *Tree, opts ExportOptions) ExportNode {
	format := opts.Formatter
	if format == nil {
		format = func(v int64) string { return strconv.FormatInt(v, 10) }
	}
	root := t.Root()
	total := root.Value(opts.UseWeight)
	out := exportNode(root, total, 0, opts, format)
	out.Name = RootName
	return out
}

func exportNode(n Node, total int64, depth int, opts ExportOptions, format func(int64) string) ExportNode {
	v := n.Value(opts.UseWeight)
	out := ExportNode{
		Name:      n.Name(),
		FrameType: n.Type().String(),
		Value:     v,
		Self:      n.SelfValue(opts.UseWeight),
		Percent:   percent(v, total),
		Label:     format(v),
	}
	if !n.IsRoot() {
		out.TypeSamples = typeBreakdown(n)
	}
	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		return out
	}
	for _, c := range n.Children() {
		if c.Value(opts.UseWeight) < opts.MinValue {
			continue
		}
		out.Children = append(out.Children, exportNode(c, total, depth+1, opts, format))
	}
	return out
}

// typeBreakdown returns per-type samples when a frame was reached as more than
// one type, e.g. both JIT compiled and interpreted.
func typeBreakdown(n Node) map[string]int64 {
	ts := &n.get().typeSamples
	kinds := 0
	for _, c := range ts {
		if c > 0 {
			kinds++
		}
	}
	if kinds < 2 {
		return nil
	}
	m := make(map[string]int64, kinds)
	for t, c := range ts {
		if c > 0 {
			m[Type(t).String()] = c
		}
	}
	return m
}

func percent(v, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(v) * 100 / float64(total)
}
