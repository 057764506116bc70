// Package processor turns stack-based records into frame descriptors ready for
// tree insertion.
//
// Processors are resolved per record in a first-match-wins Chain. A processor
// converts the stack frame at one index into zero or more descriptors and
// returns the index to continue from, which lets decorators collapse runs of
// frames or inject synthetic ones.
package processor

import (
	"strconv"

	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/model"
)

// Processor converts the frames of records it is applicable to.
type Processor interface {
	// Applicable reports whether the processor handles rec.
	Applicable(rec *model.StackBasedRecord) bool
	// Process converts rec.Frames[idx] (and possibly following frames) and
	// returns the descriptors plus the next index to process. The returned
	// index must be greater than idx.
	Process(rec *model.StackBasedRecord, idx int) ([]frame.Descriptor, int)
}

// Options configures the processors built by NewChain.
type Options struct {
	// ThreadMode prefixes every stack with a thread-name frame.
	ThreadMode bool
	// CollapseLambdas replaces runs of lambda runtime frames with one
	// synthetic frame.
	CollapseLambdas bool
	// LineNumbers appends the source line to Java frame names.
	LineNumbers bool
	// HideTypes drops frames of the listed types.
	HideTypes []frame.Type
}

// NewChain builds the standard chain: allocation and blocking records get
// their weight entity as a synthetic leaf, every other record is processed by
// the standard processor. Options apply to every link.
func NewChain(reg *frame.Registry, opts Options) *Chain {
	var base Processor = NewStandard(reg, opts.LineNumbers, opts.HideTypes)
	if opts.CollapseLambdas {
		base = Lambda(base)
	}
	if opts.ThreadMode {
		base = Thread(base)
	}
	return &Chain{processors: []Processor{
		Entity(base, model.KindAllocation, frame.TypeAllocatedObjectSynthetic),
		Entity(base, model.KindBlocking, frame.TypeBlockingObjectSynthetic),
		base,
	}}
}

// Chain resolves the first applicable processor for a record and drives it
// across the record's frames. A Chain holds no mutable state and can be shared
// by concurrent builders.
type Chain struct {
	processors []Processor
}

// NewCustomChain returns a chain over the given processors, tried in order.
func NewCustomChain(ps ...Processor) *Chain {
	return &Chain{processors: ps}
}

// Descriptors appends the descriptors of rec to dst[:0] and returns the
// result. Every descriptor carries the record's samples and weight, and only
// the last one is marked as the top frame. Records without a stack, or with
// no applicable processor, yield nothing.
func (c *Chain) Descriptors(dst []frame.Descriptor, rec *model.StackBasedRecord) []frame.Descriptor {
	dst = dst[:0]
	if !rec.HasStack() {
		return dst
	}
	p := c.resolve(rec)
	if p == nil {
		return dst
	}
	for idx := 0; idx < len(rec.Frames); {
		descs, next := p.Process(rec, idx)
		dst = append(dst, descs...)
		if next <= idx {
			next = idx + 1
		}
		idx = next
	}

	samples := rec.SampleCount()
	for i := range dst {
		dst[i].Samples = samples
		dst[i].Weight = rec.Weight
		dst[i].IsTop = i == len(dst)-1
	}
	return dst
}

func (c *Chain) resolve(rec *model.StackBasedRecord) Processor {
	for _, p := range c.processors {
		if p.Applicable(rec) {
			return p
		}
	}
	return nil
}

// Standard renders each stack frame as one descriptor.
type Standard struct {
	reg         *frame.Registry
	lineNumbers bool
	hidden      [256]bool
}

// NewStandard returns the base processor. It applies to every record.
func NewStandard(reg *frame.Registry, lineNumbers bool, hide []frame.Type) *Standard {
	s := &Standard{reg: reg, lineNumbers: lineNumbers}
	for _, t := range hide {
		s.hidden[t] = true
	}
	return s
}

func (s *Standard) Applicable(*model.StackBasedRecord) bool { return true }

func (s *Standard) Process(rec *model.StackBasedRecord, idx int) ([]frame.Descriptor, int) {
	f := &rec.Frames[idx]
	typ := s.reg.Resolve(f.Type)
	if s.hidden[typ] {
		return nil, idx + 1
	}
	name := Name(f)
	if s.lineNumbers && typ.IsJava() && f.Line > 0 {
		name += ":" + strconv.Itoa(int(f.Line))
	}
	return []frame.Descriptor{{
		Name: name,
		Line: f.Line,
		BCI:  f.BCI,
		Type: typ,
	}}, idx + 1
}

// Name renders a stack frame as a tree key: "Class#method" when the frame has
// a class, the bare method otherwise.
func Name(f *model.StackFrame) string {
	if f.ClassName == "" {
		return f.MethodName
	}
	return f.ClassName + "#" + f.MethodName
}
