package processor

import (
	"strings"

	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/model"
)

// LambdaFrameName is the name of the frame that replaces a collapsed run of
// lambda runtime frames.
const LambdaFrameName = "Lambda Frame (Synthetic)"

// IsLambdaFrame reports whether f belongs to the runtime machinery that
// dispatches a lambda or method handle.
func IsLambdaFrame(f *model.StackFrame) bool {
	c := f.ClassName
	switch {
	case c == "":
		return false
	case strings.Contains(c, "$$Lambda"):
		return true
	case strings.HasPrefix(c, "java.lang.invoke.LambdaForm$"):
		return true
	case c == "java.lang.invoke.DirectMethodHandle$Holder", c == "java.lang.invoke.Invokers$Holder":
		return true
	default:
		return false
	}
}

type lambda struct {
	Processor
}

// Lambda decorates inner so that every maximal run of lambda runtime frames
// becomes a single synthetic descriptor. Other frames go to inner.
func Lambda(inner Processor) Processor {
	return lambda{Processor: inner}
}

func (l lambda) Process(rec *model.StackBasedRecord, idx int) ([]frame.Descriptor, int) {
	if !IsLambdaFrame(&rec.Frames[idx]) {
		return l.Processor.Process(rec, idx)
	}
	j := idx
	for j+1 < len(rec.Frames) && IsLambdaFrame(&rec.Frames[j+1]) {
		j++
	}
	return []frame.Descriptor{{Name: LambdaFrameName, Type: frame.TypeLambdaSynthetic}}, j + 1
}

type thread struct {
	Processor
}

// Thread decorates inner so that the stack is rooted at a synthetic frame
// named after the record's thread.
func Thread(inner Processor) Processor {
	return thread{Processor: inner}
}

func (t thread) Process(rec *model.StackBasedRecord, idx int) ([]frame.Descriptor, int) {
	descs, next := t.Processor.Process(rec, idx)
	if idx != 0 {
		return descs, next
	}
	out := make([]frame.Descriptor, 0, len(descs)+1)
	out = append(out, frame.Descriptor{Name: rec.Thread.Label(), Type: frame.TypeThreadNameSynthetic})
	return append(out, descs...), next
}

type entity struct {
	Processor
	kind model.RecordKind
	typ  frame.Type
}

// Entity decorates inner for records of the given kind that carry a weight
// entity, e.g. the allocated class of an allocation sample or the monitor
// class of a blocking sample. The entity is appended as a synthetic leaf of
// type typ.
func Entity(inner Processor, kind model.RecordKind, typ frame.Type) Processor {
	return entity{Processor: inner, kind: kind, typ: typ}
}

func (e entity) Applicable(rec *model.StackBasedRecord) bool {
	return rec.Kind() == e.kind && rec.WeightEntity != "" && e.Processor.Applicable(rec)
}

func (e entity) Process(rec *model.StackBasedRecord, idx int) ([]frame.Descriptor, int) {
	descs, next := e.Processor.Process(rec, idx)
	if next < len(rec.Frames) {
		return descs, next
	}
	return append(descs, frame.Descriptor{Name: rec.WeightEntity, Type: e.typ}), next
}
