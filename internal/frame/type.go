// Package frame owns the aggregated call tree: frame types, the arena of
// handle-addressed nodes, tree building, merging of partial trees and export
// into flamegraph payloads.
package frame

import (
	"fmt"
	"strings"
)

// Type is the kind of code a frame represents.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeJITCompiled
	TypeC1Compiled
	TypeInlined
	TypeInterpreted
	TypeNative
	TypeCPP
	TypeKernel
	TypeLambdaSynthetic
	TypeThreadNameSynthetic
	TypeAllocatedObjectSynthetic
	TypeBlockingObjectSynthetic

	numTypes
)

var typeCodes = [numTypes]string{
	TypeUnknown:                  "UNKNOWN",
	TypeJITCompiled:              "JIT_COMPILED",
	TypeC1Compiled:               "C1_COMPILED",
	TypeInlined:                  "INLINED",
	TypeInterpreted:              "INTERPRETED",
	TypeNative:                   "NATIVE",
	TypeCPP:                      "CPP",
	TypeKernel:                   "KERNEL",
	TypeLambdaSynthetic:          "LAMBDA_SYNTHETIC",
	TypeThreadNameSynthetic:      "THREAD_NAME_SYNTHETIC",
	TypeAllocatedObjectSynthetic: "ALLOCATED_OBJECT_SYNTHETIC",
	TypeBlockingObjectSynthetic:  "BLOCKING_OBJECT_SYNTHETIC",
}

var typeTitles = [numTypes]string{
	TypeUnknown:                  "Unknown",
	TypeJITCompiled:              "JIT compiled",
	TypeC1Compiled:               "C1 compiled",
	TypeInlined:                  "Inlined",
	TypeInterpreted:              "Interpreted",
	TypeNative:                   "Native",
	TypeCPP:                      "C++",
	TypeKernel:                   "Kernel",
	TypeLambdaSynthetic:          "Lambda (synthetic)",
	TypeThreadNameSynthetic:      "Thread (synthetic)",
	TypeAllocatedObjectSynthetic: "Allocated object (synthetic)",
	TypeBlockingObjectSynthetic:  "Blocking object (synthetic)",
}

// String returns the stable code used in exported payloads.
func (t Type) String() string {
	if t < numTypes {
		return typeCodes[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Title returns a human readable name.
func (t Type) Title() string {
	if t < numTypes {
		return typeTitles[t]
	}
	return t.String()
}

// IsJava reports whether t is one of the Java execution modes.
func (t Type) IsJava() bool {
	switch t {
	case TypeJITCompiled, TypeC1Compiled, TypeInlined, TypeInterpreted:
		return true
	default:
		return false
	}
}

// IsSynthetic reports whether frames of type t are inserted by processing
// rather than sampled.
func (t Type) IsSynthetic() bool {
	switch t {
	case TypeLambdaSynthetic, TypeThreadNameSynthetic, TypeAllocatedObjectSynthetic, TypeBlockingObjectSynthetic:
		return true
	default:
		return false
	}
}

// Registry resolves vendor frame-type codes to Types. A Registry is built once
// and never mutated, so it can be shared by concurrent processors.
type Registry struct {
	byCode map[string]Type
}

// NewRegistry builds the frame-type table covering JFR titles ("JIT compiled")
// and the exported codes ("JIT_COMPILED").
func NewRegistry() *Registry {
	r := &Registry{byCode: make(map[string]Type, 2*int(numTypes))}
	for t := TypeUnknown; t < numTypes; t++ {
		r.byCode[normalizeCode(typeCodes[t])] = t
		r.byCode[normalizeCode(typeTitles[t])] = t
	}
	// Aliases seen in async-profiler and JFR output.
	r.byCode[normalizeCode("JIT")] = TypeJITCompiled
	r.byCode[normalizeCode("C2 compiled")] = TypeJITCompiled
	r.byCode[normalizeCode("Interpreted frame")] = TypeInterpreted
	r.byCode[normalizeCode("C++ frame")] = TypeCPP
	r.byCode[normalizeCode("Kernel frame")] = TypeKernel
	r.byCode[normalizeCode("Native frame")] = TypeNative
	return r
}

// Resolve returns the Type for code, or TypeUnknown.
func (r *Registry) Resolve(code string) Type {
	if t, ok := r.byCode[normalizeCode(code)]; ok {
		return t
	}
	return TypeUnknown
}

// Types returns every known type in declaration order.
func (r *Registry) Types() []Type {
	out := make([]Type, 0, numTypes)
	for t := TypeUnknown; t < numTypes; t++ {
		out = append(out, t)
	}
	return out
}

func normalizeCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
