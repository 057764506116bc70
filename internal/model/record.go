package model

import (
	"fmt"
	"time"
)

// EventType is the recording event a stack-based record was sampled from.
type EventType string

const (
	// Execution samples.
	EventExecutionSample    EventType = "jdk.ExecutionSample"
	EventNativeMethodSample EventType = "jdk.NativeMethodSample"
	EventWallClockSample    EventType = "profiler.WallClockSample"

	// Allocation samples. Weight is the allocated size in bytes.
	EventObjectAllocationSample      EventType = "jdk.ObjectAllocationSample"
	EventObjectAllocationInNewTLAB   EventType = "jdk.ObjectAllocationInNewTLAB"
	EventObjectAllocationOutsideTLAB EventType = "jdk.ObjectAllocationOutsideTLAB"

	// Blocking samples. Weight is the blocked duration in nanoseconds.
	EventJavaMonitorEnter EventType = "jdk.JavaMonitorEnter"
	EventJavaMonitorWait  EventType = "jdk.JavaMonitorWait"
	EventThreadPark       EventType = "jdk.ThreadPark"
)

// RecordKind groups event types by what their weight means.
type RecordKind uint8

const (
	KindExecution RecordKind = iota
	KindAllocation
	KindBlocking
)

func (k RecordKind) String() string {
	switch k {
	case KindExecution:
		return "execution"
	case KindAllocation:
		return "allocation"
	case KindBlocking:
		return "blocking"
	default:
		return fmt.Sprintf("RecordKind(%d)", uint8(k))
	}
}

// Kind reports the record kind of the event type. Unrecognized event types
// are treated as execution samples.
func (e EventType) Kind() RecordKind {
	switch e {
	case EventObjectAllocationSample, EventObjectAllocationInNewTLAB, EventObjectAllocationOutsideTLAB:
		return KindAllocation
	case EventJavaMonitorEnter, EventJavaMonitorWait, EventThreadPark:
		return KindBlocking
	default:
		return KindExecution
	}
}

// StackFrame is one frame of a sampled stack trace as produced by the record source.
// Type carries the vendor frame-type code ("JIT compiled", "C++", ...); it is resolved
// against a frame-type registry by the frame processors.
type StackFrame struct {
	ClassName  string `json:"class,omitempty"`
	MethodName string `json:"method"`
	Type       string `json:"type"`
	Line       int32  `json:"line,omitempty"`
	BCI        int32  `json:"bci,omitempty"`
}

// Thread identifies the thread a record was sampled on.
type Thread struct {
	OSID    int64  `json:"os_id,omitempty"`
	JavaID  int64  `json:"java_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Virtual bool   `json:"virtual,omitempty"`
}

// Label is the display name used for thread-name frames.
func (t Thread) Label() string {
	if t.Name != "" {
		return t.Name
	}
	if t.JavaID != 0 {
		return fmt.Sprintf("[tid=%d]", t.JavaID)
	}
	return fmt.Sprintf("[tid=%d]", t.OSID)
}

// StackBasedRecord is one physical sample. Frames are ordered root to leaf.
// Records are immutable once produced.
type StackBasedRecord struct {
	EventType    EventType     `json:"event_type"`
	Timestamp    time.Time     `json:"timestamp"`
	SinceStart   time.Duration `json:"since_start"`
	Frames       []StackFrame  `json:"frames"`
	Thread       Thread        `json:"thread"`
	Samples      int64         `json:"samples"`
	Weight       int64         `json:"weight"`
	WeightEntity string        `json:"weight_entity,omitempty"`
}

// Kind is shorthand for r.EventType.Kind().
func (r *StackBasedRecord) Kind() RecordKind {
	return r.EventType.Kind()
}

// HasStack reports whether the record carries a stack trace. Metadata-only
// events routed into a record stream have none and are skipped by tree building.
func (r *StackBasedRecord) HasStack() bool {
	return len(r.Frames) > 0
}

// SampleCount returns the record's multiplicity, never less than one.
func (r *StackBasedRecord) SampleCount() int64 {
	if r.Samples < 1 {
		return 1
	}
	return r.Samples
}

// RecordFilter narrows a record stream to one event type and time range.
// An empty EventType matches every event.
type RecordFilter struct {
	EventType EventType
	Range     TimeRange
}

// Matches reports whether rec passes the filter.
func (f RecordFilter) Matches(rec *StackBasedRecord) bool {
	if f.EventType != "" && rec.EventType != f.EventType {
		return false
	}
	return f.Range.Contains(rec)
}
