package model

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventSource is the profiler that produced a recording.
type EventSource string

const (
	SourceJDK           EventSource = "JDK"
	SourceAsyncProfiler EventSource = "ASYNC_PROFILER"
	SourceUnknown       EventSource = "UNKNOWN"
)

// ParseEventSource maps a user-supplied name to an EventSource.
func ParseEventSource(s string) EventSource {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "JDK", "JFR":
		return SourceJDK
	case "ASYNC_PROFILER", "ASYNC", "AP":
		return SourceAsyncProfiler
	default:
		return SourceUnknown
	}
}

// GarbageCollector is the collector a profiled JVM ran with.
type GarbageCollector string

const (
	GCUnknown       GarbageCollector = "UNKNOWN"
	GCSerial        GarbageCollector = "SERIAL"
	GCParallel      GarbageCollector = "PARALLEL"
	GCG1            GarbageCollector = "G1"
	GCZ             GarbageCollector = "ZGC"
	GCGenerationalZ GarbageCollector = "ZGC_GENERATIONAL"
	GCShenandoah    GarbageCollector = "SHENANDOAH"
	GCEpsilon       GarbageCollector = "EPSILON"
)

// GCRegistry resolves collector names reported by the recording (young and old
// collector names of jdk.GCConfiguration, or collector names of
// jdk.GarbageCollection) to a GarbageCollector. It is immutable once built.
type GCRegistry struct {
	byName map[string]GarbageCollector
}

// NewGCRegistry builds the collector-name table.
func NewGCRegistry() *GCRegistry {
	return &GCRegistry{byName: map[string]GarbageCollector{
		"serial":           GCSerial,
		"defnew":           GCSerial,
		"serialold":        GCSerial,
		"parallel":         GCParallel,
		"parallelscavenge": GCParallel,
		"parallelold":      GCParallel,
		"psmarksweep":      GCParallel,
		"g1":               GCG1,
		"g1new":            GCG1,
		"g1old":            GCG1,
		"g1full":           GCG1,
		"z":                GCZ,
		"zgc":              GCZ,
		"zgc minor":        GCGenerationalZ,
		"zgc major":        GCGenerationalZ,
		"zgc_generational": GCGenerationalZ,
		"shenandoah":       GCShenandoah,
		"epsilon":          GCEpsilon,
	}}
}

// Resolve returns the collector for name, or GCUnknown.
func (r *GCRegistry) Resolve(name string) GarbageCollector {
	if gc, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return gc
	}
	return GCUnknown
}

// ProfileInfo is the metadata known about a recording. Guardian preconditions
// are evaluated against it.
type ProfileInfo struct {
	ID               uuid.UUID        `json:"id"`
	Name             string           `json:"name"`
	Project          string           `json:"project,omitempty"`
	EventSource      EventSource      `json:"event_source"`
	GarbageCollector GarbageCollector `json:"garbage_collector"`
	EventTypes       []EventType      `json:"event_types"`
	DebugSymbols     bool             `json:"debug_symbols"`
	StartedAt        time.Time        `json:"started_at"`
	CreatedAt        time.Time        `json:"created_at"`
}

// HasEventType reports whether the recording contains events of type t.
func (p ProfileInfo) HasEventType(t EventType) bool {
	return slices.Contains(p.EventTypes, t)
}

// HasKind reports whether the recording contains any event of kind k.
func (p ProfileInfo) HasKind(k RecordKind) bool {
	for _, t := range p.EventTypes {
		if t.Kind() == k {
			return true
		}
	}
	return false
}

// FirstOfKind returns the first recorded event type of kind k.
func (p ProfileInfo) FirstOfKind(k RecordKind) (EventType, bool) {
	for _, t := range p.EventTypes {
		if t.Kind() == k {
			return t, true
		}
	}
	return "", false
}
