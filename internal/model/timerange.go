package model

import (
	"fmt"
	"time"
)

// RangeKind discriminates the TimeRange variants.
type RangeKind uint8

const (
	RangeUnbounded RangeKind = iota
	RangeRelative
	RangeAbsolute
)

// TimeRange selects records by time. The zero value is unbounded.
//
// A relative range compares against a record's time since recording start, an
// absolute range against its wall-clock timestamp. Both are half-open [from, to);
// a zero upper bound leaves the range open-ended.
type TimeRange struct {
	kind         RangeKind
	fromRelative time.Duration
	toRelative   time.Duration
	fromAbsolute time.Time
	toAbsolute   time.Time
}

// Unbounded returns a range containing every record.
func Unbounded() TimeRange {
	return TimeRange{kind: RangeUnbounded}
}

// Relative returns a range over time since the recording started.
func Relative(from, to time.Duration) TimeRange {
	return TimeRange{kind: RangeRelative, fromRelative: from, toRelative: to}
}

// Absolute returns a range over wall-clock timestamps.
func Absolute(from, to time.Time) TimeRange {
	return TimeRange{kind: RangeAbsolute, fromAbsolute: from, toAbsolute: to}
}

// Kind reports which variant r is.
func (r TimeRange) Kind() RangeKind {
	return r.kind
}

// RelativeBounds returns the bounds of a relative range.
func (r TimeRange) RelativeBounds() (from, to time.Duration) {
	return r.fromRelative, r.toRelative
}

// AbsoluteBounds returns the bounds of an absolute range.
func (r TimeRange) AbsoluteBounds() (from, to time.Time) {
	return r.fromAbsolute, r.toAbsolute
}

// Contains reports whether rec falls inside the range.
func (r TimeRange) Contains(rec *StackBasedRecord) bool {
	switch r.kind {
	case RangeUnbounded:
		return true
	case RangeRelative:
		if rec.SinceStart < r.fromRelative {
			return false
		}
		return r.toRelative == 0 || rec.SinceStart < r.toRelative
	case RangeAbsolute:
		if rec.Timestamp.Before(r.fromAbsolute) {
			return false
		}
		return r.toAbsolute.IsZero() || rec.Timestamp.Before(r.toAbsolute)
	default:
		panic(fmt.Sprintf("model: unknown time range kind %d", r.kind))
	}
}

func (r TimeRange) String() string {
	switch r.kind {
	case RangeUnbounded:
		return "unbounded"
	case RangeRelative:
		return fmt.Sprintf("relative[%s,%s)", r.fromRelative, r.toRelative)
	case RangeAbsolute:
		return fmt.Sprintf("absolute[%s,%s)", r.fromAbsolute.Format(time.RFC3339Nano), r.toAbsolute.Format(time.RFC3339Nano))
	default:
		return fmt.Sprintf("TimeRange(%d)", r.kind)
	}
}
