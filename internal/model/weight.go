package model

import (
	"time"

	"github.com/dustin/go-humanize"
)

// WeightFormatter renders a sample count or weight for display. Formatters are
// used for labels only, never for aggregation.
type WeightFormatter func(v int64) string

// FormatSamples renders a bare count with thousands separators.
func FormatSamples(v int64) string {
	if v == 1 {
		return "1 sample"
	}
	return humanize.Comma(v) + " samples"
}

// FormatBytes renders an allocation weight.
func FormatBytes(v int64) string {
	if v < 0 {
		return "-" + humanize.IBytes(uint64(-v))
	}
	return humanize.IBytes(uint64(v))
}

// FormatDuration renders a blocking weight given in nanoseconds.
func FormatDuration(v int64) string {
	return time.Duration(v).String()
}

// FormatterFor picks the display formatter for values of a record kind. When
// useWeight is false the values are sample counts regardless of kind.
func FormatterFor(kind RecordKind, useWeight bool) WeightFormatter {
	if !useWeight {
		return FormatSamples
	}
	switch kind {
	case KindAllocation:
		return FormatBytes
	case KindBlocking:
		return FormatDuration
	default:
		return FormatSamples
	}
}
