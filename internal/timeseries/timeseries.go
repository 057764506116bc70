// Package timeseries aggregates records over recording time: a per-second
// series and a sub-second heatmap.
package timeseries

import (
	"iter"
	"time"

	"github.com/guptarohit/asciigraph"

	"github.com/ashita-ai/kenbi/internal/model"
)

// Options controls aggregation.
type Options struct {
	// UseWeight sums weight instead of samples.
	UseWeight bool
	// Filter selects records; the zero filter keeps every record.
	Filter model.RecordFilter
	// MaxSeconds bounds the recording time covered. Records later than
	// MaxSeconds are dropped. Zero means DefaultMaxSeconds.
	MaxSeconds int64
}

// DefaultMaxSeconds is one day of recording time.
const DefaultMaxSeconds = 24 * 60 * 60

// maxHeatmapCells bounds the cells a heatmap allocates.
const maxHeatmapCells = 1 << 22

func (o Options) maxSeconds() int64 {
	if o.MaxSeconds > 0 {
		return o.MaxSeconds
	}
	return DefaultMaxSeconds
}

// Point is the value aggregated for one second of recording time.
type Point struct {
	Second int64 `json:"second"`
	Value  int64 `json:"value"`
}

// Series is a gap-free sequence of per-second points starting at the first
// second that holds a record. Dropped counts records outside
// [0, MaxSeconds].
type Series struct {
	Points  []Point `json:"points"`
	Dropped int64   `json:"dropped,omitempty"`
}

// Build aggregates the records into a per-second series. Seconds without
// records between the first and the last are present with a zero value.
func Build(seq iter.Seq[*model.StackBasedRecord], opts Options) Series {
	buckets := make(map[int64]int64)
	limit := opts.maxSeconds()
	var (
		first, last int64
		seen        bool
		dropped     int64
	)
	for rec := range seq {
		if !opts.Filter.Matches(rec) {
			continue
		}
		sec := int64(rec.SinceStart / time.Second)
		if rec.SinceStart < 0 || sec > limit {
			dropped++
			continue
		}
		buckets[sec] += value(rec, opts.UseWeight)
		if !seen {
			first, last, seen = sec, sec, true
		}
		first = min(first, sec)
		last = max(last, sec)
	}
	if !seen {
		return Series{Dropped: dropped}
	}
	points := make([]Point, 0, last-first+1)
	for s := first; s <= last; s++ {
		points = append(points, Point{Second: s, Value: buckets[s]})
	}
	return Series{Points: points, Dropped: dropped}
}

func value(rec *model.StackBasedRecord, useWeight bool) int64 {
	if useWeight {
		return rec.Weight
	}
	return rec.SampleCount()
}

// Total sums the series.
func (s Series) Total() int64 {
	var sum int64
	for _, p := range s.Points {
		sum += p.Value
	}
	return sum
}

// Max returns the largest point value.
func (s Series) Max() int64 {
	var m int64
	for _, p := range s.Points {
		m = max(m, p.Value)
	}
	return m
}

// Values resamples the series into width buckets by summing neighbouring
// seconds. A series shorter than width is returned unchanged.
func (s Series) Values(width int) []float64 {
	n := len(s.Points)
	if width <= 0 || n <= width {
		out := make([]float64, n)
		for i, p := range s.Points {
			out[i] = float64(p.Value)
		}
		return out
	}
	out := make([]float64, width)
	for i, p := range s.Points {
		out[i*width/n] += float64(p.Value)
	}
	return out
}

// Plot renders the series as an ASCII chart.
func (s Series) Plot(width, height int, caption string) string {
	values := s.Values(width)
	if len(values) == 0 {
		return ""
	}
	opts := []asciigraph.Option{asciigraph.Height(height)}
	if caption != "" {
		opts = append(opts, asciigraph.Caption(caption))
	}
	return asciigraph.Plot(values, opts...)
}

// Heatmap splits each second of recording time into equal buckets. Columns
// are seconds from zero, rows are the buckets within a second.
type Heatmap struct {
	BucketsPerSecond int       `json:"buckets_per_second"`
	Columns          [][]int64 `json:"columns"`
	Max              int64     `json:"max"`
	Dropped          int64     `json:"dropped,omitempty"`
}

// BuildHeatmap aggregates the records into a heatmap. bucketsPerSecond is
// clamped to [1, 1000]. The column count is bounded by MaxSeconds and by a
// fixed cell budget, whichever is smaller.
func BuildHeatmap(seq iter.Seq[*model.StackBasedRecord], bucketsPerSecond int, opts Options) Heatmap {
	bucketsPerSecond = min(max(bucketsPerSecond, 1), 1000)
	width := time.Second / time.Duration(bucketsPerSecond)
	limit := min(opts.maxSeconds(), int64(maxHeatmapCells/bucketsPerSecond-1))
	h := Heatmap{BucketsPerSecond: bucketsPerSecond}
	for rec := range seq {
		if !opts.Filter.Matches(rec) {
			continue
		}
		if rec.SinceStart < 0 || int64(rec.SinceStart/time.Second) > limit {
			h.Dropped++
			continue
		}
		sec := int(rec.SinceStart / time.Second)
		bucket := min(int(rec.SinceStart%time.Second/width), bucketsPerSecond-1)
		for len(h.Columns) <= sec {
			h.Columns = append(h.Columns, make([]int64, bucketsPerSecond))
		}
		h.Columns[sec][bucket] += value(rec, opts.UseWeight)
		h.Max = max(h.Max, h.Columns[sec][bucket])
	}
	return h
}
