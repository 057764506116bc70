package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventTypeKind(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      RecordKind
	}{
		{EventExecutionSample, KindExecution},
		{EventWallClockSample, KindExecution},
		{EventObjectAllocationInNewTLAB, KindAllocation},
		{EventObjectAllocationSample, KindAllocation},
		{EventJavaMonitorEnter, KindBlocking},
		{EventThreadPark, KindBlocking},
		{EventType("vendor.Unknown"), KindExecution},
	}
	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.Kind())
		})
	}
}

func TestTimeRangeContains(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &StackBasedRecord{Timestamp: base.Add(5 * time.Second), SinceStart: 5 * time.Second}

	assert.True(t, Unbounded().Contains(rec))
	assert.True(t, TimeRange{}.Contains(rec), "zero value is unbounded")

	assert.True(t, Relative(5*time.Second, 6*time.Second).Contains(rec), "lower bound is inclusive")
	assert.False(t, Relative(0, 5*time.Second).Contains(rec), "upper bound is exclusive")
	assert.True(t, Relative(time.Second, 0).Contains(rec), "zero upper bound is open-ended")
	assert.False(t, Relative(6*time.Second, 0).Contains(rec))

	assert.True(t, Absolute(base, base.Add(time.Minute)).Contains(rec))
	assert.False(t, Absolute(base.Add(10*time.Second), time.Time{}).Contains(rec))
	assert.False(t, Absolute(base, base.Add(5*time.Second)).Contains(rec))
}

func TestRecordFilterMatches(t *testing.T) {
	rec := &StackBasedRecord{EventType: EventExecutionSample, SinceStart: 2 * time.Second}

	assert.True(t, RecordFilter{}.Matches(rec))
	assert.True(t, RecordFilter{EventType: EventExecutionSample}.Matches(rec))
	assert.False(t, RecordFilter{EventType: EventThreadPark}.Matches(rec))
	assert.False(t, RecordFilter{Range: Relative(3*time.Second, 0)}.Matches(rec))
}

func TestSampleCountNeverBelowOne(t *testing.T) {
	assert.Equal(t, int64(1), (&StackBasedRecord{}).SampleCount())
	assert.Equal(t, int64(7), (&StackBasedRecord{Samples: 7}).SampleCount())
}

func TestThreadLabel(t *testing.T) {
	assert.Equal(t, "main", Thread{Name: "main", JavaID: 1}.Label())
	assert.Equal(t, "[tid=42]", Thread{JavaID: 42}.Label())
	assert.Equal(t, "[tid=7]", Thread{OSID: 7}.Label())
}

func TestGCRegistryResolve(t *testing.T) {
	reg := NewGCRegistry()
	assert.Equal(t, GCG1, reg.Resolve("G1New"))
	assert.Equal(t, GCG1, reg.Resolve(" G1Old "))
	assert.Equal(t, GCParallel, reg.Resolve("ParallelScavenge"))
	assert.Equal(t, GCSerial, reg.Resolve("DefNew"))
	assert.Equal(t, GCGenerationalZ, reg.Resolve("ZGC Major"))
	assert.Equal(t, GCShenandoah, reg.Resolve("Shenandoah"))
	assert.Equal(t, GCUnknown, reg.Resolve("CMS"))
}

func TestProfileInfoKinds(t *testing.T) {
	info := ProfileInfo{EventTypes: []EventType{EventExecutionSample, EventObjectAllocationInNewTLAB}}
	assert.True(t, info.HasEventType(EventExecutionSample))
	assert.False(t, info.HasEventType(EventThreadPark))
	assert.True(t, info.HasKind(KindAllocation))
	assert.False(t, info.HasKind(KindBlocking))

	et, ok := info.FirstOfKind(KindAllocation)
	assert.True(t, ok)
	assert.Equal(t, EventObjectAllocationInNewTLAB, et)
}

func TestParseEventSource(t *testing.T) {
	assert.Equal(t, SourceAsyncProfiler, ParseEventSource("async-profiler"))
	assert.Equal(t, SourceJDK, ParseEventSource("jdk"))
	assert.Equal(t, SourceUnknown, ParseEventSource("perf"))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "1 sample", FormatSamples(1))
	assert.Equal(t, "1,234 samples", FormatSamples(1234))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5ms", FormatDuration(1_500_000))

	assert.Equal(t, FormatBytes(2048), FormatterFor(KindAllocation, true)(2048))
	assert.Equal(t, FormatSamples(2048), FormatterFor(KindAllocation, false)(2048))
	assert.Equal(t, FormatDuration(10), FormatterFor(KindBlocking, true)(10))
}

func TestStackHash(t *testing.T) {
	a := []StackFrame{{ClassName: "A", MethodName: "run", Type: "JIT compiled", Line: 10}}
	b := []StackFrame{{ClassName: "A", MethodName: "run", Type: "JIT compiled", Line: 11}}
	split := []StackFrame{{ClassName: "Ar", MethodName: "un", Type: "JIT compiled", Line: 10}}

	assert.Equal(t, StackHash(a), StackHash([]StackFrame{a[0]}))
	assert.NotEqual(t, StackHash(a), StackHash(b))
	assert.NotEqual(t, StackHash(a), StackHash(split))
	assert.NotEqual(t, StackHash(a), StackHash(append(a, a[0])))
}
