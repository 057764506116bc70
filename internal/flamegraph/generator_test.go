package flamegraph

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/frame/processor"
	"github.com/ashita-ai/kenbi/internal/model"
)

func record(samples, weight int64, methods ...string) *model.StackBasedRecord {
	frames := make([]model.StackFrame, len(methods))
	for i, m := range methods {
		frames[i] = model.StackFrame{MethodName: m, Type: "JIT compiled"}
	}
	return &model.StackBasedRecord{
		EventType: model.EventExecutionSample,
		Frames:    frames,
		Samples:   samples,
		Weight:    weight,
	}
}

func newGenerator(workers, size int) *Generator {
	return NewGenerator(processor.NewChain(frame.NewRegistry(), processor.Options{}), workers, size)
}

func fixture() []*model.StackBasedRecord {
	var recs []*model.StackBasedRecord
	for i := range 200 {
		recs = append(recs,
			record(1, int64(i), "main", "service", fmt.Sprintf("handler-%d", i%5), "encode"),
			record(2, 10, "main", "gc"),
		)
	}
	recs = append(recs, &model.StackBasedRecord{EventType: model.EventExecutionSample})
	return recs
}

func TestBuildTreeSharedPrefix(t *testing.T) {
	g := newGenerator(1, 0)
	tree := g.BuildTree(slices.Values([]*model.StackBasedRecord{
		record(1, 0, "A", "B", "C"),
		record(1, 0, "A", "B", "D"),
	}))

	a, ok := tree.Root().Child("A")
	require.True(t, ok)
	assert.Equal(t, int64(2), a.TotalSamples())
	b, ok := a.Child("B")
	require.True(t, ok)
	assert.Equal(t, int64(2), b.TotalSamples())
	require.Equal(t, 2, b.NumChildren())
	assert.Equal(t, int64(1), b.ChildAt(0).TotalSamples())
	assert.Equal(t, int64(1), b.ChildAt(1).TotalSamples())
}

func TestPartitionedBuildMatchesSequential(t *testing.T) {
	recs := fixture()
	want := newGenerator(1, 0).BuildTree(slices.Values(recs))

	for _, tc := range []struct {
		workers, size int
	}{
		{1, 1},
		{4, 7},
		{8, 64},
		{3, 1000},
	} {
		t.Run(fmt.Sprintf("workers=%d/size=%d", tc.workers, tc.size), func(t *testing.T) {
			g := newGenerator(tc.workers, tc.size)
			assert.True(t, frame.Equal(want, g.Build(slices.Values(recs))), "streamed build")
			assert.True(t, frame.Equal(want, g.BuildPartitions(Partition(recs, tc.size))), "partition build")
		})
	}
}

func TestBuildEmpty(t *testing.T) {
	g := newGenerator(2, 10)
	assert.True(t, g.Build(slices.Values([]*model.StackBasedRecord(nil))).Empty())
	assert.True(t, g.BuildPartitions(nil).Empty())
}

func TestRecordsWithoutStackAreSkipped(t *testing.T) {
	g := newGenerator(1, 0)
	tree := g.BuildTree(slices.Values([]*model.StackBasedRecord{
		record(3, 30, "A"),
		{EventType: model.EventExecutionSample, Samples: 100, Weight: 100},
	}))
	assert.Equal(t, int64(3), tree.Root().TotalSamples())
	assert.Equal(t, int64(30), tree.Root().TotalWeight())
}

func TestPartition(t *testing.T) {
	recs := fixture()[:10]
	parts := Partition(recs, 4)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 4)
	assert.Len(t, parts[1], 4)
	assert.Len(t, parts[2], 2)
	assert.Empty(t, Partition(nil, 4))
}

func TestTopFrames(t *testing.T) {
	g := newGenerator(1, 0)
	tree := g.BuildTree(slices.Values([]*model.StackBasedRecord{
		record(5, 50, "main", "parse"),
		record(3, 300, "main", "worker", "parse"),
		record(2, 20, "main", "encode"),
		record(2, 20, "main", "zip"),
	}))

	top := TopFrames(tree, 2, false)
	require.Len(t, top, 2)
	assert.Equal(t, "parse", top[0].Name)
	assert.Equal(t, int64(8), top[0].Self)
	assert.InDelta(t, 66.666, top[0].Percent, 0.01)
	assert.Equal(t, "encode", top[1].Name, "ties ordered by name")

	byWeight := TopFrames(tree, 0, true)
	require.Len(t, byWeight, 3)
	assert.Equal(t, "parse", byWeight[0].Name)
	assert.Equal(t, int64(350), byWeight[0].Self)
	assert.Equal(t, "JIT_COMPILED", byWeight[0].FrameType)
}
