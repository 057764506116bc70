// Package flamegraph builds call trees from record streams. Records are cut
// into fixed-size partitions, each partition is folded into its own tree by a
// worker, and the partial trees are reduced with frame.MergeAll.
package flamegraph

import (
	"iter"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/frame/processor"
	"github.com/ashita-ai/kenbi/internal/model"
)

// DefaultPartitionSize is the number of records per partial tree when none is
// configured.
const DefaultPartitionSize = 50_000

// Generator builds trees with one processor chain.
type Generator struct {
	chain         *processor.Chain
	workers       int
	partitionSize int
}

// NewGenerator creates a generator. workers <= 0 uses GOMAXPROCS and
// partitionSize <= 0 uses DefaultPartitionSize.
func NewGenerator(chain *processor.Chain, workers, partitionSize int) *Generator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if partitionSize <= 0 {
		partitionSize = DefaultPartitionSize
	}
	return &Generator{chain: chain, workers: workers, partitionSize: partitionSize}
}

// BuildTree folds the records into one tree on the calling goroutine.
func (g *Generator) BuildTree(seq iter.Seq[*model.StackBasedRecord]) *frame.Tree {
	b := frame.NewBuilder()
	var buf []frame.Descriptor
	for rec := range seq {
		buf = g.chain.Descriptors(buf, rec)
		b.Add(buf)
	}
	return b.Build()
}

// Build streams the records into partitions that are built concurrently, at
// most workers at a time, and merges the partial trees. The sequence must
// yield distinct records: a record is read by a worker after the sequence has
// moved on.
func (g *Generator) Build(seq iter.Seq[*model.StackBasedRecord]) *frame.Tree {
	var (
		eg       errgroup.Group
		mu       sync.Mutex
		partials []*frame.Tree
	)
	eg.SetLimit(g.workers)
	submit := func(part []*model.StackBasedRecord) {
		eg.Go(func() error {
			t := g.BuildTree(sliceSeq(part))
			mu.Lock()
			partials = append(partials, t)
			mu.Unlock()
			return nil
		})
	}

	part := make([]*model.StackBasedRecord, 0, g.partitionSize)
	for rec := range seq {
		part = append(part, rec)
		if len(part) == g.partitionSize {
			submit(part)
			part = make([]*model.StackBasedRecord, 0, g.partitionSize)
		}
	}
	if len(part) > 0 {
		submit(part)
	}
	_ = eg.Wait()
	return frame.MergeAll(partials)
}

// BuildPartitions builds one tree per partition concurrently and merges them.
func (g *Generator) BuildPartitions(parts [][]*model.StackBasedRecord) *frame.Tree {
	trees := make([]*frame.Tree, len(parts))
	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for i, part := range parts {
		eg.Go(func() error {
			trees[i] = g.BuildTree(sliceSeq(part))
			return nil
		})
	}
	_ = eg.Wait()
	return frame.MergeAll(trees)
}

// Partition cuts records into consecutive slices of at most size records.
// The slices share the backing array of records.
func Partition(records []*model.StackBasedRecord, size int) [][]*model.StackBasedRecord {
	if size <= 0 {
		size = DefaultPartitionSize
	}
	parts := make([][]*model.StackBasedRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		parts = append(parts, records[start:end:end])
	}
	return parts
}

func sliceSeq(records []*model.StackBasedRecord) iter.Seq[*model.StackBasedRecord] {
	return func(yield func(*model.StackBasedRecord) bool) {
		for _, r := range records {
			if !yield(r) {
				return
			}
		}
	}
}
