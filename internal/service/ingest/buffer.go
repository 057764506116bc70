// Package ingest buffers incoming profile records and writes them to a store
// in batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kenbi/internal/model"
	"github.com/ashita-ai/kenbi/internal/telemetry"
)

// ErrBufferFull is returned by Append when accepting the records would exceed
// the buffer capacity.
var ErrBufferFull = errors.New("ingest: buffer at capacity")

// DefaultCapacity is the upper limit on buffered records.
const DefaultCapacity = 1_000_000

// Sink receives flushed batches. Both profile stores implement it.
type Sink interface {
	InsertRecords(ctx context.Context, profileID uuid.UUID, records []*model.StackBasedRecord) (int64, error)
}

// Options configures a Buffer.
type Options struct {
	// MaxSize triggers a flush once this many records are pending.
	MaxSize int
	// FlushTimeout is the interval of the periodic flush.
	FlushTimeout time.Duration
	// Capacity bounds pending records; zero means DefaultCapacity.
	Capacity int
}

// Buffer accumulates records per profile in memory and flushes them to the
// sink when MaxSize records are pending or FlushTimeout elapses.
type Buffer struct {
	sink   Sink
	logger *slog.Logger
	opts   Options

	mu      sync.Mutex
	pending map[uuid.UUID][]*model.StackBasedRecord
	order   []uuid.UUID
	size    int

	// flushMu serializes flushes so batches of one profile reach the sink in
	// append order.
	flushMu sync.Mutex

	dropped atomic.Int64
	flushed atomic.Int64
	started atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// NewBuffer creates a record buffer. Call Start to run the flush loop.
func NewBuffer(sink Sink, logger *slog.Logger, opts Options) *Buffer {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxSize <= 0 || opts.MaxSize > opts.Capacity {
		opts.MaxSize = min(10_000, opts.Capacity)
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = time.Second
	}
	return &Buffer{
		sink:    sink,
		logger:  logger,
		opts:    opts,
		pending: make(map[uuid.UUID][]*model.StackBasedRecord),
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start begins the background flush loop and registers the buffer gauges.
// A second call is a no-op. Call Drain to stop.
func (b *Buffer) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("ingest: buffer already started")
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Append queues records of a profile. It returns ErrBufferFull instead of
// blocking when the buffer cannot take the whole batch.
func (b *Buffer) Append(profileID uuid.UUID, records []*model.StackBasedRecord) error {
	if len(records) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size+len(records) > b.opts.Capacity {
		return fmt.Errorf("%w (%d records pending)", ErrBufferFull, b.size)
	}
	if _, ok := b.pending[profileID]; !ok {
		b.order = append(b.order, profileID)
	}
	b.pending[profileID] = append(b.pending[profileID], records...)
	b.size += len(records)

	if b.size >= b.opts.MaxSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.FlushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; the final flush runs on the context
			// handed to Drain.
			if b.drainCtx != nil {
				_ = b.Flush(b.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = b.Flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			_ = b.Flush(ctx)
		case <-b.flushCh:
			_ = b.Flush(ctx)
		}
	}
}

// Flush writes every pending batch now. Batches the sink rejects are put
// back for the next flush while capacity allows; otherwise they are dropped
// and counted.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.size == 0 {
		b.mu.Unlock()
		return nil
	}
	batches, order := b.pending, b.order
	b.pending = make(map[uuid.UUID][]*model.StackBasedRecord)
	b.order = nil
	b.size = 0
	b.mu.Unlock()

	var errs []error
	for _, id := range order {
		batch := batches[id]
		start := time.Now()
		count, err := b.sink.InsertRecords(ctx, id, batch)
		if err != nil {
			b.logger.Error("ingest: flush failed", "profile_id", id, "batch_size", len(batch), "error", err)
			b.requeue(id, batch)
			errs = append(errs, fmt.Errorf("ingest: flush profile %s: %w", id, err))
			continue
		}
		b.flushed.Add(count)
		b.logger.Info("ingest: batch flushed",
			"profile_id", id,
			"batch_size", count,
			"flush_duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return errors.Join(errs...)
}

func (b *Buffer) requeue(id uuid.UUID, batch []*model.StackBasedRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size+len(batch) > b.opts.Capacity {
		b.dropped.Add(int64(len(batch)))
		b.logger.Error("ingest: dropping records, buffer at capacity after flush failure",
			"profile_id", id, "dropped", len(batch))
		return
	}
	if _, ok := b.pending[id]; !ok {
		b.order = append([]uuid.UUID{id}, b.order...)
	}
	b.pending[id] = append(batch, b.pending[id]...)
	b.size += len(batch)
}

// Drain stops the flush loop after a final flush and waits for it. ctx bounds
// both the wait and the final flush.
func (b *Buffer) Drain(ctx context.Context) {
	if !b.started.Load() {
		_ = b.Flush(ctx)
		return
	}
	b.drainCtx = ctx
	b.cancelLoop()
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("ingest: drain timed out waiting for flush loop")
	}
}

func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("kenbi/ingest")

	_, _ = meter.Int64ObservableGauge("kenbi.ingest.buffer_depth",
		metric.WithDescription("Records waiting in the ingest buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kenbi.ingest.dropped_total",
		metric.WithDescription("Records dropped after flush failures at capacity"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Dropped())
			return nil
		}),
	)
	_, _ = meter.Int64ObservableCounter("kenbi.ingest.flushed_total",
		metric.WithDescription("Records written to the store"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Flushed())
			return nil
		}),
	)
}

// Len returns the number of pending records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns the number of records lost to flush failures at capacity.
// A non-zero value means data loss.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

// Flushed returns the number of records written to the sink.
func (b *Buffer) Flushed() int64 {
	return b.flushed.Load()
}
