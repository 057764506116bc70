// Package analysis turns stored profile records into flamegraphs, diffs,
// guardian reports, hot-frame lists and timeseries.
//
// The CLI and the MCP server both delegate to this service. Records stream
// from the store into fixed-size partitions that are built concurrently and
// merged. Identical concurrent requests share one computation, and rendered
// payloads are cached per profile when a cache is configured.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kenbi/internal/flamegraph"
	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/frame/processor"
	"github.com/ashita-ai/kenbi/internal/guardian"
	"github.com/ashita-ai/kenbi/internal/model"
	"github.com/ashita-ai/kenbi/internal/telemetry"
)

// ErrNoRecords is returned when a profile holds no events of the kind an
// analysis needs.
var ErrNoRecords = errors.New("analysis: no records of the requested kind")

// Store reads profiles and their records. Both profile stores implement it.
type Store interface {
	GetProfile(ctx context.Context, id uuid.UUID) (model.ProfileInfo, error)
	ListProfiles(ctx context.Context) ([]model.ProfileInfo, error)
	StreamRecords(ctx context.Context, id uuid.UUID, filter model.RecordFilter, fn func(*model.StackBasedRecord) error) error
}

// Cache stores rendered payloads per profile.
type Cache interface {
	CacheGet(ctx context.Context, id uuid.UUID, key string) ([]byte, bool, error)
	CachePut(ctx context.Context, id uuid.UUID, key string, content []byte) error
}

// ResultSink persists guardian runs.
type ResultSink interface {
	SaveGuardianResults(ctx context.Context, id uuid.UUID, results []guardian.Result) (uuid.UUID, error)
}

// Options configures a Service.
type Options struct {
	// Workers bounds concurrent partition builds.
	Workers int
	// PartitionSize is the number of records per partial tree.
	PartitionSize int
	// Guardian processing; thread mode is always off for guardian trees.
	CollapseLambdas bool
	// Guards replaces the default rule library when non-nil.
	Guards     []guardian.Guard
	MinSamples int64
	// Cache is optional.
	Cache Cache
	// Results is optional.
	Results ResultSink
}

// Service runs analyses against a Store.
type Service struct {
	store    Store
	cache    Cache
	results  ResultSink
	logger   *slog.Logger
	registry *frame.Registry
	provider *guardian.Provider
	opts     Options

	group  singleflight.Group
	tracer trace.Tracer

	duration   metric.Float64Histogram
	cacheHits  metric.Int64Counter
	findings   metric.Int64Counter
	treeFrames metric.Int64Histogram
}

// New creates an analysis Service.
func New(store Store, logger *slog.Logger, opts Options) (*Service, error) {
	guards := opts.Guards
	if guards == nil {
		guards = guardian.DefaultGuards()
	}
	provider, err := guardian.NewProvider(guards, opts.MinSamples)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	meter := telemetry.Meter("kenbi/analysis")
	duration, _ := meter.Float64Histogram("kenbi.analysis.duration",
		metric.WithDescription("Time to compute an analysis (ms)"),
		metric.WithUnit("ms"),
	)
	cacheHits, _ := meter.Int64Counter("kenbi.analysis.cache_hits",
		metric.WithDescription("Analyses served from the payload cache"),
	)
	findings, _ := meter.Int64Counter("kenbi.guardian.findings",
		metric.WithDescription("Guardian results by severity"),
	)
	treeFrames, _ := meter.Int64Histogram("kenbi.analysis.tree_frames",
		metric.WithDescription("Frames in built call trees"),
	)

	return &Service{
		store:      store,
		cache:      opts.Cache,
		results:    opts.Results,
		logger:     logger,
		registry:   frame.NewRegistry(),
		provider:   provider,
		opts:       opts,
		tracer:     telemetry.Tracer("kenbi/analysis"),
		duration:   duration,
		cacheHits:  cacheHits,
		findings:   findings,
		treeFrames: treeFrames,
	}, nil
}

// Guards returns the names of the configured guards.
func (s *Service) Guards() []string {
	return s.provider.Guards()
}

// Profiles lists the stored profiles.
func (s *Service) Profiles(ctx context.Context) ([]model.ProfileInfo, error) {
	return s.store.ListProfiles(ctx)
}

// Profile returns one profile.
func (s *Service) Profile(ctx context.Context, id uuid.UUID) (model.ProfileInfo, error) {
	return s.store.GetProfile(ctx, id)
}

// resolveEventType picks the requested event type, or the first recorded
// event of kind when none was requested.
func resolveEventType(info model.ProfileInfo, requested model.EventType, kind model.RecordKind) (model.EventType, error) {
	if requested != "" {
		if !info.HasEventType(requested) {
			return "", fmt.Errorf("%w: profile %s has no %s events", ErrNoRecords, info.ID, requested)
		}
		return requested, nil
	}
	t, ok := info.FirstOfKind(kind)
	if !ok {
		return "", fmt.Errorf("%w: profile %s has no %s events", ErrNoRecords, info.ID, kind)
	}
	return t, nil
}

var errStopped = errors.New("analysis: stream stopped")

// records adapts the store's callback stream to an iterator. The returned
// function reports the stream error once the iterator is exhausted.
func (s *Service) records(ctx context.Context, id uuid.UUID, filter model.RecordFilter) (iter.Seq[*model.StackBasedRecord], func() error) {
	var streamErr error
	seq := func(yield func(*model.StackBasedRecord) bool) {
		err := s.store.StreamRecords(ctx, id, filter, func(r *model.StackBasedRecord) error {
			if !yield(r) {
				return errStopped
			}
			return nil
		})
		if !errors.Is(err, errStopped) {
			streamErr = err
		}
	}
	return seq, func() error { return streamErr }
}

// buildTree streams the filtered records of a profile through the processor
// chain into a merged tree.
func (s *Service) buildTree(ctx context.Context, id uuid.UUID, filter model.RecordFilter, popts processor.Options) (*frame.Tree, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.buildTree", trace.WithAttributes(
		attribute.String("kenbi.profile_id", id.String()),
		attribute.String("kenbi.event_type", string(filter.EventType)),
	))
	defer span.End()

	start := time.Now()
	gen := flamegraph.NewGenerator(processor.NewChain(s.registry, popts), s.opts.Workers, s.opts.PartitionSize)
	seq, streamErr := s.records(ctx, id, filter)
	tree := gen.Build(seq)
	if err := streamErr(); err != nil {
		endSpan(span, err)
		return nil, fmt.Errorf("analysis: stream records of %s: %w", id, err)
	}
	s.treeFrames.Record(ctx, int64(tree.Len()))
	s.logger.Debug("analysis: tree built",
		"profile_id", id,
		"event_type", filter.EventType,
		"frames", tree.Len(),
		"build_duration_ms", time.Since(start).Milliseconds(),
	)
	return tree, nil
}

// shared runs compute once per key across concurrent callers and caches its
// JSON payload when cacheable. The computation runs detached from the first
// caller's cancellation; each caller still returns when its own ctx ends.
func shared[T any](ctx context.Context, s *Service, op string, id uuid.UUID, key string, cacheable bool, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx, span := s.tracer.Start(ctx, "analysis."+op, trace.WithAttributes(
		attribute.String("kenbi.profile_id", id.String()),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		s.duration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("op", op)))
	}()

	if cacheable && s.cache != nil {
		if b, ok, err := s.cache.CacheGet(ctx, id, key); err != nil {
			s.logger.Warn("analysis: cache read failed", "op", op, "profile_id", id, "error", err)
		} else if ok {
			var v T
			if err := json.Unmarshal(b, &v); err == nil {
				s.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
				span.SetAttributes(attribute.Bool("kenbi.cache_hit", true))
				return v, nil
			}
			s.logger.Warn("analysis: discarding undecodable cache entry", "op", op, "profile_id", id)
		}
	}

	ch := s.group.DoChan(id.String()+"/"+key, func() (any, error) {
		workCtx := context.WithoutCancel(ctx)
		v, err := compute(workCtx)
		if err != nil {
			return nil, err
		}
		if cacheable && s.cache != nil {
			if b, err := json.Marshal(v); err != nil {
				s.logger.Warn("analysis: encode cache entry", "op", op, "error", err)
			} else if err := s.cache.CachePut(workCtx, id, key, b); err != nil {
				s.logger.Warn("analysis: cache write failed", "op", op, "profile_id", id, "error", err)
			}
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		endSpan(span, ctx.Err())
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			endSpan(span, res.Err)
			return zero, res.Err
		}
		span.SetAttributes(attribute.Bool("kenbi.shared", res.Shared))
		return res.Val.(T), nil
	}
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// requestKey hashes the parts of a request into a cache key.
func requestKey(op string, parts ...string) string {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	return op + ":" + strconv.FormatUint(d.Sum64(), 16)
}

func processingKey(p processor.Options) string {
	return fmt.Sprintf("thread=%t,lambda=%t,lines=%t,hide=%v", p.ThreadMode, p.CollapseLambdas, p.LineNumbers, p.HideTypes)
}
