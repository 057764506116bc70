package analysis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kenbi/internal/diff"
	"github.com/ashita-ai/kenbi/internal/flamegraph"
	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/frame/processor"
	"github.com/ashita-ai/kenbi/internal/guardian"
	"github.com/ashita-ai/kenbi/internal/model"
	"github.com/ashita-ai/kenbi/internal/timeseries"
)

// Selection names the records of one profile an analysis reads. An empty
// EventType selects the first recorded execution event type.
type Selection struct {
	ProfileID uuid.UUID
	EventType model.EventType
	Range     model.TimeRange
}

func (sel Selection) key() []string {
	return []string{string(sel.EventType), sel.Range.String()}
}

// resolve loads the profile and turns the selection into a record filter.
func (s *Service) resolve(ctx context.Context, sel Selection) (model.ProfileInfo, model.RecordFilter, error) {
	info, err := s.store.GetProfile(ctx, sel.ProfileID)
	if err != nil {
		return model.ProfileInfo{}, model.RecordFilter{}, err
	}
	eventType, err := resolveEventType(info, sel.EventType, model.KindExecution)
	if err != nil {
		return model.ProfileInfo{}, model.RecordFilter{}, err
	}
	return info, model.RecordFilter{EventType: eventType, Range: sel.Range}, nil
}

// FlamegraphRequest selects records and how they become a flamegraph.
type FlamegraphRequest struct {
	Selection
	UseWeight  bool
	Processing processor.Options
	MinValue   int64
	MaxDepth   int
}

// Flamegraph is a rendered call tree.
type Flamegraph struct {
	EventType model.EventType  `json:"event_type"`
	UseWeight bool             `json:"use_weight"`
	Root      frame.ExportNode `json:"root"`
}

// Flamegraph builds and exports the call tree of a selection.
func (s *Service) Flamegraph(ctx context.Context, req FlamegraphRequest) (Flamegraph, error) {
	_, filter, err := s.resolve(ctx, req.Selection)
	if err != nil {
		return Flamegraph{}, err
	}
	req.EventType = filter.EventType
	key := requestKey("flamegraph", append(req.key(),
		strconv.FormatBool(req.UseWeight), processingKey(req.Processing),
		strconv.FormatInt(req.MinValue, 10), strconv.Itoa(req.MaxDepth))...)

	return shared(ctx, s, "Flamegraph", req.ProfileID, key, true, func(ctx context.Context) (Flamegraph, error) {
		tree, err := s.buildTree(ctx, req.ProfileID, filter, req.Processing)
		if err != nil {
			return Flamegraph{}, err
		}
		return Flamegraph{
			EventType: filter.EventType,
			UseWeight: req.UseWeight,
			Root: frame.Export(tree, frame.ExportOptions{
				UseWeight: req.UseWeight,
				Formatter: model.FormatterFor(filter.EventType.Kind(), req.UseWeight),
				MinValue:  req.MinValue,
				MaxDepth:  req.MaxDepth,
			}),
		}, nil
	})
}

// HotFramesRequest selects records and the number of frames to report.
type HotFramesRequest struct {
	Selection
	UseWeight  bool
	Processing processor.Options
	Limit      int
}

// HotFrames reports the frames with the largest self value.
func (s *Service) HotFrames(ctx context.Context, req HotFramesRequest) ([]flamegraph.HotFrame, error) {
	_, filter, err := s.resolve(ctx, req.Selection)
	if err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	req.EventType = filter.EventType
	key := requestKey("hot", append(req.key(),
		strconv.FormatBool(req.UseWeight), processingKey(req.Processing), strconv.Itoa(req.Limit))...)

	return shared(ctx, s, "HotFrames", req.ProfileID, key, true, func(ctx context.Context) ([]flamegraph.HotFrame, error) {
		tree, err := s.buildTree(ctx, req.ProfileID, filter, req.Processing)
		if err != nil {
			return nil, err
		}
		return flamegraph.TopFrames(tree, req.Limit, req.UseWeight), nil
	})
}

// DiffRequest compares the same event type of two selections. The event
// type of the primary selection applies to both.
type DiffRequest struct {
	Primary    Selection
	Secondary  Selection
	UseWeight  bool
	Processing processor.Options
	MinValue   int64
	TopChanges int
}

// Diff is a rendered differential tree with its largest self changes.
type Diff struct {
	EventType model.EventType `json:"event_type"`
	UseWeight bool            `json:"use_weight"`
	Root      diff.ExportNode `json:"root"`
	Changes   []diff.Change   `json:"changes"`
}

// Diff builds both trees concurrently and compares them.
func (s *Service) Diff(ctx context.Context, req DiffRequest) (Diff, error) {
	_, pFilter, err := s.resolve(ctx, req.Primary)
	if err != nil {
		return Diff{}, err
	}
	sInfo, err := s.store.GetProfile(ctx, req.Secondary.ProfileID)
	if err != nil {
		return Diff{}, err
	}
	if _, err := resolveEventType(sInfo, pFilter.EventType, pFilter.EventType.Kind()); err != nil {
		return Diff{}, err
	}
	sFilter := model.RecordFilter{EventType: pFilter.EventType, Range: req.Secondary.Range}
	if req.TopChanges <= 0 {
		req.TopChanges = 10
	}
	key := requestKey("diff", req.Secondary.ProfileID.String(), string(pFilter.EventType),
		req.Primary.Range.String(), req.Secondary.Range.String(), strconv.FormatBool(req.UseWeight),
		processingKey(req.Processing), strconv.FormatInt(req.MinValue, 10), strconv.Itoa(req.TopChanges))

	// Not cached: the entry would live in the primary profile only and go
	// stale when the secondary one changes.
	return shared(ctx, s, "Diff", req.Primary.ProfileID, key, false, func(ctx context.Context) (Diff, error) {
		var primary, secondary *frame.Tree
		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			t, err := s.buildTree(egCtx, req.Primary.ProfileID, pFilter, req.Processing)
			primary = t
			return err
		})
		eg.Go(func() error {
			t, err := s.buildTree(egCtx, req.Secondary.ProfileID, sFilter, req.Processing)
			secondary = t
			return err
		})
		if err := eg.Wait(); err != nil {
			return Diff{}, err
		}
		root := diff.Generate(primary, secondary)
		return Diff{
			EventType: pFilter.EventType,
			UseWeight: req.UseWeight,
			Root: diff.Export(root, diff.ExportOptions{
				UseWeight: req.UseWeight,
				Formatter: model.FormatterFor(pFilter.EventType.Kind(), req.UseWeight),
				MinValue:  req.MinValue,
			}),
			Changes: diff.TopChanges(root, req.TopChanges, req.UseWeight),
		}, nil
	})
}

// GuardianReport is the outcome of the rule library on one profile.
type GuardianReport struct {
	ProfileID uuid.UUID                 `json:"profile_id"`
	Results   []guardian.ExportResult   `json:"results"`
	Counts    map[guardian.Severity]int `json:"counts"`
}

// Guardian builds the trees the applicable guards read and evaluates them.
// Fresh results are handed to the result sink when one is configured.
func (s *Service) Guardian(ctx context.Context, id uuid.UUID) (GuardianReport, error) {
	info, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return GuardianReport{}, err
	}
	key := requestKey("guardian", strconv.FormatBool(s.opts.CollapseLambdas), s.provider.Fingerprint())

	return shared(ctx, s, "Guardian", id, key, true, func(ctx context.Context) (GuardianReport, error) {
		popts := processor.Options{CollapseLambdas: s.opts.CollapseLambdas}
		kinds := s.provider.NeedsKinds(info)
		trees := make([]*frame.Tree, len(kinds))
		eg, egCtx := errgroup.WithContext(ctx)
		for i, kind := range kinds {
			eventType, ok := info.FirstOfKind(kind)
			if !ok {
				continue
			}
			eg.Go(func() error {
				t, err := s.buildTree(egCtx, id, model.RecordFilter{EventType: eventType}, popts)
				trees[i] = t
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return GuardianReport{}, err
		}

		in := guardian.Input{Info: info, Trees: make(map[model.RecordKind]*frame.Tree, len(kinds))}
		for i, kind := range kinds {
			if trees[i] != nil {
				in.Trees[kind] = trees[i]
			}
		}
		results := s.provider.Run(in)

		counts := guardian.Count(results)
		for sev, n := range counts {
			s.findings.Add(ctx, int64(n), metric.WithAttributes(attribute.String("severity", sev.String())))
		}
		s.logger.Info("analysis: guardian evaluated",
			"profile_id", id,
			"guards", len(results),
			"warnings", counts[guardian.SeverityWarning],
		)
		if s.results != nil {
			if _, err := s.results.SaveGuardianResults(ctx, id, results); err != nil {
				return GuardianReport{}, fmt.Errorf("analysis: save guardian results: %w", err)
			}
		}
		return GuardianReport{ProfileID: id, Results: guardian.Export(results), Counts: counts}, nil
	})
}

// TimeseriesRequest selects records and the aggregation.
type TimeseriesRequest struct {
	Selection
	UseWeight bool
	// BucketsPerSecond adds a heatmap when positive.
	BucketsPerSecond int
}

// Timeseries is a per-second series with an optional heatmap.
type Timeseries struct {
	EventType model.EventType     `json:"event_type"`
	Series    timeseries.Series   `json:"series"`
	Heatmap   *timeseries.Heatmap `json:"heatmap,omitempty"`
}

// Timeseries aggregates the selection over recording time.
func (s *Service) Timeseries(ctx context.Context, req TimeseriesRequest) (Timeseries, error) {
	_, filter, err := s.resolve(ctx, req.Selection)
	if err != nil {
		return Timeseries{}, err
	}
	req.EventType = filter.EventType
	key := requestKey("timeseries", append(req.key(),
		strconv.FormatBool(req.UseWeight), strconv.Itoa(req.BucketsPerSecond))...)

	return shared(ctx, s, "Timeseries", req.ProfileID, key, true, func(ctx context.Context) (Timeseries, error) {
		opts := timeseries.Options{UseWeight: req.UseWeight}
		seq, streamErr := s.records(ctx, req.ProfileID, filter)
		out := Timeseries{EventType: filter.EventType, Series: timeseries.Build(seq, opts)}
		if err := streamErr(); err != nil {
			return Timeseries{}, fmt.Errorf("analysis: stream records of %s: %w", req.ProfileID, err)
		}
		if req.BucketsPerSecond > 0 {
			seq, streamErr := s.records(ctx, req.ProfileID, filter)
			h := timeseries.BuildHeatmap(seq, req.BucketsPerSecond, opts)
			if err := streamErr(); err != nil {
				return Timeseries{}, fmt.Errorf("analysis: stream records of %s: %w", req.ProfileID, err)
			}
			out.Heatmap = &h
		}
		if out.Series.Dropped > 0 {
			s.logger.Warn("analysis: timeseries dropped out-of-range records",
				"profile_id", req.ProfileID,
				"dropped", out.Series.Dropped,
				"max_seconds", timeseries.DefaultMaxSeconds,
			)
		}
		return out, nil
	})
}
