package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kenbi/internal/frame/processor"
	"github.com/ashita-ai/kenbi/internal/model"
	"github.com/ashita-ai/kenbi/internal/service/analysis"
)

func (s *Server) registerTools() {
	// kenbi_profiles: list stored recordings.
	s.mcpServer.AddTool(
		mcplib.NewTool("kenbi_profiles",
			mcplib.WithDescription(`List the recordings stored in kenbi.

WHEN TO USE: FIRST, to find the profile_id of the recording you want to
analyze. Every other kenbi tool takes a profile_id.

Without a project argument the list is narrowed to the project of your
workspace when recordings of that project exist.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project",
				mcplib.Description("Optional: only list recordings of this project"),
			),
		),
		s.handleProfiles,
	)

	// kenbi_guardian: run the rule library.
	s.mcpServer.AddTool(
		mcplib.NewTool("kenbi_guardian",
			mcplib.WithDescription(`Run the guardian rules over a recording and report known JVM performance problems.

WHEN TO USE: as the first analysis of a recording. Guardian checks garbage
collection, JIT compilation, safepoints, exceptions, logging, regular
expressions, boxing and more, and explains how to fix what it finds.

WHAT YOU GET BACK:
- summary: one line per severity
- findings: WARNING and INFO results with explanation and solution
- not_applicable: rules that could not run on this recording`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("profile_id",
				mcplib.Description("Recording to check. Defaults to the recording you analyzed last in this session."),
			),
			mcplib.WithBoolean("include_ok",
				mcplib.Description("Also list rules that passed"),
				mcplib.DefaultBool(false),
			),
		),
		s.handleGuardian,
	)

	// kenbi_hot_frames: frames with the largest self value.
	s.mcpServer.AddTool(
		mcplib.NewTool("kenbi_hot_frames",
			mcplib.WithDescription(`List the methods with the largest self time (or self allocation) in a recording.

WHEN TO USE: to find where a recording spends its samples without reading a
whole flamegraph. Use event_type to switch between CPU, allocation and
blocking events.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("profile_id",
				mcplib.Description("Recording to analyze. Defaults to the recording you analyzed last in this session."),
			),
			mcplib.WithString("event_type",
				mcplib.Description("JFR event type, e.g. jdk.ExecutionSample or jdk.ObjectAllocationSample. Defaults to the first execution event of the recording."),
			),
			mcplib.WithBoolean("use_weight",
				mcplib.Description("Rank by weight (bytes, nanoseconds) instead of sample count"),
			),
			mcplib.WithBoolean("collapse_lambdas",
				mcplib.Description("Collapse lambda forwarding frames"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum frames to return"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleHotFrames,
	)

	// kenbi_diff: compare two recordings.
	s.mcpServer.AddTool(
		mcplib.NewTool("kenbi_diff",
			mcplib.WithDescription(`Compare two recordings of the same application and list the largest changes.

WHEN TO USE: after a change, to see which frames got more or fewer samples.
A positive self_delta means the frame got hotter in the primary recording.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("primary_id",
				mcplib.Description("Recording after the change"),
				mcplib.Required(),
			),
			mcplib.WithString("secondary_id",
				mcplib.Description("Baseline recording"),
				mcplib.Required(),
			),
			mcplib.WithString("event_type",
				mcplib.Description("JFR event type. Defaults to the first execution event of the primary recording."),
			),
			mcplib.WithBoolean("use_weight",
				mcplib.Description("Compare weight instead of sample counts"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum changes to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleDiff,
	)

	// kenbi_flamegraph: the call tree, depth-limited.
	s.mcpServer.AddTool(
		mcplib.NewTool("kenbi_flamegraph",
			mcplib.WithDescription(`Return the call tree of a recording as nested frames.

WHEN TO USE: when hot frames are not enough and you need the callers of a
frame. Keep max_depth small and min_percent above zero; full trees are large.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("profile_id",
				mcplib.Description("Recording to render. Defaults to the recording you analyzed last in this session."),
			),
			mcplib.WithString("event_type",
				mcplib.Description("JFR event type. Defaults to the first execution event of the recording."),
			),
			mcplib.WithBoolean("use_weight",
				mcplib.Description("Size frames by weight instead of sample count"),
			),
			mcplib.WithBoolean("thread_mode",
				mcplib.Description("Group stacks under their thread"),
			),
			mcplib.WithNumber("max_depth",
				mcplib.Description("Maximum tree depth"),
				mcplib.Min(1),
				mcplib.Max(64),
				mcplib.DefaultNumber(8),
			),
			mcplib.WithNumber("min_percent",
				mcplib.Description("Drop subtrees below this share of the total"),
				mcplib.Min(0),
				mcplib.Max(100),
				mcplib.DefaultNumber(1),
			),
		),
		s.handleFlamegraph,
	)

	// kenbi_timeseries: activity over recording time.
	s.mcpServer.AddTool(
		mcplib.NewTool("kenbi_timeseries",
			mcplib.WithDescription(`Return samples per second over the recording.

WHEN TO USE: to find bursts, warm-up or idle phases before narrowing an
analysis to a time range.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("profile_id",
				mcplib.Description("Recording to read. Defaults to the recording you analyzed last in this session."),
			),
			mcplib.WithString("event_type",
				mcplib.Description("JFR event type. Defaults to the first execution event of the recording."),
			),
			mcplib.WithBoolean("use_weight",
				mcplib.Description("Sum weight instead of sample count"),
			),
			mcplib.WithNumber("width",
				mcplib.Description("Number of buckets to return"),
				mcplib.Min(1),
				mcplib.Max(600),
				mcplib.DefaultNumber(60),
			),
		),
		s.handleTimeseries,
	)
}

// profileArg parses the named profile id argument. An omitted id falls back
// to the last profile this session analyzed.
func (s *Server) profileArg(ctx context.Context, request mcplib.CallToolRequest, name string) (uuid.UUID, error) {
	raw := request.GetString(name, "")
	if raw == "" {
		if id, ok := s.recent.Last(sessionID(ctx)); ok {
			return id, nil
		}
		return uuid.Nil, fmt.Errorf("%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %q is not a valid profile id", name, raw)
	}
	return id, nil
}

func (s *Server) handleProfiles(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	profiles, err := s.svc.Profiles(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("list profiles failed: %v", err)), nil
	}

	project := request.GetString("project", "")
	explicit := project != ""
	if !explicit {
		project = inferProjectFromRoots(s.requestRoots(ctx))
	}
	if project != "" {
		var matched []model.ProfileInfo
		for _, p := range profiles {
			if p.Project == project {
				matched = append(matched, p)
			}
		}
		// An inferred project only narrows the list when it matches something.
		if explicit || len(matched) > 0 {
			profiles = matched
		}
	}

	out := make([]map[string]any, len(profiles))
	for i, p := range profiles {
		out[i] = compactProfile(p)
	}
	return jsonResult(map[string]any{
		"profiles": out,
		"total":    len(out),
	}), nil
}

func (s *Server) handleGuardian(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := s.profileArg(ctx, request, "profile_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	report, err := s.svc.Guardian(ctx, id)
	if err != nil {
		return analysisError("guardian", err), nil
	}
	s.recent.Record(sessionID(ctx), id)
	return jsonResult(compactGuardian(report, request.GetBool("include_ok", false))), nil
}

func (s *Server) handleHotFrames(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := s.profileArg(ctx, request, "profile_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	hot, err := s.svc.HotFrames(ctx, analysis.HotFramesRequest{
		Selection: analysis.Selection{
			ProfileID: id,
			EventType: model.EventType(request.GetString("event_type", "")),
		},
		UseWeight:  request.GetBool("use_weight", false),
		Processing: processor.Options{CollapseLambdas: request.GetBool("collapse_lambdas", false)},
		Limit:      request.GetInt("limit", 20),
	})
	if err != nil {
		return analysisError("hot frames", err), nil
	}
	s.recent.Record(sessionID(ctx), id)
	return jsonResult(map[string]any{
		"profile_id": id,
		"frames":     hot,
	}), nil
}

func (s *Server) handleDiff(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	primary, err := uuid.Parse(request.GetString("primary_id", ""))
	if err != nil {
		return errorResult("primary_id must be a valid profile id"), nil
	}
	secondary, err := uuid.Parse(request.GetString("secondary_id", ""))
	if err != nil {
		return errorResult("secondary_id must be a valid profile id"), nil
	}
	d, err := s.svc.Diff(ctx, analysis.DiffRequest{
		Primary: analysis.Selection{
			ProfileID: primary,
			EventType: model.EventType(request.GetString("event_type", "")),
		},
		Secondary:  analysis.Selection{ProfileID: secondary},
		UseWeight:  request.GetBool("use_weight", false),
		TopChanges: request.GetInt("limit", 10),
	})
	if err != nil {
		return analysisError("diff", err), nil
	}
	s.recent.Record(sessionID(ctx), primary)
	return jsonResult(compactDiff(d)), nil
}

func (s *Server) handleFlamegraph(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := s.profileArg(ctx, request, "profile_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	sel := analysis.Selection{ProfileID: id, EventType: model.EventType(request.GetString("event_type", ""))}
	useWeight := request.GetBool("use_weight", false)
	popts := processor.Options{ThreadMode: request.GetBool("thread_mode", false)}

	// min_percent needs the total, which only the unpruned root knows.
	root, err := s.svc.Flamegraph(ctx, analysis.FlamegraphRequest{
		Selection: sel, UseWeight: useWeight, Processing: popts, MaxDepth: 1,
	})
	if err != nil {
		return analysisError("flamegraph", err), nil
	}
	minValue := int64(float64(root.Root.Value) * request.GetFloat("min_percent", 1) / 100)

	fg, err := s.svc.Flamegraph(ctx, analysis.FlamegraphRequest{
		Selection:  sel,
		UseWeight:  useWeight,
		Processing: popts,
		MinValue:   minValue,
		MaxDepth:   request.GetInt("max_depth", 8),
	})
	if err != nil {
		return analysisError("flamegraph", err), nil
	}
	s.recent.Record(sessionID(ctx), id)
	return jsonResult(fg), nil
}

func (s *Server) handleTimeseries(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := s.profileArg(ctx, request, "profile_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	ts, err := s.svc.Timeseries(ctx, analysis.TimeseriesRequest{
		Selection: analysis.Selection{ProfileID: id, EventType: model.EventType(request.GetString("event_type", ""))},
		UseWeight: request.GetBool("use_weight", false),
	})
	if err != nil {
		return analysisError("timeseries", err), nil
	}
	s.recent.Record(sessionID(ctx), id)

	width := request.GetInt("width", 60)
	seconds := len(ts.Series.Points)
	return jsonResult(map[string]any{
		"profile_id":     id,
		"event_type":     ts.EventType,
		"seconds":        seconds,
		"total":          ts.Series.Total(),
		"peak":           ts.Series.Max(),
		"bucket_seconds": bucketSeconds(seconds, width),
		"values":         ts.Series.Values(width),
	}), nil
}

func bucketSeconds(seconds, width int) float64 {
	if width <= 0 || seconds <= width {
		return 1
	}
	return float64(seconds) / float64(width)
}

// analysisError turns service errors into tool errors an agent can act on.
func analysisError(op string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, analysis.ErrNoRecords):
		return errorResult(fmt.Sprintf("%s: %v. Call kenbi_profiles to see the event types of each recording.", op, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorResult(fmt.Sprintf("%s cancelled: %v", op, err))
	default:
		return errorResult(fmt.Sprintf("%s failed: %v", op, err))
	}
}
