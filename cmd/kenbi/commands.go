package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/kenbi"
	"github.com/ashita-ai/kenbi/internal/frame/processor"
	"github.com/ashita-ai/kenbi/internal/model"
	"github.com/ashita-ai/kenbi/internal/service/analysis"
)

// selectionFlags are shared by every command that reads one profile.
type selectionFlags struct {
	eventType string
	from      time.Duration
	to        time.Duration
	useWeight bool
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(
		&f.eventType, "event-type", "e", "", "event type to read (default: first execution event type)")
	cmd.Flags().DurationVar(
		&f.from, "from", 0, "skip samples recorded before this offset from the start")
	cmd.Flags().DurationVar(
		&f.to, "to", 0, "skip samples recorded at or after this offset from the start (0 = end)")
	cmd.Flags().BoolVarP(
		&f.useWeight, "weight", "w", false, "aggregate sample weight instead of sample counts")
}

func (f *selectionFlags) selection(id uuid.UUID) analysis.Selection {
	return analysis.Selection{
		ProfileID: id,
		EventType: model.EventType(f.eventType),
		Range:     timeRange(f.from, f.to),
	}
}

// timeRange is unbounded unless an offset was given.
func timeRange(from, to time.Duration) model.TimeRange {
	if from == 0 && to == 0 {
		return model.Unbounded()
	}
	return model.Relative(from, to)
}

// processingFlags control how stacks become tree paths.
type processingFlags struct {
	threadMode      bool
	collapseLambdas bool
	lineNumbers     bool
}

func (f *processingFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(
		&f.threadMode, "thread-mode", false, "root each stack at its thread name")
	cmd.Flags().BoolVar(
		&f.collapseLambdas, "collapse-lambdas", false, "collapse lambda forwarding frames")
	cmd.Flags().BoolVar(
		&f.lineNumbers, "line-numbers", false, "append source line numbers to Java frames")
}

func (f *processingFlags) options() processor.Options {
	return processor.Options{
		ThreadMode:      f.threadMode,
		CollapseLambdas: f.collapseLambdas,
		LineNumbers:     f.lineNumbers,
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is not a valid profile id", s)
	}
	return id, nil
}

var importConfig struct {
	name      string
	project   string
	source    string
	gc        string
	startedAt string
	batch     int
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "import JSON-lines samples as a new profile",
	Long: `Reads one stack-based record per line from file, or stdin when file is
omitted or "-", and stores them as a new profile. Prints the profile id.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, name := os.Stdin, "stdin"
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			in, name = f, strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		if importConfig.name != "" {
			name = importConfig.name
		}
		info := model.ProfileInfo{
			Name:             name,
			Project:          importConfig.project,
			EventSource:      model.ParseEventSource(importConfig.source),
			GarbageCollector: model.NewGCRegistry().Resolve(importConfig.gc),
		}
		if importConfig.startedAt != "" {
			t, err := time.Parse(time.RFC3339, importConfig.startedAt)
			if err != nil {
				return fmt.Errorf("--started-at: %w", err)
			}
			info.StartedAt = t
		}

		return withApp(cmd, func(ctx context.Context, app *kenbi.App) error {
			created, err := app.CreateProfile(ctx, info)
			if err != nil {
				return err
			}
			n, err := readRecords(in, importConfig.batch, func(batch []*model.StackBasedRecord) error {
				return app.Ingest(created.ID, batch)
			})
			if err != nil {
				return fmt.Errorf("import %s: %w", name, err)
			}
			if err := app.Flush(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "imported %d records into %q\n", n, created.Name)
			fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		})
	},
}

var profilesJSON bool

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "list stored profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *kenbi.App) error {
			profiles, err := app.Analysis().Profiles(ctx)
			if err != nil {
				return err
			}
			if profilesJSON {
				return writeJSON(cmd.OutOrStdout(), profiles)
			}
			renderProfiles(cmd.OutOrStdout(), profiles, time.Now())
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <profile-id>",
	Short: "delete a profile and its samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *kenbi.App) error {
			return app.DeleteProfile(ctx, id)
		})
	},
}

var flamegraphConfig struct {
	sel      selectionFlags
	proc     processingFlags
	maxDepth int
	minValue int64
	text     bool
}

var flamegraphCmd = &cobra.Command{
	Use:   "flamegraph <profile-id>",
	Short: "render the call tree of a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *kenbi.App) error {
			fg, err := app.Analysis().Flamegraph(ctx, analysis.FlamegraphRequest{
				Selection:  flamegraphConfig.sel.selection(id),
				UseWeight:  flamegraphConfig.sel.useWeight,
				Processing: flamegraphConfig.proc.options(),
				MinValue:   flamegraphConfig.minValue,
				MaxDepth:   flamegraphConfig.maxDepth,
			})
			if err != nil {
				return err
			}
			if flamegraphConfig.text {
				renderTree(cmd.OutOrStdout(), fg.Root)
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), fg)
		})
	},
}

var hotConfig struct {
	sel   selectionFlags
	proc  processingFlags
	limit int
}

var hotCmd = &cobra.Command{
	Use:   "hot <profile-id>",
	Short: "list the frames with the most self time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *kenbi.App) error {
			hot, err := app.Analysis().HotFrames(ctx, analysis.HotFramesRequest{
				Selection:  hotConfig.sel.selection(id),
				UseWeight:  hotConfig.sel.useWeight,
				Processing: hotConfig.proc.options(),
				Limit:      hotConfig.limit,
			})
			if err != nil {
				return err
			}
			renderHotFrames(cmd.OutOrStdout(), hot)
			return nil
		})
	},
}

var diffConfig struct {
	sel      selectionFlags
	proc     processingFlags
	minValue int64
	top      int
	json     bool
}

var diffCmd = &cobra.Command{
	Use:   "diff <primary-id> <secondary-id>",
	Short: "compare two profiles",
	Long: `Builds a differential tree of the primary profile against the secondary.
Deltas are primary minus secondary: a positive self delta is a frame that got
hotter in the primary.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		primary, err := parseID(args[0])
		if err != nil {
			return err
		}
		secondary, err := parseID(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *kenbi.App) error {
			d, err := app.Analysis().Diff(ctx, analysis.DiffRequest{
				Primary:    diffConfig.sel.selection(primary),
				Secondary:  diffConfig.sel.selection(secondary),
				UseWeight:  diffConfig.sel.useWeight,
				Processing: diffConfig.proc.options(),
				MinValue:   diffConfig.minValue,
				TopChanges: diffConfig.top,
			})
			if err != nil {
				return err
			}
			if diffConfig.json {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			renderChanges(cmd.OutOrStdout(), d.Changes)
			return nil
		})
	},
}

var guardianConfig struct {
	json bool
	all  bool
}

var guardianCmd = &cobra.Command{
	Use:   "guardian <profile-id>",
	Short: "run the guardian rule library on a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *kenbi.App) error {
			report, err := app.Analysis().Guardian(ctx, id)
			if err != nil {
				return err
			}
			if guardianConfig.json {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			renderGuardian(cmd.OutOrStdout(), report.Results, guardianConfig.all)
			return nil
		})
	},
}

var timeseriesConfig struct {
	sel     selectionFlags
	width   int
	height  int
	buckets int
	json    bool
}

var timeseriesCmd = &cobra.Command{
	Use:   "timeseries <profile-id>",
	Short: "plot samples per second of recording time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *kenbi.App) error {
			ts, err := app.Analysis().Timeseries(ctx, analysis.TimeseriesRequest{
				Selection:        timeseriesConfig.sel.selection(id),
				UseWeight:        timeseriesConfig.sel.useWeight,
				BucketsPerSecond: timeseriesConfig.buckets,
			})
			if err != nil {
				return err
			}
			if timeseriesConfig.json {
				return writeJSON(cmd.OutOrStdout(), ts)
			}
			plot := ts.Series.Plot(timeseriesConfig.width, timeseriesConfig.height, string(ts.EventType))
			if plot == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "no samples")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), plot)
			return nil
		})
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "serve the analyses over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *kenbi.App) error {
			return app.ServeMCP(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		})
	},
}

func init() {
	importCmd.Flags().StringVar(
		&importConfig.name, "name", "", "profile name (default: file name)")
	importCmd.Flags().StringVar(
		&importConfig.project, "project", "", "project the profile belongs to")
	importCmd.Flags().StringVar(
		&importConfig.source, "source", "async-profiler", "profiler that produced the samples: jdk or async-profiler")
	importCmd.Flags().StringVar(
		&importConfig.gc, "gc", "", "garbage collector of the profiled JVM, e.g. G1, ZGC, Shenandoah")
	importCmd.Flags().StringVar(
		&importConfig.startedAt, "started-at", "", "recording start time (RFC 3339)")
	importCmd.Flags().IntVar(
		&importConfig.batch, "batch", 1000, "records handed to the ingest buffer at a time")

	profilesCmd.Flags().BoolVar(&profilesJSON, "json", false, "print JSON instead of a table")

	flamegraphConfig.sel.register(flamegraphCmd)
	flamegraphConfig.proc.register(flamegraphCmd)
	flamegraphCmd.Flags().IntVar(
		&flamegraphConfig.maxDepth, "max-depth", 0, "maximum depth below the root (0 = unlimited)")
	flamegraphCmd.Flags().Int64Var(
		&flamegraphConfig.minValue, "min-value", 0, "omit frames with a smaller value")
	flamegraphCmd.Flags().BoolVar(
		&flamegraphConfig.text, "text", false, "print an indented tree instead of JSON")

	hotConfig.sel.register(hotCmd)
	hotConfig.proc.register(hotCmd)
	hotCmd.Flags().IntVarP(&hotConfig.limit, "limit", "n", 20, "number of frames")

	diffConfig.sel.register(diffCmd)
	diffConfig.proc.register(diffCmd)
	diffCmd.Flags().Int64Var(
		&diffConfig.minValue, "min-value", 0, "omit frames whose value is smaller on both sides")
	diffCmd.Flags().IntVarP(&diffConfig.top, "top", "n", 10, "number of largest changes to report")
	diffCmd.Flags().BoolVar(&diffConfig.json, "json", false, "print the full diff tree as JSON")

	guardianCmd.Flags().BoolVar(&guardianConfig.json, "json", false, "print JSON instead of a table")
	guardianCmd.Flags().BoolVar(
		&guardianConfig.all, "all", false, "include passed and not applicable rules")

	timeseriesConfig.sel.register(timeseriesCmd)
	timeseriesCmd.Flags().IntVar(&timeseriesConfig.width, "width", 80, "chart width in columns")
	timeseriesCmd.Flags().IntVar(&timeseriesConfig.height, "height", 12, "chart height in rows")
	timeseriesCmd.Flags().IntVar(
		&timeseriesConfig.buckets, "buckets", 0, "heatmap buckets per second (JSON output only)")
	timeseriesCmd.Flags().BoolVar(&timeseriesConfig.json, "json", false, "print JSON instead of a chart")
}
