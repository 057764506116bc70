// Command kenbi imports JVM profiling samples and analyzes them: flamegraphs,
// differential flamegraphs, the guardian rule library and timeseries. It also
// serves the same analyses to agents over MCP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kenbi"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	storageKind string
	dataDir     string
	databaseURL string
	rulesPath   string
	noCache     bool
)

var rootCmd = &cobra.Command{
	Use:           "kenbi [command] (flags)",
	Short:         "JVM profile analysis: flamegraphs, diffs and guardian rules",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	os.Exit(run0())
}

func run0() int {
	// stdout carries command output and the MCP transport; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("KENBI_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		importCmd,
		profilesCmd,
		deleteCmd,
		flamegraphCmd,
		hotCmd,
		diffCmd,
		guardianCmd,
		timeseriesCmd,
		mcpCmd,
	)
	rootCmd.PersistentFlags().StringVar(
		&storageKind, "storage", "", "storage backend: sqlite or postgres (default from KENBI_STORAGE)")
	rootCmd.PersistentFlags().StringVar(
		&dataDir, "data-dir", "", "directory of the SQLite profile databases (default from KENBI_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(
		&databaseURL, "database-url", "", "Postgres connection string (default from DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(
		&rulesPath, "rules", "", "YAML guardian rule overrides (default from KENBI_GUARDIAN_RULES)")
	rootCmd.PersistentFlags().BoolVar(
		&noCache, "no-cache", false, "disable the rendered payload cache")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// withApp builds the App from the global flags, runs fn and shuts the App
// down. The shutdown error is reported only when fn succeeded.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *kenbi.App) error) (err error) {
	opts := []kenbi.Option{
		kenbi.WithLogger(slog.Default()),
		kenbi.WithVersion(version),
		kenbi.WithStorage(storageKind),
		kenbi.WithDataDir(dataDir),
		kenbi.WithDatabaseURL(databaseURL),
		kenbi.WithGuardianRules(rulesPath),
	}
	if noCache {
		opts = append(opts, kenbi.WithoutCache())
	}
	ctx := cmd.Context()
	app, err := kenbi.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := app.Shutdown(context.WithoutCancel(ctx)); err == nil {
			err = shutdownErr
		}
	}()
	return fn(ctx, app)
}
