// Package kenbi is the public API for embedding the kenbi profile analyzer.
//
// The CLI and other consumers import this package to construct the
// application without reaching into internal packages:
//
//	app, err := kenbi.New(ctx,
//	    kenbi.WithVersion(version),
//	    kenbi.WithLogger(logger),
//	    kenbi.WithGuardianHook(myHook{}),
//	)
//	if err != nil { ... }
//	defer app.Shutdown(context.Background())
//
// The import graph is one-way: kenbi (root) imports internal/*, internal/*
// never imports kenbi. Public types are standalone structs; conversion
// helpers live here because this is the only file that sees both sides.
package kenbi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/kenbi/internal/config"
	"github.com/ashita-ai/kenbi/internal/guardian"
	"github.com/ashita-ai/kenbi/internal/mcp"
	"github.com/ashita-ai/kenbi/internal/model"
	"github.com/ashita-ai/kenbi/internal/profiledb"
	"github.com/ashita-ai/kenbi/internal/service/analysis"
	"github.com/ashita-ai/kenbi/internal/service/ingest"
	"github.com/ashita-ai/kenbi/internal/storage"
	"github.com/ashita-ai/kenbi/internal/telemetry"
	"github.com/ashita-ai/kenbi/migrations"
)

// store is what both storage backends provide.
type store interface {
	analysis.Store
	ingest.Sink
	CreateProfile(ctx context.Context, info model.ProfileInfo) (model.ProfileInfo, error)
	DeleteProfile(ctx context.Context, id uuid.UUID) error
}

// App is the kenbi lifecycle. Construct with New, release with Shutdown.
type App struct {
	cfg          config.Config
	store        store
	closeStore   func() error
	buf          *ingest.Buffer
	svc          *analysis.Service
	mcp          *mcp.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
}

// New loads configuration, opens the configured store, and wires ingestion,
// analysis and the MCP server. The ingest buffer's flush loop runs until
// Shutdown.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present.
	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kenbi starting", "version", version, "storage", cfg.Storage)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	st, cache, results, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = closeStore()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	guards, err := loadGuards(cfg.GuardianRulesPath)
	if err != nil {
		return fail(fmt.Errorf("guardian rules: %w", err))
	}

	var sink analysis.ResultSink
	if results != nil || len(o.guardianHooks) > 0 {
		sink = &hookSink{store: results, hooks: o.guardianHooks, logger: logger}
	}
	if !cfg.CacheEnabled {
		cache = nil
	}
	svc, err := analysis.New(st, logger, analysis.Options{
		Workers:         cfg.Workers,
		PartitionSize:   cfg.PartitionSize,
		CollapseLambdas: cfg.CollapseLambdas,
		Guards:          guards,
		MinSamples:      cfg.GuardianMinSample,
		Cache:           cache,
		Results:         sink,
	})
	if err != nil {
		return fail(fmt.Errorf("analysis: %w", err))
	}

	buf := ingest.NewBuffer(st, logger, ingest.Options{
		MaxSize:      cfg.IngestBufferSize,
		FlushTimeout: cfg.IngestFlushTimeout,
	})
	buf.Start(ctx)

	return &App{
		cfg:          cfg,
		store:        st,
		closeStore:   closeStore,
		buf:          buf,
		svc:          svc,
		mcp:          mcp.New(svc, logger, version),
		otelShutdown: otelShutdown,
		logger:       logger,
	}, nil
}

// openStore opens the backend named by cfg. The cache is nil for Postgres
// and the result store is nil for SQLite.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, analysis.Cache, resultStore, func() error, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, nil, nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return db, nil, db, func() error { db.Close(); return nil }, nil
	default:
		cat, err := profiledb.NewCatalog(cfg.DataDir, logger)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("profiledb: %w", err)
		}
		return cat, cat, nil, cat.Close, nil
	}
}

// loadGuards returns the default rule library with the YAML overrides at
// path applied. An empty path keeps the defaults.
func loadGuards(path string) ([]guardian.Guard, error) {
	guards := guardian.DefaultGuards()
	if path == "" {
		return guards, nil
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	ov, err := guardian.LoadOverrides(f)
	if err != nil {
		return nil, err
	}
	return guardian.ApplyOverrides(guards, ov)
}

// Analysis returns the analysis service shared by the CLI and MCP.
func (a *App) Analysis() *analysis.Service {
	return a.svc
}

// Config returns the effective configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// CreateProfile registers a new recording and returns it with its ID.
func (a *App) CreateProfile(ctx context.Context, info model.ProfileInfo) (model.ProfileInfo, error) {
	return a.store.CreateProfile(ctx, info)
}

// DeleteProfile removes a recording and its records.
func (a *App) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	return a.store.DeleteProfile(ctx, id)
}

// Ingest queues records of a profile for storage. Records become visible
// to analyses after the next flush.
func (a *App) Ingest(id uuid.UUID, records []*model.StackBasedRecord) error {
	return a.buf.Append(id, records)
}

// Flush writes every queued record.
func (a *App) Flush(ctx context.Context) error {
	return a.buf.Flush(ctx)
}

// ServeMCP serves the MCP stdio transport until ctx is done or the client
// disconnects.
func (a *App) ServeMCP(ctx context.Context, in io.Reader, out io.Writer) error {
	err := a.mcp.Serve(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown drains the ingest buffer, then closes the store and the
// telemetry exporters.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kenbi shutting down")

	drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a.buf.Drain(drainCtx)
	cancel()

	var errs []error
	if n := a.buf.Len(); n > 0 {
		errs = append(errs, fmt.Errorf("ingest drain incomplete: %d records not stored", n))
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.otelShutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}

	a.logger.Info("kenbi stopped", "records_flushed", a.buf.Flushed(), "records_dropped", a.buf.Dropped())
	return errors.Join(errs...)
}

// resultStore persists guardian runs. Only the Postgres backend has one.
type resultStore interface {
	SaveGuardianResults(ctx context.Context, id uuid.UUID, results []guardian.Result) (uuid.UUID, error)
}

// hookSink persists guardian runs when a result store exists and notifies
// hooks. Hook failures are logged, never returned.
type hookSink struct {
	store  resultStore
	hooks  []GuardianHook
	logger *slog.Logger
}

func (h *hookSink) SaveGuardianResults(ctx context.Context, id uuid.UUID, results []guardian.Result) (uuid.UUID, error) {
	runID := uuid.New()
	if h.store != nil {
		var err error
		if runID, err = h.store.SaveGuardianResults(ctx, id, results); err != nil {
			return uuid.Nil, err
		}
	}
	if len(h.hooks) == 0 {
		return runID, nil
	}
	run := toPublicRun(runID, id, results)
	for _, hook := range h.hooks {
		if err := hook.OnGuardianRun(ctx, run); err != nil {
			h.logger.Warn("kenbi: guardian hook failed", "profile_id", id, "run_id", runID, "error", err)
		}
	}
	return runID, nil
}

func toPublicRun(runID, profileID uuid.UUID, results []guardian.Result) GuardianRun {
	run := GuardianRun{ID: runID, ProfileID: profileID, Findings: make([]Finding, len(results))}
	for i, r := range results {
		run.Findings[i] = Finding{
			Rule:      r.Rule,
			Category:  string(r.Category),
			Severity:  Severity(r.Severity.String()),
			Summary:   r.Summary,
			Solution:  r.Solution,
			Observed:  r.Observed,
			Total:     r.Total,
			Ratio:     r.Ratio,
			Threshold: r.Threshold,
		}
	}
	return run
}
