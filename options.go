package kenbi

import (
	"log/slog"

	"github.com/ashita-ai/kenbi/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds every override after applying defaults.
type resolvedOptions struct {
	storage       string
	dataDir       string
	databaseURL   string
	rulesPath     string
	noCache       bool
	logger        *slog.Logger
	version       string
	guardianHooks []GuardianHook
}

// apply copies explicit overrides onto cfg.
func (o resolvedOptions) apply(cfg *config.Config) {
	if o.storage != "" {
		cfg.Storage = o.storage
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.rulesPath != "" {
		cfg.GuardianRulesPath = o.rulesPath
	}
	if o.noCache {
		cfg.CacheEnabled = false
	}
}

// WithStorage overrides the backend from config (KENBI_STORAGE env var):
// "sqlite" or "postgres".
func WithStorage(kind string) Option {
	return func(o *resolvedOptions) { o.storage = kind }
}

// WithDataDir overrides the SQLite profile directory (KENBI_DATA_DIR env var).
func WithDataDir(dir string) Option {
	return func(o *resolvedOptions) { o.dataDir = dir }
}

// WithDatabaseURL overrides the Postgres connection string (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithGuardianRules overrides the rule overrides file (KENBI_GUARDIAN_RULES env var).
func WithGuardianRules(path string) Option {
	return func(o *resolvedOptions) { o.rulesPath = path }
}

// WithoutCache disables the rendered payload cache.
func WithoutCache() Option {
	return func(o *resolvedOptions) { o.noCache = true }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported to MCP clients and in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithGuardianHook registers a hook notified of every fresh guardian run.
func WithGuardianHook(hook GuardianHook) Option {
	return func(o *resolvedOptions) { o.guardianHooks = append(o.guardianHooks, hook) }
}
