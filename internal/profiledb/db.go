// Package profiledb stores one profile per embedded SQLite file.
//
// A profile database holds the recording metadata, the distinct stack traces
// (keyed by content hash), the records referencing them, and a cache of
// rendered analysis artifacts. Inserting records invalidates the cache.
package profiledb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/kenbi/internal/model"
)

// ErrNotFound is returned when a profile or cache entry does not exist.
var ErrNotFound = errors.New("profiledb: not found")

// ErrSchemaVersion is returned when a database file was written by an
// incompatible version.
var ErrSchemaVersion = errors.New("profiledb: unsupported schema version")

const schemaVersion = 1

var pragmas = []string{
	"busy_timeout(10000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS profile_info (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	content TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS stacks (
	hash   INTEGER PRIMARY KEY,
	frames TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type     TEXT NOT NULL,
	since_start_ns INTEGER NOT NULL,
	timestamp_ns   INTEGER NOT NULL,
	stack_hash     INTEGER NOT NULL REFERENCES stacks(hash),
	thread_os_id   INTEGER NOT NULL DEFAULT 0,
	thread_java_id INTEGER NOT NULL DEFAULT 0,
	thread_name    TEXT NOT NULL DEFAULT '',
	thread_virtual INTEGER NOT NULL DEFAULT 0,
	samples        INTEGER NOT NULL,
	weight         INTEGER NOT NULL,
	weight_entity  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_records_event_time ON records(event_type, since_start_ns);
CREATE TABLE IF NOT EXISTS cache (
	key        TEXT PRIMARY KEY,
	content    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

// DB is an open profile database. It is safe for concurrent use.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the profile database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	sqlDB, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("profiledb: open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(4)

	d := &DB{db: sqlDB, path: path, logger: logger}
	if err := d.initSchema(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) initSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("profiledb: create schema: %w", err)
	}
	var version int
	err := d.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := d.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("profiledb: record schema version: %w", err)
		}
		d.logger.Debug("profiledb: schema created", "path", d.path, "version", schemaVersion)
		return nil
	case err != nil:
		return fmt.Errorf("profiledb: read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("%w: %s has %d, want %d", ErrSchemaVersion, d.path, version, schemaVersion)
	}
	return nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SaveInfo stores the profile metadata, replacing any previous value.
func (d *DB) SaveInfo(ctx context.Context, info model.ProfileInfo) error {
	return saveInfo(ctx, d.db, info)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func saveInfo(ctx context.Context, db execer, info model.ProfileInfo) error {
	content, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("profiledb: encode info: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO profile_info (id, content) VALUES (1, ?)
		 ON CONFLICT (id) DO UPDATE SET content = excluded.content`, string(content)); err != nil {
		return fmt.Errorf("profiledb: save info: %w", err)
	}
	return nil
}

// Info returns the profile metadata, or ErrNotFound if none was saved.
func (d *DB) Info(ctx context.Context) (model.ProfileInfo, error) {
	return loadInfo(ctx, d.db)
}

func loadInfo(ctx context.Context, db execer) (model.ProfileInfo, error) {
	var content string
	err := db.QueryRowContext(ctx, `SELECT content FROM profile_info WHERE id = 1`).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProfileInfo{}, ErrNotFound
	}
	if err != nil {
		return model.ProfileInfo{}, fmt.Errorf("profiledb: load info: %w", err)
	}
	var info model.ProfileInfo
	if err := json.Unmarshal([]byte(content), &info); err != nil {
		return model.ProfileInfo{}, fmt.Errorf("profiledb: decode info: %w", err)
	}
	return info, nil
}
