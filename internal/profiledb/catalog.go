package profiledb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kenbi/internal/model"
)

const fileExt = ".db"

// Catalog manages a directory of profile databases named <id>.db. Databases
// are opened on first use and kept open until Close.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	open map[uuid.UUID]*DB
}

// NewCatalog creates the directory if needed.
func NewCatalog(dir string, logger *slog.Logger) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("profiledb: create data dir: %w", err)
	}
	return &Catalog{dir: dir, logger: logger, open: make(map[uuid.UUID]*DB)}, nil
}

func (c *Catalog) path(id uuid.UUID) string {
	return filepath.Join(c.dir, id.String()+fileExt)
}

// CreateProfile creates the database for a new profile and stores its
// metadata. A nil ID is replaced by a fresh one and a zero CreatedAt by now.
func (c *Catalog) CreateProfile(ctx context.Context, info model.ProfileInfo) (model.ProfileInfo, error) {
	if info.ID == uuid.Nil {
		info.ID = uuid.New()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	if _, err := os.Stat(c.path(info.ID)); err == nil {
		return model.ProfileInfo{}, fmt.Errorf("profiledb: profile %s already exists", info.ID)
	}
	db, err := c.db(ctx, info.ID, true)
	if err != nil {
		return model.ProfileInfo{}, err
	}
	if err := db.SaveInfo(ctx, info); err != nil {
		return model.ProfileInfo{}, err
	}
	c.logger.Info("profiledb: profile created", "profile_id", info.ID, "name", info.Name)
	return info, nil
}

// Profile returns the open database of a profile.
func (c *Catalog) Profile(ctx context.Context, id uuid.UUID) (*DB, error) {
	return c.db(ctx, id, false)
}

func (c *Catalog) db(ctx context.Context, id uuid.UUID, create bool) (*DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.open[id]; ok {
		return db, nil
	}
	p := c.path(id)
	if !create {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
	}
	db, err := Open(ctx, p, c.logger)
	if err != nil {
		return nil, err
	}
	c.open[id] = db
	return db, nil
}

// GetProfile returns the metadata of a profile.
func (c *Catalog) GetProfile(ctx context.Context, id uuid.UUID) (model.ProfileInfo, error) {
	db, err := c.Profile(ctx, id)
	if err != nil {
		return model.ProfileInfo{}, err
	}
	return db.Info(ctx)
}

// ListProfiles returns the metadata of every profile in the directory,
// newest first. Files that are not profile databases are skipped.
func (c *Catalog) ListProfiles(ctx context.Context) ([]model.ProfileInfo, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("profiledb: read data dir: %w", err)
	}
	var out []model.ProfileInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		info, err := c.GetProfile(ctx, id)
		if err != nil {
			c.logger.Warn("profiledb: skipping unreadable profile", "file", name, "error", err)
			continue
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b model.ProfileInfo) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// InsertRecords appends records to a profile.
func (c *Catalog) InsertRecords(ctx context.Context, id uuid.UUID, records []*model.StackBasedRecord) (int64, error) {
	db, err := c.Profile(ctx, id)
	if err != nil {
		return 0, err
	}
	return db.InsertRecords(ctx, records)
}

// StreamRecords streams the records of a profile.
func (c *Catalog) StreamRecords(ctx context.Context, id uuid.UUID, filter model.RecordFilter, fn func(*model.StackBasedRecord) error) error {
	db, err := c.Profile(ctx, id)
	if err != nil {
		return err
	}
	return db.StreamRecords(ctx, filter, fn)
}

// CacheGet reads a cached artifact of a profile.
func (c *Catalog) CacheGet(ctx context.Context, id uuid.UUID, key string) ([]byte, bool, error) {
	db, err := c.Profile(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return db.CacheGet(ctx, key)
}

// CachePut stores an artifact of a profile.
func (c *Catalog) CachePut(ctx context.Context, id uuid.UUID, key string, content []byte) error {
	db, err := c.Profile(ctx, id)
	if err != nil {
		return err
	}
	return db.CachePut(ctx, key, content)
}

// DeleteProfile closes and removes the database of a profile, including
// its WAL side files.
func (c *Catalog) DeleteProfile(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.path(id)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if db, ok := c.open[id]; ok {
		if err := db.Close(); err != nil {
			c.logger.Warn("profiledb: close before delete", "profile_id", id, "error", err)
		}
		delete(c.open, id)
	}
	for _, f := range []string{p, p + "-wal", p + "-shm"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("profiledb: remove %s: %w", f, err)
		}
	}
	c.logger.Info("profiledb: profile deleted", "profile_id", id)
	return nil
}

// Close closes every open database.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for id, db := range c.open {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("profiledb: close %s: %w", id, err))
		}
		delete(c.open, id)
	}
	return errors.Join(errs...)
}
