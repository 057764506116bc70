package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kenbi/internal/model"
)

const profileColumns = `id, name, project, event_source, garbage_collector, event_types, debug_symbols, started_at, created_at`

// CreateProfile inserts a profile. A nil ID is replaced by a fresh one and a
// zero CreatedAt by now.
func (db *DB) CreateProfile(ctx context.Context, info model.ProfileInfo) (model.ProfileInfo, error) {
	if info.ID == uuid.Nil {
		info.ID = uuid.New()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	if info.EventSource == "" {
		info.EventSource = model.SourceUnknown
	}
	if info.GarbageCollector == "" {
		info.GarbageCollector = model.GCUnknown
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		info.ID, info.Name, info.Project, string(info.EventSource), string(info.GarbageCollector),
		eventTypeStrings(info.EventTypes), info.DebugSymbols, nullTime(info.StartedAt), info.CreatedAt,
	)
	if err != nil {
		return model.ProfileInfo{}, fmt.Errorf("storage: create profile: %w", err)
	}
	db.logger.Info("storage: profile created", "profile_id", info.ID, "name", info.Name)
	return info, nil
}

// GetProfile returns a profile by ID.
func (db *DB) GetProfile(ctx context.Context, id uuid.UUID) (model.ProfileInfo, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	if err != nil {
		return model.ProfileInfo{}, fmt.Errorf("storage: get profile: %w", err)
	}
	info, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ProfileInfo{}, profileNotFound(id)
	}
	if err != nil {
		return model.ProfileInfo{}, fmt.Errorf("storage: get profile: %w", err)
	}
	return info, nil
}

// ListProfiles returns every profile, newest first.
func (db *DB) ListProfiles(ctx context.Context) ([]model.ProfileInfo, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list profiles: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanProfile)
	if err != nil {
		return nil, fmt.Errorf("storage: list profiles: %w", err)
	}
	return out, nil
}

// DeleteProfile removes a profile with its stacks, records and results.
func (db *DB) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return profileNotFound(id)
	}
	db.logger.Info("storage: profile deleted", "profile_id", id)
	return nil
}

func scanProfile(row pgx.CollectableRow) (model.ProfileInfo, error) {
	var (
		info       model.ProfileInfo
		source     string
		gc         string
		eventTypes []string
		startedAt  *time.Time
	)
	err := row.Scan(&info.ID, &info.Name, &info.Project, &source, &gc, &eventTypes,
		&info.DebugSymbols, &startedAt, &info.CreatedAt)
	if err != nil {
		return model.ProfileInfo{}, err
	}
	info.EventSource = model.EventSource(source)
	info.GarbageCollector = model.GarbageCollector(gc)
	for _, t := range eventTypes {
		info.EventTypes = append(info.EventTypes, model.EventType(t))
	}
	if startedAt != nil {
		info.StartedAt = startedAt.UTC()
	}
	info.CreatedAt = info.CreatedAt.UTC()
	return info, nil
}

func eventTypeStrings(types []model.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
