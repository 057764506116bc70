package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kenbi/internal/model"
)

const copyTimeout = 30 * time.Second

var recordColumns = []string{
	"profile_id", "event_type", "since_start_ns", "occurred_at", "stack_hash",
	"thread_os_id", "thread_java_id", "thread_name", "thread_virtual",
	"samples", "weight", "weight_entity",
}

// InsertRecords appends records to a profile in one transaction. Distinct
// stacks are upserted in a batch and the records are written with COPY. The
// event types of the batch are merged into the profile's event type list.
func (db *DB) InsertRecords(ctx context.Context, id uuid.UUID, records []*model.StackBasedRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	stacks := make(map[int64][]byte)
	hashes := make([]int64, len(records))
	seenTypes := make(map[model.EventType]bool)
	var types []string
	for i, rec := range records {
		h := int64(model.StackHash(rec.Frames))
		hashes[i] = h
		if _, ok := stacks[h]; !ok {
			frames := rec.Frames
			if frames == nil {
				frames = []model.StackFrame{}
			}
			b, err := json.Marshal(frames)
			if err != nil {
				return 0, fmt.Errorf("storage: encode stack: %w", err)
			}
			stacks[h] = b
		}
		if !seenTypes[rec.EventType] {
			seenTypes[rec.EventType] = true
			types = append(types, string(rec.EventType))
		}
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = []any{
			id, string(rec.EventType), int64(rec.SinceStart), nullTime(rec.Timestamp), hashes[i],
			rec.Thread.OSID, rec.Thread.JavaID, rec.Thread.Name, rec.Thread.Virtual,
			rec.Samples, rec.Weight, rec.WeightEntity,
		}
	}

	var copied int64
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check profile: %w", err)
		}
		if !exists {
			return profileNotFound(id)
		}

		batch := &pgx.Batch{}
		for h, frames := range stacks {
			batch.Queue(`INSERT INTO stacks (profile_id, hash, frames) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
				id, h, frames)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert stacks: %w", err)
		}

		copyCtx, cancel := context.WithTimeout(ctx, copyTimeout)
		defer cancel()
		n, err := tx.CopyFrom(copyCtx, pgx.Identifier{"records"}, recordColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy records: %w", err)
		}
		copied = n

		if _, err := tx.Exec(ctx,
			`UPDATE profiles
			 SET event_types = ARRAY(SELECT DISTINCT t FROM unnest(event_types || $2::text[]) AS t ORDER BY t)
			 WHERE id = $1`, id, types); err != nil {
			return fmt.Errorf("merge event types: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("storage: insert records: %w", err)
	}
	db.logger.Debug("storage: records inserted", "profile_id", id, "records", copied, "stacks", len(stacks))
	return copied, nil
}

// StreamRecords calls fn for every record of a profile matching filter, in
// insertion order. Records sharing a stack share the decoded frame slice. A
// non-nil error from fn stops the stream and is returned.
func (db *DB) StreamRecords(ctx context.Context, id uuid.UUID, filter model.RecordFilter, fn func(*model.StackBasedRecord) error) error {
	where, args := filterClause(id, filter)
	rows, err := db.pool.Query(ctx,
		`SELECT r.event_type, r.since_start_ns, r.occurred_at, r.stack_hash, s.frames,
		        r.thread_os_id, r.thread_java_id, r.thread_name, r.thread_virtual,
		        r.samples, r.weight, r.weight_entity
		 FROM records r
		 JOIN stacks s ON s.profile_id = r.profile_id AND s.hash = r.stack_hash
		 WHERE `+where+`
		 ORDER BY r.id`, args...)
	if err != nil {
		return fmt.Errorf("storage: query records: %w", err)
	}
	defer rows.Close()

	decoded := make(map[int64][]model.StackFrame)
	for rows.Next() {
		var (
			rec        model.StackBasedRecord
			eventType  string
			sinceStart int64
			occurredAt *time.Time
			hash       int64
			frames     []byte
		)
		if err := rows.Scan(&eventType, &sinceStart, &occurredAt, &hash, &frames,
			&rec.Thread.OSID, &rec.Thread.JavaID, &rec.Thread.Name, &rec.Thread.Virtual,
			&rec.Samples, &rec.Weight, &rec.WeightEntity,
		); err != nil {
			return fmt.Errorf("storage: scan record: %w", err)
		}
		stack, ok := decoded[hash]
		if !ok {
			if err := json.Unmarshal(frames, &stack); err != nil {
				return fmt.Errorf("storage: decode stack %x: %w", uint64(hash), err)
			}
			decoded[hash] = stack
		}
		rec.EventType = model.EventType(eventType)
		rec.SinceStart = time.Duration(sinceStart)
		if occurredAt != nil {
			rec.Timestamp = occurredAt.UTC()
		}
		rec.Frames = stack
		if err := fn(&rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: iterate records: %w", err)
	}
	return nil
}

func filterClause(id uuid.UUID, f model.RecordFilter) (string, []any) {
	conds := []string{"r.profile_id = $1"}
	args := []any{id}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.EventType != "" {
		add("r.event_type = $%d", string(f.EventType))
	}
	switch f.Range.Kind() {
	case model.RangeRelative:
		from, to := f.Range.RelativeBounds()
		add("r.since_start_ns >= $%d", int64(from))
		if to != 0 {
			add("r.since_start_ns < $%d", int64(to))
		}
	case model.RangeAbsolute:
		from, to := f.Range.AbsoluteBounds()
		if !from.IsZero() {
			add("r.occurred_at >= $%d", from)
		}
		if !to.IsZero() {
			add("r.occurred_at < $%d", to)
		}
	}
	return strings.Join(conds, " AND "), args
}
