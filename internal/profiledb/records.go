package profiledb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/kenbi/internal/model"
)

// InsertRecords appends records in one transaction. Stacks already stored
// are not written again. Event types not yet listed in the profile metadata
// are added to it, and cached artifacts are dropped.
func (d *DB) InsertRecords(ctx context.Context, records []*model.StackBasedRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("profiledb: begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stackStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO stacks (hash, frames) VALUES (?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("profiledb: prepare stack insert: %w", err)
	}
	defer func() { _ = stackStmt.Close() }()

	recStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (event_type, since_start_ns, timestamp_ns, stack_hash,
		   thread_os_id, thread_java_id, thread_name, thread_virtual, samples, weight, weight_entity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("profiledb: prepare record insert: %w", err)
	}
	defer func() { _ = recStmt.Close() }()

	written := make(map[uint64]bool)
	seenTypes := make(map[model.EventType]bool)
	for _, rec := range records {
		h := model.StackHash(rec.Frames)
		if !written[h] {
			frames, err := json.Marshal(rec.Frames)
			if err != nil {
				return 0, fmt.Errorf("profiledb: encode stack: %w", err)
			}
			if _, err := stackStmt.ExecContext(ctx, int64(h), string(frames)); err != nil {
				return 0, fmt.Errorf("profiledb: insert stack: %w", err)
			}
			written[h] = true
		}
		if _, err := recStmt.ExecContext(ctx,
			string(rec.EventType), int64(rec.SinceStart), unixNanos(rec.Timestamp), int64(h),
			rec.Thread.OSID, rec.Thread.JavaID, rec.Thread.Name, rec.Thread.Virtual,
			rec.Samples, rec.Weight, rec.WeightEntity,
		); err != nil {
			return 0, fmt.Errorf("profiledb: insert record: %w", err)
		}
		seenTypes[rec.EventType] = true
	}

	if err := mergeEventTypes(ctx, tx, seenTypes); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache`); err != nil {
		return 0, fmt.Errorf("profiledb: invalidate cache: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("profiledb: commit insert: %w", err)
	}
	return int64(len(records)), nil
}

func mergeEventTypes(ctx context.Context, tx *sql.Tx, seen map[model.EventType]bool) error {
	info, err := loadInfo(ctx, tx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	changed := false
	for t := range seen {
		if !info.HasEventType(t) {
			info.EventTypes = append(info.EventTypes, t)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	slices.Sort(info.EventTypes)
	return saveInfo(ctx, tx, info)
}

// StreamRecords calls fn for every record matching filter, in insertion
// order. Records sharing a stack share the decoded frame slice. A non-nil
// error from fn stops the stream and is returned.
func (d *DB) StreamRecords(ctx context.Context, filter model.RecordFilter, fn func(*model.StackBasedRecord) error) error {
	where, args := filterClause(filter)
	rows, err := d.db.QueryContext(ctx,
		`SELECT r.event_type, r.since_start_ns, r.timestamp_ns, r.stack_hash, s.frames,
		        r.thread_os_id, r.thread_java_id, r.thread_name, r.thread_virtual,
		        r.samples, r.weight, r.weight_entity
		 FROM records r JOIN stacks s ON s.hash = r.stack_hash`+where+`
		 ORDER BY r.id`, args...)
	if err != nil {
		return fmt.Errorf("profiledb: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stacks := make(map[int64][]model.StackFrame)
	for rows.Next() {
		var (
			rec        model.StackBasedRecord
			eventType  string
			sinceStart int64
			ts         int64
			hash       int64
			frames     string
		)
		if err := rows.Scan(&eventType, &sinceStart, &ts, &hash, &frames,
			&rec.Thread.OSID, &rec.Thread.JavaID, &rec.Thread.Name, &rec.Thread.Virtual,
			&rec.Samples, &rec.Weight, &rec.WeightEntity,
		); err != nil {
			return fmt.Errorf("profiledb: scan record: %w", err)
		}
		stack, ok := stacks[hash]
		if !ok {
			if err := json.Unmarshal([]byte(frames), &stack); err != nil {
				return fmt.Errorf("profiledb: decode stack %x: %w", uint64(hash), err)
			}
			stacks[hash] = stack
		}
		rec.EventType = model.EventType(eventType)
		rec.SinceStart = time.Duration(sinceStart)
		rec.Timestamp = fromUnixNanos(ts)
		rec.Frames = stack
		if err := fn(&rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("profiledb: iterate records: %w", err)
	}
	return nil
}

// CountRecords returns the number of stored records and distinct stacks.
func (d *DB) CountRecords(ctx context.Context) (records, stacks int64, err error) {
	err = d.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM records), (SELECT COUNT(*) FROM stacks)`).Scan(&records, &stacks)
	if err != nil {
		return 0, 0, fmt.Errorf("profiledb: count records: %w", err)
	}
	return records, stacks, nil
}

func filterClause(f model.RecordFilter) (string, []any) {
	var conds []string
	var args []any
	if f.EventType != "" {
		conds = append(conds, "r.event_type = ?")
		args = append(args, string(f.EventType))
	}
	switch f.Range.Kind() {
	case model.RangeRelative:
		from, to := f.Range.RelativeBounds()
		conds = append(conds, "r.since_start_ns >= ?")
		args = append(args, int64(from))
		if to != 0 {
			conds = append(conds, "r.since_start_ns < ?")
			args = append(args, int64(to))
		}
	case model.RangeAbsolute:
		from, to := f.Range.AbsoluteBounds()
		if !from.IsZero() {
			conds = append(conds, "r.timestamp_ns >= ?")
			args = append(args, from.UnixNano())
		}
		if !to.IsZero() {
			conds = append(conds, "r.timestamp_ns < ?")
			args = append(args, to.UnixNano())
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
