package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kenbi/internal/guardian"
)

// SaveGuardianResults stores one guardian run for a profile and returns the
// run ID. Results keep their order within the run.
func (db *DB) SaveGuardianResults(ctx context.Context, profileID uuid.UUID, results []guardian.Result) (uuid.UUID, error) {
	runID := uuid.New()
	rows := make([][]any, len(results))
	for i, r := range results {
		rows[i] = []any{
			profileID, runID, r.Rule, string(r.Category), int16(r.Severity),
			r.Observed, r.Total, r.Ratio, r.Threshold, int32(r.Matches),
			r.Summary, r.Explanation, r.Solution,
		}
	}
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"guardian_results"},
			[]string{"profile_id", "run_id", "rule", "category", "severity", "observed", "total",
				"ratio", "threshold", "matches", "summary", "explanation", "solution"},
			pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: save guardian results: %w", err)
	}
	return runID, nil
}

// LatestGuardianResults returns the results of the most recent guardian run
// of a profile, or none if the profile was never analyzed.
func (db *DB) LatestGuardianResults(ctx context.Context, profileID uuid.UUID) ([]guardian.Result, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT rule, category, severity, observed, total, ratio, threshold, matches, summary, explanation, solution
		 FROM guardian_results
		 WHERE profile_id = $1 AND run_id = (
		     SELECT run_id FROM guardian_results WHERE profile_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1)
		 ORDER BY id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("storage: list guardian results: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (guardian.Result, error) {
		var (
			r        guardian.Result
			category string
			severity int16
			matches  int32
		)
		err := row.Scan(&r.Rule, &category, &severity, &r.Observed, &r.Total, &r.Ratio, &r.Threshold,
			&matches, &r.Summary, &r.Explanation, &r.Solution)
		r.Category = guardian.Category(category)
		r.Severity = guardian.Severity(severity)
		r.Matches = int(matches)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list guardian results: %w", err)
	}
	return results, nil
}
