package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/internal/repository"
)

const defaultListLimit = 50

type runRow struct {
	ID          string    `db:"id"`
	Source      string    `db:"source"`
	Destination string    `db:"destination"`
	State       string    `db:"state"`
	DryRun      bool      `db:"dry_run"`
	Error       string    `db:"error"`
	StartedAt   time.Time `db:"started_at"`
	FinishedAt  time.Time `db:"finished_at"`
}

type poolRow struct {
	ID          int64     `db:"id"`
	RunID       string    `db:"run_id"`
	Position    int       `db:"position"`
	Pool        string    `db:"pool"`
	Attempted   int       `db:"attempted"`
	Succeeded   int       `db:"succeeded"`
	Failed      int       `db:"failed"`
	Bytes       int64     `db:"bytes"`
	Skipped     bool      `db:"skipped"`
	Interrupted bool      `db:"interrupted"`
	PoolError   string    `db:"pool_error"`
	ListError   string    `db:"list_error"`
	StartedAt   time.Time `db:"started_at"`
	FinishedAt  time.Time `db:"finished_at"`
}

type failureRow struct {
	PoolReportID int64  `db:"pool_report_id"`
	ObjectKey    string `db:"object_key"`
	Error        string `db:"error"`
}

type runRepository struct {
	db *DB
}

func NewRunRepository(db *DB) repository.RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) SaveRun(ctx context.Context, summary *domain.RunSummary) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO migration_runs (
				id, source, destination, state, dry_run, error, started_at, finished_at
			) VALUES (
				:id, :source, :destination, :state, :dry_run, :error, :started_at, :finished_at
			)
			ON CONFLICT (id) DO UPDATE SET
				state = EXCLUDED.state,
				error = EXCLUDED.error,
				finished_at = EXCLUDED.finished_at
		`, toRunRow(summary))
		if err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM pool_reports WHERE run_id = $1`, summary.ID); err != nil {
			return fmt.Errorf("failed to reset pool reports: %w", err)
		}

		for i, report := range summary.Pools {
			row := toPoolRow(summary.ID, i, report)
			var id int64
			err := tx.QueryRowxContext(ctx, `
				INSERT INTO pool_reports (
					run_id, position, pool, attempted, succeeded, failed, bytes,
					skipped, interrupted, pool_error, list_error, started_at, finished_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				RETURNING id
			`,
				row.RunID, row.Position, row.Pool, row.Attempted, row.Succeeded, row.Failed, row.Bytes,
				row.Skipped, row.Interrupted, row.PoolError, row.ListError, row.StartedAt, row.FinishedAt,
			).Scan(&id)
			if err != nil {
				return fmt.Errorf("failed to save pool report %s: %w", report.Pool, err)
			}

			if len(report.Failures) == 0 {
				continue
			}
			keys, messages := failureColumns(report.Failures)
			_, err = tx.ExecContext(ctx, `
				INSERT INTO object_failures (pool_report_id, object_key, error)
				SELECT $1, f.key, f.error
				FROM unnest($2::text[], $3::text[]) AS f(key, error)
			`, id, pq.Array(keys), pq.Array(messages))
			if err != nil {
				return fmt.Errorf("failed to save failures for %s: %w", report.Pool, err)
			}
		}
		return nil
	})
}

func (r *runRepository) GetRun(ctx context.Context, id string) (*domain.RunSummary, error) {
	var run runRow
	err := r.db.GetContext(ctx, &run, `
		SELECT id, source, destination, state, dry_run, error, started_at, finished_at
		FROM migration_runs
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var pools []poolRow
	if err := r.db.SelectContext(ctx, &pools, `
		SELECT id, run_id, position, pool, attempted, succeeded, failed, bytes,
		       skipped, interrupted, pool_error, list_error, started_at, finished_at
		FROM pool_reports
		WHERE run_id = $1
		ORDER BY position
	`, id); err != nil {
		return nil, fmt.Errorf("failed to get pool reports: %w", err)
	}

	var failures []failureRow
	if err := r.db.SelectContext(ctx, &failures, `
		SELECT f.pool_report_id, f.object_key, f.error
		FROM object_failures f
		JOIN pool_reports p ON p.id = f.pool_report_id
		WHERE p.run_id = $1
		ORDER BY f.id
	`, id); err != nil {
		return nil, fmt.Errorf("failed to get object failures: %w", err)
	}

	summary := fromRows(run, pools, failures)
	return &summary, nil
}

func (r *runRepository) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.RunSummary, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var states []string
	for _, s := range filter.States {
		states = append(states, string(s))
	}

	var runs []runRow
	err := r.db.SelectContext(ctx, &runs, `
		SELECT id, source, destination, state, dry_run, error, started_at, finished_at
		FROM migration_runs m
		WHERE ($1::text[] IS NULL OR m.state = ANY($1::text[]))
		  AND ($2 = '' OR EXISTS (
		        SELECT 1 FROM pool_reports p WHERE p.run_id = m.id AND p.pool = $2))
		ORDER BY started_at DESC
		LIMIT $3
	`, pq.Array(states), filter.Pool, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		return []domain.RunSummary{}, nil
	}

	ids := make([]string, len(runs))
	for i, run := range runs {
		ids[i] = run.ID
	}

	var pools []poolRow
	if err := r.db.SelectContext(ctx, &pools, `
		SELECT id, run_id, position, pool, attempted, succeeded, failed, bytes,
		       skipped, interrupted, pool_error, list_error, started_at, finished_at
		FROM pool_reports
		WHERE run_id = ANY($1::text[])
		ORDER BY run_id, position
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to list pool reports: %w", err)
	}

	byRun := make(map[string][]poolRow, len(runs))
	for _, p := range pools {
		byRun[p.RunID] = append(byRun[p.RunID], p)
	}

	summaries := make([]domain.RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, fromRows(run, byRun[run.ID], nil))
	}
	return summaries, nil
}

func (r *runRepository) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM migration_runs WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return res.RowsAffected()
}

func toRunRow(s *domain.RunSummary) runRow {
	return runRow{
		ID:          s.ID,
		Source:      s.Source,
		Destination: s.Destination,
		State:       string(s.State),
		DryRun:      s.DryRun,
		Error:       s.Error,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
}

func toPoolRow(runID string, position int, r domain.ReplicationReport) poolRow {
	return poolRow{
		RunID:       runID,
		Position:    position,
		Pool:        r.Pool,
		Attempted:   r.Attempted,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Bytes:       r.Bytes,
		Skipped:     r.Skipped,
		Interrupted: r.Interrupted,
		PoolError:   r.PoolError,
		ListError:   r.ListError,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

func failureColumns(failures []domain.ObjectFailure) (keys, messages []string) {
	keys = make([]string, len(failures))
	messages = make([]string, len(failures))
	for i, f := range failures {
		keys[i] = f.Key
		messages[i] = f.Error
	}
	return keys, messages
}

func fromRows(run runRow, pools []poolRow, failures []failureRow) domain.RunSummary {
	byPool := make(map[int64][]domain.ObjectFailure)
	for _, f := range failures {
		byPool[f.PoolReportID] = append(byPool[f.PoolReportID], domain.ObjectFailure{
			Key:   f.ObjectKey,
			Error: f.Error,
		})
	}

	summary := domain.RunSummary{
		ID:          run.ID,
		Source:      run.Source,
		Destination: run.Destination,
		State:       domain.RunState(run.State),
		DryRun:      run.DryRun,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Pools:       make([]domain.ReplicationReport, 0, len(pools)),
	}
	for _, p := range pools {
		summary.Pools = append(summary.Pools, domain.ReplicationReport{
			Pool:        p.Pool,
			Attempted:   p.Attempted,
			Succeeded:   p.Succeeded,
			Failed:      p.Failed,
			Bytes:       p.Bytes,
			Failures:    byPool[p.ID],
			ListError:   p.ListError,
			Skipped:     p.Skipped,
			PoolError:   p.PoolError,
			Interrupted: p.Interrupted,
			StartedAt:   p.StartedAt,
			FinishedAt:  p.FinishedAt,
		})
	}
	return summary
}
