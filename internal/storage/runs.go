package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// RunRecord summarises one report run.
type RunRecord struct {
	ID                  int64
	TakenAt             time.Time
	BTCUSD              decimal.Decimal
	Markets             int
	FailedMarkets       []string
	Offers              int
	Qualifying          int
	Reports             int
	NotificationsSent   int
	NotificationsFailed int
	Duration            time.Duration
	CreatedAt           time.Time
}

const (
	insertRunSQL = `INSERT INTO report_runs (
        taken_at,
        btc_usd,
        markets,
        failed_markets,
        offers,
        qualifying,
        reports,
        notifications_sent,
        notifications_failed,
        duration_ms
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING id, created_at;`

	selectRunColumns = `SELECT
        id,
        taken_at,
        btc_usd::text,
        markets,
        failed_markets,
        offers,
        qualifying,
        reports,
        notifications_sent,
        notifications_failed,
        duration_ms,
        created_at
    FROM report_runs`

	listRecentRunsSQL = selectRunColumns + `
    ORDER BY taken_at DESC
    LIMIT $1;`

	listRunsBetweenSQL = selectRunColumns + `
    WHERE taken_at >= $1
      AND taken_at < $2
    ORDER BY taken_at;`

	deleteRunsBeforeSQL = `DELETE FROM report_runs WHERE taken_at < $1;`
)

// RunStore defines operations for run history persistence.
type RunStore interface {
	InsertRun(ctx context.Context, run RunRecord) (RunRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	ListRunsBetween(ctx context.Context, from, to time.Time) ([]RunRecord, error)
	DeleteRunsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// InsertRun persists a run summary.
func (s *Store) InsertRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}

	failed := run.FailedMarkets
	if failed == nil {
		failed = []string{}
	}

	row := pool.QueryRow(ctx, insertRunSQL,
		run.TakenAt,
		run.BTCUSD.String(),
		run.Markets,
		failed,
		run.Offers,
		run.Qualifying,
		run.Reports,
		run.NotificationsSent,
		run.NotificationsFailed,
		run.Duration.Milliseconds(),
	)
	if err := row.Scan(&run.ID, &run.CreatedAt); err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// ListRecentRuns lists the most recent runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	return collectRuns(rows)
}

// ListRunsBetween lists runs taken within [from, to).
func (s *Store) ListRunsBetween(ctx context.Context, from, to time.Time) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRunsBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list runs between: %w", err)
	}
	return collectRuns(rows)
}

// DeleteRunsBefore removes history older than the given time.
func (s *Store) DeleteRunsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deleteRunsBeforeSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete runs before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectRuns(rows pgx.Rows) ([]RunRecord, error) {
	defer rows.Close()

	runs := make([]RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func scanRun(rows pgx.Rows) (RunRecord, error) {
	var (
		run        RunRecord
		priceStr   string
		durationMS int64
	)

	if err := rows.Scan(
		&run.ID,
		&run.TakenAt,
		&priceStr,
		&run.Markets,
		&run.FailedMarkets,
		&run.Offers,
		&run.Qualifying,
		&run.Reports,
		&run.NotificationsSent,
		&run.NotificationsFailed,
		&durationMS,
		&run.CreatedAt,
	); err != nil {
		return RunRecord{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("parse btc price: %w", err)
	}
	run.BTCUSD = price
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
