package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lotwsync/internal/models"
)

const syncRunColumns = `id, task_id, account_id, callsign, status, retry_count, fetched, inserted, updated, unchanged, skipped, digest, last_error, created_at`

// CreateSyncRun records one processing attempt of a task.
func (db *DB) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	query := `INSERT INTO sync_log (task_id, account_id, callsign, status, retry_count, fetched, inserted, updated, unchanged, skipped, digest, last_error, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              RETURNING id`
	now := time.Now().UTC()
	err := db.QueryRowContext(ctx, db.rebind(query),
		run.TaskID,
		run.AccountID,
		run.Callsign,
		run.Status,
		run.RetryCount,
		run.Fetched,
		run.Inserted,
		run.Updated,
		run.Unchanged,
		run.Skipped,
		run.Digest,
		run.LastError,
		now,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	run.CreatedAt = now
	return nil
}

// ListSyncRuns returns the latest attempts, newest first. accountID 0 means all accounts.
func (db *DB) ListSyncRuns(ctx context.Context, accountID int64, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + syncRunColumns + ` FROM sync_log`
	args := []interface{}{}
	if accountID != 0 {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var (
			r       models.SyncRun
			lastErr sql.NullString
		)
		err := rows.Scan(
			&r.ID, &r.TaskID, &r.AccountID, &r.Callsign, &r.Status, &r.RetryCount, &r.Fetched, &r.Inserted,
			&r.Updated, &r.Unchanged, &r.Skipped, &r.Digest, &lastErr, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		if lastErr.Valid {
			r.LastError = &lastErr.String
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync runs: %w", err)
	}
	return runs, nil
}
