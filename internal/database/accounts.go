package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"lotwsync/internal/models"
)

const accountColumns = `id, username, callsign, last_sync_marker`

// UpsertAccount creates the account or refreshes its callsign, keyed on username.
func (db *DB) UpsertAccount(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	query := `INSERT INTO accounts (username, callsign, created_at, updated_at)
              VALUES (?, ?, ?, ?)
              ON CONFLICT (username) DO UPDATE SET callsign = excluded.callsign, updated_at = excluded.updated_at
              RETURNING id, last_sync_marker`

	var marker sql.NullTime
	err := db.QueryRowContext(ctx, db.rebind(query),
		account.Username, strings.ToUpper(account.Callsign), now, now,
	).Scan(&account.ID, &marker)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	account.Callsign = strings.ToUpper(account.Callsign)
	account.LastSyncMarker = nullTimePtr(marker)
	return nil
}

// GetAccount returns the account with id; the flag is false when it does not exist.
func (db *DB) GetAccount(ctx context.Context, id int64) (models.Account, bool, error) {
	return db.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// FindAccountByUsername resolves a remote login name to a stored account.
func (db *DB) FindAccountByUsername(ctx context.Context, username string) (models.Account, bool, error) {
	return db.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
}

func (db *DB) queryAccount(ctx context.Context, query string, args ...interface{}) (models.Account, bool, error) {
	var (
		a      models.Account
		marker sql.NullTime
	)
	err := db.QueryRowContext(ctx, db.rebind(query), args...).Scan(&a.ID, &a.Username, &a.Callsign, &marker)
	if isNoRows(err) {
		return models.Account{}, false, nil
	}
	if err != nil {
		return models.Account{}, false, fmt.Errorf("failed to get account: %w", err)
	}
	a.LastSyncMarker = nullTimePtr(marker)
	return a, true, nil
}

// UpdateLastSyncMarker records a completed synchronization at marker.
func (db *DB) UpdateLastSyncMarker(ctx context.Context, accountID int64, marker time.Time) error {
	res, err := db.ExecContext(ctx, db.rebind(`UPDATE accounts SET last_sync_marker = ?, updated_at = ? WHERE id = ?`),
		marker.UTC(), time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to update last sync marker: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update last sync marker: account %d not found", accountID)
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
