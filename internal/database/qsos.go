package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"lotwsync/internal/models"

	"github.com/google/uuid"
)

const (
	// keys per candidate lookup statement
	lookupChunkSize = 150
	// rows per insert statement
	insertChunkSize = 100
)

const storedColumns = `id, callsign, my_callsign, qso_date, time_on, band, mode, qsl_status, confirmed_at`

var insertColumns = []string{
	"id", "account_id", "callsign", "my_callsign", "band", "mode", "frequency", "qso_date", "time_on",
	"prop_mode", "sat_name", "gridsquare", "my_gridsquare", "rst_sent", "rst_rcvd", "country", "ru_region", "dxcc",
	"continent", "state", "cq_zone", "itu_zone", "qsl_status", "confirmed_at", "created_at", "updated_at",
}

// FindCandidates loads every stored contact of the account sharing a match key
// with keys, in storage order.
func (t *Tx) FindCandidates(ctx context.Context, accountID int64, keys []models.MatchKey) ([]models.StoredQSO, error) {
	keys = uniqueKeys(keys)
	var out []models.StoredQSO
	for start := 0; start < len(keys); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		var b strings.Builder
		args := make([]interface{}, 0, 1+len(chunk)*4)
		args = append(args, accountID)
		b.WriteString(`SELECT ` + storedColumns + ` FROM qsos WHERE account_id = ? AND (`)
		for i, k := range chunk {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString("(callsign = ? AND qso_date = ? AND band = ? AND mode = ?)")
			args = append(args, k.Callsign, k.Date, k.Band, k.Mode)
		}
		b.WriteString(") ORDER BY created_at, id")

		rows, err := t.query(ctx, b.String(), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up candidates: %w", err)
		}
		found, err := scanStored(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// InsertQSOs inserts qsos for the account, skipping rows that collide with the
// uniqueness constraint. It returns the number of rows actually written.
func (t *Tx) InsertQSOs(ctx context.Context, accountID int64, qsos []models.QSO) (int64, error) {
	now := time.Now().UTC()
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(insertColumns)), ", ") + ")"

	var inserted int64
	for start := 0; start < len(qsos); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(qsos) {
			end = len(qsos)
		}
		chunk := qsos[start:end]

		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(insertColumns))
		for _, q := range chunk {
			values = append(values, placeholders)
			args = append(args,
				uuid.NewString(), accountID, q.Callsign, q.MyCallsign, q.Band, q.Mode, q.Frequency,
				q.DateString(), q.Time.String(), q.PropMode, q.SatName, q.GridSquare, q.MyGridSquare,
				q.RSTSent, q.RSTRcvd, q.Country, q.RURegion, q.DXCC, q.Continent, q.State, q.CQZone, q.ITUZone,
				string(status(q.Status)), utcPtr(q.ConfirmedAt), now, now,
			)
		}

		query := `INSERT INTO qsos (` + strings.Join(insertColumns, ", ") + `) VALUES ` +
			strings.Join(values, ", ") + ` ON CONFLICT DO NOTHING`
		res, err := t.exec(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert qsos: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to count inserted qsos: %w", err)
		}
		inserted += n
	}
	return inserted, nil
}

// UpdateConfirmation overwrites the confirmation fields of row id with q unless
// the stored confirmation is present and not older. Empty incoming text fields
// keep the stored value.
func (t *Tx) UpdateConfirmation(ctx context.Context, id string, q models.QSO) (bool, error) {
	confirmedAt := utcPtr(q.ConfirmedAt)
	query := `UPDATE qsos SET
                qsl_status = ?,
                gridsquare = COALESCE(NULLIF(?, ''), gridsquare),
                country = COALESCE(NULLIF(?, ''), country),
                ru_region = COALESCE(NULLIF(?, ''), ru_region),
                dxcc = COALESCE(NULLIF(?, ''), dxcc),
                continent = COALESCE(NULLIF(?, ''), continent),
                cq_zone = COALESCE(?, cq_zone),
                itu_zone = COALESCE(?, itu_zone),
                confirmed_at = ?,
                updated_at = ?
              WHERE id = ? AND (confirmed_at IS NULL OR confirmed_at < ?)`

	res, err := t.exec(ctx, query,
		string(status(q.Status)), q.GridSquare, q.Country, q.RURegion, q.DXCC, q.Continent, q.CQZone, q.ITUZone,
		confirmedAt, time.Now().UTC(), id, confirmedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update qso %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count updated qsos: %w", err)
	}
	return n > 0, nil
}

// ListQSOs returns the stored contacts of an account in storage order.
func (db *DB) ListQSOs(ctx context.Context, accountID int64) ([]models.StoredQSO, error) {
	rows, err := db.QueryContext(ctx,
		db.rebind(`SELECT `+storedColumns+` FROM qsos WHERE account_id = ? ORDER BY created_at, id`), accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list qsos: %w", err)
	}
	return scanStored(rows)
}

// CountQSOs returns the number of stored contacts of an account.
func (db *DB) CountQSOs(ctx context.Context, accountID int64) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM qsos WHERE account_id = ?`), accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count qsos: %w", err)
	}
	return n, nil
}

func scanStored(rows *sql.Rows) ([]models.StoredQSO, error) {
	defer rows.Close()

	var out []models.StoredQSO
	for rows.Next() {
		var (
			s           models.StoredQSO
			timeOn      string
			qslStatus   string
			confirmedAt sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Callsign, &s.MyCallsign, &s.Date, &timeOn, &s.Band, &s.Mode, &qslStatus, &confirmedAt); err != nil {
			return nil, fmt.Errorf("failed to scan qso: %w", err)
		}
		t, err := models.ParseTimeOfDay(timeOn)
		if err != nil {
			return nil, fmt.Errorf("failed to scan qso %s: %w", s.ID, err)
		}
		s.Time = t
		s.Status = models.QSLStatus(qslStatus)
		s.ConfirmedAt = nullTimePtr(confirmedAt)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read qsos: %w", err)
	}
	return out, nil
}

func uniqueKeys(keys []models.MatchKey) []models.MatchKey {
	seen := make(map[models.MatchKey]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func status(s models.QSLStatus) models.QSLStatus {
	if s == "" {
		return models.QSLUnconfirmed
	}
	return s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
