package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lotwsync/internal/database"
	"lotwsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*database.DB, models.Account) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "lotw.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	account := models.Account{Username: "r1abc", Callsign: "R1ABC"}
	require.NoError(t, db.UpsertAccount(context.Background(), &account))
	return db, account
}

func confirmedAt(q models.QSO, at time.Time) models.QSO {
	q.Status = models.QSLConfirmed
	q.ConfirmedAt = &at
	return q
}

func TestApplyInsertsThenUpdates(t *testing.T) {
	db, account := setupTestDB(t)
	ctx := context.Background()
	r := New(db, models.DefaultMatchTolerance, nil)

	res, err := r.Apply(ctx, account, []models.QSO{incoming(t, "12:32:00")})
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 1}, res)

	t1 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	res, err = r.Apply(ctx, account, []models.QSO{
		confirmedAt(incoming(t, "12:30:00"), t1),
		incoming(t, "12:40:00"),
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 1, Updated: 1}, res)

	rows, err := db.ListQSOs(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "12:32:00", rows[0].Time.String())
	assert.Equal(t, models.QSLConfirmed, rows[0].Status)
	require.NotNil(t, rows[0].ConfirmedAt)
	assert.True(t, t1.Equal(*rows[0].ConfirmedAt))
}

func TestApplyIsIdempotent(t *testing.T) {
	db, account := setupTestDB(t)
	ctx := context.Background()
	r := New(db, models.DefaultMatchTolerance, nil)

	t1 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	batch := []models.QSO{
		confirmedAt(incoming(t, "12:30:00"), t1),
		confirmedAt(incoming(t, "14:00:00"), t1),
	}

	first, err := r.Apply(ctx, account, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	before, err := db.ListQSOs(ctx, account.ID)
	require.NoError(t, err)

	second, err := r.Apply(ctx, account, batch)
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 2}, second)

	after, err := db.ListQSOs(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApplyFreshnessMonotonic(t *testing.T) {
	db, account := setupTestDB(t)
	ctx := context.Background()
	r := New(db, models.DefaultMatchTolerance, nil)

	t1 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	_, err := r.Apply(ctx, account, []models.QSO{confirmedAt(incoming(t, "12:30:00"), t1)})
	require.NoError(t, err)

	older := incoming(t, "12:31:00")
	older.GridSquare = "KO85"
	older = confirmedAt(older, t1.Add(-time.Hour))
	res, err := r.Apply(ctx, account, []models.QSO{older})
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 1}, res)

	rows, err := db.ListQSOs(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, t1.Equal(*rows[0].ConfirmedAt))

	res, err = r.Apply(ctx, account, []models.QSO{confirmedAt(incoming(t, "12:29:00"), t1.Add(time.Hour))})
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1}, res)
}

func TestApplyEmptyBatch(t *testing.T) {
	db, account := setupTestDB(t)
	res, err := New(db, 0, nil).Apply(context.Background(), account, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	db, account := setupTestDB(t)
	ctx := context.Background()
	r := New(db, models.DefaultMatchTolerance, nil)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := r.Apply(cancelled, account, []models.QSO{incoming(t, "12:30:00")})
	require.Error(t, err)

	n, err := db.CountQSOs(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
