package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"lotwsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQSO(call, at string) models.QSO {
	tod, err := models.ParseTimeOfDay(at)
	if err != nil {
		panic(err)
	}
	return models.QSO{
		Callsign:   call,
		MyCallsign: "R1ABC",
		Band:       "20M",
		Mode:       "CW",
		Date:       time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Time:       tod,
		Status:     models.QSLUnconfirmed,
	}
}

func confirmed(q models.QSO, at time.Time) models.QSO {
	q.Status = models.QSLConfirmed
	q.ConfirmedAt = &at
	return q
}

func TestInsertAndFindCandidates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := createAccount(t, db, "r1abc", "R1ABC")
	other := createAccount(t, db, "dl1aa", "DL1AA")

	err := db.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		n, err := tx.InsertQSOs(ctx, a.ID, []models.QSO{
			testQSO("UA1ABC", "12:32:00"),
			testQSO("UA1ABC", "12:32:00"),
			testQSO("DL2BB", "08:00:00"),
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		_, err = tx.InsertQSOs(ctx, other.ID, []models.QSO{testQSO("UA1ABC", "12:32:00")})
		return err
	})
	require.NoError(t, err)

	err = db.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		got, err := tx.FindCandidates(ctx, a.ID, []models.MatchKey{
			testQSO("UA1ABC", "12:30:00").Key(),
			testQSO("UA1ABC", "12:40:00").Key(),
			{Callsign: "UA1ABC", Date: "2024-01-15", Band: "40M", Mode: "CW"},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "UA1ABC", got[0].Callsign)
		assert.Equal(t, "2024-01-15", got[0].Date)
		assert.Equal(t, "12:32:00", got[0].Time.String())
		assert.Equal(t, models.QSLUnconfirmed, got[0].Status)
		return nil
	})
	require.NoError(t, err)
}

func TestFindCandidatesChunks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := createAccount(t, db, "r1abc", "R1ABC")

	var qsos []models.QSO
	var keys []models.MatchKey
	for i := 0; i < lookupChunkSize*2+7; i++ {
		q := testQSO(fmt.Sprintf("UA%dA", i), "12:00:00")
		qsos = append(qsos, q)
		keys = append(keys, q.Key())
	}

	err := db.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		n, err := tx.InsertQSOs(ctx, a.ID, qsos)
		require.NoError(t, err)
		assert.EqualValues(t, len(qsos), n)

		got, err := tx.FindCandidates(ctx, a.ID, keys)
		require.NoError(t, err)
		assert.Len(t, got, len(qsos))
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateConfirmationOnlyFresher(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := createAccount(t, db, "r1abc", "R1ABC")

	t1 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)
	t2 := t1.Add(time.Hour)

	require.NoError(t, db.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.InsertQSOs(ctx, a.ID, []models.QSO{testQSO("UA1ABC", "12:32:00")})
		return err
	}))
	stored, err := db.ListQSOs(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	id := stored[0].ID

	update := func(q models.QSO) bool {
		var ok bool
		require.NoError(t, db.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
			var err error
			ok, err = tx.UpdateConfirmation(ctx, id, q)
			return err
		}))
		return ok
	}

	assert.True(t, update(testQSO("UA1ABC", "12:30:00")), "nothing stored yet")
	assert.True(t, update(confirmed(testQSO("UA1ABC", "12:30:00"), t1)))
	assert.False(t, update(testQSO("UA1ABC", "12:30:00")), "no incoming marker")
	assert.False(t, update(confirmed(testQSO("UA1ABC", "12:30:00"), t1)), "equal marker")
	assert.False(t, update(confirmed(testQSO("UA1ABC", "12:30:00"), t0)), "older marker")

	stored, err = db.ListQSOs(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored[0].ConfirmedAt)
	assert.True(t, t1.Equal(*stored[0].ConfirmedAt))
	assert.Equal(t, models.QSLConfirmed, stored[0].Status)

	assert.True(t, update(confirmed(testQSO("UA1ABC", "12:30:00"), t2)))
	stored, err = db.ListQSOs(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, t2.Equal(*stored[0].ConfirmedAt))
	assert.Equal(t, "12:32:00", stored[0].Time.String(), "time is not a confirmation field")
}

func TestRURegionStoredAndRefreshed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := createAccount(t, db, "r1abc", "R1ABC")

	q := testQSO("UA2FAA", "10:00:00")
	q.Country = "Kaliningrad"
	q.RURegion = "KALININGRAD"
	var id string
	err := db.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.InsertQSOs(ctx, a.ID, []models.QSO{q}); err != nil {
			return err
		}
		got, err := tx.FindCandidates(ctx, a.ID, []models.MatchKey{q.Key()})
		if err != nil {
			return err
		}
		require.Len(t, got, 1)
		id = got[0].ID
		return nil
	})
	require.NoError(t, err)

	region := func() string {
		var r string
		require.NoError(t, db.QueryRowContext(ctx, `SELECT ru_region FROM qsos WHERE id = ?`, id).Scan(&r))
		return r
	}
	assert.Equal(t, "KALININGRAD", region())

	// an update without a region keeps the stored one
	err = db.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		ok, err := tx.UpdateConfirmation(ctx, id, confirmed(testQSO("UA2FAA", "10:00:00"), time.Now()))
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "KALININGRAD", region())
}
