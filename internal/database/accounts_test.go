package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := createAccount(t, db, "r1abc", "r1abc")
	assert.NotZero(t, a.ID)
	assert.Equal(t, "R1ABC", a.Callsign)
	assert.Nil(t, a.LastSyncMarker)

	again := createAccount(t, db, "r1abc", "R1ABC/P")
	assert.Equal(t, a.ID, again.ID)

	got, ok, err := db.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "R1ABC/P", got.Callsign)

	found, ok, err := db.FindAccountByUsername(ctx, "r1abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, found.ID)

	_, ok, err = db.FindAccountByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = db.GetAccount(ctx, 9999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateLastSyncMarker(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := createAccount(t, db, "r1abc", "R1ABC")

	marker := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.UpdateLastSyncMarker(ctx, a.ID, marker))

	got, ok, err := db.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.LastSyncMarker)
	assert.True(t, marker.Equal(*got.LastSyncMarker))

	assert.Error(t, db.UpdateLastSyncMarker(ctx, 9999, marker))
}
