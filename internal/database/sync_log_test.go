package database

import (
	"context"
	"testing"

	"lotwsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncLog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	errMsg := "lotw: status 503"
	runs := []*models.SyncRun{
		{TaskID: "t-1", AccountID: 1, Callsign: "R1ABC", Status: models.RunRescheduled, RetryCount: 1, LastError: &errMsg},
		{TaskID: "t-1", AccountID: 1, Callsign: "R1ABC", Status: models.RunCompleted, RetryCount: 1, Fetched: 3, Inserted: 2, Updated: 1, Digest: "abc"},
		{TaskID: "t-2", AccountID: 2, Callsign: "DL1AA", Status: models.RunDeadLettered, LastError: &errMsg},
	}
	for _, r := range runs {
		require.NoError(t, db.CreateSyncRun(ctx, r))
		assert.NotZero(t, r.ID)
	}

	all, err := db.ListSyncRuns(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t-2", all[0].TaskID)

	mine, err := db.ListSyncRuns(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, models.RunCompleted, mine[0].Status)
	assert.Equal(t, 2, mine[0].Inserted)
	assert.Nil(t, mine[0].LastError)
	require.NotNil(t, mine[1].LastError)
	assert.Equal(t, errMsg, *mine[1].LastError)

	limited, err := db.ListSyncRuns(ctx, 0, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
