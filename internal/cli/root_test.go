package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lotwsync/internal/database"
	"lotwsync/internal/models"
	"lotwsync/internal/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "lotwctl", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"enqueue"},
		{"deadletter", "list"},
		{"deadletter", "requeue"},
		{"runs"},
		{"account", "add"},
		{"backup"},
	}

	for _, path := range commands {
		t.Run(fmt.Sprint(path), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, NewRootCommand(), "--format", "xml", "runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

type cliFixture struct {
	configPath string
	dbPath     string
	mr         *miniredis.Miniredis
	queue      *queue.Queue
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	dbPath := filepath.Join(dir, "sync.db")
	cfg := fmt.Sprintf(`
logging:
  level: error
database:
  path: %s
redis:
  address: %s
`, dbPath, mr.Addr())
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &cliFixture{
		configPath: configPath,
		dbPath:     dbPath,
		mr:         mr,
		queue:      queue.New(client, "lotw:sync", "test"),
	}
}

func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, NewRootCommand(), append([]string{"--config", f.configPath}, args...)...)
}

func (f *cliFixture) db(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(f.dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func (f *cliFixture) deadLetter(t *testing.T, body []byte) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.queue.Publish(ctx, body))
	d, ok, err := f.queue.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.queue.DeadLetter(ctx, d, nil))
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestEnqueuePublishesTask(t *testing.T) {
	f := newCLIFixture(t)
	t.Setenv("LOTW_PASSWORD", "from-env")

	out, err := f.run(t, "--format", "json", "enqueue", "--username", "r1abc", "--callsign", "r1abc", "--since", "2025-03-01")
	require.NoError(t, err)

	var shown models.SyncTask
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "***", shown.Password)
	assert.NotEmpty(t, shown.TaskID)

	d, ok, err := f.queue.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	task, err := models.DecodeSyncTask(d.Body)
	require.NoError(t, err)
	assert.Equal(t, shown.TaskID, task.TaskID)
	assert.Equal(t, "R1ABC", task.Callsign)
	assert.Equal(t, "from-env", task.Password)
	require.NotNil(t, task.LastSyncMarker)
	assert.Equal(t, "2025-03-01", task.LastSyncMarker.Format(models.DateLayout))
}

func TestEnqueueRequiresIdentity(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "enqueue", "--callsign", "R1ABC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--username or --account-id")
}

func TestEnqueueRejectsBadSince(t *testing.T) {
	_, err := buildTask(&EnqueueOptions{Username: "u", Since: "03/01/2025"}, time.Now())
	require.Error(t, err)
}

func TestDeadLetterListAndRequeue(t *testing.T) {
	f := newCLIFixture(t)
	retried := time.Now().Add(-time.Hour).UTC()
	task := models.SyncTask{TaskID: "t-1", Username: "r1abc", Password: "secret", RetryCount: 4, LastError: "remote down", LastRetry: &retried}
	body, err := task.Encode()
	require.NoError(t, err)
	f.deadLetter(t, body)
	f.deadLetter(t, []byte("{not json"))

	out, err := f.run(t, "deadletter", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "t-1")
	assert.Contains(t, out, "remote down")
	assert.Contains(t, out, "malformed")
	assert.NotContains(t, out, "secret")

	out, err = f.run(t, "deadletter", "requeue")
	require.NoError(t, err)
	assert.Contains(t, out, "requeued 1 task(s)")

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Queued)
	assert.EqualValues(t, 1, stats.DeadLetter, "malformed body stays dead-lettered")

	d, ok, err := f.queue.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	requeued, err := models.DecodeSyncTask(d.Body)
	require.NoError(t, err)
	assert.Equal(t, 0, requeued.RetryCount)
	assert.Nil(t, requeued.LastRetry)
	assert.Equal(t, "remote down", requeued.LastError)
	assert.Equal(t, "secret", requeued.Password)
}

func TestDeadLetterListEmpty(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "deadletter", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no dead-lettered tasks")
}

func TestAccountAddAndRuns(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "--format", "json", "account", "add", "--username", "r1abc", "--callsign", "r1abc")
	require.NoError(t, err)
	var account models.Account
	require.NoError(t, json.Unmarshal([]byte(out), &account))
	assert.NotZero(t, account.ID)
	assert.Equal(t, "R1ABC", account.Callsign)

	out, err = f.run(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "no sync runs recorded")

	db := f.db(t)
	require.NoError(t, db.CreateSyncRun(context.Background(), &models.SyncRun{
		TaskID: "t-42", AccountID: account.ID, Callsign: "R1ABC", Status: models.RunCompleted, Fetched: 1200, Inserted: 1000,
	}))
	db.Close()

	out, err = f.run(t, "runs", "--account-id", fmt.Sprint(account.ID))
	require.NoError(t, err)
	assert.Contains(t, out, "t-42")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, models.RunCompleted)
}

func TestAccountAddRequiresFlags(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "account", "add", "--username", "r1abc")
	require.Error(t, err)
}

func TestBackupWritesSnapshot(t *testing.T) {
	f := newCLIFixture(t)
	backupDir := filepath.Join(t.TempDir(), "backups")

	out, err := f.run(t, "--format", "json", "backup", "--dir", backupDir)
	require.NoError(t, err)

	var res struct {
		Path   string `json:"path"`
		Size   int64  `json:"size"`
		Pruned int    `json:"pruned"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.FileExists(t, res.Path)
	assert.Positive(t, res.Size)
	assert.Zero(t, res.Pruned)
}

func TestRunRows(t *testing.T) {
	now := time.Now()
	msg := "boom"
	rows := runRows([]models.SyncRun{{TaskID: "a", Status: models.RunRescheduled, Inserted: 12345, LastError: &msg, CreatedAt: now.Add(-2 * time.Hour)}}, now)
	require.Len(t, rows, 1)
	assert.Equal(t, "2 hours ago", rows[0][0])
	assert.Equal(t, "12,345", rows[0][5])
	assert.Equal(t, "boom", rows[0][9])
}

func TestResetTask(t *testing.T) {
	_, err := resetTask([]byte("nope"))
	require.Error(t, err)
}
