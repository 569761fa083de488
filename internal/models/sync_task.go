package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SyncTask is one queued synchronization request for a callsign account.
type SyncTask struct {
	TaskID         string     `json:"task_id"`
	Callsign       string     `json:"callsign"`
	Username       string     `json:"username"`
	Password       string     `json:"password"`
	AccountID      int64      `json:"account_id,omitempty"`
	LastSyncMarker *Marker    `json:"last_sync_marker,omitempty"`
	RetryCount     int        `json:"retry_count"`
	LastError      string     `json:"last_error,omitempty"`
	LastRetry      *time.Time `json:"last_retry,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// Marker is a sync marker on the wire. Producers send either RFC 3339
// timestamps or plain dates.
type Marker struct {
	time.Time
}

func NewMarker(t time.Time) *Marker {
	return &Marker{Time: t.UTC()}
}

func (m Marker) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Time.UTC().Format(time.RFC3339))
}

func (m *Marker) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sync marker: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, ConfirmedAtLayout, DateLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			m.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("sync marker: unsupported format %q", raw)
}

// DecodeSyncTask parses a task message body.
func DecodeSyncTask(body []byte) (SyncTask, error) {
	var task SyncTask
	if err := json.Unmarshal(body, &task); err != nil {
		return task, err
	}
	if task.RetryCount < 0 {
		task.RetryCount = 0
	}
	if task.TaskID == "" {
		return task, fmt.Errorf("task_id is required")
	}
	if task.Username == "" && task.AccountID == 0 {
		return task, fmt.Errorf("username or account_id is required")
	}
	return task, nil
}

// Encode serializes the task for publishing.
func (t SyncTask) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Account is the storage identity a task syncs into.
type Account struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	Callsign       string     `json:"callsign"`
	LastSyncMarker *time.Time `json:"last_sync_marker"`
}

// SyncRun is the audit row written for every processing attempt.
type SyncRun struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	AccountID  int64     `json:"account_id"`
	Callsign   string    `json:"callsign"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	Fetched    int       `json:"fetched"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	Digest     string    `json:"digest"`
	LastError  *string   `json:"last_error"`
	CreatedAt  time.Time `json:"created_at"`
}

// Redacted returns a copy safe to show to operators.
func (t SyncTask) Redacted() SyncTask {
	if t.Password != "" {
		t.Password = "***"
	}
	return t
}

// DeadLetterView is one dead-lettered body as shown to operators.
type DeadLetterView struct {
	Task      *SyncTask `json:"task,omitempty"`
	Malformed bool      `json:"malformed,omitempty"`
	Size      int       `json:"size"`
}

// ViewDeadLetter decodes a dead-lettered body with its password redacted.
// Bodies that do not decode are reported as malformed with their size only.
func ViewDeadLetter(raw []byte) DeadLetterView {
	v := DeadLetterView{Size: len(raw)}
	task, err := DecodeSyncTask(raw)
	if err != nil {
		v.Malformed = true
		return v
	}
	redacted := task.Redacted()
	v.Task = &redacted
	return v
}
