package models

import "time"

const (
	RunCompleted    = "completed"
	RunRescheduled  = "rescheduled"
	RunDeadLettered = "dead_lettered"
)

const (
	// DateLayout is the storage representation of a QSO date.
	DateLayout = "2006-01-02"

	// ConfirmedAtLayout is the layout of the remote freshness timestamp.
	ConfirmedAtLayout = "2006-01-02 15:04:05"

	// ModeMaxLength bounds the mode column width.
	ModeMaxLength = 20

	// DefaultMatchTolerance is the maximum time-of-day difference for two records
	// of the same contact.
	DefaultMatchTolerance = 5 * time.Minute

	// DefaultRetryDelay is the fixed cooldown before a failed task is redelivered.
	DefaultRetryDelay = 45 * time.Minute

	// DefaultMaxRetries is the retry budget of a task before it is dead-lettered.
	DefaultMaxRetries = 3
)
