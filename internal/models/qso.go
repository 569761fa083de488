package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a UTC time of day in seconds since midnight.
type TimeOfDay int

const secondsPerDay = 24 * 60 * 60

// NewTimeOfDay builds a TimeOfDay, reporting false for out-of-range parts.
func NewTimeOfDay(hour, minute, second int) (TimeOfDay, bool) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, false
	}
	return TimeOfDay(hour*3600 + minute*60 + second), true
}

// ParseTimeOfDay parses "HH:MM:SS" or "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	vals := [3]int{}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
		}
		vals[i] = n
	}
	t, ok := NewTimeOfDay(vals[0], vals[1], vals[2])
	if !ok {
		return 0, fmt.Errorf("time of day out of range %q", s)
	}
	return t, nil
}

func (t TimeOfDay) String() string {
	s := int(t) % secondsPerDay
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

// Sub returns t-u.
func (t TimeOfDay) Sub(u TimeOfDay) time.Duration {
	return time.Duration(int(t)-int(u)) * time.Second
}

type QSLStatus string

const (
	QSLConfirmed   QSLStatus = "Y"
	QSLUnconfirmed QSLStatus = "N"
)

// QSO is a normalized contact record produced for every sync run.
type QSO struct {
	Callsign     string
	MyCallsign   string
	Band         string
	Mode         string
	Frequency    *float64
	Date         time.Time // UTC midnight, zero when unknown
	Time         TimeOfDay
	PropMode     string
	SatName      string
	GridSquare   string
	MyGridSquare string
	RSTSent      string
	RSTRcvd      string
	Country      string
	RURegion     string
	DXCC         string
	Continent    string
	State        string
	CQZone       *int
	ITUZone      *int
	Status       QSLStatus
	ConfirmedAt  *time.Time
}

// DateString returns the storage form of the date or "" when unknown.
func (q QSO) DateString() string {
	if q.Date.IsZero() {
		return ""
	}
	return q.Date.Format(DateLayout)
}

// Key returns the bucket the record is matched in.
func (q QSO) Key() MatchKey {
	return MatchKey{Callsign: q.Callsign, Date: q.DateString(), Band: q.Band, Mode: q.Mode}
}

// Matchable reports whether the record carries every field of its match key.
func (q QSO) Matchable() bool {
	return q.Callsign != "" && !q.Date.IsZero() && q.Band != "" && q.Mode != ""
}

// MatchKey is the exact-equality part of the contact identity; time is
// compared under a tolerance on top of it.
type MatchKey struct {
	Callsign string
	Date     string
	Band     string
	Mode     string
}

// StoredQSO is the subset of a persisted row the reconciler needs.
type StoredQSO struct {
	ID          string
	Callsign    string
	MyCallsign  string
	Date        string
	Time        TimeOfDay
	Band        string
	Mode        string
	Status      QSLStatus
	ConfirmedAt *time.Time
}

func (s StoredQSO) Key() MatchKey {
	return MatchKey{Callsign: s.Callsign, Date: s.Date, Band: s.Band, Mode: s.Mode}
}
