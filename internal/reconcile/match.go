// Package reconcile decides which incoming contacts are new and which
// confirm contacts already stored, and applies the outcome atomically.
package reconcile

import (
	"time"

	"lotwsync/internal/models"
)

// Pair is an incoming record matched to the stored contact it refers to.
type Pair struct {
	Incoming models.QSO
	Existing models.StoredQSO
}

// Match partitions incoming against existing. A stored candidate matches an
// incoming record when the match keys are equal and the times differ by at
// most tolerance; the first such candidate in existing order wins.
//
// Unmatched incoming records that fall within tolerance of an earlier
// unmatched record of the same key are folded into it, keeping the one with
// the fresher confirmation.
func Match(existing []models.StoredQSO, incoming []models.QSO, tolerance time.Duration) ([]models.QSO, []Pair) {
	buckets := make(map[models.MatchKey][]models.StoredQSO, len(existing))
	for _, s := range existing {
		k := s.Key()
		buckets[k] = append(buckets[k], s)
	}

	var (
		fresh   []models.QSO
		pending = make(map[models.MatchKey][]int)
		updates []Pair
	)

next:
	for _, q := range incoming {
		k := q.Key()
		for _, c := range buckets[k] {
			if within(q.Time, c.Time, tolerance) {
				updates = append(updates, Pair{Incoming: q, Existing: c})
				continue next
			}
		}
		for _, i := range pending[k] {
			if within(q.Time, fresh[i].Time, tolerance) {
				if Fresher(q.ConfirmedAt, fresh[i].ConfirmedAt) {
					fresh[i] = q
				}
				continue next
			}
		}
		pending[k] = append(pending[k], len(fresh))
		fresh = append(fresh, q)
	}
	return fresh, updates
}

func within(a, b models.TimeOfDay, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// Fresher reports whether a record confirmed at incoming may overwrite one
// confirmed at stored. Nothing stored always loses; otherwise incoming must be
// present and strictly later.
func Fresher(incoming, stored *time.Time) bool {
	if stored == nil {
		return true
	}
	return incoming != nil && incoming.After(*stored)
}
