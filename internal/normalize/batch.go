package normalize

import (
	"lotwsync/internal/adif"
	"lotwsync/internal/models"
)

// Batch is the normalized content of one report.
type Batch struct {
	QSOs      []models.QSO
	Fetched   int // records with a CALL field
	Skipped   int // incomplete or unmatchable records
	Discarded int // blocks without a CALL field
}

// All drains s, normalizing every complete record. Incomplete records are
// counted and left out.
func (n *Normalizer) All(s *adif.Scanner, accountCallsign string) Batch {
	var b Batch
	for s.Next() {
		b.Fetched++
		rec := s.Record()
		if !Complete(rec) {
			b.Skipped++
			n.logger.Debug().Str("call", rec.Get("CALL")).Msg("record missing required fields, skipped")
			continue
		}
		q := n.Normalize(rec, accountCallsign)
		if !q.Matchable() {
			b.Skipped++
			n.logger.Debug().Str("call", q.Callsign).Str("qso_date", rec.Get("QSO_DATE")).Msg("record not matchable, skipped")
			continue
		}
		b.QSOs = append(b.QSOs, q)
	}
	b.Discarded = s.Discarded()
	return b
}
