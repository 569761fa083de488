package reconcile

import (
	"context"
	"fmt"
	"time"

	"lotwsync/internal/database"
	"lotwsync/internal/models"

	"github.com/rs/zerolog"
)

// Result counts the outcome of one reconciliation.
type Result struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Reconciler applies normalized batches to the contact store.
type Reconciler struct {
	db        *database.DB
	tolerance time.Duration
	logger    *zerolog.Logger
}

func New(db *database.DB, tolerance time.Duration, logger *zerolog.Logger) *Reconciler {
	if tolerance < 0 {
		tolerance = models.DefaultMatchTolerance
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Reconciler{db: db, tolerance: tolerance, logger: logger}
}

// Apply looks up candidates for qsos, matches them and writes inserts and
// updates for the account in one transaction. Any failure rolls back the
// whole batch.
func (r *Reconciler) Apply(ctx context.Context, account models.Account, qsos []models.QSO) (Result, error) {
	var res Result
	if len(qsos) == 0 {
		return res, nil
	}

	keys := make([]models.MatchKey, 0, len(qsos))
	for _, q := range qsos {
		keys = append(keys, q.Key())
	}

	err := r.db.WithTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		existing, err := tx.FindCandidates(ctx, account.ID, keys)
		if err != nil {
			return err
		}

		fresh, updates := Match(existing, qsos, r.tolerance)

		inserted, err := tx.InsertQSOs(ctx, account.ID, fresh)
		if err != nil {
			return err
		}

		updated := 0
		for _, p := range updates {
			if !Fresher(p.Incoming.ConfirmedAt, p.Existing.ConfirmedAt) {
				continue
			}
			ok, err := tx.UpdateConfirmation(ctx, p.Existing.ID, p.Incoming)
			if err != nil {
				return err
			}
			if ok {
				updated++
			}
		}

		res = Result{
			Inserted:  int(inserted),
			Updated:   updated,
			Unchanged: len(qsos) - int(inserted) - updated,
		}
		r.logger.Debug().
			Int64("account_id", account.ID).
			Int("candidates", len(existing)).
			Int("new", len(fresh)).
			Int("matched", len(updates)).
			Msg("batch matched")
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("reconcile account %d: %w", account.ID, err)
	}
	return res, nil
}
