package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lotwsync/internal/adif"
	"lotwsync/internal/database"
	"lotwsync/internal/lotw"
	"lotwsync/internal/metrics"
	"lotwsync/internal/models"
	"lotwsync/internal/normalize"
	"lotwsync/internal/queue"
	"lotwsync/internal/reconcile"

	"github.com/rs/zerolog"
)

// Fetcher downloads the confirmation report of an account.
type Fetcher interface {
	Fetch(ctx context.Context, creds lotw.Credentials, since time.Time) (lotw.Response, error)
}

// Broker is the task source and redelivery port.
type Broker interface {
	Dequeue(ctx context.Context, timeout time.Duration) (queue.Delivery, bool, error)
	Ack(ctx context.Context, d queue.Delivery) error
	DeadLetter(ctx context.Context, d queue.Delivery, body []byte) error
	ScheduleRedelivery(ctx context.Context, body []byte, delay time.Duration) error
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	Claim(ctx context.Context, ttl time.Duration) error
	Heartbeat(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
	Recover(ctx context.Context) (int, error)
	ReapOrphans(ctx context.Context) (int, error)
}

// Options tunes the worker loop.
type Options struct {
	Retry           RetryPolicy
	BlockTimeout    time.Duration
	PromoteInterval time.Duration
	TaskTimeout     time.Duration
	// HeartbeatTTL is how long the consumer name outlives a silent worker.
	HeartbeatTTL time.Duration
	// StartDate bounds the first download of an account without a marker.
	StartDate time.Time
}

// Outcome is the terminal state of one task attempt.
type Outcome string

const (
	OutcomeCompleted    Outcome = models.RunCompleted
	OutcomeRescheduled  Outcome = models.RunRescheduled
	OutcomeDeadLettered Outcome = models.RunDeadLettered
)

// Totals are running counts since the worker started.
type Totals struct {
	Tasks        int `json:"tasks"`
	Completed    int `json:"completed"`
	Rescheduled  int `json:"rescheduled"`
	DeadLettered int `json:"dead_lettered"`
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	Unchanged    int `json:"unchanged"`
	Skipped      int `json:"skipped"`
}

// SyncWorker consumes sync tasks one at a time and reconciles each account's
// confirmations into the store.
type SyncWorker struct {
	db         *database.DB
	fetcher    Fetcher
	broker     Broker
	normalizer *normalize.Normalizer
	reconciler *reconcile.Reconciler
	opts       Options
	logger     *zerolog.Logger
	now        func() time.Time

	mu     sync.Mutex
	totals Totals
}

// NewSyncWorker builds a worker with sane defaults.
func NewSyncWorker(db *database.DB, fetcher Fetcher, broker Broker, normalizer *normalize.Normalizer, reconciler *reconcile.Reconciler, opts Options, logger *zerolog.Logger) *SyncWorker {
	if opts.Retry.MaxRetries < 0 {
		opts.Retry.MaxRetries = models.DefaultMaxRetries
	}
	if opts.Retry.Delay <= 0 {
		opts.Retry.Delay = models.DefaultRetryDelay
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 2 * time.Second
	}
	if opts.PromoteInterval <= 0 {
		opts.PromoteInterval = 5 * time.Second
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 2 * time.Minute
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = 30 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if normalizer == nil {
		normalizer = normalize.New(nil, logger)
	}

	return &SyncWorker{
		db:         db,
		fetcher:    fetcher,
		broker:     broker,
		normalizer: normalizer,
		reconciler: reconciler,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Run consumes tasks until ctx is done. The task in flight when ctx is
// cancelled is finished before Run returns.
func (w *SyncWorker) Run(ctx context.Context) error {
	w.logger.Info().Msg("sync worker started")
	defer func() {
		t := w.Totals()
		w.logger.Info().
			Int("tasks", t.Tasks).
			Int("completed", t.Completed).
			Int("rescheduled", t.Rescheduled).
			Int("dead_lettered", t.DeadLettered).
			Int("inserted", t.Inserted).
			Int("updated", t.Updated).
			Int("unchanged", t.Unchanged).
			Int("skipped", t.Skipped).
			Msg("sync worker stopped")
	}()

	if err := w.claim(ctx); err != nil {
		return err
	}

	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeat(hbCtx)
	}()
	defer func() {
		stopHeartbeat()
		<-hbDone
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.broker.Release(releaseCtx); err != nil {
			w.logger.Warn().Err(err).Msg("release consumer name")
		}
	}()

	if n, err := w.broker.Recover(ctx); err != nil {
		return fmt.Errorf("recover in-flight deliveries: %w", err)
	} else if n > 0 {
		w.logger.Warn().Int("count", n).Msg("returned unacknowledged deliveries to the queue")
	}

	var lastPromote time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}

		if now := w.now(); now.Sub(lastPromote) >= w.opts.PromoteInterval {
			lastPromote = now
			if n, err := w.broker.PromoteDue(ctx, now); err != nil {
				w.logger.Error().Err(err).Msg("promote delayed tasks")
			} else if n > 0 {
				w.logger.Debug().Int("count", n).Msg("promoted delayed tasks")
			}
			if n, err := w.broker.ReapOrphans(ctx); err != nil {
				w.logger.Error().Err(err).Msg("reap orphaned deliveries")
			} else if n > 0 {
				w.logger.Warn().Int("count", n).Msg("returned deliveries of dead consumers to the queue")
			}
		}

		d, ok, err := w.broker.Dequeue(ctx, w.opts.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("dequeue")
			sleep(ctx, w.opts.BlockTimeout)
			continue
		}
		if !ok {
			continue
		}

		w.Handle(context.WithoutCancel(ctx), d)
	}
}

// claim takes the consumer name, waiting while a live worker holds it.
func (w *SyncWorker) claim(ctx context.Context) error {
	for {
		err := w.broker.Claim(ctx, w.opts.HeartbeatTTL)
		if err == nil {
			return nil
		}
		if !errors.Is(err, queue.ErrConsumerBusy) {
			return fmt.Errorf("claim consumer name: %w", err)
		}
		w.logger.Warn().Dur("heartbeat_ttl", w.opts.HeartbeatTTL).Msg("consumer name held by a live worker, waiting")
		sleep(ctx, w.opts.HeartbeatTTL/3)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// heartbeat keeps the claim alive until ctx is done, independent of how long
// a task takes.
func (w *SyncWorker) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := w.broker.Heartbeat(ctx, w.opts.HeartbeatTTL)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrConsumerLost):
			w.logger.Error().Msg("consumer heartbeat lost, reclaiming")
			if cerr := w.broker.Claim(ctx, w.opts.HeartbeatTTL); cerr != nil {
				w.logger.Error().Err(cerr).Msg("reclaim consumer name")
			}
		case ctx.Err() == nil:
			w.logger.Error().Err(err).Msg("consumer heartbeat")
		}
	}
}

// runResult carries what one attempt learned, for logs and sync_log.
type runResult struct {
	account models.Account
	batch   normalize.Batch
	applied reconcile.Result
	digest  string
}

// Handle drives one delivery to a terminal state: acknowledged, rescheduled
// or dead-lettered.
func (w *SyncWorker) Handle(ctx context.Context, d queue.Delivery) Outcome {
	start := w.now()

	task, err := models.DecodeSyncTask(d.Body)
	if err != nil {
		cause := fmt.Errorf("%w: %v", ErrMalformedTask, err)
		log := w.logger.With().Str("task_id", task.TaskID).Logger()
		log.Error().Err(cause).Msg("dead-lettering malformed task")
		if derr := w.broker.DeadLetter(ctx, d, d.Body); derr != nil {
			log.Error().Err(derr).Msg("dead-letter malformed task")
		}
		w.finish(ctx, task, runResult{}, OutcomeDeadLettered, cause, start)
		return OutcomeDeadLettered
	}

	log := w.logger.With().Str("task_id", task.TaskID).Str("callsign", task.Callsign).Logger()
	log.Info().Int("retry_count", task.RetryCount).Msg("processing sync task")

	taskCtx, cancel := context.WithTimeout(ctx, w.opts.TaskTimeout)
	res, err := w.process(taskCtx, &task, &log)
	cancel()

	if err == nil {
		w.finish(ctx, task, res, OutcomeCompleted, nil, start)
		if aerr := w.broker.Ack(ctx, d); aerr != nil {
			log.Error().Err(aerr).Msg("ack completed task")
		}
		log.Info().
			Int("fetched", res.batch.Fetched).
			Int("inserted", res.applied.Inserted).
			Int("updated", res.applied.Updated).
			Int("unchanged", res.applied.Unchanged).
			Int("skipped", res.batch.Skipped).
			Str("digest", res.digest).
			Msg("sync task completed")
		return OutcomeCompleted
	}

	if IsPermanent(err) {
		log.Error().Err(err).Msg("permanent task failure, dead-lettering")
		w.fail(ctx, d, &task, err, &log)
		w.finish(ctx, task, res, OutcomeDeadLettered, err, start)
		return OutcomeDeadLettered
	}

	outcome := w.retryOrFail(ctx, d, &task, err, &log)
	w.finish(ctx, task, res, outcome, err, start)
	return outcome
}

// process runs fetch, parse, normalize, reconcile and marker advance.
func (w *SyncWorker) process(ctx context.Context, task *models.SyncTask, log *zerolog.Logger) (runResult, error) {
	var res runResult

	account, err := w.resolveAccount(ctx, task)
	if err != nil {
		return res, err
	}
	res.account = account

	callsign := strings.ToUpper(strings.TrimSpace(task.Callsign))
	if callsign == "" {
		callsign = account.Callsign
	}
	username := task.Username
	if username == "" {
		username = account.Username
	}

	since := w.opts.StartDate
	switch {
	case task.LastSyncMarker != nil && !task.LastSyncMarker.IsZero():
		since = task.LastSyncMarker.Time
	case account.LastSyncMarker != nil:
		since = *account.LastSyncMarker
	}

	resp, err := w.fetcher.Fetch(ctx, lotw.Credentials{Username: username, Password: task.Password, Callsign: callsign}, since)
	if err != nil {
		metrics.IncRemote("error")
		if errors.Is(err, lotw.ErrAuthRejected) {
			return res, Permanent(err)
		}
		return res, fmt.Errorf("fetch report: %w", err)
	}
	metrics.IncRemote("ok")
	res.digest = resp.Digest

	res.batch = w.normalizer.All(adif.NewScanner(resp.Body), callsign)
	if res.batch.Discarded > 0 {
		log.Debug().Int("discarded", res.batch.Discarded).Msg("blocks without CALL discarded")
	}

	res.applied, err = w.reconciler.Apply(ctx, account, res.batch.QSOs)
	if err != nil {
		return res, err
	}

	if err := w.db.UpdateLastSyncMarker(ctx, account.ID, w.now()); err != nil {
		return res, err
	}
	return res, nil
}

func (w *SyncWorker) resolveAccount(ctx context.Context, task *models.SyncTask) (models.Account, error) {
	var (
		account models.Account
		ok      bool
		err     error
	)
	if task.AccountID != 0 {
		account, ok, err = w.db.GetAccount(ctx, task.AccountID)
	} else {
		account, ok, err = w.db.FindAccountByUsername(ctx, task.Username)
	}
	if err != nil {
		return account, fmt.Errorf("resolve account: %w", err)
	}
	if !ok {
		return account, Permanent(fmt.Errorf("account not found (account_id=%d username=%q)", task.AccountID, task.Username))
	}
	return account, nil
}

func (w *SyncWorker) retryOrFail(ctx context.Context, d queue.Delivery, task *models.SyncTask, cause error, log *zerolog.Logger) Outcome {
	now := w.now().UTC()
	task.RetryCount++
	task.LastError = cause.Error()
	task.LastRetry = &now

	if w.opts.Retry.Exhausted(task.RetryCount) {
		log.Error().Err(cause).Int("retry_count", task.RetryCount).Msg("retries exhausted, dead-lettering")
		w.deadLetter(ctx, d, *task, log)
		return OutcomeDeadLettered
	}

	body, err := task.Encode()
	if err != nil {
		log.Error().Err(err).Msg("encode task for redelivery")
		w.deadLetter(ctx, d, *task, log)
		return OutcomeDeadLettered
	}

	delay := w.opts.Retry.NextDelay(task.RetryCount)
	if err := w.broker.ScheduleRedelivery(ctx, body, delay); err != nil {
		log.Error().Err(err).Msg("schedule redelivery failed, dead-lettering")
		w.deadLetter(ctx, d, *task, log)
		return OutcomeDeadLettered
	}
	if err := w.broker.Ack(ctx, d); err != nil {
		log.Error().Err(err).Msg("ack rescheduled task")
	}

	log.Warn().Err(cause).Int("retry_count", task.RetryCount).Dur("delay", delay).Msg("sync task rescheduled")
	return OutcomeRescheduled
}

func (w *SyncWorker) fail(ctx context.Context, d queue.Delivery, task *models.SyncTask, cause error, log *zerolog.Logger) {
	task.LastError = cause.Error()
	w.deadLetter(ctx, d, *task, log)
}

func (w *SyncWorker) deadLetter(ctx context.Context, d queue.Delivery, task models.SyncTask, log *zerolog.Logger) {
	body, err := task.Encode()
	if err != nil {
		log.Error().Err(err).Msg("encode dead letter, keeping original body")
		body = d.Body
	}
	if err := w.broker.DeadLetter(ctx, d, body); err != nil {
		log.Error().Err(err).Msg("dead-letter push")
	}
}

// finish records the attempt in sync_log, metrics and running totals.
func (w *SyncWorker) finish(ctx context.Context, task models.SyncTask, res runResult, outcome Outcome, cause error, start time.Time) {
	metrics.ObserveTask(string(outcome), w.now().Sub(start))

	w.mu.Lock()
	w.totals.Tasks++
	switch outcome {
	case OutcomeCompleted:
		w.totals.Completed++
		w.totals.Inserted += res.applied.Inserted
		w.totals.Updated += res.applied.Updated
		w.totals.Unchanged += res.applied.Unchanged
		w.totals.Skipped += res.batch.Skipped
	case OutcomeRescheduled:
		w.totals.Rescheduled++
	case OutcomeDeadLettered:
		w.totals.DeadLettered++
	}
	w.mu.Unlock()

	if outcome == OutcomeCompleted {
		metrics.AddQSOs("inserted", res.applied.Inserted)
		metrics.AddQSOs("updated", res.applied.Updated)
		metrics.AddQSOs("unchanged", res.applied.Unchanged)
		metrics.AddQSOs("skipped", res.batch.Skipped)
	}

	if task.TaskID == "" {
		return
	}
	run := models.SyncRun{
		TaskID:     task.TaskID,
		AccountID:  res.account.ID,
		Callsign:   task.Callsign,
		Status:     string(outcome),
		RetryCount: task.RetryCount,
		Fetched:    res.batch.Fetched,
		Skipped:    res.batch.Skipped,
		Digest:     res.digest,
	}
	if run.Callsign == "" {
		run.Callsign = res.account.Callsign
	}
	if outcome == OutcomeCompleted {
		run.Inserted = res.applied.Inserted
		run.Updated = res.applied.Updated
		run.Unchanged = res.applied.Unchanged
	}
	if cause != nil {
		msg := cause.Error()
		run.LastError = &msg
	}
	if err := w.db.CreateSyncRun(ctx, &run); err != nil {
		w.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("write sync log")
	}
}

// Totals returns a snapshot of the running counts.
func (w *SyncWorker) Totals() Totals {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totals
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
