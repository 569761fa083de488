package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"lotwsync/internal/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// EnqueueOptions holds flags for enqueue.
type EnqueueOptions struct {
	Username  string
	Callsign  string
	Password  string
	AccountID int64
	Since     string
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish a sync task for one account",
		Long: `Publish a sync task to the primary queue.

The password is read from --password or, when empty, from LOTW_PASSWORD.
--since overrides the stored sync marker for this task only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env, out *output) error {
				return runEnqueue(ctx, e, out, opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Username, "username", "u", "", "LoTW login name")
	cmd.Flags().StringVar(&opts.Callsign, "callsign", "", "station callsign")
	cmd.Flags().StringVarP(&opts.Password, "password", "p", "", "LoTW password (default $LOTW_PASSWORD)")
	cmd.Flags().Int64Var(&opts.AccountID, "account-id", 0, "stored account id")
	cmd.Flags().StringVar(&opts.Since, "since", "", "fetch confirmations since YYYY-MM-DD")

	return cmd
}

func buildTask(opts *EnqueueOptions, now time.Time) (models.SyncTask, error) {
	if opts.Username == "" && opts.AccountID == 0 {
		return models.SyncTask{}, errors.New("either --username or --account-id is required")
	}
	password := opts.Password
	if password == "" {
		password = os.Getenv("LOTW_PASSWORD")
	}

	created := now.UTC()
	task := models.SyncTask{
		TaskID:    uuid.NewString(),
		Callsign:  strings.ToUpper(strings.TrimSpace(opts.Callsign)),
		Username:  strings.TrimSpace(opts.Username),
		Password:  password,
		AccountID: opts.AccountID,
		CreatedAt: &created,
	}
	if opts.Since != "" {
		since, err := time.Parse(models.DateLayout, opts.Since)
		if err != nil {
			return models.SyncTask{}, fmt.Errorf("invalid --since: %w", err)
		}
		task.LastSyncMarker = models.NewMarker(since)
	}
	return task, nil
}

func runEnqueue(ctx context.Context, e *env, out *output, opts *EnqueueOptions) error {
	task, err := buildTask(opts, time.Now())
	if err != nil {
		return err
	}
	body, err := task.Encode()
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	q, err := e.broker(ctx)
	if err != nil {
		return err
	}
	if err := q.Publish(ctx, body); err != nil {
		return err
	}
	e.logger.Info().Str("task_id", task.TaskID).Str("username", task.Username).Msg("task enqueued")

	if out.json() {
		return out.writeJSON(task.Redacted())
	}
	out.printf("enqueued %s\n", task.TaskID)
	return nil
}
