package cli

import (
	"context"
	"fmt"
	"strconv"

	"lotwsync/internal/models"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewDeadLetterCommand creates the deadletter command group.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and requeue dead-lettered tasks",
	}
	cmd.AddCommand(newDeadLetterListCommand(rootOpts))
	cmd.AddCommand(newDeadLetterRequeueCommand(rootOpts))
	return cmd
}

func newDeadLetterListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env, out *output) error {
				q, err := e.broker(ctx)
				if err != nil {
					return err
				}
				items, err := q.DeadLetters(ctx, limit)
				if err != nil {
					return err
				}

				entries := make([]models.DeadLetterView, 0, len(items))
				for _, raw := range items {
					entries = append(entries, models.ViewDeadLetter([]byte(raw)))
				}

				if out.json() {
					return out.writeJSON(entries)
				}
				if len(entries) == 0 {
					out.printf("no dead-lettered tasks\n")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					if entry.Malformed {
						rows = append(rows, []string{"-", "-", "-", "-", fmt.Sprintf("malformed (%s)", humanize.Bytes(uint64(entry.Size)))})
						continue
					}
					t := entry.Task
					lastRetry := "-"
					if t.LastRetry != nil {
						lastRetry = humanize.Time(*t.LastRetry)
					}
					rows = append(rows, []string{t.TaskID, t.Username, strconv.Itoa(t.RetryCount), lastRetry, t.LastError})
				}
				return out.table([]string{"TASK", "USERNAME", "RETRIES", "LAST RETRY", "LAST ERROR"}, rows)
			})
		},
	}

	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "maximum entries to show")
	return cmd
}

func newDeadLetterRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Move dead-lettered tasks back to the queue with a fresh retry budget",
		Long: `Move up to --limit dead-lettered tasks, oldest first, back to the primary queue.

retry_count is reset to zero and last_error is kept for the record.
Bodies that cannot be decoded stay in the dead-letter list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env, out *output) error {
				q, err := e.broker(ctx)
				if err != nil {
					return err
				}
				moved, err := q.RequeueDeadLetters(ctx, limit, resetTask)
				if err != nil {
					return err
				}
				e.logger.Info().Int("requeued", moved).Msg("dead letters requeued")

				if out.json() {
					return out.writeJSON(map[string]int{"requeued": moved})
				}
				out.printf("requeued %s task(s)\n", humanize.Comma(int64(moved)))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum tasks to requeue")
	return cmd
}

// resetTask gives a dead-lettered body a fresh retry budget.
func resetTask(body []byte) ([]byte, error) {
	task, err := models.DecodeSyncTask(body)
	if err != nil {
		return nil, err
	}
	task.RetryCount = 0
	task.LastRetry = nil
	return task.Encode()
}
