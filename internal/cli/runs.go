package cli

import (
	"context"
	"strconv"
	"time"

	"lotwsync/internal/models"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		accountID int64
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent sync attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env, out *output) error {
				db, err := e.database(ctx)
				if err != nil {
					return err
				}
				runs, err := db.ListSyncRuns(ctx, accountID, limit)
				if err != nil {
					return err
				}
				if out.json() {
					if runs == nil {
						runs = []models.SyncRun{}
					}
					return out.writeJSON(runs)
				}
				if len(runs) == 0 {
					out.printf("no sync runs recorded\n")
					return nil
				}
				return out.table(
					[]string{"WHEN", "TASK", "CALLSIGN", "STATUS", "FETCHED", "INSERTED", "UPDATED", "UNCHANGED", "SKIPPED", "ERROR"},
					runRows(runs, time.Now()),
				)
			})
		},
	}

	cmd.Flags().Int64Var(&accountID, "account-id", 0, "only runs for this account")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows")
	return cmd
}

func runRows(runs []models.SyncRun, now time.Time) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		errText := ""
		if r.LastError != nil {
			errText = *r.LastError
		}
		rows = append(rows, []string{
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			r.TaskID,
			r.Callsign,
			r.Status,
			humanize.Comma(int64(r.Fetched)),
			humanize.Comma(int64(r.Inserted)),
			humanize.Comma(int64(r.Updated)),
			humanize.Comma(int64(r.Unchanged)),
			strconv.Itoa(r.Skipped),
			errText,
		})
	}
	return rows
}
