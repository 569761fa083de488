package cli

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dir       string
		retention time.Duration
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the SQLite store and prune old snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env, out *output) error {
				db, err := e.database(ctx)
				if err != nil {
					return err
				}
				path, err := db.Backup(ctx, dir)
				if err != nil {
					return err
				}
				pruned, err := db.PruneBackups(dir, retention)
				if err != nil {
					return err
				}

				var size int64
				if info, err := os.Stat(path); err == nil {
					size = info.Size()
				}
				if out.json() {
					return out.writeJSON(map[string]any{"path": path, "size": size, "pruned": pruned})
				}
				out.printf("wrote %s (%s), pruned %d\n", path, humanize.Bytes(uint64(size)), pruned)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "backups", "backup directory")
	cmd.Flags().DurationVar(&retention, "retention", 7*24*time.Hour, "delete snapshots older than this (0 keeps all)")
	return cmd
}
