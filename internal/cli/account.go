package cli

import (
	"context"
	"errors"

	"lotwsync/internal/models"

	"github.com/spf13/cobra"
)

// NewAccountCommand creates the account command group.
func NewAccountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage sync accounts",
	}
	cmd.AddCommand(newAccountAddCommand(rootOpts))
	return cmd
}

func newAccountAddCommand(rootOpts *RootOptions) *cobra.Command {
	var username, callsign string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account or refresh its callsign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || callsign == "" {
				return errors.New("--username and --callsign are required")
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env, out *output) error {
				db, err := e.database(ctx)
				if err != nil {
					return err
				}
				account := models.Account{Username: username, Callsign: callsign}
				if err := db.UpsertAccount(ctx, &account); err != nil {
					return err
				}
				if out.json() {
					return out.writeJSON(account)
				}
				out.printf("account %d: %s (%s)\n", account.ID, account.Username, account.Callsign)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "LoTW login name")
	cmd.Flags().StringVar(&callsign, "callsign", "", "station callsign")
	return cmd
}
