package cli

import (
	"context"
	"fmt"
	"io"

	"lotwsync/internal/config"
	"lotwsync/internal/database"
	"lotwsync/internal/logging"
	"lotwsync/internal/queue"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for lotwctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "lotwctl",
		Short: "Operate the LoTW confirmation sync",
		Long:  "Enqueue sync tasks, inspect and requeue dead letters, and review sync runs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "configs/config.yaml", "path to the YAML config")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewDeadLetterCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewAccountCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// env holds what a command opened; resources are created on first use.
type env struct {
	cfg     *config.Config
	logger  *zerolog.Logger
	closers []io.Closer
	db      *database.DB
	queue   *queue.Queue
}

func loadEnv(opts *RootOptions) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	// stdout belongs to command output
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	e := &env{cfg: cfg, logger: logging.Component(logger, "lotwctl")}
	if closer != nil {
		e.closers = append(e.closers, closer)
	}
	return e, nil
}

func (e *env) database(ctx context.Context) (*database.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := database.Open(ctx, e.cfg.Database, e.logger)
	if err != nil {
		return nil, err
	}
	e.db = db
	e.closers = append(e.closers, db)
	return db, nil
}

func (e *env) broker(ctx context.Context) (*queue.Queue, error) {
	if e.queue != nil {
		return e.queue, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     e.cfg.Redis.Address,
		Password: e.cfg.Redis.Password,
		DB:       e.cfg.Redis.DB,
		PoolSize: e.cfg.Redis.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	e.closers = append(e.closers, client)
	e.queue = queue.New(client, e.cfg.Redis.KeyPrefix, "lotwctl")
	return e.queue, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
}

// withEnv loads the environment, runs fn and releases everything fn opened.
func withEnv(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, e *env, out *output) error) error {
	e, err := loadEnv(opts)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(cmd.Context(), e, &output{format: opts.Format, w: cmd.OutOrStdout()})
}
