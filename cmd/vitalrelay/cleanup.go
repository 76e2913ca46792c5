package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/vitalrelay/config"
	"github.com/velmie/vitalrelay/mysql"
)

type cleanupOptions struct {
	*rootOptions
	DSN           string
	Retention     time.Duration
	CheckEvery    time.Duration
	Limit         int
	IncludeErrors bool
	LockName      string
	Once          bool
	Verbose       bool
}

func newCleanupCommand(root *rootOptions) *cobra.Command {
	opts := &cleanupOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete responses and terminal messages past the retention window (mysql)",
		Long: `Cleanup deletes inbound responses and AcknowledgedAndCoded messages (and Error messages with
--include-errors) older than the retention window. Pending, Sent and Acknowledged messages are
never deleted. Concurrent runs are serialized by a MySQL advisory lock.

With --dsn the command needs no config file; otherwise store.dsn and the cleanup section of the
config are used and flags override them.

Example:
  vitalrelay cleanup --dsn 'user:pass@tcp(db:3306)/relay?parseTime=true' --retention 720h --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.resolve(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runCleanup(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	cmd.Flags().DurationVar(&opts.Retention, "retention", 30*24*time.Hour, "delete rows older than this duration")
	cmd.Flags().DurationVar(&opts.CheckEvery, "check-every", time.Hour, "how often to run cleanup")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max rows deleted per table and run (0 uses default)")
	cmd.Flags().BoolVar(&opts.IncludeErrors, "include-errors", false, "delete Error messages as well")
	cmd.Flags().StringVar(&opts.LockName, "lock-name", "", "advisory lock name (optional)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run once and exit")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

// resolve fills unset flags from the config file when no DSN was given.
func (o *cleanupOptions) resolve(cmd *cobra.Command) error {
	if o.DSN != "" {
		return nil
	}

	cfg, err := o.load()
	if err != nil {
		return err
	}
	if cfg.Store.Driver != driverMySQL {
		return errCleanupUnsupported
	}
	o.DSN = cfg.Store.DSN

	flags := cmd.Flags()
	if !flags.Changed("retention") {
		o.Retention = cfg.Cleanup.Retention
	}
	if !flags.Changed("check-every") {
		o.CheckEvery = cfg.Cleanup.CheckEvery
	}
	if !flags.Changed("limit") {
		o.Limit = cfg.Cleanup.Limit
	}
	if !flags.Changed("include-errors") {
		o.IncludeErrors = cfg.Cleanup.IncludeErrors
	}

	return nil
}

func runCleanup(ctx context.Context, opts *cleanupOptions) error {
	db, err := sql.Open("mysql", opts.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	logger := newLogger(config.Log{Level: level, Format: "text"}, os.Stdout)

	maintainer, err := mysql.NewCleanupMaintainer(db, mysql.CleanupMaintainerConfig{
		Retention:     opts.Retention,
		CheckEvery:    opts.CheckEvery,
		Limit:         opts.Limit,
		IncludeErrors: opts.IncludeErrors,
		LockName:      opts.LockName,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("init maintainer: %w", err)
	}

	if opts.Once {
		result, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		logger.Info("cleanup done", "responses", result.Responses, "coded", result.Coded, "errors", result.Errors)

		return nil
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}
