package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/vitalrelay/mysql"
	"github.com/velmie/vitalrelay/server"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

type runOptions struct {
	*rootOptions
	Migrate bool
	Cleanup bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler loop and serve the HTTP API",
		Long: `Run submits pending messages, polls for responses and resends overdue messages every
polling_interval seconds, and serves the enqueue, status and metrics endpoints on server.addr.

Example:
  vitalrelay run --config relay.yaml --migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runRelay(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "create the store tables before starting")
	cmd.Flags().BoolVar(&opts.Cleanup, "cleanup", false, "run the retention cleanup maintainer in-process (mysql only)")

	return cmd
}

func runRelay(ctx context.Context, opts *runOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Migrate {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}

	srvOpts := []server.Option{
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		server.WithRegistry(a.registry),
		server.WithLogger(logger),
	}
	if cfg.Server.AcceptResponses {
		srvOpts = append(srvOpts, server.WithResponseHandler(a.engine))
	}
	handler, err := server.New(a.engine, a.store, a.codec, srvOpts...)
	if err != nil {
		return err
	}
	var maintainer *mysql.CleanupMaintainer
	if opts.Cleanup {
		if maintainer, err = a.cleanupMaintainer(); err != nil {
			return err
		}
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 3)
	engineDone := make(chan struct{})
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		defer close(engineDone)
		logger.Info("relay started", "polling_interval", cfg.Poll(), "resend_interval", cfg.Resend())
		if err := a.engine.Run(ctx); err != nil {
			errs <- fmt.Errorf("relay: %w", err)
		}
	}()
	if maintainer != nil {
		go func() {
			if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("cleanup: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	<-engineDone
	logger.Info("relay stopped")

	return runErr
}
