package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newTickCommand(root *rootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one submit, poll and resend pass and exit",
		Long: `Tick runs a single scheduler pass, for cron-driven deployments that do not keep the
relay running. The exit status is non-zero when any phase failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, os.Stderr)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := a.migrate(cmd.Context()); err != nil {
					return err
				}
			}

			report := a.engine.Tick(cmd.Context())
			logger.Info("tick done",
				"submitted", report.Submit.Delivered,
				"rejected", report.Submit.Rejected+report.Resend.Rejected,
				"fetched", report.Poll.Fetched,
				"resent", report.Resend.Delivered,
			)

			return report.Err
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the store tables before the tick")

	return cmd
}
