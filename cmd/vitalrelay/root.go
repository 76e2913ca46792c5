package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/velmie/vitalrelay/config"
)

const configEnv = "VITALRELAY_CONFIG"

type rootOptions struct {
	ConfigPath string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.ConfigPath)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "vitalrelay",
		Short:         "Vital-record delivery and reconciliation relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv(configEnv),
		"path to the YAML config file; environment variables override it (env "+configEnv+")")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newTickCommand(opts))
	cmd.AddCommand(newSchemaCommand())
	cmd.AddCommand(newCleanupCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}
