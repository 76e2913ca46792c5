package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velmie/vitalrelay/mysql"
	"github.com/velmie/vitalrelay/postgres"
)

func newSchemaCommand() *cobra.Command {
	var (
		driver        string
		messageTable  string
		responseTable string
		stateTable    string
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the store DDL",
		Long: `Schema prints the CREATE TABLE statements for the mysql or postgres store so they can be
applied by a migration tool instead of --migrate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				ddl string
				err error
			)
			switch strings.ToLower(driver) {
			case driverMySQL:
				ddl, err = mysql.Schema(
					mysql.WithMessageTable(messageTable),
					mysql.WithResponseTable(responseTable),
					mysql.WithStateTable(stateTable),
				)
			case driverPostgres:
				ddl, err = postgres.Schema(
					postgres.WithMessageTable(messageTable),
					postgres.WithResponseTable(responseTable),
					postgres.WithStateTable(stateTable),
				)
			default:
				return fmt.Errorf("unknown driver %q: must be mysql or postgres", driver)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), ddl)

			return err
		},
	}
	cmd.Flags().StringVar(&driver, "driver", driverMySQL, "store driver (mysql|postgres)")
	cmd.Flags().StringVar(&messageTable, "message-table", "outbound_messages", "outbound message table")
	cmd.Flags().StringVar(&responseTable, "response-table", "inbound_responses", "inbound response table")
	cmd.Flags().StringVar(&stateTable, "state-table", "relay_state", "watermark state table")

	return cmd
}
