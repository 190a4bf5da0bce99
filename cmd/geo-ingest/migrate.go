package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EmpoweredVote/geo-ingest/internal/pgstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the geo schema, detection tables, partition function and ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := openDB()
		if err != nil {
			return err
		}
		if err := pgstore.Migrate(gdb); err != nil {
			return err
		}
		lg.Info("schema up to date", zap.String("schema", pgstore.Schema))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
