package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/EmpoweredVote/geo-ingest/internal/pgstore"
)

var ledgerLimit int

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List the most recently ingested files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := openDB()
		if err != nil {
			return err
		}
		files, err := pgstore.New(gdb).ListFiles(cmd.Context(), ledgerLimit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FILE\tTYPE\tSEEN\tLOADED\tNOTES\tLOADED AT")
		for _, f := range files {
			loadedAt := "-"
			if f.LoadedAt != nil {
				loadedAt = f.LoadedAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
				f.SourceFile, f.SourceType, f.RowsSeen, f.RowsLoaded, f.Notes, loadedAt)
		}
		return tw.Flush()
	},
}

func init() {
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", pgstore.DefaultLimit, "number of entries to show")
	rootCmd.AddCommand(ledgerCmd)
}
