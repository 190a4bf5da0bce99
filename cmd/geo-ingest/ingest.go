package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/EmpoweredVote/geo-ingest/internal/dbexport"
	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
	"github.com/EmpoweredVote/geo-ingest/internal/pgstore"
	"github.com/EmpoweredVote/geo-ingest/internal/report"
)

var (
	batchSize int
	saveRaw   bool
	workers   int
	outputFmt string
)

var errFilesFailed = errors.New("one or more files failed")

var ingestCmd = &cobra.Command{
	Use:   "ingest PATH...",
	Short: "Ingest CSV and SQLite exports",
	Long: `Ingest one or more export files. Paths may be glob patterns, including
"**" for recursive matches. Every path must match at least one file or
nothing is ingested.

Examples:
  geo-ingest ingest unit7.csv
  geo-ingest ingest "exports/**/*.csv" exports/viewer.db3 --workers 4
  geo-ingest ingest data/*.csv --save-raw=false --output json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&batchSize, "batch", 0, "rows per batch insert (default from config, 5000)")
	ingestCmd.Flags().BoolVar(&saveRaw, "save-raw", true, "archive every loaded row as JSON")
	ingestCmd.Flags().IntVar(&workers, "workers", 0, "files ingested concurrently (default from config, 1)")
	ingestCmd.Flags().StringVarP(&outputFmt, "output", "o", "text", "output format: text, json")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	paths, err := expandPaths(args)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("batch") {
		cfg.BatchSize = batchSize
	}
	if cmd.Flags().Changed("save-raw") {
		cfg.SaveRaw = saveRaw
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}

	gdb, err := openDB()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ing := ingest.New(pgstore.New(gdb), ingest.Options{
		BatchSize: cfg.BatchSize,
		SaveRaw:   cfg.SaveRaw,
		Workers:   cfg.Workers,
		Openers:   dbexport.Openers(),
	}, lg)

	inputs := make([]ingest.Input, len(paths))
	for i, p := range paths {
		inputs[i] = ingest.Input{Path: p}
	}
	results := ing.IngestAll(ctx, inputs)

	if err := report.New(outputFmt, cmd.OutOrStdout()).Render(results); err != nil {
		return err
	}
	for _, r := range results {
		if !r.OK() {
			return errFilesFailed
		}
	}
	return nil
}

// expandPaths resolves each argument to the files it names, in argument
// order without duplicates. An argument matching nothing is an error.
func expandPaths(args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, arg := range args {
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", arg)
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, err
			}
			if !seen[abs] {
				seen[abs] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}
