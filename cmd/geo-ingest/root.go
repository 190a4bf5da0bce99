package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/EmpoweredVote/geo-ingest/internal/config"
	"github.com/EmpoweredVote/geo-ingest/internal/db"
	"github.com/EmpoweredVote/geo-ingest/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	cfg config.Config
	lg  *zap.Logger
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "geo-ingest",
	Short: "Load geolocated detection exports into PostGIS",
	Long: `geo-ingest loads CSV and SQLite detection exports into a month-partitioned
PostGIS table. Every file is loaded in a single transaction and recorded in an
ingestion ledger, so re-running over the same files is a no-op.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")
}

// setup loads .env.local, the config file and the environment, then builds
// the logger every subcommand uses.
func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env.local")

	var err error
	if cfg, err = config.Load(cfgFile); err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if lg, err = logging.New(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	return nil
}

func openDB() (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return db.Open(cfg.DatabaseURL, lg)
}
