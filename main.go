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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/EmpoweredVote/geo-ingest/internal/config"
	"github.com/EmpoweredVote/geo-ingest/internal/db"
	"github.com/EmpoweredVote/geo-ingest/internal/dbexport"
	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
	"github.com/EmpoweredVote/geo-ingest/internal/logging"
	"github.com/EmpoweredVote/geo-ingest/internal/middleware"
	"github.com/EmpoweredVote/geo-ingest/internal/pgstore"
	"github.com/EmpoweredVote/geo-ingest/internal/portal"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Server is up!")
}

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load(os.Getenv("GEO_INGEST_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lg, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(serve(cfg, lg))
}

// serve runs the server and flushes the logger before reporting an exit code.
func serve(cfg config.Config, lg *zap.Logger) int {
	defer lg.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg config.Config, lg *zap.Logger) error {
	gdb, err := db.Open(cfg.DatabaseURL, lg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := pgstore.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := pgstore.New(gdb)

	srv := &portal.Server{
		Query: store,
		NewIngestor: func(saveRaw bool) portal.Ingestor {
			return ingest.New(store, ingest.Options{
				BatchSize: cfg.BatchSize,
				SaveRaw:   saveRaw,
				Workers:   cfg.Workers,
				Openers:   dbexport.Openers(),
			}, lg)
		},
		UploadDir:   cfg.UploadDir,
		UploadRate:  rate.Limit(cfg.UploadRate),
		UploadBurst: cfg.UploadBurst,
		Logger:      lg.Named("portal"),
	}
	if cfg.IngestTokenHash != "" {
		srv.Tokens = middleware.BcryptToken{Hash: []byte(cfg.IngestTokenHash)}
	} else {
		lg.Warn("INGEST_TOKEN_HASH not set, uploads disabled")
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	r.Get("/", RootHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/api", srv.SetupRoutes())

	httpSrv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		lg.Info("server listening", zap.String("addr", httpSrv.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
