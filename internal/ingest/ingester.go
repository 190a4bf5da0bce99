package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options are fixed for the lifetime of an Ingester.
type Options struct {
	BatchSize int
	SaveRaw   bool
	// Workers bounds how many files IngestAll runs at once.
	Workers int
	// Openers maps extensions to non-CSV readers.
	Openers Openers
}

// State is where a file ended up in the ingestion state machine.
type State int

const (
	StateOpened State = iota
	StateDetected
	StateLedgerChecked
	StateStreaming
	StateFlushed
	StateFinalized
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateDetected:
		return "detected"
	case StateLedgerChecked:
		return "ledger_checked"
	case StateStreaming:
		return "streaming"
	case StateFlushed:
		return "flushed"
	case StateFinalized:
		return "finalized"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Input names one file to ingest. Name, when set, is the file's original
// name (an upload saved under a temporary path) and is what the ledger keys
// on; otherwise the base name of Path is used.
type Input struct {
	Path string
	Name string
}

func (in Input) SourceFile() string {
	if in.Name != "" {
		return filepath.Base(in.Name)
	}
	return filepath.Base(in.Path)
}

// Result is the outcome of one file. Err is nil for finalized and skipped
// files.
type Result struct {
	SourceFile  string
	SourceType  SourceType
	State       State
	RunID       uuid.UUID
	RowsSeen    int64
	RowsLoaded  int64
	RowsOmitted int64
	Flushes     int
	Partitions  int
	Duration    time.Duration
	Err         error
}

// OK reports whether the file committed or was skipped as already loaded.
func (r Result) OK() bool { return r.Err == nil }

// errSkip aborts the unit of work of a file the ledger already holds.
var errSkip = errors.New("already ingested")

// Ingester runs the per-file pipeline: open, detect, ledger check, stream
// rows through the normalizer and loader, finalize the ledger, commit.
type Ingester struct {
	store  Store
	opts   Options
	ledger *Ledger
	lg     *zap.Logger
}

func New(store Store, opts Options, lg *zap.Logger) *Ingester {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Ingester{store: store, opts: opts, ledger: NewLedger(), lg: lg.Named("ingest")}
}

// deadlockRetries is how many times a file is re-run after losing a
// deadlock. Two transactions creating the same new month partition can
// deadlock on the parent table's lock.
const deadlockRetries = 2

// Ingest processes one file in its own transaction. A file is either loaded
// entirely (StateFinalized), recognized as already loaded (StateSkipped), or
// leaves no trace in storage (StateFailed).
func (ing *Ingester) Ingest(ctx context.Context, in Input) Result {
	start := time.Now()
	lg := ing.lg.With(zap.String("source_file", in.SourceFile()))

	var (
		res Result
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = ing.attempt(ctx, in, lg)
		if !errors.Is(err, ErrDeadlock) || attempt == deadlockRetries || ctx.Err() != nil {
			break
		}
		lg.Warn("deadlock, retrying file", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return ing.finish(lg, res, start, err)
}

// attempt opens the file afresh and runs it in one unit of work.
func (ing *Ingester) attempt(ctx context.Context, in Input, lg *zap.Logger) (Result, error) {
	res := Result{SourceFile: in.SourceFile()}

	src, err := ing.opts.Openers.For(in.SourceFile())(in.Path)
	if err != nil {
		return res, fmt.Errorf("open %s: %w", res.SourceFile, err)
	}
	defer src.Close()
	res.State = StateOpened

	res.SourceType = src.Type()
	res.State = StateDetected
	lg = lg.With(zap.Stringer("source_type", res.SourceType))
	lg.Debug("layout detected")

	err = ing.store.WithinTx(ctx, func(tx Tx) error {
		return ing.run(ctx, tx, src, &res, lg)
	})
	switch {
	case errors.Is(err, errSkip):
		res.State = StateSkipped
		res.RowsSeen, res.RowsLoaded, res.RowsOmitted, res.Flushes, res.Partitions = 0, 0, 0, 0, 0
		err = nil
	case err == nil:
		res.State = StateFinalized
	}
	return res, err
}

func (ing *Ingester) run(ctx context.Context, tx Tx, src Source, res *Result, lg *zap.Logger) error {
	loaded, err := ing.ledger.AlreadyLoaded(ctx, tx, res.SourceFile)
	if err != nil {
		return err
	}
	res.State = StateLedgerChecked
	if loaded {
		return errSkip
	}

	runID, err := ing.ledger.BeginFile(ctx, tx, res.SourceFile, res.SourceType)
	if err != nil {
		return err
	}
	res.RunID = runID

	partitions := NewPartitions(tx)
	loader := NewLoader(tx, ing.opts.BatchSize, ing.opts.SaveRaw)

	res.State = StateStreaming
	lg.Debug("streaming", zap.Stringer("run_id", runID))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		res.RowsSeen++

		d, ok := Normalize(res.SourceType, res.SourceFile, row)
		if !ok {
			continue
		}

		if err := partitions.Ensure(ctx, d.Timestamp); err != nil {
			return err
		}
		if err := loader.Add(ctx, d, row); err != nil {
			return err
		}
	}

	if err := loader.Flush(ctx); err != nil {
		return err
	}
	res.State = StateFlushed
	res.RowsLoaded = loader.Loaded()
	res.RowsOmitted = loader.Omitted()
	res.Flushes = loader.Flushes()
	res.Partitions = partitions.Count()

	return ing.ledger.FinishFile(ctx, tx, res.SourceFile, res.RowsSeen, res.RowsLoaded)
}

func (ing *Ingester) finish(lg *zap.Logger, res Result, start time.Time, err error) Result {
	res.Duration = time.Since(start)
	if err != nil {
		res.State = StateFailed
		res.Err = err
		res.RowsLoaded, res.RowsOmitted = 0, 0
	}
	filesTotal.WithLabelValues(res.State.String()).Inc()

	fields := []zap.Field{
		zap.Stringer("state", res.State),
		zap.Stringer("source_type", res.SourceType),
		zap.Int64("rows_seen", res.RowsSeen),
		zap.Int64("rows_loaded", res.RowsLoaded),
		zap.Int64("rows_omitted", res.RowsOmitted),
		zap.Duration("took", res.Duration),
	}
	switch res.State {
	case StateFinalized:
		rowsSeenTotal.Add(float64(res.RowsSeen))
		rowsLoadedTotal.Add(float64(res.RowsLoaded))
		rowsOmittedTotal.Add(float64(res.RowsOmitted))
		lg.Info("file ingested", fields...)
	case StateSkipped:
		lg.Info("file already ingested, skipping")
	default:
		lg.Error("file ingestion failed", append(fields, zap.Error(err))...)
	}
	return res
}

// IngestAll ingests inputs with at most Options.Workers files in flight.
// Files are independent: a failure is recorded in its Result and does not
// stop the others. Results are in input order.
func (ing *Ingester) IngestAll(ctx context.Context, inputs []Input) []Result {
	results := make([]Result, len(inputs))

	var g errgroup.Group
	g.SetLimit(ing.opts.Workers)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			results[i] = ing.Ingest(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
