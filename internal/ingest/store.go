package ingest

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrUnknownSchema  = errors.New("unrecognized source layout")
	ErrLedgerConflict = errors.New("file already registered in ingest ledger")
	ErrMalformedInput = errors.New("malformed input")
	ErrLedgerMissing  = errors.New("ledger entry not found")
	// ErrDeadlock marks a unit of work the database aborted to break a lock
	// cycle; nothing was committed and the file can be retried.
	ErrDeadlock = errors.New("deadlock detected")
)

// Tx is the unit of work one file is ingested in. Every write the partition
// coordinator, ledger and loader make goes through the same Tx, so a file
// either commits entirely or leaves nothing behind.
type Tx interface {
	// EnsureDetectionPartition is idempotent and safe under concurrent callers.
	EnsureDetectionPartition(ctx context.Context, year, month int) error

	FileExists(ctx context.Context, sourceFile string) (bool, error)
	// InsertFile fails with ErrLedgerConflict if sourceFile is already present.
	InsertFile(ctx context.Context, f IngestFile) error
	// CompleteFile returns ErrLedgerMissing if no entry was updated.
	CompleteFile(ctx context.Context, sourceFile string, rowsSeen, rowsLoaded int64) error

	// UpsertDetections inserts rows, skipping any whose
	// (source_file, source_row, ts) is already stored, and returns how many
	// were inserted.
	UpsertDetections(ctx context.Context, rows []Detection) (int64, error)
	InsertRaw(ctx context.Context, rows []RawDetection) error
}

// Store opens units of work. fn's Tx is committed when fn returns nil and
// rolled back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
