package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger is the per-file bookkeeping that makes ingestion idempotent at file
// granularity. All calls take the caller's Tx; the ledger holds no handle of
// its own.
type Ledger struct {
	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// AlreadyLoaded reports whether sourceFile has a ledger entry.
func (l *Ledger) AlreadyLoaded(ctx context.Context, tx Tx, sourceFile string) (bool, error) {
	ok, err := tx.FileExists(ctx, sourceFile)
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", sourceFile, err)
	}
	return ok, nil
}

// BeginFile registers sourceFile as pending and returns the run ID stamped on
// the entry. A second registration of the same file fails with
// ErrLedgerConflict; that constraint is what keeps concurrent runs from
// ingesting a file twice.
func (l *Ledger) BeginFile(ctx context.Context, tx Tx, sourceFile string, st SourceType) (uuid.UUID, error) {
	runID := uuid.New()
	entry := IngestFile{
		SourceFile: sourceFile,
		SourceType: st,
		Notes:      NotePending,
		RunID:      runID,
		CreatedAt:  l.now().UTC(),
	}
	if err := tx.InsertFile(ctx, entry); err != nil {
		return uuid.Nil, fmt.Errorf("ledger begin %s: %w", sourceFile, err)
	}
	return runID, nil
}

// FinishFile moves the pending entry to its final state.
func (l *Ledger) FinishFile(ctx context.Context, tx Tx, sourceFile string, rowsSeen, rowsLoaded int64) error {
	if err := tx.CompleteFile(ctx, sourceFile, rowsSeen, rowsLoaded); err != nil {
		return fmt.Errorf("ledger finish %s: %w", sourceFile, err)
	}
	return nil
}
