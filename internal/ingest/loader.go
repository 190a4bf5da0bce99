package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultBatchSize is the flush threshold when Options leave it unset.
const DefaultBatchSize = 5000

// Loader buffers normalized detections (and, with raw archival on, their raw
// rows) and writes them in bulk through the Tx. Like Partitions it is scoped
// to one unit of work.
type Loader struct {
	tx        Tx
	batchSize int
	saveRaw   bool

	detections []Detection
	raw        []RawDetection

	loaded  int64
	omitted int64
	flushes int
}

func NewLoader(tx Tx, batchSize int, saveRaw bool) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{
		tx:         tx,
		batchSize:  batchSize,
		saveRaw:    saveRaw,
		detections: make([]Detection, 0, batchSize),
	}
}

// Add buffers d (and row, when archiving) and flushes once the buffer
// reaches the batch size.
func (l *Loader) Add(ctx context.Context, d Detection, row Row) error {
	l.detections = append(l.detections, d)
	if l.saveRaw {
		raw, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode raw row %d: %w", row.Ordinal, err)
		}
		l.raw = append(l.raw, RawDetection{
			Timestamp:  d.Timestamp,
			SourceType: d.SourceType,
			SourceFile: d.SourceFile,
			SourceRow:  d.SourceRow,
			Raw:        raw,
		})
	}

	if len(l.detections) >= l.batchSize {
		return l.Flush(ctx)
	}
	return nil
}

// Flush writes whatever is buffered: detections first, then the raw
// sidecar. An empty buffer is a no-op that touches no storage. Buffers are
// kept on error; the caller is expected to abandon the Tx.
func (l *Loader) Flush(ctx context.Context) error {
	if len(l.detections) == 0 {
		return nil
	}
	start := time.Now()

	inserted, err := l.tx.UpsertDetections(ctx, l.detections)
	if err != nil {
		return fmt.Errorf("upsert %d detections: %w", len(l.detections), err)
	}
	if l.saveRaw && len(l.raw) > 0 {
		if err := l.tx.InsertRaw(ctx, l.raw); err != nil {
			return fmt.Errorf("archive %d raw rows: %w", len(l.raw), err)
		}
	}

	l.loaded += inserted
	l.omitted += int64(len(l.detections)) - inserted
	l.flushes++
	flushDuration.Observe(time.Since(start).Seconds())

	l.detections = l.detections[:0]
	l.raw = l.raw[:0]
	return nil
}

// Buffered returns the number of detections waiting for the next flush.
func (l *Loader) Buffered() int { return len(l.detections) }

// Loaded returns rows actually inserted so far.
func (l *Loader) Loaded() int64 { return l.loaded }

// Omitted returns rows the upsert skipped because they were already stored.
func (l *Loader) Omitted() int64 { return l.omitted }

// Flushes returns how many non-empty flushes have run.
func (l *Loader) Flushes() int { return l.flushes }
