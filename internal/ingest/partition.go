package ingest

import (
	"context"
	"fmt"
	"time"
)

type month struct {
	year  int
	month time.Month
}

// Partitions makes sure the monthly partition for a detection exists before
// the detection enters a batch. It remembers what it already ensured, so it
// must not outlive the Tx it was created for.
type Partitions struct {
	tx   Tx
	seen map[month]struct{}
}

func NewPartitions(tx Tx) *Partitions {
	return &Partitions{tx: tx, seen: make(map[month]struct{})}
}

// Ensure creates the partition holding ts (UTC calendar month) if needed.
func (p *Partitions) Ensure(ctx context.Context, ts time.Time) error {
	u := ts.UTC()
	key := month{year: u.Year(), month: u.Month()}
	if _, ok := p.seen[key]; ok {
		return nil
	}
	if err := p.tx.EnsureDetectionPartition(ctx, key.year, int(key.month)); err != nil {
		return fmt.Errorf("ensure partition %04d-%02d: %w", key.year, key.month, err)
	}
	p.seen[key] = struct{}{}
	partitionsEnsured.Inc()
	return nil
}

// Count returns how many distinct months have been ensured.
func (p *Partitions) Count() int { return len(p.seen) }
