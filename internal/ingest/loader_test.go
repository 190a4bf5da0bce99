package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func detectionAt(row int64, ts time.Time) Detection {
	return Detection{Timestamp: ts, SourceType: SourceIDCatcher, SourceFile: "f.csv", SourceRow: row}
}

// withTx runs fn in a unit of work of s and fails the test on error.
func withTx(t *testing.T, s *fakeStore, fn func(tx Tx) error) {
	t.Helper()
	if err := s.WithinTx(context.Background(), fn); err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
}

func TestLoaderFlushesAtBatchSize(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	ts := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	withTx(t, s, func(tx Tx) error {
		if err := NewPartitions(tx).Ensure(ctx, ts); err != nil {
			return err
		}
		l := NewLoader(tx, 3, false)
		for i := int64(1); i <= 3; i++ {
			if err := l.Add(ctx, detectionAt(i, ts), NewRow(i, nil, nil)); err != nil {
				return err
			}
		}
		if l.Buffered() != 0 {
			t.Errorf("Buffered after reaching batch size = %d, want 0", l.Buffered())
		}
		if s.upsertCalls != 1 {
			t.Errorf("upserts mid-stream = %d, want 1", s.upsertCalls)
		}

		// End of file with an empty trailing buffer.
		if err := l.Flush(ctx); err != nil {
			return err
		}
		if s.upsertCalls != 1 {
			t.Errorf("empty flush reached storage: upserts = %d", s.upsertCalls)
		}
		if l.Flushes() != 1 || l.Loaded() != 3 || l.Omitted() != 0 {
			t.Errorf("flushes=%d loaded=%d omitted=%d", l.Flushes(), l.Loaded(), l.Omitted())
		}
		return nil
	})
}

func TestLoaderCountsOmittedDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	withTx(t, s, func(tx Tx) error {
		if err := NewPartitions(tx).Ensure(ctx, ts); err != nil {
			return err
		}
		l := NewLoader(tx, 10, false)
		for _, row := range []int64{1, 2, 1} {
			if err := l.Add(ctx, detectionAt(row, ts), NewRow(row, nil, nil)); err != nil {
				return err
			}
		}
		if err := l.Flush(ctx); err != nil {
			return err
		}
		if l.Loaded() != 2 || l.Omitted() != 1 {
			t.Errorf("loaded=%d omitted=%d, want 2 and 1", l.Loaded(), l.Omitted())
		}
		return nil
	})
}

func TestLoaderSavesRaw(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	withTx(t, s, func(tx Tx) error {
		if err := NewPartitions(tx).Ensure(ctx, ts); err != nil {
			return err
		}
		l := NewLoader(tx, 10, true)
		row := NewRow(1, []string{"Time", "IMSI"}, []string{"2024-03-01 00:00:00", "111"})
		if err := l.Add(ctx, detectionAt(1, ts), row); err != nil {
			return err
		}
		return l.Flush(ctx)
	})

	if s.rawCalls != 1 || len(s.state.raw) != 1 {
		t.Fatalf("rawCalls=%d raw rows=%d, want 1 and 1", s.rawCalls, len(s.state.raw))
	}
	got := string(s.state.raw[0].Raw)
	want := `{"IMSI":"111","Time":"2024-03-01 00:00:00"}`
	if got != want {
		t.Errorf("raw = %s, want %s", got, want)
	}
	if s.state.raw[0].SourceRow != 1 || s.state.raw[0].SourceFile != "f.csv" {
		t.Errorf("raw provenance = %+v", s.state.raw[0])
	}
}

func TestLoaderPropagatesStorageErrors(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	s.failUpsertOn = 1
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	err := s.WithinTx(ctx, func(tx Tx) error {
		if err := NewPartitions(tx).Ensure(ctx, ts); err != nil {
			return err
		}
		l := NewLoader(tx, 1, false)
		return l.Add(ctx, detectionAt(1, ts), NewRow(1, nil, nil))
	})
	if !errors.Is(err, errInjected) {
		t.Fatalf("err = %v, want injected failure", err)
	}
	if s.detectionCount() != 0 {
		t.Errorf("rolled back unit of work left %d detections", s.detectionCount())
	}
}

func TestPartitionsEnsureOncePerMonth(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()

	withTx(t, s, func(tx Tx) error {
		p := NewPartitions(tx)
		stamps := []time.Time{
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
			time.Date(2024, 2, 1, 0, 30, 0, 0, time.FixedZone("CET", 3600)), // 2024-01-31 23:30 UTC
			time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
		}
		for _, ts := range stamps {
			if err := p.Ensure(ctx, ts); err != nil {
				return err
			}
		}
		if p.Count() != 2 {
			t.Errorf("Count = %d, want 2", p.Count())
		}
		return nil
	})
	if s.ensureCalls != 2 {
		t.Errorf("ensure calls = %d, want 2", s.ensureCalls)
	}
	if _, ok := s.state.partitions[[2]int{2024, 1}]; !ok {
		t.Error("January partition missing")
	}
}

func TestPartitionsEnsureFailure(t *testing.T) {
	s := newFakeStore()
	s.failEnsure = errInjected
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return NewPartitions(tx).Ensure(context.Background(), time.Now())
	})
	if !errors.Is(err, errInjected) {
		t.Fatalf("err = %v, want injected failure", err)
	}
}

func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	l := NewLedger()

	withTx(t, s, func(tx Tx) error {
		ok, err := l.AlreadyLoaded(ctx, tx, "a.csv")
		if err != nil || ok {
			t.Fatalf("AlreadyLoaded before begin = %v, %v", ok, err)
		}
		runID, err := l.BeginFile(ctx, tx, "a.csv", SourceInterrogation)
		if err != nil {
			return err
		}
		if f := tx.(*fakeTx).state.files["a.csv"]; f.Notes != NotePending || f.RunID != runID {
			t.Errorf("pending entry = %+v", f)
		}
		if _, err := l.BeginFile(ctx, tx, "a.csv", SourceInterrogation); !errors.Is(err, ErrLedgerConflict) {
			t.Errorf("second BeginFile err = %v, want ErrLedgerConflict", err)
		}
		return l.FinishFile(ctx, tx, "a.csv", 10, 8)
	})

	f, ok := s.file("a.csv")
	if !ok {
		t.Fatal("ledger entry not committed")
	}
	if f.Notes != NoteOK || f.RowsSeen != 10 || f.RowsLoaded != 8 || f.LoadedAt == nil {
		t.Errorf("final entry = %+v", f)
	}

	err := s.WithinTx(ctx, func(tx Tx) error {
		return l.FinishFile(ctx, tx, "missing.csv", 0, 0)
	})
	if !errors.Is(err, ErrLedgerMissing) {
		t.Errorf("FinishFile on missing entry err = %v", err)
	}
}
