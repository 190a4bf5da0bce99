package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type detKey struct {
	file string
	row  int64
	ts   time.Time
}

type fakeState struct {
	files      map[string]IngestFile
	detections map[detKey]Detection
	raw        []RawDetection
	partitions map[[2]int]struct{}
}

func (s fakeState) clone() fakeState {
	c := fakeState{
		files:      make(map[string]IngestFile, len(s.files)),
		detections: make(map[detKey]Detection, len(s.detections)),
		raw:        append([]RawDetection(nil), s.raw...),
		partitions: make(map[[2]int]struct{}, len(s.partitions)),
	}
	for k, v := range s.files {
		c.files[k] = v
	}
	for k, v := range s.detections {
		c.detections[k] = v
	}
	for k := range s.partitions {
		c.partitions[k] = struct{}{}
	}
	return c
}

// fakeStore is an in-memory Store. Each unit of work runs against a copy of
// the committed state that replaces it only when fn succeeds.
type fakeStore struct {
	mu    sync.Mutex
	state fakeState

	// call counters survive rollback.
	ensureCalls int
	upsertCalls int
	rawCalls    int

	// failUpsertOn makes the n-th UpsertDetections call (1-based) fail.
	failUpsertOn int
	failEnsure   error
	// deadlocks makes that many EnsureDetectionPartition calls fail with
	// ErrDeadlock.
	deadlocks int
}

var errInjected = errors.New("injected storage failure")

func newFakeStore() *fakeStore {
	return &fakeStore{state: fakeState{}.clone()}
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &fakeTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *fakeStore) detectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.detections)
}

func (s *fakeStore) file(name string) (IngestFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.state.files[name]
	return f, ok
}

type fakeTx struct {
	store *fakeStore
	state fakeState
}

func (t *fakeTx) EnsureDetectionPartition(ctx context.Context, year, month int) error {
	t.store.ensureCalls++
	if t.store.deadlocks > 0 {
		t.store.deadlocks--
		return ErrDeadlock
	}
	if t.store.failEnsure != nil {
		return t.store.failEnsure
	}
	t.state.partitions[[2]int{year, month}] = struct{}{}
	return nil
}

func (t *fakeTx) FileExists(ctx context.Context, sourceFile string) (bool, error) {
	_, ok := t.state.files[sourceFile]
	return ok, nil
}

func (t *fakeTx) InsertFile(ctx context.Context, f IngestFile) error {
	if _, ok := t.state.files[f.SourceFile]; ok {
		return ErrLedgerConflict
	}
	t.state.files[f.SourceFile] = f
	return nil
}

func (t *fakeTx) CompleteFile(ctx context.Context, sourceFile string, rowsSeen, rowsLoaded int64) error {
	f, ok := t.state.files[sourceFile]
	if !ok {
		return ErrLedgerMissing
	}
	now := time.Now().UTC()
	f.RowsSeen, f.RowsLoaded, f.Notes, f.LoadedAt = rowsSeen, rowsLoaded, NoteOK, &now
	t.state.files[sourceFile] = f
	return nil
}

func (t *fakeTx) UpsertDetections(ctx context.Context, rows []Detection) (int64, error) {
	t.store.upsertCalls++
	if t.store.failUpsertOn > 0 && t.store.upsertCalls == t.store.failUpsertOn {
		return 0, errInjected
	}
	var inserted int64
	for _, d := range rows {
		u := d.Timestamp.UTC()
		if _, ok := t.state.partitions[[2]int{u.Year(), int(u.Month())}]; !ok {
			return 0, errors.New("no partition for detection")
		}
		k := detKey{file: d.SourceFile, row: d.SourceRow, ts: u}
		if _, ok := t.state.detections[k]; ok {
			continue
		}
		t.state.detections[k] = d
		inserted++
	}
	return inserted, nil
}

func (t *fakeTx) InsertRaw(ctx context.Context, rows []RawDetection) error {
	t.store.rawCalls++
	t.state.raw = append(t.state.raw, rows...)
	return nil
}

// writeFile creates name under a fresh temp dir and returns its path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}
