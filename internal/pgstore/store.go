package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
)

// insertChunk keeps multi-row INSERTs under Postgres' 65535 bind parameter
// limit (11 columns per detection).
const insertChunk = 1000

const (
	uniqueViolation  = "23505"
	deadlockDetected = "40P01"
)

var (
	_ ingest.Store = (*Store)(nil)
	_ ingest.Tx    = (*Tx)(nil)
)

// Store is the Postgres implementation of ingest.Store.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Now returns the database clock; the API health check uses it as a ping.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.db.WithContext(ctx).Raw(`SELECT now()`).Scan(&now).Error; err != nil {
		return time.Time{}, fmt.Errorf("ping database: %w", err)
	}
	return now, nil
}

// WithinTx runs fn in one transaction. A deadlock abort is reported as
// ingest.ErrDeadlock so the caller can retry the file.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ingest.Tx) error) error {
	return txError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{db: tx})
	}))
}

func txError(err error) error {
	if isCode(err, deadlockDetected) && !errors.Is(err, ingest.ErrDeadlock) {
		return fmt.Errorf("%w: %w", ingest.ErrDeadlock, err)
	}
	return err
}

// Tx is one file's unit of work.
type Tx struct {
	db *gorm.DB
}

func (t *Tx) EnsureDetectionPartition(ctx context.Context, year, month int) error {
	return t.db.WithContext(ctx).Exec(`SELECT geo.ensure_detection_partition(?, ?)`, year, month).Error
}

func (t *Tx) FileExists(ctx context.Context, sourceFile string) (bool, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(&IngestFile{}).
		Where("source_file = ?", sourceFile).
		Count(&n).Error
	return n > 0, err
}

func (t *Tx) InsertFile(ctx context.Context, f ingest.IngestFile) error {
	row := IngestFile{
		SourceFile: f.SourceFile,
		SourceType: int16(f.SourceType),
		RowsSeen:   f.RowsSeen,
		RowsLoaded: f.RowsLoaded,
		LoadedAt:   f.LoadedAt,
		Notes:      f.Notes,
		RunID:      f.RunID,
		CreatedAt:  f.CreatedAt,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ingest.ErrLedgerConflict, f.SourceFile)
		}
		return err
	}
	return nil
}

func (t *Tx) CompleteFile(ctx context.Context, sourceFile string, rowsSeen, rowsLoaded int64) error {
	res := t.db.WithContext(ctx).Model(&IngestFile{}).
		Where("source_file = ?", sourceFile).
		Updates(map[string]any{
			"rows_seen":   rowsSeen,
			"rows_loaded": rowsLoaded,
			"notes":       ingest.NoteOK,
			"loaded_at":   gorm.Expr("now()"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ingest.ErrLedgerMissing, sourceFile)
	}
	return nil
}

// UpsertDetections inserts with ON CONFLICT DO NOTHING on the dedup key;
// RowsAffected counts only the rows actually inserted.
func (t *Tx) UpsertDetections(ctx context.Context, rows []ingest.Detection) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	models := make([]Detection, len(rows))
	for i, d := range rows {
		models[i] = detectionFrom(d)
	}

	res := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "source_file"},
				{Name: "source_row"},
				{Name: "ts"},
			},
			DoNothing: true,
		}).
		CreateInBatches(&models, insertChunk)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (t *Tx) InsertRaw(ctx context.Context, rows []ingest.RawDetection) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]RawDetection, len(rows))
	for i, r := range rows {
		models[i] = rawFrom(r)
	}
	return t.db.WithContext(ctx).CreateInBatches(&models, insertChunk).Error
}

func isUniqueViolation(err error) bool {
	return isCode(err, uniqueViolation)
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
