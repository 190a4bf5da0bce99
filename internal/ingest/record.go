package ingest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Detection is the canonical record loaded into geo.detections. Latitude and
// Longitude are either both set or both nil; storage derives the geography
// point from them.
type Detection struct {
	Timestamp      time.Time
	IMSI           *string
	IMEI           *string
	Operator       *string
	Latitude       *float64
	Longitude      *float64
	DistanceMeters *float64

	SourceType SourceType
	SourceFile string
	SourceRow  int64
}

// HasPosition reports whether the detection carries a coordinate pair.
func (d Detection) HasPosition() bool {
	return d.Latitude != nil && d.Longitude != nil
}

// RawDetection is the archival copy of the input row behind a Detection.
type RawDetection struct {
	Timestamp  time.Time
	SourceType SourceType
	SourceFile string
	SourceRow  int64
	Raw        json.RawMessage
}

// Ledger notes.
const (
	NotePending = "pending"
	NoteOK      = "ok"
)

// IngestFile is one ledger entry: a file's presence means it has been
// ingested (or is being ingested by a transaction that has not committed).
type IngestFile struct {
	SourceFile string
	SourceType SourceType
	RowsSeen   int64
	RowsLoaded int64
	LoadedAt   *time.Time
	Notes      string
	RunID      uuid.UUID
	CreatedAt  time.Time
}
