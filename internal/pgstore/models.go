package pgstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
)

// Detection maps geo.detections. The table is partitioned and created by
// schema.sql, never by AutoMigrate.
type Detection struct {
	TS         time.Time `gorm:"column:ts;not null"`
	IMSI       *string   `gorm:"column:imsi"`
	IMEI       *string   `gorm:"column:imei"`
	Operator   *string   `gorm:"column:operator"`
	Lat        *float64  `gorm:"column:lat"`
	Lon        *float64  `gorm:"column:lon"`
	Geom       Geography `gorm:"column:geom"`
	DistanceM  *float64  `gorm:"column:distance_m"`
	SourceType int16     `gorm:"column:source_type;not null"`
	SourceFile string    `gorm:"column:source_file;not null"`
	SourceRow  int64     `gorm:"column:source_row;not null"`
}

func (Detection) TableName() string { return "geo.detections" }

func detectionFrom(d ingest.Detection) Detection {
	return Detection{
		TS:         d.Timestamp.UTC(),
		IMSI:       d.IMSI,
		IMEI:       d.IMEI,
		Operator:   d.Operator,
		Lat:        d.Latitude,
		Lon:        d.Longitude,
		Geom:       Geography{Lat: d.Latitude, Lon: d.Longitude},
		DistanceM:  d.DistanceMeters,
		SourceType: int16(d.SourceType),
		SourceFile: d.SourceFile,
		SourceRow:  d.SourceRow,
	}
}

// RawDetection maps geo.detections_raw.
type RawDetection struct {
	TS         time.Time      `gorm:"column:ts;not null"`
	SourceType int16          `gorm:"column:source_type;not null"`
	SourceFile string         `gorm:"column:source_file;not null"`
	SourceRow  int64          `gorm:"column:source_row;not null"`
	Raw        datatypes.JSON `gorm:"column:raw;type:jsonb;not null"`
}

func (RawDetection) TableName() string { return "geo.detections_raw" }

func rawFrom(r ingest.RawDetection) RawDetection {
	return RawDetection{
		TS:         r.Timestamp.UTC(),
		SourceType: int16(r.SourceType),
		SourceFile: r.SourceFile,
		SourceRow:  r.SourceRow,
		Raw:        datatypes.JSON(r.Raw),
	}
}

// IngestFile maps the ledger table geo.ingest_files.
type IngestFile struct {
	SourceFile string     `gorm:"column:source_file;primaryKey"`
	SourceType int16      `gorm:"column:source_type;not null"`
	RowsSeen   int64      `gorm:"column:rows_seen;not null;default:0"`
	RowsLoaded int64      `gorm:"column:rows_loaded;not null;default:0"`
	LoadedAt   *time.Time `gorm:"column:loaded_at"`
	Notes      string     `gorm:"column:notes;not null"`
	RunID      uuid.UUID  `gorm:"column:run_id;type:uuid;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
}

func (IngestFile) TableName() string { return "geo.ingest_files" }

func (f IngestFile) toIngest() ingest.IngestFile {
	return ingest.IngestFile{
		SourceFile: f.SourceFile,
		SourceType: ingest.SourceType(f.SourceType),
		RowsSeen:   f.RowsSeen,
		RowsLoaded: f.RowsLoaded,
		LoadedAt:   f.LoadedAt,
		Notes:      f.Notes,
		RunID:      f.RunID,
		CreatedAt:  f.CreatedAt,
	}
}

// Geography is a nullable geography(Point, 4326). It is written as an SQL
// expression so PostGIS builds the point; a missing coordinate writes NULL.
type Geography struct {
	Lat *float64
	Lon *float64
}

func (g Geography) Valid() bool { return g.Lat != nil && g.Lon != nil }

func (Geography) GormDataType() string { return "geography(Point,4326)" }

// GormValue builds the point in (lon, lat) axis order.
func (g Geography) GormValue(ctx context.Context, db *gorm.DB) clause.Expr {
	if !g.Valid() {
		return clause.Expr{SQL: "NULL"}
	}
	return clause.Expr{
		SQL:  "ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography",
		Vars: []any{*g.Lon, *g.Lat},
	}
}
