package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
)

const (
	DefaultLimit = 200
	MaxLimit     = 500
	// MaxPage keeps (page-1)*limit well inside int range.
	MaxPage = 1_000_000
)

// Near restricts results to detections within Radius meters of a point.
type Near struct {
	Lat    float64
	Lon    float64
	Radius float64
}

// DetectionFilter selects detections. From is inclusive and To exclusive;
// IMSI and IMEI match any of the listed values.
type DetectionFilter struct {
	From *time.Time
	To   *time.Time
	IMSI []string
	IMEI []string
	Near *Near

	Page  int
	Limit int
}

// Normalize clamps paging to 1 <= page <= MaxPage and 1 <= limit <= MaxLimit.
func (f *DetectionFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
}

// DetectionRow is one query result. DistM is set only for Near queries.
type DetectionRow struct {
	TS         time.Time `gorm:"column:ts" json:"ts"`
	IMSI       *string   `gorm:"column:imsi" json:"imsi"`
	IMEI       *string   `gorm:"column:imei" json:"imei"`
	Operator   *string   `gorm:"column:operator" json:"operator"`
	Lat        *float64  `gorm:"column:lat" json:"lat"`
	Lon        *float64  `gorm:"column:lon" json:"lon"`
	DistanceM  *float64  `gorm:"column:distance_m" json:"distance_m"`
	SourceType int16     `gorm:"column:source_type" json:"source_type"`
	SourceFile string    `gorm:"column:source_file" json:"source_file"`
	SourceRow  int64     `gorm:"column:source_row" json:"source_row"`
	DistM      *float64  `gorm:"column:dist_m" json:"dist_m"`
	GeomWKT    *string   `gorm:"column:geom_wkt" json:"geom_wkt"`
}

// DetectionPage is a page of results plus the total match count.
type DetectionPage struct {
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Total int64          `json:"total"`
	Items []DetectionRow `json:"items"`
}

// Summary aggregates the detections matching a filter.
type Summary struct {
	Total      int64      `gorm:"column:total" json:"total"`
	IMSIUnique int64      `gorm:"column:imsi_unique" json:"imsi_unique"`
	IMEIUnique int64      `gorm:"column:imei_unique" json:"imei_unique"`
	MinTS      *time.Time `gorm:"column:min_ts" json:"min_ts"`
	MaxTS      *time.Time `gorm:"column:max_ts" json:"max_ts"`
}

const pointSQL = "ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography"

// filtered starts a fresh query on geo.detections with f's conditions.
func (s *Store) filtered(ctx context.Context, f DetectionFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Table(Detection{}.TableName())
	if f.From != nil {
		q = q.Where("ts >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("ts < ?", *f.To)
	}
	if len(f.IMSI) > 0 {
		q = q.Where("imsi = ANY(?)", pq.Array(f.IMSI))
	}
	if len(f.IMEI) > 0 {
		q = q.Where("imei = ANY(?)", pq.Array(f.IMEI))
	}
	if n := f.Near; n != nil {
		q = q.Where("geom IS NOT NULL").
			Where("ST_DWithin(geom, "+pointSQL+", ?)", n.Lon, n.Lat, n.Radius)
	}
	return q
}

// ListDetections returns one page of matches, newest first.
func (s *Store) ListDetections(ctx context.Context, f DetectionFilter) (DetectionPage, error) {
	f.Normalize()
	page := DetectionPage{Page: f.Page, Limit: f.Limit, Items: []DetectionRow{}}

	if err := s.filtered(ctx, f).Count(&page.Total).Error; err != nil {
		return page, fmt.Errorf("count detections: %w", err)
	}

	cols := "ts, imsi, imei, operator, lat, lon, distance_m, source_type, source_file, source_row, " +
		"CASE WHEN geom IS NULL THEN NULL ELSE ST_AsText(geom::geometry) END AS geom_wkt"
	q := s.filtered(ctx, f)
	if n := f.Near; n != nil {
		q = q.Select(cols+", ST_Distance(geom, "+pointSQL+") AS dist_m", n.Lon, n.Lat)
	} else {
		q = q.Select(cols + ", NULL::double precision AS dist_m")
	}

	err := q.Order("ts DESC").
		Limit(f.Limit).
		Offset((f.Page - 1) * f.Limit).
		Scan(&page.Items).Error
	if err != nil {
		return page, fmt.Errorf("list detections: %w", err)
	}
	return page, nil
}

// Summarize aggregates all matches of f; paging is ignored.
func (s *Store) Summarize(ctx context.Context, f DetectionFilter) (Summary, error) {
	var sum Summary
	err := s.filtered(ctx, f).
		Select(`count(*) AS total,
			count(DISTINCT imsi) AS imsi_unique,
			count(DISTINCT imei) AS imei_unique,
			min(ts) AS min_ts,
			max(ts) AS max_ts`).
		Scan(&sum).Error
	if err != nil {
		return sum, fmt.Errorf("summarize detections: %w", err)
	}
	return sum, nil
}

// ListFiles returns the newest ledger entries first.
func (s *Store) ListFiles(ctx context.Context, limit int) ([]ingest.IngestFile, error) {
	if limit < 1 {
		limit = DefaultLimit
	}
	var rows []IngestFile
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list ingest files: %w", err)
	}

	out := make([]ingest.IngestFile, len(rows))
	for i, r := range rows {
		out[i] = r.toIngest()
	}
	return out, nil
}
