package pgstore

import (
	_ "embed"
	"fmt"

	"gorm.io/gorm"

	"github.com/EmpoweredVote/geo-ingest/internal/db"
)

//go:embed schema.sql
var schemaSQL string

// Schema is the Postgres schema every table lives in.
const Schema = "geo"

// Migrate prepares the database: PostGIS, the geo schema, the partitioned
// detection tables with their partition function, and the ledger table.
func Migrate(d *gorm.DB) error {
	if err := db.EnsureExtension(d, "postgis"); err != nil {
		return fmt.Errorf("ensure postgis: %w", err)
	}
	if err := db.EnsureSchema(d, Schema); err != nil {
		return fmt.Errorf("ensure schema %s: %w", Schema, err)
	}
	// No bind arguments: the driver sends this as one simple-protocol
	// query, which allows several statements.
	if err := d.Exec(schemaSQL).Error; err != nil {
		return fmt.Errorf("apply schema.sql: %w", err)
	}
	if err := d.AutoMigrate(&IngestFile{}); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}
