package db

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrEmptyDSN = errors.New("database DSN is empty")

// Open connects to Postgres through gorm's pgx-backed driver. SQL logging is
// routed into lg; only slow queries and errors are reported unless debug is on.
func Open(dsn string, lg *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}

	level := logger.Warn
	if lg.Core().Enabled(zap.DebugLevel) {
		level = logger.Info
	}

	gl := logger.New(
		zap.NewStdLog(lg.Named("gorm")),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond, // batch upserts are expected to take a while
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gl,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// One connection per concurrent file transaction plus headroom for the API.
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	lg.Info("connected to database")
	return db, nil
}
