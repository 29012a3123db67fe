package repository

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options configure the database connection
type Options struct {
	Driver       string // postgres or sqlite
	DSN          string
	LogLevel     string // silent, error, warn, info
	MaxIdleConns int
	MaxOpenConns int
}

// Open connects to the configured database. An empty driver picks postgres for
// postgres:// URLs and sqlite otherwise.
func Open(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(opts.LogLevel)),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	driver := opts.Driver
	if driver == "" {
		driver = detectDriver(opts.DSN)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "postgres", "pg":
		db, err = gorm.Open(postgres.Open(opts.DSN), cfg)
	case "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			dsn = "intervue.db?_pragma=busy_timeout(5000)"
		}
		// One writer at a time
		opts.MaxOpenConns = 1
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	slog.Info("Connected to database", "driver", driver)
	return db, nil
}

func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}
