package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wager-core/internal/config"
	"wager-core/internal/models"
)

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second

	// WAL journal mode and a busy timeout so writers queue instead of failing
	sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
)

// Open connects to the transactional store and migrates the core tables.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var dialector gorm.Dialector
	switch driver {
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	case config.DriverSQLite:
		dialector = sqlite.Open(sqliteDSN(dsn))
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if driver == config.DriverSQLite {
		// sqlite has a single writer, queue in the pool rather than on SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}

	for i := 1; i <= pingAttempts; i++ {
		err = sqlDB.PingContext(ctx)
		if err == nil {
			break
		}
		logger.Warn("waiting for database", "attempt", i, "max_attempts", pingAttempts, "error", err)
		if i < pingAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pingBackoff):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("connected to database", "driver", driver)
	return db, nil
}

func Migrate(db *gorm.DB, logger *slog.Logger) error {
	for _, model := range models.MigrateModels {
		logger.Debug(fmt.Sprintf("creating table: %T", model))
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + sqlitePragmas
}
