// Package storagetest opens throwaway sqlite stores for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"wager-core/internal/config"
	"wager-core/internal/storage"
)

func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "wager.sqlite")
	db, err := storage.Open(context.Background(), config.DriverSQLite, dsn, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = storage.Close(db)
	})
	return db
}
