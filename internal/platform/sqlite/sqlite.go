package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tinyagent/internal/platform/database"
)

// New opens a SQLite database file. SQLite allows a single writer, so the pool
// is pinned to one connection and a busy timeout is added to the dsn.
func New(ctx context.Context, path string) (*gorm.DB, error) {
	if file := strings.SplitN(path, "?", 2)[0]; file != ":memory:" && !strings.HasPrefix(file, "file:") {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir failed: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "_busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_busy_timeout=5000"
	}

	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite failed: %w", err)
	}
	if err := database.Tune(ctx, db, database.PoolConfig{MaxIdleConns: 1, MaxOpenConns: 1}); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return db, nil
}
