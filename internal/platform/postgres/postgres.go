package postgres

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tinyagent/internal/platform/database"
)

func New(ctx context.Context, dsn string, pool database.PoolConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), database.GormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres failed: %w", err)
	}
	if err := database.Tune(ctx, db, pool); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return db, nil
}
