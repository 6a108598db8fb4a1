package mysql

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"tinyagent/internal/platform/database"
)

func New(ctx context.Context, dsn string, pool database.PoolConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), database.GormConfig())
	if err != nil {
		return nil, fmt.Errorf("open mysql failed: %w", err)
	}
	if err := database.Tune(ctx, db, pool); err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return db, nil
}
