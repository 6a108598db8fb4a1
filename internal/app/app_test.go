package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"tinyagent/internal/cache"
	"tinyagent/internal/pkg/password"
	"tinyagent/internal/platform/database"
	"tinyagent/internal/platform/sqlite"
	"tinyagent/internal/repository"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	db        *gorm.DB
	sessions  *repository.SessionRepository
	cache     *cache.MemoryHistoryCache
	auth      *AuthService
	chat      *ChatService
	providers *ProviderService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	logger := zaptest.NewLogger(t)
	sessions := repository.NewSessionRepository(db)
	historyCache := cache.NewMemoryHistoryCache(time.Minute, 20*time.Millisecond)
	return &testEnv{
		db:        db,
		sessions:  sessions,
		cache:     historyCache,
		auth:      NewAuthService(repository.NewUserRepository(db), password.NewBcryptHasher(4), testJWTSecret, time.Hour),
		chat:      NewChatService(sessions, historyCache, ChatSettings{ListLimit: 2, MaxListLimit: 3}, logger),
		providers: NewProviderService(repository.NewProviderRepository(db)),
	}
}
