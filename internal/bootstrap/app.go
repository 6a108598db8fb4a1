package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tinyagent/internal/ai"
	appsvc "tinyagent/internal/app"
	"tinyagent/internal/cache"
	"tinyagent/internal/config"
	"tinyagent/internal/pkg/logger"
	"tinyagent/internal/pkg/password"
	"tinyagent/internal/platform/database"
	mysqlClient "tinyagent/internal/platform/mysql"
	postgresClient "tinyagent/internal/platform/postgres"
	rabbitmqClient "tinyagent/internal/platform/rabbitmq"
	redisClient "tinyagent/internal/platform/redis"
	sqliteClient "tinyagent/internal/platform/sqlite"
	"tinyagent/internal/repository"
	"tinyagent/internal/worker"
)

const dirtyMarkerTTL = 5 * time.Second

type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB
	// Redis and MQConn are nil when the dependency is disabled.
	Redis  *redis.Client
	MQConn *amqp.Connection

	MessageWorker *worker.MessagePersistWorker
	PurgeJob      *worker.PurgeJob

	Auth       *appsvc.AuthService
	Chat       *appsvc.ChatService
	Completion *appsvc.CompletionService
	Providers  *appsvc.ProviderService

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log, err := logger.New(cfg.Log, cfg.IsProd())
	if err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}

	a := &App{Config: cfg, Logger: log, StartedAt: time.Now()}
	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.BuildServices(); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.startBackground(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	a.DB = db
	if err := database.Migrate(db); err != nil {
		return err
	}
	a.Logger.Info("database ready", zap.String("driver", cfg.Database.Driver))

	if cfg.Redis.Enabled {
		client, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = client
		a.Logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		a.MQConn = conn
		a.Logger.Info("rabbitmq connected")
	}
	return nil
}

// OpenDatabase opens the configured engine without migrating it.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	pool := database.PoolConfig{
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}
	switch cfg.Database.Driver {
	case "postgres":
		return postgresClient.New(ctx, cfg.DatabaseDSN(), pool)
	case "sqlite":
		return sqliteClient.New(ctx, cfg.DatabaseDSN())
	default:
		return mysqlClient.New(ctx, cfg.DatabaseDSN(), pool)
	}
}

// BuildServices wires repositories and services on top of the connections
// already held by a. Redis selects the shared history cache, otherwise an
// in-process one is used; MQConn makes completion persistence asynchronous.
func (a *App) BuildServices() error {
	if a.DB == nil {
		return fmt.Errorf("build services: database is not connected")
	}
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}
	cfg := a.Config

	historyTTL := time.Duration(cfg.Redis.HistoryTTLSeconds) * time.Second
	var historyCache appsvc.HistoryCache
	if a.Redis != nil {
		historyCache = cache.NewRedisHistoryCache(a.Redis, historyTTL, dirtyMarkerTTL)
	} else {
		historyCache = cache.NewMemoryHistoryCache(historyTTL, dirtyMarkerTTL)
	}

	sessionRepo := repository.NewSessionRepository(a.DB, repository.WithAppendMaxRetries(cfg.Chat.AppendMaxRetries))
	a.Auth = appsvc.NewAuthService(
		repository.NewUserRepository(a.DB),
		password.NewBcryptHasher(cfg.Auth.BcryptCost),
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)
	a.Chat = appsvc.NewChatService(sessionRepo, historyCache, appsvc.ChatSettings{
		DefaultTitle: cfg.Chat.DefaultTitle,
		ListLimit:    cfg.Chat.ListLimit,
		MaxListLimit: cfg.Chat.MaxListLimit,
	}, a.Logger)
	a.Providers = appsvc.NewProviderService(repository.NewProviderRepository(a.DB))

	granularity, err := ai.ParseGranularity(cfg.Stream.Granularity)
	if err != nil {
		return err
	}
	var publisher appsvc.AppendPublisher
	if a.MQConn != nil {
		publisher = rabbitmqClient.NewAppendPublisher(a.MQConn, cfg.RabbitMQ.MessagePersistQueue)
	}
	a.Completion = appsvc.NewCompletionService(a.Chat, publisher, appsvc.StreamDefaults{
		Model:       cfg.Stream.DefaultModel,
		Granularity: granularity,
		Pace:        time.Duration(cfg.Stream.PaceMS) * time.Millisecond,
	}, a.Logger)

	if cfg.Purge.Enabled {
		retention := time.Duration(cfg.Purge.RetentionDays) * 24 * time.Hour
		job, err := worker.NewPurgeJob(sessionRepo, cfg.Purge.Schedule, retention, a.Logger)
		if err != nil {
			return err
		}
		a.PurgeJob = job
	}
	return nil
}

func (a *App) startBackground(ctx context.Context) error {
	if a.MQConn != nil {
		w := worker.NewMessagePersistWorker(a.MQConn, a.Chat, a.Config.RabbitMQ.MessagePersistQueue, a.Logger)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start message worker failed: %w", err)
		}
		a.MessageWorker = w
	}
	if a.PurgeJob != nil {
		a.PurgeJob.Start()
	}
	return nil
}

func (a *App) Close() error {
	var closeErr error
	if a.PurgeJob != nil {
		a.PurgeJob.Stop()
	}
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
