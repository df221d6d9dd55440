package main

import (
	"context"
	"fmt"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/sid-auth/internal/config"
	"github.com/yourusername/sid-auth/internal/jobs"
	"github.com/yourusername/sid-auth/internal/logger"
	"github.com/yourusername/sid-auth/internal/sessionstore"
	"github.com/yourusername/sid-auth/internal/store"
	"github.com/yourusername/sid-auth/internal/store/migrations"
)

// newRedisClient は url が空なら nil を返します。
func newRedisClient(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// setupSessionStore は設定に応じたセッションストアを組み立てます。
// sqlite の場合のみ期限切れ掃除用の Sweeper を返します。
func setupSessionStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *logger.Logger) (sessions.Store, sessionstore.Sweeper, func(), error) {
	secret := []byte(cfg.SessionSecret)
	noop := func() {}

	switch cfg.SessionStore {
	case config.SessionStoreSQLite:
		db, err := store.OpenAndMigrate(ctx, cfg.SessionDatabasePath, migrations.Sessions, log)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("failed to open session database: %w", err)
		}
		backend := sessionstore.NewSQLiteBackend(db)
		return sessionstore.New(backend, secret), backend, func() { db.Close() }, nil
	case config.SessionStoreRedis:
		if rdb == nil {
			return nil, nil, noop, fmt.Errorf("redis session store requires REDIS_URL")
		}
		return sessionstore.New(sessionstore.NewRedisBackend(rdb), secret), nil, noop, nil
	case config.SessionStoreCookie:
		return cookie.NewStore(secret), nil, noop, nil
	default:
		return nil, nil, noop, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// startSweeper は期限切れセッションの掃除を開始し、停止関数を返します。
// QUEUE_REDIS_URL があれば asynq で、無ければプロセス内のティッカーで回します。
func startSweeper(ctx context.Context, cfg *config.Config, sweeper sessionstore.Sweeper, log *logger.Logger) (func(), error) {
	if sweeper == nil {
		return func() {}, nil
	}

	if cfg.QueueRedisURL != "" {
		manager, err := jobs.NewManager(cfg.QueueRedisURL, cfg.SessionSweepInterval(), sweeper, log)
		if err != nil {
			return nil, err
		}
		if err := manager.Start(); err != nil {
			return nil, err
		}
		return manager.Shutdown, nil
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	go jobs.RunTicker(sweepCtx, cfg.SessionSweepInterval(), sweeper, log)
	return cancel, nil
}
