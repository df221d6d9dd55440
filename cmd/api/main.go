// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/sid-auth/internal/auth"
	"github.com/yourusername/sid-auth/internal/config"
	"github.com/yourusername/sid-auth/internal/logger"
	"github.com/yourusername/sid-auth/internal/ratelimit"
	"github.com/yourusername/sid-auth/internal/store"
	"github.com/yourusername/sid-auth/internal/store/migrations"
	"github.com/yourusername/sid-auth/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New("api", cfg.LogLevel)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	usersDB, err := store.OpenAndMigrate(ctx, cfg.DatabasePath, migrations.Users, log)
	if err != nil {
		return fmt.Errorf("failed to open users database: %w", err)
	}
	defer usersDB.Close()

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	sessionStore, sweeper, closeSessions, err := setupSessionStore(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	stopSweeper, err := startSweeper(ctx, cfg, sweeper, log)
	if err != nil {
		return err
	}
	defer stopSweeper()

	site, err := web.New(cfg.StaticDir)
	if err != nil {
		return err
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitWindow(), cfg.RateLimitMax)
	checks := []healthCheck{{name: "database", ping: usersDB.PingContext}}
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimitWindow(), cfg.RateLimitMax)
		checks = append(checks, healthCheck{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	router, err := newRouter(cfg, log, sessionStore)
	if err != nil {
		return err
	}
	setupRoutes(router, routeDeps{
		auth:    auth.NewManager(store.NewUserRepository(usersDB, log), cfg.BcryptCost, log),
		limiter: limiter,
		site:    site,
		checks:  checks,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("mode", cfg.GinMode).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// newRouter はミドルウェアを積んだエンジンを返します。
func newRouter(cfg *config.Config, log *logger.Logger, sessionStore sessions.Store) (*gin.Engine, error) {
	router := gin.New()
	// レート制限のキーになるため、未設定ならソケットのアドレスだけを使う
	if err := router.SetTrustedProxies(cfg.TrustedProxyList()); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(logger.Middleware(log))

	// セキュリティ関連ヘッダー
	router.Use(secure.New(secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IENoOpen:           true,
		ReferrerPolicy:     "no-referrer",
	}))

	// CORS は許可オリジンが設定された場合のみ
	if origins := cfg.AllowedOriginList(); len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
		router.Use(cors.New(corsConfig))
	}

	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	return router, nil
}

type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

type routeDeps struct {
	auth    *auth.Manager
	limiter ratelimit.Limiter
	site    *web.Site
	checks  []healthCheck
}

// handleHealth はヘルスチェックエンドポイントのハンドラーを返します。
func handleHealth(checks []healthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		for _, check := range checks {
			if err := check.ping(ctx); err != nil {
				logger.FromContext(c.Request.Context()).Err(err).Str("check", check.name).Msg("health check failed")
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unavailable",
					"check":  check.name,
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "sid-auth-api",
		})
	}
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, deps routeDeps) {
	router.GET("/health", handleHealth(deps.checks))

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		authRoutes.Use(ratelimit.Middleware(deps.limiter))
		{
			authRoutes.POST("/register", deps.auth.Register)
			authRoutes.POST("/login", deps.auth.Login)
			authRoutes.POST("/logout", deps.auth.Logout)
			authRoutes.GET("/me", deps.auth.Me)
		}

		api.GET("/profile", deps.auth.RequireLogin(), deps.auth.Profile)
	}

	router.GET("/profile", deps.auth.RequireLogin(), deps.site.Page("profile.html"))
	router.NoRoute(deps.site.Fallback())
}
