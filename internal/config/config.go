// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// セッションストアの種別
const (
	SessionStoreSQLite = "sqlite"
	SessionStoreRedis  = "redis"
	SessionStoreCookie = "cookie"
)

const (
	releaseMode        = "release"
	devSessionSecret   = "dev-secret-change-me"
	defaultBcryptCost  = 12
	defaultSweepMinute = 15
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // zerolog のログレベル

	// セッション設定
	SessionSecret       string // セッション署名用の秘密鍵
	SessionStore        string // sqlite / redis / cookie
	SessionDatabasePath string // sqlite ストア用のDBファイル
	SessionSweepMinutes int    // 期限切れセッション掃除の間隔（分）

	// データベース設定
	DatabasePath string // users テーブルを持つ SQLite ファイル

	// Redis設定
	RedisURL      string // セッション/レート制限用Redis接続URL（任意）
	QueueRedisURL string // Asynq用Redis接続URL（任意）

	// レート制限
	RateLimitWindowMinutes int // 固定ウィンドウの長さ（分）
	RateLimitMax           int // ウィンドウ内の最大リクエスト数

	// パスワードハッシュ
	BcryptCost int

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り、空なら無効）

	// 信頼するリバースプロキシ（カンマ区切り）。空なら X-Forwarded-For を無視する
	TrustedProxies string

	// 静的ファイル
	StaticDir string // 空なら埋め込みの public/ を配信
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:     getEnv("PORT", "3000"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		SessionSecret:       getEnv("SESSION_SECRET", ""),
		SessionStore:        strings.ToLower(getEnv("SESSION_STORE", SessionStoreSQLite)),
		SessionDatabasePath: getEnv("SESSION_DATABASE_PATH", "sessions.sqlite3"),
		SessionSweepMinutes: getEnvAsInt("SESSION_SWEEP_MINUTES", defaultSweepMinute),

		DatabasePath: getEnv("DATABASE_PATH", "data.sqlite3"),

		RedisURL:      getEnv("REDIS_URL", ""),
		QueueRedisURL: getEnv("QUEUE_REDIS_URL", ""),

		RateLimitWindowMinutes: getEnvAsInt("RATE_LIMIT_WINDOW_MINUTES", 15),
		RateLimitMax:           getEnvAsInt("RATE_LIMIT_MAX", 100),

		BcryptCost: getEnvAsInt("BCRYPT_COST", defaultBcryptCost),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		StaticDir:          getEnv("STATIC_DIR", ""),
		TrustedProxies:     getEnv("TRUSTED_PROXIES", ""),
	}

	// 開発時は固定の鍵で動かせるようにする
	if config.SessionSecret == "" && !config.IsProduction() {
		config.SessionSecret = devSessionSecret
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// IsProduction は release モードかどうかを返します。
func (c *Config) IsProduction() bool {
	return c.GinMode == releaseMode
}

// RateLimitWindow はレート制限のウィンドウ長です。
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMinutes) * time.Minute
}

// SessionSweepInterval は期限切れセッションを掃除する間隔です。
func (c *Config) SessionSweepInterval() time.Duration {
	minutes := c.SessionSweepMinutes
	if minutes <= 0 {
		minutes = defaultSweepMinute
	}
	return time.Duration(minutes) * time.Minute
}

// Addr は listen アドレスを返します。
func (c *Config) Addr() string {
	return ":" + c.Port
}

// TrustedProxyList は TRUSTED_PROXIES を分割して返します。未設定なら nil です。
func (c *Config) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

// AllowedOriginList は CORS_ALLOWED_ORIGINS を分割して返します。
func (c *Config) AllowedOriginList() []string {
	return splitList(c.CORSAllowedOrigins)
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required in release mode")
	}

	switch c.SessionStore {
	case SessionStoreSQLite:
		if c.SessionDatabasePath == "" {
			return fmt.Errorf("SESSION_DATABASE_PATH is required for the sqlite session store")
		}
	case SessionStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis session store")
		}
	case SessionStoreCookie:
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.RateLimitWindowMinutes <= 0 || c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_MINUTES and RATE_LIMIT_MAX must be positive")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
