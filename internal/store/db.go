// Package store は SQLite を使った永続化レイヤーを提供します。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yourusername/sid-auth/internal/logger"
	"github.com/yourusername/sid-auth/internal/store/migrations"
)

// Open は SQLite ファイルを開き、疎通確認をしてから返します。
// ファイルが無ければ作成されます。
func Open(ctx context.Context, path string, log *logger.Logger) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		log.Err(err).Str("path", path).Msg("error opening database")
		return nil, fmt.Errorf("error opening connection to DB: %w", err)
	}
	// 書き込みはエンジン側で直列化されるので接続は1本に絞る
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		log.Err(err).Str("path", path).Msg("error connecting database (ping)")
		conn.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("connected to database successfully")

	return conn, nil
}

// OpenAndMigrate は Open の後にマイグレーションを適用します。
func OpenAndMigrate(ctx context.Context, path string, set migrations.Set, log *logger.Logger) (*sql.DB, error) {
	db, err := Open(ctx, path, log)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(db, set); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func dsn(path string) string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	return "file:" + path + "?" + params.Encode()
}
