// Package migrations は埋め込みの goose マイグレーションを適用します。
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// Set はマイグレーションの対象データベースを表します。
type Set string

const (
	// Users は users テーブルを持つアプリケーションDBです。
	Users Set = "users"
	// Sessions はサーバー側セッションを保存するDBです。
	Sessions Set = "sessions"
)

//go:embed users/*.sql sessions/*.sql
var embedMigrations embed.FS

// goose の設定はパッケージグローバルなので直列化する
var gooseMu sync.Mutex

// Migrate は指定セットのマイグレーションを最新まで適用します。
func Migrate(db *sql.DB, set Set) error {
	if db == nil {
		return errors.New("migration error: db is nil")
	}
	switch set {
	case Users, Sessions:
	default:
		return fmt.Errorf("migration error: unknown set %q", set)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("migration error setting dialect for db: %w", err)
	}

	if err := goose.Up(db, string(set)); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	return nil
}
