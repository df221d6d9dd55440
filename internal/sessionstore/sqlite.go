package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const sessionsTable = "sessions"

// SQLiteBackend は sessions テーブルにセッションを保存します。
// テーブルは migrations.Sessions で作成されている前提です。
type SQLiteBackend struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewSQLiteBackend は SQLiteBackend を作成します。
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now: time.Now,
	}
}

// Load は有効期限内のセッションを返します。
func (b *SQLiteBackend) Load(ctx context.Context, id string) ([]byte, error) {
	query, args, err := b.sb.Select("data").
		From(sessionsTable).
		Where(sq.Eq{"sid": id}).
		Where(sq.Gt{"expires_at": b.now().Unix()}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var data []byte
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return data, nil
}

// Save はセッションを作成または上書きします。
func (b *SQLiteBackend) Save(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	query, args, err := b.sb.Insert(sessionsTable).
		Columns("sid", "data", "expires_at").
		Values(id, data, b.now().Add(ttl).Unix()).
		Suffix("ON CONFLICT(sid) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Delete はセッションを削除します。存在しなくてもエラーにはしません。
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	query, args, err := b.sb.Delete(sessionsTable).Where(sq.Eq{"sid": id}).ToSql()
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Sweep は期限切れのセッションを削除し、削除件数を返します。
func (b *SQLiteBackend) Sweep(ctx context.Context) (int64, error) {
	query, args, err := b.sb.Delete(sessionsTable).
		Where(sq.LtOrEq{"expires_at": b.now().Unix()}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return res.RowsAffected()
}
