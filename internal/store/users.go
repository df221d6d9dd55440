package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/yourusername/sid-auth/internal/logger"
)

const usersTable = "users"

// User は users テーブルの1行を表します。PasswordHash は外部に返さないこと。
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// UserRepository はユーザーの作成と検索を提供します。
type UserRepository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id int64) (User, error)
}

type userRepository struct {
	db     *sql.DB
	logger *logger.Logger
	sb     sq.StatementBuilderType
}

// NewUserRepository は SQLite を使う UserRepository を作成します。
func NewUserRepository(db *sql.DB, log *logger.Logger) UserRepository {
	log.Debug().Msg("creating user repository")
	return &userRepository{
		db:     db,
		logger: log,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// CreateUser はユーザーを保存し、採番された ID と作成日時を埋めて返します。
// UNIQUE 制約違反は ErrUserAlreadyExists になります。
func (r *userRepository) CreateUser(ctx context.Context, user User) (User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query, args, err := r.sb.Insert(usersTable).
		Columns("username", "email", "password_hash", "created_at").
		Values(user.Username, user.Email, user.PasswordHash, user.CreatedAt).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserAlreadyExists
		}
		logger.FromContext(ctx).Err(err).Str("func", "*userRepository.CreateUser").Msg("error inserting user")
		return User{}, fmt.Errorf("unexpected DB error: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("unexpected DB error: %w", err)
	}
	user.ID = id
	return user, nil
}

// FindByUsername は username が一致するユーザーを返します。
func (r *userRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, sq.Eq{"username": username})
}

// FindByEmail は email が一致するユーザーを返します。
func (r *userRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, sq.Eq{"email": email})
}

// FindByID は id が一致するユーザーを返します。
func (r *userRepository) FindByID(ctx context.Context, id int64) (User, error) {
	return r.findOne(ctx, sq.Eq{"id": id})
}

func (r *userRepository) findOne(ctx context.Context, where sq.Eq) (User, error) {
	query, args, err := r.sb.Select("id", "username", "email", "password_hash", "created_at").
		From(usersTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	var (
		user      User
		createdAt sql.NullTime
	)
	row := r.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		logger.FromContext(ctx).Err(err).Str("func", "*userRepository.findOne").Msg("error querying user")
		return User{}, fmt.Errorf("unexpected DB error: %w", err)
	}
	if createdAt.Valid {
		user.CreatedAt = createdAt.Time
	}

	return user, nil
}
