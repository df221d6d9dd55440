// Package auth は認証・認可機能を提供します。
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/sid-auth/internal/logger"
	"github.com/yourusername/sid-auth/internal/store"
)

const (
	SessionCookieName  = "sid"
	sessionKeyUserID   = "user_id"
	sessionKeyUsername = "username"

	// ログインページ（未認証のページアクセスのリダイレクト先）
	LoginPagePath = "/login.html"
)

var sessionLifetime = 7 * 24 * time.Hour

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(sessionLifetime.Seconds())
}

// ハンドラー間でログイン済みユーザーを共有するためのキーです。
const (
	ContextUserIDKey   = "auth.user_id"
	ContextUsernameKey = "auth.username"
)

// Manager は認証処理と依存をまとめた構造体です。
type Manager struct {
	users      store.UserRepository
	bcryptCost int
	logger     *logger.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

// NewManager は認証マネージャーを作成します。
func NewManager(users store.UserRepository, bcryptCost int, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		users:      users,
		bcryptCost: bcryptCost,
		logger:     log,
	}
}

// response はハンドラーの処理結果です。gin への書き込みは write が行います。
type response struct {
	status int
	body   gin.H
}

func errorResponse(status int, code, message string) response {
	return response{status: status, body: gin.H{"code": code, "message": message}}
}

func (r response) write(c *gin.Context) {
	c.JSON(r.status, r.body)
}

// sessionUser はセッションからユーザーIDとユーザー名を取り出します。
func sessionUser(s sessions.Session) (int64, string, bool) {
	id, ok := readUserID(s.Get(sessionKeyUserID))
	if !ok || id <= 0 {
		return 0, "", false
	}
	username, _ := s.Get(sessionKeyUsername).(string)
	return id, username, true
}

// bindSession はユーザーをセッションに紐付けて保存します。
func bindSession(s sessions.Session, user store.User) error {
	s.Set(sessionKeyUserID, user.ID)
	s.Set(sessionKeyUsername, user.Username)
	return s.Save()
}

// destroySession はセッションを破棄し、クッキーも失効させます。
func destroySession(s sessions.Session) error {
	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	return s.Save()
}

// bcrypt が扱えるのは先頭72バイトまでなので、ハッシュ化と照合の両方で同じく切り詰める
const maxPasswordBytes = 72

func bcryptInput(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

func (m *Manager) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(password), m.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (m *Manager) verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password)) == nil
}

// burnHashTime は存在しないユーザーでも照合と同程度の時間を使わせます。
func (m *Manager) burnHashTime(ctx context.Context, password string) {
	m.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), m.bcryptCost)
		if err != nil {
			logger.FromContext(ctx).Err(err).Msg("failed to prepare dummy hash")
			return
		}
		m.dummyHash = hash
	})
	if m.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(m.dummyHash, bcryptInput(password))
	}
}

func readUserID(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}
