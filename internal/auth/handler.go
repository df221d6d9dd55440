package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/sid-auth/internal/logger"
	"github.com/yourusername/sid-auth/internal/store"
)

// JSON と application/x-www-form-urlencoded のどちらでも受け付ける
type registerRequest struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail" form:"usernameOrEmail"`
	Password        string `json:"password" form:"password"`
}

const (
	msgInvalidCredentials = "ユーザー名/メールアドレスまたはパスワードが正しくありません。"
	msgConflict           = "そのユーザー名またはメールアドレスは既に使われています。"
)

func publicUser(u store.User) gin.H {
	return gin.H{
		"id":       u.ID,
		"username": u.Username,
		"email":    u.Email,
	}
}

// Register は POST /api/auth/register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		// 読めない本文は空の入力として検証し、最初の不正なフィールドを返す
		req = registerRequest{}
	}
	m.register(c.Request.Context(), sessions.Default(c), req).write(c)
}

func (m *Manager) register(ctx context.Context, s sessions.Session, req registerRequest) response {
	log := logger.FromContext(ctx)

	if res, ok := validateRegistration(req); !ok {
		return res
	}

	// 事前チェックはエラーメッセージのため。一意性の保証は UNIQUE 制約が担う
	taken, err := m.identityTaken(ctx, req.Username, req.Email)
	if err != nil {
		log.Err(err).Str("func", "*Manager.register").Msg("failed to check existing user")
		return errorResponse(http.StatusInternalServerError, "INTERNAL_ERROR", "登録に失敗しました。")
	}
	if taken {
		return errorResponse(http.StatusConflict, "CONFLICT", msgConflict)
	}

	hash, err := m.hashPassword(req.Password)
	if err != nil {
		log.Err(err).Str("func", "*Manager.register").Msg("failed to hash password")
		return errorResponse(http.StatusInternalServerError, "INTERNAL_ERROR", "登録に失敗しました。")
	}

	user, err := m.users.CreateUser(ctx, store.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrUserAlreadyExists) {
			return errorResponse(http.StatusConflict, "CONFLICT", msgConflict)
		}
		log.Err(err).Str("func", "*Manager.register").Msg("failed to create user")
		return errorResponse(http.StatusInternalServerError, "INTERNAL_ERROR", "登録に失敗しました。")
	}

	if err := bindSession(s, user); err != nil {
		log.Err(err).Str("func", "*Manager.register").Int64("user_id", user.ID).Msg("failed to save session")
		return errorResponse(http.StatusInternalServerError, "SESSION_SAVE_FAILED", "セッションの保存に失敗しました。")
	}

	log.Info().Int64("user_id", user.ID).Msg("user registered")
	return response{status: http.StatusCreated, body: gin.H{
		"message": "登録しました。",
		"user":    publicUser(user),
	}}
}

func (m *Manager) identityTaken(ctx context.Context, username, email string) (bool, error) {
	if _, err := m.users.FindByUsername(ctx, username); err == nil {
		return true, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return false, err
	}

	if _, err := m.users.FindByEmail(ctx, email); err == nil {
		return true, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return false, err
	}
	return false, nil
}

// Login は POST /api/auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		req = loginRequest{}
	}
	m.login(c.Request.Context(), sessions.Default(c), req).write(c)
}

func (m *Manager) login(ctx context.Context, s sessions.Session, req loginRequest) response {
	log := logger.FromContext(ctx)

	identifier := req.UsernameOrEmail
	if identifier == "" || req.Password == "" {
		return errorResponse(http.StatusBadRequest, "INVALID_INPUT", "usernameOrEmail と password は必須です。")
	}

	user, err := m.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			m.burnHashTime(ctx, req.Password)
			return errorResponse(http.StatusUnauthorized, "INVALID_CREDENTIALS", msgInvalidCredentials)
		}
		log.Err(err).Str("func", "*Manager.login").Msg("failed to look up user")
		return errorResponse(http.StatusInternalServerError, "INTERNAL_ERROR", "ログインに失敗しました。")
	}

	if !m.verifyPassword(user.PasswordHash, req.Password) {
		return errorResponse(http.StatusUnauthorized, "INVALID_CREDENTIALS", msgInvalidCredentials)
	}

	if err := bindSession(s, user); err != nil {
		log.Err(err).Str("func", "*Manager.login").Int64("user_id", user.ID).Msg("failed to save session")
		return errorResponse(http.StatusInternalServerError, "SESSION_SAVE_FAILED", "セッションの保存に失敗しました。")
	}

	log.Info().Int64("user_id", user.ID).Msg("user logged in")
	return response{status: http.StatusOK, body: gin.H{
		"message": "ログインしました。",
		"user":    publicUser(user),
	}}
}

// lookup はユーザー名で探し、見つからなければメールアドレスで探します。
func (m *Manager) lookup(ctx context.Context, identifier string) (store.User, error) {
	user, err := m.users.FindByUsername(ctx, identifier)
	if err == nil || !errors.Is(err, store.ErrUserNotFound) {
		return user, err
	}
	return m.users.FindByEmail(ctx, identifier)
}

// Logout は POST /api/auth/logout のハンドラーです。セッションが無くても成功を返します。
func (m *Manager) Logout(c *gin.Context) {
	m.logout(c.Request.Context(), sessions.Default(c)).write(c)
}

func (m *Manager) logout(ctx context.Context, s sessions.Session) response {
	if err := destroySession(s); err != nil {
		// クライアントから見ればログアウトは完了している
		logger.FromContext(ctx).Err(err).Str("func", "*Manager.logout").Msg("failed to destroy session")
	}
	return response{status: http.StatusOK, body: gin.H{"message": "ログアウトしました。"}}
}

// Me は GET /api/auth/me のハンドラーです。未ログインでも 200 を返します。
func (m *Manager) Me(c *gin.Context) {
	me(sessions.Default(c)).write(c)
}

func me(s sessions.Session) response {
	id, username, ok := sessionUser(s)
	if !ok {
		return response{status: http.StatusOK, body: gin.H{"user": nil}}
	}
	return response{status: http.StatusOK, body: gin.H{
		"user": gin.H{"id": id, "username": username},
	}}
}

// Profile は GET /api/profile のハンドラーです。RequireLogin の後ろで使います。
func (m *Manager) Profile(c *gin.Context) {
	m.profile(c.Request.Context(), sessions.Default(c), c.GetInt64(ContextUserIDKey)).write(c)
}

func (m *Manager) profile(ctx context.Context, s sessions.Session, userID int64) response {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			// 削除済みユーザーのセッションは残さない
			_ = destroySession(s)
			return errorResponse(http.StatusUnauthorized, "UNAUTHORIZED", "ログインが必要です。")
		}
		logger.FromContext(ctx).Err(err).Str("func", "*Manager.profile").Msg("failed to load profile")
		return errorResponse(http.StatusInternalServerError, "INTERNAL_ERROR", "プロフィールの取得に失敗しました。")
	}

	body := publicUser(user)
	body["createdAt"] = user.CreatedAt
	return response{status: http.StatusOK, body: gin.H{"user": body}}
}
