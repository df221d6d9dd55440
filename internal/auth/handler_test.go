package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/sid-auth/internal/logger"
	"github.com/yourusername/sid-auth/internal/sessionstore"
	"github.com/yourusername/sid-auth/internal/store"
	"github.com/yourusername/sid-auth/internal/store/migrations"
)

type testEnv struct {
	router  *gin.Engine
	manager *Manager
	users   store.UserRepository
	cookies map[string]*http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	dir := t.TempDir()

	usersDB, err := store.OpenAndMigrate(ctx, filepath.Join(dir, "data.sqlite3"), migrations.Users, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open users db: %v", err)
	}
	t.Cleanup(func() { usersDB.Close() })

	sessionsDB, err := store.OpenAndMigrate(ctx, filepath.Join(dir, "sessions.sqlite3"), migrations.Sessions, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open sessions db: %v", err)
	}
	t.Cleanup(func() { sessionsDB.Close() })

	users := store.NewUserRepository(usersDB, logger.Nop())
	manager := NewManager(users, bcrypt.MinCost, logger.Nop())

	sessionStore := sessionstore.New(sessionstore.NewSQLiteBackend(sessionsDB), []byte("test-secret"))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAgeSeconds(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	router := gin.New()
	router.Use(sessions.Sessions(SessionCookieName, sessionStore))
	authRoutes := router.Group("/api/auth")
	authRoutes.POST("/register", manager.Register)
	authRoutes.POST("/login", manager.Login)
	authRoutes.POST("/logout", manager.Logout)
	authRoutes.GET("/me", manager.Me)
	router.GET("/api/profile", manager.RequireLogin(), manager.Profile)
	router.GET("/profile", manager.RequireLogin(), func(c *gin.Context) {
		c.String(http.StatusOK, "profile page")
	})

	return &testEnv{
		router:  router,
		manager: manager,
		users:   users,
		cookies: make(map[string]*http.Cookie),
	}
}

// do はブラウザのようにクッキーを保持しながらリクエストを送ります。
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range e.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(e.cookies, c.Name)
			continue
		}
		e.cookies[c.Name] = c
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func registerBody(username, email, password string) map[string]string {
	return map[string]string{"username": username, "email": email, "password": password}
}

func TestRegisterLoginLogoutFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/register", registerBody("alice_01", "a@x.com", "longenough"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	user := decode(t, rec)["user"].(map[string]any)
	if user["username"] != "alice_01" || user["email"] != "a@x.com" {
		t.Fatalf("unexpected user: %#v", user)
	}
	if _, ok := user["password_hash"]; ok {
		t.Fatal("password hash must not be returned")
	}
	registeredID := user["id"]

	cookie, ok := env.cookies[SessionCookieName]
	if !ok {
		t.Fatal("expected session cookie after registration")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes: %#v", cookie)
	}
	if cookie.MaxAge != 7*24*60*60 {
		t.Fatalf("unexpected cookie MaxAge: %d", cookie.MaxAge)
	}

	// 登録直後の /me
	me := decode(t, env.do(t, http.MethodGet, "/api/auth/me", nil))["user"].(map[string]any)
	if me["id"] != registeredID || me["username"] != "alice_01" {
		t.Fatalf("unexpected /me user: %#v", me)
	}

	env.cookies = make(map[string]*http.Cookie)
	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"usernameOrEmail": "a@x.com", "password": "longenough"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	loggedIn := decode(t, rec)["user"].(map[string]any)
	if loggedIn["id"] != registeredID {
		t.Fatalf("login returned id %v, want %v", loggedIn["id"], registeredID)
	}
}

func TestRegisterInvalidUsername(t *testing.T) {
	env := newTestEnv(t)

	for _, username := range []string{"", "ab", "has space", "dash-name", "ünïcode", strings.Repeat("a", 33), "semi;colon"} {
		rec := env.do(t, http.MethodPost, "/api/auth/register", registerBody(username, "a@x.com", "longenough"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("username %q: unexpected status %d", username, rec.Code)
		}
		if code := decode(t, rec)["code"]; code != "INVALID_USERNAME" {
			t.Fatalf("username %q: unexpected code %v", username, code)
		}
	}
}

func TestRegisterInvalidEmail(t *testing.T) {
	env := newTestEnv(t)

	for _, email := range []string{"", "plain", "a@b", "a.b@c", "@x.com", "a@.", "a b@x.com"} {
		rec := env.do(t, http.MethodPost, "/api/auth/register", registerBody("alice", email, "longenough"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("email %q: unexpected status %d", email, rec.Code)
		}
		if code := decode(t, rec)["code"]; code != "INVALID_EMAIL" {
			t.Fatalf("email %q: unexpected code %v", email, code)
		}
	}
}

func TestRegisterInvalidPassword(t *testing.T) {
	env := newTestEnv(t)

	for _, password := range []string{"", "short", "1234567", "😀😀😀"} {
		rec := env.do(t, http.MethodPost, "/api/auth/register", registerBody("alice", "a@x.com", password))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("password %q: unexpected status %d", password, rec.Code)
		}
		if code := decode(t, rec)["code"]; code != "INVALID_PASSWORD" {
			t.Fatalf("password %q: unexpected code %v", password, code)
		}
	}
}

func TestRegisterMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decode(t, rec)["code"]; code != "INVALID_USERNAME" {
		t.Fatalf("unexpected code: %v", code)
	}
}

func TestRegisterNonStringFieldReportsField(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]any{"username": 42, "email": "a@x.com", "password": "longenough"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decode(t, rec)["code"]; code != "INVALID_USERNAME" {
		t.Fatalf("unexpected code: %v", code)
	}
}

func TestRegisterAndLoginWithLongPassword(t *testing.T) {
	env := newTestEnv(t)
	password := strings.Repeat("p", 80)

	rec := env.do(t, http.MethodPost, "/api/auth/register", registerBody("longpw", "long@x.com", password))
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	env.cookies = make(map[string]*http.Cookie)

	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"usernameOrEmail": "longpw", "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRegisterCountsSurrogatePairs(t *testing.T) {
	env := newTestEnv(t)

	// 4 文字だが UTF-16 では 8 コード単位
	rec := env.do(t, http.MethodPost, "/api/auth/register", registerBody("emoji", "emoji@x.com", "😀😀😀😀"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRegisterFormEncoded(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{"username": {"formuser"}, "email": {"f@x.com"}, "password": {"longenough"}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/api/auth/register", registerBody("bob", "bob@x.com", "longenough")); rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/auth/register", registerBody("bob", "other@x.com", "longenough"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	byEmail := decode(t, rec)

	if _, err := env.users.FindByEmail(context.Background(), "other@x.com"); err == nil {
		t.Fatal("second row must not be created")
	}

	// どちらが衝突したかは区別しない
	rec = env.do(t, http.MethodPost, "/api/auth/register", registerBody("bobby", "bob@x.com", "longenough"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if decode(t, rec)["message"] != byEmail["message"] {
		t.Fatal("conflict message must not reveal which field collided")
	}
	if _, err := env.users.FindByUsername(context.Background(), "bobby"); err == nil {
		t.Fatal("second row must not be created")
	}
}

func TestLoginByUsernameAndEmailAreEquivalent(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/auth/register", registerBody("carol", "carol@x.com", "longenough"))

	var sessionsSeen []map[string]any
	for _, identifier := range []string{"carol", "carol@x.com"} {
		env.cookies = make(map[string]*http.Cookie)
		rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"usernameOrEmail": identifier, "password": "longenough"})
		if rec.Code != http.StatusOK {
			t.Fatalf("login with %q: unexpected status %d", identifier, rec.Code)
		}
		sessionsSeen = append(sessionsSeen, decode(t, env.do(t, http.MethodGet, "/api/auth/me", nil))["user"].(map[string]any))
	}

	if sessionsSeen[0]["id"] != sessionsSeen[1]["id"] || sessionsSeen[0]["username"] != sessionsSeen[1]["username"] {
		t.Fatalf("sessions differ: %#v", sessionsSeen)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/auth/register", registerBody("dave", "dave@x.com", "longenough"))
	env.cookies = make(map[string]*http.Cookie)

	wrongPassword := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"usernameOrEmail": "dave", "password": "wrong-password"})
	unknownUser := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"usernameOrEmail": "nobody", "password": "longenough"})

	if wrongPassword.Code != http.StatusUnauthorized || unknownUser.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected statuses: %d / %d", wrongPassword.Code, unknownUser.Code)
	}
	if wrongPassword.Body.String() != unknownUser.Body.String() {
		t.Fatalf("responses differ: %s vs %s", wrongPassword.Body.String(), unknownUser.Body.String())
	}
	if _, ok := env.cookies[SessionCookieName]; ok {
		t.Fatal("failed login must not create a session")
	}
}

func TestLoginMissingFields(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []map[string]string{
		{},
		{"usernameOrEmail": "dave"},
		{"password": "longenough"},
	} {
		rec := env.do(t, http.MethodPost, "/api/auth/login", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %v: unexpected status %d", body, rec.Code)
		}
	}
}

func TestLoginIdentifierIsNotTrimmed(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/auth/register", registerBody("gina", "gina@x.com", "longenough"))
	env.cookies = make(map[string]*http.Cookie)

	for _, identifier := range []string{"   ", " gina"} {
		rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"usernameOrEmail": identifier, "password": "longenough"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("identifier %q: unexpected status %d", identifier, rec.Code)
		}
	}
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/auth/register", registerBody("erin", "erin@x.com", "longenough"))
	staleCookie := env.cookies[SessionCookieName]

	if rec := env.do(t, http.MethodGet, "/api/profile", nil); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status before logout: %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/auth/logout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if _, ok := env.cookies[SessionCookieName]; ok {
		t.Fatal("session cookie should be cleared")
	}

	if user := decode(t, env.do(t, http.MethodGet, "/api/auth/me", nil))["user"]; user != nil {
		t.Fatalf("expected null user after logout, got %#v", user)
	}
	if rec := env.do(t, http.MethodGet, "/api/profile", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status after logout: %d", rec.Code)
	}

	// 破棄済みセッションのクッキーを再送しても通らない
	env.cookies[SessionCookieName] = staleCookie
	if rec := env.do(t, http.MethodGet, "/api/profile", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale cookie accepted: %d", rec.Code)
	}
}

func TestLogoutWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/logout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if decode(t, rec)["message"] == nil {
		t.Fatal("expected confirmation message")
	}
}

func TestMeWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/auth/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Body.String() != `{"user":null}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestProfileReturnsStoredUser(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/auth/register", registerBody("frank", "frank@x.com", "longenough"))

	rec := env.do(t, http.MethodGet, "/api/profile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	user := decode(t, rec)["user"].(map[string]any)
	if user["email"] != "frank@x.com" || user["createdAt"] == nil {
		t.Fatalf("unexpected profile: %#v", user)
	}
}
