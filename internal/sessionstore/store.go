// Package sessionstore はセッションの値をサーバー側に保持する gin-contrib/sessions 用ストアを提供します。
// クッキーには署名済みのセッションIDだけが入ります。
package sessionstore

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
)

// ErrNotFound はバックエンドにセッションが無い（期限切れを含む）場合に返されます。
var ErrNotFound = errors.New("session not found")

// Backend はシリアライズ済みセッションを保存する先です。
type Backend interface {
	Load(ctx context.Context, id string) ([]byte, error)
	Save(ctx context.Context, id string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Sweeper は期限切れセッションを明示的に掃除する必要があるバックエンドが実装します。
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Store は Backend にセッション値を保存する sessions.Store 実装です。
type Store struct {
	Codecs  []securecookie.Codec
	backend Backend
	options *gsessions.Options
	encoder securecookie.GobEncoder
}

var _ sessions.Store = (*Store)(nil)

// New は Store を作成します。keyPairs は securecookie の hash/block キーの組です。
func New(backend Backend, keyPairs ...[]byte) *Store {
	s := &Store{
		Codecs:  securecookie.CodecsFromPairs(keyPairs...),
		backend: backend,
		options: &gsessions.Options{
			Path:   "/",
			MaxAge: 86400 * 30,
		},
	}
	s.setMaxAge(s.options.MaxAge)
	return s
}

// Backend は保存先を返します。
func (s *Store) Backend() Backend {
	return s.backend
}

// Options はクッキー属性を設定します。
func (s *Store) Options(options sessions.Options) {
	s.options = options.ToGorillaOptions()
	s.setMaxAge(s.options.MaxAge)
}

// Get はリクエスト内で同じセッションを使い回すためレジストリ経由で取得します。
func (s *Store) Get(r *http.Request, name string) (*gsessions.Session, error) {
	return gsessions.GetRegistry(r).Get(s, name)
}

// New はクッキーに対応するセッションを読み込み、無ければ新規セッションを返します。
func (s *Store) New(r *http.Request, name string) (*gsessions.Session, error) {
	session := gsessions.NewSession(s, name)
	opts := *s.options
	session.Options = &opts
	session.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}

	var id string
	if err := securecookie.DecodeMulti(name, cookie.Value, &id, s.Codecs...); err != nil {
		// 改ざん・期限切れのクッキーは新規セッション扱い
		return session, nil
	}

	data, err := s.backend.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return session, nil
		}
		return session, fmt.Errorf("load session: %w", err)
	}
	if err := s.encoder.Deserialize(data, &session.Values); err != nil {
		return session, fmt.Errorf("decode session: %w", err)
	}

	session.ID = id
	session.IsNew = false
	return session, nil
}

// Save はセッションを保存し、署名済みIDをクッキーに書き込みます。
// MaxAge <= 0 の場合はバックエンドから削除してクッキーを失効させます。
func (s *Store) Save(r *http.Request, w http.ResponseWriter, session *gsessions.Session) error {
	if session.Options == nil {
		opts := *s.options
		session.Options = &opts
	}

	if session.Options.MaxAge <= 0 {
		if session.ID != "" {
			if err := s.backend.Delete(r.Context(), session.ID); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
		}
		http.SetCookie(w, gsessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = newSessionID()
	}

	data, err := s.encoder.Serialize(session.Values)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ttl := time.Duration(session.Options.MaxAge) * time.Second
	if err := s.backend.Save(r.Context(), session.ID, data, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	http.SetCookie(w, gsessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// クッキー署名の有効期限もセッションの MaxAge に合わせる
func (s *Store) setMaxAge(age int) {
	for _, codec := range s.Codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}

func newSessionID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
}
