package auth

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// RequireLogin はセッションの有無だけを見るガードです。
// 未ログインの場合、/api/ 配下は 401 JSON、それ以外はログインページへリダイレクトします。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, username, ok := sessionUser(sessions.Default(c))
		if !ok {
			if isAPIRequest(c.Request) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":    "UNAUTHORIZED",
					"message": "ログインが必要です。",
				})
				return
			}
			c.Redirect(http.StatusFound, LoginPagePath)
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, id)
		c.Set(ContextUsernameKey, username)
		c.Next()
	}
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}
