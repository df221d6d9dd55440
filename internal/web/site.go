// Package web は静的ページの配信を提供します。
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

//go:embed public
var embedded embed.FS

// Site は public/ 相当のファイル群です。
type Site struct {
	fsys       fs.FS
	fileServer http.Handler
}

// New は dir が空なら埋め込みのページを、そうでなければ dir を配信する Site を返します。
func New(dir string) (*Site, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(embedded, "public")
		if err != nil {
			return nil, err
		}
		fsys = sub
	} else {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("static dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("static dir %s is not a directory", dir)
		}
		fsys = os.DirFS(dir)
	}

	return &Site{
		fsys:       fsys,
		fileServer: http.FileServer(http.FS(fsys)),
	}, nil
}

// Page は指定ファイルを返すハンドラーです（ガード付きページ用）。
func (s *Site) Page(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := fs.Stat(s.fsys, name); err != nil {
			notFound(c)
			return
		}
		c.FileFromFS(name, http.FS(s.fsys))
	}
}

// Fallback はどのルートにも一致しなかったリクエストを静的ファイルとして配信します。
// /api/ 配下や存在しないファイルは JSON の 404 を返します。
func (s *Site) Fallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if (method != http.MethodGet && method != http.MethodHead) || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			notFound(c)
			return
		}

		name := strings.TrimPrefix(path.Clean(c.Request.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		info, err := fs.Stat(s.fsys, name)
		if err != nil || info.IsDir() {
			notFound(c)
			return
		}

		s.fileServer.ServeHTTP(c.Writer, c.Request)
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    "NOT_FOUND",
		"message": "指定されたリソースは存在しません。",
	})
}
