package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// リポジトリが返す既知のエラー。errors.Is で判定してください。
var (
	// ErrUserNotFound は該当ユーザーが存在しない場合に返されます。
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists は username か email の UNIQUE 制約に違反した場合に返されます。
	ErrUserAlreadyExists = errors.New("username or email already exists")

	// ErrBuildingSQLQuery は squirrel でのクエリ組み立てに失敗した場合に返されます。
	ErrBuildingSQLQuery = errors.New("error building sql query")
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
