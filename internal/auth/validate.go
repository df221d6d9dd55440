package auth

import (
	"net/http"
	"regexp"
	"unicode/utf16"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)
	// 空白には \v と Unicode の空白文字（NBSP, BOM など）も含める
	emailPattern = regexp.MustCompile(`^[^\s\v\p{Z}\x{FEFF}@]+@[^\s\v\p{Z}\x{FEFF}@]+\.[^\s\v\p{Z}\x{FEFF}@]+$`)
)

const minPasswordLength = 8

func isValidUsername(s string) bool {
	return usernamePattern.MatchString(s)
}

func isValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// 長さは UTF-16 のコード単位で数える（サロゲートペアは2）
func isValidPassword(s string) bool {
	return len(utf16.Encode([]rune(s))) >= minPasswordLength
}

// validateRegistration は最初に見つかった不正なフィールドのエラーを返します。
func validateRegistration(req registerRequest) (response, bool) {
	if !isValidUsername(req.Username) {
		return errorResponse(http.StatusBadRequest, "INVALID_USERNAME", "ユーザー名は3〜32文字の英数字またはアンダースコアで入力してください。"), false
	}
	if !isValidEmail(req.Email) {
		return errorResponse(http.StatusBadRequest, "INVALID_EMAIL", "メールアドレスの形式が正しくありません。"), false
	}
	if !isValidPassword(req.Password) {
		return errorResponse(http.StatusBadRequest, "INVALID_PASSWORD", "パスワードは8文字以上で入力してください。"), false
	}
	return response{}, true
}
