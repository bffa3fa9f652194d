// handlers/web/auth_handler.go
package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// 認証エラーのメッセージ
const (
	msgMalformedBearer = "Unauthorized: Missing or malformed Bearer token"
	msgInvalidAPIKey   = "Unauthorized: Invalid API Key"
)

// AuthHandler は Authorization ヘッダのBearerトークンを事前共有の秘密と照合します。
type AuthHandler struct {
	secret string
}

func NewAuthHandler(secret string) *AuthHandler {
	return &AuthHandler{secret: secret}
}

// Check はトークンが一致すれば空文字列を、そうでなければ401で返すエラーメッセージを返します。
func (h *AuthHandler) Check(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return msgMalformedBearer
	}
	token := header[len(bearerPrefix):]
	// 完全一致の比較。長さが違えば即座に不一致になる
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		return msgInvalidAPIKey
	}
	return ""
}
