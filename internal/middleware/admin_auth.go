// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/hitoshi/kitbridge/internal/model"
)

// ActorAdmin は管理APIトークンで認証されたリクエストの実行者名。
const ActorAdmin = "admin"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// actorContextKey はリクエストコンテキストに実行者を格納するためのキー。
var actorContextKey = contextKey("actor")

// NewAdminAuthMiddleware は Authorization: Bearer <token> ヘッダーを検証するミドルウェアを返す。
// トークンは定数時間で比較する。
// 認証済みの実行者をリクエストコンテキストに注入し、未認証リクエストには401を返す。
func NewAdminAuthMiddleware(token string) func(next http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="kitbridge"`)
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "管理APIトークンが無効です。",
					Category: "auth",
					Action:   "Authorization ヘッダーに正しいトークンを指定してください。",
				})
				return
			}

			setRequestActor(r.Context(), ActorAdmin)
			ctx := context.WithValue(r.Context(), actorContextKey, ActorAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext はリクエストコンテキストから実行者を取得する。
// 管理API認証を通過していない場合は空文字列を返す。
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey).(string)
	return actor
}

// ContextWithActor はコンテキストに実行者を注入する。テスト用。
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
