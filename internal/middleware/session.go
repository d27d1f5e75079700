// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alexedwards/scs/v2"

	"github.com/hitoshi/blogman/internal/auth"
	"github.com/hitoshi/blogman/internal/model"
)

// セッションに保存するキー
const (
	SessionKeyUserID = "user_id"
	SessionKeyFlash  = "flash"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// currentUserContextKey はリクエストコンテキストに現在のユーザーを格納するためのキー。
var currentUserContextKey = contextKey("current_user")

// CurrentUserResolver はセッションのユーザーIDからユーザーを解決するインターフェース。
// auth.Serviceの部分集合として定義する。
type CurrentUserResolver interface {
	ResolveCurrent(ctx context.Context, userID int64, ok bool) (*model.User, error)
}

// NewCurrentUserMiddleware はセッションに保存されたユーザーIDから現在のユーザーを解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// sessions.LoadAndSaveの内側に配置する。
// ユーザーが存在しない場合は匿名として扱い、セッションからIDを削除する。
func NewCurrentUserMiddleware(sessions *scs.SessionManager, resolver CurrentUserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ok := sessions.Exists(ctx, SessionKeyUserID)
			userID := sessions.GetInt64(ctx, SessionKeyUserID)

			user, err := resolver.ResolveCurrent(ctx, userID, ok)
			if err != nil {
				slog.Error("failed to resolve current user",
					slog.String("error", err.Error()),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			if ok && user == nil {
				sessions.Remove(ctx, SessionKeyUserID)
			}
			if user != nil {
				annotateUser(ctx, user.ID)
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(ctx, user)))
		})
	}
}

// NewRequireAuthenticatedMiddleware は未ログインのリクエストを/loginへリダイレクトするミドルウェアを返す。
// 記事の取得より前に評価される。
func NewRequireAuthenticatedMiddleware(loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := auth.RequireAuthenticated(UserFromContext(r.Context())); err != nil {
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストから現在のユーザーを取得する。
// 匿名の場合はnilを返す。
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(currentUserContextKey).(*model.User)
	return user
}

// ContextWithUser はコンテキストに現在のユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, currentUserContextKey, user)
}
