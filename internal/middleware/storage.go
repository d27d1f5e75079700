package middleware

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogman/internal/database"
)

// NewStorageMiddleware はリクエストごとにdatabase.Scopeを生成してコンテキストに格納し、
// レスポンス後（panic時を含む）に必ず解放するミドルウェアを返す。
// 接続はリポジトリが最初に使用した時点で取得される。
func NewStorageMiddleware(db *sql.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := database.NewScope(db)
			defer func() {
				if err := scope.Release(); err != nil {
					slog.Error("failed to release database scope",
						slog.String("error", err.Error()),
						slog.String("path", r.URL.Path),
					)
				}
			}()

			next.ServeHTTP(w, r.WithContext(database.WithScope(r.Context(), scope)))
		})
	}
}
