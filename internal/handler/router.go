package handler

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/blogman/internal/metrics"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/security"
	"github.com/hitoshi/blogman/internal/syndication"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ストレージ。nilの場合はリクエストスコープの接続を作らない（テスト用）
	DB *sql.DB

	// セッション・ミドルウェア依存
	Sessions    *scs.SessionManager
	RateLimiter *middleware.RateLimiter
	CSRF        middleware.CSRFConfig
	HSTS        bool

	// サービス
	AuthService AuthServiceInterface
	PostService PostServiceInterface
	Sanitizer   *security.PostSanitizer

	// 観測
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer
	Logger          *slog.Logger

	// RSSフィード
	Channel syndication.Channel
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Metrics → Recovery → SecurityHeaders
//	  → RateLimit(General) → Storage → Session(LoadAndSave) → CSRF → CurrentUser
//
// /healthと/metricsはセッションを使わないため、グループの外に配置する。
// 記事の変更ルートはRequireAuthenticatedで未ログインを/loginへリダイレクトする。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewPostSanitizer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rateLimiter := deps.RateLimiter
	if rateLimiter == nil {
		rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	}

	renderer, err := NewRenderer(sanitizer, deps.Sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to build renderer: %w", err)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, renderer, collector)
	blogHandler := NewBlogHandler(deps.PostService, deps.Sessions, renderer, collector)
	feedHandler := NewFeedHandler(deps.PostService, deps.Channel, sanitizer, renderer)

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware(renderer.ServerError()))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))

	// --- セッション不要のルート ---
	var pinger Pinger
	if deps.DB != nil {
		pinger = deps.DB
	}
	r.Get("/health", NewHealthHandler(pinger))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- ブログ本体 ---
	// ミドルウェアスタック: RateLimit(General) → Storage → Session → CSRF → CurrentUser
	r.Group(func(r chi.Router) {
		r.Use(rateLimiter.GeneralMiddleware())
		// セッションの読み込み・保存もリクエストスコープの接続で行うため、Sessionより外側に置く
		if deps.DB != nil {
			r.Use(middleware.NewStorageMiddleware(deps.DB))
		}
		r.Use(deps.Sessions.LoadAndSave)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(middleware.NewCurrentUserMiddleware(deps.Sessions, deps.AuthService))

		r.Get("/", blogHandler.Index)
		r.Get("/feed.xml", feedHandler.RSS)

		// 認証（POSTには認証専用のレート制限を追加）
		r.Get("/register", authHandler.RegisterForm)
		r.With(rateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
		r.Get("/login", authHandler.LoginForm)
		r.With(rateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)

		// 記事の作成・変更（ログイン必須）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireAuthenticatedMiddleware("/login"))

			r.Get("/create", blogHandler.CreateForm)
			r.Post("/create", blogHandler.Create)

			r.Route("/{id:[0-9]+}", func(r chi.Router) {
				r.Get("/update", blogHandler.UpdateForm)
				r.Post("/update", blogHandler.Update)
				r.Post("/delete", blogHandler.Delete)
			})
		})
	})

	return r, nil
}
