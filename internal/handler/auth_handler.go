// Package handler はブログのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alexedwards/scs/v2"

	"github.com/hitoshi/blogman/internal/metrics"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, username, password string) (int64, error)
	Authenticate(ctx context.Context, username, password string) (int64, error)
	ResolveCurrent(ctx context.Context, userID int64, ok bool) (*model.User, error)
}

// AuthHandler はユーザー登録・ログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions *scs.SessionManager
	renderer *Renderer
	metrics  metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions *scs.SessionManager, renderer *Renderer, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		renderer: renderer,
		metrics:  collector,
	}
}

// RegisterForm はユーザー登録フォームを表示する。
// GET /register
func (h *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.render(w, r, http.StatusOK, pageRegister, &pageData{})
}

// Register はユーザーを登録し、ログイン画面へリダイレクトする。
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if _, err := h.service.Register(r.Context(), username, password); err != nil {
		if msg, ok := formError(err); ok {
			h.renderer.render(w, r, http.StatusOK, pageRegister, &pageData{
				Error: msg,
				Form:  formValues{Username: username},
			})
			return
		}
		h.renderer.handleServiceError(w, r, err)
		return
	}

	h.metrics.RecordRegistration()
	h.sessions.Put(r.Context(), middleware.SessionKeyFlash, "登録が完了しました。ログインしてください。")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// LoginForm はログインフォームを表示する。
// GET /login
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.render(w, r, http.StatusOK, pageLogin, &pageData{})
}

// Login は資格情報を検証し、セッションにユーザーIDを保存する。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	userID, err := h.service.Authenticate(ctx, username, password)
	if err != nil {
		if msg, ok := formError(err); ok {
			h.metrics.RecordLoginFailure()
			h.renderer.render(w, r, http.StatusOK, pageLogin, &pageData{
				Error: msg,
				Form:  formValues{Username: username},
			})
			return
		}
		h.renderer.handleServiceError(w, r, err)
		return
	}

	// ログイン前のセッション内容を破棄し、トークンを再発行する（セッション固定攻撃対策）
	if err := h.sessions.Clear(ctx); err != nil {
		h.renderer.handleServiceError(w, r, err)
		return
	}
	if err := h.sessions.RenewToken(ctx); err != nil {
		h.renderer.handleServiceError(w, r, err)
		return
	}
	h.sessions.Put(ctx, middleware.SessionKeyUserID, userID)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout はセッションを破棄してトップへリダイレクトする。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context()); err != nil {
		slog.Error("failed to destroy session", slog.String("error", err.Error()))
		h.renderer.handleServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
