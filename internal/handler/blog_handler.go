package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/metrics"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
)

// PostServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	ListAll(ctx context.Context) ([]*model.Post, error)
	GetPost(ctx context.Context, id int64, current *model.User, checkAuthor bool) (*model.Post, error)
	Create(ctx context.Context, title, body string, authorID int64) (int64, error)
	Update(ctx context.Context, id int64, title, body string) error
	Delete(ctx context.Context, id int64) error
}

// BlogHandler は記事一覧と記事の作成・更新・削除のHTTPハンドラー。
type BlogHandler struct {
	service  PostServiceInterface
	sessions *scs.SessionManager
	renderer *Renderer
	metrics  metrics.MetricsCollector
}

// NewBlogHandler はBlogHandlerを生成する。
func NewBlogHandler(service PostServiceInterface, sessions *scs.SessionManager, renderer *Renderer, collector metrics.MetricsCollector) *BlogHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &BlogHandler{
		service:  service,
		sessions: sessions,
		renderer: renderer,
		metrics:  collector,
	}
}

// Index は全記事を新しい順に表示する。
// GET /
func (h *BlogHandler) Index(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.ListAll(r.Context())
	if err != nil {
		h.renderer.handleServiceError(w, r, err)
		return
	}
	h.renderer.render(w, r, http.StatusOK, pageIndex, &pageData{Posts: posts})
}

// CreateForm は新規投稿フォームを表示する。
// GET /create
func (h *BlogHandler) CreateForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.render(w, r, http.StatusOK, pageCreate, &pageData{})
}

// Create は記事を作成して一覧へリダイレクトする。
// POST /create
func (h *BlogHandler) Create(w http.ResponseWriter, r *http.Request) {
	current := middleware.UserFromContext(r.Context())
	if current == nil {
		h.renderer.handleServiceError(w, r, model.NewAuthenticationRequiredError())
		return
	}

	title := r.PostFormValue("title")
	body := r.PostFormValue("body")

	if _, err := h.service.Create(r.Context(), title, body, current.ID); err != nil {
		if msg, ok := formError(err); ok {
			h.renderer.render(w, r, http.StatusOK, pageCreate, &pageData{
				Error: msg,
				Form:  formValues{Title: title, Body: body},
			})
			return
		}
		h.renderer.handleServiceError(w, r, err)
		return
	}

	h.metrics.RecordPostMutation(metrics.ActionCreate)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// UpdateForm は記事の編集フォームを表示する。著者本人のみ表示できる。
// GET /{id}/update
func (h *BlogHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	post, ok := h.ownedPost(w, r)
	if !ok {
		return
	}
	h.renderer.render(w, r, http.StatusOK, pageUpdate, &pageData{
		Post: post,
		Form: formValues{Title: post.Title, Body: post.Body},
	})
}

// Update は記事を更新して一覧へリダイレクトする。
// POST /{id}/update
func (h *BlogHandler) Update(w http.ResponseWriter, r *http.Request) {
	post, ok := h.ownedPost(w, r)
	if !ok {
		return
	}

	title := r.PostFormValue("title")
	body := r.PostFormValue("body")

	if err := h.service.Update(r.Context(), post.ID, title, body); err != nil {
		if msg, ok := formError(err); ok {
			h.renderer.render(w, r, http.StatusOK, pageUpdate, &pageData{
				Error: msg,
				Post:  post,
				Form:  formValues{Title: title, Body: body},
			})
			return
		}
		h.renderer.handleServiceError(w, r, err)
		return
	}

	h.metrics.RecordPostMutation(metrics.ActionUpdate)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Delete は記事を削除して一覧へリダイレクトする。
// POST /{id}/delete
func (h *BlogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	post, ok := h.ownedPost(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), post.ID); err != nil {
		h.renderer.handleServiceError(w, r, err)
		return
	}

	h.metrics.RecordPostMutation(metrics.ActionDelete)
	h.sessions.Put(r.Context(), middleware.SessionKeyFlash, "記事を削除しました。")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ownedPost はURLのIDから記事を取得し、現在のユーザーが著者であることを確認する。
// 存在確認を著者確認より先に行う。失敗時はレスポンスを書き込みfalseを返す。
func (h *BlogHandler) ownedPost(w http.ResponseWriter, r *http.Request) (*model.Post, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		// ルートパターンで数字に限定しているため、ここに来るのは桁あふれのみ
		h.renderer.handleServiceError(w, r, model.NewPostNotFoundError(0))
		return nil, false
	}

	post, err := h.service.GetPost(r.Context(), id, middleware.UserFromContext(r.Context()), true)
	if err != nil {
		h.renderer.handleServiceError(w, r, err)
		return nil, false
	}
	return post, true
}
