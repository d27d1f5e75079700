package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

// 画面テンプレート名
const (
	pageIndex    = "index.html"
	pageRegister = "register.html"
	pageLogin    = "login.html"
	pageCreate   = "create.html"
	pageUpdate   = "update.html"
	pageError    = "error.html"
)

// BodyRenderer は記事本文をテンプレートに埋め込めるHTMLに変換する。
type BodyRenderer interface {
	RenderBody(body string) template.HTML
}

// formValues はフォームの再表示に使う入力値。パスワードは保持しない。
type formValues struct {
	Username string
	Title    string
	Body     string
}

// pageData はテンプレートに渡す値。
type pageData struct {
	CurrentUser *model.User
	CSRFToken   string
	Flash       string
	Error       string

	Posts []*model.Post
	Post  *model.Post
	Form  formValues

	// エラー画面
	Status  int
	Message string
	Action  string
}

// Renderer はHTMLテンプレートの描画を行う。
type Renderer struct {
	pages    map[string]*template.Template
	sessions *scs.SessionManager
}

// NewRenderer は埋め込みテンプレートを解析してRendererを生成する。
func NewRenderer(body BodyRenderer, sessions *scs.SessionManager) (*Renderer, error) {
	funcs := template.FuncMap{
		"renderBody": body.RenderBody,
		"formatDate": func(t time.Time) string { return t.Format("2006-01-02") },
		"statusText": http.StatusText,
	}

	pages := make(map[string]*template.Template)
	for _, page := range []string{pageIndex, pageRegister, pageLogin, pageCreate, pageUpdate, pageError} {
		tmpl, err := template.New(page).Funcs(funcs).ParseFS(templatesFS, "templates/base.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		pages[page] = tmpl
	}

	return &Renderer{pages: pages, sessions: sessions}, nil
}

// render はページを描画する。現在のユーザー、CSRFトークン、フラッシュメッセージはここで補完する。
func (rd *Renderer) render(w http.ResponseWriter, r *http.Request, status int, page string, data *pageData) {
	rd.write(w, r, status, page, data, true)
}

// renderError はエラー画面を描画する。
func (rd *Renderer) renderError(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError) {
	data := &pageData{Status: status}
	if apiErr != nil {
		data.Message = apiErr.Message
		data.Action = apiErr.Action
	}
	rd.write(w, r, status, pageError, data, true)
}

// ServerError はセッション読み込み前でも描画できる500画面のハンドラーを返す。
// panicからの復帰時に使用する。
func (rd *Renderer) ServerError() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rd.write(w, r, http.StatusInternalServerError, pageError, &pageData{
			Status:  http.StatusInternalServerError,
			Message: "内部エラーが発生しました。",
			Action:  "しばらく待ってから再度お試しください。",
		}, false)
	})
}

func (rd *Renderer) write(w http.ResponseWriter, r *http.Request, status int, page string, data *pageData, withSession bool) {
	ctx := r.Context()
	data.CurrentUser = middleware.UserFromContext(ctx)
	data.CSRFToken = middleware.CSRFTokenFromContext(ctx)
	if withSession && rd.sessions != nil {
		data.Flash = rd.sessions.PopString(ctx, middleware.SessionKeyFlash)
	}

	var buf bytes.Buffer
	if err := rd.pages[page].ExecuteTemplate(&buf, "base", data); err != nil {
		slog.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
