package handler

import (
	"context"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/blogman/internal/auth"
	"github.com/hitoshi/blogman/internal/database/dbtest"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/post"
	"github.com/hitoshi/blogman/internal/repository"
	"github.com/hitoshi/blogman/internal/syndication"
)

// --- インメモリストア ---

// memoryStore はユーザーと記事をメモリ上に保持するテスト用ストア。
// 記事の読み出しでは著者のユーザー名を結合する。
type memoryStore struct {
	mu         sync.Mutex
	users      map[int64]*model.User
	posts      map[int64]*model.Post
	nextUserID int64
	nextPostID int64
	now        time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users: make(map[int64]*model.User),
		posts: make(map[int64]*model.Post),
		now:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memoryStore) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func (s *memoryStore) post(id int64) *model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

type memoryUserRepo struct{ s *memoryStore }

func (r memoryUserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r memoryUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == user.Username {
			return model.NewDuplicateUsernameError(user.Username)
		}
	}
	r.s.nextUserID++
	user.ID = r.s.nextUserID
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

type memoryPostRepo struct{ s *memoryStore }

func (r memoryPostRepo) withAuthor(p *model.Post) *model.Post {
	cp := *p
	if u, ok := r.s.users[p.AuthorID]; ok {
		cp.AuthorUsername = u.Username
	}
	return &cp
}

func (r memoryPostRepo) ListAll(_ context.Context) ([]*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Post
	for _, p := range r.s.posts {
		out = append(out, r.withAuthor(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r memoryPostRepo) FindByID(_ context.Context, id int64) (*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[id]
	if !ok {
		return nil, nil
	}
	return r.withAuthor(p), nil
}

func (r memoryPostRepo) Create(_ context.Context, p *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextPostID++
	r.s.now = r.s.now.Add(time.Minute)
	p.ID = r.s.nextPostID
	p.Created = r.s.now
	cp := *p
	r.s.posts[p.ID] = &cp
	return nil
}

func (r memoryPostRepo) Update(_ context.Context, p *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.posts[p.ID]
	if !ok {
		return model.NewPostNotFoundError(p.ID)
	}
	existing.Title = p.Title
	existing.Body = p.Body
	return nil
}

func (r memoryPostRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.posts, id)
	return nil
}

// --- メトリクス記録 ---

// recordingCollector はハンドラーから記録されたメトリクスを数えるテスト用コレクター。
type recordingCollector struct {
	mu            sync.Mutex
	mutations     map[string]int
	registrations int
	loginFailures int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{mutations: make(map[string]int)}
}

func (c *recordingCollector) RecordHTTPStatus(int)              {}
func (c *recordingCollector) RecordRequestLatency(time.Duration) {}
func (c *recordingCollector) RecordSessionsCleaned(int64)        {}

func (c *recordingCollector) RecordPostMutation(action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutations[action]++
}

func (c *recordingCollector) RecordRegistration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations++
}

func (c *recordingCollector) RecordLoginFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loginFailures++
}

// --- テストサーバー ---

// blogServer はルーター全体を実サービスとインメモリストアで起動したテストサーバー。
type blogServer struct {
	*httptest.Server
	store   *memoryStore
	metrics *recordingCollector
}

func newBlogServer(t *testing.T) *blogServer {
	t.Helper()

	store := newMemoryStore()
	authService := authServiceFor(store)
	postService := postServiceFor(store)
	collector := newRecordingCollector()

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(10000, 10000))
	t.Cleanup(rateLimiter.Stop)

	router, err := NewRouter(&RouterDeps{
		Sessions:    scs.New(),
		RateLimiter: rateLimiter,
		AuthService: authService,
		PostService: postService,
		Metrics:     collector,
		Logger:      discardLogger(),
		Channel: syndication.Channel{
			Title:       "blogman",
			Description: "test feed",
			BaseURL:     "http://blog.example.com",
		},
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &blogServer{Server: srv, store: store, metrics: collector}
}

// newStorageBlogServer はPostgreSQL用のリポジトリとセッションストアを
// インメモリドライバの上で動かすテストサーバーを起動する。
// maxOpenは接続プールの最大接続数。
func newStorageBlogServer(t *testing.T, maxOpen int) (*httptest.Server, *dbtest.Store) {
	t.Helper()

	store := dbtest.New()
	db := store.Open(t, maxOpen)

	sessions := scs.New()
	sessions.Store = repository.NewPostgresSessionStore(db)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(10000, 10000))
	t.Cleanup(rateLimiter.Stop)

	router, err := NewRouter(&RouterDeps{
		DB:          db,
		Sessions:    sessions,
		RateLimiter: rateLimiter,
		AuthService: auth.NewService(repository.NewPostgresUserRepo(db), auth.NewBcryptHasher(bcrypt.MinCost)),
		PostService: post.NewService(repository.NewPostgresPostRepo(db)),
		Logger:      discardLogger(),
		Channel:     syndication.Channel{Title: "blogman", BaseURL: "http://blog.example.com"},
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func authServiceFor(store *memoryStore) *auth.Service {
	return auth.NewService(memoryUserRepo{store}, auth.NewBcryptHasher(bcrypt.MinCost))
}

func postServiceFor(store *memoryStore) *post.Service {
	return post.NewService(memoryPostRepo{store})
}

// panickingPostService は一覧取得でpanicするテスト用サービス。
type panickingPostService struct {
	PostServiceInterface
}

func (*panickingPostService) ListAll(context.Context) ([]*model.Post, error) {
	panic("boom")
}

// browser はCookieを保持し、リダイレクトを追わないテスト用クライアント。
type browser struct {
	t      *testing.T
	base   *url.URL
	client *http.Client
}

func (s *blogServer) newBrowser(t *testing.T) *browser {
	t.Helper()
	return newBrowserFor(t, s.Server)
}

// newBrowserFor はsrvに接続するbrowserを生成する。
// 応答が5秒以内に返らないリクエストは失敗とする。
func newBrowserFor(t *testing.T, srv *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	return &browser{
		t:    t,
		base: base,
		client: &http.Client{
			Jar:     jar,
			Timeout: 5 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// get はGETリクエストを送り、ステータスコードと本文を返す。
func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Get(b.base.String() + path)
	if err != nil {
		b.t.Fatalf("GET %s error = %v", path, err)
	}
	return resp, readBody(b.t, resp)
}

// post はCSRFトークンを付与してフォームを送信する。
// トークンCookieがまだない場合は先にトップページを取得する。
func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	token := b.csrfToken()
	if token == "" {
		b.get("/")
		token = b.csrfToken()
	}
	if form == nil {
		form = url.Values{}
	}
	form.Set(middleware.CSRFFormField, token)
	return b.postRaw(path, form)
}

// postRaw はフォームをそのまま送信する。
func (b *browser) postRaw(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.PostForm(b.base.String()+path, form)
	if err != nil {
		b.t.Fatalf("POST %s error = %v", path, err)
	}
	return resp, readBody(b.t, resp)
}

func (b *browser) csrfToken() string {
	for _, c := range b.client.Jar.Cookies(b.base) {
		if c.Name == "csrf_token" {
			return c.Value
		}
	}
	return ""
}

// register はユーザーを登録する。
func (b *browser) register(username, password string) {
	b.t.Helper()
	resp, body := b.post("/register", url.Values{"username": {username}, "password": {password}})
	if resp.StatusCode != http.StatusSeeOther {
		b.t.Fatalf("POST /register status = %d, body = %s", resp.StatusCode, body)
	}
}

// login はログインする。
func (b *browser) login(username, password string) {
	b.t.Helper()
	resp, body := b.post("/login", url.Values{"username": {username}, "password": {password}})
	if resp.StatusCode != http.StatusSeeOther {
		b.t.Fatalf("POST /login status = %d, body = %s", resp.StatusCode, body)
	}
}

// createPost は記事を作成する。
func (b *browser) createPost(title, body string) {
	b.t.Helper()
	resp, respBody := b.post("/create", url.Values{"title": {title}, "body": {body}})
	if resp.StatusCode != http.StatusSeeOther {
		b.t.Fatalf("POST /create status = %d, body = %s", resp.StatusCode, respBody)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(b)
}

func assertRedirect(t *testing.T, resp *http.Response, status int, location string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	if got := resp.Header.Get("Location"); got != location {
		t.Errorf("Location = %q, want %q", got, location)
	}
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("body does not contain %q:\n%s", want, body)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// plainBody は本文をエスケープしてそのまま返すBodyRenderer。
type plainBody struct{}

func (plainBody) RenderBody(body string) template.HTML {
	return template.HTML(template.HTMLEscapeString(body))
}

func (c *recordingCollector) mutationCount(action string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutations[action]
}

func (c *recordingCollector) registrationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registrations
}

func (c *recordingCollector) loginFailureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginFailures
}
