package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"
)

// 接続プールが1本でも、セッションの保存を含む全リクエストが詰まらずに完了することを検証する。
func TestE2E_WithDatabase_OneConnectionPerRequest(t *testing.T) {
	srv, store := newStorageBlogServer(t, 1)

	bob := newBrowserFor(t, srv)
	resp, _ := bob.post("/register", url.Values{"username": {"bob"}, "password": {"pw1"}})
	assertRedirect(t, resp, http.StatusSeeOther, "/login")

	// 登録時のフラッシュはセッションストアを経由して表示される
	_, body := bob.get("/login")
	assertContains(t, body, "登録が完了しました。ログインしてください。")

	bob.login("bob", "pw1")
	bob.createPost("T", "B")

	resp, body = bob.get("/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	assertContains(t, body, "<h3>T</h3>")
	assertContains(t, body, "by bob on")

	alice := newBrowserFor(t, srv)
	alice.register("alice", "pw2")
	alice.login("alice", "pw2")
	resp, _ = alice.post("/1/update", url.Values{"title": {"hacked"}, "body": {""}})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-owner update status = %d, want 403", resp.StatusCode)
	}
	resp, _ = alice.post("/999/delete", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing post delete status = %d, want 404", resp.StatusCode)
	}

	resp, _ = bob.post("/1/update", url.Values{"title": {"T2"}, "body": {"B2"}})
	assertRedirect(t, resp, http.StatusSeeOther, "/")
	resp, _ = bob.post("/1/delete", nil)
	assertRedirect(t, resp, http.StatusSeeOther, "/")

	resp, _ = bob.post("/logout", nil)
	assertRedirect(t, resp, http.StatusSeeOther, "/")
	resp, _ = bob.get("/create")
	assertRedirect(t, resp, http.StatusFound, "/login")

	if got := store.PostCount(); got != 0 {
		t.Errorf("posts = %d, want 0", got)
	}
	if got := store.Connects(); got != 1 {
		t.Errorf("connects = %d, want 1", got)
	}
}

// 同時に複数のユーザーがログイン・投稿しても、同時接続数が1リクエスト1本を超えないことを検証する。
func TestE2E_WithDatabase_ConcurrentUsers(t *testing.T) {
	const users = 4
	srv, store := newStorageBlogServer(t, 0)

	t.Run("group", func(t *testing.T) {
		for i := 0; i < users; i++ {
			name := fmt.Sprintf("user%d", i)
			t.Run(name, func(t *testing.T) {
				t.Parallel()
				b := newBrowserFor(t, srv)
				b.register(name, "pw")
				b.login(name, "pw")
				b.createPost("post by "+name, "body")
			})
		}
	})

	if got := store.PostCount(); got != users {
		t.Errorf("posts = %d, want %d", got, users)
	}
	if peak := store.PeakOpen(); peak > users {
		t.Errorf("peak open connections = %d, want at most %d", peak, users)
	}
}

// 1リクエストずつ処理する場合、物理接続は常に1本で足りることを検証する。
func TestE2E_WithDatabase_SequentialRequestsReuseOneConnection(t *testing.T) {
	srv, store := newStorageBlogServer(t, 0)

	b := newBrowserFor(t, srv)
	b.register("carol", "pw")
	b.login("carol", "pw")
	b.createPost("A", "a")
	b.createPost("B", "b")
	b.get("/")

	if peak := store.PeakOpen(); peak != 1 {
		t.Errorf("peak open connections = %d, want 1", peak)
	}
}
