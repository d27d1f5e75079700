// Package dbtest はテスト用のインメモリdatabase/sqlドライバを提供する。
//
// blogmanのリポジトリとセッションストアが発行するSQLだけを解釈し、
// users・posts・sessionsの3テーブルをメモリ上に保持する。
// 物理接続の取得回数と同時に開いている接続数を記録するため、
// リクエストあたりの接続数の検証に使える。
// トランザクションは分離せず、書き込みは即時に反映される。
package dbtest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type userRow struct {
	id       int64
	username string
	password string
}

type postRow struct {
	id       int64
	title    string
	body     string
	created  time.Time
	authorID int64
}

type sessionRow struct {
	data   []byte
	expiry time.Time
}

// Store はインメモリのテーブルと接続の統計を保持する。
type Store struct {
	mu         sync.Mutex
	users      map[int64]*userRow
	posts      map[int64]*postRow
	sessions   map[string]*sessionRow
	nextUserID int64
	nextPostID int64
	clock      time.Time

	connects atomic.Int32
	open     atomic.Int32
	peak     atomic.Int32
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		users:    make(map[int64]*userRow),
		posts:    make(map[int64]*postRow),
		sessions: make(map[string]*sessionRow),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Open はStoreを背後に持つ*sql.DBを返す。maxOpenが正の場合は最大接続数を制限する。
// DBはテスト終了時に閉じられる。
func (s *Store) Open(t testing.TB, maxOpen int) *sql.DB {
	t.Helper()
	db := sql.OpenDB(connector{s: s})
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Connects はこれまでに取得された物理接続の数を返す。
func (s *Store) Connects() int { return int(s.connects.Load()) }

// PeakOpen は同時に開いていた物理接続数の最大値を返す。
func (s *Store) PeakOpen() int { return int(s.peak.Load()) }

// PostCount は保存されている記事の数を返す。
func (s *Store) PostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// SessionCount は保存されているセッションの数を返す。
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// --- driver実装 ---

type connector struct{ s *Store }

func (c connector) Connect(context.Context) (driver.Conn, error) {
	c.s.connects.Add(1)
	n := c.s.open.Add(1)
	for {
		peak := c.s.peak.Load()
		if n <= peak || c.s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return &conn{s: c.s}, nil
}

func (c connector) Driver() driver.Driver { return fakeDriver{s: c.s} }

type fakeDriver struct{ s *Store }

func (d fakeDriver) Open(string) (driver.Conn, error) {
	return connector(d).Connect(context.Background())
}

type conn struct {
	s      *Store
	closed bool
}

func (c *conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("dbtest: prepared statements are not supported")
}

func (c *conn) Close() error {
	if !c.closed {
		c.closed = true
		c.s.open.Add(-1)
	}
	return nil
}

func (c *conn) Begin() (driver.Tx, error) { return tx{}, nil }

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) { return tx{}, nil }

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.s.exec(normalize(query), values(args))
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.s.query(normalize(query), values(args))
}

type tx struct{}

func (tx) Commit() error   { return nil }
func (tx) Rollback() error { return nil }

type rows struct {
	columns []string
	data    [][]driver.Value
	pos     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func values(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

// --- SQLの解釈 ---

var postColumns = []string{"id", "title", "body", "created", "author_id", "username"}

func (s *Store) query(q string, args []driver.Value) (driver.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.HasPrefix(q, "SELECT id, username, password FROM users WHERE id ="):
		if u, ok := s.users[args[0].(int64)]; ok {
			return userRows(u), nil
		}
		return userRows(nil), nil

	case strings.HasPrefix(q, "SELECT id, username, password FROM users WHERE username ="):
		for _, u := range s.users {
			if u.username == args[0].(string) {
				return userRows(u), nil
			}
		}
		return userRows(nil), nil

	case strings.HasPrefix(q, "INSERT INTO users"):
		for _, u := range s.users {
			if u.username == args[0].(string) {
				return nil, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
			}
		}
		s.nextUserID++
		s.users[s.nextUserID] = &userRow{id: s.nextUserID, username: args[0].(string), password: args[1].(string)}
		return &rows{columns: []string{"id"}, data: [][]driver.Value{{s.nextUserID}}}, nil

	case strings.HasPrefix(q, "SELECT p.id") && strings.Contains(q, "WHERE p.id ="):
		r := &rows{columns: postColumns}
		if p, ok := s.posts[args[0].(int64)]; ok {
			r.data = append(r.data, s.postValues(p))
		}
		return r, nil

	case strings.HasPrefix(q, "SELECT p.id") && strings.Contains(q, "ORDER BY p.created DESC, p.id DESC"):
		list := make([]*postRow, 0, len(s.posts))
		for _, p := range s.posts {
			list = append(list, p)
		}
		sort.Slice(list, func(i, j int) bool {
			if !list[i].created.Equal(list[j].created) {
				return list[i].created.After(list[j].created)
			}
			return list[i].id > list[j].id
		})
		r := &rows{columns: postColumns}
		for _, p := range list {
			r.data = append(r.data, s.postValues(p))
		}
		return r, nil

	case strings.HasPrefix(q, "INSERT INTO posts"):
		authorID := args[2].(int64)
		if _, ok := s.users[authorID]; !ok {
			return nil, &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}
		}
		s.nextPostID++
		s.clock = s.clock.Add(time.Minute)
		s.posts[s.nextPostID] = &postRow{
			id:       s.nextPostID,
			title:    args[0].(string),
			body:     args[1].(string),
			created:  s.clock,
			authorID: authorID,
		}
		return &rows{columns: []string{"id", "created"}, data: [][]driver.Value{{s.nextPostID, s.clock}}}, nil

	case strings.HasPrefix(q, "SELECT data FROM sessions WHERE token ="):
		r := &rows{columns: []string{"data"}}
		if sess, ok := s.sessions[args[0].(string)]; ok && sess.expiry.After(time.Now()) {
			r.data = append(r.data, []driver.Value{append([]byte(nil), sess.data...)})
		}
		return r, nil
	}

	return nil, fmt.Errorf("dbtest: unsupported query: %s", q)
}

func (s *Store) exec(q string, args []driver.Value) (driver.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.HasPrefix(q, "UPDATE posts SET title ="):
		p, ok := s.posts[args[2].(int64)]
		if !ok {
			return driver.RowsAffected(0), nil
		}
		p.title = args[0].(string)
		p.body = args[1].(string)
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "DELETE FROM posts WHERE id ="):
		id := args[0].(int64)
		if _, ok := s.posts[id]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(s.posts, id)
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "INSERT INTO sessions"):
		s.sessions[args[0].(string)] = &sessionRow{
			data:   append([]byte(nil), args[1].([]byte)...),
			expiry: args[2].(time.Time),
		}
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "DELETE FROM sessions WHERE token ="):
		token := args[0].(string)
		if _, ok := s.sessions[token]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(s.sessions, token)
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "DELETE FROM sessions WHERE expiry <"):
		var n int64
		now := time.Now()
		for token, sess := range s.sessions {
			if sess.expiry.Before(now) {
				delete(s.sessions, token)
				n++
			}
		}
		return driver.RowsAffected(n), nil
	}

	return nil, fmt.Errorf("dbtest: unsupported statement: %s", q)
}

func userRows(u *userRow) *rows {
	r := &rows{columns: []string{"id", "username", "password"}}
	if u != nil {
		r.data = append(r.data, []driver.Value{u.id, u.username, u.password})
	}
	return r
}

func (s *Store) postValues(p *postRow) []driver.Value {
	var username string
	if u, ok := s.users[p.authorID]; ok {
		username = u.username
	}
	return []driver.Value{p.id, p.title, p.body, p.created, p.authorID, username}
}
