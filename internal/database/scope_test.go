package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync/atomic"
	"testing"
)

// --- テスト用のdatabase/sqlドライバ ---

// countingConnector は物理接続・トランザクションの操作回数を数えるドライバ。
type countingConnector struct {
	connects  atomic.Int32
	begins    atomic.Int32
	commits   atomic.Int32
	rollbacks atomic.Int32
	execs     atomic.Int32
}

func (c *countingConnector) Connect(_ context.Context) (driver.Conn, error) {
	c.connects.Add(1)
	return &countingConn{c: c}, nil
}

func (c *countingConnector) Driver() driver.Driver { return countingDriver{c: c} }

type countingDriver struct{ c *countingConnector }

func (d countingDriver) Open(_ string) (driver.Conn, error) {
	return d.c.Connect(context.Background())
}

type countingConn struct{ c *countingConnector }

func (cn *countingConn) Prepare(_ string) (driver.Stmt, error) {
	return nil, errors.New("prepare is not supported")
}

func (cn *countingConn) Close() error { return nil }

func (cn *countingConn) Begin() (driver.Tx, error) {
	cn.c.begins.Add(1)
	return &countingTx{c: cn.c}, nil
}

func (cn *countingConn) ExecContext(_ context.Context, _ string, _ []driver.NamedValue) (driver.Result, error) {
	cn.c.execs.Add(1)
	return driver.RowsAffected(1), nil
}

type countingTx struct{ c *countingConnector }

func (tx *countingTx) Commit() error {
	tx.c.commits.Add(1)
	return nil
}

func (tx *countingTx) Rollback() error {
	tx.c.rollbacks.Add(1)
	return nil
}

func newCountingDB(t *testing.T) (*sql.DB, *countingConnector) {
	t.Helper()
	c := &countingConnector{}
	db := sql.OpenDB(c)
	t.Cleanup(func() { db.Close() })
	return db, c
}

// --- テスト ---

func TestScope_Acquire_IsLazy(t *testing.T) {
	db, c := newCountingDB(t)
	s := NewScope(db)

	if s.Opened() {
		t.Error("scope should not be opened before Acquire")
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got := c.connects.Load(); got != 0 {
		t.Errorf("connects = %d, want 0", got)
	}
}

func TestScope_Acquire_ReusesSingleConnection(t *testing.T) {
	db, c := newCountingDB(t)
	s := NewScope(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q, err := s.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if _, err := q.ExecContext(ctx, "UPDATE posts SET title = $1", "x"); err != nil {
			t.Fatalf("ExecContext() error = %v", err)
		}
	}

	if got := c.connects.Load(); got != 1 {
		t.Errorf("connects = %d, want 1", got)
	}
	if got := c.begins.Load(); got != 1 {
		t.Errorf("begins = %d, want 1", got)
	}
	if got := c.execs.Load(); got != 3 {
		t.Errorf("execs = %d, want 3", got)
	}

	if err := s.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestScope_Commit_StartsNewTransactionOnSameConnection(t *testing.T) {
	db, c := newCountingDB(t)
	s := NewScope(db)
	ctx := context.Background()

	if _, err := s.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := s.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if got := c.connects.Load(); got != 1 {
		t.Errorf("connects = %d, want 1", got)
	}
	if got := c.begins.Load(); got != 2 {
		t.Errorf("begins = %d, want 2", got)
	}
	if got := c.commits.Load(); got != 2 {
		t.Errorf("commits = %d, want 2", got)
	}

	if err := s.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	// コミット済みのためロールバックは発生しない
	if got := c.rollbacks.Load(); got != 0 {
		t.Errorf("rollbacks = %d, want 0", got)
	}
}

func TestScope_Release_DiscardsUncommittedWrite(t *testing.T) {
	db, c := newCountingDB(t)
	s := NewScope(db)
	ctx := context.Background()

	q, err := s.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := q.ExecContext(ctx, "INSERT INTO posts (title) VALUES ($1)", "t"); err != nil {
		t.Fatalf("ExecContext() error = %v", err)
	}

	if err := s.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if got := c.commits.Load(); got != 0 {
		t.Errorf("commits = %d, want 0", got)
	}
	if got := c.rollbacks.Load(); got != 1 {
		t.Errorf("rollbacks = %d, want 1", got)
	}
	if inUse := db.Stats().InUse; inUse != 0 {
		t.Errorf("connections in use = %d, want 0", inUse)
	}
}

func TestScope_Release_IsIdempotent(t *testing.T) {
	db, c := newCountingDB(t)
	s := NewScope(db)

	if _, err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if got := c.rollbacks.Load(); got != 1 {
		t.Errorf("rollbacks = %d, want 1", got)
	}
}

func TestScope_Acquire_AfterRelease_ReturnsError(t *testing.T) {
	db, _ := newCountingDB(t)
	s := NewScope(db)
	s.Release()

	_, err := s.Acquire(context.Background())
	if !errors.Is(err, ErrScopeReleased) {
		t.Errorf("Acquire() error = %v, want %v", err, ErrScopeReleased)
	}
}

func TestScope_Rollback_WithoutTransaction_IsNoop(t *testing.T) {
	db, c := newCountingDB(t)
	s := NewScope(db)

	if err := s.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got := c.rollbacks.Load(); got != 0 {
		t.Errorf("rollbacks = %d, want 0", got)
	}
}

func TestAcquire_UsesScopeFromContext(t *testing.T) {
	db, c := newCountingDB(t)
	s := NewScope(db)
	defer s.Release()

	ctx := WithScope(context.Background(), s)
	q, err := Acquire(ctx, nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, ok := q.(*sql.Tx); !ok {
		t.Errorf("Acquire() returned %T, want *sql.Tx", q)
	}
	if err := Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := c.commits.Load(); got != 1 {
		t.Errorf("commits = %d, want 1", got)
	}
}

func TestAcquire_WithoutScope_ReturnsFallback(t *testing.T) {
	db, c := newCountingDB(t)

	q, err := Acquire(context.Background(), db)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if q != DBTX(db) {
		t.Errorf("Acquire() returned %T, want fallback *sql.DB", q)
	}
	// Scopeがない場合のCommit/Rollbackは何もしない
	if err := Commit(context.Background()); err != nil {
		t.Errorf("Commit() error = %v", err)
	}
	if err := Rollback(context.Background()); err != nil {
		t.Errorf("Rollback() error = %v", err)
	}
	if got := c.begins.Load(); got != 0 {
		t.Errorf("begins = %d, want 0", got)
	}
}

func TestAcquire_WithoutScopeOrFallback_ReturnsError(t *testing.T) {
	if _, err := Acquire(context.Background(), nil); err == nil {
		t.Fatal("expected error, got nil")
	}
}
