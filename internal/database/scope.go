package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrScopeReleased は解放済みのScopeから接続を取得しようとした場合のエラー。
var ErrScopeReleased = errors.New("database scope already released")

// DBTX はSQL実行の共通インターフェース。
// *sql.DB、*sql.Conn、*sql.Txのいずれも満たす。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Scope は1リクエストに閉じたデータベース接続を管理する。
//
// 接続は最初のAcquireで遅延取得され、リクエストの間キャッシュされる。
// 書き込みはCommitで確定し、Commitされなかった変更はReleaseでロールバックされる。
// リポジトリ呼び出しの回数にかかわらず、物理接続は1リクエストにつき最大1本。
type Scope struct {
	db *sql.DB

	mu       sync.Mutex
	conn     *sql.Conn
	tx       *sql.Tx
	released bool
}

// NewScope はdbを接続元とするScopeを生成する。この時点では接続を取得しない。
func NewScope(db *sql.DB) *Scope {
	return &Scope{db: db}
}

// Acquire はリクエストスコープの接続上で開いているトランザクションを返す。
// 接続・トランザクションが未取得の場合はここで取得する。
func (s *Scope) Acquire(ctx context.Context) (DBTX, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrScopeReleased
	}

	if s.conn == nil {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire connection: %w", err)
		}
		s.conn = conn
	}

	if s.tx == nil {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		s.tx = tx
	}

	return s.tx, nil
}

// Commit は現在のトランザクションを確定する。
// 次のAcquireでは同じ接続上に新しいトランザクションが開始される。
func (s *Scope) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback は未確定の書き込みを破棄する。
// PostgreSQLではエラー後のトランザクションは再利用できないため、書き込み失敗時に呼び出す。
func (s *Scope) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rollbackLocked()
}

// Release は未確定の書き込みをロールバックし、接続をプールへ返却する。
// 接続を取得していない場合や、既に解放済みの場合は何もしない。
func (s *Scope) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	if err := s.rollbackLocked(); err != nil {
		errs = append(errs, err)
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		s.conn = nil
	}
	return errors.Join(errs...)
}

// Opened は接続を取得済みかどうかを返す。
func (s *Scope) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Scope) rollbackLocked() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// scopeContextKey はコンテキストにScopeを格納するためのキー。
type scopeContextKey struct{}

// WithScope はScopeを格納したコンテキストを返す。
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// ScopeFromContext はコンテキストからScopeを取り出す。未設定の場合はnilを返す。
func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return s
}

// Acquire はコンテキストにScopeがあればその接続を返し、なければfallbackを返す。
// fallbackはCLIやワーカーなどリクエスト外からの呼び出しで使う自動コミットの接続。
func Acquire(ctx context.Context, fallback DBTX) (DBTX, error) {
	if s := ScopeFromContext(ctx); s != nil {
		return s.Acquire(ctx)
	}
	if fallback == nil {
		return nil, errors.New("no database scope in context and no fallback connection")
	}
	return fallback, nil
}

// Commit はコンテキストのScopeの書き込みを確定する。Scopeがない場合は何もしない。
func Commit(ctx context.Context) error {
	if s := ScopeFromContext(ctx); s != nil {
		return s.Commit()
	}
	return nil
}

// Rollback はコンテキストのScopeの書き込みを破棄する。Scopeがない場合は何もしない。
func Rollback(ctx context.Context) error {
	if s := ScopeFromContext(ctx); s != nil {
		return s.Rollback()
	}
	return nil
}
