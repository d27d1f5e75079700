package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/hitoshi/blogman/internal/database"
)

// PostgresSessionStore はsessionsテーブルを使用したscsのセッションストア。
// コンテキストにリクエストスコープがあればその接続を使い、
// 記事やユーザーの読み書きと同じ1本の接続でセッションを保存する。
// スコープがない場合はdbを直接使う。
type PostgresSessionStore struct {
	db *sql.DB
}

// NewPostgresSessionStore はPostgresSessionStoreを生成する。
// 期限切れセッションの削除はcleanupジョブが担当する。
func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

// FindCtx は有効期限内のセッションデータを取得する。
// 見つからない場合や期限切れの場合はfound=falseを返す。
func (s *PostgresSessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	q, err := database.Acquire(ctx, s.db)
	if err != nil {
		return nil, false, err
	}

	var data []byte
	err = q.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE token = $1 AND expiry > now()`,
		token,
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to find session: %w", err)
	}
	return data, true, nil
}

// CommitCtx はセッションデータを保存し、書き込みを確定する。既存のトークンは上書きする。
func (s *PostgresSessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	q, err := database.Acquire(ctx, s.db)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO sessions (token, data, expiry) VALUES ($1, $2, $3)
		 ON CONFLICT (token) DO UPDATE SET data = EXCLUDED.data, expiry = EXCLUDED.expiry`,
		token, b, expiry,
	)
	if err != nil {
		return rollbackWith(ctx, fmt.Errorf("failed to commit session: %w", err))
	}
	return database.Commit(ctx)
}

// DeleteCtx はセッションを削除し、書き込みを確定する。
func (s *PostgresSessionStore) DeleteCtx(ctx context.Context, token string) error {
	q, err := database.Acquire(ctx, s.db)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return rollbackWith(ctx, fmt.Errorf("failed to delete session: %w", err))
	}
	return database.Commit(ctx)
}

// Find はFindCtxのコンテキストなし版。
func (s *PostgresSessionStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

// Commit はCommitCtxのコンテキストなし版。
func (s *PostgresSessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

// Delete はDeleteCtxのコンテキストなし版。
func (s *PostgresSessionStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

// compile-time interface check
var _ scs.CtxStore = (*PostgresSessionStore)(nil)
