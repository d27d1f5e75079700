package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/blogman/internal/database"
	"github.com/hitoshi/blogman/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// リクエストスコープの接続がコンテキストにあればそれを使い、なければdbを直接使う。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	q, err := database.Acquire(ctx, r.db)
	if err != nil {
		return nil, err
	}

	user := &model.User{}
	err = q.QueryRowContext(ctx,
		`SELECT id, username, password FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Username, &user.PasswordHash)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	q, err := database.Acquire(ctx, r.db)
	if err != nil {
		return nil, err
	}

	user := &model.User{}
	err = q.QueryRowContext(ctx,
		`SELECT id, username, password FROM users WHERE username = $1`,
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}

	return user, nil
}

// Create はユーザーを作成し、書き込みを確定する。
// 一意制約違反はDUPLICATE_USERNAMEエラーに変換する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	q, err := database.Acquire(ctx, r.db)
	if err != nil {
		return err
	}

	err = q.QueryRowContext(ctx,
		`INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id`,
		user.Username, user.PasswordHash,
	).Scan(&user.ID)
	if err != nil {
		// エラー後のトランザクションは使えないため破棄する
		if database.IsUniqueViolation(err) {
			return rollbackWith(ctx, model.NewDuplicateUsernameError(user.Username))
		}
		return rollbackWith(ctx, fmt.Errorf("failed to insert user: %w", err))
	}

	return database.Commit(ctx)
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
