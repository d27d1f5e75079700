package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/blogman/internal/database"
	"github.com/hitoshi/blogman/internal/model"
)

// postColumns は記事と著者名をJOINして取得する際の列リスト。
const postColumns = `p.id, p.title, p.body, p.created, p.author_id, u.username`

// PostgresPostRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// ListAll は全記事を作成日時の新しい順に返す。
// 作成日時が同一の場合は後から作成された記事を先に返す。
func (r *PostgresPostRepo) ListAll(ctx context.Context) ([]*model.Post, error) {
	q, err := database.Acquire(ctx, r.db)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+postColumns+`
		 FROM posts p JOIN users u ON p.author_id = u.id
		 ORDER BY p.created DESC, p.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post := &model.Post{}
		if err := scanPost(rows, post); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	return posts, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id int64) (*model.Post, error) {
	q, err := database.Acquire(ctx, r.db)
	if err != nil {
		return nil, err
	}

	post := &model.Post{}
	err = scanPost(q.QueryRowContext(ctx,
		`SELECT `+postColumns+`
		 FROM posts p JOIN users u ON p.author_id = u.id
		 WHERE p.id = $1`,
		id,
	), post)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by ID: %w", err)
	}

	return post, nil
}

// Create は記事を作成し、書き込みを確定する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	q, err := database.Acquire(ctx, r.db)
	if err != nil {
		return err
	}

	err = q.QueryRowContext(ctx,
		`INSERT INTO posts (title, body, author_id) VALUES ($1, $2, $3)
		 RETURNING id, created`,
		post.Title, post.Body, post.AuthorID,
	).Scan(&post.ID, &post.Created)
	if err != nil {
		return rollbackWith(ctx, fmt.Errorf("failed to insert post: %w", err))
	}

	return database.Commit(ctx)
}

// Update は記事のタイトルと本文を更新し、書き込みを確定する。
func (r *PostgresPostRepo) Update(ctx context.Context, post *model.Post) error {
	q, err := database.Acquire(ctx, r.db)
	if err != nil {
		return err
	}

	result, err := q.ExecContext(ctx,
		`UPDATE posts SET title = $1, body = $2 WHERE id = $3`,
		post.Title, post.Body, post.ID,
	)
	if err != nil {
		return rollbackWith(ctx, fmt.Errorf("failed to update post: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return rollbackWith(ctx, fmt.Errorf("failed to get rows affected: %w", err))
	}
	if affected == 0 {
		return model.NewPostNotFoundError(post.ID)
	}

	return database.Commit(ctx)
}

// Delete は指定IDの記事を削除し、書き込みを確定する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id int64) error {
	q, err := database.Acquire(ctx, r.db)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		return rollbackWith(ctx, fmt.Errorf("failed to delete post: %w", err))
	}

	return database.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(s rowScanner, post *model.Post) error {
	return s.Scan(&post.ID, &post.Title, &post.Body, &post.Created, &post.AuthorID, &post.AuthorUsername)
}

// rollbackWith はリクエストスコープの書き込みを破棄し、errを返す。
func rollbackWith(ctx context.Context, err error) error {
	if rbErr := database.Rollback(ctx); rbErr != nil {
		return errors.Join(err, rbErr)
	}
	return err
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
