// Package post は記事の取得・作成・更新・削除と、著者による変更制限を提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

// Service は記事に関するビジネスロジックを提供する。
type Service struct {
	postRepo repository.PostRepository
}

// NewService はServiceを生成する。
func NewService(postRepo repository.PostRepository) *Service {
	return &Service{postRepo: postRepo}
}

// ListAll は全記事を作成日時の新しい順に返す。
func (s *Service) ListAll(ctx context.Context) ([]*model.Post, error) {
	posts, err := s.postRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// Get は指定IDの記事を取得する。存在しない場合はPOST_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.Post, error) {
	post, err := s.postRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	return post, nil
}

// GetPost は変更操作の対象記事を取得する。
// 存在確認を先に行い、checkAuthorがtrueの場合のみ著者であることを確認する。
func (s *Service) GetPost(ctx context.Context, id int64, current *model.User, checkAuthor bool) (*model.Post, error) {
	post, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if checkAuthor && !post.IsAuthoredBy(current) {
		return nil, model.NewForbiddenError()
	}
	return post, nil
}

// Create は記事を作成し、採番された記事IDを返す。
// タイトル、本文の順に未入力を検証する。
func (s *Service) Create(ctx context.Context, title, body string, authorID int64) (int64, error) {
	if title == "" {
		return 0, model.NewValidationError("タイトルを入力してください。")
	}
	if body == "" {
		return 0, model.NewValidationError("本文を入力してください。")
	}

	post := &model.Post{Title: title, Body: body, AuthorID: authorID}
	if err := s.postRepo.Create(ctx, post); err != nil {
		return 0, fmt.Errorf("failed to create post: %w", err)
	}

	slog.Info("post created",
		slog.Int64("post_id", post.ID),
		slog.Int64("author_id", authorID),
	)
	return post.ID, nil
}

// Update は記事のタイトルと本文を更新する。
// 本文は空でも更新できる。作成日時と著者は変更しない。
func (s *Service) Update(ctx context.Context, id int64, title, body string) error {
	if title == "" {
		return model.NewValidationError("タイトルを入力してください。")
	}

	if err := s.postRepo.Update(ctx, &model.Post{ID: id, Title: title, Body: body}); err != nil {
		if model.HasCode(err, model.ErrCodePostNotFound) {
			return err
		}
		return fmt.Errorf("failed to update post: %w", err)
	}

	slog.Info("post updated", slog.Int64("post_id", id))
	return nil
}

// Delete は指定IDの記事を削除する。
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.postRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	slog.Info("post deleted", slog.Int64("post_id", id))
	return nil
}
