// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/blogman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
	// ユーザー名が重複する場合はDUPLICATE_USERNAMEエラーを返す。
	Create(ctx context.Context, user *model.User) error
}

// PostRepository は記事データの永続化インターフェース。
// 読み出し結果には常に著者のユーザー名が含まれる。
type PostRepository interface {
	// ListAll は全記事を作成日時の新しい順に返す。
	ListAll(ctx context.Context) ([]*model.Post, error)

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Post, error)

	// Create は記事を作成し、採番されたIDと作成日時をpostに設定する。
	Create(ctx context.Context, post *model.Post) error

	// Update は記事のタイトルと本文を更新する。
	// 対象が存在しない場合はPOST_NOT_FOUNDエラーを返す。
	Update(ctx context.Context, post *model.Post) error

	// Delete は指定IDの記事を削除する。存在しない場合も成功とする。
	Delete(ctx context.Context, id int64) error
}
