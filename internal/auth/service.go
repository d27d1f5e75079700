// Package auth はユーザー登録、ログイン認証、現在ユーザーの解決を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

// dummyPassword は存在しないユーザーのログイン時に照合するダミーハッシュの元。
const dummyPassword = "blogman-dummy-password"

// fallbackDummyHash はダミーハッシュの生成に失敗した場合に照合する固定のbcryptハッシュ（cost 10）。
const fallbackDummyHash = "$2a$10$XajjQvNhvvRt5GSeFk1xFeyqRrsxkhBkUiQeg0dt.wU1qD4aFDcga"

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	hasher   PasswordHasher

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, hasher PasswordHasher) *Service {
	return &Service{
		userRepo: userRepo,
		hasher:   hasher,
	}
}

// Register はユーザーを登録し、採番されたユーザーIDを返す。
// ユーザー名・パスワードの未入力はVALIDATION_ERROR、
// 登録済みのユーザー名はDUPLICATE_USERNAMEを返す。
func (s *Service) Register(ctx context.Context, username, password string) (int64, error) {
	if username == "" {
		return 0, model.NewValidationError("ユーザー名を入力してください。")
	}
	if password == "" {
		return 0, model.NewValidationError("パスワードを入力してください。")
	}

	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return 0, model.NewDuplicateUsernameError(username)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return 0, err
	}

	user := &model.User{Username: username, PasswordHash: hash}
	// 事前チェックとINSERTの間に同名ユーザーが作成された場合もリポジトリが重複エラーを返す
	if err := s.userRepo.Create(ctx, user); err != nil {
		if model.HasCode(err, model.ErrCodeDuplicateUsername) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("username", username),
	)
	return user.ID, nil
}

// Authenticate はユーザー名とパスワードを照合し、ユーザーIDを返す。
// ユーザーが存在しない場合とパスワードが誤っている場合は同一のINVALID_CREDENTIALSを返す。
func (s *Service) Authenticate(ctx context.Context, username, password string) (int64, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		// 存在しないユーザーでも照合処理を行い、応答時間の差を抑える
		s.hasher.Verify(s.dummy(), password)
		slog.Info("login failed", slog.String("username", username))
		return 0, model.NewInvalidCredentialsError()
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		slog.Info("login failed", slog.String("username", username))
		return 0, model.NewInvalidCredentialsError()
	}

	slog.Info("user logged in", slog.Int64("user_id", user.ID))
	return user.ID, nil
}

// ResolveCurrent はセッションに保存されたユーザーIDから現在のユーザーを取得する。
// IDが未設定の場合や、ユーザーが存在しない場合はnil（匿名）を返す。
func (s *Service) ResolveCurrent(ctx context.Context, userID int64, ok bool) (*model.User, error) {
	if !ok {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current user: %w", err)
	}
	return user, nil
}

// RequireAuthenticated は現在のユーザーが認証済みであることを要求する。
func RequireAuthenticated(current *model.User) (*model.User, error) {
	if current == nil {
		return nil, model.NewAuthenticationRequiredError()
	}
	return current, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil || hash == "" {
			if err != nil {
				slog.Error("failed to prepare dummy password hash", slog.String("error", err.Error()))
			}
			hash = fallbackDummyHash
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
