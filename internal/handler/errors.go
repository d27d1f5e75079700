package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
)

// handleServiceError はサービス層のエラーを画面に変換する。
// 未ログインは/loginへのリダイレクト、それ以外のAPIErrorはエラー画面、
// APIError以外は内部エラーとして500画面を返す。
func (rd *Renderer) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == model.ErrCodeAuthenticationRequired {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		rd.renderError(w, r, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	rd.renderError(w, r, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidCredentials:
		return http.StatusBadRequest
	case model.ErrCodeDuplicateUsername:
		return http.StatusConflict
	case model.ErrCodeAuthenticationRequired:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodePostNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// formError はフォームに再表示すべきエラー（入力検証・重複・認証失敗）であればメッセージを返す。
func formError(err error) (string, bool) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeDuplicateUsername, model.ErrCodeInvalidCredentials:
		return apiErr.Message, true
	default:
		return "", false
	}
}
