package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/blogman/internal/model"
)

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeValidation, http.StatusBadRequest},
		{model.ErrCodeInvalidCredentials, http.StatusBadRequest},
		{model.ErrCodeDuplicateUsername, http.StatusConflict},
		{model.ErrCodeAuthenticationRequired, http.StatusUnauthorized},
		{model.ErrCodeForbidden, http.StatusForbidden},
		{model.ErrCodePostNotFound, http.StatusNotFound},
		{"UNKNOWN", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestHandleServiceError(t *testing.T) {
	renderer, err := NewRenderer(plainBody{}, nil)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"記事なし", model.NewPostNotFoundError(3), http.StatusNotFound, "記事 3 は存在しません。"},
		{"権限なし", model.NewForbiddenError(), http.StatusForbidden, "この記事を変更する権限がありません。"},
		{"ラップされたAPIError", fmt.Errorf("wrapped: %w", model.NewForbiddenError()), http.StatusForbidden, "403"},
		{"内部エラー", errors.New("connection refused"), http.StatusInternalServerError, "内部エラーが発生しました。"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/1/update", nil)
			renderer.handleServiceError(rec, req, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
			if strings.Contains(rec.Body.String(), "connection refused") {
				t.Error("internal error detail leaked to the page")
			}
		})
	}
}

func TestHandleServiceError_AuthenticationRequired_RedirectsToLogin(t *testing.T) {
	renderer, err := NewRenderer(plainBody{}, nil)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	rec := httptest.NewRecorder()
	renderer.handleServiceError(rec, httptest.NewRequest(http.MethodPost, "/create", nil), model.NewAuthenticationRequiredError())

	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/login" {
		t.Errorf("Location = %q, want /login", got)
	}
}

func TestFormError(t *testing.T) {
	if msg, ok := formError(model.NewValidationError("x")); !ok || msg != "x" {
		t.Errorf("formError(validation) = %q, %v", msg, ok)
	}
	if _, ok := formError(model.NewForbiddenError()); ok {
		t.Error("forbidden should not be shown on the form")
	}
	if _, ok := formError(context.Canceled); ok {
		t.Error("non-APIError should not be shown on the form")
	}
}

// --- ヘルスチェック ---

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
		wantBody   string
	}{
		{"DB正常", stubPinger{}, http.StatusOK, `"database":"ok"`},
		{"DB到達不能", stubPinger{err: errors.New("down")}, http.StatusServiceUnavailable, `"database":"unreachable"`},
		{"DBなし", nil, http.StatusOK, `"database":"disabled"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.pinger)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want to contain %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}
