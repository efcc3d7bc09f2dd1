package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dealerdesk/internal/middleware"
	"github.com/hitoshi/dealerdesk/internal/model"
)

var (
	employee7 = model.Caller{UserID: 7, Role: model.RoleEmployee}
	admin1    = model.Caller{UserID: 1, Role: model.RoleAdmin}
)

// --- テストヘルパー ---

// withCaller はテスト用にリクエストコンテキストに呼び出し元を注入するヘルパー。
func withCaller(r *http.Request, caller model.Caller) *http.Request {
	return r.WithContext(middleware.ContextWithCaller(r.Context(), caller))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// newJSONRequest はJSONボディ付きのリクエストを生成する。bodyが空の場合はボディなし。
func newJSONRequest(method, target, body string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディを汎用マップにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return result
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, want, w.Body.String())
	}
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	assertStatus(t, w, wantStatus)
	body := parseAPIErrorResponse(t, w)
	if body["code"] != wantCode {
		t.Errorf("code = %q, want %q", body["code"], wantCode)
	}
}

func int64Ptr(v int64) *int64 { return &v }
