package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/dealerdesk/internal/model"
)

// --- モック定義 ---

type mockCallerResolver struct {
	resolveFn func(ctx context.Context, token string) (model.Caller, error)
}

func (m *mockCallerResolver) ResolveCaller(ctx context.Context, token string) (model.Caller, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return model.Caller{}, model.NewUnauthorizedError(errors.New("no resolver"))
}

// tokenResolver は固定のトークン→呼び出し元の対応で解決するリゾルバを返す。
func tokenResolver(tokens map[string]model.Caller) *mockCallerResolver {
	return &mockCallerResolver{
		resolveFn: func(ctx context.Context, token string) (model.Caller, error) {
			if c, ok := tokens[token]; ok {
				return c, nil
			}
			return model.Caller{}, model.NewUnauthorizedError(errors.New("unknown token"))
		},
	}
}

// --- テスト ---

func TestAuthMiddleware_ValidToken_InjectsCaller(t *testing.T) {
	resolver := tokenResolver(map[string]model.Caller{
		"good-token": {UserID: 42, Role: model.RoleAdmin},
	})

	var captured model.Caller
	handler := NewAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := CallerFromContext(r.Context())
		if !ok {
			t.Error("expected caller in context")
		}
		captured = c
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if captured.UserID != 42 || captured.Role != model.RoleAdmin {
		t.Errorf("caller = %+v, want {42 admin}", captured)
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	resolver := tokenResolver(map[string]model.Caller{"good-token": {UserID: 1, Role: model.RoleEmployee}})

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"bearer without token", "Bearer "},
		{"unknown token", "Bearer bad-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized || body.Category != string(model.KindAuth) {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	resolver := tokenResolver(map[string]model.Caller{"tok": {UserID: 3, Role: model.RoleEmployee}})
	handler := NewAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "bearer tok")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
}

func TestAuthMiddleware_StoreUnavailable_Returns503(t *testing.T) {
	resolver := &mockCallerResolver{
		resolveFn: func(ctx context.Context, token string) (model.Caller, error) {
			return model.Caller{}, model.NewStoreUnavailableError(context.DeadlineExceeded)
		},
	}
	handler := NewAuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer any")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestCallerFromContext_NoValue(t *testing.T) {
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Error("expected no caller in empty context")
	}
	if _, ok := CallerFromContext(ContextWithCaller(context.Background(), model.Caller{})); ok {
		t.Error("expected zero caller to be rejected")
	}
}

func TestContextWithCaller_RoundTrip(t *testing.T) {
	want := model.Caller{UserID: 9, Role: model.RoleEmployee}
	got, ok := CallerFromContext(ContextWithCaller(context.Background(), want))
	if !ok || got != want {
		t.Errorf("caller = %+v (ok=%v), want %+v", got, ok, want)
	}
}
