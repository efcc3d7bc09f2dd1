// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/hitoshi/dealerdesk/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// callerContextKey はリクエストコンテキストに呼び出し元を格納するためのキー。
	callerContextKey       = contextKey("caller")
	callerHolderContextKey = contextKey("caller_holder")
)

// CallerResolver はアクセストークンから呼び出し元を解決するインターフェース。
// auth.JWTProviderが実装する。
type CallerResolver interface {
	ResolveCaller(ctx context.Context, token string) (model.Caller, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 解決した呼び出し元をリクエストコンテキストに注入するミドルウェアを返す。
// トークンが無い・不正な場合は401を返す。
func NewAuthMiddleware(resolver CallerResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, r, model.NewUnauthorizedError(errors.New("missing bearer token")))
				return
			}

			caller, err := resolver.ResolveCaller(r.Context(), token)
			if err != nil {
				if model.IsKind(err, model.KindAuth) {
					slog.WarnContext(r.Context(), "authentication failed",
						slog.String("path", r.URL.Path),
						slog.String("request_id", RequestIDFromContext(r.Context())),
						slog.String("error", err.Error()),
					)
				}
				WriteError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithCaller(r.Context(), caller)))
		})
	}
}

// CallerFromContext はリクエストコンテキストから呼び出し元を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func CallerFromContext(ctx context.Context) (model.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(model.Caller)
	if !ok || caller.UserID <= 0 {
		return model.Caller{}, false
	}
	return caller, true
}

// ContextWithCaller はコンテキストに呼び出し元を注入する。
// 外側のロギングミドルウェアのholderがあればそちらにも記録する。
func ContextWithCaller(ctx context.Context, caller model.Caller) context.Context {
	if h, ok := ctx.Value(callerHolderContextKey).(*callerHolder); ok {
		h.set(caller)
	}
	return context.WithValue(ctx, callerContextKey, caller)
}

// callerHolder は内側のミドルウェアで解決した呼び出し元を外側へ渡す。
type callerHolder struct {
	mu     sync.Mutex
	caller model.Caller
	ok     bool
}

func (h *callerHolder) set(caller model.Caller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.caller = caller
	h.ok = true
}

func (h *callerHolder) get() (model.Caller, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caller, h.ok
}

func withCallerHolder(ctx context.Context, h *callerHolder) context.Context {
	return context.WithValue(ctx, callerHolderContextKey, h)
}

// bearerToken は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
