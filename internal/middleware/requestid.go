package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すHTTPヘッダー名。
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength はクライアント指定のリクエストIDとして受け入れる最大長。
const maxRequestIDLength = 128

var requestIDContextKey = contextKey("request_id")

// NewRequestIDMiddleware はリクエストIDを採番するミドルウェアを返す。
// クライアントがX-Request-IDを送った場合はその値を引き継ぎ、無い・不正な場合はUUIDを生成する。
// IDはレスポンスヘッダーとリクエストコンテキストの両方に設定する。
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !validRequestID(id) {
				id = uuid.NewString()
			}

			w.Header().Set(RequestIDHeader, id)
			ctx := context.WithValue(r.Context(), requestIDContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext はリクエストコンテキストからリクエストIDを取得する。未設定の場合は空文字。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// validRequestID はログに安全に出力できる印字可能ASCIIのみで構成されているかを返す。
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
