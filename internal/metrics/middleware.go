package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusRecorder はレスポンスのステータスコードを記録するラッパー。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// NewHTTPMiddleware はリクエスト処理時間を記録するミドルウェアを返す。
// routeラベルにはchiのルートパターン（例: /api/tasks/{id}）を使い、カーディナリティを抑える。
func NewHTTPMiddleware(c *Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			c.ObserveHTTPRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start))
		})
	}
}
