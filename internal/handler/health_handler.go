package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// defaultHealthTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const defaultHealthTimeout = 2 * time.Second

// Pinger はDB疎通確認のインターフェース。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db      Pinger
	timeout time.Duration
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, timeout: defaultHealthTimeout}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Check はDBに疎通できれば200、できなければ503を返す。
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		slog.WarnContext(r.Context(), "health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
