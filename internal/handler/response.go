package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/dealerdesk/internal/middleware"
)

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを統一フォーマットのエラーレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}
