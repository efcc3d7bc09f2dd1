package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dealerdesk/internal/model"
)

// retryAfterSeconds はデータストア障害時にクライアントへ提示する再試行までの秒数。
const retryAfterSeconds = "2"

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: string(apiErr.Kind),
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "内部エラーが発生しました。",
		Kind:    model.KindSystem,
		Action:  "しばらく待ってから再度お試しください。",
	})
}

// StatusForKind はエラー種別に対応するHTTPステータスコードを返す。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindConflict:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindForbidden:
		return http.StatusForbidden
	case model.KindAuth:
		return http.StatusUnauthorized
	case model.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はerrを種別に応じたステータスコードの統一エラーレスポンスとして書き込む。
// APIError以外のエラーとKindSystemは500とし、詳細はログにのみ残す。
// データストア障害はRetry-Afterを付けて503で返す。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Kind == model.KindSystem {
		slog.ErrorContext(r.Context(), "internal error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteInternalServerError(w)
		return
	}

	if apiErr.Kind == model.KindStoreUnavailable {
		slog.ErrorContext(r.Context(), "store unavailable",
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	WriteErrorResponse(w, StatusForKind(apiErr.Kind), apiErr)
}
