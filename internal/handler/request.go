package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/dealerdesk/internal/middleware"
	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/period"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 64 << 10

var validate = newValidator()

// newValidator はエラーメッセージにJSONのフィールド名を使うバリデーターを生成する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON はリクエストボディをdstに読み込み、validateタグで検証する。
// allowEmptyがtrueの場合、空ボディはゼロ値として扱う。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF) && allowEmpty:
		case errors.Is(err, io.EOF):
			return invalidRequest("リクエストボディが空です。")
		case errors.As(err, &maxErr):
			return invalidRequest("リクエストボディが大きすぎます。")
		default:
			return invalidRequest("リクエストボディのJSON形式が不正です。")
		}
	}
	return validateStruct(dst)
}

// validateStruct はvalidateタグで構造体を検証し、最初の違反を入力不備エラーにする。
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return invalidRequest(fmt.Sprintf("%s は必須です。", fe.Field()))
		case "max":
			return invalidRequest(fmt.Sprintf("%s は%s文字以内で指定してください。", fe.Field(), fe.Param()))
		}
		return invalidRequest(fmt.Sprintf("%s の値が不正です。", fe.Field()))
	}
	return invalidRequest(err.Error())
}

func invalidRequest(message string) *model.APIError {
	return model.NewValidationError(model.ErrCodeInvalidRequest, message)
}

// callerFrom はリクエストの呼び出し元を返す。認証ミドルウェアを通っていない場合は認証エラー。
func callerFrom(r *http.Request) (model.Caller, error) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return model.Caller{}, model.NewUnauthorizedError(errors.New("no caller in request context"))
	}
	return caller, nil
}

// parseIDParam はURLパスの{id}を正の整数として取り出す。
func parseIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidRequest("IDは正の整数で指定してください。")
	}
	return id, nil
}

// parseUserIDQuery はクエリのuser_idを取り出す。未指定の場合はnil。
func parseUserIDQuery(q url.Values) (*int64, error) {
	raw := strings.TrimSpace(q.Get("user_id"))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, invalidRequest("user_id は正の整数で指定してください。")
	}
	return &id, nil
}

// parseDateQuery はYYYY-MM-DD形式のクエリパラメータを取り出す。未指定の場合はnil。
func parseDateQuery(q url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	d, err := period.ParseDate(raw)
	if err != nil {
		return nil, model.NewInvalidDateRangeError(fmt.Sprintf("%s=%s", name, raw))
	}
	return &d, nil
}

// parsePageQuery はlimit/offsetを取り出す。未指定は0として扱い、補正はサービス層で行う。
func parsePageQuery(q url.Values) (limit, offset int, err error) {
	if limit, err = parseIntQuery(q, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = parseIntQuery(q, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func parseIntQuery(q url.Values, name string) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewInvalidPaginationError(fmt.Sprintf("%s は整数で指定してください", name))
	}
	return n, nil
}
