// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。
// 呼び出し側（UI）はメッセージ文字列ではなくKindで分岐する。
type ErrorKind string

const (
	// KindValidation は入力不備。リクエストを修正する必要があり、リトライ対象外。
	KindValidation ErrorKind = "validation"
	// KindConflict は一意性制約との競合。現在の状態を再取得してから再試行できる。
	KindConflict ErrorKind = "conflict"
	// KindNotFound は対象行が存在しない。
	KindNotFound ErrorKind = "not_found"
	// KindForbidden は権限不足。リトライ対象外。
	KindForbidden ErrorKind = "forbidden"
	// KindAuth は呼び出し元を特定できない（トークン不正など）。
	KindAuth ErrorKind = "auth"
	// KindStoreUnavailable はデータストアの障害。バックオフ付きリトライの唯一の対象。
	KindStoreUnavailable ErrorKind = "store_unavailable"
	// KindSystem はその他の内部エラー。
	KindSystem ErrorKind = "system"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code    string    // エラーコード
	Message string    // エラーメッセージ
	Kind    ErrorKind // 分類
	Action  string    // ユーザー向け対処方法
	Err     error     // 元のエラー（ログ用。レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf はerrのKindを返す。APIErrorでなければKindSystemを返す。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindSystem
}

// IsKind はerrが指定Kindかどうかを返す。
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable は自動リトライしてよいエラーかどうかを返す。
func IsRetryable(err error) bool {
	return IsKind(err, KindStoreUnavailable)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeAlreadyClockedIn        = "ATTENDANCE_ALREADY_CLOCKED_IN"
	ErrCodeNoOpenSession           = "ATTENDANCE_NO_OPEN_SESSION"
	ErrCodeSessionNotFound         = "ATTENDANCE_SESSION_NOT_FOUND"
	ErrCodeSessionOpen             = "ATTENDANCE_SESSION_OPEN"
	ErrCodeSessionAlreadyFinalized = "ATTENDANCE_ALREADY_FINALIZED"
	ErrCodeTaskNotFound            = "TASK_NOT_FOUND"
	ErrCodeTaskDescriptionRequired = "TASK_DESCRIPTION_REQUIRED"
	ErrCodeInvalidTaskStatus       = "INVALID_TASK_STATUS"
	ErrCodeMarkupNotAllowed        = "TEXT_MARKUP_NOT_ALLOWED"
	ErrCodeInvalidDateRange        = "INVALID_DATE_RANGE"
	ErrCodeInvalidPagination       = "INVALID_PAGINATION"
	ErrCodeDuplicate               = "DUPLICATE"
	ErrCodeStoreUnavailable        = "STORE_UNAVAILABLE"
)

// NewValidationError は入力不備エラーを生成する。
func NewValidationError(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Kind:    KindValidation,
		Action:  "入力内容を確認してください。",
	}
}

// NewMarkupNotAllowedError は自由入力テキストにマークアップが含まれる場合のエラーを生成する。
func NewMarkupNotAllowedError(field string) *APIError {
	return NewValidationError(ErrCodeMarkupNotAllowed,
		fmt.Sprintf("%sにHTMLタグなどのマークアップは使用できません。", field))
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError(err error) *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: "認証が必要です。",
		Kind:    KindAuth,
		Action:  "ログインし直してください。",
		Err:     err,
	}
}

// NewForbiddenError は権限不足エラーを生成する。
// リソースの存在有無は明かさない汎用メッセージを返す。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:    ErrCodeForbidden,
		Message: "この操作を行う権限がありません。",
		Kind:    KindForbidden,
		Action:  "管理者に問い合わせてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeUserNotFound,
		Message: "ユーザーが見つかりません。",
		Kind:    KindNotFound,
		Action:  "ログインし直してください。",
	}
}

// NewAlreadyClockedInError は出勤中セッションが既に存在する場合のエラーを生成する。
func NewAlreadyClockedInError() *APIError {
	return &APIError{
		Code:    ErrCodeAlreadyClockedIn,
		Message: "既に出勤打刻済みです。",
		Kind:    KindConflict,
		Action:  "現在のセッションを確認し、退勤打刻してから再度お試しください。",
	}
}

// NewNoOpenSessionError は退勤対象のセッションが存在しない場合のエラーを生成する。
func NewNoOpenSessionError() *APIError {
	return &APIError{
		Code:    ErrCodeNoOpenSession,
		Message: "出勤中のセッションがありません。",
		Kind:    KindNotFound,
		Action:  "先に出勤打刻を行ってください。",
	}
}

// NewSessionNotFoundError は勤怠セッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError(id int64) *APIError {
	return &APIError{
		Code:    ErrCodeSessionNotFound,
		Message: fmt.Sprintf("指定された勤怠セッションが見つかりません: %d", id),
		Kind:    KindNotFound,
		Action:  "セッションIDを確認してください。",
	}
}

// NewSessionOpenError は退勤前のセッションを承認しようとした場合のエラーを生成する。
func NewSessionOpenError(id int64) *APIError {
	return &APIError{
		Code:    ErrCodeSessionOpen,
		Message: fmt.Sprintf("勤怠セッションはまだ退勤打刻されていません: %d", id),
		Kind:    KindConflict,
		Action:  "退勤打刻後に承認してください。",
	}
}

// NewSessionAlreadyFinalizedError は承認済み・却下済みのセッションを再承認しようとした場合のエラーを生成する。
func NewSessionAlreadyFinalizedError(id int64, status ApprovalStatus) *APIError {
	return &APIError{
		Code:    ErrCodeSessionAlreadyFinalized,
		Message: fmt.Sprintf("勤怠セッションは既に%sです: %d", status, id),
		Kind:    KindConflict,
		Action:  "承認状態は一度だけ変更できます。",
	}
}

// NewTaskNotFoundError はタスクが見つからない場合のエラーを生成する。
func NewTaskNotFoundError(id int64) *APIError {
	return &APIError{
		Code:    ErrCodeTaskNotFound,
		Message: fmt.Sprintf("指定されたタスクが見つかりません: %d", id),
		Kind:    KindNotFound,
		Action:  "タスクIDを確認してください。",
	}
}

// NewTaskDescriptionRequiredError はタスク内容が空の場合のエラーを生成する。
func NewTaskDescriptionRequiredError() *APIError {
	return NewValidationError(ErrCodeTaskDescriptionRequired, "タスク内容を入力してください。")
}

// NewInvalidTaskStatusError は無効なタスクステータスのエラーを生成する。
func NewInvalidTaskStatusError(status string) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidTaskStatus,
		Message: fmt.Sprintf("無効なステータスです: %s", status),
		Kind:    KindValidation,
		Action:  "ステータスには JustAssigned、UnderProcess、Completed のいずれかを指定してください。",
	}
}

// NewInvalidDateRangeError は日付範囲の指定が不正な場合のエラーを生成する。
func NewInvalidDateRangeError(reason string) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidDateRange,
		Message: fmt.Sprintf("無効な日付です: %s", reason),
		Kind:    KindValidation,
		Action:  "日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewInvalidPaginationError はページネーション指定が不正な場合のエラーを生成する。
func NewInvalidPaginationError(reason string) *APIError {
	return NewValidationError(ErrCodeInvalidPagination, fmt.Sprintf("無効なページ指定です: %s", reason))
}

// NewDuplicateError は一意性制約違反を競合エラーとして生成する。
func NewDuplicateError(err error) *APIError {
	return &APIError{
		Code:    ErrCodeDuplicate,
		Message: "同時に行われた別の操作と競合しました。",
		Kind:    KindConflict,
		Action:  "最新の状態を確認してから再度お試しください。",
		Err:     err,
	}
}

// NewStoreUnavailableError はデータストア障害のエラーを生成する。
func NewStoreUnavailableError(err error) *APIError {
	return &APIError{
		Code:    ErrCodeStoreUnavailable,
		Message: "データストアに一時的に接続できません。",
		Kind:    KindStoreUnavailable,
		Action:  "しばらく待ってから再度お試しください。",
		Err:     err,
	}
}
