package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/hitoshi/dealerdesk/internal/model"
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation      = pq.ErrorCode("23505")
	pqForeignKeyViolation  = pq.ErrorCode("23503")
	pqSerializationFailure = pq.ErrorCode("40001")
	pqDeadlockDetected     = pq.ErrorCode("40P01")

	pqClassConnection           = pq.ErrorClass("08")
	pqClassInsufficientRes      = pq.ErrorClass("53")
	pqClassOperatorIntervention = pq.ErrorClass("57")
)

// translateError はドライバのエラーをドメインのエラー種別に変換する。
// 一意性制約違反は競合、接続系の障害はStoreUnavailableとし、
// それ以外はopを付けてラップしたまま返す。
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}

	wrapped := fmt.Errorf("%s: %w", op, err)

	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewStoreUnavailableError(wrapped)
	}
	if errors.Is(err, context.Canceled) {
		return wrapped
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqUniqueViolation:
			return model.NewDuplicateError(wrapped)
		case pqErr.Code == pqForeignKeyViolation:
			notFound := model.NewUserNotFoundError()
			notFound.Err = wrapped
			return notFound
		case isTransientPQError(pqErr):
			return model.NewStoreUnavailableError(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return model.NewStoreUnavailableError(wrapped)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.NewStoreUnavailableError(wrapped)
	}

	return wrapped
}

// isTransientPQError は時間をおけば成功しうるPostgreSQLエラーかどうかを返す。
func isTransientPQError(pqErr *pq.Error) bool {
	if isRetryableTxConflict(pqErr) {
		return true
	}
	switch pqErr.Code.Class() {
	case pqClassConnection, pqClassInsufficientRes, pqClassOperatorIntervention:
		return true
	}
	return false
}

// isRetryableTxConflict はトランザクション全体を再実行すれば解消する競合かどうかを返す。
func isRetryableTxConflict(pqErr *pq.Error) bool {
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

// isUniqueViolation はerrが一意性制約違反かどうかを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
