package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	// defaultTxAttempts はシリアライズ失敗・デッドロック時のトランザクション最大試行回数。
	defaultTxAttempts = 3
	// initialTxBackoff は再実行前の初回待機時間。試行ごとに2倍にする。
	initialTxBackoff = 10 * time.Millisecond
	// maxTxBackoff は再実行前の待機時間の上限。
	maxTxBackoff = 200 * time.Millisecond
)

// TxRunner はトランザクションの開始・コミット・ロールバックを一箇所にまとめる。
// シリアライズ失敗とデッドロックに限り、関数全体をバックオフ付きで再実行する。
// 接続障害はコミット済みかどうか判別できないため再実行しない。
type TxRunner struct {
	db          TxBeginner
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewTxRunner はTxRunnerを生成する。
func NewTxRunner(db TxBeginner) *TxRunner {
	return &TxRunner{
		db:          db,
		maxAttempts: defaultTxAttempts,
		sleep:       sleepContext,
	}
}

// Run はfnをREAD COMMITTEDのトランザクション内で実行する。
func (r *TxRunner) Run(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil || !shouldRetryTx(err) {
			break
		}
		if attempt+1 >= r.maxAttempts {
			break
		}

		delay := calculateTxBackoff(attempt)
		slog.Warn("transaction conflict, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return translateError(op, sleepErr)
		}
	}
	return translateError(op, err)
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// shouldRetryTx はトランザクション全体の再実行で解消しうるエラーかどうかを返す。
func shouldRetryTx(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && isRetryableTxConflict(pqErr)
}

// calculateTxBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// 初回10ms、2倍ずつ増加、最大200ms。
func calculateTxBackoff(attempt int) time.Duration {
	delay := initialTxBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxTxBackoff {
			return maxTxBackoff
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
