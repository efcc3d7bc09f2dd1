// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/dealerdesk/internal/model"
)

// UserRepository はユーザーデータの参照インターフェース。
// ユーザー行のライフサイクルはIdentity Provider側が管理するため参照のみ。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// AttendanceRepository は勤怠セッションの永続化インターフェース。
type AttendanceRepository interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックする。
	WithinTx(ctx context.Context, fn func(tx AttendanceTx) error) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.AttendanceSession, error)

	// FindOpenByUser はユーザーの出勤中セッションを取得する。
	// 複数存在する場合はclock_in_atが最新のものを返す。見つからない場合はnilを返す。
	FindOpenByUser(ctx context.Context, userID int64) (*model.AttendanceSession, error)

	// List はセッション一覧をcreated_at降順で返す。
	// filter.Limit件をそのまま取得する（件数の上限はサービス層で制御する）。
	List(ctx context.Context, filter model.SessionFilter) ([]*model.AttendanceSession, error)

	// Aggregate は期間内の合計勤務秒数・出勤日数・承認待ち件数を1クエリで集計する。
	Aggregate(ctx context.Context, userID int64, from, to time.Time) (*model.AttendanceAggregate, error)
}

// AttendanceTx はトランザクション内で使用する勤怠セッション操作。
// ...ForUpdate系のメソッドは対象行をトランザクション終了まで行ロックする。
type AttendanceTx interface {
	// FindOpenForUpdate はユーザーの出勤中セッション（clock_in_atが最新のもの）をロックして取得する。
	FindOpenForUpdate(ctx context.Context, userID int64) (*model.AttendanceSession, error)

	// FindByIDForUpdate は指定IDのセッションをロックして取得する。
	FindByIDForUpdate(ctx context.Context, id int64) (*model.AttendanceSession, error)

	// Insert は新しいセッションを作成し、採番されたIDをsに設定する。
	// 出勤中セッションの部分一意インデックスに違反した場合は競合エラーを返す。
	Insert(ctx context.Context, s *model.AttendanceSession) error

	// Close は退勤情報（clock_out_at、duration_seconds、location、note）を更新する。
	Close(ctx context.Context, s *model.AttendanceSession) error

	// SetApproval は承認情報（status、approved_by、approved_at、note）を更新する。
	SetApproval(ctx context.Context, s *model.AttendanceSession) error
}

// TaskRepository は日次タスクと編集履歴の永続化インターフェース。
type TaskRepository interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	WithinTx(ctx context.Context, fn func(tx TaskTx) error) error

	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.TaskEntry, error)

	// FindByUserAndDate はユーザーと日付でタスクを取得する。見つからない場合はnilを返す。
	FindByUserAndDate(ctx context.Context, userID int64, date time.Time) (*model.TaskEntry, error)

	// List はタスク一覧をtask_date降順、updated_at降順で返す。
	List(ctx context.Context, filter model.TaskFilter) ([]*model.TaskEntry, error)

	// ListEdits はタスクの編集履歴を新しい順で返す。
	ListEdits(ctx context.Context, taskID int64) ([]*model.TaskEditRecord, error)
}

// TaskTx はトランザクション内で使用するタスク操作。
type TaskTx interface {
	// FindByUserAndDateForUpdate はユーザーと日付でタスクをロックして取得する。
	FindByUserAndDateForUpdate(ctx context.Context, userID int64, date time.Time) (*model.TaskEntry, error)

	// FindByIDForUpdate は指定IDのタスクをロックして取得する。
	FindByIDForUpdate(ctx context.Context, id int64) (*model.TaskEntry, error)

	// InsertIfAbsent は(user_id, task_date)が未登録の場合のみタスクを作成する。
	// 作成した場合はtrueを返し、IDをtに設定する。
	// 同時実行された別トランザクションが先に作成していた場合はfalseを返す。
	InsertIfAbsent(ctx context.Context, t *model.TaskEntry) (bool, error)

	// InsertEdit は編集履歴を追記し、採番されたIDをeに設定する。
	InsertEdit(ctx context.Context, e *model.TaskEditRecord) error

	// UpdateContent はタスクのdescription、status、updated_atを更新する。
	UpdateContent(ctx context.Context, t *model.TaskEntry) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// queryer は*sql.DBと*sql.Txの共通部分。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
