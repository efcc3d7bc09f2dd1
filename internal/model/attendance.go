package model

import "time"

// ApprovalStatus は勤怠セッションの承認状態を表す。
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// AttendanceSession は1回の出勤〜退勤を表す勤怠セッション。
// ユーザーごとにClockOutAtがnilの行は高々1件。
type AttendanceSession struct {
	ID              int64
	UserID          int64
	SessionDate     time.Time // 論理的な勤務日（UTC 0時で表現した暦日）
	ClockInAt       time.Time
	ClockOutAt      *time.Time
	DurationSeconds int64
	Location        string
	Note            string
	Status          ApprovalStatus
	ApprovedBy      *int64
	ApprovedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsOpen は退勤打刻前かどうかを返す。
func (s *AttendanceSession) IsOpen() bool {
	return s.ClockOutAt == nil
}

// IsFinalized は承認または却下済みかどうかを返す。
func (s *AttendanceSession) IsFinalized() bool {
	return s.Status == ApprovalApproved || s.Status == ApprovalRejected
}

// SessionFilter は勤怠セッション一覧の検索条件。
type SessionFilter struct {
	UserID *int64
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// AttendanceAggregate は1クエリで集計した勤怠の生データ。
type AttendanceAggregate struct {
	TotalSeconds     int64 // 退勤済みセッションの合計秒数
	DaysPresent      int   // 行が存在する勤務日の種類数
	PendingApprovals int
}

// AttendanceStats は期間内の勤怠統計。
type AttendanceStats struct {
	UserID           int64
	From             time.Time
	To               time.Time
	TotalSeconds     int64
	TotalHours       float64
	DaysPresent      int
	TotalDays        int
	PendingApprovals int
	AttendanceRate   int // パーセント（整数に丸め）
}
