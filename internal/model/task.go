package model

import (
	"strings"
	"time"
)

// TaskStatus は日次タスクの進捗状態を表す。
type TaskStatus string

const (
	TaskJustAssigned TaskStatus = "JustAssigned"
	TaskUnderProcess TaskStatus = "UnderProcess"
	TaskCompleted    TaskStatus = "Completed"
)

var taskStatuses = []TaskStatus{TaskJustAssigned, TaskUnderProcess, TaskCompleted}

// ParseTaskStatus は文字列をTaskStatusに変換する。大文字小文字は区別しない。
func ParseTaskStatus(s string) (TaskStatus, bool) {
	s = strings.TrimSpace(s)
	for _, st := range taskStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// NormalizeTaskStatus は無効・未指定のステータスをJustAssignedに丸める。
// 日次タスクの保存は常に成功させるため、エラーにはしない。
func NormalizeTaskStatus(s string) TaskStatus {
	if st, ok := ParseTaskStatus(s); ok {
		return st
	}
	return TaskJustAssigned
}

// TaskEntry はユーザーの1日分のタスク記録。
// (UserID, TaskDate) は一意。
type TaskEntry struct {
	ID          int64
	UserID      int64
	TaskDate    time.Time
	Description string
	Status      TaskStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskEditRecord はタスク編集の不変な履歴レコード。
// 内容またはステータスが実際に変わった場合のみ作成される。
type TaskEditRecord struct {
	ID             int64
	TaskID         int64
	OldDescription string
	NewDescription string
	OldStatus      TaskStatus
	NewStatus      TaskStatus
	EditedBy       *int64 // 編集者のユーザー行が削除された場合はnil
	EditedAt       time.Time
}

// TaskFilter はタスク一覧の検索条件。
type TaskFilter struct {
	UserID *int64
	Status *TaskStatus
	Search string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
