// Package model はドメインモデルを定義する。
package model

import "time"

// Role は呼び出し元の権限ロールを表す。
type Role string

const (
	// RoleAdmin は管理者ロール。勤怠承認と全タスクの編集ができる。
	RoleAdmin Role = "admin"
	// RoleEmployee は一般従業員ロール。
	RoleEmployee Role = "employee"
)

// Caller はIdentity Providerが解決したリクエストの呼び出し元を表す。
// すべてのドメイン操作は明示的な引数としてCallerを受け取る。
type Caller struct {
	UserID int64
	Role   Role
}

// IsAdmin は管理者権限を持つかどうかを返す。
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanAccess は指定ユーザーが所有するリソースにアクセスできるかを返す。
func (c Caller) CanAccess(ownerID int64) bool {
	return c.IsAdmin() || c.UserID == ownerID
}

// User はサービス利用ユーザーを表す。
// 行のライフサイクルはIdentity Provider側が管理する。
type User struct {
	ID        int64
	Email     string
	Name      string
	Role      Role
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
