package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/period"
)

const attendanceColumns = `id, user_id, session_date, clock_in_at, clock_out_at, duration_seconds,
	location, note, status, approved_by, approved_at, created_at, updated_at`

// PostgresAttendanceRepo はPostgreSQLを使用した勤怠セッションリポジトリ。
type PostgresAttendanceRepo struct {
	db *sql.DB
	tx *TxRunner
}

// NewPostgresAttendanceRepo はPostgresAttendanceRepoを生成する。
func NewPostgresAttendanceRepo(db *sql.DB) *PostgresAttendanceRepo {
	return &PostgresAttendanceRepo{db: db, tx: NewTxRunner(db)}
}

// WithinTx はfnを1つのトランザクション内で実行する。
func (r *PostgresAttendanceRepo) WithinTx(ctx context.Context, fn func(tx AttendanceTx) error) error {
	return r.tx.Run(ctx, "attendance tx", func(tx *sql.Tx) error {
		return fn(&postgresAttendanceTx{q: tx})
	})
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresAttendanceRepo) FindByID(ctx context.Context, id int64) (*model.AttendanceSession, error) {
	s, err := scanAttendance(r.db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_sessions WHERE id = $1`,
		id,
	))
	return s, translateError("failed to find attendance session", err)
}

// FindOpenByUser はユーザーの出勤中セッションを取得する。見つからない場合はnilを返す。
func (r *PostgresAttendanceRepo) FindOpenByUser(ctx context.Context, userID int64) (*model.AttendanceSession, error) {
	s, err := scanAttendance(r.db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+`
		 FROM attendance_sessions
		 WHERE user_id = $1 AND clock_out_at IS NULL
		 ORDER BY clock_in_at DESC, id DESC
		 LIMIT 1`,
		userID,
	))
	return s, translateError("failed to find open attendance session", err)
}

// List はセッション一覧をcreated_at降順で返す。
func (r *PostgresAttendanceRepo) List(ctx context.Context, filter model.SessionFilter) ([]*model.AttendanceSession, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.From != nil {
		add("session_date >= $%d::date", filter.From.Format(period.DateLayout))
	}
	if filter.To != nil {
		add("session_date <= $%d::date", filter.To.Format(period.DateLayout))
	}

	query := `SELECT ` + attendanceColumns + ` FROM attendance_sessions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError("failed to list attendance sessions", err)
	}
	defer rows.Close()

	var sessions []*model.AttendanceSession
	for rows.Next() {
		s, err := scanAttendance(rows)
		if err != nil {
			return nil, translateError("failed to scan attendance session", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("failed to iterate attendance sessions", err)
	}

	return sessions, nil
}

// Aggregate は期間内の合計勤務秒数・出勤日数・承認待ち件数を1クエリで集計する。
// 3つの値は同一スナップショットから算出される。
func (r *PostgresAttendanceRepo) Aggregate(ctx context.Context, userID int64, from, to time.Time) (*model.AttendanceAggregate, error) {
	agg := &model.AttendanceAggregate{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
		     COALESCE(SUM(duration_seconds) FILTER (WHERE clock_out_at IS NOT NULL), 0),
		     COUNT(DISTINCT session_date),
		     COUNT(*) FILTER (WHERE status = 'pending')
		 FROM attendance_sessions
		 WHERE user_id = $1 AND session_date BETWEEN $2::date AND $3::date`,
		userID, from.Format(period.DateLayout), to.Format(period.DateLayout),
	).Scan(&agg.TotalSeconds, &agg.DaysPresent, &agg.PendingApprovals)
	if err != nil {
		return nil, translateError("failed to aggregate attendance", err)
	}
	return agg, nil
}

// postgresAttendanceTx はトランザクション内の勤怠セッション操作。
type postgresAttendanceTx struct {
	q queryer
}

// FindOpenForUpdate は出勤中セッション（clock_in_atが最新のもの）をロックして取得する。
func (t *postgresAttendanceTx) FindOpenForUpdate(ctx context.Context, userID int64) (*model.AttendanceSession, error) {
	s, err := scanAttendance(t.q.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+`
		 FROM attendance_sessions
		 WHERE user_id = $1 AND clock_out_at IS NULL
		 ORDER BY clock_in_at DESC, id DESC
		 LIMIT 1
		 FOR UPDATE`,
		userID,
	))
	return s, translateError("failed to lock open attendance session", err)
}

// FindByIDForUpdate は指定IDのセッションをロックして取得する。
func (t *postgresAttendanceTx) FindByIDForUpdate(ctx context.Context, id int64) (*model.AttendanceSession, error) {
	s, err := scanAttendance(t.q.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_sessions WHERE id = $1 FOR UPDATE`,
		id,
	))
	return s, translateError("failed to lock attendance session", err)
}

// Insert は新しいセッションを作成する。
func (t *postgresAttendanceTx) Insert(ctx context.Context, s *model.AttendanceSession) error {
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO attendance_sessions
		     (user_id, session_date, clock_in_at, location, note, status, created_at, updated_at)
		 VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		s.UserID, s.SessionDate.Format(period.DateLayout), s.ClockInAt,
		s.Location, s.Note, s.Status, s.CreatedAt, s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		if isUniqueViolation(err) {
			alreadyIn := model.NewAlreadyClockedInError()
			alreadyIn.Err = err
			return alreadyIn
		}
		return translateError("failed to insert attendance session", err)
	}
	return nil
}

// Close は退勤情報を更新する。
func (t *postgresAttendanceTx) Close(ctx context.Context, s *model.AttendanceSession) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE attendance_sessions SET
		     clock_out_at = $2, duration_seconds = $3, location = $4, note = $5, updated_at = $6
		 WHERE id = $1`,
		s.ID, s.ClockOutAt, s.DurationSeconds, s.Location, s.Note, s.UpdatedAt,
	)
	return translateError("failed to close attendance session", err)
}

// SetApproval は承認情報を更新する。
func (t *postgresAttendanceTx) SetApproval(ctx context.Context, s *model.AttendanceSession) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE attendance_sessions SET
		     status = $2, approved_by = $3, approved_at = $4, note = $5, updated_at = $6
		 WHERE id = $1`,
		s.ID, s.Status, s.ApprovedBy, s.ApprovedAt, s.Note, s.UpdatedAt,
	)
	return translateError("failed to update attendance approval", err)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAttendance は1行を勤怠セッションに変換する。行が無い場合はnil, nilを返す。
func scanAttendance(row rowScanner) (*model.AttendanceSession, error) {
	s := &model.AttendanceSession{}
	var (
		clockOutAt sql.NullTime
		approvedBy sql.NullInt64
		approvedAt sql.NullTime
		status     string
	)

	err := row.Scan(
		&s.ID, &s.UserID, &s.SessionDate, &s.ClockInAt, &clockOutAt, &s.DurationSeconds,
		&s.Location, &s.Note, &status, &approvedBy, &approvedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.SessionDate = period.DateOf(s.SessionDate, time.UTC)
	s.Status = model.ApprovalStatus(status)
	if clockOutAt.Valid {
		s.ClockOutAt = &clockOutAt.Time
	}
	if approvedBy.Valid {
		s.ApprovedBy = &approvedBy.Int64
	}
	if approvedAt.Valid {
		s.ApprovedAt = &approvedAt.Time
	}

	return s, nil
}

// compile-time interface check
var (
	_ AttendanceRepository = (*PostgresAttendanceRepo)(nil)
	_ AttendanceTx         = (*postgresAttendanceTx)(nil)
)
