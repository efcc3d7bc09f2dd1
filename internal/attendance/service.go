// Package attendance は出退勤打刻・承認・勤怠統計のドメインロジックを提供する。
package attendance

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/dealerdesk/internal/metrics"
	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/period"
	"github.com/hitoshi/dealerdesk/internal/repository"
	"github.com/hitoshi/dealerdesk/internal/security"
)

// メトリクス・ログ用の操作名
const (
	opClockIn  = "clock_in"
	opClockOut = "clock_out"
	opApprove  = "approve_session"
	opList     = "list_sessions"
	opStats    = "attendance_stats"
)

// Config は勤怠サービスの設定。
type Config struct {
	// Location は「今日」を決める業務タイムゾーン。nilの場合はUTC。
	Location *time.Location
	Page     model.PageLimits
	// Now はテスト用の現在時刻関数。nilの場合はtime.Now。
	Now func() time.Time
}

// ClockInput は出勤・退勤打刻の任意入力。
type ClockInput struct {
	Location string
	Note     string
}

// SessionPage は勤怠セッション一覧の1ページ分。
type SessionPage struct {
	Sessions []*model.AttendanceSession
	Limit    int
	Offset   int
	HasMore  bool
}

// Service は勤怠管理のサービス層。
type Service struct {
	repo      repository.AttendanceRepository
	sanitizer security.TextSanitizer
	metrics   metrics.Recorder
	loc       *time.Location
	page      model.PageLimits
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.AttendanceRepository,
	sanitizer security.TextSanitizer,
	rec metrics.Recorder,
	cfg Config,
) *Service {
	s := &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   rec,
		loc:       cfg.Location,
		page:      cfg.Page,
		now:       cfg.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = metrics.NopRecorder{}
	}
	return s
}

// ClockIn は出勤打刻を行い、新しいセッションを返す。
// 出勤中セッションが既にある場合は競合エラーを返す。
// 同時に実行された出勤打刻は部分一意インデックスで1件だけが成功する。
func (s *Service) ClockIn(ctx context.Context, caller model.Caller, in ClockInput) (*model.AttendanceSession, error) {
	location, note, err := s.cleanClockInput(in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &model.AttendanceSession{
		UserID:      caller.UserID,
		SessionDate: period.DateOf(now, s.loc),
		ClockInAt:   now,
		Location:    location,
		Note:        note,
		Status:      model.ApprovalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.repo.WithinTx(ctx, func(tx repository.AttendanceTx) error {
		open, err := tx.FindOpenForUpdate(ctx, caller.UserID)
		if err != nil {
			return err
		}
		if open != nil {
			return model.NewAlreadyClockedInError()
		}
		return tx.Insert(ctx, session)
	})
	if err != nil {
		return nil, s.fail(ctx, opClockIn, caller, err)
	}

	s.metrics.RecordClockIn()
	slog.InfoContext(ctx, "clocked in",
		slog.Int64("user_id", caller.UserID),
		slog.Int64("session_id", session.ID),
		slog.String("session_date", session.SessionDate.Format(period.DateLayout)),
	)
	return session, nil
}

// ClockOut は出勤中セッション（複数ある場合は最新のもの）を退勤済みにする。
// 勤務時間は秒単位で切り捨て、時計の巻き戻りで負になる場合は0とする。
// 勤務場所とメモは空でない値が指定された場合のみ上書きする。
func (s *Service) ClockOut(ctx context.Context, caller model.Caller, in ClockInput) (*model.AttendanceSession, error) {
	location, note, err := s.cleanClockInput(in)
	if err != nil {
		return nil, err
	}

	var closed *model.AttendanceSession
	err = s.repo.WithinTx(ctx, func(tx repository.AttendanceTx) error {
		open, err := tx.FindOpenForUpdate(ctx, caller.UserID)
		if err != nil {
			return err
		}
		if open == nil {
			return model.NewNoOpenSessionError()
		}

		now := s.now().UTC()
		clockOut := now
		if clockOut.Before(open.ClockInAt) {
			clockOut = open.ClockInAt
		}
		open.ClockOutAt = &clockOut
		open.DurationSeconds = period.ElapsedSeconds(open.ClockInAt, clockOut)
		if location != "" {
			open.Location = location
		}
		if note != "" {
			open.Note = note
		}
		open.UpdatedAt = now

		if err := tx.Close(ctx, open); err != nil {
			return err
		}
		closed = open
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, opClockOut, caller, err)
	}

	s.metrics.RecordClockOut(time.Duration(closed.DurationSeconds) * time.Second)
	slog.InfoContext(ctx, "clocked out",
		slog.Int64("user_id", caller.UserID),
		slog.Int64("session_id", closed.ID),
		slog.Int64("duration_seconds", closed.DurationSeconds),
	)
	return closed, nil
}

func (s *Service) cleanClockInput(in ClockInput) (location, note string, err error) {
	if location, err = s.sanitizer.Clean("location", in.Location); err != nil {
		return "", "", err
	}
	if note, err = s.sanitizer.Clean("note", in.Note); err != nil {
		return "", "", err
	}
	return location, note, nil
}

// CurrentSession は呼び出し元の出勤中セッションを返す。存在しない場合はnil。
func (s *Service) CurrentSession(ctx context.Context, caller model.Caller) (*model.AttendanceSession, error) {
	return s.repo.FindOpenByUser(ctx, caller.UserID)
}

// ListSessions は勤怠セッション一覧を作成日時の降順で返す。
// 管理者以外は自分のセッションのみ参照でき、他ユーザーを指定した場合は権限エラーとなる。
func (s *Service) ListSessions(ctx context.Context, caller model.Caller, filter model.SessionFilter) (*SessionPage, error) {
	if !caller.IsAdmin() {
		if filter.UserID != nil && *filter.UserID != caller.UserID {
			return nil, model.NewForbiddenError()
		}
		own := caller.UserID
		filter.UserID = &own
	}

	limit, offset, err := s.page.Normalize(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}

	// 次ページの有無を判定するため1件多く取得する
	filter.Limit = limit + 1
	filter.Offset = offset
	sessions, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, s.fail(ctx, opList, caller, err)
	}

	page := &SessionPage{Limit: limit, Offset: offset}
	if len(sessions) > limit {
		page.HasMore = true
		sessions = sessions[:limit]
	}
	if sessions == nil {
		sessions = []*model.AttendanceSession{}
	}
	page.Sessions = sessions
	return page, nil
}

// GetSession は指定IDのセッションを返す。本人または管理者のみ参照できる。
// 他人のセッションは存在有無を明かさないよう、存在しない場合と同じエラーを返す。
func (s *Service) GetSession(ctx context.Context, caller model.Caller, id int64) (*model.AttendanceSession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil || !caller.CanAccess(session.UserID) {
		return nil, model.NewSessionNotFoundError(id)
	}
	return session, nil
}

// Approve は退勤済みかつ承認待ちのセッションを承認または却下する。
// 管理者以外は権限エラー。承認・却下済みのセッションは再変更できない。
// 却下時のメモは既存のメモが空の場合のみ設定する。
func (s *Service) Approve(ctx context.Context, caller model.Caller, id int64, approve bool, note string) (*model.AttendanceSession, error) {
	if !caller.IsAdmin() {
		return nil, model.NewForbiddenError()
	}
	note, err := s.sanitizer.Clean("note", note)
	if err != nil {
		return nil, err
	}

	var updated *model.AttendanceSession
	err = s.repo.WithinTx(ctx, func(tx repository.AttendanceTx) error {
		session, err := tx.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if session == nil {
			return model.NewSessionNotFoundError(id)
		}
		if session.IsOpen() {
			return model.NewSessionOpenError(id)
		}
		if session.IsFinalized() {
			return model.NewSessionAlreadyFinalizedError(id, session.Status)
		}

		now := s.now().UTC()
		approver := caller.UserID
		session.Status = model.ApprovalRejected
		if approve {
			session.Status = model.ApprovalApproved
		}
		session.ApprovedBy = &approver
		session.ApprovedAt = &now
		if !approve && session.Note == "" && note != "" {
			session.Note = note
		}
		session.UpdatedAt = now

		if err := tx.SetApproval(ctx, session); err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, opApprove, caller, err)
	}

	s.metrics.RecordApproval(approve)
	slog.InfoContext(ctx, "attendance session reviewed",
		slog.Int64("session_id", updated.ID),
		slog.Int64("owner_id", updated.UserID),
		slog.Int64("approver_id", caller.UserID),
		slog.String("status", string(updated.Status)),
	)
	return updated, nil
}

// Stats は期間内の勤怠統計を返す。
// 期間未指定の場合は業務タイムゾーンでの今月（初日〜末日）を対象とする。
// 逆転した期間は日数0として扱い、出勤率は0になる。
func (s *Service) Stats(ctx context.Context, caller model.Caller, userID *int64, rng *period.Range) (*model.AttendanceStats, error) {
	target := caller.UserID
	if userID != nil {
		if !caller.CanAccess(*userID) {
			return nil, model.NewForbiddenError()
		}
		target = *userID
	}

	r := s.CurrentMonth()
	if rng != nil {
		r = *rng
	}

	stats := &model.AttendanceStats{
		UserID:    target,
		From:      r.From,
		To:        r.To,
		TotalDays: r.Days(),
	}
	if stats.TotalDays == 0 {
		return stats, nil
	}

	agg, err := s.repo.Aggregate(ctx, target, r.From, r.To)
	if err != nil {
		return nil, s.fail(ctx, opStats, caller, err)
	}

	stats.TotalSeconds = agg.TotalSeconds
	stats.TotalHours = period.Hours(agg.TotalSeconds)
	stats.DaysPresent = agg.DaysPresent
	stats.PendingApprovals = agg.PendingApprovals
	stats.AttendanceRate = period.Percent(agg.DaysPresent, stats.TotalDays)
	return stats, nil
}

// CurrentMonth は業務タイムゾーンでの今月（初日〜末日）を返す。
func (s *Service) CurrentMonth() period.Range {
	return period.MonthOf(period.DateOf(s.now(), s.loc))
}

// fail は失敗をメトリクスとログに記録してerrをそのまま返す。
func (s *Service) fail(ctx context.Context, op string, caller model.Caller, err error) error {
	switch model.KindOf(err) {
	case model.KindConflict:
		s.metrics.RecordConflict(op)
		slog.InfoContext(ctx, "attendance conflict",
			slog.String("op", op),
			slog.Int64("user_id", caller.UserID),
			slog.String("error", err.Error()),
		)
	case model.KindStoreUnavailable:
		s.metrics.RecordStoreError(op)
		slog.ErrorContext(ctx, "attendance store unavailable",
			slog.String("op", op),
			slog.Int64("user_id", caller.UserID),
			slog.String("error", err.Error()),
		)
	}
	return err
}
