package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/repository"
)

// fakeAttendanceRepo はテスト用のインメモリ勤怠リポジトリ。
// WithinTxはミューテックスで直列化し、fnがエラーを返した場合は変更を破棄する。
type fakeAttendanceRepo struct {
	mu       sync.Mutex
	sessions map[int64]*model.AttendanceSession
	nextID   int64

	txCalls        int
	aggregateCalls int
	lastFilter     model.SessionFilter
	err            error // 設定されている場合、全操作がこのエラーを返す
}

func newFakeAttendanceRepo() *fakeAttendanceRepo {
	return &fakeAttendanceRepo{sessions: map[int64]*model.AttendanceSession{}}
}

// seed はセッションを直接登録する。
func (r *fakeAttendanceRepo) seed(s *model.AttendanceSession) *model.AttendanceSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	r.sessions[s.ID] = cloneSession(s)
	return s
}

func (r *fakeAttendanceRepo) get(id int64) *model.AttendanceSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return cloneSession(s)
	}
	return nil
}

func (r *fakeAttendanceRepo) WithinTx(ctx context.Context, fn func(tx repository.AttendanceTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCalls++
	if r.err != nil {
		return r.err
	}

	tx := &fakeAttendanceTx{staged: map[int64]*model.AttendanceSession{}, nextID: r.nextID}
	for id, s := range r.sessions {
		tx.staged[id] = cloneSession(s)
	}
	if err := fn(tx); err != nil {
		return err
	}
	r.sessions = tx.staged
	r.nextID = tx.nextID
	return nil
}

func (r *fakeAttendanceRepo) FindByID(ctx context.Context, id int64) (*model.AttendanceSession, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.get(id), nil
}

func (r *fakeAttendanceRepo) FindOpenByUser(ctx context.Context, userID int64) (*model.AttendanceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return cloneSession(latestOpen(r.sessions, userID)), nil
}

func (r *fakeAttendanceRepo) List(ctx context.Context, filter model.SessionFilter) ([]*model.AttendanceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = filter
	if r.err != nil {
		return nil, r.err
	}

	var matched []*model.AttendanceSession
	for _, s := range r.sessions {
		if filter.UserID != nil && s.UserID != *filter.UserID {
			continue
		}
		if filter.From != nil && s.SessionDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && s.SessionDate.After(*filter.To) {
			continue
		}
		matched = append(matched, cloneSession(s))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *fakeAttendanceRepo) Aggregate(ctx context.Context, userID int64, from, to time.Time) (*model.AttendanceAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggregateCalls++
	if r.err != nil {
		return nil, r.err
	}

	agg := &model.AttendanceAggregate{}
	days := map[time.Time]bool{}
	for _, s := range r.sessions {
		if s.UserID != userID || s.SessionDate.Before(from) || s.SessionDate.After(to) {
			continue
		}
		days[s.SessionDate] = true
		if !s.IsOpen() {
			agg.TotalSeconds += s.DurationSeconds
		}
		if s.Status == model.ApprovalPending {
			agg.PendingApprovals++
		}
	}
	agg.DaysPresent = len(days)
	return agg, nil
}

type fakeAttendanceTx struct {
	staged map[int64]*model.AttendanceSession
	nextID int64
}

func (t *fakeAttendanceTx) FindOpenForUpdate(ctx context.Context, userID int64) (*model.AttendanceSession, error) {
	return cloneSession(latestOpen(t.staged, userID)), nil
}

func (t *fakeAttendanceTx) FindByIDForUpdate(ctx context.Context, id int64) (*model.AttendanceSession, error) {
	return cloneSession(t.staged[id]), nil
}

func (t *fakeAttendanceTx) Insert(ctx context.Context, s *model.AttendanceSession) error {
	// 部分一意インデックス相当
	if latestOpen(t.staged, s.UserID) != nil && s.IsOpen() {
		return model.NewAlreadyClockedInError()
	}
	t.nextID++
	s.ID = t.nextID
	t.staged[s.ID] = cloneSession(s)
	return nil
}

func (t *fakeAttendanceTx) Close(ctx context.Context, s *model.AttendanceSession) error {
	t.staged[s.ID] = cloneSession(s)
	return nil
}

func (t *fakeAttendanceTx) SetApproval(ctx context.Context, s *model.AttendanceSession) error {
	t.staged[s.ID] = cloneSession(s)
	return nil
}

func latestOpen(sessions map[int64]*model.AttendanceSession, userID int64) *model.AttendanceSession {
	var latest *model.AttendanceSession
	for _, s := range sessions {
		if s.UserID != userID || !s.IsOpen() {
			continue
		}
		if latest == nil || s.ClockInAt.After(latest.ClockInAt) ||
			(s.ClockInAt.Equal(latest.ClockInAt) && s.ID > latest.ID) {
			latest = s
		}
	}
	return latest
}

func cloneSession(s *model.AttendanceSession) *model.AttendanceSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.ClockOutAt != nil {
		v := *s.ClockOutAt
		c.ClockOutAt = &v
	}
	if s.ApprovedBy != nil {
		v := *s.ApprovedBy
		c.ApprovedBy = &v
	}
	if s.ApprovedAt != nil {
		v := *s.ApprovedAt
		c.ApprovedAt = &v
	}
	return &c
}

// recordingMetrics はテスト用のRecorder。
type recordingMetrics struct {
	mu          sync.Mutex
	clockIns    int
	clockOuts   int
	approvals   map[bool]int
	conflicts   map[string]int
	storeErrors map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		approvals:   map[bool]int{},
		conflicts:   map[string]int{},
		storeErrors: map[string]int{},
	}
}

func (m *recordingMetrics) RecordClockIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clockIns++
}

func (m *recordingMetrics) RecordClockOut(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clockOuts++
}

func (m *recordingMetrics) RecordApproval(approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[approved]++
}

func (m *recordingMetrics) RecordTaskSubmission(string) {}
func (m *recordingMetrics) RecordTaskEdit() {}

func (m *recordingMetrics) RecordConflict(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[op]++
}

func (m *recordingMetrics) RecordStoreError(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeErrors[op]++
}
