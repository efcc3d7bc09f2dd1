package tasklog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/repository"
)

// fakeTaskRepo はテスト用のインメモリタスクリポジトリ。
// WithinTxはミューテックスで直列化し、fnがエラーを返した場合は変更を破棄する。
type fakeTaskRepo struct {
	mu         sync.Mutex
	tasks      map[int64]*model.TaskEntry
	edits      []*model.TaskEditRecord
	nextID     int64
	nextEditID int64

	txCalls    int
	lastFilter model.TaskFilter
	// staleLookups が正の間、FindByUserAndDateForUpdateは行が無いものとして振る舞う。
	// 同時提出で挿入競合に負けたトランザクションを再現する。
	staleLookups int
	err          error // 設定されている場合、全操作がこのエラーを返す
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[int64]*model.TaskEntry{}}
}

// seed はタスクを直接登録する。
func (r *fakeTaskRepo) seed(t *model.TaskEntry) *model.TaskEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	r.tasks[t.ID] = cloneTask(t)
	return t
}

func (r *fakeTaskRepo) get(id int64) *model.TaskEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneTask(r.tasks[id])
}

func (r *fakeTaskRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *fakeTaskRepo) editCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.edits)
}

func (r *fakeTaskRepo) WithinTx(ctx context.Context, fn func(tx repository.TaskTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCalls++
	if r.err != nil {
		return r.err
	}

	tx := &fakeTaskTx{
		repo:       r,
		staged:     map[int64]*model.TaskEntry{},
		nextID:     r.nextID,
		nextEditID: r.nextEditID,
	}
	for id, t := range r.tasks {
		tx.staged[id] = cloneTask(t)
	}
	if err := fn(tx); err != nil {
		return err
	}
	r.tasks = tx.staged
	r.edits = append(r.edits, tx.edits...)
	r.nextID = tx.nextID
	r.nextEditID = tx.nextEditID
	return nil
}

func (r *fakeTaskRepo) FindByID(ctx context.Context, id int64) (*model.TaskEntry, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.get(id), nil
}

func (r *fakeTaskRepo) FindByUserAndDate(ctx context.Context, userID int64, date time.Time) (*model.TaskEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return cloneTask(findByUserAndDate(r.tasks, userID, date)), nil
}

func (r *fakeTaskRepo) List(ctx context.Context, filter model.TaskFilter) ([]*model.TaskEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = filter
	if r.err != nil {
		return nil, r.err
	}

	var matched []*model.TaskEntry
	for _, t := range r.tasks {
		if filter.UserID != nil && t.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(t.Description), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.From != nil && t.TaskDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && t.TaskDate.After(*filter.To) {
			continue
		}
		matched = append(matched, cloneTask(t))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].TaskDate.Equal(matched[j].TaskDate) {
			return matched[i].TaskDate.After(matched[j].TaskDate)
		}
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
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

func (r *fakeTaskRepo) ListEdits(ctx context.Context, taskID int64) ([]*model.TaskEditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}

	edits := []*model.TaskEditRecord{}
	for _, e := range r.edits {
		if e.TaskID == taskID {
			c := *e
			edits = append(edits, &c)
		}
	}
	sort.Slice(edits, func(i, j int) bool {
		if !edits[i].EditedAt.Equal(edits[j].EditedAt) {
			return edits[i].EditedAt.After(edits[j].EditedAt)
		}
		return edits[i].ID > edits[j].ID
	})
	return edits, nil
}

type fakeTaskTx struct {
	repo       *fakeTaskRepo
	staged     map[int64]*model.TaskEntry
	edits      []*model.TaskEditRecord
	nextID     int64
	nextEditID int64
}

func (t *fakeTaskTx) FindByUserAndDateForUpdate(ctx context.Context, userID int64, date time.Time) (*model.TaskEntry, error) {
	if t.repo.staleLookups > 0 {
		t.repo.staleLookups--
		return nil, nil
	}
	return cloneTask(findByUserAndDate(t.staged, userID, date)), nil
}

func (t *fakeTaskTx) FindByIDForUpdate(ctx context.Context, id int64) (*model.TaskEntry, error) {
	return cloneTask(t.staged[id]), nil
}

func (t *fakeTaskTx) InsertIfAbsent(ctx context.Context, task *model.TaskEntry) (bool, error) {
	// UNIQUE(user_id, task_date) 相当
	if findByUserAndDate(t.staged, task.UserID, task.TaskDate) != nil {
		return false, nil
	}
	t.nextID++
	task.ID = t.nextID
	t.staged[task.ID] = cloneTask(task)
	return true, nil
}

func (t *fakeTaskTx) InsertEdit(ctx context.Context, e *model.TaskEditRecord) error {
	t.nextEditID++
	e.ID = t.nextEditID
	c := *e
	t.edits = append(t.edits, &c)
	return nil
}

func (t *fakeTaskTx) UpdateContent(ctx context.Context, task *model.TaskEntry) error {
	cur, ok := t.staged[task.ID]
	if !ok {
		return nil
	}
	cur.Description = task.Description
	cur.Status = task.Status
	cur.UpdatedAt = task.UpdatedAt
	return nil
}

func findByUserAndDate(tasks map[int64]*model.TaskEntry, userID int64, date time.Time) *model.TaskEntry {
	for _, t := range tasks {
		if t.UserID == userID && t.TaskDate.Equal(date) {
			return t
		}
	}
	return nil
}

func cloneTask(t *model.TaskEntry) *model.TaskEntry {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// recordingMetrics はテスト用のRecorder。
type recordingMetrics struct {
	mu          sync.Mutex
	submissions map[string]int
	edits       int
	conflicts   map[string]int
	storeErrors map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		submissions: map[string]int{},
		conflicts:   map[string]int{},
		storeErrors: map[string]int{},
	}
}

func (m *recordingMetrics) RecordClockIn() {}
func (m *recordingMetrics) RecordClockOut(time.Duration) {}
func (m *recordingMetrics) RecordApproval(bool) {}

func (m *recordingMetrics) RecordTaskSubmission(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[outcome]++
}

func (m *recordingMetrics) RecordTaskEdit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits++
}

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
