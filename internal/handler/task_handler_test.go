package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/period"
	"github.com/hitoshi/dealerdesk/internal/tasklog"
)

// --- モック定義 ---

// mockTaskService はTaskServiceInterfaceのモック実装。
type mockTaskService struct {
	getTodayFn func(ctx context.Context, caller model.Caller) (*model.TaskEntry, error)
	submitFn   func(ctx context.Context, caller model.Caller, description, status string) (*tasklog.SaveResult, error)
	updateFn   func(ctx context.Context, caller model.Caller, id int64, in tasklog.UpdateInput) (*tasklog.SaveResult, error)
	getFn      func(ctx context.Context, caller model.Caller, id int64) (*model.TaskEntry, error)
	listFn     func(ctx context.Context, caller model.Caller, in tasklog.ListInput) (*tasklog.TaskPage, error)
	historyFn  func(ctx context.Context, caller model.Caller, id int64) ([]*model.TaskEditRecord, error)
}

func (m *mockTaskService) GetToday(ctx context.Context, caller model.Caller) (*model.TaskEntry, error) {
	if m.getTodayFn != nil {
		return m.getTodayFn(ctx, caller)
	}
	return nil, nil
}

func (m *mockTaskService) Submit(ctx context.Context, caller model.Caller, description, status string) (*tasklog.SaveResult, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, caller, description, status)
	}
	return nil, nil
}

func (m *mockTaskService) Update(ctx context.Context, caller model.Caller, id int64, in tasklog.UpdateInput) (*tasklog.SaveResult, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, caller, id, in)
	}
	return nil, nil
}

func (m *mockTaskService) Get(ctx context.Context, caller model.Caller, id int64) (*model.TaskEntry, error) {
	if m.getFn != nil {
		return m.getFn(ctx, caller, id)
	}
	return nil, nil
}

func (m *mockTaskService) List(ctx context.Context, caller model.Caller, in tasklog.ListInput) (*tasklog.TaskPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, caller, in)
	}
	return &tasklog.TaskPage{Tasks: []*model.TaskEntry{}}, nil
}

func (m *mockTaskService) History(ctx context.Context, caller model.Caller, id int64) ([]*model.TaskEditRecord, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, caller, id)
	}
	return []*model.TaskEditRecord{}, nil
}

func sampleTask() *model.TaskEntry {
	ts := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	return &model.TaskEntry{
		ID:          21,
		UserID:      7,
		TaskDate:    time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Description: "Follow up with 3 leads",
		Status:      model.TaskUnderProcess,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

// --- GET /api/tasks/today テスト ---

func TestTaskHandler_GetTodayTask(t *testing.T) {
	t.Run("none_returns_null", func(t *testing.T) {
		h := NewTaskHandler(&mockTaskService{})

		req := withCaller(httptest.NewRequest(http.MethodGet, "/api/tasks/today", nil), employee7)
		w := httptest.NewRecorder()
		h.GetTodayTask(w, req)

		assertStatus(t, w, http.StatusOK)
		body := decodeBody(t, w)
		if v, ok := body["task"]; !ok || v != nil {
			t.Errorf("task = %v (present=%v), want explicit null", v, ok)
		}
	})

	t.Run("existing", func(t *testing.T) {
		svc := &mockTaskService{
			getTodayFn: func(ctx context.Context, caller model.Caller) (*model.TaskEntry, error) {
				return sampleTask(), nil
			},
		}
		h := NewTaskHandler(svc)

		req := withCaller(httptest.NewRequest(http.MethodGet, "/api/tasks/today", nil), employee7)
		w := httptest.NewRecorder()
		h.GetTodayTask(w, req)

		assertStatus(t, w, http.StatusOK)
		task, ok := decodeBody(t, w)["task"].(map[string]any)
		if !ok {
			t.Fatal("task is not an object")
		}
		if task["task_date"] != "2024-03-04" || task["status"] != "UnderProcess" {
			t.Errorf("task = %v", task)
		}
	})
}

// --- PUT /api/tasks/today テスト ---

func TestTaskHandler_SubmitTodayTask_CreatedReturns201(t *testing.T) {
	svc := &mockTaskService{
		submitFn: func(ctx context.Context, caller model.Caller, description, status string) (*tasklog.SaveResult, error) {
			if description != "Follow up with 3 leads" || status != "underprocess" {
				t.Errorf("Submit(%q, %q)", description, status)
			}
			return &tasklog.SaveResult{Task: sampleTask(), Created: true}, nil
		},
	}
	h := NewTaskHandler(svc)

	req := withCaller(newJSONRequest(http.MethodPut, "/api/tasks/today",
		`{"description":"Follow up with 3 leads","status":"underprocess"}`), employee7)
	w := httptest.NewRecorder()
	h.SubmitTodayTask(w, req)

	assertStatus(t, w, http.StatusCreated)
	body := decodeBody(t, w)
	if body["created"] != true || body["updated"] != false {
		t.Errorf("created/updated = %v/%v, want true/false", body["created"], body["updated"])
	}
	if _, ok := body["edit"]; ok {
		t.Error("edit should be omitted on create")
	}
}

func TestTaskHandler_SubmitTodayTask_UpdatedReturns200WithEdit(t *testing.T) {
	svc := &mockTaskService{
		submitFn: func(ctx context.Context, caller model.Caller, description, status string) (*tasklog.SaveResult, error) {
			task := sampleTask()
			task.Status = model.TaskCompleted
			return &tasklog.SaveResult{
				Task:    task,
				Updated: true,
				Edit: &model.TaskEditRecord{
					ID:             3,
					TaskID:         task.ID,
					OldDescription: "Follow up with 3 leads",
					NewDescription: "Follow up with 3 leads",
					OldStatus:      model.TaskUnderProcess,
					NewStatus:      model.TaskCompleted,
					EditedBy:       int64Ptr(7),
					EditedAt:       task.UpdatedAt,
				},
			}, nil
		},
	}
	h := NewTaskHandler(svc)

	req := withCaller(newJSONRequest(http.MethodPut, "/api/tasks/today",
		`{"description":"Follow up with 3 leads","status":"Completed"}`), employee7)
	w := httptest.NewRecorder()
	h.SubmitTodayTask(w, req)

	assertStatus(t, w, http.StatusOK)
	body := decodeBody(t, w)
	if body["updated"] != true {
		t.Errorf("updated = %v, want true", body["updated"])
	}
	edit, ok := body["edit"].(map[string]any)
	if !ok {
		t.Fatal("edit is missing")
	}
	if edit["old_status"] != "UnderProcess" || edit["new_status"] != "Completed" {
		t.Errorf("edit = %v", edit)
	}
}

func TestTaskHandler_SubmitTodayTask_UnchangedReturns200(t *testing.T) {
	svc := &mockTaskService{
		submitFn: func(ctx context.Context, caller model.Caller, description, status string) (*tasklog.SaveResult, error) {
			return &tasklog.SaveResult{Task: sampleTask()}, nil
		},
	}
	h := NewTaskHandler(svc)

	req := withCaller(newJSONRequest(http.MethodPut, "/api/tasks/today", `{"description":"Follow up with 3 leads"}`), employee7)
	w := httptest.NewRecorder()
	h.SubmitTodayTask(w, req)

	assertStatus(t, w, http.StatusOK)
	body := decodeBody(t, w)
	if body["created"] != false || body["updated"] != false {
		t.Errorf("created/updated = %v/%v, want false/false", body["created"], body["updated"])
	}
}

func TestTaskHandler_SubmitTodayTask_DescriptionRequired(t *testing.T) {
	svc := &mockTaskService{
		submitFn: func(ctx context.Context, caller model.Caller, description, status string) (*tasklog.SaveResult, error) {
			return nil, model.NewTaskDescriptionRequiredError()
		},
	}
	h := NewTaskHandler(svc)

	req := withCaller(newJSONRequest(http.MethodPut, "/api/tasks/today", `{"description":"   "}`), employee7)
	w := httptest.NewRecorder()
	h.SubmitTodayTask(w, req)

	assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeTaskDescriptionRequired)
}

func TestTaskHandler_SubmitTodayTask_BodyRequired(t *testing.T) {
	h := NewTaskHandler(&mockTaskService{})

	req := withCaller(newJSONRequest(http.MethodPut, "/api/tasks/today", ""), employee7)
	w := httptest.NewRecorder()
	h.SubmitTodayTask(w, req)

	assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
}

// --- GET /api/tasks テスト ---

func TestTaskHandler_ListTasks_PassesQuery(t *testing.T) {
	svc := &mockTaskService{
		listFn: func(ctx context.Context, caller model.Caller, in tasklog.ListInput) (*tasklog.TaskPage, error) {
			if in.Status != "Completed" || in.Search != "leads" {
				t.Errorf("status/search = %q/%q", in.Status, in.Search)
			}
			if in.UserID == nil || *in.UserID != 7 {
				t.Errorf("UserID = %v, want 7", in.UserID)
			}
			if in.From == nil || in.From.Format(period.DateLayout) != "2024-03-01" || in.To != nil {
				t.Errorf("From/To = %v/%v", in.From, in.To)
			}
			if in.Limit != 5 || in.Offset != 0 {
				t.Errorf("limit/offset = %d/%d, want 5/0", in.Limit, in.Offset)
			}
			return &tasklog.TaskPage{Tasks: []*model.TaskEntry{sampleTask()}, Limit: 5}, nil
		},
	}
	h := NewTaskHandler(svc)

	req := withCaller(httptest.NewRequest(http.MethodGet,
		"/api/tasks?status=Completed&q=leads&user_id=7&from=2024-03-01&limit=5", nil), admin1)
	w := httptest.NewRecorder()
	h.ListTasks(w, req)

	assertStatus(t, w, http.StatusOK)
	body := decodeBody(t, w)
	if tasks, _ := body["tasks"].([]any); len(tasks) != 1 {
		t.Errorf("tasks length = %d, want 1", len(tasks))
	}
	if body["limit"] != float64(5) || body["has_more"] != false {
		t.Errorf("limit/has_more = %v/%v", body["limit"], body["has_more"])
	}
}

func TestTaskHandler_ListTasks_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{"bad_date", "from=03/01/2024", nil, http.StatusBadRequest, model.ErrCodeInvalidDateRange},
		{"bad_limit", "limit=x", nil, http.StatusBadRequest, model.ErrCodeInvalidPagination},
		{"invalid_status", "status=Done", model.NewInvalidTaskStatusError("Done"), http.StatusBadRequest, model.ErrCodeInvalidTaskStatus},
		{"forbidden", "user_id=8", model.NewForbiddenError(), http.StatusForbidden, model.ErrCodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTaskService{
				listFn: func(ctx context.Context, caller model.Caller, in tasklog.ListInput) (*tasklog.TaskPage, error) {
					if tt.svcErr == nil {
						t.Error("service must not be called")
					}
					return nil, tt.svcErr
				},
			}
			h := NewTaskHandler(svc)

			req := withCaller(httptest.NewRequest(http.MethodGet, "/api/tasks?"+tt.query, nil), employee7)
			w := httptest.NewRecorder()
			h.ListTasks(w, req)

			assertErrorCode(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

// --- GET /api/tasks/{id} テスト ---

func TestTaskHandler_GetTask(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &mockTaskService{
			getFn: func(ctx context.Context, caller model.Caller, id int64) (*model.TaskEntry, error) {
				if id != 21 {
					t.Errorf("id = %d, want 21", id)
				}
				return sampleTask(), nil
			},
		}
		h := NewTaskHandler(svc)

		req := httptest.NewRequest(http.MethodGet, "/api/tasks/21", nil)
		req = withChiURLParam(withCaller(req, employee7), "id", "21")
		w := httptest.NewRecorder()
		h.GetTask(w, req)

		assertStatus(t, w, http.StatusOK)
		if body := decodeBody(t, w); body["description"] != "Follow up with 3 leads" {
			t.Errorf("description = %v", body["description"])
		}
	})

	t.Run("not_found", func(t *testing.T) {
		svc := &mockTaskService{
			getFn: func(ctx context.Context, caller model.Caller, id int64) (*model.TaskEntry, error) {
				return nil, model.NewTaskNotFoundError(id)
			},
		}
		h := NewTaskHandler(svc)

		req := httptest.NewRequest(http.MethodGet, "/api/tasks/404", nil)
		req = withChiURLParam(withCaller(req, employee7), "id", "404")
		w := httptest.NewRecorder()
		h.GetTask(w, req)

		assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeTaskNotFound)
	})
}

// --- PATCH /api/tasks/{id} テスト ---

func TestTaskHandler_UpdateTask_PartialFields(t *testing.T) {
	svc := &mockTaskService{
		updateFn: func(ctx context.Context, caller model.Caller, id int64, in tasklog.UpdateInput) (*tasklog.SaveResult, error) {
			if in.Description != nil {
				t.Errorf("Description = %q, want nil", *in.Description)
			}
			if in.Status == nil || *in.Status != "Completed" {
				t.Errorf("Status = %v, want Completed", in.Status)
			}
			task := sampleTask()
			task.Status = model.TaskCompleted
			return &tasklog.SaveResult{Task: task, Updated: true, Edit: &model.TaskEditRecord{ID: 1, TaskID: task.ID}}, nil
		},
	}
	h := NewTaskHandler(svc)

	req := newJSONRequest(http.MethodPatch, "/api/tasks/21", `{"status":"Completed"}`)
	req = withChiURLParam(withCaller(req, employee7), "id", "21")
	w := httptest.NewRecorder()
	h.UpdateTask(w, req)

	assertStatus(t, w, http.StatusOK)
	body := decodeBody(t, w)
	if body["updated"] != true {
		t.Errorf("updated = %v, want true", body["updated"])
	}
}

func TestTaskHandler_UpdateTask_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{"malformed", `{"status":`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"forbidden", `{"status":"Completed"}`, model.NewForbiddenError(), http.StatusForbidden, model.ErrCodeForbidden},
		{"not_found", `{"status":"Completed"}`, model.NewTaskNotFoundError(21), http.StatusNotFound, model.ErrCodeTaskNotFound},
		{"bad_status", `{"status":"Done"}`, model.NewInvalidTaskStatusError("Done"), http.StatusBadRequest, model.ErrCodeInvalidTaskStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTaskService{
				updateFn: func(ctx context.Context, caller model.Caller, id int64, in tasklog.UpdateInput) (*tasklog.SaveResult, error) {
					if tt.svcErr == nil {
						t.Error("service must not be called")
					}
					return nil, tt.svcErr
				},
			}
			h := NewTaskHandler(svc)

			req := newJSONRequest(http.MethodPatch, "/api/tasks/21", tt.body)
			req = withChiURLParam(withCaller(req, employee7), "id", "21")
			w := httptest.NewRecorder()
			h.UpdateTask(w, req)

			assertErrorCode(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

// --- GET /api/tasks/{id}/history テスト ---

func TestTaskHandler_GetTaskHistory(t *testing.T) {
	t.Run("newest_first", func(t *testing.T) {
		ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
		svc := &mockTaskService{
			historyFn: func(ctx context.Context, caller model.Caller, id int64) ([]*model.TaskEditRecord, error) {
				return []*model.TaskEditRecord{
					{ID: 2, TaskID: id, OldDescription: "b", NewDescription: "c", EditedBy: int64Ptr(7), EditedAt: ts.Add(time.Hour)},
					{ID: 1, TaskID: id, OldDescription: "a", NewDescription: "b", EditedBy: int64Ptr(7), EditedAt: ts},
				}, nil
			},
		}
		h := NewTaskHandler(svc)

		req := httptest.NewRequest(http.MethodGet, "/api/tasks/21/history", nil)
		req = withChiURLParam(withCaller(req, employee7), "id", "21")
		w := httptest.NewRecorder()
		h.GetTaskHistory(w, req)

		assertStatus(t, w, http.StatusOK)
		edits, ok := decodeBody(t, w)["edits"].([]any)
		if !ok || len(edits) != 2 {
			t.Fatalf("edits = %v, want 2 entries", edits)
		}
		first := edits[0].(map[string]any)
		if first["id"] != float64(2) || first["new_description"] != "c" {
			t.Errorf("first edit = %v", first)
		}
	})

	t.Run("empty_is_array", func(t *testing.T) {
		h := NewTaskHandler(&mockTaskService{})

		req := httptest.NewRequest(http.MethodGet, "/api/tasks/21/history", nil)
		req = withChiURLParam(withCaller(req, employee7), "id", "21")
		w := httptest.NewRecorder()
		h.GetTaskHistory(w, req)

		assertStatus(t, w, http.StatusOK)
		edits, ok := decodeBody(t, w)["edits"].([]any)
		if !ok || len(edits) != 0 {
			t.Errorf("edits = %v, want empty array", edits)
		}
	})
}
