package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/period"
	"github.com/hitoshi/dealerdesk/internal/tasklog"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	// GetToday は今日のタスクを返す。未登録の場合はnil, nil。
	GetToday(ctx context.Context, caller model.Caller) (*model.TaskEntry, error)
	Submit(ctx context.Context, caller model.Caller, description, status string) (*tasklog.SaveResult, error)
	Update(ctx context.Context, caller model.Caller, id int64, in tasklog.UpdateInput) (*tasklog.SaveResult, error)
	Get(ctx context.Context, caller model.Caller, id int64) (*model.TaskEntry, error)
	List(ctx context.Context, caller model.Caller, in tasklog.ListInput) (*tasklog.TaskPage, error)
	History(ctx context.Context, caller model.Caller, id int64) ([]*model.TaskEditRecord, error)
}

// TaskHandler は日次タスクのHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

// submitTaskRequest は今日のタスク保存リクエストのボディ。
// 空のdescriptionはサービス層でTASK_DESCRIPTION_REQUIREDとして扱う。
type submitTaskRequest struct {
	Description string `json:"description" validate:"max=5000"`
	Status      string `json:"status" validate:"max=32"`
}

// updateTaskRequest はタスク部分更新リクエストのボディ。
type updateTaskRequest struct {
	Description *string `json:"description" validate:"omitempty,max=5000"`
	Status      *string `json:"status" validate:"omitempty,max=32"`
}

// taskResponse は日次タスクのAPIレスポンス。
type taskResponse struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	TaskDate    string    `json:"task_date"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// taskEditResponse はタスク編集履歴のAPIレスポンス。
type taskEditResponse struct {
	ID             int64     `json:"id"`
	TaskID         int64     `json:"task_id"`
	OldDescription string    `json:"old_description"`
	NewDescription string    `json:"new_description"`
	OldStatus      string    `json:"old_status"`
	NewStatus      string    `json:"new_status"`
	EditedBy       *int64    `json:"edited_by"`
	EditedAt       time.Time `json:"edited_at"`
}

// saveTaskResponse はタスク保存・更新のAPIレスポンス。
type saveTaskResponse struct {
	Task    taskResponse      `json:"task"`
	Created bool              `json:"created"`
	Updated bool              `json:"updated"`
	Edit    *taskEditResponse `json:"edit,omitempty"`
}

// taskListResponse はタスク一覧のAPIレスポンス。
type taskListResponse struct {
	Tasks   []taskResponse `json:"tasks"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

// GetTodayTask は今日のタスクを返す。未登録の場合はtaskがnull。
// GET /api/tasks/today
func (h *TaskHandler) GetTodayTask(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	task, err := h.service.GetToday(r.Context(), caller)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := struct {
		Task *taskResponse `json:"task"`
	}{}
	if task != nil {
		t := toTaskResponse(task)
		resp.Task = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

// SubmitTodayTask は今日のタスクを作成または更新する。新規作成時は201、それ以外は200を返す。
// PUT /api/tasks/today
func (h *TaskHandler) SubmitTodayTask(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req submitTaskRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.Submit(r.Context(), caller, req.Description, req.Status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toSaveTaskResponse(result))
}

// ListTasks はタスク一覧を返す。
// GET /api/tasks?status=&q=&user_id=&from=&to=&limit=&offset=
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	in, err := parseTaskListInput(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), caller, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := taskListResponse{
		Tasks:   make([]taskResponse, 0, len(page.Tasks)),
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore,
	}
	for _, t := range page.Tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTask はタスクを1件返す。
// GET /api/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	task, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// UpdateTask はタスクの内容・ステータスを部分更新する。
// PATCH /api/tasks/{id}
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.Update(r.Context(), caller, id, tasklog.UpdateInput{
		Description: req.Description,
		Status:      req.Status,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSaveTaskResponse(result))
}

// GetTaskHistory はタスクの編集履歴を新しい順で返す。
// GET /api/tasks/{id}/history
func (h *TaskHandler) GetTaskHistory(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	edits, err := h.service.History(r.Context(), caller, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := struct {
		Edits []taskEditResponse `json:"edits"`
	}{Edits: make([]taskEditResponse, 0, len(edits))}
	for _, e := range edits {
		resp.Edits = append(resp.Edits, toTaskEditResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseTaskListInput(r *http.Request) (tasklog.ListInput, error) {
	q := r.URL.Query()
	in := tasklog.ListInput{
		Status: q.Get("status"),
		Search: q.Get("q"),
	}
	var err error
	if in.UserID, err = parseUserIDQuery(q); err != nil {
		return in, err
	}
	if in.From, err = parseDateQuery(q, "from"); err != nil {
		return in, err
	}
	if in.To, err = parseDateQuery(q, "to"); err != nil {
		return in, err
	}
	if in.Limit, in.Offset, err = parsePageQuery(q); err != nil {
		return in, err
	}
	return in, nil
}

func toTaskResponse(t *model.TaskEntry) taskResponse {
	return taskResponse{
		ID:          t.ID,
		UserID:      t.UserID,
		TaskDate:    t.TaskDate.Format(period.DateLayout),
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toTaskEditResponse(e *model.TaskEditRecord) taskEditResponse {
	return taskEditResponse{
		ID:             e.ID,
		TaskID:         e.TaskID,
		OldDescription: e.OldDescription,
		NewDescription: e.NewDescription,
		OldStatus:      string(e.OldStatus),
		NewStatus:      string(e.NewStatus),
		EditedBy:       e.EditedBy,
		EditedAt:       e.EditedAt,
	}
}

func toSaveTaskResponse(result *tasklog.SaveResult) saveTaskResponse {
	resp := saveTaskResponse{
		Task:    toTaskResponse(result.Task),
		Created: result.Created,
		Updated: result.Updated,
	}
	if result.Edit != nil {
		edit := toTaskEditResponse(result.Edit)
		resp.Edit = &edit
	}
	return resp
}
