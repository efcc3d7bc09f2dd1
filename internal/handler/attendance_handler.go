package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/dealerdesk/internal/attendance"
	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/period"
)

// AttendanceServiceInterface は勤怠ハンドラーが必要とするサービスインターフェース。
type AttendanceServiceInterface interface {
	ClockIn(ctx context.Context, caller model.Caller, in attendance.ClockInput) (*model.AttendanceSession, error)
	ClockOut(ctx context.Context, caller model.Caller, in attendance.ClockInput) (*model.AttendanceSession, error)
	// CurrentSession は出勤中セッションを返す。存在しない場合はnil, nil。
	CurrentSession(ctx context.Context, caller model.Caller) (*model.AttendanceSession, error)
	ListSessions(ctx context.Context, caller model.Caller, filter model.SessionFilter) (*attendance.SessionPage, error)
	GetSession(ctx context.Context, caller model.Caller, id int64) (*model.AttendanceSession, error)
	Approve(ctx context.Context, caller model.Caller, id int64, approve bool, note string) (*model.AttendanceSession, error)
	// Stats は勤怠統計を返す。rngがnilの場合は今月。
	Stats(ctx context.Context, caller model.Caller, userID *int64, rng *period.Range) (*model.AttendanceStats, error)
	CurrentMonth() period.Range
}

// AttendanceHandler は勤怠管理のHTTPハンドラー。
type AttendanceHandler struct {
	service AttendanceServiceInterface
}

// NewAttendanceHandler はAttendanceHandlerを生成する。
func NewAttendanceHandler(service AttendanceServiceInterface) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// clockRequest は出勤・退勤打刻リクエストのボディ。ボディ自体を省略してもよい。
type clockRequest struct {
	Location string `json:"location" validate:"max=200"`
	Note     string `json:"note" validate:"max=1000"`
}

// approvalRequest は承認・却下リクエストのボディ。
type approvalRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Note    string `json:"note" validate:"max=1000"`
}

// sessionResponse は勤怠セッションのAPIレスポンス。
type sessionResponse struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	SessionDate     string     `json:"session_date"`
	ClockInAt       time.Time  `json:"clock_in_at"`
	ClockOutAt      *time.Time `json:"clock_out_at"`
	DurationSeconds int64      `json:"duration_seconds"`
	Location        string     `json:"location"`
	Note            string     `json:"note"`
	Status          string     `json:"status"`
	ApprovedBy      *int64     `json:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// sessionListResponse は勤怠セッション一覧のAPIレスポンス。
type sessionListResponse struct {
	Sessions []sessionResponse `json:"sessions"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
	HasMore  bool              `json:"has_more"`
}

// statsResponse は勤怠統計のAPIレスポンス。
type statsResponse struct {
	UserID           int64   `json:"user_id"`
	From             string  `json:"from"`
	To               string  `json:"to"`
	TotalSeconds     int64   `json:"total_seconds"`
	TotalHours       float64 `json:"total_hours"`
	DaysPresent      int     `json:"days_present"`
	TotalDays        int     `json:"total_days"`
	PendingApprovals int     `json:"pending_approvals"`
	AttendanceRate   int     `json:"attendance_rate"`
}

// ClockIn は出勤打刻を行う。
// POST /api/attendance/clock-in
func (h *AttendanceHandler) ClockIn(w http.ResponseWriter, r *http.Request) {
	h.clock(w, r, http.StatusCreated, h.service.ClockIn)
}

// ClockOut は退勤打刻を行う。
// POST /api/attendance/clock-out
func (h *AttendanceHandler) ClockOut(w http.ResponseWriter, r *http.Request) {
	h.clock(w, r, http.StatusOK, h.service.ClockOut)
}

func (h *AttendanceHandler) clock(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	fn func(context.Context, model.Caller, attendance.ClockInput) (*model.AttendanceSession, error),
) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req clockRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		handleServiceError(w, r, err)
		return
	}

	session, err := fn(r.Context(), caller, attendance.ClockInput{Location: req.Location, Note: req.Note})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, status, toSessionResponse(session))
}

// GetCurrentSession は出勤中セッションを返す。出勤中でない場合はsessionがnull。
// GET /api/attendance/current
func (h *AttendanceHandler) GetCurrentSession(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	session, err := h.service.CurrentSession(r.Context(), caller)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := struct {
		Session *sessionResponse `json:"session"`
	}{}
	if session != nil {
		s := toSessionResponse(session)
		resp.Session = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSessions は勤怠セッション一覧を返す。
// GET /api/attendance/sessions?user_id=&from=&to=&limit=&offset=
func (h *AttendanceHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	filter, err := parseSessionFilter(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	page, err := h.service.ListSessions(r.Context(), caller, filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := sessionListResponse{
		Sessions: make([]sessionResponse, 0, len(page.Sessions)),
		Limit:    page.Limit,
		Offset:   page.Offset,
		HasMore:  page.HasMore,
	}
	for _, s := range page.Sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSession は勤怠セッションを1件返す。
// GET /api/attendance/sessions/{id}
func (h *AttendanceHandler) GetSession(w http.ResponseWriter, r *http.Request) {
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

	session, err := h.service.GetSession(r.Context(), caller, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// ApproveSession は勤怠セッションを承認または却下する（管理者のみ）。
// POST /api/attendance/sessions/{id}/approval
func (h *AttendanceHandler) ApproveSession(w http.ResponseWriter, r *http.Request) {
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

	var req approvalRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}

	session, err := h.service.Approve(r.Context(), caller, id, *req.Approve, req.Note)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// GetStats は勤怠統計を返す。from/toの片方のみ指定した場合、もう片方は今月の端点を使う。
// GET /api/attendance/stats?from=&to=&user_id=
func (h *AttendanceHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	userID, err := parseUserIDQuery(q)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var rng *period.Range
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if from != "" || to != "" {
		parsed, err := period.ParseRange(from, to, h.service.CurrentMonth())
		if err != nil {
			handleServiceError(w, r, model.NewInvalidDateRangeError(err.Error()))
			return
		}
		rng = &parsed
	}

	stats, err := h.service.Stats(r.Context(), caller, userID, rng)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		UserID:           stats.UserID,
		From:             stats.From.Format(period.DateLayout),
		To:               stats.To.Format(period.DateLayout),
		TotalSeconds:     stats.TotalSeconds,
		TotalHours:       stats.TotalHours,
		DaysPresent:      stats.DaysPresent,
		TotalDays:        stats.TotalDays,
		PendingApprovals: stats.PendingApprovals,
		AttendanceRate:   stats.AttendanceRate,
	})
}

func parseSessionFilter(r *http.Request) (model.SessionFilter, error) {
	q := r.URL.Query()
	var (
		filter model.SessionFilter
		err    error
	)
	if filter.UserID, err = parseUserIDQuery(q); err != nil {
		return filter, err
	}
	if filter.From, err = parseDateQuery(q, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseDateQuery(q, "to"); err != nil {
		return filter, err
	}
	if filter.Limit, filter.Offset, err = parsePageQuery(q); err != nil {
		return filter, err
	}
	return filter, nil
}

func toSessionResponse(s *model.AttendanceSession) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		UserID:          s.UserID,
		SessionDate:     s.SessionDate.Format(period.DateLayout),
		ClockInAt:       s.ClockInAt,
		ClockOutAt:      s.ClockOutAt,
		DurationSeconds: s.DurationSeconds,
		Location:        s.Location,
		Note:            s.Note,
		Status:          string(s.Status),
		ApprovedBy:      s.ApprovedBy,
		ApprovedAt:      s.ApprovedAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
