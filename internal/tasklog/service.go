// Package tasklog は1日1件の日次タスク記録と編集履歴のドメインロジックを提供する。
package tasklog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/dealerdesk/internal/metrics"
	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/period"
	"github.com/hitoshi/dealerdesk/internal/repository"
	"github.com/hitoshi/dealerdesk/internal/security"
)

// メトリクス・ログ用の操作名
const (
	opSubmit = "submit_task"
	opUpdate = "update_task"
	opList   = "list_tasks"
)

// Config はタスクログサービスの設定。
type Config struct {
	// Location は「今日」を決める業務タイムゾーン。nilの場合はUTC。
	Location *time.Location
	Page     model.PageLimits
	// Now はテスト用の現在時刻関数。nilの場合はtime.Now。
	Now func() time.Time
}

// SaveResult はタスク保存（提出・更新）の結果。
type SaveResult struct {
	Task    *model.TaskEntry
	Created bool                  // 新規作成した場合true
	Updated bool                  // 既存タスクの内容が変わった場合true
	Edit    *model.TaskEditRecord // Updatedの場合に追加された編集履歴
}

// UpdateInput はタスク更新の入力。nilの項目は変更しない。
type UpdateInput struct {
	Description *string
	Status      *string
}

// ListInput はタスク一覧の検索条件。
type ListInput struct {
	UserID *int64
	Status string // 空の場合は絞り込まない
	Search string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// TaskPage はタスク一覧の1ページ分。
type TaskPage struct {
	Tasks   []*model.TaskEntry
	Limit   int
	Offset  int
	HasMore bool
}

// Service は日次タスクのサービス層。
type Service struct {
	repo      repository.TaskRepository
	sanitizer security.TextSanitizer
	metrics   metrics.Recorder
	loc       *time.Location
	page      model.PageLimits
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.TaskRepository,
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

// GetToday は呼び出し元の今日のタスクを返す。存在しない場合はnil。
func (s *Service) GetToday(ctx context.Context, caller model.Caller) (*model.TaskEntry, error) {
	today := period.DateOf(s.now(), s.loc)
	return s.repo.FindByUserAndDate(ctx, caller.UserID, today)
}

// Submit は今日のタスクを保存する。
// 未登録なら作成し、登録済みなら内容を比較して変更がある場合のみ編集履歴を追記して更新する。
// ステータスが未指定・不正な場合はJustAssignedとして扱う。
// 同じユーザーの同時提出は(user_id, task_date)の一意制約で1件だけが作成に成功し、
// 残りは作成済みの行をロックし直して更新側の処理に合流する。
func (s *Service) Submit(ctx context.Context, caller model.Caller, description, status string) (*SaveResult, error) {
	desc, err := s.sanitizer.Clean("description", description)
	if err != nil {
		return nil, err
	}
	if desc == "" {
		return nil, model.NewTaskDescriptionRequiredError()
	}
	st := model.NormalizeTaskStatus(status)

	now := s.now().UTC()
	today := period.DateOf(now, s.loc)

	var result *SaveResult
	err = s.repo.WithinTx(ctx, func(tx repository.TaskTx) error {
		result = &SaveResult{}

		task, err := tx.FindByUserAndDateForUpdate(ctx, caller.UserID, today)
		if err != nil {
			return err
		}
		if task == nil {
			task = &model.TaskEntry{
				UserID:      caller.UserID,
				TaskDate:    today,
				Description: desc,
				Status:      st,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			created, err := tx.InsertIfAbsent(ctx, task)
			if err != nil {
				return err
			}
			if created {
				result.Task = task
				result.Created = true
				return nil
			}

			// 同時提出に負けた場合は勝者の行で更新処理を続ける
			slog.InfoContext(ctx, "task insert lost race, falling back to update",
				slog.Int64("user_id", caller.UserID),
				slog.String("task_date", today.Format(period.DateLayout)),
			)
			task, err = tx.FindByUserAndDateForUpdate(ctx, caller.UserID, today)
			if err != nil {
				return err
			}
			if task == nil {
				return fmt.Errorf("task for user %d on %s not visible after insert conflict",
					caller.UserID, today.Format(period.DateLayout))
			}
		}

		edit, err := s.applyEdit(ctx, tx, task, desc, st, caller.UserID, now)
		if err != nil {
			return err
		}
		result.Task = task
		result.Updated = edit != nil
		result.Edit = edit
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, opSubmit, caller, err)
	}

	s.recordSave(ctx, caller, result)
	return result, nil
}

// Update は任意の日のタスクを更新する。本人または管理者のみ実行できる。
// 明示的に指定されたステータスが不正な場合は入力エラーとする。
func (s *Service) Update(ctx context.Context, caller model.Caller, id int64, in UpdateInput) (*SaveResult, error) {
	if in.Description == nil && in.Status == nil {
		return nil, model.NewValidationError(model.ErrCodeInvalidRequest, "descriptionまたはstatusを指定してください。")
	}

	var desc string
	if in.Description != nil {
		var err error
		if desc, err = s.sanitizer.Clean("description", *in.Description); err != nil {
			return nil, err
		}
		if desc == "" {
			return nil, model.NewTaskDescriptionRequiredError()
		}
	}
	var st model.TaskStatus
	if in.Status != nil {
		parsed, ok := model.ParseTaskStatus(*in.Status)
		if !ok {
			return nil, model.NewInvalidTaskStatusError(*in.Status)
		}
		st = parsed
	}

	now := s.now().UTC()
	var result *SaveResult
	err := s.repo.WithinTx(ctx, func(tx repository.TaskTx) error {
		result = &SaveResult{}

		task, err := tx.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if task == nil {
			return model.NewTaskNotFoundError(id)
		}
		if !caller.CanAccess(task.UserID) {
			return model.NewForbiddenError()
		}

		newDesc, newStatus := task.Description, task.Status
		if in.Description != nil {
			newDesc = desc
		}
		if in.Status != nil {
			newStatus = st
		}

		edit, err := s.applyEdit(ctx, tx, task, newDesc, newStatus, caller.UserID, now)
		if err != nil {
			return err
		}
		result.Task = task
		result.Updated = edit != nil
		result.Edit = edit
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, opUpdate, caller, err)
	}

	if result.Edit != nil {
		s.metrics.RecordTaskEdit()
		s.logEdit(ctx, result)
	}
	return result, nil
}

// Get は指定IDのタスクを返す。本人または管理者のみ参照できる。
// 他人のタスクは存在有無を明かさないよう、存在しない場合と同じエラーを返す。
func (s *Service) Get(ctx context.Context, caller model.Caller, id int64) (*model.TaskEntry, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil || !caller.CanAccess(task.UserID) {
		return nil, model.NewTaskNotFoundError(id)
	}
	return task, nil
}

// List はタスク一覧をtask_date降順、更新日時降順で返す。
// 管理者は全ユーザー分（UserIDで絞り込み可）、それ以外は自分の分のみ参照できる。
func (s *Service) List(ctx context.Context, caller model.Caller, in ListInput) (*TaskPage, error) {
	filter := model.TaskFilter{
		UserID: in.UserID,
		Search: strings.TrimSpace(in.Search),
		From:   in.From,
		To:     in.To,
	}
	if !caller.IsAdmin() {
		if in.UserID != nil && *in.UserID != caller.UserID {
			return nil, model.NewForbiddenError()
		}
		own := caller.UserID
		filter.UserID = &own
	}
	if in.Status != "" {
		st, ok := model.ParseTaskStatus(in.Status)
		if !ok {
			return nil, model.NewInvalidTaskStatusError(in.Status)
		}
		filter.Status = &st
	}

	limit, offset, err := s.page.Normalize(in.Limit, in.Offset)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit + 1
	filter.Offset = offset

	tasks, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, s.fail(ctx, opList, caller, err)
	}

	page := &TaskPage{Limit: limit, Offset: offset}
	if len(tasks) > limit {
		page.HasMore = true
		tasks = tasks[:limit]
	}
	if tasks == nil {
		tasks = []*model.TaskEntry{}
	}
	page.Tasks = tasks
	return page, nil
}

// History はタスクの編集履歴を新しい順で返す。タスクを参照できる呼び出し元のみ取得できる。
func (s *Service) History(ctx context.Context, caller model.Caller, id int64) ([]*model.TaskEditRecord, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	edits, err := s.repo.ListEdits(ctx, id)
	if err != nil {
		return nil, err
	}
	if edits == nil {
		edits = []*model.TaskEditRecord{}
	}
	return edits, nil
}

// applyEdit は提出と更新で共有する変更検出・履歴追記の処理。
// 内容もステータスも変わらない場合は何も書き込まずnilを返す。
// 変更がある場合は変更前後のスナップショットを履歴に追記してからタスクを更新する。
// 呼び出し元のトランザクション内で、対象行をロックした状態で呼ぶこと。
func (s *Service) applyEdit(
	ctx context.Context,
	tx repository.TaskTx,
	task *model.TaskEntry,
	newDesc string,
	newStatus model.TaskStatus,
	editorID int64,
	now time.Time,
) (*model.TaskEditRecord, error) {
	if task.Description == newDesc && task.Status == newStatus {
		return nil, nil
	}

	edit := &model.TaskEditRecord{
		TaskID:         task.ID,
		OldDescription: task.Description,
		NewDescription: newDesc,
		OldStatus:      task.Status,
		NewStatus:      newStatus,
		EditedBy:       &editorID,
		EditedAt:       now,
	}
	if err := tx.InsertEdit(ctx, edit); err != nil {
		return nil, err
	}

	task.Description = newDesc
	task.Status = newStatus
	task.UpdatedAt = now
	if err := tx.UpdateContent(ctx, task); err != nil {
		return nil, err
	}
	return edit, nil
}

func (s *Service) recordSave(ctx context.Context, caller model.Caller, result *SaveResult) {
	switch {
	case result.Created:
		s.metrics.RecordTaskSubmission(metrics.OutcomeCreated)
		slog.InfoContext(ctx, "task created",
			slog.Int64("task_id", result.Task.ID),
			slog.Int64("user_id", caller.UserID),
			slog.String("status", string(result.Task.Status)),
		)
	case result.Updated:
		s.metrics.RecordTaskSubmission(metrics.OutcomeUpdated)
		s.metrics.RecordTaskEdit()
		s.logEdit(ctx, result)
	default:
		s.metrics.RecordTaskSubmission(metrics.OutcomeUnchanged)
	}
}

func (s *Service) logEdit(ctx context.Context, result *SaveResult) {
	slog.InfoContext(ctx, "task edited",
		slog.Int64("task_id", result.Task.ID),
		slog.Int64("owner_id", result.Task.UserID),
		slog.Int64("editor_id", *result.Edit.EditedBy),
		slog.String("old_status", string(result.Edit.OldStatus)),
		slog.String("new_status", string(result.Edit.NewStatus)),
	)
}

// fail は失敗をメトリクスとログに記録してerrをそのまま返す。
func (s *Service) fail(ctx context.Context, op string, caller model.Caller, err error) error {
	switch model.KindOf(err) {
	case model.KindConflict:
		s.metrics.RecordConflict(op)
		slog.InfoContext(ctx, "task conflict",
			slog.String("op", op),
			slog.Int64("user_id", caller.UserID),
			slog.String("error", err.Error()),
		)
	case model.KindStoreUnavailable:
		s.metrics.RecordStoreError(op)
		slog.ErrorContext(ctx, "task store unavailable",
			slog.String("op", op),
			slog.Int64("user_id", caller.UserID),
			slog.String("error", err.Error()),
		)
	}
	return err
}
