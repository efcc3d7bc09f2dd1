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

const taskColumns = `id, user_id, task_date, description, status, created_at, updated_at`

// likeEscaper はILIKEパターンのメタ文字をエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresTaskRepo はPostgreSQLを使用した日次タスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
	tx *TxRunner
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db, tx: NewTxRunner(db)}
}

// WithinTx はfnを1つのトランザクション内で実行する。
func (r *PostgresTaskRepo) WithinTx(ctx context.Context, fn func(tx TaskTx) error) error {
	return r.tx.Run(ctx, "task tx", func(tx *sql.Tx) error {
		return fn(&postgresTaskTx{q: tx})
	})
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, id int64) (*model.TaskEntry, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`,
		id,
	))
	return t, translateError("failed to find task", err)
}

// FindByUserAndDate はユーザーと日付でタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByUserAndDate(ctx context.Context, userID int64, date time.Time) (*model.TaskEntry, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND task_date = $2::date`,
		userID, date.Format(period.DateLayout),
	))
	return t, translateError("failed to find task by date", err)
}

// List はタスク一覧をtask_date降順、updated_at降順で返す。
// Searchはdescriptionの部分一致（大文字小文字を区別しない）で絞り込む。
func (r *PostgresTaskRepo) List(ctx context.Context, filter model.TaskFilter) ([]*model.TaskEntry, error) {
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
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.Search != "" {
		add(`description ILIKE '%%' || $%d || '%%' ESCAPE '\'`, likeEscaper.Replace(filter.Search))
	}
	if filter.From != nil {
		add("task_date >= $%d::date", filter.From.Format(period.DateLayout))
	}
	if filter.To != nil {
		add("task_date <= $%d::date", filter.To.Format(period.DateLayout))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY task_date DESC, updated_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError("failed to list tasks", err)
	}
	defer rows.Close()

	var tasks []*model.TaskEntry
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, translateError("failed to scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("failed to iterate tasks", err)
	}

	return tasks, nil
}

// ListEdits はタスクの編集履歴を新しい順で返す。
func (r *PostgresTaskRepo) ListEdits(ctx context.Context, taskID int64) ([]*model.TaskEditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, task_id, old_description, new_description, old_status, new_status, edited_by, edited_at
		 FROM task_edits
		 WHERE task_id = $1
		 ORDER BY edited_at DESC, id DESC`,
		taskID,
	)
	if err != nil {
		return nil, translateError("failed to list task edits", err)
	}
	defer rows.Close()

	edits := []*model.TaskEditRecord{}
	for rows.Next() {
		e := &model.TaskEditRecord{}
		var (
			oldStatus, newStatus string
			editedBy             sql.NullInt64
		)
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.OldDescription, &e.NewDescription,
			&oldStatus, &newStatus, &editedBy, &e.EditedAt,
		); err != nil {
			return nil, translateError("failed to scan task edit", err)
		}
		e.OldStatus = model.TaskStatus(oldStatus)
		e.NewStatus = model.TaskStatus(newStatus)
		if editedBy.Valid {
			e.EditedBy = &editedBy.Int64
		}
		edits = append(edits, e)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("failed to iterate task edits", err)
	}

	return edits, nil
}

// postgresTaskTx はトランザクション内のタスク操作。
type postgresTaskTx struct {
	q queryer
}

// FindByUserAndDateForUpdate はユーザーと日付でタスクをロックして取得する。
func (t *postgresTaskTx) FindByUserAndDateForUpdate(ctx context.Context, userID int64, date time.Time) (*model.TaskEntry, error) {
	task, err := scanTask(t.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND task_date = $2::date FOR UPDATE`,
		userID, date.Format(period.DateLayout),
	))
	return task, translateError("failed to lock task by date", err)
}

// FindByIDForUpdate は指定IDのタスクをロックして取得する。
func (t *postgresTaskTx) FindByIDForUpdate(ctx context.Context, id int64) (*model.TaskEntry, error) {
	task, err := scanTask(t.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`,
		id,
	))
	return task, translateError("failed to lock task", err)
}

// InsertIfAbsent は(user_id, task_date)が未登録の場合のみタスクを作成する。
// UNIQUE(user_id, task_date)制約を利用したINSERT ON CONFLICT DO NOTHINGで実装する。
// 競合した別トランザクションのコミットを待ってから結果が決まるため、勝者は常に1件。
func (t *postgresTaskTx) InsertIfAbsent(ctx context.Context, task *model.TaskEntry) (bool, error) {
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO tasks (user_id, task_date, description, status, created_at, updated_at)
		 VALUES ($1, $2::date, $3, $4, $5, $6)
		 ON CONFLICT (user_id, task_date) DO NOTHING
		 RETURNING id`,
		task.UserID, task.TaskDate.Format(period.DateLayout), task.Description, string(task.Status),
		task.CreatedAt, task.UpdatedAt,
	).Scan(&task.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, translateError("failed to insert task", err)
	}
	return true, nil
}

// InsertEdit は編集履歴を追記する。
func (t *postgresTaskTx) InsertEdit(ctx context.Context, e *model.TaskEditRecord) error {
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO task_edits
		     (task_id, old_description, new_description, old_status, new_status, edited_by, edited_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		e.TaskID, e.OldDescription, e.NewDescription, string(e.OldStatus), string(e.NewStatus),
		e.EditedBy, e.EditedAt,
	).Scan(&e.ID)
	return translateError("failed to insert task edit", err)
}

// UpdateContent はタスクのdescription、status、updated_atを更新する。
func (t *postgresTaskTx) UpdateContent(ctx context.Context, task *model.TaskEntry) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE tasks SET description = $2, status = $3, updated_at = $4 WHERE id = $1`,
		task.ID, task.Description, string(task.Status), task.UpdatedAt,
	)
	return translateError("failed to update task", err)
}

// scanTask は1行をタスクに変換する。行が無い場合はnil, nilを返す。
func scanTask(row rowScanner) (*model.TaskEntry, error) {
	t := &model.TaskEntry{}
	var status string
	err := row.Scan(&t.ID, &t.UserID, &t.TaskDate, &t.Description, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.TaskDate = period.DateOf(t.TaskDate, time.UTC)
	t.Status = model.TaskStatus(status)
	return t, nil
}

// compile-time interface check
var (
	_ TaskRepository = (*PostgresTaskRepo)(nil)
	_ TaskTx         = (*postgresTaskTx)(nil)
)
