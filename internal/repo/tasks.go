package repo

import (
	"context"
	"database/sql"

	"trustline/internal/domain"
)

// NextTaskID allocates the next task id inside the caller's tx. Ids start at 0
// and are never reused; tasks are never deleted.
func (r Repo) NextTaskID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id)+1,0) FROM tasks`).Scan(&next)
	return next, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,priority,due_date,assignee,completed,completed_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.Priority, t.DueDate, t.Assignee, boolToInt(t.Completed), nullableStringPtr(t.CompletedAt), t.CreatedAt)
	return err
}

const taskColumns = `id,title,description,priority,due_date,assignee,completed,completed_at,created_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var completed int
	var completedAt sql.NullString
	err := scan(&t.ID, &t.Title, &t.Description, &t.Priority, &t.DueDate, &t.Assignee, &completed, &completedAt, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	t.Completed = completed != 0
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) UpdateTaskAssignee(ctx context.Context, tx *sql.Tx, id int64, assignee string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET assignee=? WHERE id=?`, assignee, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkTaskCompleted(ctx context.Context, tx *sql.Tx, id int64, completedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET completed=1, completed_at=? WHERE id=?`, completedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks returns every task in id order.
func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListUserTasks returns the tasks referenced by the assignee's index, in index order.
func (r Repo) ListUserTasks(ctx context.Context, assignee string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT t.id,t.title,t.description,t.priority,t.due_date,t.assignee,t.completed,t.completed_at,t.created_at
FROM task_index i JOIN tasks t ON t.id=i.task_id
WHERE i.assignee=? ORDER BY i.pos ASC`, assignee)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// AppendTaskIndex appends a task id to the assignee's index.
func (r Repo) AppendTaskIndex(ctx context.Context, tx *sql.Tx, assignee string, taskID int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_index(assignee,pos,task_id)
SELECT ?, COALESCE(MAX(pos)+1,0), ? FROM task_index WHERE assignee=?`, assignee, taskID, assignee)
	return err
}

// RemoveTaskIndex removes a task id from the assignee's index by relocating the
// last entry into the freed slot. Order within the index is not significant.
func (r Repo) RemoveTaskIndex(ctx context.Context, tx *sql.Tx, assignee string, taskID int64) error {
	var pos int64
	err := tx.QueryRowContext(ctx, `SELECT pos FROM task_index WHERE assignee=? AND task_id=?`, assignee, taskID).Scan(&pos)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var lastPos, lastTask int64
	err = tx.QueryRowContext(ctx, `SELECT pos, task_id FROM task_index WHERE assignee=? ORDER BY pos DESC LIMIT 1`, assignee).Scan(&lastPos, &lastTask)
	if err != nil {
		return err
	}
	// task_id is unique across the whole index, so the last row goes away
	// before its id is relocated into the freed slot.
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_index WHERE assignee=? AND pos=?`, assignee, lastPos); err != nil {
		return err
	}
	if lastPos == pos {
		return nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE task_index SET task_id=? WHERE assignee=? AND pos=?`, lastTask, assignee, pos)
	return err
}

// ListAssignedTaskIDs returns the raw index for an assignee, in index order.
func (r Repo) ListAssignedTaskIDs(ctx context.Context, assignee string) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id FROM task_index WHERE assignee=? ORDER BY pos ASC`, assignee)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
