package engine

import (
	"context"
	"fmt"
	"time"

	"trustline/internal/domain"
	"trustline/internal/engine/auth"
	"trustline/internal/events"
	"trustline/internal/repo"
)

// ParsePriority validates a task priority label.
func ParsePriority(s string) (string, error) {
	switch s {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh:
		return s, nil
	}
	return "", InvalidArgumentError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", s)}
}

type TaskCreateOptions struct {
	Caller      string
	Title       string
	Description string
	Priority    string
	DueDate     string
	Assignee    string
}

// CreateTask appends a task to the ledger and to the assignee's index. Task ids
// come from one global counter starting at zero; a failed creation consumes
// nothing because the id is read inside the transaction that rolls back.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Guard.RequireManager(ctx, tx, opts.Caller); err != nil {
		return domain.Task{}, err
	}
	if err := e.Guard.RequireIdentity(ctx, tx, opts.Caller); err != nil {
		return domain.Task{}, err
	}
	if opts.Title == "" {
		return domain.Task{}, InvalidArgumentError{Field: "title", Reason: "must not be empty"}
	}
	if opts.Description == "" {
		return domain.Task{}, InvalidArgumentError{Field: "description", Reason: "must not be empty"}
	}
	if opts.Assignee == "" {
		return domain.Task{}, InvalidArgumentError{Field: "assignee", Reason: "must not be empty"}
	}
	if _, err := ParsePriority(opts.Priority); err != nil {
		return domain.Task{}, err
	}
	due, err := time.Parse(time.RFC3339, opts.DueDate)
	if err != nil {
		return domain.Task{}, InvalidArgumentError{Field: "due_date", Reason: "must be an RFC 3339 timestamp"}
	}
	if !due.After(e.now()) {
		return domain.Task{}, InvalidArgumentError{Field: "due_date", Reason: "must be in the future"}
	}

	id, err := e.Repo.NextTaskID(ctx, tx)
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          id,
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    opts.Priority,
		DueDate:     due.UTC().Format(time.RFC3339),
		Assignee:    opts.Assignee,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.AppendTaskIndex(ctx, tx, opts.Assignee, id); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", fmt.Sprint(id), opts.Caller, events.EventPayload{
		"title":    opts.Title,
		"assignee": opts.Assignee,
		"priority": opts.Priority,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ReassignTask moves a task between assignee indexes. The old index entry is
// freed with a swap-and-remove so positions stay dense.
func (e Engine) ReassignTask(ctx context.Context, caller string, id int64, newAssignee string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Guard.RequireManager(ctx, tx, caller); err != nil {
		return domain.Task{}, err
	}
	if err := e.Guard.RequireIdentity(ctx, tx, caller); err != nil {
		return domain.Task{}, err
	}
	if newAssignee == "" {
		return domain.Task{}, InvalidArgumentError{Field: "assignee", Reason: "must not be empty"}
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Assignee == newAssignee {
		return domain.Task{}, InvalidStateError{Reason: "task already assigned to that user"}
	}
	if err := e.Repo.RemoveTaskIndex(ctx, tx, t.Assignee, id); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.AppendTaskIndex(ctx, tx, newAssignee, id); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpdateTaskAssignee(ctx, tx, id, newAssignee); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.reassigned", "task", fmt.Sprint(id), caller, events.EventPayload{
		"from": t.Assignee,
		"to":   newAssignee,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.Assignee = newAssignee
	return t, nil
}

// ListTasks returns every task in id order. Managers only.
func (e Engine) ListTasks(ctx context.Context, caller string) ([]domain.Task, error) {
	ok, err := e.Guard.IsManager(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, auth.UnauthorizedError{Principal: caller, Reason: "manager role required"}
	}
	tasks, err := e.Repo.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, repo.ErrNotFound
	}
	return tasks, nil
}

// ListUserTasks returns the caller's tasks in index order.
func (e Engine) ListUserTasks(ctx context.Context, caller string) ([]domain.Task, error) {
	tasks, err := e.Repo.ListUserTasks(ctx, caller)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, repo.ErrNotFound
	}
	return tasks, nil
}

// GetTask returns one task to its assignee or to any manager. A missing task
// reports not-found before any access check.
func (e Engine) GetTask(ctx context.Context, caller string, id int64) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Assignee != caller {
		ok, err := e.Guard.IsManager(ctx, caller)
		if err != nil {
			return domain.Task{}, err
		}
		if !ok {
			return domain.Task{}, auth.UnauthorizedError{Principal: caller, Reason: "not the assignee"}
		}
	}
	return t, nil
}

// CompleteTask marks a task done exactly once. Only the current assignee may
// complete it, and the recorded completion time never changes afterwards.
func (e Engine) CompleteTask(ctx context.Context, caller string, id int64) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Assignee != caller {
		return domain.Task{}, auth.UnauthorizedError{Principal: caller, Reason: "not the assignee"}
	}
	if t.Completed {
		return domain.Task{}, InvalidStateError{Reason: "task already completed"}
	}
	completedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.MarkTaskCompleted(ctx, tx, id, completedAt); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.completed", "task", fmt.Sprint(id), caller, events.EventPayload{
		"completed_at": completedAt,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.Completed = true
	t.CompletedAt = &completedAt
	return t, nil
}

// VerifyTaskOwnership reports whether the given user is the task's current
// assignee. The check itself is logged to the event trail.
func (e Engine) VerifyTaskOwnership(ctx context.Context, caller string, id int64, user string) (bool, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	status := t.Assignee == user
	if err := e.audit(ctx, "task.ownership.verified", "task", fmt.Sprint(id), caller, events.EventPayload{
		"user":   user,
		"status": status,
	}); err != nil {
		return false, err
	}
	return status, nil
}

// VerifyTaskStatus reports whether the task has been completed.
func (e Engine) VerifyTaskStatus(ctx context.Context, caller string, id int64) (bool, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	status := t.Completed
	if err := e.audit(ctx, "task.status.verified", "task", fmt.Sprint(id), caller, events.EventPayload{
		"status": status,
	}); err != nil {
		return false, err
	}
	return status, nil
}

// VerifyTaskDueDate reports whether the task's due date has not yet passed.
func (e Engine) VerifyTaskDueDate(ctx context.Context, caller string, id int64) (bool, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	due, err := time.Parse(time.RFC3339, t.DueDate)
	if err != nil {
		return false, err
	}
	status := due.After(e.now())
	if err := e.audit(ctx, "task.duedate.verified", "task", fmt.Sprint(id), caller, events.EventPayload{
		"due_date": t.DueDate,
		"status":   status,
	}); err != nil {
		return false, err
	}
	return status, nil
}
