package engine_test

import (
	"errors"
	"testing"
	"time"

	"trustline/internal/domain"
	"trustline/internal/engine"
	"trustline/internal/engine/auth"
	"trustline/internal/repo"
)

func createTask(t *testing.T, env testEnv, assignee string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Caller:      "mgr",
		Title:       "Review onboarding",
		Description: "Check the new hire paperwork",
		Priority:    domain.PriorityMedium,
		DueDate:     "2024-06-01T00:00:00Z",
		Assignee:    assignee,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestTaskIDsStartAtZero(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	first := createTask(t, env, "bob")
	if first.ID != 0 {
		t.Fatalf("first id = %d", first.ID)
	}
	second := createTask(t, env, "bob")
	if second.ID != 1 {
		t.Fatalf("second id = %d", second.ID)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	cases := []struct {
		name string
		opts engine.TaskCreateOptions
	}{
		{"empty title", engine.TaskCreateOptions{Caller: "mgr", Description: "d", Priority: "low", DueDate: "2024-06-01T00:00:00Z", Assignee: "bob"}},
		{"empty description", engine.TaskCreateOptions{Caller: "mgr", Title: "t", Priority: "low", DueDate: "2024-06-01T00:00:00Z", Assignee: "bob"}},
		{"bad priority", engine.TaskCreateOptions{Caller: "mgr", Title: "t", Description: "d", Priority: "urgent", DueDate: "2024-06-01T00:00:00Z", Assignee: "bob"}},
		{"past due date", engine.TaskCreateOptions{Caller: "mgr", Title: "t", Description: "d", Priority: "low", DueDate: "2023-06-01T00:00:00Z", Assignee: "bob"}},
		{"due date equals now", engine.TaskCreateOptions{Caller: "mgr", Title: "t", Description: "d", Priority: "low", DueDate: "2024-01-01T00:00:00Z", Assignee: "bob"}},
		{"empty assignee", engine.TaskCreateOptions{Caller: "mgr", Title: "t", Description: "d", Priority: "low", DueDate: "2024-06-01T00:00:00Z"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateTask(env.Ctx, tc.opts)
			var invalid engine.InvalidArgumentError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestCreateTaskUnauthorizedConsumesNoID(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Caller: "bob", Title: "t", Description: "d", Priority: "low",
		DueDate: "2024-06-01T00:00:00Z", Assignee: "bob",
	})
	var unauthorized auth.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	task := createTask(t, env, "bob")
	if task.ID != 0 {
		t.Fatalf("rejected attempt consumed id: next = %d", task.ID)
	}
}

func TestCompleteTaskOnce(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")
	task := createTask(t, env, "bob")

	done, err := env.Engine.CompleteTask(env.Ctx, "bob", task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Completed || done.CompletedAt == nil {
		t.Fatal("task not marked completed")
	}
	firstCompletedAt := *done.CompletedAt

	_, err = env.Engine.CompleteTask(env.Ctx, "bob", task.ID)
	var invalidState engine.InvalidStateError
	if !errors.As(err, &invalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, "bob", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt == nil || *got.CompletedAt != firstCompletedAt {
		t.Fatal("completion timestamp changed on second attempt")
	}
}

func TestCompleteTaskRequiresAssignee(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")
	registerUser(t, env, "carol")
	task := createTask(t, env, "bob")

	_, err := env.Engine.CompleteTask(env.Ctx, "carol", task.ID)
	var unauthorized auth.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// manager is not the assignee either
	_, err = env.Engine.CompleteTask(env.Ctx, "mgr", task.ID)
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized for manager, got %v", err)
	}
}

func TestReassignTask(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")
	registerUser(t, env, "carol")
	a := createTask(t, env, "bob")
	b := createTask(t, env, "bob")
	c := createTask(t, env, "bob")

	moved, err := env.Engine.ReassignTask(env.Ctx, "mgr", a.ID, "carol")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if moved.Assignee != "carol" {
		t.Fatalf("assignee = %q", moved.Assignee)
	}

	bobTasks, err := env.Engine.ListUserTasks(env.Ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	ids := map[int64]bool{}
	for _, task := range bobTasks {
		ids[task.ID] = true
	}
	if ids[a.ID] || !ids[b.ID] || !ids[c.ID] || len(bobTasks) != 2 {
		t.Fatalf("bob's tasks after reassign = %v", ids)
	}
	carolTasks, err := env.Engine.ListUserTasks(env.Ctx, "carol")
	if err != nil || len(carolTasks) != 1 || carolTasks[0].ID != a.ID {
		t.Fatalf("carol's tasks = %v err=%v", carolTasks, err)
	}

	_, err = env.Engine.ReassignTask(env.Ctx, "mgr", a.ID, "carol")
	var invalidState engine.InvalidStateError
	if !errors.As(err, &invalidState) {
		t.Fatalf("same assignee should be invalid state, got %v", err)
	}
	_, err = env.Engine.ReassignTask(env.Ctx, "mgr", 99, "carol")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// Moving a task out of the middle of an index relocates the last entry into
// the freed slot; repeated moves must keep every id in exactly one index.
func TestReassignKeepsIndexConsistent(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")
	registerUser(t, env, "carol")
	a := createTask(t, env, "bob")
	b := createTask(t, env, "bob")
	c := createTask(t, env, "bob")

	owner := map[int64]string{a.ID: "bob", b.ID: "bob", c.ID: "bob"}
	moves := []struct {
		id int64
		to string
	}{
		{b.ID, "carol"},
		{a.ID, "carol"},
		{b.ID, "bob"},
		{c.ID, "carol"},
		{b.ID, "carol"},
	}
	for i, m := range moves {
		if _, err := env.Engine.ReassignTask(env.Ctx, "mgr", m.id, m.to); err != nil {
			t.Fatalf("move %d (task %d to %s): %v", i, m.id, m.to, err)
		}
		owner[m.id] = m.to

		seen := map[int64]string{}
		for _, assignee := range []string{"bob", "carol"} {
			ids, err := env.Engine.Repo.ListAssignedTaskIDs(env.Ctx, assignee)
			if err != nil {
				t.Fatalf("move %d index %s: %v", i, assignee, err)
			}
			for _, id := range ids {
				if prev, dup := seen[id]; dup {
					t.Fatalf("move %d: task %d indexed for both %s and %s", i, id, prev, assignee)
				}
				seen[id] = assignee
			}
		}
		if len(seen) != 3 {
			t.Fatalf("move %d: %d tasks indexed, want 3", i, len(seen))
		}
		for id, want := range owner {
			if seen[id] != want {
				t.Fatalf("move %d: task %d indexed for %s, want %s", i, id, seen[id], want)
			}
		}
	}
}

func TestListTasks(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	if _, err := env.Engine.ListTasks(env.Ctx, "mgr"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("empty ledger should be not found, got %v", err)
	}
	createTask(t, env, "bob")
	createTask(t, env, "bob")

	tasks, err := env.Engine.ListTasks(env.Ctx, "mgr")
	if err != nil || len(tasks) != 2 {
		t.Fatalf("list: %v %d", err, len(tasks))
	}
	if tasks[0].ID != 0 || tasks[1].ID != 1 {
		t.Fatalf("tasks out of id order: %d %d", tasks[0].ID, tasks[1].ID)
	}

	_, err = env.Engine.ListTasks(env.Ctx, "bob")
	var unauthorized auth.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("non-manager list should be unauthorized, got %v", err)
	}

	if _, err := env.Engine.ListUserTasks(env.Ctx, "carol"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("no assigned tasks should be not found, got %v", err)
	}
}

func TestGetTaskAccess(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")
	registerUser(t, env, "carol")
	task := createTask(t, env, "bob")

	if _, err := env.Engine.GetTask(env.Ctx, "bob", task.ID); err != nil {
		t.Fatalf("assignee get: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "mgr", task.ID); err != nil {
		t.Fatalf("manager get: %v", err)
	}
	_, err := env.Engine.GetTask(env.Ctx, "carol", task.ID)
	var unauthorized auth.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// missing task reports not found even to outsiders
	_, err = env.Engine.GetTask(env.Ctx, "carol", 42)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTaskVerificationPredicates(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")
	task := createTask(t, env, "bob")

	ok, err := env.Engine.VerifyTaskOwnership(env.Ctx, "mgr", task.ID, "bob")
	if err != nil || !ok {
		t.Fatalf("ownership bob: ok=%v err=%v", ok, err)
	}
	ok, err = env.Engine.VerifyTaskOwnership(env.Ctx, "mgr", task.ID, "carol")
	if err != nil || ok {
		t.Fatalf("ownership carol: ok=%v err=%v", ok, err)
	}

	ok, err = env.Engine.VerifyTaskStatus(env.Ctx, "mgr", task.ID)
	if err != nil || ok {
		t.Fatalf("status pending: ok=%v err=%v", ok, err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, "bob", task.ID); err != nil {
		t.Fatal(err)
	}
	ok, err = env.Engine.VerifyTaskStatus(env.Ctx, "mgr", task.ID)
	if err != nil || !ok {
		t.Fatalf("status completed: ok=%v err=%v", ok, err)
	}

	ok, err = env.Engine.VerifyTaskDueDate(env.Ctx, "mgr", task.ID)
	if err != nil || !ok {
		t.Fatalf("due date pending: ok=%v err=%v", ok, err)
	}
	env.Engine.Now = func() time.Time {
		return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	}
	ok, err = env.Engine.VerifyTaskDueDate(env.Ctx, "mgr", task.ID)
	if err != nil || ok {
		t.Fatalf("due date passed: ok=%v err=%v", ok, err)
	}

	if _, err := env.Engine.VerifyTaskOwnership(env.Ctx, "mgr", 42, "bob"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing task: %v", err)
	}
}

func TestVerificationLeavesAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")
	task := createTask(t, env, "bob")

	before, err := env.Engine.Repo.LatestEventID(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.VerifyTaskOwnership(env.Ctx, "mgr", task.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	after, err := env.Engine.Repo.LatestEventID(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after <= before {
		t.Fatal("verification did not append an event")
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, "task.ownership.verified", "", "")
	if err != nil || len(events) != 1 {
		t.Fatalf("events: %v %d", err, len(events))
	}
}
