package engine_test

import (
	"context"
	"testing"
	"time"

	"labflow/internal/config"
	"labflow/internal/db"
	"labflow/internal/engine"
	"labflow/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("lab-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "lab-1", "Test Lab", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "lab-1",
		Title:     "Calibrate spectrometer",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != "not_started" {
		t.Fatalf("new task status: %s", task.Status)
	}
	// not_started -> done is not allowed directly
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "done", ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected transition error")
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "in_progress", ActorID: "tester"})
	if err != nil || task.Status != "in_progress" {
		t.Fatalf("to in_progress: %v", err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "done", ActorID: "tester"})
	if err != nil || task.Status != "done" {
		t.Fatalf("to done: %v", err)
	}
	if task.CompletedAt == nil || task.Progress != 100 {
		t.Fatalf("done must stamp completion and fill progress: %+v", task)
	}
	// done can be reopened, and reopening clears completion
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "in_progress", ActorID: "tester"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if task.CompletedAt != nil {
		t.Fatalf("reopen must clear completed_at")
	}
	// canceled is terminal except back to not_started
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "canceled", ActorID: "tester"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "done", ActorID: "tester"})
	if err == nil {
		t.Fatalf("canceled -> done should error")
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "not_started", ActorID: "tester"})
	if err != nil {
		t.Fatalf("canceled -> not_started: %v", err)
	}
}

func TestForceBypassesTransitionRules(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "lab-1", Title: "forced", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "done", ActorID: "tester", Force: true})
	if err != nil || task.Status != "done" {
		t.Fatalf("forced jump to done: %v", err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "lab-1", ActorID: "tester"}); err == nil {
		t.Fatalf("missing title should error")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "lab-1", Title: "x", Priority: "urgent", ActorID: "tester"}); err == nil {
		t.Fatalf("unknown priority should error")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "nope", Title: "x", ActorID: "tester"}); err == nil {
		t.Fatalf("unknown project should error")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "lab-1", Title: "x", ActorID: "tester",
		StartAt: "2025-06-10T00:00:00Z", DueAt: "2025-06-01T00:00:00Z",
	}); err == nil {
		t.Fatalf("start after due should error")
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "lab-1", Title: "x", ActorID: "tester",
		DueAt:      "2025-06-10T02:00:00+02:00",
		Recurrence: "every-other-day",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if *task.DueAt != "2025-06-10T00:00:00Z" {
		t.Fatalf("timestamps must normalize to UTC: %s", *task.DueAt)
	}
	if task.Recurrence != "none" {
		t.Fatalf("unknown recurrence must degrade to none: %s", task.Recurrence)
	}
}

func TestAssigneeMustBelongToProject(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitProject(env.Ctx, "lab-2", "Other Lab", "", "tester"); err != nil {
		t.Fatal(err)
	}
	outsider, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeOptions{ProjectID: "lab-2", Name: "Mallory", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "lab-1", Title: "x", AssigneeID: outsider.ID, ActorID: "tester",
	})
	if err == nil {
		t.Fatalf("cross-project assignee should error")
	}
	insider, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeOptions{ProjectID: "lab-1", Name: "Alice", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "lab-1", Title: "x", AssigneeID: insider.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create with assignee: %v", err)
	}
	// empty assign pointer clears the assignment
	empty := ""
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Assign: &empty, ActorID: "tester"})
	if err != nil || task.AssigneeID != nil {
		t.Fatalf("unassign: %v %+v", err, task.AssigneeID)
	}
}

func TestCalendarProjectsRecurringTasks(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  "lab-1",
		Title:      "Weekly sample rotation",
		DueAt:      "2025-06-02T09:00:00Z",
		Recurrence: "weekly",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	// unscheduled tasks stay off the calendar
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "lab-1", Title: "backlog item", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	horizon := time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)
	items, err := env.Engine.CalendarTasks(env.Ctx, "lab-1", horizon)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	// source + Jun 9 + Jun 16
	if len(items) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(items))
	}
	projected := 0
	for _, it := range items {
		if it.Projected {
			projected++
		}
	}
	if projected != 2 {
		t.Fatalf("expected 2 projected occurrences, got %d", projected)
	}
}

func TestDashboardAggregates(t *testing.T) {
	env := newTestEnv(t)
	emp, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeOptions{ProjectID: "lab-1", Name: "Alice", Role: "technician", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	mk := func(title, due string) string {
		t.Helper()
		task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			ProjectID: "lab-1", Title: title, DueAt: due, Priority: "high", AssigneeID: emp.ID, ActorID: "tester",
		})
		if err != nil {
			t.Fatal(err)
		}
		return task.ID
	}
	overdueID := mk("late", "2025-05-20T00:00:00Z")
	mk("soon", "2025-06-04T00:00:00Z")
	mk("far", "2025-09-01T00:00:00Z")
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: overdueID, Status: "done", ActorID: "tester", Force: true}); err != nil {
		t.Fatal(err)
	}

	s, err := env.Engine.Dashboard(env.Ctx, "lab-1")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if s.TasksByStatus["done"] != 1 || s.TasksByStatus["not_started"] != 2 {
		t.Fatalf("status counts: %+v", s.TasksByStatus)
	}
	if s.TasksByPriority["high"] != 3 {
		t.Fatalf("priority counts: %+v", s.TasksByPriority)
	}
	if s.TasksByAssignee[emp.ID] != 3 {
		t.Fatalf("assignee counts: %+v", s.TasksByAssignee)
	}
	// the late task is done so it no longer counts as overdue
	if s.OverdueCount != 0 {
		t.Fatalf("overdue: %d", s.OverdueCount)
	}
	if s.DueWithinWeek != 1 {
		t.Fatalf("due within week: %d", s.DueWithinWeek)
	}
	if s.EmployeeCount != 1 {
		t.Fatalf("employees: %d", s.EmployeeCount)
	}
	if s.CompletedCount != 1 {
		t.Fatalf("completed: %d", s.CompletedCount)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "lab-1", Title: "evented", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "in_progress", ActorID: "tester"})
	_, _ = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "done", ActorID: "tester"})
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, task.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	types := map[string]int{}
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatal(err)
		}
		types[typ]++
	}
	if types["task.created"] != 1 || types["task.updated"] != 2 || types["task.deleted"] != 1 {
		t.Fatalf("event types: %v", types)
	}
}

func TestEmployeeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	emp, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeOptions{
		ProjectID: "lab-1", Name: "Alice", Email: "alice@lab.test", Role: "technician", Department: "chemistry", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	role := "supervisor"
	emp, err = env.Engine.UpdateEmployee(env.Ctx, engine.EmployeeUpdateOptions{ID: emp.ID, Role: &role, ActorID: "tester"})
	if err != nil || emp.Role != "supervisor" {
		t.Fatalf("update: %v", err)
	}
	empty := ""
	if _, err := env.Engine.UpdateEmployee(env.Ctx, engine.EmployeeUpdateOptions{ID: emp.ID, Name: &empty, ActorID: "tester"}); err == nil {
		t.Fatalf("empty name should error")
	}
	if err := env.Engine.DeleteEmployee(env.Ctx, emp.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetEmployee(env.Ctx, emp.ID); err == nil {
		t.Fatalf("expected not found after delete")
	}
}
