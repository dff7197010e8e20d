package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"labflow/internal/config"
	"labflow/internal/domain"
	"labflow/internal/events"
	"labflow/internal/recur"
	"labflow/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InitProject initializes a new project with migrations already run.
func (e Engine) InitProject(ctx context.Context, projectID, name, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if name == "" {
		name = projectID
	}
	p := domain.Project{
		ID:          projectID,
		Name:        name,
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID             string
	ProjectID      string
	Title          string
	Description    string
	Priority       string
	AssigneeID     string
	StartAt        string
	DueAt          string
	Recurrence     string
	AttachmentPath string
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	if opts.Priority != "" && !validPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("invalid priority %s", opts.Priority)
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	if opts.AssigneeID != "" {
		emp, err := e.Repo.GetEmployee(ctx, opts.AssigneeID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("assignee: %w", err)
		}
		if emp.ProjectID != opts.ProjectID {
			return domain.Task{}, fmt.Errorf("assignee %s not in project %s", opts.AssigneeID, opts.ProjectID)
		}
	}
	startAt, err := normalizeTimestamp(opts.StartAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("start: %w", err)
	}
	dueAt, err := normalizeTimestamp(opts.DueAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("due: %w", err)
	}
	if startAt != nil && dueAt != nil && *startAt > *dueAt {
		return domain.Task{}, errors.New("start must not be after due")
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|"+opts.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:             id,
		ProjectID:      opts.ProjectID,
		Title:          opts.Title,
		Description:    opts.Description,
		Status:         "not_started",
		Priority:       opts.Priority,
		Progress:       0,
		AssigneeID:     optionalString(opts.AssigneeID),
		StartAt:        startAt,
		DueAt:          dueAt,
		Recurrence:     recur.ParseRule(opts.Recurrence).String(),
		AttachmentPath: optionalString(opts.AttachmentPath),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed updates.
type TaskUpdateOptions struct {
	ID             string
	Title          *string
	Description    *string
	Status         string
	Priority       *string
	Progress       *int
	Assign         *string
	StartAt        *string
	DueAt          *string
	Recurrence     *string
	AttachmentPath *string
	ActorID        string
	Force          bool
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	original := t
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if opts.Title != nil {
		if *opts.Title == "" {
			return t, errors.New("title must not be empty")
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil {
		if *opts.Priority != "" && !validPriority(*opts.Priority) {
			return t, fmt.Errorf("invalid priority %s", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.Progress != nil {
		if *opts.Progress < 0 || *opts.Progress > 100 {
			return t, errors.New("progress must be between 0 and 100")
		}
		t.Progress = *opts.Progress
	}
	if opts.Assign != nil {
		if *opts.Assign == "" {
			t.AssigneeID = nil
		} else {
			emp, err := e.Repo.GetEmployee(ctx, *opts.Assign)
			if err != nil {
				return t, fmt.Errorf("assignee: %w", err)
			}
			if emp.ProjectID != t.ProjectID {
				return t, fmt.Errorf("assignee %s not in project %s", *opts.Assign, t.ProjectID)
			}
			t.AssigneeID = opts.Assign
		}
	}
	if opts.StartAt != nil {
		v, err := normalizeTimestamp(*opts.StartAt)
		if err != nil {
			return t, fmt.Errorf("start: %w", err)
		}
		t.StartAt = v
	}
	if opts.DueAt != nil {
		v, err := normalizeTimestamp(*opts.DueAt)
		if err != nil {
			return t, fmt.Errorf("due: %w", err)
		}
		t.DueAt = v
	}
	if t.StartAt != nil && t.DueAt != nil && *t.StartAt > *t.DueAt {
		return t, errors.New("start must not be after due")
	}
	if opts.Recurrence != nil {
		t.Recurrence = recur.ParseRule(*opts.Recurrence).String()
	}
	if opts.AttachmentPath != nil {
		t.AttachmentPath = optionalString(*opts.AttachmentPath)
	}
	if opts.Status != "" && opts.Status != t.Status {
		if !config.ValidStatus(opts.Status) {
			return t, fmt.Errorf("unknown status %s", opts.Status)
		}
		if err := ensureTaskTransition(t.Status, opts.Status, opts.Force); err != nil {
			return t, err
		}
		t.Status = opts.Status
		switch opts.Status {
		case "done":
			now := e.now().UTC().Format(time.RFC3339)
			t.CompletedAt = &now
			t.Progress = 100
		default:
			t.CompletedAt = nil
		}
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.ProjectID, "task", t.ID, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureTaskTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "not_started":
		if newStatus == "in_progress" || newStatus == "canceled" {
			return nil
		}
	case "in_progress":
		if newStatus == "done" || newStatus == "canceled" || newStatus == "not_started" {
			return nil
		}
	case "done":
		if newStatus == "in_progress" {
			return nil
		}
	case "canceled":
		if newStatus == "not_started" {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

func validPriority(p string) bool {
	return p == "low" || p == "medium" || p == "high"
}

// normalizeTimestamp parses an RFC3339 timestamp and re-renders it in UTC.
// Empty input maps to nil.
func normalizeTimestamp(v string) (*string, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	s := t.UTC().Format(time.RFC3339)
	return &s, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// EmployeeOptions are parameters for creating or updating an employee.
type EmployeeOptions struct {
	ID         string
	ProjectID  string
	Name       string
	Email      string
	Role       string
	Department string
	ActorID    string
}

func (e Engine) CreateEmployee(ctx context.Context, opts EmployeeOptions) (domain.Employee, error) {
	if opts.Name == "" {
		return domain.Employee{}, errors.New("name is required")
	}
	if opts.ProjectID == "" {
		return domain.Employee{}, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Employee{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|employee|"+opts.Name+"|"+now)).String()
	}
	emp := domain.Employee{
		ID:         id,
		ProjectID:  opts.ProjectID,
		Name:       opts.Name,
		Email:      opts.Email,
		Role:       opts.Role,
		Department: opts.Department,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Employee{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertEmployee(ctx, tx, emp); err != nil {
		return domain.Employee{}, err
	}
	if err := e.Events.Append(ctx, tx, "employee.created", emp.ProjectID, "employee", emp.ID, opts.ActorID, events.EventPayload{"name": emp.Name}); err != nil {
		return domain.Employee{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Employee{}, err
	}
	return emp, nil
}

// EmployeeUpdateOptions encapsulates allowed employee updates.
type EmployeeUpdateOptions struct {
	ID         string
	Name       *string
	Email      *string
	Role       *string
	Department *string
	ActorID    string
}

func (e Engine) UpdateEmployee(ctx context.Context, opts EmployeeUpdateOptions) (domain.Employee, error) {
	emp, err := e.Repo.GetEmployee(ctx, opts.ID)
	if err != nil {
		return emp, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return emp, errors.New("name must not be empty")
		}
		emp.Name = *opts.Name
	}
	if opts.Email != nil {
		emp.Email = *opts.Email
	}
	if opts.Role != nil {
		emp.Role = *opts.Role
	}
	if opts.Department != nil {
		emp.Department = *opts.Department
	}
	emp.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return emp, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateEmployee(ctx, tx, emp); err != nil {
		return emp, err
	}
	if err := e.Events.Append(ctx, tx, "employee.updated", emp.ProjectID, "employee", emp.ID, opts.ActorID, events.EventPayload{"name": emp.Name}); err != nil {
		return emp, err
	}
	if err := tx.Commit(); err != nil {
		return emp, err
	}
	return emp, nil
}

func (e Engine) DeleteEmployee(ctx context.Context, id, actorID string) error {
	emp, err := e.Repo.GetEmployee(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteEmployee(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "employee.deleted", emp.ProjectID, "employee", emp.ID, actorID, events.EventPayload{"name": emp.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// CalendarTasks returns the project's scheduled tasks with recurring occurrences
// expanded up to the horizon. Projected occurrences are derived on the fly and
// never persisted.
func (e Engine) CalendarTasks(ctx context.Context, projectID string, horizon time.Time) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	var scheduled []domain.Task
	for _, t := range tasks {
		if t.DueAt == nil && t.StartAt == nil {
			continue
		}
		scheduled = append(scheduled, t)
	}
	return recur.Project(scheduled, horizon), nil
}

// HorizonDays yields the configured calendar horizon, defaulting to 90 days.
func (e Engine) HorizonDays() int {
	if e.Config != nil && e.Config.Calendar.HorizonDays > 0 {
		return e.Config.Calendar.HorizonDays
	}
	return 90
}

// Dashboard aggregates task and staffing counts for a project.
func (e Engine) Dashboard(ctx context.Context, projectID string) (domain.DashboardSummary, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.DashboardSummary{}, err
	}
	byStatus, err := e.Repo.CountTasksByStatus(ctx, projectID)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	byPriority, err := e.Repo.CountTasksByPriority(ctx, projectID)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	byAssignee, err := e.Repo.CountTasksByAssignee(ctx, projectID)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	_, avgProgress, err := e.Repo.TaskProgressStats(ctx, projectID)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	employees, err := e.Repo.CountEmployees(ctx, projectID)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	weekStr := now.AddDate(0, 0, 7).Format(time.RFC3339)
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	var overdue, dueSoon int
	for _, t := range tasks {
		if t.DueAt == nil || t.Status == "done" || t.Status == "canceled" {
			continue
		}
		switch {
		case *t.DueAt < nowStr:
			overdue++
		case *t.DueAt < weekStr:
			dueSoon++
		}
	}
	return domain.DashboardSummary{
		ProjectID:       projectID,
		TasksByStatus:   byStatus,
		TasksByPriority: byPriority,
		TasksByAssignee: byAssignee,
		OverdueCount:    overdue,
		DueWithinWeek:   dueSoon,
		EmployeeCount:   employees,
		CompletedCount:  byStatus["done"],
		AverageProgress: avgProgress,
	}, nil
}
