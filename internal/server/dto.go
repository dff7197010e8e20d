package server

import (
	"labflow/internal/config"
	"labflow/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateTaskRequest struct {
	ID             *string `json:"id,omitempty"`
	Title          string  `json:"title"`
	Description    *string `json:"description,omitempty"`
	Priority       *string `json:"priority,omitempty" enum:"low,medium,high"`
	AssigneeID     *string `json:"assignee_id,omitempty"`
	StartAt        *string `json:"start_at,omitempty" format:"date-time"`
	DueAt          *string `json:"due_at,omitempty" format:"date-time"`
	Recurrence     *string `json:"recurrence,omitempty"`
	AttachmentPath *string `json:"attachment_path,omitempty"`
}

type UpdateTaskRequest struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	Status         *string `json:"status,omitempty" enum:"not_started,in_progress,done,canceled"`
	Priority       *string `json:"priority,omitempty"`
	Progress       *int    `json:"progress,omitempty" minimum:"0" maximum:"100"`
	AssigneeID     *string `json:"assignee_id,omitempty"`
	StartAt        *string `json:"start_at,omitempty"`
	DueAt          *string `json:"due_at,omitempty"`
	Recurrence     *string `json:"recurrence,omitempty"`
	AttachmentPath *string `json:"attachment_path,omitempty"`
	Force          bool    `json:"force,omitempty"`
}

type CreateEmployeeRequest struct {
	ID         *string `json:"id,omitempty"`
	Name       string  `json:"name"`
	Email      *string `json:"email,omitempty"`
	Role       *string `json:"role,omitempty"`
	Department *string `json:"department,omitempty"`
}

type UpdateEmployeeRequest struct {
	Name       *string `json:"name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Role       *string `json:"role,omitempty"`
	Department *string `json:"department,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Status         string  `json:"status" enum:"not_started,in_progress,done,canceled"`
	Priority       string  `json:"priority,omitempty" enum:"low,medium,high"`
	Progress       int     `json:"progress"`
	AssigneeID     *string `json:"assignee_id,omitempty"`
	StartAt        *string `json:"start_at,omitempty" format:"date-time"`
	DueAt          *string `json:"due_at,omitempty" format:"date-time"`
	Recurrence     string  `json:"recurrence" enum:"none,daily,weekly,monthly,yearly"`
	AttachmentPath *string `json:"attachment_path,omitempty"`
	Projected      bool    `json:"projected,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
}

type EmployeeResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type ProjectConfigResponse struct {
	ProjectID string         `json:"project_id"`
	Config    *config.Config `json:"config"`
}

type BoardColumnResponse struct {
	Status string         `json:"status"`
	Title  string         `json:"title"`
	Tasks  []TaskResponse `json:"tasks"`
}

type BoardResponse struct {
	ProjectID string                `json:"project_id"`
	Columns   []BoardColumnResponse `json:"columns"`
}

type TimelineEntryResponse struct {
	Task    TaskResponse `json:"task"`
	StartAt string       `json:"start_at" format:"date-time"`
	EndAt   string       `json:"end_at" format:"date-time"`
}

type TimelineResponse struct {
	ProjectID string                  `json:"project_id"`
	Entries   []TimelineEntryResponse `json:"entries"`
}

type DashboardResponse struct {
	ProjectID       string         `json:"project_id"`
	TasksByStatus   map[string]int `json:"tasks_by_status"`
	TasksByPriority map[string]int `json:"tasks_by_priority"`
	TasksByAssignee map[string]int `json:"tasks_by_assignee"`
	OverdueCount    int            `json:"overdue_count"`
	DueWithinWeek   int            `json:"due_within_week"`
	EmployeeCount   int            `json:"employee_count"`
	CompletedCount  int            `json:"completed_count"`
	AverageProgress int            `json:"average_progress"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		ProjectID:      t.ProjectID,
		Title:          t.Title,
		Description:    t.Description,
		Status:         t.Status,
		Priority:       t.Priority,
		Progress:       t.Progress,
		AssigneeID:     t.AssigneeID,
		StartAt:        t.StartAt,
		DueAt:          t.DueAt,
		Recurrence:     t.Recurrence,
		AttachmentPath: t.AttachmentPath,
		Projected:      t.Projected,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
	}
}

func employeeResponse(e domain.Employee) EmployeeResponse {
	return EmployeeResponse{
		ID:         e.ID,
		ProjectID:  e.ProjectID,
		Name:       e.Name,
		Email:      e.Email,
		Role:       e.Role,
		Department: e.Department,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func configResponse(projectID string, cfg *config.Config) ProjectConfigResponse {
	return ProjectConfigResponse{ProjectID: projectID, Config: cfg}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapEmployees(items []domain.Employee) []EmployeeResponse {
	res := make([]EmployeeResponse, 0, len(items))
	for _, e := range items {
		res = append(res, employeeResponse(e))
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
