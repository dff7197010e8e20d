package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"active,paused,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
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
	Recurrence     string  `json:"recurrence,omitempty" enum:"none,daily,weekly,monthly,yearly"`
	AttachmentPath *string `json:"attachment_path,omitempty"`
	// Projected marks occurrences synthesized by the recurrence projector;
	// such tasks are derived on read and never persisted.
	Projected   bool    `json:"projected,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type Employee struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DashboardSummary holds the derived aggregates rendered by the dashboard.
type DashboardSummary struct {
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
