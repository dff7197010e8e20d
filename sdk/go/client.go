package labflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"labflow/internal/resilience"
)

// Client is a minimal Labflow HTTP API client. Every call goes through the
// retry wrapper: transient failures are retried with exponential backoff and
// repeatedly failing endpoints trip a per-operation circuit breaker.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Registry    *resilience.Registry
	// Retry overrides; zero values use the wrapper defaults.
	MaxAttempts int
	BaseDelay   time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
		Registry:  resilience.NewRegistry(),
	}
}

// Task represents the API task model.
type Task struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Status         string  `json:"status"`
	Priority       string  `json:"priority,omitempty"`
	Progress       int     `json:"progress"`
	AssigneeID     *string `json:"assignee_id,omitempty"`
	StartAt        *string `json:"start_at,omitempty"`
	DueAt          *string `json:"due_at,omitempty"`
	Recurrence     string  `json:"recurrence"`
	AttachmentPath *string `json:"attachment_path,omitempty"`
	Projected      bool    `json:"projected,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

// Employee represents the API employee model.
type Employee struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	Payload    string `json:"payload_json"`
}

// Dashboard represents the aggregated project summary.
type Dashboard struct {
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

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// HTTPStatus feeds the retryability classification: 502/503/504 responses
// are retried, everything else 4xx/5xx is not.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// PaginatedTasks wraps task list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedEvents wraps event list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// TaskInput carries fields for task creation.
type TaskInput struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Priority       string `json:"priority,omitempty"`
	AssigneeID     string `json:"assignee_id,omitempty"`
	StartAt        string `json:"start_at,omitempty"`
	DueAt          string `json:"due_at,omitempty"`
	Recurrence     string `json:"recurrence,omitempty"`
	AttachmentPath string `json:"attachment_path,omitempty"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, "task.create", http.MethodPost, c.projectPath("tasks"), in, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s", url.PathEscape(id)))
	err := c.do(ctx, "task.get", http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateTask patches a task. Fields holds a partial update body.
func (c *Client) UpdateTask(ctx context.Context, id string, fields map[string]any) (Task, error) {
	var resp Task
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s", url.PathEscape(id)))
	err := c.do(ctx, "task.update", http.MethodPatch, endpoint, fields, &resp)
	return resp, err
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s", url.PathEscape(id)))
	return c.do(ctx, "task.delete", http.MethodDelete, endpoint, nil, nil)
}

// Tasks returns a paginated task listing.
func (c *Client) Tasks(ctx context.Context, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := c.projectPath("tasks")
	endpoint = appendQuery(endpoint, limit, cursor)
	var resp PaginatedTasks
	err := c.do(ctx, "task.list", http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Calendar returns scheduled tasks with recurring occurrences expanded.
func (c *Client) Calendar(ctx context.Context, horizonDays int) ([]Task, error) {
	endpoint := c.projectPath("calendar")
	if horizonDays > 0 {
		endpoint = fmt.Sprintf("%s?horizon_days=%d", endpoint, horizonDays)
	}
	var resp []Task
	err := c.do(ctx, "calendar", http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateEmployee creates an employee.
func (c *Client) CreateEmployee(ctx context.Context, name, email, role, department string) (Employee, error) {
	body := map[string]any{"name": name}
	if email != "" {
		body["email"] = email
	}
	if role != "" {
		body["role"] = role
	}
	if department != "" {
		body["department"] = department
	}
	var resp Employee
	err := c.do(ctx, "employee.create", http.MethodPost, c.projectPath("employees"), body, &resp)
	return resp, err
}

// Employees lists the project's employees.
func (c *Client) Employees(ctx context.Context) ([]Employee, error) {
	var resp []Employee
	err := c.do(ctx, "employee.list", http.MethodGet, c.projectPath("employees"), nil, &resp)
	return resp, err
}

// Dashboard returns the aggregated project summary.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, "dashboard", http.MethodGet, c.projectPath("dashboard"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := appendQuery(c.projectPath("events"), limit, cursor)
	var resp PaginatedEvents
	err := c.do(ctx, "event.list", http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func appendQuery(endpoint string, limit int, cursor string) string {
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	return endpoint
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Registry == nil {
		c.Registry = resilience.NewRegistry()
	}
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	opts := resilience.Options{
		Operation:   op,
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
	}
	_, err := resilience.Do(ctx, c.Registry, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.once(ctx, method, target, encoded, out)
	})
	return err
}

func (c *Client) once(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &resilience.AbortError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
