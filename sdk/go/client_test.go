package labflowsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"labflow/internal/resilience"
)

func newClient(srvURL string) *Client {
	c := New(srvURL, "lab-1")
	c.BaseDelay = time.Millisecond
	return c
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Task{ID: "t1", Title: "ok", Status: "not_started"})
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	task, err := c.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.ID != "t1" {
		t.Fatalf("task: %+v", task)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"not found"}}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	_, err := c.GetTask(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("404 must not be retried, got %d attempts", n)
	}
}

func TestClientCircuitBreaksPerOperation(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	c.MaxAttempts = 2
	if _, err := c.GetTask(context.Background(), "t1"); err == nil {
		t.Fatalf("expected failure")
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
	if c.Registry.CircuitState("task.get") != resilience.Open {
		t.Fatalf("task.get circuit should be open")
	}

	// Rejected locally, without another request.
	_, err := c.GetTask(context.Background(), "t1")
	if !resilience.IsCircuitOpen(err) {
		t.Fatalf("expected circuit rejection, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("open circuit must not hit the server, got %d attempts", n)
	}

	// Other operation classes are unaffected by the open task.get circuit.
	if c.Registry.CircuitState("task.create") != resilience.Closed {
		t.Fatalf("task.create circuit should stay closed")
	}
}

func TestClientSendsCredentials(t *testing.T) {
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-Api-Key")
		json.NewEncoder(w).Encode([]Employee{})
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	c.BearerToken = "tok"
	c.APIKey = "key"
	if _, err := c.Employees(context.Background()); err != nil {
		t.Fatalf("employees: %v", err)
	}
	// Bearer wins when both are set.
	if gotAuth != "Bearer tok" || gotKey != "" {
		t.Fatalf("headers: auth=%q key=%q", gotAuth, gotKey)
	}
}

func TestClientPaths(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(PaginatedTasks{})
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	if _, err := c.Tasks(context.Background(), 10, "2025-06-01T00:00:00Z|abc"); err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if gotPath != "/v0/projects/lab-1/tasks" {
		t.Fatalf("path: %s", gotPath)
	}
	if gotQuery != "limit=10&cursor=2025-06-01T00%3A00%3A00Z%7Cabc" {
		t.Fatalf("query: %s", gotQuery)
	}
}

func TestClientAbortsOnCanceledContext(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.DeleteTask(ctx, "t1")
	if !resilience.IsAbort(err) {
		t.Fatalf("expected abort, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("canceled context must not send requests")
	}
}
