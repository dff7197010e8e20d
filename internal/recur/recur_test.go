package recur

import (
	"strings"
	"testing"
	"time"

	"labflow/internal/domain"
)

func strPtr(s string) *string { return &s }

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestParseRuleRoundTrip(t *testing.T) {
	for _, s := range []string{"none", "daily", "weekly", "monthly", "yearly"} {
		if got := ParseRule(s).String(); got != s {
			t.Fatalf("ParseRule(%q).String() = %q", s, got)
		}
	}
	if ParseRule("fortnightly") != RuleNone {
		t.Fatalf("unknown rule should degrade to none")
	}
	if ParseRule("") != RuleNone {
		t.Fatalf("empty rule should degrade to none")
	}
}

func TestAdvanceMonthlyClampsDayOfMonth(t *testing.T) {
	// Jan 31 -> Feb 28 -> Mar 28, not the Mar 2/3 drift AddDate produces.
	cur := mustParse(t, "2025-01-31T09:00:00Z")
	cur = RuleMonthly.Advance(cur)
	if got := cur.Format(time.RFC3339); got != "2025-02-28T09:00:00Z" {
		t.Fatalf("Feb step: got %s", got)
	}
	cur = RuleMonthly.Advance(cur)
	if got := cur.Format(time.RFC3339); got != "2025-03-28T09:00:00Z" {
		t.Fatalf("Mar step: got %s", got)
	}
}

func TestAdvanceYearlyLeapDay(t *testing.T) {
	cur := mustParse(t, "2024-02-29T00:00:00Z")
	cur = RuleYearly.Advance(cur)
	if got := cur.Format(time.RFC3339); got != "2025-02-28T00:00:00Z" {
		t.Fatalf("leap day should clamp, got %s", got)
	}
}

func TestProjectEmitsSourceFirst(t *testing.T) {
	task := domain.Task{
		ID:         "t1",
		Title:      "Water cultures",
		Status:     "in_progress",
		Progress:   40,
		Recurrence: "weekly",
		DueAt:      strPtr("2025-06-01T12:00:00Z"),
	}
	horizon := mustParse(t, "2025-06-20T00:00:00Z")
	out := Project([]domain.Task{task}, horizon)
	if len(out) != 3 {
		t.Fatalf("expected source + 2 occurrences, got %d", len(out))
	}
	if out[0].ID != "t1" || out[0].Projected {
		t.Fatalf("source must come first and unmodified")
	}
	if out[0].Status != "in_progress" || out[0].Progress != 40 {
		t.Fatalf("source fields must not be reset")
	}
	if out[1].ID != "t1-r1" || out[2].ID != "t1-r2" {
		t.Fatalf("occurrence ids: %s, %s", out[1].ID, out[2].ID)
	}
	for _, occ := range out[1:] {
		if !occ.Projected {
			t.Fatalf("occurrence %s must be marked projected", occ.ID)
		}
		if occ.Status != "not_started" || occ.Progress != 0 {
			t.Fatalf("occurrence %s must reset status and progress", occ.ID)
		}
		if !strings.Contains(occ.Description, "t1") {
			t.Fatalf("occurrence description should reference the source")
		}
	}
	if *out[1].DueAt != "2025-06-08T12:00:00Z" || *out[2].DueAt != "2025-06-15T12:00:00Z" {
		t.Fatalf("occurrence due dates wrong: %s, %s", *out[1].DueAt, *out[2].DueAt)
	}
}

func TestProjectHorizonIsExclusive(t *testing.T) {
	task := domain.Task{
		ID:         "t1",
		Recurrence: "daily",
		DueAt:      strPtr("2025-06-01T00:00:00Z"),
	}
	// Horizon exactly on the next occurrence: nothing projected.
	out := Project([]domain.Task{task}, mustParse(t, "2025-06-02T00:00:00Z"))
	if len(out) != 1 {
		t.Fatalf("occurrence on the horizon must be excluded, got %d tasks", len(out))
	}
}

func TestProjectPreservesDuration(t *testing.T) {
	task := domain.Task{
		ID:         "t1",
		Recurrence: "daily",
		StartAt:    strPtr("2025-06-01T08:00:00Z"),
		DueAt:      strPtr("2025-06-01T10:30:00Z"),
	}
	out := Project([]domain.Task{task}, mustParse(t, "2025-06-03T00:00:00Z"))
	if len(out) != 2 {
		t.Fatalf("expected one occurrence, got %d tasks", len(out))
	}
	occ := out[1]
	if occ.StartAt == nil || occ.DueAt == nil {
		t.Fatalf("occurrence must keep a start when the source has one")
	}
	start := mustParse(t, *occ.StartAt)
	due := mustParse(t, *occ.DueAt)
	if due.Sub(start) != 2*time.Hour+30*time.Minute {
		t.Fatalf("duration not preserved: %s", due.Sub(start))
	}
}

func TestProjectSkipsNonRecurring(t *testing.T) {
	tasks := []domain.Task{
		{ID: "plain", Recurrence: "none", DueAt: strPtr("2025-06-01T00:00:00Z")},
		{ID: "nodue", Recurrence: "daily"},
		{ID: "baddue", Recurrence: "daily", DueAt: strPtr("tomorrow-ish")},
	}
	out := Project(tasks, mustParse(t, "2025-12-01T00:00:00Z"))
	if len(out) != 3 {
		t.Fatalf("no occurrences expected, got %d tasks", len(out))
	}
}

func TestProjectClearsAttachments(t *testing.T) {
	task := domain.Task{
		ID:             "t1",
		Recurrence:     "daily",
		DueAt:          strPtr("2025-06-01T00:00:00Z"),
		AttachmentPath: strPtr("/data/protocols/p1.pdf"),
	}
	out := Project([]domain.Task{task}, mustParse(t, "2025-06-03T00:00:00Z"))
	if out[0].AttachmentPath == nil {
		t.Fatalf("source attachment must survive")
	}
	if out[1].AttachmentPath != nil {
		t.Fatalf("occurrence must not carry the attachment")
	}
}
