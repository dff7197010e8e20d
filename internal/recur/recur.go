// Package recur expands recurring tasks into concrete future occurrences.
// Projection is pure: it derives transient tasks from stored ones and never
// mutates or persists anything.
package recur

import (
	"fmt"
	"time"

	"labflow/internal/domain"
)

// Rule is the closed set of supported recurrence kinds.
type Rule int

const (
	RuleNone Rule = iota
	RuleDaily
	RuleWeekly
	RuleMonthly
	RuleYearly
)

// ParseRule maps a stored recurrence value to a Rule. Unrecognized values
// degrade to RuleNone so a single malformed task never fails a whole batch.
func ParseRule(s string) Rule {
	switch s {
	case "daily":
		return RuleDaily
	case "weekly":
		return RuleWeekly
	case "monthly":
		return RuleMonthly
	case "yearly":
		return RuleYearly
	default:
		return RuleNone
	}
}

func (r Rule) String() string {
	switch r {
	case RuleDaily:
		return "daily"
	case RuleWeekly:
		return "weekly"
	case RuleMonthly:
		return "monthly"
	case RuleYearly:
		return "yearly"
	default:
		return "none"
	}
}

// Advance returns the next occurrence instant after t for the rule.
// The step is strictly increasing for every supported rule.
func (r Rule) Advance(t time.Time) time.Time {
	switch r {
	case RuleDaily:
		return t.AddDate(0, 0, 1)
	case RuleWeekly:
		return t.AddDate(0, 0, 7)
	case RuleMonthly:
		return addMonths(t, 1)
	case RuleYearly:
		return addMonths(t, 12)
	default:
		return t
	}
}

// addMonths adds calendar months, clamping the day-of-month to the last
// valid day of the target month. time.AddDate normalizes overflow instead
// (Jan 31 + 1 month = Mar 2/3), which silently drifts recurring due dates.
func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	m := int(month) - 1 + months
	year += m / 12
	m %= 12
	if m < 0 {
		m += 12
		year--
	}
	target := time.Month(m + 1)
	if last := daysIn(year, target); day > last {
		day = last
	}
	return time.Date(year, target, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Project expands each task into itself plus its future occurrences strictly
// before horizon. Source tasks are always emitted first and unmodified; tasks
// without a recurrence rule or a parseable due instant contribute no
// occurrences. Deterministic for fixed inputs.
func Project(tasks []domain.Task, horizon time.Time) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t)
		rule := ParseRule(t.Recurrence)
		if rule == RuleNone || t.DueAt == nil {
			continue
		}
		due, err := time.Parse(time.RFC3339, *t.DueAt)
		if err != nil {
			continue
		}
		var duration time.Duration
		var hasStart bool
		if t.StartAt != nil {
			if start, err := time.Parse(time.RFC3339, *t.StartAt); err == nil {
				duration = due.Sub(start)
				hasStart = true
			}
		}
		cursor := due
		for index := 1; ; index++ {
			next := rule.Advance(cursor)
			if !next.Before(horizon) {
				break
			}
			out = append(out, occurrence(t, next, index, duration, hasStart, *t.DueAt))
			cursor = next
		}
	}
	return out
}

// occurrence derives one projected instance. Its identity is the source ID
// plus a 1-based index, so identities are unique per source and stable
// across calls. Status and progress reset; attachments never carry over.
func occurrence(src domain.Task, due time.Time, index int, duration time.Duration, hasStart bool, originalDue string) domain.Task {
	occ := src
	occ.ID = fmt.Sprintf("%s-r%d", src.ID, index)
	occ.Status = "not_started"
	occ.Progress = 0
	occ.CompletedAt = nil
	occ.AttachmentPath = nil
	occ.Projected = true
	dueStr := due.Format(time.RFC3339)
	occ.DueAt = &dueStr
	occ.StartAt = nil
	if hasStart {
		startStr := due.Add(-duration).Format(time.RFC3339)
		occ.StartAt = &startStr
	}
	note := fmt.Sprintf("Recurring occurrence of %s (originally due %s)", src.ID, originalDue)
	if src.Description != "" {
		occ.Description = src.Description + "\n" + note
	} else {
		occ.Description = note
	}
	return occ
}
