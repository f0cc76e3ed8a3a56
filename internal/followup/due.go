package followup

import (
	"fmt"
	"math"
	"time"
)

type DueStatus string

const (
	DueOverdue   DueStatus = "overdue"
	DueToday     DueStatus = "due-today"
	DueScheduled DueStatus = "scheduled"
	DueNone      DueStatus = "none"
)

type DueInput struct {
	QuoteCreatedAt       *time.Time
	CallCreatedAt        *time.Time
	InvoiceDueAt         *time.Time
	RecommendedDelayDays *int
	Now                  time.Time
}

type DueInfo struct {
	Status DueStatus  `json:"status"`
	DueAt  *time.Time `json:"due_at,omitempty"`
	Label  string     `json:"label"`
}

// ComputeDueInfo anchors on the latest reference timestamp and adds the
// recommended delay. Days are compared as calendar days in Now's location.
func ComputeDueInfo(in DueInput) DueInfo {
	anchor := latest(in.QuoteCreatedAt, in.CallCreatedAt, in.InvoiceDueAt)
	if anchor == nil || in.RecommendedDelayDays == nil {
		return DueInfo{Status: DueNone, Label: "No follow-up scheduled"}
	}

	loc := in.Now.Location()
	due := anchor.In(loc).AddDate(0, 0, *in.RecommendedDelayDays)
	days := calendarDaysBetween(in.Now, due)

	info := DueInfo{DueAt: &due}
	switch {
	case days < 0:
		info.Status = DueOverdue
		info.Label = fmt.Sprintf("Overdue by %s", pluralDays(-days))
	case days == 0:
		info.Status = DueToday
		info.Label = "Due today"
	case days == 1:
		info.Status = DueScheduled
		info.Label = "Due tomorrow"
	default:
		info.Status = DueScheduled
		info.Label = fmt.Sprintf("Due in %s", pluralDays(days))
	}
	return info
}

func latest(ts ...*time.Time) *time.Time {
	var out *time.Time
	for _, t := range ts {
		if t == nil || t.IsZero() {
			continue
		}
		if out == nil || t.After(*out) {
			v := *t
			out = &v
		}
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// calendarDaysBetween returns the signed number of calendar days from a to b,
// both taken in a's location.
func calendarDaysBetween(a, b time.Time) int {
	from := startOfDay(a)
	to := startOfDay(b.In(a.Location()))
	// Round absorbs 23h/25h DST days.
	return int(math.Round(to.Sub(from).Hours() / 24))
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
