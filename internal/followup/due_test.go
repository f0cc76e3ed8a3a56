package followup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tp(t time.Time) *time.Time { return &t }

func TestComputeDueInfo_NoAnswerTwoDaysLaterIsOverdue(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	info := ComputeDueInfo(DueInput{
		CallCreatedAt:        tp(now.AddDate(0, 0, -2)),
		RecommendedDelayDays: intp(1),
		Now:                  now,
	})
	assert.Equal(t, DueOverdue, info.Status)
	assert.Equal(t, "Overdue by 1 day", info.Label)
}

func TestComputeDueInfo_Statuses(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		anchor time.Time
		delay  int
		status DueStatus
		label  string
	}{
		{"overdue", now.AddDate(0, 0, -5), 2, DueOverdue, "Overdue by 3 days"},
		{"due today late in day", time.Date(2026, 3, 8, 23, 30, 0, 0, time.UTC), 2, DueToday, "Due today"},
		{"tomorrow", now, 1, DueScheduled, "Due tomorrow"},
		{"later", now, 2, DueScheduled, "Due in 2 days"},
		{"zero delay", now.Add(-time.Hour), 0, DueToday, "Due today"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := ComputeDueInfo(DueInput{CallCreatedAt: tp(tc.anchor), RecommendedDelayDays: intp(tc.delay), Now: now})
			assert.Equal(t, tc.status, info.Status)
			assert.Equal(t, tc.label, info.Label)
			require.NotNil(t, info.DueAt)
		})
	}
}

func TestComputeDueInfo_AnchorsOnLatestReference(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	info := ComputeDueInfo(DueInput{
		QuoteCreatedAt:       tp(now.AddDate(0, 0, -10)),
		CallCreatedAt:        tp(now.AddDate(0, 0, -3)),
		InvoiceDueAt:         tp(now.AddDate(0, 0, 1)),
		RecommendedDelayDays: intp(1),
		Now:                  now,
	})
	assert.Equal(t, DueScheduled, info.Status)
	assert.Equal(t, "Due in 2 days", info.Label)
}

func TestComputeDueInfo_None(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, DueNone, ComputeDueInfo(DueInput{CallCreatedAt: tp(now), Now: now}).Status)
	info := ComputeDueInfo(DueInput{RecommendedDelayDays: intp(1), Now: now})
	assert.Equal(t, DueNone, info.Status)
	assert.Equal(t, "No follow-up scheduled", info.Label)
	assert.Nil(t, info.DueAt)
}

func TestComputeDueInfo_UsesNowLocationForCalendarDays(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*3600)
	// 2026-03-10 03:00 UTC is still 2026-03-09 in UTC-8.
	anchor := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)
	info := ComputeDueInfo(DueInput{CallCreatedAt: tp(anchor), RecommendedDelayDays: intp(1), Now: now})
	assert.Equal(t, DueToday, info.Status)
}

func TestComputeDueInfo_Deterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	in := DueInput{CallCreatedAt: tp(now.AddDate(0, 0, -1)), RecommendedDelayDays: intp(2), Now: now}
	assert.Equal(t, ComputeDueInfo(in), ComputeDueInfo(in))
}
