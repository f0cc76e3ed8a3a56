package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_AppendRequiresWorkspaceAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	assert.ErrorIs(t, svc.Append(context.Background(), Event{Type: EventTypeDialRejected}), ErrInvalidEvent)
	assert.ErrorIs(t, svc.Append(context.Background(), Event{WorkspaceID: "w"}), ErrInvalidEvent)
}

func TestService_LogStatusIgnoredKeepsBothStatuses(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	require.NoError(t, svc.LogStatusIgnored(context.Background(), "w", "s1", "completed", "ringing"))

	evs := repo.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, EventTypeStatusIgnored, evs[0].Type)
	assert.Equal(t, "s1", evs[0].SessionID)
	assert.NotEmpty(t, evs[0].ID)
	assert.False(t, evs[0].CreatedAt.IsZero())

	var meta map[string]string
	require.NoError(t, json.Unmarshal([]byte(evs[0].Metadata), &meta))
	assert.Equal(t, "completed", meta["stored_status"])
	assert.Equal(t, "ringing", meta["incoming_status"])
}

func TestService_LogDialRejected(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	require.NoError(t, svc.LogDialRejected(context.Background(), "w", "s1", "already_in_progress"))
	require.NoError(t, svc.LogDialRejected(context.Background(), "w", "s2", "already_completed"))
	require.NoError(t, svc.LogDialRejected(context.Background(), "other", "s1", "already_completed"))
	assert.Len(t, repo.Events(), 3)

	evs := repo.ForSession("w", "s1")
	require.Len(t, evs, 1)
	assert.Equal(t, EventTypeDialRejected, evs[0].Type)
	assert.Contains(t, evs[0].Message, "already_in_progress")
}
