package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information. Records are internal-only and
// never exposed to tenant users.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogDialRejected records a dial request refused by the dial gate.
func (s *Service) LogDialRejected(ctx context.Context, workspaceID, sessionID, result string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeDialRejected,
		SessionID:   sessionID,
		Message:     "dial rejected: " + result,
		Metadata:    metadata(map[string]string{"result": result}),
	})
}

// LogStatusIgnored records a provider callback dropped by status precedence,
// keeping the stored and incoming values so the decision can be explained later.
func (s *Service) LogStatusIgnored(ctx context.Context, workspaceID, sessionID, stored, incoming string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeStatusIgnored,
		SessionID:   sessionID,
		Message:     "status callback ignored",
		Metadata:    metadata(map[string]string{"stored_status": stored, "incoming_status": incoming}),
	})
}

func metadata(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
