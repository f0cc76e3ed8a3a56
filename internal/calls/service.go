package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callops/internal/metrics"
	"callops/pkg/logger"

	"github.com/google/uuid"
)

// maxStatusWriteAttempts bounds the read/decide/compare-and-set loop in
// ApplyStatusUpdate.
const maxStatusWriteAttempts = 4

// AuditLogger records internal-only reconciliation decisions.
// Implementations must be best-effort; failures are logged, never returned.
type AuditLogger interface {
	LogDialRejected(ctx context.Context, workspaceID, sessionID string, result DialResult) error
	LogStatusIgnored(ctx context.Context, workspaceID, sessionID string, stored *ProviderStatus, incoming ProviderStatus) error
}

// Service is the call session state machine. It owns dial gating and
// provider status reconciliation; nothing else writes ProviderStatus.
type Service struct {
	store Store
	audit AuditLogger

	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewService(store Store, audit AuditLogger) *Service {
	return &Service{store: store, audit: audit, clock: time.Now, newID: uuid.NewString}
}

// CreateOutboundSession creates a never-dialed outbound session.
func (s *Service) CreateOutboundSession(ctx context.Context, req OutboundSessionRequest) (CallSession, error) {
	if req.WorkspaceID == "" || strings.TrimSpace(req.ToNumber) == "" {
		return CallSession{}, ErrInvalidArgument
	}
	sess := CallSession{
		ID:          s.newID(),
		WorkspaceID: req.WorkspaceID,
		JobID:       nonEmpty(req.JobID),
		CustomerID:  nonEmpty(req.CustomerID),
		Direction:   DirectionOutbound,
		FromNumber:  strings.TrimSpace(req.FromNumber),
		ToNumber:    strings.TrimSpace(req.ToNumber),
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.store.Insert(ctx, sess); err != nil {
		return CallSession{}, err
	}
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, workspaceID, sessionID string) (CallSession, error) {
	if workspaceID == "" || sessionID == "" {
		return CallSession{}, ErrInvalidArgument
	}
	return s.store.Get(ctx, workspaceID, sessionID)
}

// RequestDial is the dial gate. At most one caller observes DialAllowed per
// session: the queued transition is a single predicate-guarded write and the
// losers only re-read to classify why they lost.
func (s *Service) RequestDial(ctx context.Context, workspaceID, sessionID string) (DialResult, error) {
	if workspaceID == "" || sessionID == "" {
		return "", ErrInvalidArgument
	}

	ok, err := s.store.MarkDialQueued(ctx, workspaceID, sessionID, s.clock().UTC())
	if err != nil {
		return "", err
	}
	if ok {
		metrics.ObserveDialResult(string(DialAllowed))
		return DialAllowed, nil
	}

	result, err := s.classifyDialMiss(ctx, workspaceID, sessionID)
	if err != nil {
		return "", err
	}
	metrics.ObserveDialResult(string(result))
	logger.From(ctx).Info("dial gate rejected", "session_id", sessionID, "result", result)
	if result == DialAlreadyInProgress || result == DialAlreadyCompleted {
		s.logAudit(ctx, func() error { return s.audit.LogDialRejected(ctx, workspaceID, sessionID, result) })
	}
	return result, nil
}

func (s *Service) classifyDialMiss(ctx context.Context, workspaceID, sessionID string) (DialResult, error) {
	row, err := s.store.GetUnscoped(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return DialNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if row.WorkspaceID != workspaceID {
		return DialNotOwned, nil
	}
	if row.StatusValue().Terminal() {
		return DialAlreadyCompleted, nil
	}
	return DialAlreadyInProgress, nil
}

// ApplyStatusUpdate reconciles one provider callback against the stored status.
//
// Stored terminal statuses only accept a same-value replay; otherwise the
// incoming rank must not be lower than the stored rank. Error fields and the
// status timestamp are written either way. The status write itself is a
// compare-and-set on the value the decision was made against.
func (s *Service) ApplyStatusUpdate(ctx context.Context, workspaceID, sessionID string, u StatusUpdate) (StatusUpdateResult, error) {
	incoming := NormalizeStatus(u.Status)
	if workspaceID == "" || sessionID == "" || incoming == "" {
		return StatusUpdateResult{}, ErrInvalidArgument
	}
	log := logger.From(ctx).With("session_id", sessionID, "incoming_status", incoming)

	for attempt := 0; attempt < maxStatusWriteAttempts; attempt++ {
		sess, err := s.store.Get(ctx, workspaceID, sessionID)
		if err != nil {
			return StatusUpdateResult{}, err
		}
		now := s.clock().UTC()

		if !shouldAccept(sess.ProviderStatus, incoming) {
			if err := s.store.RecordDiagnostics(ctx, workspaceID, sessionID, u.ErrorCode, u.ErrorMessage, now); err != nil {
				return StatusUpdateResult{}, err
			}
			reason := ReasonPrecedenceIgnored
			if !incoming.Known() {
				reason = ReasonUnrecognizedStatus
			}
			metrics.ObserveStatusUpdate(string(reason))
			log.Info("status callback ignored", "stored_status", sess.StatusValue(), "reason", reason)
			s.logAudit(ctx, func() error {
				return s.audit.LogStatusIgnored(ctx, workspaceID, sessionID, sess.ProviderStatus, incoming)
			})
			return StatusUpdateResult{
				SessionID:     sessionID,
				Applied:       false,
				CurrentStatus: sess.ProviderStatus,
				Reason:        reason,
			}, nil
		}

		ok, err := s.store.CompareAndSetStatus(ctx, workspaceID, sessionID, sess.ProviderStatus, incoming, u.ErrorCode, u.ErrorMessage, now)
		if err != nil {
			return StatusUpdateResult{}, err
		}
		if ok {
			metrics.ObserveStatusUpdate(string(ReasonApplied))
			log.Debug("status callback applied", "previous_status", sess.StatusValue())
			cur := incoming
			return StatusUpdateResult{
				SessionID:     sessionID,
				Applied:       true,
				CurrentStatus: &cur,
				Reason:        ReasonApplied,
			}, nil
		}
		log.Debug("status write lost race, re-reading", "attempt", attempt+1)
	}
	return StatusUpdateResult{}, fmt.Errorf("%w: session %s", ErrContention, sessionID)
}

// ApplyProviderStatusUpdate resolves the session by the provider's call id
// before reconciling.
func (s *Service) ApplyProviderStatusUpdate(ctx context.Context, workspaceID, providerCallID string, u StatusUpdate) (StatusUpdateResult, error) {
	if workspaceID == "" || providerCallID == "" {
		return StatusUpdateResult{}, ErrInvalidArgument
	}
	sess, err := s.store.FindByProviderCallID(ctx, workspaceID, providerCallID)
	if err != nil {
		return StatusUpdateResult{}, err
	}
	return s.ApplyStatusUpdate(ctx, workspaceID, sess.ID, u)
}

// EnsureInboundSession returns the session for a provider call id, creating
// it on first sight. Creation is an upsert on (workspace_id, provider_call_id),
// so duplicate first callbacks converge on one row.
func (s *Service) EnsureInboundSession(ctx context.Context, req InboundSessionRequest) (InboundSessionResult, error) {
	if req.WorkspaceID == "" || strings.TrimSpace(req.ProviderCallID) == "" {
		return InboundSessionResult{}, ErrInvalidArgument
	}
	customerID, jobID := nonEmpty(req.CustomerID), nonEmpty(req.JobID)
	pcid := strings.TrimSpace(req.ProviderCallID)

	existing, err := s.store.FindByProviderCallID(ctx, req.WorkspaceID, pcid)
	switch {
	case err == nil:
		if err := s.backfill(ctx, existing, customerID, jobID); err != nil {
			return InboundSessionResult{}, err
		}
		return InboundSessionResult{SessionID: existing.ID, IsNew: false}, nil
	case !errors.Is(err, ErrNotFound):
		return InboundSessionResult{}, err
	}

	initial := NormalizeStatus(string(req.InitialStatus))
	if !initial.Known() {
		initial = StatusRinging
	}
	now := s.clock().UTC()
	sess := CallSession{
		ID:                      s.newID(),
		WorkspaceID:             req.WorkspaceID,
		JobID:                   jobID,
		CustomerID:              customerID,
		Direction:               DirectionInbound,
		FromNumber:              strings.TrimSpace(req.FromNumber),
		ToNumber:                strings.TrimSpace(req.ToNumber),
		ProviderCallID:          &pcid,
		ProviderStatus:          &initial,
		ProviderStatusUpdatedAt: &now,
		CreatedAt:               now,
	}
	id, created, err := s.store.UpsertInbound(ctx, sess)
	if err != nil {
		return InboundSessionResult{}, err
	}
	if !created {
		// another delivery won the insert
		if err := s.store.BackfillLinks(ctx, req.WorkspaceID, id, customerID, jobID); err != nil {
			return InboundSessionResult{}, err
		}
	}
	return InboundSessionResult{SessionID: id, IsNew: created}, nil
}

func (s *Service) backfill(ctx context.Context, sess CallSession, customerID, jobID *string) error {
	needCustomer := sess.CustomerID == nil && customerID != nil
	needJob := sess.JobID == nil && jobID != nil
	if !needCustomer && !needJob {
		return nil
	}
	return s.store.BackfillLinks(ctx, sess.WorkspaceID, sess.ID, customerID, jobID)
}

// LinkToCustomerJob attaches business entities to a session the workspace owns.
func (s *Service) LinkToCustomerJob(ctx context.Context, workspaceID, sessionID, customerID string, jobID *string) error {
	if workspaceID == "" || sessionID == "" || strings.TrimSpace(customerID) == "" {
		return ErrInvalidArgument
	}
	ok, err := s.store.LinkCustomerJob(ctx, workspaceID, sessionID, strings.TrimSpace(customerID), nonEmpty(jobID))
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.ownershipError(ctx, workspaceID, sessionID)
}

// AttachProviderCallID records the provider's id once the dial is accepted.
// Re-attaching the same id is a no-op.
func (s *Service) AttachProviderCallID(ctx context.Context, workspaceID, sessionID, providerCallID string) error {
	if workspaceID == "" || sessionID == "" || providerCallID == "" {
		return ErrInvalidArgument
	}
	ok, err := s.store.AttachProviderCallID(ctx, workspaceID, sessionID, providerCallID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	sess, err := s.store.Get(ctx, workspaceID, sessionID)
	if errors.Is(err, ErrNotFound) {
		return s.ownershipError(ctx, workspaceID, sessionID)
	}
	if err != nil {
		return err
	}
	if sess.ProviderCallID != nil && *sess.ProviderCallID == providerCallID {
		return nil
	}
	return fmt.Errorf("%w: provider call id already attached", ErrInvalidArgument)
}

// RecordOutcome stores the human disposition. Whether the call has reached a
// terminal provider status is checked by the consuming UI, not here.
func (s *Service) RecordOutcome(ctx context.Context, workspaceID, sessionID string, o Outcome) error {
	o.Code = strings.TrimSpace(o.Code)
	if workspaceID == "" || sessionID == "" || o.Code == "" {
		return ErrInvalidArgument
	}
	ok, err := s.store.RecordOutcome(ctx, workspaceID, sessionID, o, s.clock().UTC())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.ownershipError(ctx, workspaceID, sessionID)
}

// ownershipError classifies a missed scoped write as ErrNotFound or ErrNotOwned.
func (s *Service) ownershipError(ctx context.Context, workspaceID, sessionID string) error {
	row, err := s.store.GetUnscoped(ctx, sessionID)
	if err != nil {
		return err
	}
	if row.WorkspaceID != workspaceID {
		return ErrNotOwned
	}
	return ErrNotFound
}

func (s *Service) logAudit(ctx context.Context, fn func() error) {
	if s.audit == nil {
		return
	}
	if err := fn(); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}

func nonEmpty(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
