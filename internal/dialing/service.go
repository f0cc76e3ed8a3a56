package dialing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"callops/internal/calls"
	"callops/internal/metrics"
	"callops/internal/routing"
	"callops/internal/telephony"
	"callops/pkg/logger"
)

var (
	// ErrCapacity means the workspace already has its limit of dials in flight.
	ErrCapacity = errors.New("dialing: workspace at concurrent dial limit")
	// ErrNoConnectTarget means no bridge target was given or configured.
	ErrNoConnectTarget = errors.New("dialing: no connect target")
)

// CallGate is the part of the call state machine the dialer drives.
type CallGate interface {
	GetSession(ctx context.Context, workspaceID, sessionID string) (calls.CallSession, error)
	RequestDial(ctx context.Context, workspaceID, sessionID string) (calls.DialResult, error)
	AttachProviderCallID(ctx context.Context, workspaceID, sessionID, providerCallID string) error
	ApplyStatusUpdate(ctx context.Context, workspaceID, sessionID string, u calls.StatusUpdate) (calls.StatusUpdateResult, error)
}

// Limiter caps concurrent dials per workspace. Implemented by utils.CapLimiter.
type Limiter interface {
	Acquire(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// TargetResolver picks the default bridge target for a workspace number.
type TargetResolver interface {
	DestinationFor(ctx context.Context, workspaceID, number string) (string, error)
}

type Request struct {
	WorkspaceID string
	SessionID   string
	// ConnectTo overrides the workspace's configured destination.
	ConnectTo string
}

type Result struct {
	Result         calls.DialResult      `json:"result"`
	ProviderCallID string                `json:"provider_call_id,omitempty"`
	Status         *calls.ProviderStatus `json:"provider_status,omitempty"`
}

// Service places outbound calls: dial gate, per-workspace cap, provider,
// then provider call id recording.
type Service struct {
	calls   CallGate
	dialer  telephony.Dialer
	limiter Limiter
	targets TargetResolver

	// callbackBase is the public origin for status callbacks; empty disables them.
	callbackBase string
}

func NewService(gate CallGate, dialer telephony.Dialer, limiter Limiter, targets TargetResolver, callbackBase string) *Service {
	return &Service{calls: gate, dialer: dialer, limiter: limiter, targets: targets, callbackBase: callbackBase}
}

// PlaceCall dials a pre-created session. Gate conflicts come back as a
// Result with a nil error; the provider is only contacted on allowed_to_dial.
func (s *Service) PlaceCall(ctx context.Context, req Request) (Result, error) {
	if req.WorkspaceID == "" || req.SessionID == "" {
		return Result{}, calls.ErrInvalidArgument
	}
	log := logger.From(ctx).With("session_id", req.SessionID)

	sess, err := s.calls.GetSession(ctx, req.WorkspaceID, req.SessionID)
	if errors.Is(err, calls.ErrNotFound) {
		// let the gate classify not_found vs not_owned without touching the row
		r, err := s.calls.RequestDial(ctx, req.WorkspaceID, req.SessionID)
		return Result{Result: r}, err
	}
	if err != nil {
		return Result{}, err
	}
	if sess.FromNumber == "" || sess.ToNumber == "" {
		return Result{}, fmt.Errorf("%w: session has no from/to number", calls.ErrInvalidArgument)
	}

	connectTo, err := s.connectTarget(ctx, req, sess)
	if err != nil {
		return Result{}, err
	}

	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx, req.WorkspaceID)
		if err != nil {
			return Result{}, fmt.Errorf("dialing: acquire cap: %w", err)
		}
		if !ok {
			return s.capRefused(ctx, req)
		}
		defer func() {
			// release on a fresh context; the request may already be canceled
			if err := s.limiter.Release(context.WithoutCancel(ctx), req.WorkspaceID); err != nil {
				log.Warn("release dial cap failed", "err", err)
			}
		}()
	}

	r, err := s.calls.RequestDial(ctx, req.WorkspaceID, req.SessionID)
	if err != nil {
		return Result{}, err
	}
	if r != calls.DialAllowed {
		return Result{Result: r}, nil
	}

	dreq := telephony.DialRequest{
		WorkspaceID: req.WorkspaceID,
		SessionID:   req.SessionID,
		From:        sess.FromNumber,
		To:          sess.ToNumber,
		ConnectTo:   connectTo,
	}
	if s.callbackBase != "" {
		dreq.StatusCallbackURL = telephony.StatusCallbackURL(s.callbackBase, req.WorkspaceID, req.SessionID)
	}

	resp, err := s.dialer.PlaceCall(ctx, dreq)
	if err != nil {
		return s.dialFailed(ctx, req, err)
	}
	metrics.ObserveProviderDial(s.dialer.Name(), "accepted")

	if err := s.calls.AttachProviderCallID(ctx, req.WorkspaceID, req.SessionID, resp.ProviderCallID); err != nil {
		return Result{}, fmt.Errorf("dialing: attach provider call id: %w", err)
	}
	out := Result{Result: calls.DialAllowed, ProviderCallID: resp.ProviderCallID}
	if resp.Status != "" {
		upd, err := s.calls.ApplyStatusUpdate(ctx, req.WorkspaceID, req.SessionID, calls.StatusUpdate{Status: resp.Status})
		if err != nil {
			log.Warn("initial provider status not recorded", "err", err)
		} else {
			out.Status = upd.CurrentStatus
		}
	}
	log.Info("call placed", "provider", s.dialer.Name(), "provider_call_id", resp.ProviderCallID)
	return out, nil
}

// capRefused answers a dial refused by the workspace cap. A session already
// past the gate gets the gate's own result; only an undialed one is told the
// workspace is at capacity.
func (s *Service) capRefused(ctx context.Context, req Request) (Result, error) {
	sess, err := s.calls.GetSession(ctx, req.WorkspaceID, req.SessionID)
	if err != nil {
		return Result{}, err
	}
	st := sess.ProviderStatus
	switch {
	case st == nil || !st.Known():
		return Result{}, ErrCapacity
	case st.Terminal():
		metrics.ObserveDialResult(string(calls.DialAlreadyCompleted))
		return Result{Result: calls.DialAlreadyCompleted}, nil
	default:
		metrics.ObserveDialResult(string(calls.DialAlreadyInProgress))
		return Result{Result: calls.DialAlreadyInProgress}, nil
	}
}

// dialFailed reconciles a refused dial to failed. Transport errors leave the
// session queued: the provider may still have created the call, and its
// callbacks will reconcile it.
func (s *Service) dialFailed(ctx context.Context, req Request, dialErr error) (Result, error) {
	log := logger.From(ctx).With("session_id", req.SessionID)

	var rej *telephony.RejectedError
	if !errors.As(dialErr, &rej) {
		metrics.ObserveProviderDial(s.dialer.Name(), "error")
		log.Error("provider dial failed", "err", dialErr)
		return Result{Result: calls.DialAllowed}, dialErr
	}

	metrics.ObserveProviderDial(s.dialer.Name(), "rejected")
	log.Warn("provider rejected dial", "code", rej.Code, "message", rej.Message)
	u := calls.StatusUpdate{Status: string(calls.StatusFailed), ErrorMessage: &rej.Message}
	if rej.Code != "" {
		u.ErrorCode = &rej.Code
	}
	upd, err := s.calls.ApplyStatusUpdate(ctx, req.WorkspaceID, req.SessionID, u)
	if err != nil {
		return Result{Result: calls.DialAllowed}, errors.Join(dialErr, err)
	}
	return Result{Result: calls.DialAllowed, Status: upd.CurrentStatus}, dialErr
}

func (s *Service) connectTarget(ctx context.Context, req Request, sess calls.CallSession) (string, error) {
	if t := strings.TrimSpace(req.ConnectTo); t != "" {
		return t, nil
	}
	if s.targets == nil {
		return "", ErrNoConnectTarget
	}
	t, err := s.targets.DestinationFor(ctx, req.WorkspaceID, sess.FromNumber)
	if errors.Is(err, routing.ErrUnknownNumber) || errors.Is(err, routing.ErrNoDestination) {
		return "", fmt.Errorf("%w: %v", ErrNoConnectTarget, err)
	}
	return t, err
}
