package telephony

import (
	"context"
	"errors"
	"net/http"

	"callops/internal/calls"
	"callops/internal/routing"
	"callops/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallReconciler is the part of the call state machine the webhooks drive.
type CallReconciler interface {
	EnsureInboundSession(ctx context.Context, req calls.InboundSessionRequest) (calls.InboundSessionResult, error)
	ApplyStatusUpdate(ctx context.Context, workspaceID, sessionID string, u calls.StatusUpdate) (calls.StatusUpdateResult, error)
	ApplyProviderStatusUpdate(ctx context.Context, workspaceID, providerCallID string, u calls.StatusUpdate) (calls.StatusUpdateResult, error)
}

type InboundRouter interface {
	RouteInboundCall(ctx context.Context, call routing.InboundCall) (routing.Decision, error)
	WorkspaceForNumber(ctx context.Context, number string) (string, error)
}

// WebhookHandler converts Twilio webhooks to internal calls and writes the
// provider-facing response. No business logic here.
type WebhookHandler struct {
	Calls  CallReconciler
	Router InboundRouter
}

// HandleVoice answers an inbound call: record the session, then return TwiML
// for the routing decision.
func (h WebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	form, err := ParseTwilioCallForm(c.Request)
	if err != nil || form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	log = log.With("call_sid", form.CallSid)

	d, err := h.Router.RouteInboundCall(ctx, routing.InboundCall{To: form.To, From: form.From})
	if errors.Is(err, routing.ErrUnknownNumber) {
		log.Warn("inbound call to unknown number", "to", form.To)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown destination"})
		return
	}
	if err != nil {
		log.Error("inbound call routing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing failed"})
		return
	}

	res, err := h.Calls.EnsureInboundSession(ctx, calls.InboundSessionRequest{
		WorkspaceID:    d.WorkspaceID,
		ProviderCallID: form.CallSid,
		FromNumber:     form.From,
		ToNumber:       form.To,
		CustomerID:     d.CustomerID,
		InitialStatus:  calls.NormalizeStatus(form.CallStatus),
	})
	if err != nil {
		log.Error("ensure inbound session failed", "workspace_id", d.WorkspaceID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session failed"})
		return
	}
	if !res.IsNew && form.CallStatus != "" {
		// redelivery: the call may have moved on since the first attempt
		if _, err := h.Calls.ApplyStatusUpdate(ctx, d.WorkspaceID, res.SessionID, calls.StatusUpdate{Status: form.CallStatus}); err != nil {
			log.Warn("inbound status reconcile failed", "session_id", res.SessionID, "err", err)
		}
	}

	twiml, err := RenderTwiML(d)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	log.Info("inbound call routed", "session_id", res.SessionID, "action", d.Action, "reason", d.Reason)
	c.Data(http.StatusOK, "application/xml", []byte(twiml))
}

// HandleStatus reconciles a status callback. Stale and duplicate deliveries
// answer 200 so the provider stops retrying.
func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	form, err := ParseTwilioCallForm(c.Request)
	if err != nil || form.CallStatus == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	workspaceID := c.Query("workspace_id")
	sessionID := c.Query("session_id")
	u := calls.StatusUpdate{
		Status:       form.CallStatus,
		ErrorCode:    optional(form.ErrorCode),
		ErrorMessage: optional(form.ErrorMessage),
	}

	if workspaceID == "" {
		workspaceID, err = h.Router.WorkspaceForNumber(ctx, form.OurNumber())
		if err != nil {
			h.writeStatusError(c, err)
			return
		}
	}

	var res calls.StatusUpdateResult
	switch {
	case sessionID != "":
		res, err = h.Calls.ApplyStatusUpdate(ctx, workspaceID, sessionID, u)
	case form.CallSid != "":
		res, err = h.Calls.ApplyProviderStatusUpdate(ctx, workspaceID, form.CallSid, u)
		if errors.Is(err, calls.ErrNotFound) && form.Inbound() {
			res, err = h.firstInboundCallback(ctx, workspaceID, form, u)
		}
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id or CallSid required"})
		return
	}
	if err != nil {
		h.writeStatusError(c, err)
		return
	}

	log.Debug("status callback reconciled",
		"session_id", res.SessionID,
		"applied", res.Applied,
		"reason", res.Reason,
	)
	c.JSON(http.StatusOK, res)
}

// firstInboundCallback creates the session for an inbound call whose voice
// webhook was never seen, then reconciles the status onto it.
func (h WebhookHandler) firstInboundCallback(ctx context.Context, workspaceID string, form TwilioCallForm, u calls.StatusUpdate) (calls.StatusUpdateResult, error) {
	res, err := h.Calls.EnsureInboundSession(ctx, calls.InboundSessionRequest{
		WorkspaceID:    workspaceID,
		ProviderCallID: form.CallSid,
		FromNumber:     form.From,
		ToNumber:       form.To,
		InitialStatus:  calls.NormalizeStatus(form.CallStatus),
	})
	if err != nil {
		return calls.StatusUpdateResult{}, err
	}
	return h.Calls.ApplyStatusUpdate(ctx, workspaceID, res.SessionID, u)
}

func (h WebhookHandler) writeStatusError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, calls.ErrNotOwned), errors.Is(err, routing.ErrUnknownNumber):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid callback"})
	case errors.Is(err, calls.ErrContention):
		logger.FromGin(c).Warn("status callback contention", "err", err)
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "busy, retry"})
	default:
		logger.FromGin(c).Error("status callback failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
