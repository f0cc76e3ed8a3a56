package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"callops/internal/auth"
	"callops/internal/calls"
	"callops/internal/dialing"
	"callops/internal/followup"
	"callops/internal/telephony"
	"callops/pkg/logger"
	"callops/pkg/validate"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls     *calls.Service
	Dialing   *dialing.Service
	Followups *followup.Builder
}

// --- Calls ---

type createCallRequest struct {
	JobID      *string `json:"job_id" validate:"omitempty,max=64"`
	CustomerID *string `json:"customer_id" validate:"omitempty,max=64"`
	FromNumber string  `json:"from_number" validate:"required,e164"`
	ToNumber   string  `json:"to_number" validate:"required,e164"`
}

func (h Handlers) CreateCall(c *gin.Context) {
	ws, ok := workspace(c)
	if !ok {
		return
	}
	var req createCallRequest
	if !bindJSON(c, &req, false) {
		return
	}
	sess, err := h.Calls.CreateOutboundSession(c.Request.Context(), calls.OutboundSessionRequest{
		WorkspaceID: ws,
		JobID:       req.JobID,
		CustomerID:  req.CustomerID,
		FromNumber:  req.FromNumber,
		ToNumber:    req.ToNumber,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h Handlers) GetCall(c *gin.Context) {
	ws, ok := workspace(c)
	if !ok {
		return
	}
	sess, err := h.Calls.GetSession(c.Request.Context(), ws, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type dialRequest struct {
	// ConnectTo overrides the workspace number's forwarding destination.
	ConnectTo string `json:"connect_to" validate:"omitempty,max=256"`
}

// DialCall runs the dial gate and, when allowed, places the call.
// Gate conflicts are 409 with a message fit for the agent's screen.
func (h Handlers) DialCall(c *gin.Context) {
	ws, ok := workspace(c)
	if !ok {
		return
	}
	var req dialRequest
	if !bindJSON(c, &req, true) {
		return
	}

	res, err := h.Dialing.PlaceCall(c.Request.Context(), dialing.Request{
		WorkspaceID: ws,
		SessionID:   c.Param("session_id"),
		ConnectTo:   req.ConnectTo,
	})
	if errors.Is(err, telephony.ErrProviderRejected) {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "the carrier refused this call", "result": res})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	switch res.Result {
	case calls.DialAllowed:
		c.JSON(http.StatusOK, res)
	case calls.DialAlreadyInProgress:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "This call is already in progress.", "result": res.Result})
	case calls.DialAlreadyCompleted:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "This call has already finished.", "result": res.Result})
	default:
		// not_found and not_owned share one response
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	}
}

type linkRequest struct {
	CustomerID string  `json:"customer_id" validate:"required,max=64"`
	JobID      *string `json:"job_id" validate:"omitempty,max=64"`
}

func (h Handlers) LinkCall(c *gin.Context) {
	ws, ok := workspace(c)
	if !ok {
		return
	}
	var req linkRequest
	if !bindJSON(c, &req, false) {
		return
	}
	if err := h.Calls.LinkToCustomerJob(c.Request.Context(), ws, c.Param("session_id"), req.CustomerID, req.JobID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type outcomeRequest struct {
	OutcomeCode     string  `json:"outcome_code" validate:"required,max=64"`
	Notes           *string `json:"notes" validate:"omitempty,max=2000"`
	ReachedCustomer *bool   `json:"reached_customer"`
}

func (h Handlers) RecordOutcome(c *gin.Context) {
	ws, ok := workspace(c)
	if !ok {
		return
	}
	var req outcomeRequest
	if !bindJSON(c, &req, false) {
		return
	}
	err := h.Calls.RecordOutcome(c.Request.Context(), ws, c.Param("session_id"), calls.Outcome{
		Code:            req.OutcomeCode,
		Notes:           req.Notes,
		ReachedCustomer: req.ReachedCustomer,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Follow-ups ---

func (h Handlers) FollowupQueue(c *gin.Context) {
	ws, ok := workspace(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	q, err := h.Followups.Build(c.Request.Context(), followup.QueueRequest{
		WorkspaceID: ws,
		JobID:       c.Query("job_id"),
		Limit:       limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// --- helpers ---

func workspace(c *gin.Context) (string, bool) {
	ws, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return "", false
	}
	return ws, true
}

// bindJSON decodes and validates the body. optional allows an empty body.
func bindJSON(c *gin.Context, dst any, optional bool) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return false
		}
	}
	if err := validate.Struct(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, calls.ErrNotOwned):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, calls.ErrInvalidArgument), errors.Is(err, followup.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, dialing.ErrNoConnectTarget):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "no forwarding destination configured for this number"})
	case errors.Is(err, dialing.ErrCapacity):
		c.Header("Retry-After", "5")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many calls in progress for this workspace"})
	case errors.Is(err, calls.ErrContention):
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "busy, retry"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
