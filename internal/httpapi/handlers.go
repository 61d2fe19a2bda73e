package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"alara-platform/internal/audit"
	"alara-platform/internal/auth"
	"alara-platform/internal/calls"
	"alara-platform/internal/convai"
	"alara-platform/internal/conversations"
	"alara-platform/internal/dialer"
	"alara-platform/internal/rbac"
	"alara-platform/internal/reporting"
	"alara-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallPlacer starts outbound calls. *dialer.Dialer satisfies it.
type CallPlacer interface {
	Place(ctx context.Context, req dialer.PlaceRequest) (calls.Call, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls         *calls.Service
	Conversations *conversations.Service
	Dialer        CallPlacer
	Reporting     *reporting.Service
	Audit         *audit.Service
}

const defaultSummaryWindow = 30 * 24 * time.Hour

func callerIdentity(c *gin.Context) (auth.Identity, bool) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return auth.Identity{}, false
	}
	return id, true
}

// --- Calls ---

func (h Handlers) PlaceCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return
	}
	var req dialer.PlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.UserID = id.UserID

	call, err := h.Dialer.Place(c.Request.Context(), req)
	if err != nil {
		var apiErr *convai.APIError
		if errors.As(err, &apiErr) {
			logger.FromGin(c).Warn("call placement rejected by provider", "status", apiErr.StatusCode)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call placement failed", "call": call})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) ListCalls(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	from, to, ok := timeRange(c, false)
	if !ok {
		return
	}
	out, err := h.Calls.ListByUser(c.Request.Context(), id.UserID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (h Handlers) CallsSummary(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	from, to, ok := timeRange(c, true)
	if !ok {
		return
	}
	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		UserID: id.UserID,
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) GetCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	// Other users' calls are reported as missing.
	if !rbac.CanAccessOwned(id.Role, id.UserID, call.UserID) {
		writeError(c, calls.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) GetConversation(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	conv, err := h.Conversations.Get(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !rbac.CanAccessOwned(id.Role, id.UserID, conv.UserID) {
		writeError(c, conversations.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// --- Admin ---

// AdminPatchCall applies an allow-listed patch. Unknown fields are rejected.
// RBAC: admin.
func (h Handlers) AdminPatchCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var p calls.Patch
	if !decodeStrict(c, &p) {
		return
	}
	ctx := c.Request.Context()
	callID := c.Param("call_id")

	before, err := h.Calls.Get(ctx, callID)
	if err != nil {
		writeError(c, err)
		return
	}
	after, err := h.Calls.Patch(ctx, callID, p)
	if err != nil {
		writeError(c, err)
		return
	}
	if after.Status != before.Status {
		reason := ""
		if p.ErrorMessage != nil {
			reason = *p.ErrorMessage
		}
		h.auditCorrection(c, id, callID, before.Status, after.Status, reason)
	}
	c.JSON(http.StatusOK, after)
}

type setStatusRequest struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// AdminSetStatus moves a call to a new status. Illegal transitions are 409.
// RBAC: admin.
func (h Handlers) AdminSetStatus(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req setStatusRequest
	if !decodeStrict(c, &req) {
		return
	}
	target, err := calls.ParseStatus(req.Status)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	callID := c.Param("call_id")

	before, err := h.Calls.Get(ctx, callID)
	if err != nil {
		writeError(c, err)
		return
	}
	after, err := h.Calls.Transition(ctx, callID, target, calls.TransitionContext{ErrorMessage: req.ErrorMessage})
	if err != nil {
		writeError(c, err)
		return
	}
	h.auditCorrection(c, id, callID, before.Status, after.Status, req.ErrorMessage)
	c.JSON(http.StatusOK, after)
}

type linkConversationRequest struct {
	CallID string `json:"call_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// AdminLinkConversation sets the conversation's call and/or user once.
// RBAC: admin.
func (h Handlers) AdminLinkConversation(c *gin.Context) {
	var req linkConversationRequest
	if !decodeStrict(c, &req) {
		return
	}
	if req.CallID == "" && req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id or user_id required"})
		return
	}
	ctx := c.Request.Context()
	convID := c.Param("conversation_id")

	conv, err := h.Conversations.Get(ctx, convID)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.CallID != "" {
		if _, err := h.Calls.Get(ctx, req.CallID); err != nil {
			writeError(c, err)
			return
		}
		if conv, err = h.Conversations.LinkCall(ctx, convID, req.CallID); err != nil {
			writeError(c, err)
			return
		}
		if _, err := h.Calls.LinkConversation(ctx, req.CallID, convID); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.UserID != "" {
		if conv, err = h.Conversations.LinkUser(ctx, convID, req.UserID); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, conv)
}

func (h Handlers) auditCorrection(c *gin.Context, id auth.Identity, callID string, from, to calls.Status, reason string) {
	if h.Audit == nil {
		return
	}
	actor := audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
	// Best-effort: the status change already happened.
	if err := h.Audit.LogStatusCorrection(c.Request.Context(), actor, callID, string(from), string(to), reason); err != nil {
		logger.FromGin(c).Error("audit status correction failed", "call_id", callID, "err", err)
	}
}

// --- helpers ---

func decodeStrict(c *gin.Context, dst any) bool {
	body, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}

// timeRange parses optional RFC 3339 from/to query params. With defaults,
// a missing range becomes the last 30 days.
func timeRange(c *gin.Context, defaults bool) (time.Time, time.Time, bool) {
	var from, to time.Time
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.key + " must be RFC 3339"})
			return time.Time{}, time.Time{}, false
		}
		*p.dst = t.UTC()
	}
	if defaults {
		if to.IsZero() {
			to = time.Now().UTC()
		}
		if from.IsZero() {
			from = to.Add(-defaultSummaryWindow)
		}
	}
	return from, to, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, conversations.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, calls.ErrIllegalTransition),
		errors.Is(err, calls.ErrAlreadyLinked),
		errors.Is(err, calls.ErrDuplicateExternalID),
		errors.Is(err, calls.ErrOwnerMismatch),
		errors.Is(err, conversations.ErrAlreadyLinked),
		errors.Is(err, conversations.ErrDuplicateExternalID):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, conversations.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrConcurrentUpdate), errors.Is(err, conversations.ErrConcurrentUpdate):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
