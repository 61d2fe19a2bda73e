package convai

import (
	"context"
	"errors"
	"io"
	"net/http"

	"alara-platform/pkg/logger"
	"alara-platform/pkg/metrics"

	"github.com/gin-gonic/gin"
)

const (
	DefaultSignatureHeader = "ElevenLabs-Signature"
	DefaultMaxBodyBytes    = 5 << 20
)

// Processor consumes authenticated, parsed webhook events.
type Processor interface {
	Process(ctx context.Context, ev ParsedWebhookEvent) error
}

// WebhookHandler is the provider's public callback endpoint.
//
// Order is fixed: read raw body, verify signature, parse, process.
// Once the signature verifies the provider always gets 200; processing
// failures are logged, not returned, so the provider does not retry-storm.
type WebhookHandler struct {
	Verifier        *Verifier
	Processor       Processor
	SignatureHeader string
	MaxBodyBytes    int64
	Metrics         *metrics.Metrics
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Verifier == nil || h.Processor == nil {
		log.Error("convai webhook not configured")
		h.Metrics.Webhook("misconfigured")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	header := h.SignatureHeader
	if header == "" {
		header = DefaultSignatureHeader
	}
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	// The signature covers the exact bytes; never re-encode before verifying.
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Metrics.Webhook("too_large")
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		log.Warn("convai webhook body read failed", "err", err)
		h.Metrics.Webhook("bad_request")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	res := h.Verifier.Verify(body, c.GetHeader(header))
	if !res.Valid {
		log.Warn("convai webhook rejected", "reason", res.Reason)
		h.Metrics.Webhook("unauthorized")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ev, err := DecodeWebhook(body)
	if err != nil {
		var mp *MalformedPayloadError
		field := ""
		if errors.As(err, &mp) {
			field = mp.Field
		}
		log.Warn("convai webhook malformed", "field", field, "err", err)
		h.Metrics.Webhook("malformed")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	logger.Enrich(c,
		"event_type", ev.Type,
		"external_call_id", ev.ExternalCallID,
		"external_conversation_id", ev.ExternalConversationID,
	)
	log = logger.FromGin(c)
	if err := h.Processor.Process(c.Request.Context(), ev); err != nil {
		log.Error("convai webhook processing failed", "err", err)
		h.Metrics.Webhook("accepted_with_errors")
	} else {
		h.Metrics.Webhook("accepted")
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
