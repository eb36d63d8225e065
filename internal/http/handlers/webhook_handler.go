package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"towlink/internal/engine"
	"towlink/internal/payments"
)

// Stripe signs the raw body, so it must reach verification untouched.
const maxWebhookBody = 64 * 1024

type WebhookHandler struct {
	engine *engine.Engine
}

func NewWebhookHandler(e *engine.Engine) *WebhookHandler {
	return &WebhookHandler{engine: e}
}

func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.engine.HandlePaymentWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, payments.ErrInvalidSignature) {
		writeError(c, http.StatusBadRequest, "invalid signature")
		return
	}
	if err != nil {
		// Non-2xx makes the processor redeliver; processing is idempotent
		// so retries are safe.
		writeError(c, http.StatusInternalServerError, "event processing failed")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"received": true})
}
