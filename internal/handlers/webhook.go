// internal/handlers/webhook.go
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/popup-portal/internal/i18n"
	"github.com/javajoker/popup-portal/internal/metrics"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 512 << 10

type WebhookHandler struct {
	verifier services.EventVerifier
	webhooks *services.WebhookService
	log      logrus.FieldLogger
}

func NewWebhookHandler(verifier services.EventVerifier, webhooks *services.WebhookService, log logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		webhooks: webhooks,
		log:      log,
	}
}

// POST /webhooks/stripe
func (h *WebhookHandler) StripeWebhook(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyWebhookInvalidPayload), nil)
		return
	}

	event, err := h.verifier.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		if errors.Is(err, services.ErrInvalidSignature) {
			h.log.WithError(err).Warn("Webhook signature rejected")
		} else {
			h.log.WithError(err).Warn("Webhook payload rejected")
		}
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyWebhookInvalidPayload), nil)
		return
	}

	result, err := h.webhooks.Handle(c.Request.Context(), event)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, string(services.KindInfrastructure), i18n.T(lang, i18n.KeyInternalError), nil)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"received": true,
		"result":   result,
	})
}
