package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/prepmed/billing/internal/app/service/fulfillment"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Provider webhooks answer with bare HTTP status codes, not the JSON
// envelope: 2xx acknowledges the delivery (and is only sent after the ledger
// change committed), 401 marks a forged delivery, and 5xx asks the provider
// to retry later.
func webhookHandler(svc *fulfillment.Service, log *zap.SugaredLogger, kind types.ProviderKind, signatureHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		traceID := c.GetString(logctx.TraceIDKey)

		err = svc.HandleWebhook(c.Request.Context(), kind, body, c.GetHeader(signatureHeader), traceID)
		switch {
		case err == nil:
			c.Status(http.StatusOK)
		case errors.Is(err, apperr.ErrAuthenticity):
			c.Status(http.StatusUnauthorized)
		case errors.Is(err, apperr.ErrValidation):
			// Malformed but authentic payload: retrying will not help.
			logctx.FromGin(c, log).Errorw("webhook_payload_invalid", "provider", kind, "error", err.Error())
			c.Status(http.StatusBadRequest)
		default:
			logctx.FromGin(c, log).Errorw("webhook_handle_error", "provider", kind, "error", err.Error())
			c.Status(http.StatusInternalServerError)
		}
	}
}

// @Summary      Stripe webhook
// @Description  Handles Stripe subscription lifecycle events.
// @Tags         Webhook
// @Accept       json
// @Success      200
// @Router       /api/v1/webhook/stripe [post]
func ApiStripeWebhook(svc *fulfillment.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return webhookHandler(svc, log, types.ProviderKindStripe, "Stripe-Signature")
}

// @Summary      Razorpay webhook
// @Description  Handles Razorpay subscription lifecycle events.
// @Tags         Webhook
// @Accept       json
// @Success      200
// @Router       /api/v1/webhook/razorpay [post]
func ApiRazorpayWebhook(svc *fulfillment.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return webhookHandler(svc, log, types.ProviderKindRazorpay, "X-Razorpay-Signature")
}

func RegisterWebhookRoutes(r gin.IRouter, svc *fulfillment.Service, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(svc, log))
	r.POST("/razorpay", ApiRazorpayWebhook(svc, log))
}
