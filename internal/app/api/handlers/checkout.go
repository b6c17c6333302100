package handlers

import (
	"errors"
	"net/http"

	"github.com/prepmed/billing/internal/app/service/fulfillment"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func apiCode(err error) response.APIResponseCode {
	if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrConflict) {
		return response.APIResponseCodeBadRequest
	}
	return response.APIResponseCodeError
}

// checkoutError translates internal failures into client-safe payloads. The
// reconciliation-gap detail never reaches the client; they get a neutral
// message while ops chases the gap.
func checkoutError(c *gin.Context, log *zap.SugaredLogger, err error) {
	if errors.Is(err, apperr.ErrReconciliationGap) {
		logctx.FromGin(c, log).Errorw("checkout_reconciliation_gap", "error", err.Error())
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError,
			"payment received; your subscription is being finalized and support has been notified"))
		return
	}
	c.JSON(http.StatusOK, response.ErrorT[any](apiCode(err), err.Error()))
}

// @Summary      Signup with subscription checkout
// @Description  Creates the account and starts the paid subscription in one flow.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Param        request body fulfillment.SignupRequest true "Signup checkout request"
// @Success      200  {object}  handlers.RespSignup
// @Router       /api/v1/checkout/signup [post]
func ApiSignupCheckout(svc *fulfillment.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req fulfillment.SignupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		result, err := svc.SignupCheckout(c.Request.Context(), &req)
		if err != nil {
			checkoutError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(result))
	}
}

// @Summary      Activate a deferred checkout
// @Description  Finishes a requires_action or provider-hosted checkout once the customer completed it.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Param        request body fulfillment.ActivateRequest true "Checkout activation request"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/checkout/activate [post]
func ApiActivateCheckout(svc *fulfillment.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req fulfillment.ActivateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		sub, err := svc.ActivateCheckout(c.Request.Context(), &req)
		if err != nil {
			checkoutError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

func RegisterCheckoutRoutes(r gin.IRouter, svc *fulfillment.Service, log *zap.SugaredLogger) {
	r.POST("/signup", ApiSignupCheckout(svc, log))
	r.POST("/activate", ApiActivateCheckout(svc, log))
}
