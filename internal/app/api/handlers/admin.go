package handlers

import (
	"net/http"

	"github.com/prepmed/billing/internal/app/api/middleware"
	"github.com/prepmed/billing/internal/app/service/admin"
	"github.com/prepmed/billing/internal/app/service/ledger"
	"github.com/prepmed/billing/internal/app/service/statistics"
	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/response"
	"github.com/prepmed/billing/pkg/types"

	"github.com/gin-gonic/gin"
)

type ListSubscriptionsRequest struct {
	Filters  []types.CommonFilter `json:"filters"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

type ListSubscriptionsResponse struct {
	Items []*models.UserSubscription `json:"items"`
	Total int64                      `json:"total"`
}

// @Summary      List subscriptions (Admin)
// @Description  Paginated, filterable view of the subscription ledger.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ListSubscriptionsRequest true "List request"
// @Success      200  {object}  handlers.RespListSubscriptions
// @Router       /api/v1/admin/list_subscriptions [post]
func ApiListSubscriptions(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListSubscriptionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		items, total, err := svc.ListSubscriptions(c.Request.Context(), req.Filters, req.Page, req.PageSize)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ListSubscriptionsResponse{Items: items, Total: total}))
	}
}

// @Summary      Override a user's subscription (Admin)
// @Description  Activates or deactivates access in the local ledger only; provider billing is never touched here.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body admin.OverrideRequest true "Override request"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/admin/subscription [patch]
func ApiOverrideSubscription(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req admin.OverrideRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		req.OperatorID = c.GetString(middleware.ContextOperatorIDKey)

		sub, err := svc.OverrideSubscription(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](apiCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

// @Summary      Subscription statistics (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.StatisticRequest true "Statistic request"
// @Success      200  {object}  handlers.RespStatistic
// @Router       /api/v1/admin/get_subscription_statistic [post]
func ApiGetSubscriptionStatistic(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.StatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetSubscriptionStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Send free subscription grant (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/admin/send_free_grant [post]
func ApiSendFreeGrant(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id"`
			TierID string `json:"tier_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		operatorID := c.GetString(middleware.ContextOperatorIDKey)

		sub, err := svc.SendFreeGrant(c.Request.Context(), req.UserID, req.TierID, operatorID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](apiCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

func RegisterAdminRoutes(r gin.IRouter, adminSvc *admin.Service, ledgerSvc *ledger.Service, stats *statistics.Service) {
	r.PATCH("/subscription", ApiOverrideSubscription(adminSvc))
	r.POST("/list_subscriptions", ApiListSubscriptions(ledgerSvc))
	r.POST("/get_subscription_statistic", ApiGetSubscriptionStatistic(stats))
	r.POST("/send_free_grant", ApiSendFreeGrant(adminSvc))
}
