package handlers

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRegisterRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterCheckoutRoutes(r.Group("/api/v1/checkout"), nil, nil)
	RegisterWebhookRoutes(r.Group("/api/v1/webhook"), nil, nil)
	RegisterQuizRoutes(r.Group("/api/v1/quiz"), nil)
	RegisterAdminRoutes(r.Group("/api/v1/admin"), nil, nil, nil)

	routes := r.Routes()
	contains := func(target string) bool {
		for _, rt := range routes {
			if rt.Method+" "+rt.Path == target {
				return true
			}
		}
		return false
	}

	require.True(t, contains("POST /api/v1/checkout/signup"))
	require.True(t, contains("POST /api/v1/checkout/activate"))
	require.True(t, contains("POST /api/v1/webhook/stripe"))
	require.True(t, contains("POST /api/v1/webhook/razorpay"))
	require.True(t, contains("GET /api/v1/quiz/daily-question"))
	require.True(t, contains("POST /api/v1/quiz/daily-answer"))
	require.True(t, contains("PATCH /api/v1/admin/subscription"))
	require.True(t, contains("POST /api/v1/admin/list_subscriptions"))
	require.True(t, contains("POST /api/v1/admin/get_subscription_statistic"))
	require.True(t, contains("POST /api/v1/admin/send_free_grant"))
}
