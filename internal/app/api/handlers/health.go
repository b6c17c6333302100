package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prepmed/billing/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// @Summary      Health check
// @Description  Returns service status, including database reachability
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func Healthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := map[string]string{"status": "ok", "database": "ok"}

		pingCtx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := pingDB(pingCtx, db); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, response.ErrorT(response.APIResponseCodeError, status))
			return
		}

		c.JSON(http.StatusOK, response.OKT(status))
	}
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func RegisterHealthRoutes(r gin.IRouter, db *gorm.DB) {
	r.GET("/healthz", Healthz(db))
}
