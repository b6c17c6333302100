package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prepmed/billing/docs"
	"github.com/prepmed/billing/internal/app/api/handlers"
	"github.com/prepmed/billing/internal/app/service/admin"
	"github.com/prepmed/billing/internal/app/service/fulfillment"
	"github.com/prepmed/billing/internal/app/service/ledger"
	"github.com/prepmed/billing/internal/app/service/reward"
	"github.com/prepmed/billing/internal/app/service/statistics"
	cfgpkg "github.com/prepmed/billing/pkg/config"

	mw "github.com/prepmed/billing/internal/app/api/middleware"

	metrics "github.com/prepmed/billing/pkg/metrics"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func registerRoutes(
	r *gin.Engine,
	log *zap.SugaredLogger,
	cfg *cfgpkg.Config,
	dbConn *gorm.DB,
	fulfillmentSvc *fulfillment.Service,
	rewardSvc *reward.Service,
	adminSvc *admin.Service,
	ledgerSvc *ledger.Service,
	stats *statistics.Service,
) {
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			MetricsList: []*metrics.Metric{metrics.MetricsBillingEvents},
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub, dbConn)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))

	// Checkout flows are unauthenticated: the account is created mid-flow.
	handlers.RegisterCheckoutRoutes(apiV1.Group("/checkout"), fulfillmentSvc, log)

	// Provider webhooks authenticate via signatures, not sessions.
	handlers.RegisterWebhookRoutes(apiV1.Group("/webhook"), fulfillmentSvc, log)

	// Quiz serves guests and registered users alike.
	quiz := apiV1.Group("/quiz")
	quiz.Use(mw.OptionalAuthMiddleware(cfg))
	handlers.RegisterQuizRoutes(quiz, rewardSvc)

	// Admin APIs
	adminGroup := apiV1.Group("/admin")
	adminGroup.Use(mw.AdminAuthMiddleware(cfg))
	handlers.RegisterAdminRoutes(adminGroup, adminSvc, ledgerSvc, stats)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
