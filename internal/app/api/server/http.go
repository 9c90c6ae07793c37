package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/invoicing/docs"
	"github.com/fatflowers/invoicing/internal/app/api/handlers"
	mw "github.com/fatflowers/invoicing/internal/app/api/middleware"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/invoice"
	"github.com/fatflowers/invoicing/internal/app/service/payment"
	"github.com/fatflowers/invoicing/internal/app/service/reconcile"
	"github.com/fatflowers/invoicing/internal/app/service/scheduler"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/internal/app/service/tenant"
	cfgpkg "github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/metrics"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if cfg.Env == cfgpkg.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Engine        *gin.Engine
	Log           *zap.SugaredLogger
	Config        *cfgpkg.Config
	DB            *gorm.DB
	Auth          *mw.Auth
	Tenants       *tenant.Service
	Invoices      *invoice.Service
	Subscriptions *subscription.Service
	Payments      *payment.Service
	Activity      *activity.Recorder
	Worker        *reconcile.Worker
	Sweeper       *scheduler.Sweeper
}

func registerRoutes(d routeDeps) {
	r, log, cfg := d.Engine, d.Log, d.Config
	// Prometheus metrics
	if cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{Logger: log})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	logged := []gin.HandlerFunc{mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware()}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(logged...)
	handlers.RegisterHealthRoutes(pub, d.DB)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(logged...)
	handlers.RegisterTenantRoutes(apiV1, d.Tenants, d.Auth)
	handlers.RegisterPublicRoutes(apiV1.Group("/public"), d.Invoices)
	handlers.RegisterWebhookRoutes(apiV1.Group("/webhooks"), d.Worker, log)

	// Tenant APIs
	owned := apiV1.Group("")
	owned.Use(d.Auth.RequireTenant())
	handlers.RegisterInvoiceRoutes(owned, d.Invoices)
	handlers.RegisterSubscriptionRoutes(owned, d.Subscriptions)

	// Admin APIs
	admin := apiV1.Group("/admin")
	admin.Use(d.Auth.RequireAdmin())
	handlers.RegisterAdminRoutes(admin, d.Activity, d.Payments, d.Sweeper)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
