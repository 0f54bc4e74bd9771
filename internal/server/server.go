package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	billingcycledomain "github.com/rentfolio/rentfolio/internal/billingcycle/domain"
	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"github.com/rentfolio/rentfolio/internal/config"
	"github.com/rentfolio/rentfolio/internal/observability"
	obsmiddleware "github.com/rentfolio/rentfolio/internal/observability/logger"
	obsmetrics "github.com/rentfolio/rentfolio/internal/observability/metrics"
	obstracing "github.com/rentfolio/rentfolio/internal/observability/tracing"
	"github.com/rentfolio/rentfolio/internal/ratelimit"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	usagedomain "github.com/rentfolio/rentfolio/internal/usage/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterAPIRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	configSvc    splitconfigdomain.Service
	usageSvc     usagedomain.Service
	cycleSvc     billingcycledomain.Service
	chargeSvc    chargedomain.Service
	auditSvc     auditdomain.Service
	trackLimiter *ratelimit.TrackLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	ConfigSvc    splitconfigdomain.Service
	UsageSvc     usagedomain.Service
	CycleSvc     billingcycledomain.Service
	ChargeSvc    chargedomain.Service
	AuditSvc     auditdomain.Service
	TrackLimiter *ratelimit.TrackLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		configSvc:    p.ConfigSvc,
		usageSvc:     p.UsageSvc,
		cycleSvc:     p.CycleSvc,
		chargeSvc:    p.ChargeSvc,
		auditSvc:     p.AuditSvc,
		trackLimiter: p.TrackLimiter,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api/v1", ActorRequired())

	// -------- Split configurations --------
	api.POST("/configurations", s.CreateConfiguration)
	api.GET("/configurations", s.ListConfigurations)
	api.GET("/configurations/:id", s.GetConfiguration)
	api.PATCH("/configurations/:id", s.UpdateConfiguration)
	api.DELETE("/configurations/:id", s.DeleteConfiguration)
	api.POST("/configurations/:id/archive", s.ArchiveConfiguration)

	api.POST("/configurations/:id/validate", s.ValidateConfiguration)
	api.POST("/configurations/:id/activate", s.ActivateConfiguration)
	api.POST("/configurations/:id/deactivate", s.DeactivateConfiguration)
	api.POST("/configurations/:id/versions", s.CreateConfigurationVersion)

	api.POST("/configurations/:id/calculate", s.CalculateSplit)
	api.GET("/configurations/:id/audit-logs", s.ListConfigurationAuditLogs)
	api.GET("/configurations/:id/audit-logs/verify", s.VerifyConfigurationAuditLogs)

	api.POST("/configurations/:id/receivers", s.AddReceiver)
	api.PATCH("/configurations/:id/receivers/:receiverId", s.UpdateReceiver)
	api.DELETE("/configurations/:id/receivers/:receiverId", s.RemoveReceiver)

	api.POST("/configurations/:id/rules", s.AddRule)
	api.PATCH("/configurations/:id/rules/:ruleId", s.UpdateRule)
	api.DELETE("/configurations/:id/rules/:ruleId", s.RemoveRule)

	api.POST("/split/preview", s.PreviewSplit)

	// -------- Billing cycles --------
	api.GET("/billing-cycles", s.ListBillingCycles)
	api.GET("/billing-cycles/current", s.GetCurrentBillingCycle)
	api.GET("/billing-cycles/:id", s.GetBillingCycle)
	api.POST("/billing-cycles/:id/close", s.CloseBillingCycle)
	api.GET("/billing-cycles/:id/charges", s.ListBillingCycleCharges)

	// -------- Usage --------
	api.POST("/usage/track", s.TrackUsage)
	api.GET("/usage/overage", s.GetUsageOverage)

	// -------- Charges --------
	api.GET("/charges", s.ListCharges)
	api.GET("/charges/:id", s.GetCharge)
	api.POST("/charges/:id/dispatch", s.DispatchCharge)
	api.POST("/charges/:id/status", s.UpdateChargeStatus)
}
