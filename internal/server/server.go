package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/leadcore/internal/config"
	"github.com/smallbiznis/leadcore/internal/contentgen"
	"github.com/smallbiznis/leadcore/internal/costguard"
	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	"github.com/smallbiznis/leadcore/internal/ledger"
	ledgerdomain "github.com/smallbiznis/leadcore/internal/ledger/domain"
	"github.com/smallbiznis/leadcore/internal/observability"
	obsmiddleware "github.com/smallbiznis/leadcore/internal/observability/logger"
	obstracing "github.com/smallbiznis/leadcore/internal/observability/tracing"
	"github.com/smallbiznis/leadcore/internal/payment"
	"github.com/smallbiznis/leadcore/internal/payment/webhook"
	"github.com/smallbiznis/leadcore/internal/platformflag"
	flagdomain "github.com/smallbiznis/leadcore/internal/platformflag/domain"
	"github.com/smallbiznis/leadcore/internal/qualification"
	qualdomain "github.com/smallbiznis/leadcore/internal/qualification/domain"
	"github.com/smallbiznis/leadcore/internal/ratelimit"
	"github.com/smallbiznis/leadcore/internal/routing"
	"github.com/smallbiznis/leadcore/internal/scoring"
	scoringdomain "github.com/smallbiznis/leadcore/internal/scoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module wires every domain service behind the HTTP surface.
var Module = fx.Module("http.server",
	ratelimit.Module,
	platformflag.Module,
	ledger.Module,
	costguard.Module,
	contentgen.Module,
	scoring.Module,
	routing.Module,
	qualification.Module,
	payment.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterAPIRoutes()
		s.RegisterAdminRoutes()
		s.RegisterWebhookRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, db *gorm.DB, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Log:             log,
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", healthHandler(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
				err = sqlDB.PingContext(ctx)
				cancel()
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// RunHTTP serves the engine for the lifetime of the fx app.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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

type ServerParams struct {
	fx.In

	Engine       *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	LedgerSvc    ledgerdomain.Service
	CostGuardSvc costdomain.Service
	KillSwitch   flagdomain.KillSwitch
	LeadSvc      scoringdomain.Service
	QualSvc      qualdomain.Service
	Content      *contentgen.Guarded
	PaymentHook  *webhook.Service
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	ledgerSvc    ledgerdomain.Service
	costGuardSvc costdomain.Service
	killSwitch   flagdomain.KillSwitch
	leadSvc      scoringdomain.Service
	qualSvc      qualdomain.Service
	content      *contentgen.Guarded
	paymentHook  *webhook.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Engine,
		cfg:          p.Cfg,
		log:          p.Log.Named("http.server"),
		ledgerSvc:    p.LedgerSvc,
		costGuardSvc: p.CostGuardSvc,
		killSwitch:   p.KillSwitch,
		leadSvc:      p.LeadSvc,
		qualSvc:      p.QualSvc,
		content:      p.Content,
		paymentHook:  p.PaymentHook,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// RegisterAPIRoutes mounts the tenant-scoped API.
func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")
	tenant := api.Group("/tenants/:tenant_id")

	tenant.GET("/balance", s.GetBalance)
	tenant.GET("/ledger", s.ListLedgerEntries)
	tenant.POST("/deduct", s.DeductTokens)
	tenant.POST("/top-up", s.TopUpTokens)
	tenant.PUT("/cap", s.SetCap)

	tenant.GET("/usage", s.GetUsage)
	tenant.GET("/status", s.GetGuardStatus)
	tenant.POST("/pause", s.PauseTenant)
	tenant.POST("/resume", s.ResumeTenant)

	tenant.POST("/content", s.GenerateContent)

	leads := tenant.Group("/leads/:lead_id")
	leads.PUT("", s.UpsertLead)
	leads.GET("", s.GetLead)
	leads.POST("/interactions", s.RecordInteraction)
	leads.POST("/score", s.RefreshScore)
	leads.POST("/qualification", s.StartQualification)
	leads.GET("/qualification", s.GetQualification)
	leads.POST("/qualification/responses", s.ProcessQualificationResponse)
}

// RegisterAdminRoutes mounts platform-wide controls.
func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.GET("/kill-switch", s.GetKillSwitch)
	admin.PUT("/kill-switch", s.SetKillSwitch)
}

func (s *Server) RegisterWebhookRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}
