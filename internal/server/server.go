package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/seatledger/internal/audit"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/internal/customer"
	customerdomain "github.com/smallbiznis/seatledger/internal/customer/domain"
	"github.com/smallbiznis/seatledger/internal/events"
	"github.com/smallbiznis/seatledger/internal/idempotency"
	idempotencydomain "github.com/smallbiznis/seatledger/internal/idempotency/domain"
	"github.com/smallbiznis/seatledger/internal/observability"
	obslogger "github.com/smallbiznis/seatledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/seatledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/seatledger/internal/observability/tracing"
	"github.com/smallbiznis/seatledger/internal/payment"
	"github.com/smallbiznis/seatledger/internal/plan"
	plandomain "github.com/smallbiznis/seatledger/internal/plan/domain"
	"github.com/smallbiznis/seatledger/internal/ratelimit"
	"github.com/smallbiznis/seatledger/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/seatledger/internal/subscription/domain"
	"github.com/smallbiznis/seatledger/internal/txretry"
	"github.com/smallbiznis/seatledger/pkg/cache"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	txretry.Module,
	cache.Module,
	ratelimit.Module,
	audit.Module,
	customer.Module,
	plan.Module,
	payment.Module,
	events.Module,
	idempotency.Module,
	subscription.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, m *obsmetrics.Metrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obstracing.TraceIDMiddleware())
	r.Use(obstracing.GinMiddleware())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, m *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(obsCfg, log, m)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	log             *zap.Logger
	metrics         *obsmetrics.Metrics
	limiter         *ratelimit.PurchaseLimiter
	idempotency     idempotencydomain.Store
	auditSvc        auditdomain.Service
	customerSvc     customerdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
}

type ServerParams struct {
	fx.In

	Engine          *gin.Engine
	Config          config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	Metrics         *obsmetrics.Metrics        `optional:"true"`
	Limiter         *ratelimit.PurchaseLimiter `optional:"true"`
	Idempotency     idempotencydomain.Store
	AuditSvc        auditdomain.Service
	CustomerSvc     customerdomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Engine,
		cfg:             p.Config,
		db:              p.DB,
		log:             p.Log.Named("http"),
		metrics:         p.Metrics,
		limiter:         p.Limiter,
		idempotency:     p.Idempotency,
		auditSvc:        p.AuditSvc,
		customerSvc:     p.CustomerSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
	}
}

func (s *Server) RegisterRoutes() {
	s.engine.GET("/health", s.Health)

	api := s.engine.Group("/api")

	subscriptions := api.Group("/subscriptions")
	subscriptions.POST("/purchase",
		s.Idempotent(string(auditdomain.ResourceTypeSubscription), true),
		s.PurchaseRateLimit(),
		s.PurchaseSubscription,
	)
	subscriptions.GET("/:id", s.GetSubscription)
	subscriptions.POST("/:id/cancel", s.Idempotent(string(auditdomain.ResourceTypeSubscription), false), s.CancelSubscription)

	plans := api.Group("/plans")
	plans.GET("", s.ListPlans)
	plans.POST("", s.Idempotent(string(auditdomain.ResourceTypePlan), false), s.CreatePlan)
	plans.GET("/:id", s.GetPlan)
	plans.GET("/:id/stats", s.GetPlanStatistics)
	plans.PATCH("/:id", s.UpdatePlan)
	plans.PUT("/:id", s.UpdatePlan)
	plans.DELETE("/:id", s.DeletePlan)

	customers := api.Group("/customers")
	customers.GET("", s.ListCustomers)
	customers.POST("", s.Idempotent(string(auditdomain.ResourceTypeCustomer), false), s.CreateCustomer)
	customers.GET("/:id", s.GetCustomer)
	customers.GET("/:id/subscriptions", s.ListCustomerSubscriptions)

	auditLogs := api.Group("/audit-logs")
	auditLogs.GET("/recent", s.RecentAuditLogs)
	auditLogs.GET("/stats", s.AuditLogStats)
	auditLogs.GET("/trace/:traceId", s.AuditLogsByTrace)
}

func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		obslogger.WithContext(c.Request.Context(), s.log).Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "up"})
}
