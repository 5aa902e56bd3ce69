package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	auditdomain "github.com/smajobb/marketplace/internal/audit/domain"
	"github.com/smajobb/marketplace/internal/authorization"
	"github.com/smajobb/marketplace/internal/clock"
	"github.com/smajobb/marketplace/internal/config"
	marketplacedomain "github.com/smajobb/marketplace/internal/marketplace/domain"
	monitoringdomain "github.com/smajobb/marketplace/internal/monitoring/domain"
	"github.com/smajobb/marketplace/internal/monitoring/telemetry"
	notificationdomain "github.com/smajobb/marketplace/internal/notification/domain"
	"github.com/smajobb/marketplace/internal/notification/realtime"
	"github.com/smajobb/marketplace/internal/observability"
	obsmiddleware "github.com/smajobb/marketplace/internal/observability/logger"
	obstracing "github.com/smajobb/marketplace/internal/observability/tracing"
	paymentdomain "github.com/smajobb/marketplace/internal/payment/domain"
	"github.com/smajobb/marketplace/internal/providers/pdf"
	"github.com/smajobb/marketplace/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	readyTimeout    = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

type EngineParams struct {
	fx.In

	ObsConfig observability.Config
	Recorder  *telemetry.RequestRecorder `optional:"true"`
}

func NewEngine(obsCfg observability.Config, recorder *telemetry.RequestRecorder) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if recorder != nil {
		r.Use(recorder.Middleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(p EngineParams) *gin.Engine {
	return NewEngine(p.ObsConfig, p.Recorder)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.String("addr", srv.Addr), zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
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
	clock           clock.Clock
	redis           *redis.Client
	marketplace     marketplacedomain.Repository
	authzSvc        authorization.Service
	paymentSvc      paymentdomain.Service
	notificationSvc notificationdomain.Service
	monitoringSvc   monitoringdomain.Service
	auditSvc        auditdomain.Service
	hub             *realtime.Hub
	limiter         requestLimiter
	receipts        pdf.Provider
	heartbeat       time.Duration
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	Redis           *redis.Client `optional:"true"`
	Marketplace     marketplacedomain.Repository
	AuthzSvc        authorization.Service
	PaymentSvc      paymentdomain.Service
	NotificationSvc notificationdomain.Service
	MonitoringSvc   monitoringdomain.Service
	AuditSvc        auditdomain.Service    `optional:"true"`
	Hub             *realtime.Hub          `optional:"true"`
	Limiter         *ratelimit.UserLimiter `optional:"true"`
	Receipts        pdf.Provider           `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("http.server"),
		clock:           clk,
		redis:           p.Redis,
		marketplace:     p.Marketplace,
		authzSvc:        p.AuthzSvc,
		paymentSvc:      p.PaymentSvc,
		notificationSvc: p.NotificationSvc,
		monitoringSvc:   p.MonitoringSvc,
		auditSvc:        p.AuditSvc,
		hub:             p.Hub,
		receipts:        p.Receipts,
		heartbeat:       15 * time.Second,
	}
	if p.Limiter != nil {
		svc.limiter = p.Limiter
	}

	svc.registerProbeRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerProbeRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/ready", s.Ready)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired(), s.RateLimited())

	payments := api.Group("/payments")
	{
		payments.POST("/intents", s.CreatePaymentIntent)
		payments.GET("", s.ListPayments)
		payments.GET("/summary", s.PaymentSummary)
		payments.GET("/fee", s.PlatformFee)
		payments.GET("/:id", s.GetPayment)
		payments.GET("/:id/receipt", s.PaymentReceipt)
		payments.POST("/:id/confirm", s.ConfirmPayment)
		payments.POST("/:id/cancel", s.CancelPayment)
		payments.POST("/:id/refund", s.RequireAdmin(), s.RefundPayment)
	}

	notifications := api.Group("/notifications")
	{
		notifications.GET("", s.ListNotifications)
		notifications.DELETE("", s.DeleteAllNotifications)
		notifications.GET("/unread-count", s.UnreadNotificationCount)
		notifications.GET("/stream", s.StreamNotifications)
		notifications.POST("/read-all", s.MarkAllNotificationsRead)
		notifications.POST("/:id/read", s.MarkNotificationRead)
		notifications.POST("/:id/unread", s.MarkNotificationUnread)
		notifications.DELETE("/:id", s.DeleteNotification)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.AuthRequired(), s.RateLimited(), s.RequireAdmin())

	admin.POST("/notifications/broadcast", s.BroadcastNotification)
	admin.GET("/errors", s.ListErrors)
	admin.POST("/errors/:id/resolve", s.ResolveError)
	admin.GET("/health", s.SystemHealth)
	admin.GET("/performance", s.PerformanceStats)
	admin.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

// Ready reports whether the database and, when configured, redis answer.
func (s *Server) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	checks := gin.H{}
	ready := true

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		ready = false
		checks["database"] = "unavailable"
		s.log.Warn("readiness check failed", zap.String("dependency", "database"), zap.Error(err))
	} else {
		checks["database"] = "ok"
	}

	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			ready = false
			checks["redis"] = "unavailable"
			s.log.Warn("readiness check failed", zap.String("dependency", "redis"), zap.Error(err))
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
