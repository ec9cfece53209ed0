package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/logibill/internal/audit/domain"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	"github.com/smallbiznis/logibill/internal/config"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	"github.com/smallbiznis/logibill/internal/invoice/render"
	"github.com/smallbiznis/logibill/internal/observability"
	obslogger "github.com/smallbiznis/logibill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/logibill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/logibill/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/logibill/internal/payment/domain"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	"github.com/smallbiznis/logibill/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/logibill/internal/rating/domain"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	SetupValidator()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
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
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	log           *zap.Logger
	rateCardSvc   ratecarddomain.Service
	resolver      rateresolver.Resolver
	activitySvc   billingactivitydomain.Service
	ratingSvc     ratingdomain.Service
	invoiceSvc    invoicedomain.Service
	paymentSvc    paymentdomain.Service
	auditSvc      auditdomain.Service
	renderer      render.Renderer
	obsMetrics    *obsmetrics.Metrics
	ingestLimiter *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	RateCardSvc   ratecarddomain.Service
	Resolver      rateresolver.Resolver
	ActivitySvc   billingactivitydomain.Service
	RatingSvc     ratingdomain.Service
	InvoiceSvc    invoicedomain.Service
	PaymentSvc    paymentdomain.Service
	AuditSvc      auditdomain.Service `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
	IngestLimiter *ratelimit.Limiter  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           log.Named("http"),
		rateCardSvc:   p.RateCardSvc,
		resolver:      p.Resolver,
		activitySvc:   p.ActivitySvc,
		ratingSvc:     p.RatingSvc,
		invoiceSvc:    p.InvoiceSvc,
		paymentSvc:    p.PaymentSvc,
		auditSvc:      p.AuditSvc,
		renderer:      render.NewRenderer(),
		obsMetrics:    p.ObsMetrics,
		ingestLimiter: p.IngestLimiter,
	}

	svc.registerHealthRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/health", s.Health)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Rate cards --------
	api.POST("/customers/:customer_id/rate-cards", s.CreateStandardRateCard)
	api.POST("/customers/:customer_id/rate-cards/adjustments", s.CreateAdjustmentRateCard)
	api.GET("/customers/:customer_id/rate-cards", s.ListRateCards)
	api.GET("/customers/:customer_id/rate-cards/current", s.GetCurrentRateCard)
	api.GET("/customers/:customer_id/effective-rates", s.GetEffectiveRates)
	api.GET("/rate-cards/:id", s.GetRateCard)
	api.GET("/rate-cards/:id/lineage", s.GetRateCardLineage)
	api.GET("/rate-cards/:id/current", s.GetCurrentInLineage)
	api.POST("/rate-cards/:id/archive", s.ArchiveRateCard)
	api.POST("/rate-cards/:id/contracts", s.LinkRateCardContract)
	api.GET("/rate-cards/:id/contracts", s.ListRateCardContracts)
	api.POST("/customers/:customer_id/contracts", s.CreateContract)

	// -------- Activities --------
	api.POST("/activities", s.ActivityIngestRateLimit(), s.IngestActivity)
	api.POST("/activities/batch", s.ActivityIngestRateLimit(), s.IngestActivityBatch)
	api.GET("/activities", s.ListActivities)
	api.GET("/activities/:id", s.GetActivity)
	api.POST("/activities/:id/requeue", s.RequeueActivity)
	api.POST("/activities/:id/rate", s.RateActivity)

	// -------- Rating --------
	api.POST("/rating/run", s.RunRating)
	api.GET("/rating/errors", s.ListRatingErrors)

	// -------- Invoices --------
	api.POST("/invoices/generate", s.GenerateInvoice)
	api.POST("/invoices/mark-overdue", s.MarkInvoicesOverdue)
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoice)
	api.GET("/invoices/:id/html", s.RenderInvoice)
	api.POST("/invoices/:id/issue", s.IssueInvoice)
	api.POST("/invoices/:id/send", s.SendInvoice)
	api.POST("/invoices/:id/void", s.VoidInvoice)
	api.POST("/invoices/:id/credit", s.CreditInvoice)

	// -------- Payments --------
	api.POST("/invoices/:id/payments", s.RecordPayment)
	api.GET("/invoices/:id/payments", s.ListInvoicePayments)
	api.GET("/payments/:id", s.GetPayment)
	api.POST("/payments/:id/settle", s.SettlePayment)
	api.POST("/payments/:id/fail", s.FailPayment)
	api.POST("/payments/:id/reverse", s.ReversePayment)

	// -------- Audit --------
	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

// Health pings the database so load balancers drop replicas that lost it.
func (s *Server) Health(c *gin.Context) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
