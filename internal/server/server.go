package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/creditcore/internal/clock"
	"github.com/smallbiznis/creditcore/internal/config"
	"github.com/smallbiznis/creditcore/internal/events"
	featuredomain "github.com/smallbiznis/creditcore/internal/feature/domain"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	"github.com/smallbiznis/creditcore/internal/observability"
	obsmiddleware "github.com/smallbiznis/creditcore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditcore/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creditcore/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/creditcore/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/creditcore/internal/pricing/domain"
	"github.com/smallbiznis/creditcore/internal/ratelimit"
	usagedomain "github.com/smallbiznis/creditcore/internal/usage/domain"
	userdomain "github.com/smallbiznis/creditcore/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
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
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
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
	userSvc         userdomain.Service
	ledgerSvc       ledgerdomain.Service
	usageSvc        usagedomain.Service
	features        featuredomain.Registry
	catalog         pricingdomain.Catalog
	paymentSvc      paymentdomain.Service
	publisher       events.Publisher
	purchaseLimiter *ratelimit.PurchaseLimiter
	clock           clock.Clock
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	UserSvc         userdomain.Service
	LedgerSvc       ledgerdomain.Service
	UsageSvc        usagedomain.Service
	Features        featuredomain.Registry
	Catalog         pricingdomain.Catalog
	PaymentSvc      paymentdomain.Service
	Publisher       events.Publisher           `optional:"true"`
	PurchaseLimiter *ratelimit.PurchaseLimiter `optional:"true"`
	Clock           clock.Clock                `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		userSvc:         p.UserSvc,
		ledgerSvc:       p.LedgerSvc,
		usageSvc:        p.UsageSvc,
		features:        p.Features,
		catalog:         p.Catalog,
		paymentSvc:      p.PaymentSvc,
		publisher:       p.Publisher,
		purchaseLimiter: p.PurchaseLimiter,
		clock:           p.Clock,
	}
	if svc.clock == nil {
		svc.clock = clock.SystemClock{}
	}

	svc.registerAuthRoutes()
	svc.registerBillingRoutes()
	svc.registerAccountRoutes()
	svc.registerUsageRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/login-events", s.UserRequired(), s.PublishLoginEvent)
}

func (s *Server) registerBillingRoutes() {
	billing := s.engine.Group("/billing")

	billing.GET("/credit-packs", s.ListCreditPacks)

	billing.Use(s.UserRequired())
	billing.POST("/buy/pack/:packId", s.PurchaseRateLimit(), s.BuyPack)
	billing.POST("/buy/custom", s.PurchaseRateLimit(), s.BuyCustom)
	billing.GET("/verify-order/:orderId", s.VerifyOrder)
	billing.GET("/orders/:orderId", s.GetOrder)
}

func (s *Server) registerAccountRoutes() {
	account := s.engine.Group("/account", s.UserRequired())

	account.GET("/credits", s.GetCredits)
	account.GET("/transactions", s.ListTransactions)
	account.GET("/usage", s.ListUsage)
}

func (s *Server) registerUsageRoutes() {
	s.engine.GET("/features", s.ListFeatures)
	s.engine.POST("/usage/check", s.UserRequired(), s.CheckUsage)
}
