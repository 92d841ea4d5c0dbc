package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	chargesdomain "github.com/smallbiznis/meter/internal/charges/domain"
	"github.com/smallbiznis/meter/internal/config"
	"github.com/smallbiznis/meter/internal/observability"
	obsmiddleware "github.com/smallbiznis/meter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meter/internal/observability/metrics"
	obstracing "github.com/smallbiznis/meter/internal/observability/tracing"
	"github.com/smallbiznis/meter/internal/scheduler"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(
		NewEngine,
		func(s *scheduler.Scheduler) Pipeline { return s },
	),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// Pipeline is the part of the scheduler the HTTP surface drives.
type Pipeline interface {
	RunStage(ctx context.Context, name string) error
	RunOnce(ctx context.Context) error
}

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ServerParams struct {
	fx.In

	Engine   *gin.Engine
	Log      *zap.Logger
	Usage    usagedomain.Service
	Charges  chargesdomain.Service
	Pipeline Pipeline
}

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	usagesvc   usagedomain.Service
	chargessvc chargesdomain.Service
	pipeline   Pipeline
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Engine,
		log:        p.Log.Named("http.server"),
		usagesvc:   p.Usage,
		chargessvc: p.Charges,
		pipeline:   p.Pipeline,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")

	usage := v1.Group("/usage")
	usage.POST("", s.IngestUsage)
	usage.POST("/aggregate", s.runStage(obsmetrics.StageAggregate))
	usage.POST("/bill", s.runStage(obsmetrics.StageBill))
	usage.POST("/invoice", s.runStage(obsmetrics.StageInvoice))
	usage.POST("/back-fill", s.runStage(obsmetrics.StageBackfill))
	usage.POST("/charge-usage", s.ChargeUsage)

	charges := v1.Group("/charges/tenants/:tenantId")
	charges.GET("/subscriptions/:subscriptionId/units/:unit/tracking/:trackingId", s.GetCharges)
	charges.GET("/pg/subscriptions/:subscriptionId/units/:unit/tracking/:trackingId", s.GetChargesForPG)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
