// Command learning-api serves the HTTP surface for session creation,
// answer submission, analytics reads, and runtime-control administration.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/medlearn-core/internal/config"
	"github.com/jordigilh/medlearn-core/internal/httpapi"
	"github.com/jordigilh/medlearn-core/internal/logging"
	"github.com/jordigilh/medlearn-core/pkg/audit"
	"github.com/jordigilh/medlearn-core/pkg/knowledge"
	"github.com/jordigilh/medlearn-core/pkg/ratelimit"
	"github.com/jordigilh/medlearn-core/pkg/runtimectl"
	"github.com/jordigilh/medlearn-core/pkg/session"
	"github.com/jordigilh/medlearn-core/pkg/store/postgres"
	"github.com/jordigilh/medlearn-core/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log, atomicLevel, err := logging.New(cfg.Logging)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}

	var cfgRef atomic.Pointer[config.Config]
	cfgRef.Store(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.Watch(ctx, *configPath, log, func(reloaded *config.Config) {
		cfgRef.Store(reloaded)
		if err := logging.SetLevel(atomicLevel, reloaded.Logging.Level); err != nil {
			log.Error(err, "failed to apply reloaded logging level")
		}
	}); err != nil {
		log.Error(err, "failed to start config watcher, continuing without hot-reload")
	}

	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		log.Error(err, "failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer rdb.Close()

	runtimeConfigStore := postgres.NewRuntimeConfigStore(db)
	approvalStore := postgres.NewApprovalStore(db)
	var auditSink audit.Sink = audit.NoopSink{}
	runtimeSvc := runtimectl.NewService(runtimeConfigStore, approvalStore, auditSink, log, cfg.IsProduction())

	knowledgeRepo := postgres.NewKnowledgeRepository(db)
	knowledgeStore := knowledge.NewStore(knowledgeRepo, runtimeSvc)

	sessionRepo := postgres.NewSessionRepository(db)
	catalogRepo := postgres.NewCatalogRepository(db, telemetry.DefaultParams().Elo,
		cfg.Selection.DefaultChallengeLow, cfg.Elo.InitialLearnerRating, cfg.Elo.InitialItemRating)

	pipeline := telemetry.NewPipeline(sessionRepo, catalogRepo, knowledgeStore, runtimeSvc, log, telemetry.DefaultParams())
	sessionSvc := session.NewService(sessionRepo, catalogRepo, runtimeSvc, pipeline, log)

	analyticsRepo := postgres.NewAnalyticsRepository(db)
	limiter := ratelimit.New(rdb, log)

	router := httpapi.NewRouter(httpapi.Dependencies{
		Sessions:  sessionSvc,
		Runtime:   runtimeSvc,
		Analytics: analyticsRepo,
		Limiter:   limiter,
		Audit:     auditSink,
		Log:       log,
		RateLimit: func() config.RateLimitConfig {
			return cfgRef.Load().RateLimit
		},
		CORS: cfg.CORS,
	})

	apiServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server exited")
		}
	}()

	go func() {
		log.Info("starting learning-api server", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "learning-api server exited")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining in-flight requests")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}
