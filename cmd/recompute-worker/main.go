// Command recompute-worker runs the periodic Elo recenter job outside the
// request-scoped hot path, so recentering never blocks an answer
// submission, and always respects the freeze gate.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/jordigilh/medlearn-core/internal/config"
	"github.com/jordigilh/medlearn-core/internal/logging"
	"github.com/jordigilh/medlearn-core/pkg/audit"
	"github.com/jordigilh/medlearn-core/pkg/knowledge"
	"github.com/jordigilh/medlearn-core/pkg/metrics"
	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/runtimectl"
	"github.com/jordigilh/medlearn-core/pkg/store/postgres"
	"github.com/jordigilh/medlearn-core/pkg/telemetry"
)

const (
	jobKind    = "elo_recenter"
	jobScope   = "global"
	tickPeriod = 10 * time.Minute
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}
	log, _, err := logging.New(cfg.Logging)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		log.Error(err, "failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	runtimeConfigStore := postgres.NewRuntimeConfigStore(db)
	approvalStore := postgres.NewApprovalStore(db)
	runtimeSvc := runtimectl.NewService(runtimeConfigStore, approvalStore, audit.NoopSink{}, log, cfg.IsProduction())

	knowledgeRepo := postgres.NewKnowledgeRepository(db)
	knowledgeStore := knowledge.NewStore(knowledgeRepo, runtimeSvc)
	lock := postgres.NewAdvisoryLock(db, jobKind, jobScope)
	params := telemetry.DefaultParams()

	log.Info("recompute-worker starting", "tick_period", tickPeriod.String())
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	runRecenter(ctx, log, runtimeSvc, knowledgeStore, lock, params.RecenterThreshold)
	for {
		select {
		case <-ctx.Done():
			log.Info("recompute-worker shutting down")
			return
		case <-ticker.C:
			runRecenter(ctx, log, runtimeSvc, knowledgeStore, lock, params.RecenterThreshold)
		}
	}
}

func runRecenter(ctx context.Context, log logr.Logger, runtimeSvc *runtimectl.Service, store *knowledge.Store, lock *postgres.AdvisoryLock, threshold float64) {
	frozen, err := runtimeSvc.IsFrozen(ctx)
	if err != nil {
		log.Error(err, "failed to check freeze state, skipping recenter tick")
		return
	}
	if frozen {
		log.Info("safe mode frozen, skipping recenter tick")
		return
	}

	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		log.Error(err, "failed to acquire recenter advisory lock")
		return
	}
	if !acquired {
		log.V(1).Info("recenter job already running elsewhere, skipping tick")
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			log.Error(err, "failed to release recenter advisory lock")
		}
	}()

	mean, err := store.ItemRatingMean(ctx)
	if err != nil {
		log.Error(err, "failed to read item rating mean")
		return
	}
	if mean < threshold && mean > -threshold {
		log.V(1).Info("item rating mean within threshold, skipping recenter", "mean", mean, "threshold", threshold)
		return
	}

	run := models.AlgorithmRun{
		ID:        uuid.New(),
		Module:    "elo_recenter",
		Version:   models.VersionV1,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}

	if err := store.Recenter(ctx); err != nil {
		run.Status = models.RunFailed
		run.ErrorMessage = err.Error()
		now := time.Now().UTC()
		run.FinishedAt = &now
		_ = store.RecordRun(ctx, run)
		metrics.RecordAlgorithmRun(run.Module, string(run.Status))
		log.Error(err, "elo recenter failed")
		return
	}

	metrics.EloRecenterTotal.Inc()
	run.Status = models.RunSuccess
	now := time.Now().UTC()
	run.FinishedAt = &now
	if err := store.RecordRun(ctx, run); err != nil {
		log.Error(err, "failed to record elo recenter run")
	}
	metrics.RecordAlgorithmRun(run.Module, string(run.Status))
	log.Info("elo recenter completed", "pre_mean", mean)
}
