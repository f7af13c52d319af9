package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"searchsync/internal/audit"
	"searchsync/internal/ledger"
	"searchsync/internal/migrate"
	"searchsync/internal/platform/config"
	"searchsync/internal/platform/httpserver"
	"searchsync/internal/platform/logger"
	"searchsync/internal/platform/postgres"
	"searchsync/internal/platform/redis"
	"searchsync/internal/queue"
	queuemetrics "searchsync/internal/queue/metrics"
	"searchsync/internal/search"
	"searchsync/internal/token"
	tokenmetrics "searchsync/internal/token/metrics"
	httptransport "searchsync/internal/transport/http"
	"searchsync/pkg/platform/tx"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.PostgresURL)
	if err != nil {
		log.WithError(err).Fatal("open postgres")
	}
	defer db.Close()

	rdb, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("open redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var engine search.Engine
	switch cfg.Engine {
	case "memory":
		engine = search.NewMemoryEngine()
	default:
		bleveEngine, err := search.OpenBleve(cfg.BleveDataDir)
		if err != nil {
			log.WithError(err).Fatal("open bleve indexes")
		}
		defer bleveEngine.Close()
		engine = bleveEngine
	}

	var ops audit.Publisher = audit.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		kafka, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaOpsTopic, log)
		if err != nil {
			log.WithError(err).Fatal("connect kafka")
		}
		defer kafka.Close()
		ops = kafka
	}

	ledgerStore := ledger.NewPostgres(db)
	queueStore := queue.NewPostgres(db)
	migrationStore := migrate.NewPostgres(db)

	// Token state prefers Redis when configured; the TTL maps onto key
	// expiry there. Postgres is the fallback so a single-binary deploy
	// still works.
	var tokenStore token.Store
	if rdb != nil {
		tokenStore = token.NewRedisStore(rdb.Client)
	} else {
		tokenStore = token.NewPostgres(db)
	}

	qm := queuemetrics.New()
	queueService := queue.NewService(queueStore, ledgerStore, tx.NewPostgresRunner(db), qm, log)
	tokenService := token.NewService(tokenStore, ledgerStore, cfg.TokenTTL, tokenmetrics.New())

	worker := queue.NewWorker(queueStore, ledgerStore, engine, queue.WorkerOptions{
		Workers:      cfg.Workers,
		BatchSize:    cfg.BatchSize,
		ClaimLease:   cfg.ClaimLease,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		RetryCeiling: cfg.RetryCeiling,
	}, qm, ops, log)

	migrator := migrate.New(engine, migrationStore, migrate.Options{
		QueueDepth:   queueService.Depth,
		DrainTimeout: cfg.DrainTimeout,
	}, ops, log)
	if err := migrator.Recover(ctx); err != nil {
		log.WithError(err).Fatal("recover interrupted migrations")
	}

	health := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Health(ctx)
		}
		return nil
	}

	handler := httptransport.NewHandler(queueService, tokenService, migrator, health, log)
	router := httptransport.NewRouter(handler, log)
	srv := httpserver.New(cfg.Addr, router)

	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("worker pool stopped")
		}
	}()

	log.WithField("addr", cfg.Addr).Info("starting searchsync")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("graceful shutdown failed")
	}
}
