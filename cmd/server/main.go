package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"payledger/internal/config"
	"payledger/internal/handler"
	"payledger/internal/infrastructure/cache"
	"payledger/internal/infrastructure/database"
	"payledger/internal/infrastructure/lock"
	"payledger/internal/infrastructure/mq"
	"payledger/internal/job"
	"payledger/internal/metrics"
	"payledger/internal/repository"
	"payledger/internal/service"
	"payledger/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const workerLeaseTTL = time.Minute

func main() {
	configPath := os.Getenv("PAYLEDGER_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("load config failed", "path", configPath, "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	instanceID := instanceName()

	db, err := database.InitMySQL(&cfg.MySQL, log)
	if err != nil {
		fatal(log, "init mysql", err)
	}
	rdb, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		fatal(log, "init redis", err)
	}

	workerID := cfg.Server.WorkerID
	var workerLease *lock.DistributedLock
	if workerID == config.WorkerIDAuto {
		workerID, workerLease, err = lock.AcquireWorkerID(ctx, rdb, instanceID, idgen.MaxWorkerID, workerLeaseTTL)
		if err != nil {
			fatal(log, "lease worker id", err)
		}
		go workerLease.KeepAlive(ctx, workerLeaseTTL/3, log)
	}
	if err := idgen.Init(workerID); err != nil {
		fatal(log, "init id generator", err)
	}
	log.Info("id generator ready", "worker_id", workerID, "leased", workerLease != nil)
	producer, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		fatal(log, "init kafka", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(reg)

	topic := cfg.Kafka.Topic.TransactionEvents
	var publisher service.EventPublisher
	switch cfg.Events.Mode {
	case config.EventsModeDirect:
		publisher = mq.NewKafkaPublisher(producer, topic, log)
	default:
		publisher = service.NewOutboxPublisher(repository.NewOutboxRepository(db), topic)
	}

	balanceCache := cache.NewBalanceCache(rdb, time.Duration(cfg.Cache.BalanceTTLSeconds)*time.Second, log, rec)
	executor := service.NewLedgerExecutor(db,
		service.WithIsolation(database.IsolationLevel(cfg.Ledger.Isolation)),
		service.WithCreditKeySuffix(cfg.Ledger.CreditKeySuffix),
		service.WithExecutorLogger(log))
	retry := service.NewRetryCoordinator(cfg.Ledger.MaxAttempts, rec, log)

	accounts := service.NewAccountService(db, balanceCache, log)
	ledger := service.NewLedgerService(db, executor, retry, balanceCache, publisher, log)
	summaries := service.NewSummaryService(db, log)

	if cfg.Events.Mode == config.EventsModeOutbox {
		sender := job.NewOutboxSender(db, producer, &cfg.Business,
			lock.NewJobLock(rdb, "outbox-sender", instanceID, 10*time.Second), log)
		go sender.Start(ctx)

		redrive := job.NewOutboxRedriveJob(db, &cfg.Business,
			lock.NewJobLock(rdb, "outbox-redrive", instanceID, 3*time.Minute), log)
		go redrive.Start(ctx)
	}

	group, err := mq.NewConsumerGroup(&cfg.Kafka, cfg.Kafka.Group.Summary)
	if err != nil {
		fatal(log, "init summary consumer", err)
	}
	consumer := job.NewSummaryConsumer(group, topic, summaries, log)
	go consumer.Start(ctx)

	router := handler.SetupRouter(handler.RouterDeps{
		Handler:  handler.NewHandler(accounts, ledger, summaries, log),
		Redis:    rdb,
		Config:   cfg,
		Metrics:  rec,
		Gatherer: reg,
		Log:      log,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.Server.Port, "events_mode", cfg.Events.Mode, "instance", instanceID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "http server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := consumer.Stop(); err != nil {
		log.Error("close consumer group failed", "error", err)
	}
	if err := producer.Close(); err != nil {
		log.Error("close kafka producer failed", "error", err)
	}
	if workerLease != nil {
		if err := workerLease.Unlock(shutdownCtx); err != nil {
			log.Error("release worker id failed", "error", err)
		}
	}
	if err := rdb.Close(); err != nil {
		log.Error("close redis failed", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// instanceName identifies this process as a lock and lease owner.
func instanceName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func fatal(log *slog.Logger, what string, err error) {
	log.Error(what+" failed", "error", err)
	os.Exit(1)
}
