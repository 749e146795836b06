package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"imageforge/internal/adapter/repo"
	"imageforge/internal/credit"
	"imageforge/internal/infra"
	"imageforge/internal/queue"
	"imageforge/internal/storage"
	"imageforge/internal/synthesis"
	"imageforge/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer rdb.Close()

	store, err := storage.NewFileStore(storage.FileStoreOptions{
		BasePath: cfg.StoragePath,
		BaseURL:  cfg.StorageBaseURL,
		SignKey:  cfg.StorageSignKey,
		CDNBase:  cfg.CDNBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	if cfg.SynthesisAPIToken == "" {
		logger.Warn().Msg("worker: synthesis API token missing, predictions will fail")
	}
	synth := synthesis.NewClient(synthesis.ClientOptions{
		BaseURL:  cfg.SynthesisBaseURL,
		APIToken: cfg.SynthesisAPIToken,
	})

	usage := repo.NewUsageLogRepository(pool)
	ledger := credit.NewLedger(repo.NewAccountRepository(pool), usage, logger)

	registry := prometheus.NewRegistry()
	metrics := worker.NewMetrics(registry)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           worker.MetricsHandler(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.MetricsPort).Msg("worker: metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("worker: metrics server failed")
		}
	}()

	orch := worker.NewOrchestrator(
		queue.NewRedisGateway(rdb, cfg.QueueName, logger),
		repo.NewGenerationRepository(pool),
		ledger,
		synth,
		store,
		worker.NewNotifier(logger),
		metrics,
		logger,
		worker.Options{
			Concurrency:      cfg.WorkerConcurrency,
			MaxRetries:       cfg.WorkerMaxRetries,
			LeaseDuration:    cfg.LeaseDuration,
			ReceiveWait:      cfg.ReceiveWait,
			RateLimitBackoff: cfg.RateLimitBackoff,
			PollCeiling:      cfg.SynthesisPollCeiling,
			ArtifactTimeout:  cfg.ArtifactTimeout,
			SignedURLTTL:     cfg.SignedURLTTL,
		},
	)

	go orch.MonitorStale(ctx, 5*time.Minute, 2*cfg.LeaseDuration)

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info().Msg("worker: stopped")
}
