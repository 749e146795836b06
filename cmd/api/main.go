package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"imageforge/internal/adapter/repo"
	"imageforge/internal/credit"
	"imageforge/internal/http/handlers"
	"imageforge/internal/http/httpapi"
	"imageforge/internal/infra"
	"imageforge/internal/queue"
	"imageforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	store, err := storage.NewFileStore(storage.FileStoreOptions{
		BasePath: cfg.StoragePath,
		BaseURL:  cfg.StorageBaseURL,
		SignKey:  cfg.StorageSignKey,
		CDNBase:  cfg.CDNBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	usage := repo.NewUsageLogRepository(pool)

	app := &handlers.App{
		Logger:       logger,
		Generations:  repo.NewGenerationRepository(pool),
		Usage:        usage,
		Ledger:       credit.NewLedger(repo.NewAccountRepository(pool), usage, logger),
		Gateway:      queue.NewRedisGateway(rdb, cfg.QueueName, logger),
		Store:        store,
		Signer:       store.Signer(),
		SignedURLTTL: cfg.SignedURLTTL,
	}

	router := httpapi.NewRouter(app, logger, httpapi.RouterOptions{RateLimitPerMin: cfg.RateLimitPerMin})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
