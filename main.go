package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"landpub/internal/batch"
	"landpub/internal/config"
	"landpub/internal/drain"
	"landpub/internal/id"
	"landpub/internal/log"
	"landpub/internal/metrics"
	"landpub/internal/publisher"
	"landpub/internal/ratelimit"
	"landpub/internal/reaper"
	"landpub/internal/server"
	"landpub/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	logger := log.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	queueStore, err := store.NewQueueStore(cfg.DatabaseURL, logger.Named("store"))
	if err != nil {
		logger.Fatal("Failed to initialize queue store", zap.Error(err))
	}
	defer queueStore.Close()
	recordStore := store.NewRecordStore(queueStore.DB(), logger.Named("records"))
	listingStore := store.NewListingStore(queueStore.DB())
	cache := store.NewErrorCache(redisClient, logger.Named("cache"))

	node, err := id.NewNode(cfg.NodeID)
	if err != nil {
		logger.Fatal("Failed to initialize ID generator", zap.Error(err))
	}

	publishers := make(map[string]publisher.Publisher)
	if cfg.VKAccessToken != "" && cfg.VKGroupID != 0 {
		vk := publisher.NewVKPublisher(cfg.VKAccessToken, cfg.VKGroupID,
			cfg.VKAPIVersion, cfg.PublishTimeout, logger.Named("vk"))
		publishers[vk.Platform()] = publisher.WithBreaker(vk)
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		tg := publisher.NewTelegramPublisher(cfg.TelegramBotToken, cfg.TelegramChatID,
			cfg.PublishTimeout, logger.Named("telegram"))
		publishers[tg.Platform()] = publisher.WithBreaker(tg)
	}
	if len(publishers) == 0 {
		logger.Fatal("No publish platform configured, set VK_* or TELEGRAM_* variables")
	}

	limiter := ratelimit.NewLimiter(cfg.PublishRate)
	exportMetrics := metrics.NewExportMetrics(queueStore, cfg, logger.Named("metrics"))
	drainer := drain.NewDrainer(queueStore, recordStore, listingStore, publishers,
		limiter, cache, exportMetrics.RateBackoffs, cfg.PageSize, cfg.RateBackoff, logger.Named("drain"))
	tracker := batch.NewTracker(queueStore, listingStore, recordStore, cache,
		node, cfg.PublishRate, logger.Named("batch"))
	stuckReaper := reaper.NewReaper(queueStore, cfg.ProcessingTimeout, cfg.ReaperInterval, logger.Named("reaper"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go stuckReaper.Run(ctx)
	go exportMetrics.Run(ctx)
	if cfg.DrainInterval > 0 {
		worker := drain.NewWorker(drainer, queueStore, cfg.DrainInterval, logger.Named("worker"))
		go worker.Run(ctx)
	}

	r := chi.NewRouter()
	server.SetupRouter(r, cfg, queueStore, recordStore, tracker, drainer,
		publishers, cache, exportMetrics, redisClient)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		logger.Info("Server starting on :8080")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}
