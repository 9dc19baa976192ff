// Package main is the entry point for the collectible market server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/api"
	"collectible-market/internal/bot"
	"collectible-market/internal/cache"
	"collectible-market/internal/config"
	"collectible-market/internal/notify"
	"collectible-market/internal/pkg/db"
	"collectible-market/internal/repository"
	"collectible-market/internal/rules"
	"collectible-market/internal/service"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Log)
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Repositories
	pool := dbPool.Pool
	runner := db.NewTxRunner(pool, cfg.Database.TxRetries)
	userRepo := repository.NewUserRepository(pool)
	txRepo := repository.NewTransactionRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	catalogRepo := repository.NewCatalogRepository(pool)
	scarcityRepo := repository.NewScarcityRepository(pool)
	inventoryRepo := repository.NewInventoryRepository(pool)
	listingRepo := repository.NewListingRepository(pool)
	ruleRepo := repository.NewRuleRepository(pool)
	riskRepo := repository.NewRiskRepository(pool)

	// Events
	publisher, err := notify.NewPublisher(ctx, cfg.Events)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Events.Driver).Msg("Failed to create event publisher")
	}
	events := notify.NewDispatcher(ctx, publisher, notify.DispatcherOptions{
		Workers:   cfg.Events.Workers,
		QueueSize: cfg.Events.QueueSize,
		Retries:   cfg.Events.PublishRetries,
	})
	defer events.Close()

	// Scarcity cache
	var scarcityCache *cache.ScarcityCache
	if cfg.Redis.Enabled() {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, scarcity cache disabled")
		} else {
			defer closeRedis(client)
			scarcityCache = cache.NewScarcityCache(client, cfg.Redis.ScarcityTTL)
		}
	}

	// Services
	registry := rules.DefaultRegistry
	engine := rules.NewEngine(
		ruleRepo,
		service.NewMarketActivity(listingRepo, riskRepo),
		service.NewRiskRecorder(riskRepo, events),
		registry,
		cfg.Market.RiskThreshold,
	)

	ledgerService := service.NewLedgerService(runner, userRepo, txRepo, paymentRepo, events)
	dropService := service.NewDropService(runner, userRepo, txRepo, catalogRepo, scarcityRepo, inventoryRepo,
		scarcityCache, events, cfg.Drop.MaxClaimAttempts)
	marketService := service.NewMarketplaceService(runner, userRepo, txRepo, inventoryRepo, listingRepo, engine,
		events, cfg.Market.FeeRate, cfg.Market.AutoSellRate)
	ruleService := service.NewRuleService(runner, ruleRepo, riskRepo, registry)
	catalogService := service.NewCatalogService(runner, catalogRepo)

	if err := catalogService.Seed(ctx, cfg.Catalog, cfg.Packs); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed catalog")
	}
	if err := ruleService.SeedDefaults(ctx, cfg.Market.DefaultRules); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed marketplace rules")
	}

	// HTTP server
	h := api.NewHandler(ledgerService, dropService, marketService, ruleService, dbPool)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(h, cfg.Server.Mode, cfg.IsAdmin),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Telegram bot
	var telegramBot *bot.Bot
	if cfg.Bot.Token != "" {
		telegramBot, err = bot.New(&bot.Dependencies{
			Config:             cfg,
			LedgerService:      ledgerService,
			DropService:        dropService,
			MarketplaceService: marketService,
			RuleService:        ruleService,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		go telegramBot.Start()
	} else {
		log.Info().Msg("Bot token not set, Telegram bot disabled")
	}

	go watchPool(ctx, dbPool)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	if telegramBot != nil {
		telegramBot.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped gracefully")
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Redis client")
	}
}

func watchPool(ctx context.Context, pool *db.Pool) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pool.LogHealth(ctx)
		}
	}
}
