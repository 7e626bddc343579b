// Package main is the entry point for the CountryBalls economy server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"countryballs/internal/bot"
	"countryballs/internal/catalog"
	"countryballs/internal/config"
	"countryballs/internal/httpapi"
	"countryballs/internal/metrics"
	"countryballs/internal/pkg/db"
	"countryballs/internal/pkg/joblock"
	"countryballs/internal/pkg/lock"
	"countryballs/internal/repository"
	"countryballs/internal/scheduler"
	"countryballs/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	configureLogger(cfg.Log)

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	metrics.RegisterPoolGauges(prometheus.DefaultRegisterer, func() metrics.PoolStats {
		return dbPool.Stats()
	})

	// Redis is optional; without it only one replica may run the scheduler
	redisClient, err := joblock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	var locker joblock.Locker
	if redisClient != nil {
		defer redisClient.Close()
		locker = joblock.NewRedisLocker(redisClient, "countryballs:")
	} else {
		log.Warn().Msg("Redis is not configured, scheduled jobs are only exclusive within this process")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	referralRepo := repository.NewReferralRepository(dbPool.Pool)
	catalogRepo := repository.NewCatalogRepository(dbPool.Pool)
	ratingRepo := repository.NewRatingRepository(dbPool.Pool)
	eventRepo := repository.NewEventRepository(dbPool.Pool)
	paymentRepo := repository.NewPaymentRepository(dbPool.Pool)

	// Initialize services
	game := cfg.Game
	referralService := service.NewReferralService(dbPool.Pool, userRepo, referralRepo, game.ReferralMaxDepth, cfg.Bot.Username)
	accountService := service.NewAccountService(dbPool.Pool, userRepo, catalogRepo, ratingRepo, eventRepo, referralService, game)
	balanceService := service.NewBalanceService(dbPool.Pool, userRepo, eventRepo, lock.NewUserLock(), game.EnergyLimit)
	ratingService := service.NewRatingService(dbPool.Pool, ratingRepo)
	paymentService := service.NewPaymentService(
		dbPool.Pool,
		userRepo,
		paymentRepo,
		catalogRepo,
		eventRepo,
		catalog.NewWeightedCaseOpener(nil),
		game.EnterprisesMaxSlots,
	)

	// Scheduler
	jobs := scheduler.New(cfg.Scheduler, locker)
	if err := scheduler.RegisterEconomyJobs(jobs, cfg.Scheduler, balanceService, referralService, ratingService); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}
	if cfg.Scheduler.Enabled {
		jobs.Start()
	}

	// HTTP API
	gin.SetMode(cfg.HTTP.Mode)
	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Balance:    balanceService,
			Accounts:   accountService,
			Referrals:  referralService,
			Ratings:    ratingService,
			Payments:   paymentService,
			Refunds:    paymentService,
			Jobs:       jobs,
			Health:     dbPool,
			AdminToken: cfg.HTTP.AdminToken,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server is starting...")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Telegram bot
	var telegramBot *bot.Bot
	if cfg.Bot.Enabled {
		telegramBot, err = bot.New(&bot.Dependencies{
			Config:    cfg.Bot,
			Accounts:  accountService,
			Referrals: referralService,
			Payments:  paymentService,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		go telegramBot.Start()
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	if telegramBot != nil {
		telegramBot.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Waits for a running job to finish
	jobs.Stop()

	log.Info().Msg("Server stopped gracefully")
}

// configureLogger applies the configured level and output format.
func configureLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
