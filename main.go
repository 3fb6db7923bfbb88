package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"matchmaking-system/config"
	"matchmaking-system/handlers"
	"matchmaking-system/middleware"
	"matchmaking-system/repository"
	"matchmaking-system/services"
	"matchmaking-system/workers"
)

func setupLogging(cfg config.LogConfig) {
	zerolog.SetGlobalLevel(cfg.Level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg.Log)
	if err := cfg.Server.Validate(); err != nil {
		log.Fatal().Err(err).Msg("gateway token is required, service cannot authenticate the gateway")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := repository.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	store := repository.NewGormStore(db)
	queue := services.NewTicketQueue(store)
	lifecycle := services.NewMatchLifecycle(store, services.MustRatingEngine(services.DefaultBrackets), clock)

	sched, err := services.NewCronScheduler(clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	deferred := services.NewGocronDeferred(ctx, sched, clock)
	matchmaker := services.NewMatchmakingScheduler(store, queue, lifecycle, deferred, clock, services.Timing{
		StartDelay:   cfg.Match.StartDelay,
		Lifetime:     cfg.Match.Lifetime,
		TickInterval: cfg.Match.TickInterval,
	})
	if _, err := matchmaker.Start(ctx, sched); err != nil {
		log.Fatal().Err(err).Msg("failed to start matchmaking")
	}
	sched.Start()

	workers.NewOverdueMatchWorker(store, lifecycle, clock, cfg.Match.RecoveryInterval).Start(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,DELETE,OPTIONS,HEAD",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
		MaxAge:        86400,
	}))
	app.Get("/health", handlers.Health)
	// every route registered after this requires the gateway token
	app.Use(middleware.GatewayAuthMiddleware(cfg.Server.GatewayToken))
	handlers.SetupMatchmakingRoutes(app, queue, lifecycle)

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	log.Info().
		Str("port", cfg.Server.Port).
		Strs("allowed_origins", cfg.Server.AllowedOrigins).
		Dur("start_delay", cfg.Match.StartDelay).
		Dur("lifetime", cfg.Match.Lifetime).
		Msg("matchmaking service running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	// pending completions are dropped here; the overdue sweep picks them up
	// on the next start
	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("failed to stop scheduler")
	}
}
