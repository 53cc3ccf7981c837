package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"app-link-service/config"
	"app-link-service/handlers"
	"app-link-service/middleware"
	"app-link-service/models"
	"app-link-service/services"
	"app-link-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}

	if err := models.Migrate(db); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appService := services.NewAppService(db)
	if n, err := appService.SeedFromJSON(ctx, cfg.AppsSeed); err != nil {
		log.Fatal("failed to seed apps: ", err)
	} else if n > 0 {
		log.Printf("🌱 Seeded %d app(s) from APPS_SEED", n)
	}

	metrics := services.NewMetrics()

	linkStore := services.NewLinkStore(db, cfg.LinkTTL)
	linkStore.Metrics = metrics
	referralService := services.NewReferralService(db, metrics)
	resolver := services.NewClaimResolver(linkStore, referralService, services.MatchConfig{
		Window:          cfg.MatchWindow,
		ScreenTolerance: cfg.ScreenTolerance,
		MinScore:        cfg.MinMatchScore,
	}, metrics)

	sweeper := workers.NewSweeper(linkStore, referralService, metrics,
		cfg.SweepInterval, cfg.ReferralExpiryInterval, cfg.ReferralExpiryDays)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal("failed to start sweeper: ", err)
	}

	// A nil *RedisStorage must not reach the limiter as a non-nil interface.
	var limiterStorage fiber.Storage
	if cfg.RedisURL != "" {
		storage, err := middleware.NewRedisStorageFromURL(cfg.RedisURL, "app-link:rl")
		if err != nil {
			log.Printf("⚠️  Redis unavailable, rate limiting per instance: %v", err)
		} else {
			limiterStorage = storage
			defer storage.Close()
		}
	}

	app := fiber.New(fiber.Config{
		AppName:   "app-link-service",
		BodyLimit: 64 * 1024,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Cleanup-Key",
		MaxAge:       86400,
	}))
	app.Use(middleware.ClientAddressMiddleware(cfg.TrustProxy))

	limit := middleware.RateLimiter(cfg.RateLimitPerMin, time.Minute, limiterStorage)

	deferred := &handlers.DeferredHandler{
		Apps:     appService,
		Links:    linkStore,
		Resolver: resolver,
		Cleaner:  sweeper,
	}

	handlers.SetupSystemRoutes(app, db, metrics.Registry)
	handlers.SetupDeferredRoutes(app, deferred, limit, cfg.CleanupKey)
	handlers.SetupReferralRoutes(app, &handlers.ReferralHandler{
		Apps:           appService,
		Referrals:      referralService,
		PublicBaseURL:  cfg.PublicBaseURL,
		ReferralWindow: time.Duration(cfg.ReferralExpiryDays) * 24 * time.Hour,
	}, cfg.APIKey)
	handlers.SetupLandingRoutes(app, deferred)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on %s (port %s)", cfg.PublicBaseURL, cfg.Port)
	log.Printf("✅ Sweeper running every %s, referral expiry every %s", cfg.SweepInterval, cfg.ReferralExpiryInterval)
	if cfg.APIKey == "" {
		log.Println("⚠️  API_KEY not set, referral endpoints are unauthenticated")
	}
	log.Printf("✅ CORS configured for origins: %s", strings.Join(cfg.AllowedOrigins, ","))

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
