package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"leadforge/config"
	controller "leadforge/controllers"
	"leadforge/middleware"
	"leadforge/routes"
	"leadforge/services"
	"leadforge/utils"
	"leadforge/worker"
)

func main() {
	log := logrus.StandardLogger()

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	defer sentry.Flush(2 * time.Second)

	if err := config.ConnectDB(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	cfg := config.AppConfig
	db := config.DB

	// Providers and transport
	transport := utils.NewMailTransport(cfg, log)
	tracker := utils.NewTracker(cfg.TrackingBaseURL, cfg.JWTSecret)
	verifier := utils.NewVerifier(cfg.Providers.VerifierMode, cfg.MessageIDDomain, "verify@"+cfg.MessageIDDomain)
	enricher := utils.NewEnricher(cfg.Providers.EnricherMode, cfg.Providers.EnrichmentAPIURL, cfg.Providers.EnrichmentAPIKey)
	scraper := utils.NewScraper(cfg.Providers.ScraperMode)
	tokens := utils.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	// Services
	authService := services.NewAuthService(db, tokens, log)
	companyService := services.NewCompanyService(db, transport, cfg.AppName, log)
	campaignService := services.NewCampaignService(db, log)
	sequenceService := services.NewSequenceService(db, log)
	enrollmentService := services.NewEnrollmentService(db, log)
	eventService := services.NewEventService(db, log)
	leadService := services.NewLeadService(db, verifier, enricher, log)
	scrapingService := services.NewScrapingService(db, scraper, leadService, log)
	analyticsService := services.NewAnalyticsService(db, log)
	dispatch := services.NewDispatchEngine(db, transport, tracker, campaignService, services.DispatchConfig{
		Concurrency:  cfg.Dispatch.Concurrency,
		BatchSize:    cfg.Dispatch.BatchSize,
		MaxAttempts:  cfg.Dispatch.MaxAttempts,
		LeaseTimeout: cfg.Dispatch.LeaseTimeout,
	}, log)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		BodyLimit:    12 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowedOrigins = cfg.CORSOrigins
	}
	app.Use(middleware.CORS(corsConfig))

	routes.SetupRoutes(app, routes.Handlers{
		Auth:          controller.NewAuthController(authService, cfg, log),
		Company:       controller.NewCompanyController(companyService),
		Campaigns:     controller.NewCampaignController(campaignService, log),
		Sequences:     controller.NewSequenceController(sequenceService),
		CampaignLeads: controller.NewCampaignLeadController(enrollmentService),
		Events:        controller.NewEventController(eventService, tracker, cfg.WebhookSecret, log),
		Leads:         controller.NewLeadController(leadService, log),
		Scraping:      controller.NewScrapingController(scrapingService),
		Dashboard:     controller.NewDashboardController(analyticsService),
		Authenticator: authService,
		RateLimiter:   middleware.CompanyRateLimiter(cfg.RateLimitPerMinute, middleware.NewRateLimitStorage(cfg.Redis)),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	dispatchWorker := worker.NewDispatchWorker(dispatch, analyticsService, cfg.Dispatch.Schedule, cfg.Dispatch.StatsSchedule, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatchWorker.Start(ctx); err != nil {
			log.WithError(err).Error("Dispatch worker failed to start")
		}
	}()

	inboxWorker := worker.NewInboxWorker(db, eventService, transport, cfg.AppName, cfg.InboxPollInterval, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		inboxWorker.Start(ctx)
	}()

	go func() {
		log.Infof("🚀 Server starting on port %s", cfg.ServerPort)
		if err := app.Listen(":" + cfg.ServerPort); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	wg.Wait()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("Shutdown complete")
}
