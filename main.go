package main

import (
	"context"
	"log"
	"os"
	"time"

	"dealflow/config"
	controller "dealflow/controllers"
	"dealflow/middleware"
	"dealflow/routes"
	"dealflow/utils"
	"dealflow/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "DEALFLOW: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting for dispatch failures
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Event recorder feeds both the events table and the websocket feed
	hub := controller.NewEventHub(log.New(os.Stdout, "EVENTS: ", log.LstdFlags))
	events := utils.NewEventRecorder(config.DB, log.New(os.Stdout, "EVENTS: ", log.LstdFlags))
	events.Broadcast = hub.Publish

	// Core services
	providers := utils.NewProviderSet(config.DB)
	dispatcher := utils.NewMessageDispatcher(config.DB, providers, events, config.AppConfig.MaxSendRetries)
	enrollments := utils.NewEnrollmentManager(config.DB, events, log.New(os.Stdout, "ENROLLMENT: ", log.LstdFlags))
	correlator := utils.NewCorrelator(config.DB, events, log.New(os.Stdout, "CORRELATOR: ", log.LstdFlags))
	cache := utils.NewSequenceCache(config.DB, config.AppConfig.Redis, log.New(os.Stdout, "CACHE: ", log.LstdFlags))

	// Initialize and start the step scheduler
	sequenceWorker := worker.NewSequenceWorker(
		config.DB, dispatcher, enrollments, cache, events,
		log.New(os.Stdout, "SCHEDULER: ", log.LstdFlags),
		config.AppConfig.SchedulerInterval,
		config.AppConfig.SchedulerBatch,
		config.AppConfig.DispatchWorkers,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sequenceWorker.Start(ctx)

	// Retry worker re-queues failed sends that are still under the cap
	retryWorker := worker.NewRetryWorker(dispatcher, log.New(os.Stdout, "RETRY: ", log.LstdFlags), config.AppConfig.SchedulerInterval)
	go retryWorker.Start(ctx)

	// Inbox polling is optional, webhooks cover inbound when disabled
	if config.AppConfig.IMAP.Enabled {
		inboxWorker := worker.NewInboxWorker(correlator, config.AppConfig.IMAP, log.New(os.Stdout, "INBOX: ", log.LstdFlags))
		go inboxWorker.Start(ctx)
	}

	// Setup routes
	routes.SetupRoutes(app, &routes.Services{
		DB:          config.DB,
		Enrollments: enrollments,
		Correlator:  correlator,
		Cache:       cache,
		Scheduler:   sequenceWorker,
		EventHub:    hub,
	})

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
