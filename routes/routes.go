package routes

import (
	"log"
	"os"

	controller "dealflow/controllers"
	"dealflow/middleware"
	"dealflow/utils"
	"dealflow/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

// Services groups the shared components built in main
type Services struct {
	DB          *gorm.DB
	Enrollments *utils.EnrollmentManager
	Correlator  *utils.Correlator
	Cache       *utils.SequenceCache
	Scheduler   *worker.SequenceWorker
	EventHub    *controller.EventHub
}

func SetupRoutes(app *fiber.App, svc *Services) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAuthRoutes(app, svc)
	SetupAPIRoutes(app, svc)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}

func SetupAuthRoutes(app *fiber.App, svc *Services) {
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)

	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Get("/me", controller.GetCurrentUser)
}

func SetupAPIRoutes(app *fiber.App, svc *Services) {
	// Initialize controllers with their respective loggers
	sequenceController := controller.NewSequenceController(svc.DB, svc.Cache, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	enrollmentController := controller.NewEnrollmentController(svc.DB, svc.Enrollments, log.New(os.Stdout, "ENROLLMENT: ", log.LstdFlags))
	schedulerController := controller.NewSchedulerController(svc.Scheduler, log.New(os.Stdout, "SCHEDULER: ", log.LstdFlags))
	webhookController := controller.NewWebhookController(svc.DB, svc.Correlator, log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags))
	dealController := controller.NewDealController(svc.DB, svc.Enrollments, log.New(os.Stdout, "DEAL: ", log.LstdFlags))

	// Scheduler trigger: cron runs with the shared secret header, an
	// operator can invoke it manually with a JWT
	app.Post("/trigger/scheduler", middleware.TriggerAuth(), schedulerController.RunScheduler)

	// Inbound webhook: vendor-facing, rate limited, no operator auth
	app.Post("/webhooks/inbound", middleware.WebhookRateLimiter(), webhookController.HandleInboundWebhook)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence catalog
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Post("/:id/steps", sequenceController.AddStep)
	sequence.Post("/:id/enroll", enrollmentController.StartEnrollment)

	// Enrollments
	enrollment := api.Group("/enrollments")
	enrollment.Get("/", enrollmentController.GetEnrollments)
	enrollment.Get("/:id", enrollmentController.GetEnrollment)
	enrollment.Post("/:id/stop", enrollmentController.StopEnrollment)

	// Minimal deal/contact surface for the automation triggers
	deal := api.Group("/deals")
	deal.Post("/", dealController.CreateDeal)
	deal.Get("/:id", dealController.GetDeal)
	deal.Put("/:id/stage", dealController.UpdateDealStage)
	api.Post("/contacts", dealController.CreateContact)

	// WebSocket feed of enrollment lifecycle events
	app.Get("/api/v1/events/feed", websocket.New(svc.EventHub.HandleEventFeedWS))

	log.Println("API routes initialized successfully")
}
