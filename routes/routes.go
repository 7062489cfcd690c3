package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "leadflow/controllers"
	"leadflow/middleware"
)

// SetupRoutes wires the template authoring, enroll and tracking surfaces.
func SetupRoutes(app *fiber.App, db *gorm.DB) {
	routeLogger := log.New(os.Stdout, "API: ", log.Ldate|log.Ltime|log.Lshortfile)

	templateController := controller.NewTemplateController(db, routeLogger)
	enrollmentController := controller.NewEnrollmentController(db, routeLogger)
	eventController := controller.NewEventController(db, routeLogger)

	requestLog := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})

	// Template authoring (tenant-scoped)
	templates := app.Group("/templates", requestLog, middleware.RequireOrganization(db))
	templates.Post("/", templateController.CreateTemplate)
	templates.Get("/", templateController.ListTemplates)
	templates.Get("/:id", templateController.GetTemplate)
	templates.Put("/:id", templateController.UpdateTemplate)
	templates.Delete("/:id", templateController.DeleteTemplate)
	templates.Post("/:id/clone", templateController.CloneTemplate)
	templates.Put("/:id/graph", templateController.SaveGraph)
	templates.Put("/:id/steps/reorder", templateController.ReorderSteps)
	templates.Get("/:id/stats", templateController.GetTemplateStats)

	// Enroll API (tenant-scoped)
	enrollments := app.Group("/enrollments", requestLog, middleware.RequireOrganization(db))
	enrollments.Post("/", enrollmentController.Enroll)
	enrollments.Post("/bulk", enrollmentController.BulkEnroll)
	enrollments.Get("/", enrollmentController.ListEnrollments)
	enrollments.Get("/:id", enrollmentController.GetEnrollment)
	enrollments.Put("/:id/status", enrollmentController.UpdateStatus)

	// Organization send volume
	stats := app.Group("/stats", requestLog, middleware.RequireOrganization(db))
	stats.Get("/sends", templateController.GetSendStats)

	// Event intake: tracking endpoints are hit from email clients and the
	// webhook from the event source, so no tenant header here
	app.Post("/events/webhook", requestLog, eventController.HandleEventWebhook)
	app.Get("/track/open/:token", eventController.HandleOpenTracking)
	app.Get("/track/click/:token", eventController.HandleClickTracking)

	// Live enrollment progress
	app.Get("/ws/enrollments", websocket.New(controller.HandleEnrollmentProgressWS(db)))

	routeLogger.Println("Routes initialized successfully")
}
