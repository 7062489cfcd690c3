package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/engine"
)

// statusForError maps engine error types to HTTP status codes at the API
// boundary.
func statusForError(err error) int {
	var validationErr *engine.ValidationError
	var graphErr *engine.GraphError
	var enrolledErr *engine.AlreadyEnrolledError
	var transitionErr *engine.InvalidTransitionError

	switch {
	case errors.As(err, &validationErr):
		return fiber.StatusUnprocessableEntity
	case errors.As(err, &graphErr):
		return fiber.StatusUnprocessableEntity
	case errors.As(err, &enrolledErr):
		return fiber.StatusConflict
	case errors.As(err, &transitionErr):
		return fiber.StatusConflict
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}

func engineError(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// TemplateController owns the template authoring surface.
type TemplateController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTemplateController(db *gorm.DB, logger *log.Logger) *TemplateController {
	return &TemplateController{DB: db, Logger: logger}
}

// EnrollmentController owns the enroll API.
type EnrollmentController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewEnrollmentController(db *gorm.DB, logger *log.Logger) *EnrollmentController {
	return &EnrollmentController{DB: db, Logger: logger}
}

// EventController receives external events from the tracking endpoints and
// the webhook source.
type EventController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Ingestor *engine.Ingestor
}

func NewEventController(db *gorm.DB, logger *log.Logger) *EventController {
	return &EventController{DB: db, Logger: logger, Ingestor: engine.NewIngestor(db)}
}
