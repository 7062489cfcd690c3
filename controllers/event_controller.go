package controller

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/engine"
)

// HandleEventWebhook accepts (tracking token, event type, timestamp) tuples
// from the external event source. Delivery is at-least-once; the ingestor
// deduplicates.
func (ev *EventController) HandleEventWebhook(c *fiber.Ctx) error {
	var input struct {
		EventType     string `json:"event_type"` // open, click, reply, meeting_booked
		TrackingToken string `json:"tracking_token"`
		Timestamp     int64  `json:"timestamp"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	switch input.EventType {
	case engine.EventOpen, engine.EventClick, engine.EventReply, engine.EventMeeting:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown event type",
		})
	}

	occurredAt := time.Now()
	if input.Timestamp > 0 {
		occurredAt = time.Unix(input.Timestamp, 0)
	}

	if err := ev.Ingestor.Ingest(input.TrackingToken, input.EventType, occurredAt); err != nil {
		ev.Logger.Printf("Failed to ingest %s event: %v", input.EventType, err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Execution not found for tracking token",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process event",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Event processed successfully",
	})
}

// HandleOpenTracking serves the tracking pixel and records the open.
func (ev *EventController) HandleOpenTracking(c *fiber.Ctx) error {
	token := c.Params("token")

	if err := ev.Ingestor.Ingest(token, engine.EventOpen, time.Now()); err != nil {
		ev.Logger.Printf("Open tracking failed for token %s: %v", token, err)
	}

	// Always return the pixel; a broken token must not break the email
	return c.Type("gif").Send(transparentPixel())
}

// HandleClickTracking records the click and redirects to the original URL.
func (ev *EventController) HandleClickTracking(c *fiber.Ctx) error {
	token := c.Params("token")
	originalURL := c.Query("url")

	if err := ev.Ingestor.Ingest(token, engine.EventClick, time.Now()); err != nil {
		ev.Logger.Printf("Click tracking failed for token %s: %v", token, err)
	}

	if originalURL == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.Redirect(originalURL, fiber.StatusFound)
}

func transparentPixel() []byte {
	// 1x1 transparent GIF
	return []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
		0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
		0x01, 0x00, 0x3b,
	}
}
