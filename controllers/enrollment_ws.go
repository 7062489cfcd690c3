package controller

import (
	"log"
	"time"

	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"leadflow/models"
)

// HandleEnrollmentProgressWS streams an enrollment's live progress to the
// editing UI: pointer position, counters and status, refreshed until the
// enrollment reaches a terminal state or the client disconnects.
func HandleEnrollmentProgressWS(db *gorm.DB) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		var input struct {
			EnrollmentID uint `json:"enrollment_id"`
		}
		if err := c.ReadJSON(&input); err != nil {
			log.Printf("Error reading JSON: %v", err)
			return
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			var enrollment models.SequenceEnrollment
			if err := db.First(&enrollment, input.EnrollmentID).Error; err != nil {
				log.Printf("Enrollment %d not found: %v", input.EnrollmentID, err)
				return
			}

			progress := struct {
				Status          string     `json:"status"`
				CurrentStep     int        `json:"current_step"`
				NextScheduledAt *time.Time `json:"next_step_scheduled_at"`
				EmailsSent      int        `json:"emails_sent"`
				EmailsOpened    int        `json:"emails_opened"`
				EmailsClicked   int        `json:"emails_clicked"`
				RepliesReceived int        `json:"replies_received"`
			}{
				Status:          enrollment.Status,
				CurrentStep:     enrollment.CurrentStep,
				NextScheduledAt: enrollment.NextStepScheduledAt,
				EmailsSent:      enrollment.EmailsSent,
				EmailsOpened:    enrollment.EmailsOpened,
				EmailsClicked:   enrollment.EmailsClicked,
				RepliesReceived: enrollment.RepliesReceived,
			}

			if err := c.WriteJSON(progress); err != nil {
				log.Printf("Error writing JSON: %v", err)
				return
			}

			if enrollment.IsTerminal() {
				return
			}
		}
	}
}
