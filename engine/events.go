package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadflow/models"
)

// External event types delivered by the tracking endpoints and the reply /
// meeting detection collaborators.
const (
	EventOpen    = "open"
	EventClick   = "click"
	EventReply   = "reply"
	EventMeeting = "meeting_booked"
)

// Ingestor folds asynchronous external events into enrollment state.
// Delivery is at-least-once, so every path here is idempotent.
type Ingestor struct {
	DB *gorm.DB
}

func NewIngestor(db *gorm.DB) *Ingestor {
	return &Ingestor{DB: db}
}

// Ingest processes one (tracking token, event type, timestamp) tuple. On the
// first occurrence it stamps the execution, bumps the enrollment counter by
// exactly one, and fires the template's exit triggers. Duplicates are
// accepted but change nothing beyond an audit log line.
func (in *Ingestor) Ingest(trackingToken, eventType string, occurredAt time.Time) error {
	return in.DB.Transaction(func(tx *gorm.DB) error {
		var execution models.SequenceStepExecution
		if err := tx.Where("tracking_token = ?", trackingToken).First(&execution).Error; err != nil {
			return fmt.Errorf("execution not found for token %s: %w", trackingToken, err)
		}

		var enrollment models.SequenceEnrollment
		if err := tx.First(&enrollment, execution.EnrollmentID).Error; err != nil {
			return fmt.Errorf("enrollment %d not found: %w", execution.EnrollmentID, err)
		}

		stamped, counter := in.stamp(&execution, eventType, occurredAt)
		if !stamped && eventType != EventMeeting {
			logrus.WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"execution_id":  execution.ID,
				"event_type":    eventType,
			}).Debug("duplicate event ignored")
			return nil
		}

		if stamped {
			if err := tx.Model(&execution).Select("opened_at", "clicked_at", "replied_at").Updates(&execution).Error; err != nil {
				return err
			}
		}
		if counter != "" {
			if err := tx.Model(&models.SequenceEnrollment{}).
				Where("id = ?", enrollment.ID).
				Update(counter, gorm.Expr(counter+" + ?", 1)).Error; err != nil {
				return err
			}
		}

		return in.applyExitTriggers(tx, &enrollment, eventType, occurredAt)
	})
}

// stamp sets the first-occurrence timestamp for the event and names the
// enrollment counter to increment. Returns stamped=false for duplicates.
func (in *Ingestor) stamp(execution *models.SequenceStepExecution, eventType string, occurredAt time.Time) (bool, string) {
	switch eventType {
	case EventOpen:
		if execution.OpenedAt != nil {
			return false, ""
		}
		execution.OpenedAt = &occurredAt
		return true, "emails_opened"
	case EventClick:
		if execution.ClickedAt != nil {
			return false, ""
		}
		execution.ClickedAt = &occurredAt
		return true, "emails_clicked"
	case EventReply:
		if execution.RepliedAt != nil {
			return false, ""
		}
		execution.RepliedAt = &occurredAt
		return true, "replies_received"
	case EventMeeting:
		// Meetings carry no execution stamp; idempotency comes from the
		// terminal enrollment state.
		return false, ""
	}
	return false, ""
}

func (in *Ingestor) applyExitTriggers(tx *gorm.DB, enrollment *models.SequenceEnrollment, eventType string, now time.Time) error {
	if enrollment.IsTerminal() {
		return nil
	}

	var template models.SequenceTemplate
	if err := tx.First(&template, enrollment.TemplateID).Error; err != nil {
		return fmt.Errorf("template %d not found: %w", enrollment.TemplateID, err)
	}

	var reason string
	switch {
	case eventType == EventReply && template.Settings.ExitOnReply:
		reason = models.StopReasonReply
	case eventType == EventMeeting && template.Settings.ExitOnMeeting:
		reason = models.StopReasonMeeting
	default:
		return nil
	}

	if err := Transition(enrollment, models.EnrollmentStopped, reason, now); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"reason":        reason,
	}).Info("enrollment stopped by exit trigger")

	return tx.Model(enrollment).Select("status", "stop_reason", "stopped_at", "next_step_scheduled_at").Updates(map[string]interface{}{
		"status":                 enrollment.Status,
		"stop_reason":            enrollment.StopReason,
		"stopped_at":             enrollment.StoppedAt,
		"next_step_scheduled_at": nil,
	}).Error
}
