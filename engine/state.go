package engine

import (
	"time"

	"leadflow/models"
)

// allowedTransitions is the enrollment state machine. Terminal states have no
// outgoing edges; self-transitions are rejected.
var allowedTransitions = map[string][]string{
	models.EnrollmentActive: {models.EnrollmentPaused, models.EnrollmentCompleted, models.EnrollmentStopped},
	models.EnrollmentPaused: {models.EnrollmentActive, models.EnrollmentStopped},
}

// CanTransition reports whether a status change is legal.
func CanTransition(from, to string) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies a status change to an enrollment in memory, recording
// reasons and terminal timestamps. The caller persists the result.
//
// Resuming a paused enrollment whose due time has already elapsed reschedules
// it to the resume instant rather than leaving it overdue, so the backlog
// drains through the normal throttle gate.
func Transition(enrollment *models.SequenceEnrollment, to, reason string, now time.Time) error {
	if !CanTransition(enrollment.Status, to) {
		return &InvalidTransitionError{From: enrollment.Status, To: to}
	}

	from := enrollment.Status
	enrollment.Status = to

	switch to {
	case models.EnrollmentPaused:
		enrollment.PauseReason = reason
		// next_step_scheduled_at is deliberately preserved across a pause

	case models.EnrollmentActive:
		if from == models.EnrollmentPaused {
			enrollment.PauseReason = ""
			if enrollment.NextStepScheduledAt != nil && enrollment.NextStepScheduledAt.Before(now) {
				resumeAt := now
				enrollment.NextStepScheduledAt = &resumeAt
			}
		}

	case models.EnrollmentCompleted:
		completedAt := now
		enrollment.CompletedAt = &completedAt
		enrollment.NextStepScheduledAt = nil

	case models.EnrollmentStopped:
		stoppedAt := now
		enrollment.StoppedAt = &stoppedAt
		enrollment.StopReason = reason
		enrollment.NextStepScheduledAt = nil
	}

	return nil
}
