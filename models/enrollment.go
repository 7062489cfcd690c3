package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment statuses. Completed and stopped are terminal.
const (
	EnrollmentActive    = "active"
	EnrollmentPaused    = "paused"
	EnrollmentCompleted = "completed"
	EnrollmentStopped   = "stopped"
)

// Machine-readable stop reasons written by the engine.
const (
	StopReasonReply         = "reply_received"
	StopReasonMeeting       = "meeting_booked"
	StopReasonExhausted     = "step_execution_exhausted"
	StopReasonUserRequested = "user_requested"
)

// Step execution outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// SequenceEnrollment is one lead's run-time instance of a template.
// Only the scheduler and the event adapter mutate it after creation.
type SequenceEnrollment struct {
	gorm.Model
	TemplateID     uint `gorm:"not null;index" json:"template_id"`
	LeadID         uint `gorm:"not null;index" json:"lead_id"`
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	Status      string `gorm:"not null;default:'active';index" json:"status"`
	CurrentStep int    `gorm:"not null;default:1" json:"current_step"` // step_number pointer

	EnrolledAt          time.Time  `gorm:"not null" json:"enrolled_at"`
	NextStepScheduledAt *time.Time `gorm:"index" json:"next_step_scheduled_at"` // nil means nothing pending
	CompletedAt         *time.Time `json:"completed_at"`
	StoppedAt           *time.Time `json:"stopped_at"`

	PauseReason string `json:"pause_reason,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`

	// Transient-failure retries for the current step
	RetryCount int `gorm:"default:0" json:"retry_count"`

	// Metrics (monotonically non-decreasing)
	EmailsSent      int `gorm:"default:0" json:"emails_sent"`
	EmailsOpened    int `gorm:"default:0" json:"emails_opened"`
	EmailsClicked   int `gorm:"default:0" json:"emails_clicked"`
	RepliesReceived int `gorm:"default:0" json:"replies_received"`

	// Relations
	Template   SequenceTemplate        `json:"-"`
	Lead       Lead                    `json:"-"`
	Executions []SequenceStepExecution `gorm:"foreignKey:EnrollmentID" json:"executions,omitempty"`
}

// IsTerminal reports whether the enrollment can never advance again.
func (e *SequenceEnrollment) IsTerminal() bool {
	return e.Status == EnrollmentCompleted || e.Status == EnrollmentStopped
}

// ExecutionResult is the opaque payload an action handler returns.
type ExecutionResult struct {
	ExternalID string `json:"external_id,omitempty"`
	TaskID     uint   `json:"task_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SequenceStepExecution is the append-only audit record of one attempt to run
// one step for one enrollment. It doubles as the idempotency guard: a row with
// ExecutedAt set means the step must not run again.
type SequenceStepExecution struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	StepID       uint `gorm:"not null;index" json:"step_id"`

	ScheduledAt time.Time  `gorm:"not null" json:"scheduled_at"`
	ExecutedAt  *time.Time `json:"executed_at"`
	Outcome     string     `json:"outcome"` // sent, skipped, failed

	// Embedded in outbound content so the event source can address this row
	TrackingToken string `gorm:"index" json:"tracking_token"`

	// First-occurrence event stamps
	OpenedAt  *time.Time `json:"opened_at"`
	ClickedAt *time.Time `json:"clicked_at"`
	RepliedAt *time.Time `json:"replied_at"`

	Result ExecutionResult `gorm:"type:jsonb;serializer:json" json:"result"`

	// Relations
	Enrollment SequenceEnrollment `json:"-"`
	Step       SequenceStep       `json:"-"`
}
