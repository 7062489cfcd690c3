package models

import (
	"time"

	"gorm.io/gorm"
)

// Step types understood by the executor.
const (
	StepTypeEmail     = "email"
	StepTypeWait      = "wait"
	StepTypeTask      = "task"
	StepTypeCondition = "condition"
)

// Branch condition types evaluated against enrollment metrics.
const (
	ConditionOpened     = "opened"
	ConditionClicked    = "clicked"
	ConditionReplied    = "replied"
	ConditionNoResponse = "no_response"
)

// ThrottleSettings caps sends in a trailing one-hour window.
type ThrottleSettings struct {
	Enabled    bool `json:"enabled"`
	MaxPerHour int  `json:"max_per_hour"`
}

// TemplateSettings controls pacing and exit behavior for every enrollment
// of the template.
type TemplateSettings struct {
	ExitOnReply   bool             `json:"exit_on_reply"`
	ExitOnMeeting bool             `json:"exit_on_meeting"`
	SkipWeekends  bool             `json:"skip_weekends"`
	DailyLimit    int              `json:"daily_limit"`
	Throttle      ThrottleSettings `json:"throttle"`
}

// SequenceTemplate is the reusable definition of a multi-step outreach campaign.
type SequenceTemplate struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	Settings TemplateSettings `gorm:"type:jsonb;serializer:json" json:"settings"`

	// Deactivated templates stop accepting enrollments but are never destroyed
	// while enrollments reference them.
	IsActive bool `gorm:"default:true" json:"is_active"`

	// Statistics (denormalized for performance)
	RunCount     int `gorm:"default:0" json:"run_count"`
	SuccessCount int `gorm:"default:0" json:"success_count"`
	FailureCount int `gorm:"default:0" json:"failure_count"`

	// Relations
	Steps    []SequenceStep   `gorm:"foreignKey:TemplateID" json:"steps,omitempty"`
	Branches []SequenceBranch `gorm:"foreignKey:TemplateID" json:"branches,omitempty"`
}

// StepConditions is an optional guard evaluated before a step executes.
// A guarded step whose guard fails is recorded as skipped.
type StepConditions struct {
	Require string `json:"require,omitempty"` // opened, clicked, replied, no_response
	Negate  bool   `json:"negate,omitempty"`
}

// SequenceStep is one action in a template, ordered by StepNumber.
type SequenceStep struct {
	gorm.Model
	TemplateID uint `gorm:"not null;index" json:"template_id"`

	StepNumber int    `gorm:"not null;index" json:"step_number"` // 1-based, contiguous per template
	StepType   string `gorm:"not null" json:"step_type"`

	// Email step fields (merge tags resolved at send time)
	Subject  string `json:"subject,omitempty"`
	Body     string `gorm:"type:text" json:"body,omitempty"`
	FromName string `json:"from_name,omitempty"`

	// Wait step fields
	WaitDays  int `gorm:"default:0" json:"wait_days"`
	WaitHours int `gorm:"default:0" json:"wait_hours"`

	// Task step fields
	TaskTitle       string `json:"task_title,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	TaskPriority    string `json:"task_priority,omitempty"`
	TaskDueDays     int    `gorm:"default:0" json:"task_due_days"`

	// Condition step fields
	ConditionType   string          `json:"condition_type,omitempty"`
	ConditionConfig BranchCondition `gorm:"type:jsonb;serializer:json" json:"condition_config"`

	Conditions *StepConditions `gorm:"type:jsonb;serializer:json" json:"conditions,omitempty"`
}

// BranchCondition holds per-branch evaluation knobs.
type BranchCondition struct {
	Negate bool `json:"negate,omitempty"`
}

// SequenceBranch is a conditional edge from one step to another. When several
// branches share a parent, lower Priority wins.
type SequenceBranch struct {
	gorm.Model
	TemplateID   uint `gorm:"not null;index" json:"template_id"`
	ParentStepID uint `gorm:"not null;index" json:"parent_step_id"`
	NextStepID   uint `gorm:"not null" json:"next_step_id"`

	BranchName      string          `json:"branch_name"`
	ConditionType   string          `gorm:"not null" json:"condition_type"`
	ConditionConfig BranchCondition `gorm:"type:jsonb;serializer:json" json:"condition_config"`
	Priority        int             `gorm:"default:0" json:"priority"`
}

// WaitDuration returns the configured delay of a wait step.
func (s *SequenceStep) WaitDuration() time.Duration {
	return time.Duration(s.WaitDays)*24*time.Hour + time.Duration(s.WaitHours)*time.Hour
}
