package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization is the tenant boundary. Every template, lead and enrollment
// carries an explicit organization id; nothing defaults to a user id.
type Organization struct {
	gorm.Model
	Name     string `gorm:"not null" json:"name"`
	Timezone string `gorm:"not null;default:'UTC'" json:"timezone"` // IANA name, used by the throttle policy
}

// Task is created by task-type steps for follow-up work in the CRM surface.
type Task struct {
	gorm.Model
	OrganizationID uint `gorm:"not null;index" json:"organization_id"`
	EnrollmentID   uint `gorm:"not null;index" json:"enrollment_id"`
	LeadID         uint `gorm:"not null;index" json:"lead_id"`

	Title       string `gorm:"not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Priority    string     `gorm:"default:'normal'" json:"priority"` // low, normal, high
	DueAt       *time.Time `json:"due_at"`
}
