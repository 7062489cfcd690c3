package models

import "gorm.io/gorm"

// Migrate runs the schema migration for all engine-owned tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Organization{},
		&LeadList{},
		&Lead{},
		&SequenceTemplate{},
		&SequenceStep{},
		&SequenceBranch{},
		&SequenceEnrollment{},
		&SequenceStepExecution{},
		&Task{},
	); err != nil {
		return err
	}

	// One running enrollment per (template, lead). The enroll API checks
	// first; this index settles races between concurrent enrolls.
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_running_enrollment
		ON sequence_enrollments (template_id, lead_id)
		WHERE status IN ('active', 'paused') AND deleted_at IS NULL`).Error
}
