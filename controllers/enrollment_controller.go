package controller

import (
	"errors"
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/engine"
	"leadflow/middleware"
	"leadflow/models"
	"leadflow/utils"
)

// enroll creates the enrollment row inside tx, enforcing the one-active-
// enrollment-per-lead-per-template invariant.
func (ec *EnrollmentController) enroll(tx *gorm.DB, template *models.SequenceTemplate, lead *models.Lead, now time.Time) (*models.SequenceEnrollment, error) {
	var existing int64
	err := tx.Model(&models.SequenceEnrollment{}).
		Where("template_id = ? AND lead_id = ? AND status IN ?", template.ID, lead.ID,
			[]string{models.EnrollmentActive, models.EnrollmentPaused}).
		Count(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, &engine.AlreadyEnrolledError{LeadID: lead.ID, TemplateID: template.ID}
	}

	enrollment := &models.SequenceEnrollment{
		TemplateID:          template.ID,
		LeadID:              lead.ID,
		OrganizationID:      template.OrganizationID,
		Status:              models.EnrollmentActive,
		CurrentStep:         1,
		EnrolledAt:          now,
		NextStepScheduledAt: &now,
	}
	if err := tx.Create(enrollment).Error; err != nil {
		// The partial unique index catches enrolls racing past the count.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, &engine.AlreadyEnrolledError{LeadID: lead.ID, TemplateID: template.ID}
		}
		return nil, err
	}
	if err := tx.Model(template).Update("run_count", gorm.Expr("run_count + ?", 1)).Error; err != nil {
		return nil, err
	}
	return enrollment, nil
}

func (ec *EnrollmentController) loadTemplate(c *fiber.Ctx, templateID uint) (*models.SequenceTemplate, error) {
	org := middleware.OrgFromContext(c)

	var template models.SequenceTemplate
	if err := ec.DB.Where("id = ? AND organization_id = ?", templateID, org.ID).First(&template).Error; err != nil {
		return nil, err
	}
	if !template.IsActive {
		return nil, &engine.ValidationError{Field: "template_id", Message: "template is deactivated"}
	}
	return &template, nil
}

// Enroll starts one lead in a template.
func (ec *EnrollmentController) Enroll(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)

	var input struct {
		LeadID     uint `json:"lead_id" validate:"required"`
		TemplateID uint `json:"template_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	template, err := ec.loadTemplate(c, input.TemplateID)
	if err != nil {
		return engineError(c, err)
	}

	var lead models.Lead
	if err := ec.DB.Where("id = ? AND organization_id = ?", input.LeadID, org.ID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}
	if !lead.Contactable() {
		return engineError(c, &engine.ValidationError{Field: "lead_id", Message: "lead is bounced, unsubscribed or do-not-contact"})
	}

	var enrollment *models.SequenceEnrollment
	err = ec.DB.Transaction(func(tx *gorm.DB) error {
		enrollment, err = ec.enroll(tx, template, &lead, time.Now())
		return err
	})
	if err != nil {
		return engineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "Lead enrolled successfully",
		"enrollment": enrollment,
	})
}

// BulkEnroll starts many leads in a template, reporting a result per lead.
// One bad lead never fails the batch.
func (ec *EnrollmentController) BulkEnroll(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)

	var input struct {
		TemplateID uint   `json:"template_id" validate:"required"`
		LeadIDs    []uint `json:"lead_ids" validate:"required,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	template, err := ec.loadTemplate(c, input.TemplateID)
	if err != nil {
		return engineError(c, err)
	}

	type leadResult struct {
		LeadID       uint   `json:"lead_id"`
		EnrollmentID uint   `json:"enrollment_id,omitempty"`
		Error        string `json:"error,omitempty"`
	}
	results := make([]leadResult, 0, len(input.LeadIDs))
	enrolled := 0

	now := time.Now()
	for _, leadID := range input.LeadIDs {
		result := leadResult{LeadID: leadID}

		var lead models.Lead
		if err := ec.DB.Where("id = ? AND organization_id = ?", leadID, org.ID).First(&lead).Error; err != nil {
			result.Error = "lead not found"
			results = append(results, result)
			continue
		}
		if !lead.Contactable() {
			result.Error = "lead is not contactable"
			results = append(results, result)
			continue
		}
		if err := checkmail.ValidateFormat(lead.Email); err != nil {
			result.Error = "lead email is malformed"
			results = append(results, result)
			continue
		}

		err := ec.DB.Transaction(func(tx *gorm.DB) error {
			enrollment, err := ec.enroll(tx, template, &lead, now)
			if err != nil {
				return err
			}
			result.EnrollmentID = enrollment.ID
			return nil
		})
		if err != nil {
			result.Error = err.Error()
		} else {
			enrolled++
		}
		results = append(results, result)
	}

	return c.JSON(fiber.Map{
		"enrolled": enrolled,
		"results":  results,
	})
}

// UpdateStatus pauses, resumes or stops an enrollment. Completion is the
// scheduler's decision, never the caller's.
func (ec *EnrollmentController) UpdateStatus(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)
	enrollmentID := c.Params("id")

	var input struct {
		Status string `json:"status" validate:"required,oneof=active paused stopped"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var enrollment models.SequenceEnrollment
	err := ec.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND organization_id = ?", enrollmentID, org.ID).
			First(&enrollment).Error; err != nil {
			return err
		}

		reason := input.Reason
		if input.Status == models.EnrollmentStopped && reason == "" {
			reason = models.StopReasonUserRequested
		}
		if err := engine.Transition(&enrollment, input.Status, reason, time.Now()); err != nil {
			return err
		}
		return tx.Model(&enrollment).Select("status", "pause_reason", "stop_reason",
			"stopped_at", "completed_at", "next_step_scheduled_at").
			Updates(map[string]interface{}{
				"status":                 enrollment.Status,
				"pause_reason":           enrollment.PauseReason,
				"stop_reason":            enrollment.StopReason,
				"stopped_at":             enrollment.StoppedAt,
				"completed_at":           enrollment.CompletedAt,
				"next_step_scheduled_at": enrollment.NextStepScheduledAt,
			}).Error
	})
	if err != nil {
		return engineError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":    "Enrollment status updated",
		"enrollment": enrollment,
	})
}

// GetEnrollment returns an enrollment with its execution audit trail.
func (ec *EnrollmentController) GetEnrollment(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)
	enrollmentID := c.Params("id")

	var enrollment models.SequenceEnrollment
	if err := ec.DB.Preload("Executions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Where("id = ? AND organization_id = ?", enrollmentID, org.ID).
		First(&enrollment).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}

	return c.JSON(enrollment)
}

// ListEnrollments returns enrollments for the organization, optionally
// filtered by template and status.
func (ec *EnrollmentController) ListEnrollments(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)

	query := ec.DB.Where("organization_id = ?", org.ID)
	if templateID := utils.ParseUint(c.Query("template_id")); templateID != 0 {
		query = query.Where("template_id = ?", templateID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var enrollments []models.SequenceEnrollment
	if err := query.Order("enrolled_at DESC").Limit(200).Find(&enrollments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list enrollments",
		})
	}

	return c.JSON(enrollments)
}
