package controller

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/engine"
	"leadflow/middleware"
	"leadflow/models"
)

// BranchInput references steps by their 1-based ordinal so branches can be
// supplied before step ids exist.
type BranchInput struct {
	ParentStepNumber int                    `json:"parent_step_number" validate:"required,min=1"`
	NextStepNumber   int                    `json:"next_step_number" validate:"required,min=1"`
	BranchName       string                 `json:"branch_name"`
	ConditionType    string                 `json:"condition_type" validate:"required"`
	ConditionConfig  models.BranchCondition `json:"condition_config"`
	Priority         int                    `json:"priority"`
}

// CreateTemplate creates a template with its steps (and optional branches)
// in one transaction.
func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)

	var input struct {
		Name        string                  `json:"name"`
		Description string                  `json:"description"`
		Settings    models.TemplateSettings `json:"settings"`
		Steps       []models.SequenceStep   `json:"steps"`
		Branches    []BranchInput           `json:"branches"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	template := models.SequenceTemplate{
		OrganizationID: org.ID,
		Name:           input.Name,
		Description:    input.Description,
		Settings:       input.Settings,
		IsActive:       true,
	}

	for i := range input.Steps {
		input.Steps[i].StepNumber = i + 1
	}
	if err := engine.ValidateTemplate(&template, input.Steps, nil); err != nil {
		return engineError(c, err)
	}
	for _, branchInput := range input.Branches {
		if !engine.ValidConditionType(branchInput.ConditionType) {
			return engineError(c, &engine.ValidationError{
				Field:   "branches",
				Message: fmt.Sprintf("unknown branch condition type %q", branchInput.ConditionType),
			})
		}
	}

	tx := tc.DB.Begin()

	if err := tx.Create(&template).Error; err != nil {
		tx.Rollback()
		tc.Logger.Printf("Failed to create template: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create template",
		})
	}

	byNumber := make(map[int]uint, len(input.Steps))
	for i := range input.Steps {
		step := input.Steps[i]
		step.ID = 0
		step.TemplateID = template.ID
		if err := tx.Create(&step).Error; err != nil {
			tx.Rollback()
			tc.Logger.Printf("Failed to create step: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create template steps",
			})
		}
		byNumber[step.StepNumber] = step.ID
	}

	for _, branchInput := range input.Branches {
		parentID, okParent := byNumber[branchInput.ParentStepNumber]
		nextID, okNext := byNumber[branchInput.NextStepNumber]
		if !okParent || !okNext {
			tx.Rollback()
			return engineError(c, &engine.ValidationError{
				Field:   "branches",
				Message: fmt.Sprintf("branch %q references a step outside the template", branchInput.BranchName),
			})
		}
		branch := models.SequenceBranch{
			TemplateID:      template.ID,
			ParentStepID:    parentID,
			NextStepID:      nextID,
			BranchName:      branchInput.BranchName,
			ConditionType:   branchInput.ConditionType,
			ConditionConfig: branchInput.ConditionConfig,
			Priority:        branchInput.Priority,
		}
		if err := tx.Create(&branch).Error; err != nil {
			tx.Rollback()
			tc.Logger.Printf("Failed to create branch: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create template branches",
			})
		}
	}

	tx.Commit()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Template created successfully",
		"template": template,
	})
}

// UpdateTemplate applies partial updates to template metadata and settings.
// Structure (steps/branches) is edited through the graph endpoint.
func (tc *TemplateController) UpdateTemplate(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)
	templateID := c.Params("id")

	var input struct {
		Name        *string                  `json:"name"`
		Description *string                  `json:"description"`
		Settings    *models.TemplateSettings `json:"settings"`
		IsActive    *bool                    `json:"is_active"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var template models.SequenceTemplate
	if err := tc.DB.Where("id = ? AND organization_id = ?", templateID, org.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	if input.Name != nil {
		template.Name = *input.Name
	}
	if input.Description != nil {
		template.Description = *input.Description
	}
	if input.Settings != nil {
		template.Settings = *input.Settings
	}
	if input.IsActive != nil {
		template.IsActive = *input.IsActive
	}

	if err := engine.ValidateTemplate(&template, nil, nil); err != nil {
		return engineError(c, err)
	}

	if err := tc.DB.Save(&template).Error; err != nil {
		tc.Logger.Printf("Failed to update template: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update template",
		})
	}

	return c.JSON(fiber.Map{
		"message":  "Template updated successfully",
		"template": template,
	})
}

// CloneTemplate copies a template with its steps and branches into a new
// inactive template.
func (tc *TemplateController) CloneTemplate(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)
	templateID := c.Params("id")

	var template models.SequenceTemplate
	if err := tc.DB.Preload("Steps").Preload("Branches").
		Where("id = ? AND organization_id = ?", templateID, org.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	tx := tc.DB.Begin()

	clone := models.SequenceTemplate{
		OrganizationID: org.ID,
		Name:           template.Name + " (copy)",
		Description:    template.Description,
		Settings:       template.Settings,
		IsActive:       false,
	}
	if err := tx.Create(&clone).Error; err != nil {
		tx.Rollback()
		tc.Logger.Printf("Failed to clone template: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to clone template",
		})
	}

	idMap := make(map[uint]uint, len(template.Steps))
	for _, step := range template.Steps {
		originalID := step.ID
		step.ID = 0
		step.TemplateID = clone.ID
		if err := tx.Create(&step).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to clone template steps",
			})
		}
		idMap[originalID] = step.ID
	}

	for _, branch := range template.Branches {
		branch.ID = 0
		branch.TemplateID = clone.ID
		branch.ParentStepID = idMap[branch.ParentStepID]
		branch.NextStepID = idMap[branch.NextStepID]
		if err := tx.Create(&branch).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to clone template branches",
			})
		}
	}

	tx.Commit()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Template cloned successfully",
		"template": clone,
	})
}

// DeleteTemplate deactivates a template with active enrollments instead of
// destroying it; fully idle templates are soft-deleted.
func (tc *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)
	templateID := c.Params("id")

	var template models.SequenceTemplate
	if err := tc.DB.Where("id = ? AND organization_id = ?", templateID, org.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	active, err := tc.activeEnrollments(template.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check enrollments",
		})
	}

	if active > 0 {
		if err := tc.DB.Model(&template).Update("is_active", false).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to deactivate template",
			})
		}
		return c.JSON(fiber.Map{
			"message": "Template deactivated; active enrollments keep running",
		})
	}

	if err := tc.DB.Delete(&template).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete template",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Template deleted successfully",
	})
}

// GetTemplate returns a template with its steps and branches.
func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)
	templateID := c.Params("id")

	var template models.SequenceTemplate
	if err := tc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_number") }).
		Preload("Branches").
		Where("id = ? AND organization_id = ?", templateID, org.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	return c.JSON(template)
}

// ListTemplates returns the organization's templates.
func (tc *TemplateController) ListTemplates(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)

	var templates []models.SequenceTemplate
	if err := tc.DB.Where("organization_id = ?", org.ID).Order("created_at DESC").Find(&templates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list templates",
		})
	}

	return c.JSON(templates)
}

// ReorderSteps renumbers a template's steps to match the given step-id order.
func (tc *TemplateController) ReorderSteps(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)
	templateID := c.Params("id")

	var input struct {
		StepIDs []uint `json:"step_ids"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var template models.SequenceTemplate
	if err := tc.DB.Where("id = ? AND organization_id = ?", templateID, org.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	active, err := tc.activeEnrollments(template.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check enrollments",
		})
	}
	// Structural edits are blocked while enrollments execute the template:
	// their pointers are step numbers.
	if active > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": fmt.Sprintf("template has %d running enrollments; stop or pause them before editing its structure", active),
		})
	}

	var steps []models.SequenceStep
	if err := tc.DB.Where("template_id = ?", template.ID).Find(&steps).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load steps",
		})
	}
	if len(input.StepIDs) != len(steps) {
		return engineError(c, &engine.ValidationError{
			Field:   "step_ids",
			Message: fmt.Sprintf("expected %d step ids, got %d", len(steps), len(input.StepIDs)),
		})
	}
	known := make(map[uint]bool, len(steps))
	for _, step := range steps {
		known[step.ID] = true
	}
	seen := make(map[uint]bool, len(input.StepIDs))
	for _, id := range input.StepIDs {
		if !known[id] {
			return engineError(c, &engine.ValidationError{
				Field:   "step_ids",
				Message: fmt.Sprintf("step %d does not belong to the template", id),
			})
		}
		// A repeated id would renumber one step twice and leave a gap
		if seen[id] {
			return engineError(c, &engine.ValidationError{
				Field:   "step_ids",
				Message: fmt.Sprintf("step %d appears more than once", id),
			})
		}
		seen[id] = true
	}

	tx := tc.DB.Begin()
	for position, stepID := range input.StepIDs {
		if err := tx.Model(&models.SequenceStep{}).Where("id = ?", stepID).
			Update("step_number", position+1).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to reorder steps",
			})
		}
	}
	tx.Commit()

	return c.JSON(fiber.Map{
		"message": "Steps reordered successfully",
	})
}

func (tc *TemplateController) activeEnrollments(templateID uint) (int64, error) {
	var count int64
	err := tc.DB.Model(&models.SequenceEnrollment{}).
		Where("template_id = ? AND status IN ?", templateID,
			[]string{models.EnrollmentActive, models.EnrollmentPaused}).
		Count(&count).Error
	return count, err
}
