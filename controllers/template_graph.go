package controller

import (
	"github.com/gofiber/fiber/v2"

	"leadflow/engine"
	"leadflow/middleware"
	"leadflow/models"
)

// SaveGraph converts a visual node/edge graph and persists the result as the
// template's new step/branch set. The write is replace-all inside a single
// transaction, so callers never observe a half-converted template, and the
// response maps every node id to its persisted step id.
func (tc *TemplateController) SaveGraph(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)
	templateID := c.Params("id")

	var input struct {
		Nodes []engine.GraphNode `json:"nodes"`
		Edges []engine.GraphEdge `json:"edges"`
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
	if active > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "template has running enrollments; stop or pause them before replacing its structure",
		})
	}

	conversion, err := engine.ConvertGraph(input.Nodes, input.Edges)
	if err != nil {
		return engineError(c, err)
	}
	if err := engine.ValidateTemplate(&template, conversion.Steps, nil); err != nil {
		return engineError(c, err)
	}

	nodeToStepID := make(map[string]uint, len(conversion.Steps))

	tx := tc.DB.Begin()

	// Replace-all: the previous structure goes away with the same commit
	// that lands the new one.
	if err := tx.Where("template_id = ?", template.ID).Delete(&models.SequenceBranch{}).Error; err != nil {
		tx.Rollback()
		tc.Logger.Printf("Failed to delete branches: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to replace template structure",
		})
	}
	if err := tx.Where("template_id = ?", template.ID).Delete(&models.SequenceStep{}).Error; err != nil {
		tx.Rollback()
		tc.Logger.Printf("Failed to delete steps: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to replace template structure",
		})
	}

	stepIDByNumber := make(map[int]uint, len(conversion.Steps))
	for i := range conversion.Steps {
		step := conversion.Steps[i]
		step.TemplateID = template.ID
		if err := tx.Create(&step).Error; err != nil {
			tx.Rollback()
			tc.Logger.Printf("Failed to create step: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to persist converted steps",
			})
		}
		stepIDByNumber[step.StepNumber] = step.ID
	}
	for nodeID, stepNumber := range conversion.StepNumbers {
		nodeToStepID[nodeID] = stepIDByNumber[stepNumber]
	}

	for _, converted := range conversion.Branches {
		branch := models.SequenceBranch{
			TemplateID:      template.ID,
			ParentStepID:    nodeToStepID[converted.ParentNodeID],
			NextStepID:      nodeToStepID[converted.NextNodeID],
			BranchName:      converted.BranchName,
			ConditionType:   converted.ConditionType,
			ConditionConfig: models.BranchCondition{Negate: converted.Negate},
			Priority:        converted.Priority,
		}
		if err := tx.Create(&branch).Error; err != nil {
			tx.Rollback()
			tc.Logger.Printf("Failed to create branch: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to persist converted branches",
			})
		}
	}

	tx.Commit()

	return c.JSON(fiber.Map{
		"message":      "Graph saved successfully",
		"step_mapping": nodeToStepID,
	})
}
