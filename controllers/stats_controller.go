package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"leadflow/middleware"
	"leadflow/models"
)

// GetTemplateStats aggregates enrollment outcomes and engagement for one
// template.
func (tc *TemplateController) GetTemplateStats(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)
	templateID := c.Params("id")

	var template models.SequenceTemplate
	if err := tc.DB.Where("id = ? AND organization_id = ?", templateID, org.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	var byStatus []struct {
		Status string
		Count  int64
	}
	if err := tc.DB.Model(&models.SequenceEnrollment{}).
		Where("template_id = ?", template.ID).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate enrollments",
		})
	}
	statusCounts := fiber.Map{}
	for _, row := range byStatus {
		statusCounts[row.Status] = row.Count
	}

	var engagement struct {
		EmailsSent      int64
		EmailsOpened    int64
		EmailsClicked   int64
		RepliesReceived int64
	}
	if err := tc.DB.Model(&models.SequenceEnrollment{}).
		Where("template_id = ?", template.ID).
		Select("COALESCE(SUM(emails_sent),0) AS emails_sent, COALESCE(SUM(emails_opened),0) AS emails_opened, COALESCE(SUM(emails_clicked),0) AS emails_clicked, COALESCE(SUM(replies_received),0) AS replies_received").
		Scan(&engagement).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate engagement",
		})
	}

	return c.JSON(fiber.Map{
		"template_id":      template.ID,
		"run_count":        template.RunCount,
		"success_count":    template.SuccessCount,
		"failure_count":    template.FailureCount,
		"enrollments":      statusCounts,
		"emails_sent":      engagement.EmailsSent,
		"emails_opened":    engagement.EmailsOpened,
		"emails_clicked":   engagement.EmailsClicked,
		"replies_received": engagement.RepliesReceived,
	})
}

// GetSendStats reports the organization's email volume today, for operators
// watching the daily limit.
func (tc *TemplateController) GetSendStats(c *fiber.Ctx) error {
	org := middleware.OrgFromContext(c)

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var sentToday int64
	if err := tc.DB.Model(&models.SequenceStepExecution{}).
		Joins("JOIN sequence_enrollments ON sequence_enrollments.id = sequence_step_executions.enrollment_id").
		Joins("JOIN sequence_steps ON sequence_steps.id = sequence_step_executions.step_id").
		Where("sequence_enrollments.organization_id = ?", org.ID).
		Where("sequence_steps.step_type = ?", models.StepTypeEmail).
		Where("sequence_step_executions.outcome = ?", models.OutcomeSent).
		Where("sequence_step_executions.executed_at >= ?", dayStart).
		Count(&sentToday).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count sends",
		})
	}

	return c.JSON(fiber.Map{
		"organization_id": org.ID,
		"sent_today":      sentToday,
		"since":           dayStart,
	})
}
