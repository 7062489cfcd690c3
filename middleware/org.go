package middleware

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// RequireOrganization resolves the tenant from the X-Organization-ID header
// and stores it in locals. There is no implicit fallback: a missing or
// unknown organization rejects the request.
func RequireOrganization(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgID := utils.ParseUint(c.Get("X-Organization-ID"))
		if orgID == 0 {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "X-Organization-ID header is required",
			})
		}

		var org models.Organization
		if err := db.First(&org, orgID).Error; err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Unknown organization",
			})
		}

		c.Locals("organization", &org)
		return c.Next()
	}
}

// OrgFromContext returns the organization resolved by RequireOrganization.
func OrgFromContext(c *fiber.Ctx) *models.Organization {
	return c.Locals("organization").(*models.Organization)
}
