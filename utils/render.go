package utils

import (
	"strings"

	"leadflow/models"
)

// RenderMergeFields substitutes {{merge_tag}} placeholders with lead fields.
// Rendering is deliberately dumb replacement; anything richer belongs to an
// external templating collaborator.
func RenderMergeFields(content string, lead *models.Lead) string {
	replacer := strings.NewReplacer(
		"{{first_name}}", lead.FirstName,
		"{{last_name}}", lead.LastName,
		"{{email}}", lead.Email,
		"{{company}}", lead.Company,
		"{{position}}", lead.Position,
	)
	return replacer.Replace(content)
}
