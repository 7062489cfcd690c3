package utils

import (
	"testing"

	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func TestRenderMergeFields(t *testing.T) {
	lead := &models.Lead{
		Email:     "ada@lovelace.example",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Company:   "Analytical Engines",
		Position:  "Countess",
	}

	out := RenderMergeFields("Hi {{first_name}} {{last_name}} at {{company}}", lead)
	require.Equal(t, "Hi Ada Lovelace at Analytical Engines", out)

	// Missing fields render as empty, never as the raw tag
	out = RenderMergeFields("Hi {{first_name}}", &models.Lead{})
	require.Equal(t, "Hi ", out)

	// Unknown tags pass through untouched
	out = RenderMergeFields("{{unknown_tag}}", lead)
	require.Equal(t, "{{unknown_tag}}", out)
}
