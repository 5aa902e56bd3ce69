package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "pi_****", MaskSecret("pi_abc"))
	assert.Equal(t, "pi_****wxyz", MaskSecret("pi_abcdefwxyz"))
	assert.Equal(t, "****6789", MaskSecret("123456789"))
}

func TestMaskSensitive(t *testing.T) {
	masked := MaskSensitive(map[string]any{
		"client_token": "pi_abcdefwxyz",
		"title":        "Underhåll",
		"recipients":   3,
		"contact": map[string]any{
			"Email": "someone@example.se",
		},
		"": "dropped",
	})

	assert.Equal(t, "pi_****wxyz", masked["client_token"])
	assert.Equal(t, "Underhåll", masked["title"])
	assert.Equal(t, 3, masked["recipients"])
	assert.Equal(t, "****e.se", masked["contact"].(map[string]any)["Email"])
	assert.NotContains(t, masked, "")

	assert.Nil(t, MaskSensitive(nil))
}
