package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskReference(t *testing.T) {
	assert.Equal(t, "TRX-****8123", MaskReference("TRX-88123"))
	assert.Equal(t, "****", MaskReference("4411"))
	assert.Equal(t, "****2345", MaskReference(" 9912345 "))
	assert.Equal(t, "", MaskReference("  "))
}

func TestMaskSensitive(t *testing.T) {
	ref := "WIRE_000123456"
	masked := MaskSensitive(map[string]any{
		"amount":    "5.00",
		"reference": &ref,
		"payer": map[string]any{
			"name":  "Acme",
			"email": "ops@acme.test",
		},
		"iban": 42,
	})

	assert.Equal(t, "5.00", masked["amount"])
	assert.Equal(t, "WIRE_****3456", masked["reference"])
	assert.Equal(t, map[string]any{"name": "Acme", "email": "****test"}, masked["payer"])
	assert.Equal(t, "****", masked["iban"])
	assert.Nil(t, MaskSensitive(nil))
}
