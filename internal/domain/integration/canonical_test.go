package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveCanonicalID(t *testing.T) {
	a := DeriveCanonicalID("erp", "account", "1001")
	b := DeriveCanonicalID("erp", "account", "1001")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, DeriveCanonicalID("erp", "contact", "1001"))
	assert.NotEqual(t, a, DeriveCanonicalID("crm", "account", "1001"))
	assert.NotEqual(t, a, DeriveCanonicalID("erp", "account", "1002"))
	assert.Equal(t, 5, int(a.Version()))
}

func TestContentHash(t *testing.T) {
	t.Run("insensitive to map construction order", func(t *testing.T) {
		f1 := map[string]any{}
		f1["name"] = "Acme"
		f1["credit_limit"] = "1200.50"
		f2 := map[string]any{}
		f2["credit_limit"] = "1200.50"
		f2["name"] = "Acme"

		h1, err := ContentHash(f1, ValidationStatusValid)
		require.NoError(t, err)
		h2, err := ContentHash(f2, ValidationStatusValid)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
		assert.Len(t, h1, 64)
	})

	t.Run("sensitive to values and status", func(t *testing.T) {
		base := map[string]any{"name": "Acme"}
		h1, _ := ContentHash(base, ValidationStatusValid)
		h2, _ := ContentHash(map[string]any{"name": "Acme Ltd"}, ValidationStatusValid)
		h3, _ := ContentHash(base, ValidationStatusInvalid)
		assert.NotEqual(t, h1, h2)
		assert.NotEqual(t, h1, h3)
	})

	t.Run("nested overflow is part of the hash", func(t *testing.T) {
		h1, _ := ContentHash(map[string]any{OverflowField: map[string]any{"x": 1}}, ValidationStatusValid)
		h2, _ := ContentHash(map[string]any{OverflowField: map[string]any{"x": 2}}, ValidationStatusValid)
		assert.NotEqual(t, h1, h2)
	})
}

func TestValidationStatus_IsValid(t *testing.T) {
	assert.True(t, ValidationStatusValid.IsValid())
	assert.True(t, ValidationStatusInvalid.IsValid())
	assert.False(t, ValidationStatus("unknown").IsValid())
}
