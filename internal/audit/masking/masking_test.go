package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "pm_card_****4242", MaskSecret("pm_card_4242424242"))
	assert.Equal(t, "pm_****", MaskSecret("pm_abc"))
	assert.Equal(t, "****wxyz", MaskSecret("abcdefwxyz"))
}

func TestMaskKeysCopies(t *testing.T) {
	in := map[string]any{"paymentMethodId": "pm_visa_12345678", "planId": "42"}
	out := MaskKeys(in, "paymentMethodId", "missing")

	assert.Equal(t, "pm_visa_****5678", out["paymentMethodId"])
	assert.Equal(t, "42", out["planId"])
	assert.Equal(t, "pm_visa_12345678", in["paymentMethodId"])
	assert.Nil(t, MaskKeys(nil, "x"))
}
