package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeWhitespace(t *testing.T) {
	in := "Invoice\tNumber:   42\r\n\r\n\r\nTotal:  10.00   \r\n"
	out := Normalize(in)
	assert.Equal(t, "Invoice Number: 42\nTotal: 10.00", out)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	in := "a  b\r\ncÅ" // A + combining ring
	once := Normalize(in)
	assert.Equal(t, once, Normalize(once))
}

func TestNormalizeAppliesNFC(t *testing.T) {
	// "é" as e + combining acute must compose to the single code point
	decomposed := "café"
	assert.Equal(t, "café", Normalize(decomposed))
}

func TestNormalizeEmpty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("   \n\n\t  "))
}

func TestFieldsExtraction(t *testing.T) {
	text := Normalize(`
Invoice Number: INV-001
Date: 2026-01-15
Total Amount: 1,234.56
no separator line
: empty key
Empty Value:
Invoice Number: INV-DUPLICATE
Vendor (Name): ACME Corp
`)
	got := Fields(text)

	assert.Equal(t, "INV-001", got["invoice_number"], "first occurrence wins")
	assert.Equal(t, "2026-01-15", got["date"])
	assert.Equal(t, "1,234.56", got["total_amount"])
	assert.Equal(t, "ACME Corp", got["vendor_name"], "special chars stripped from key")
	assert.NotContains(t, got, "")
	assert.NotContains(t, got, "empty_value")
	assert.Len(t, got, 4)
}

func TestFieldsValueKeepsColons(t *testing.T) {
	got := Fields("timestamp: 2026-01-15T10:30:00Z")
	assert.Equal(t, "2026-01-15T10:30:00Z", got["timestamp"], "only the first colon splits")
}
