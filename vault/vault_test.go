package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 4242... passes the Luhn check, 4242...1 does not.
const validVisa = "4242424242424242"

func validCard() Card {
	return Card{
		Number:   validVisa,
		ExpMonth: 12,
		ExpYear:  2030,
		CVV:      "123",
	}
}

func TestCard_Validate(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, validCard().Validate(now))

	bad := validCard()
	bad.Number = "4242424242424241"
	assert.Error(t, bad.Validate(now), "luhn failure")

	bad = validCard()
	bad.Number = "42424242"
	assert.Error(t, bad.Validate(now), "too short")

	bad = validCard()
	bad.Number = "4242abcd42424242"
	assert.Error(t, bad.Validate(now), "non-numeric")

	bad = validCard()
	bad.ExpMonth = 13
	assert.Error(t, bad.Validate(now), "bad month")

	bad = validCard()
	bad.CVV = "12"
	assert.Error(t, bad.Validate(now), "short cvv")
}

func TestCard_Validate_Expiry(t *testing.T) {
	card := validCard()
	card.ExpMonth = 8
	card.ExpYear = 2026

	// Expired as of September 2026.
	assert.Error(t, card.Validate(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)))
	// Still valid on the last day of August.
	assert.NoError(t, card.Validate(time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)))
}

func TestCard_Last4(t *testing.T) {
	assert.Equal(t, "4242", validCard().Last4())
	assert.Equal(t, "4242", Card{Number: "4242 4242 4242 4242"}.Last4())
}

func TestCard_Brand(t *testing.T) {
	cases := map[string]string{
		"4242424242424242": "visa",
		"5500005555555559": "mastercard",
		"2221000000000009": "mastercard",
		"340000000000009":  "amex",
		"370000000000002":  "amex",
		"6011000000000004": "discover",
		"9999999999999999": "unknown",
	}
	for number, brand := range cases {
		assert.Equal(t, brand, Card{Number: number}.Brand(), number)
	}
}
