// Package vault tokenizes card data. Card numbers are validated, encrypted
// with AES-GCM and stored under an opaque token; only the owning merchant can
// detokenize.
package vault

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/overtonx/paygate/errs"
)

// Card is the sensitive card data accepted at tokenization and returned by
// detokenization. It never touches the transaction ledger.
type Card struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	CVV      string `json:"cvv"`
	Holder   string `json:"holder,omitempty"`
}

// TokenInfo is the non-sensitive projection returned to callers.
type TokenInfo struct {
	Token      string
	MerchantID string
	Last4      string
	Brand      string
	CreatedAt  time.Time
}

// Vault is the tokenization service consumed by the transaction path.
type Vault interface {
	// Tokenize validates the card and stores it under a new token owned by
	// the merchant.
	Tokenize(ctx context.Context, merchantID string, card Card) (TokenInfo, error)
	// Detokenize returns the card behind the token. Access by a merchant
	// other than the owner fails with a not-found error, deliberately
	// indistinguishable from an unknown token.
	Detokenize(ctx context.Context, token, merchantID string) (Card, error)
	// Info returns the non-sensitive token metadata with the same ownership
	// rule as Detokenize.
	Info(ctx context.Context, token, merchantID string) (TokenInfo, error)
}

// Validate checks the card number, expiry and CVV.
func (c Card) Validate(now time.Time) error {
	digits := strings.ReplaceAll(c.Number, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return errs.New(errs.CodeValidation, "card number length is invalid")
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return errs.New(errs.CodeValidation, "card number must be numeric")
		}
	}
	if !luhnValid(digits) {
		return errs.New(errs.CodeValidation, "card number failed checksum")
	}
	if c.ExpMonth < 1 || c.ExpMonth > 12 {
		return errs.New(errs.CodeValidation, "card expiry month is invalid")
	}
	// The card is valid through the last day of its expiry month.
	expiry := time.Date(c.ExpYear, time.Month(c.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(expiry) {
		return errs.New(errs.CodeValidation, "card is expired")
	}
	if n := len(c.CVV); n < 3 || n > 4 {
		return errs.New(errs.CodeValidation, "cvv is invalid")
	}
	return nil
}

// Last4 returns the card number's last four digits.
func (c Card) Last4() string {
	digits := strings.ReplaceAll(c.Number, " ", "")
	if len(digits) < 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// Brand detects the card network from the number prefix.
func (c Card) Brand() string {
	digits := strings.ReplaceAll(c.Number, " ", "")
	switch {
	case strings.HasPrefix(digits, "4"):
		return "visa"
	case hasPrefixInRange(digits, 51, 55) || hasPrefixInRange(digits, 2221, 2720):
		return "mastercard"
	case strings.HasPrefix(digits, "34") || strings.HasPrefix(digits, "37"):
		return "amex"
	case strings.HasPrefix(digits, "6011") || strings.HasPrefix(digits, "65"):
		return "discover"
	default:
		return "unknown"
	}
}

func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func hasPrefixInRange(digits string, lo, hi int) bool {
	width := len(strconv.Itoa(lo))
	if len(digits) < width {
		return false
	}
	prefix, err := strconv.Atoi(digits[:width])
	if err != nil {
		return false
	}
	return prefix >= lo && prefix <= hi
}
