package extractor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoAmount is returned when the text contains no number at all
	ErrNoAmount = errors.New("no amount in text")
	// ErrNonPositive is returned for zero or negative amounts
	ErrNonPositive = errors.New("amount is not positive")

	// 1,29,900.00 / 74,900 / 749.99
	dotDecimalAmount = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// 1.299,99 / 1 299,99 / 1299
	commaDecimalAmount = regexp.MustCompile(`\d[\d.\s\x{00A0}\x{202F}]*(?:,\d+)?`)
	digitGroupSpaces   = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\t", "", "\n", "")
)

// CleanDotDecimal parses amounts written with comma thousands separators and a
// dot decimal mark, ignoring currency symbols around them
func CleanDotDecimal(text string) (decimal.Decimal, error) {
	raw := dotDecimalAmount.FindString(text)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNoAmount, text)
	}
	return parseAmount(strings.ReplaceAll(raw, ",", ""))
}

// CleanCommaDecimal parses amounts written with dot or space thousands
// separators and a comma decimal mark
func CleanCommaDecimal(text string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(commaDecimalAmount.FindString(text))
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNoAmount, text)
	}
	raw = strings.ReplaceAll(digitGroupSpaces.Replace(raw), ".", "")
	return parseAmount(strings.Replace(raw, ",", ".", 1))
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrNonPositive
	}
	return amount, nil
}
