// Package validation holds the input bounds checks shared by the underwriting
// and payment paths. Every check is local and synchronous; a failing check
// means no state change has happened yet.
package validation

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

const (
	MinTermMonths = 3
	MaxTermMonths = 360
)

var (
	maxAnnualRate = decimal.RequireFromString("0.50")
	currencyRe    = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Error marks a validation failure so the HTTP layer can map it to 422.
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return e.msg
}

// NewError builds a validation failure with a formatted message.
func NewError(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

func Principal(principal decimal.Decimal) error {
	if !principal.IsPositive() {
		return NewError("principal must be greater than 0")
	}
	return nil
}

func TermMonths(termMonths int) error {
	if termMonths < MinTermMonths || termMonths > MaxTermMonths {
		return NewError("term months must be between %d and %d", MinTermMonths, MaxTermMonths)
	}
	return nil
}

func AnnualRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxAnnualRate) {
		return NewError("annual interest rate must be between 0 and 0.50")
	}
	return nil
}

func Currency(currency string) error {
	if !currencyRe.MatchString(currency) {
		return NewError("currency must be a 3-letter uppercase ISO code")
	}
	return nil
}

func CurrencyMatch(expected, actual string) error {
	if expected != actual {
		return NewError("currency mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

func PaymentAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewError("payment amount must be greater than 0")
	}
	return nil
}
