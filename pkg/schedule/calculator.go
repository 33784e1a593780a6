// Package schedule generates amortization schedules using the fixed monthly
// installment (annuity) formula: payment = P * r / (1 - (1+r)^-n).
// For r=0 the principal is split into equal payments. The last installment's
// principal absorbs rounding drift so the schedule always sums back to the
// original principal.
package schedule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	one    = decimal.NewFromInt(1)
	twelve = decimal.NewFromInt(12)
)

// Entry is one generated installment, before it is bound to a loan.
type Entry struct {
	Number       int
	DueDate      time.Time
	PrincipalDue decimal.Decimal
	InterestDue  decimal.Decimal
	TotalDue     decimal.Decimal
}

// Generate produces the full schedule for a loan starting at startDate.
// Installment 1 is due one month after the start date, not on it.
// It is pure: no side effects, same inputs always give the same schedule.
func Generate(principal decimal.Decimal, annualRate decimal.Decimal, termMonths int, startDate time.Time) ([]Entry, error) {
	if termMonths < 1 {
		return nil, fmt.Errorf("term months must be at least 1, got %d", termMonths)
	}

	// Monthly rate stays at decimal's 16-digit division precision; rounding
	// it here would compound error across the whole schedule.
	monthlyRate := annualRate.Div(twelve)

	var payment decimal.Decimal
	if monthlyRate.IsZero() {
		payment = principal.DivRound(decimal.NewFromInt(int64(termMonths)), 2)
	} else {
		// The level payment itself is kept unrounded for the same reason.
		onePlusR := one.Add(monthlyRate)
		factor := one.Sub(one.Div(onePlusR.Pow(decimal.NewFromInt(int64(termMonths)))))
		payment = principal.Mul(monthlyRate).Div(factor)
	}

	remaining := principal.Round(2)
	entries := make([]Entry, 0, termMonths)

	for i := 1; i <= termMonths; i++ {
		interestDue := remaining.Mul(monthlyRate).Round(2)

		var principalDue decimal.Decimal
		if i == termMonths {
			// Terminal installment takes whatever principal is left, forcing
			// exact payoff regardless of the level-payment formula.
			principalDue = remaining
		} else {
			principalDue = payment.Sub(interestDue).Round(2)
			remaining = remaining.Sub(principalDue)
		}

		entries = append(entries, Entry{
			Number:       i,
			DueDate:      startDate.AddDate(0, i, 0),
			PrincipalDue: principalDue,
			InterestDue:  interestDue,
			TotalDue:     principalDue.Add(interestDue),
		})
	}

	// Safety net: the terminal absorption above should already reconcile the
	// principal sum, but any residual drift is pushed into the last line.
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.PrincipalDue)
	}
	if delta := principal.Round(2).Sub(sum); !delta.IsZero() {
		last := &entries[len(entries)-1]
		last.PrincipalDue = last.PrincipalDue.Add(delta)
		last.TotalDue = last.PrincipalDue.Add(last.InterestDue)
	}

	return entries, nil
}
