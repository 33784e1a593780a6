package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/validation"
	"github.com/shopspring/decimal"
)

// PaymentResult is what a successful PostPayment returns to the caller.
type PaymentResult struct {
	Payment                 *models.Payment   `json:"payment"`
	NewOutstandingPrincipal decimal.Decimal   `json:"new_outstanding_principal"`
	LoanStatus              models.LoanStatus `json:"loan_status"`
}

// PostPayment applies a payment against a loan using the waterfall order:
// loan-level accrued interest first, then each unpaid installment in
// ascending number order, interest before principal within an installment.
//
// Any amount beyond everything currently owed is left unallocated: the
// payment row records the full amount but the allocated totals sum to less.
// That mirrors the billing behavior this engine reproduces; it is logged as
// a warning rather than silently credited anywhere.
//
// All derived state (loan balances and status, touched installments, the
// payment record) is committed atomically; a precondition failure leaves no
// partial effect.
func (l *Ledger) PostPayment(loanID, customerID uuid.UUID, amount decimal.Decimal, currency string, paymentDate time.Time, reference string) (*PaymentResult, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.CustomerID != customerID {
		return nil, fmt.Errorf("loan %s: %w", loanID, ErrForbidden)
	}
	if loan.Status == models.LoanClosed {
		return nil, validation.NewError("cannot post payment to closed loan")
	}
	if err := validation.PaymentAmount(amount); err != nil {
		return nil, err
	}
	if err := validation.CurrencyMatch(loan.Currency, currency); err != nil {
		return nil, err
	}

	remaining := amount.Round(2)
	allocatedToInterest := decimal.Zero.Round(2)
	allocatedToPrincipal := decimal.Zero.Round(2)
	outstandingPrincipal := loan.OutstandingPrincipal
	accruedInterest := loan.AccruedInterest

	// Accrued (unbilled) interest is cleared before anything reaches the
	// installment ledger.
	if remaining.IsPositive() && accruedInterest.IsPositive() {
		toInterest := decimal.Min(remaining, accruedInterest)
		allocatedToInterest = allocatedToInterest.Add(toInterest)
		remaining = remaining.Sub(toInterest)
		accruedInterest = accruedInterest.Sub(toInterest)
	}

	installments, err := l.storage.GetInstallments(loanID)
	if err != nil {
		return nil, err
	}

	var changed []*models.Installment
	for _, ins := range installments {
		if !remaining.IsPositive() {
			break
		}
		if ins.Status == models.InstallmentPaid {
			continue
		}

		// Interest-before-principal within the installment, mirroring how
		// its own total was billed.
		interestRemaining := ins.InterestDue.Sub(decimal.Min(ins.AmountPaid, ins.InterestDue))
		principalRemaining := ins.PrincipalDue.Sub(decimal.Max(ins.AmountPaid.Sub(ins.InterestDue), decimal.Zero))

		toInterest := decimal.Min(remaining, interestRemaining)
		toPrincipal := decimal.Min(remaining.Sub(toInterest), principalRemaining)
		took := toInterest.Add(toPrincipal)
		if !took.IsPositive() {
			continue
		}

		allocatedToInterest = allocatedToInterest.Add(toInterest)
		allocatedToPrincipal = allocatedToPrincipal.Add(toPrincipal)
		accruedInterest = accruedInterest.Sub(toInterest)
		outstandingPrincipal = outstandingPrincipal.Sub(toPrincipal)

		ins.AmountPaid = ins.AmountPaid.Add(took)
		if ins.AmountPaid.GreaterThanOrEqual(ins.TotalDue) {
			ins.Status = models.InstallmentPaid
		}
		changed = append(changed, ins)

		remaining = remaining.Sub(took)
	}

	// Clamp against residual rounding pushing a tracker slightly negative.
	loan.AccruedInterest = decimal.Max(accruedInterest, decimal.Zero).Round(2)
	loan.OutstandingPrincipal = decimal.Max(outstandingPrincipal, decimal.Zero).Round(2)

	if loan.OutstandingPrincipal.IsZero() && loan.Status == models.LoanActive {
		if err := loan.Close(); err != nil {
			return nil, err
		}
		l.log.Infow("loan closed", "loan_id", loan.ID)
	}

	payment := &models.Payment{
		ID:                   uuid.New(),
		LoanID:               loan.ID,
		Amount:               amount.Round(2),
		Currency:             currency,
		PaymentDate:          paymentDate,
		Reference:            reference,
		AllocatedToInterest:  allocatedToInterest,
		AllocatedToPrincipal: allocatedToPrincipal,
		CreatedAt:            time.Now().UTC(),
	}

	if err := l.storage.ApplyPayment(loan, changed, payment); err != nil {
		return nil, fmt.Errorf("failed to apply payment: %w", err)
	}

	auditDetail := fmt.Sprintf("payment %s of %s %s on loan %s", payment.ID, payment.Amount, currency, loan.ID)
	if remaining.IsPositive() {
		auditDetail += fmt.Sprintf(", unallocated remainder %s", remaining)
		l.log.Warnw("payment exceeds everything owed, remainder left unallocated",
			"loan_id", loan.ID, "payment_id", payment.ID, "remainder", remaining)
	}
	l.log.Infow("payment posted",
		"loan_id", loan.ID, "amount", payment.Amount,
		"to_interest", allocatedToInterest, "to_principal", allocatedToPrincipal,
		"new_outstanding", loan.OutstandingPrincipal)
	l.audit(customerID, "PAYMENT_POSTED", auditDetail)

	return &PaymentResult{
		Payment:                 payment,
		NewOutstandingPrincipal: loan.OutstandingPrincipal,
		LoanStatus:              loan.Status,
	}, nil
}

// GetPayments lists a loan's payments, newest first, enforcing ownership.
func (l *Ledger) GetPayments(loanID, customerID uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.GetLoan(loanID, customerID); err != nil {
		return nil, err
	}
	return l.storage.GetPayments(loanID)
}
