package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

// ScheduleSummary aggregates a loan's installment ledger.
type ScheduleSummary struct {
	TotalPaid      decimal.Decimal `json:"total_paid"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
	NextDueDate    *time.Time      `json:"next_due_date,omitempty"`
	PaidCount      int             `json:"paid_count"`
	PendingCount   int             `json:"pending_count"`
}

// Summarize derives the summary from an ordered installment list. TotalPaid
// covers PAID installments only; TotalRemaining sums what is still owed on
// the rest (LATE counts as pending). NextDueDate is the first non-PAID
// installment's due date, nil when everything is paid.
func Summarize(installments []*models.Installment) *ScheduleSummary {
	summary := &ScheduleSummary{
		TotalPaid:      decimal.Zero.Round(2),
		TotalRemaining: decimal.Zero.Round(2),
	}

	for _, ins := range installments {
		if ins.Status == models.InstallmentPaid {
			summary.TotalPaid = summary.TotalPaid.Add(ins.AmountPaid)
			summary.PaidCount++
			continue
		}
		summary.TotalRemaining = summary.TotalRemaining.Add(ins.RemainingDue())
		summary.PendingCount++
		if summary.NextDueDate == nil {
			due := ins.DueDate
			summary.NextDueDate = &due
		}
	}

	return summary
}

// GetSchedule returns a loan's full installment ledger and its summary,
// enforcing ownership.
func (l *Ledger) GetSchedule(loanID, customerID uuid.UUID) ([]*models.Installment, *ScheduleSummary, error) {
	if _, err := l.GetLoan(loanID, customerID); err != nil {
		return nil, nil, err
	}
	installments, err := l.storage.GetInstallments(loanID)
	if err != nil {
		return nil, nil, err
	}
	return installments, Summarize(installments), nil
}

// RefreshLateStatus transitions every DUE installment whose due date is
// strictly before today to LATE. PAID installments are never revisited, so
// the call is idempotent and safe to repeat. It returns how many
// installments changed.
func (l *Ledger) RefreshLateStatus(loanID uuid.UUID, today time.Time) (int, error) {
	installments, err := l.storage.GetInstallments(loanID)
	if err != nil {
		return 0, err
	}

	var changed []*models.Installment
	for _, ins := range installments {
		if ins.Status == models.InstallmentDue && ins.DueDate.Before(today) {
			ins.Status = models.InstallmentLate
			changed = append(changed, ins)
		}
	}

	if len(changed) == 0 {
		return 0, nil
	}
	if err := l.storage.UpdateInstallments(changed); err != nil {
		return 0, err
	}

	l.log.Infow("late status refreshed", "loan_id", loanID, "marked_late", len(changed))
	return len(changed), nil
}

// RefreshAllLateStatuses sweeps every active loan. Errors on individual
// loans are logged and the sweep continues; loans are independent.
func (l *Ledger) RefreshAllLateStatuses(today time.Time) {
	loans, err := l.storage.GetAllActiveLoans()
	if err != nil {
		l.log.Errorw("failed to list active loans for late sweep", "error", err)
		return
	}

	for _, loan := range loans {
		if _, err := l.RefreshLateStatus(loan.ID, today); err != nil {
			l.log.Errorw("late sweep failed for loan", "loan_id", loan.ID, "error", err)
		}
	}
}
