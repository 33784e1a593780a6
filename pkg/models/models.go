package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ApplicationStatus string

const (
	ApplicationSubmitted ApplicationStatus = "SUBMITTED"
	ApplicationApproved  ApplicationStatus = "APPROVED"
	ApplicationRejected  ApplicationStatus = "REJECTED"
)

// Decision holds the outcome of underwriting an application. It is nil while
// the application is still SUBMITTED, so "decision fields set iff decided"
// holds structurally.
type Decision struct {
	Outcome   ApplicationStatus `json:"outcome"`
	Reason    string            `json:"reason"`
	DecidedAt time.Time         `json:"decided_at"`
}

type LoanApplication struct {
	ID          uuid.UUID         `json:"id"`
	CustomerID  uuid.UUID         `json:"customer_id"`
	Principal   decimal.Decimal   `json:"principal"`
	Currency    string            `json:"currency"`
	TermMonths  int               `json:"term_months"`
	AnnualRate  decimal.Decimal   `json:"annual_rate"`
	Status      ApplicationStatus `json:"status"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Decision    *Decision         `json:"decision,omitempty"`
}

// Decide moves a SUBMITTED application to APPROVED or REJECTED. Any other
// edge is rejected; an application is decided exactly once.
func (a *LoanApplication) Decide(outcome ApplicationStatus, reason string, at time.Time) error {
	if a.Status != ApplicationSubmitted {
		return fmt.Errorf("application %s already decided", a.ID)
	}
	if outcome != ApplicationApproved && outcome != ApplicationRejected {
		return fmt.Errorf("invalid decision %q", outcome)
	}
	a.Status = outcome
	a.Decision = &Decision{
		Outcome:   outcome,
		Reason:    reason,
		DecidedAt: at,
	}
	return nil
}

type LoanStatus string

const (
	LoanActive    LoanStatus = "ACTIVE"
	LoanClosed    LoanStatus = "CLOSED"
	LoanDefaulted LoanStatus = "DEFAULTED"
)

// loanTransitions lists the legal status edges. CLOSED and DEFAULTED are
// terminal; DEFAULTED is never set by this engine, it belongs to collections.
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanActive: {LoanClosed, LoanDefaulted},
}

type Loan struct {
	ID                   uuid.UUID       `json:"id"`
	CustomerID           uuid.UUID       `json:"customer_id"`
	ApplicationID        uuid.UUID       `json:"application_id"`
	Principal            decimal.Decimal `json:"principal"`
	Currency             string          `json:"currency"`
	TermMonths           int             `json:"term_months"`
	AnnualRate           decimal.Decimal `json:"annual_rate"`
	StartDate            time.Time       `json:"start_date"`
	EndDate              time.Time       `json:"end_date"`
	Status               LoanStatus      `json:"status"`
	OutstandingPrincipal decimal.Decimal `json:"outstanding_principal"`
	AccruedInterest      decimal.Decimal `json:"accrued_interest"`
	CreatedAt            time.Time       `json:"created_at"`
}

// TransitionTo changes the loan status, rejecting any edge not listed in
// loanTransitions.
func (l *Loan) TransitionTo(next LoanStatus) error {
	for _, allowed := range loanTransitions[l.Status] {
		if allowed == next {
			l.Status = next
			return nil
		}
	}
	return fmt.Errorf("illegal loan status transition %s -> %s", l.Status, next)
}

// Close marks a fully repaid loan CLOSED.
func (l *Loan) Close() error {
	return l.TransitionTo(LoanClosed)
}

type InstallmentStatus string

const (
	InstallmentDue  InstallmentStatus = "DUE"
	InstallmentPaid InstallmentStatus = "PAID"
	InstallmentLate InstallmentStatus = "LATE"
)

// Installment is one line of a loan's repayment schedule, keyed by
// (LoanID, Number). Installments are created in a single batch with the loan
// and never deleted.
type Installment struct {
	LoanID       uuid.UUID         `json:"loan_id"`
	Number       int               `json:"number"`
	DueDate      time.Time         `json:"due_date"`
	PrincipalDue decimal.Decimal   `json:"principal_due"`
	InterestDue  decimal.Decimal   `json:"interest_due"`
	TotalDue     decimal.Decimal   `json:"total_due"`
	Status       InstallmentStatus `json:"status"`
	AmountPaid   decimal.Decimal   `json:"amount_paid"`
}

// RemainingDue is what is still owed on this installment. It can go negative
// if the installment was overpaid; callers only sum it over non-PAID lines.
func (i *Installment) RemainingDue() decimal.Decimal {
	return i.TotalDue.Sub(i.AmountPaid)
}

// Payment is an append-only record of a posted payment. The allocated totals
// may sum to less than Amount when the payment exceeded everything owed.
type Payment struct {
	ID                   uuid.UUID       `json:"id"`
	LoanID               uuid.UUID       `json:"loan_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	PaymentDate          time.Time       `json:"payment_date"`
	Reference            string          `json:"reference,omitempty"`
	AllocatedToInterest  decimal.Decimal `json:"allocated_to_interest"`
	AllocatedToPrincipal decimal.Decimal `json:"allocated_to_principal"`
	CreatedAt            time.Time       `json:"created_at"`
}

type Customer struct {
	ID           uuid.UUID `json:"id"`
	Login        string    `json:"login"`
	PasswordHash []byte    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type AuditEntry struct {
	ID        uuid.UUID `json:"id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
