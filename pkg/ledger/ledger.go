// Package ledger implements the loan accounting engine: underwriting
// decisions, application-to-loan conversion with schedule generation,
// payment allocation and installment state maintenance.
//
// The engine is logically single-writer per loan: each mutating call reads
// loan and ledger state and writes back derived totals, so the storage layer
// must serialize concurrent calls touching the same loan. Distinct loans are
// fully independent.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/schedule"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/mcclellann/loanbook/pkg/validation"
)

// ErrForbidden is returned when the acting customer does not own the
// resource they are touching.
var ErrForbidden = errors.New("access denied")

// Auditor records successful mutating operations. Failures on its side never
// fail the operation.
type Auditor interface {
	Record(actorID uuid.UUID, action, details string)
}

// Ledger handles the business logic for applications, loans and payments.
type Ledger struct {
	storage store.Storage
	auditor Auditor
	log     *zap.SugaredLogger
}

// NewLedger creates a new Ledger with a given Storage implementation. The
// auditor may be nil, in which case nothing is recorded.
func NewLedger(s store.Storage, auditor Auditor, log *zap.SugaredLogger) *Ledger {
	return &Ledger{
		storage: s,
		auditor: auditor,
		log:     log,
	}
}

func (l *Ledger) audit(actorID uuid.UUID, action, details string) {
	if l.auditor != nil {
		l.auditor.Record(actorID, action, details)
	}
}

// CreateLoanFromApplication converts an APPROVED application into an ACTIVE
// loan with its full amortization schedule. The loan and its installments
// are persisted as one atomic unit; at most one loan can ever be created
// from an application.
func (l *Ledger) CreateLoanFromApplication(applicationID, customerID uuid.UUID, startDate time.Time) (*models.Loan, error) {
	app, err := l.storage.GetApplication(applicationID)
	if err != nil {
		return nil, err
	}
	if app.CustomerID != customerID {
		return nil, fmt.Errorf("application %s: %w", applicationID, ErrForbidden)
	}
	if app.Status != models.ApplicationApproved {
		return nil, validation.NewError("only approved applications can be converted to loans")
	}

	exists, err := l.storage.LoanExistsForApplication(applicationID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, validation.NewError("loan already exists for application %s", applicationID)
	}

	entries, err := schedule.Generate(app.Principal, app.AnnualRate, app.TermMonths, startDate)
	if err != nil {
		return nil, err
	}

	loan := &models.Loan{
		ID:                   uuid.New(),
		CustomerID:           app.CustomerID,
		ApplicationID:        app.ID,
		Principal:            app.Principal,
		Currency:             app.Currency,
		TermMonths:           app.TermMonths,
		AnnualRate:           app.AnnualRate,
		StartDate:            startDate,
		EndDate:              startDate.AddDate(0, app.TermMonths, 0),
		Status:               models.LoanActive,
		OutstandingPrincipal: app.Principal.Round(2),
		AccruedInterest:      decimal.Zero.Round(2),
		CreatedAt:            time.Now().UTC(),
	}

	installments := make([]*models.Installment, 0, len(entries))
	for _, e := range entries {
		installments = append(installments, &models.Installment{
			LoanID:       loan.ID,
			Number:       e.Number,
			DueDate:      e.DueDate,
			PrincipalDue: e.PrincipalDue,
			InterestDue:  e.InterestDue,
			TotalDue:     e.TotalDue,
			Status:       models.InstallmentDue,
			AmountPaid:   decimal.Zero.Round(2),
		})
	}

	if err := l.storage.CreateLoanWithSchedule(loan, installments); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, validation.NewError("loan already exists for application %s", applicationID)
		}
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.Infow("loan created", "loan_id", loan.ID, "application_id", app.ID, "term_months", loan.TermMonths)
	l.audit(customerID, "LOAN_CREATED", fmt.Sprintf("loan %s from application %s", loan.ID, app.ID))

	return loan, nil
}

// GetLoan retrieves a loan, enforcing that the actor owns it.
func (l *Ledger) GetLoan(id, customerID uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if loan.CustomerID != customerID {
		return nil, fmt.Errorf("loan %s: %w", id, ErrForbidden)
	}
	return loan, nil
}

// GetLoansByCustomer retrieves all loans owned by a customer.
func (l *Ledger) GetLoansByCustomer(customerID uuid.UUID) ([]*models.Loan, error) {
	return l.storage.GetLoansByCustomer(customerID)
}
