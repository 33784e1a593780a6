package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/validation"
	"github.com/shopspring/decimal"
)

// SubmitApplication validates and stores a new loan application in the
// SUBMITTED state.
func (l *Ledger) SubmitApplication(customerID uuid.UUID, principal decimal.Decimal, currency string, termMonths int, annualRate decimal.Decimal) (*models.LoanApplication, error) {
	if err := validation.Principal(principal); err != nil {
		return nil, err
	}
	if err := validation.Currency(currency); err != nil {
		return nil, err
	}
	if err := validation.TermMonths(termMonths); err != nil {
		return nil, err
	}
	if err := validation.AnnualRate(annualRate); err != nil {
		return nil, err
	}

	app := &models.LoanApplication{
		ID:          uuid.New(),
		CustomerID:  customerID,
		Principal:   principal.Round(2),
		Currency:    currency,
		TermMonths:  termMonths,
		AnnualRate:  annualRate,
		Status:      models.ApplicationSubmitted,
		SubmittedAt: time.Now().UTC(),
	}

	if err := l.storage.CreateApplication(app); err != nil {
		return nil, fmt.Errorf("failed to store application: %w", err)
	}

	l.log.Infow("application submitted", "application_id", app.ID, "principal", app.Principal, "term_months", termMonths)
	l.audit(customerID, "APPLICATION_SUBMITTED", fmt.Sprintf("application %s for %s %s", app.ID, app.Principal, currency))

	return app, nil
}

// GetApplication retrieves an application, enforcing that the actor owns it.
func (l *Ledger) GetApplication(id, customerID uuid.UUID) (*models.LoanApplication, error) {
	app, err := l.storage.GetApplication(id)
	if err != nil {
		return nil, err
	}
	if app.CustomerID != customerID {
		return nil, fmt.Errorf("application %s: %w", id, ErrForbidden)
	}
	return app, nil
}

// GetApplicationsByCustomer retrieves all applications a customer submitted.
func (l *Ledger) GetApplicationsByCustomer(customerID uuid.UUID) ([]*models.LoanApplication, error) {
	return l.storage.GetApplicationsByCustomer(customerID)
}

const defaultQueuePageSize = 20

// GetApplicationsByStatus pages through applications in a given status,
// oldest first. This is the underwriting work queue: the default status is
// SUBMITTED, the applications still waiting for a decision. The caller is
// responsible for restricting access to underwriters.
func (l *Ledger) GetApplicationsByStatus(status models.ApplicationStatus, limit, offset int) ([]*models.LoanApplication, error) {
	switch status {
	case models.ApplicationSubmitted, models.ApplicationApproved, models.ApplicationRejected:
	default:
		return nil, validation.NewError("unknown application status %q", status)
	}
	if limit <= 0 {
		limit = defaultQueuePageSize
	}
	if offset < 0 {
		offset = 0
	}
	return l.storage.GetApplicationsByStatus(status, limit, offset)
}

// DecideApplication records the underwriting outcome for a SUBMITTED
// application. An application is decided exactly once; approving or
// rejecting an already-decided application fails with a validation error.
// The actor is the underwriter, not necessarily the applicant.
func (l *Ledger) DecideApplication(id, actorID uuid.UUID, outcome models.ApplicationStatus, reason string) (*models.LoanApplication, error) {
	if outcome != models.ApplicationApproved && outcome != models.ApplicationRejected {
		return nil, validation.NewError("decision must be %s or %s", models.ApplicationApproved, models.ApplicationRejected)
	}

	app, err := l.storage.GetApplication(id)
	if err != nil {
		return nil, err
	}

	if err := app.Decide(outcome, reason, time.Now().UTC()); err != nil {
		return nil, validation.NewError("%v", err)
	}

	if err := l.storage.UpdateApplication(app); err != nil {
		return nil, fmt.Errorf("failed to store decision: %w", err)
	}

	l.log.Infow("application decided", "application_id", app.ID, "outcome", outcome)
	l.audit(actorID, "APPLICATION_DECIDED", fmt.Sprintf("application %s %s: %s", app.ID, outcome, reason))

	return app, nil
}
