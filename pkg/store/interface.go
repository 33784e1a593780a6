package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned on a uniqueness violation, e.g. a second
	// loan for the same application or a duplicate customer login.
	ErrAlreadyExists = errors.New("record already exists")
)

// Storage defines the persistence contract for the loan engine. Mutating
// operations that touch several records (loan creation with its schedule,
// payment application) must be atomic: either everything is committed or
// nothing is visible.
type Storage interface {
	CreateCustomer(customer *models.Customer) error
	GetCustomerByLogin(login string) (*models.Customer, error)

	CreateApplication(app *models.LoanApplication) error
	GetApplication(id uuid.UUID) (*models.LoanApplication, error)
	UpdateApplication(app *models.LoanApplication) error
	GetApplicationsByCustomer(customerID uuid.UUID) ([]*models.LoanApplication, error)
	// GetApplicationsByStatus pages through applications in a given status,
	// oldest submission first, for the underwriting queue.
	GetApplicationsByStatus(status models.ApplicationStatus, limit, offset int) ([]*models.LoanApplication, error)
	LoanExistsForApplication(applicationID uuid.UUID) (bool, error)

	// CreateLoanWithSchedule persists the loan and its full installment
	// batch as one unit.
	CreateLoanWithSchedule(loan *models.Loan, installments []*models.Installment) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	GetLoansByCustomer(customerID uuid.UUID) ([]*models.Loan, error)
	GetAllActiveLoans() ([]*models.Loan, error)

	// GetInstallments returns the loan's ledger in ascending installment
	// number order.
	GetInstallments(loanID uuid.UUID) ([]*models.Installment, error)
	UpdateInstallments(installments []*models.Installment) error

	// ApplyPayment commits a posted payment: updated loan balances, changed
	// installments and the new payment record, all in one transaction.
	ApplyPayment(loan *models.Loan, installments []*models.Installment, payment *models.Payment) error
	GetPayments(loanID uuid.UUID) ([]*models.Payment, error)

	CreateAuditEntry(entry *models.AuditEntry) error
	// ListAuditEntries pages through the audit log, newest first.
	ListAuditEntries(limit, offset int) ([]*models.AuditEntry, error)

	Close() error
}
