package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		login TEXT NOT NULL UNIQUE,
		password_hash BLOB NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		currency TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		annual_rate TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		decided_at DATETIME,
		decision_outcome TEXT,
		decision_reason TEXT,
		FOREIGN KEY(customer_id) REFERENCES customers(id)
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		application_id TEXT NOT NULL UNIQUE,
		principal TEXT NOT NULL,
		currency TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		annual_rate TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		outstanding_principal TEXT NOT NULL,
		accrued_interest TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(customer_id) REFERENCES customers(id),
		FOREIGN KEY(application_id) REFERENCES applications(id)
	);
	CREATE TABLE IF NOT EXISTS installments (
		loan_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		principal_due TEXT NOT NULL,
		interest_due TEXT NOT NULL,
		total_due TEXT NOT NULL,
		status TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		PRIMARY KEY(loan_id, number),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		payment_date DATETIME NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		allocated_interest TEXT NOT NULL,
		allocated_principal TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation checks if the error indicates a uniqueness constraint hit.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// CreateCustomer inserts a new customer.
func (s *SQLiteStore) CreateCustomer(customer *models.Customer) error {
	_, err := s.db.Exec(
		`INSERT INTO customers (id, login, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		customer.ID.String(), customer.Login, customer.PasswordHash, customer.Role, customer.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("login %s: %w", customer.Login, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// GetCustomerByLogin retrieves a customer by login.
func (s *SQLiteStore) GetCustomerByLogin(login string) (*models.Customer, error) {
	var c models.Customer
	var idStr string
	row := s.db.QueryRow(`SELECT id, login, password_hash, role, created_at FROM customers WHERE login = ?`, login)
	if err := row.Scan(&idStr, &c.Login, &c.PasswordHash, &c.Role, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", login, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	c.ID = uuid.MustParse(idStr)
	return &c, nil
}

// CreateApplication inserts a new loan application.
func (s *SQLiteStore) CreateApplication(app *models.LoanApplication) error {
	_, err := s.db.Exec(
		`INSERT INTO applications (id, customer_id, principal, currency, term_months, annual_rate, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID.String(), app.CustomerID.String(), app.Principal, app.Currency,
		app.TermMonths, app.AnnualRate, app.Status, app.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

// GetApplication retrieves an application by its ID.
func (s *SQLiteStore) GetApplication(id uuid.UUID) (*models.LoanApplication, error) {
	row := s.db.QueryRow(
		`SELECT id, customer_id, principal, currency, term_months, annual_rate, status, submitted_at, decided_at, decision_outcome, decision_reason
		FROM applications WHERE id = ?`, id.String())

	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return app, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*models.LoanApplication, error) {
	var app models.LoanApplication
	var idStr, customerIDStr string
	var decidedAt sql.NullTime
	var outcome, reason sql.NullString

	err := row.Scan(&idStr, &customerIDStr, &app.Principal, &app.Currency, &app.TermMonths,
		&app.AnnualRate, &app.Status, &app.SubmittedAt, &decidedAt, &outcome, &reason)
	if err != nil {
		return nil, err
	}

	app.ID = uuid.MustParse(idStr)
	app.CustomerID = uuid.MustParse(customerIDStr)
	if decidedAt.Valid {
		app.Decision = &models.Decision{
			Outcome:   models.ApplicationStatus(outcome.String),
			Reason:    reason.String,
			DecidedAt: decidedAt.Time,
		}
	}
	return &app, nil
}

// UpdateApplication updates an application's status and decision fields.
func (s *SQLiteStore) UpdateApplication(app *models.LoanApplication) error {
	var decidedAt any
	var outcome, reason any
	if app.Decision != nil {
		decidedAt = app.Decision.DecidedAt
		outcome = string(app.Decision.Outcome)
		reason = app.Decision.Reason
	}

	result, err := s.db.Exec(
		`UPDATE applications SET status = ?, decided_at = ?, decision_outcome = ?, decision_reason = ? WHERE id = ?`,
		app.Status, decidedAt, outcome, reason, app.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("application %s: %w", app.ID, ErrNotFound)
	}
	return nil
}

// GetApplicationsByCustomer retrieves a customer's applications, newest first.
func (s *SQLiteStore) GetApplicationsByCustomer(customerID uuid.UUID) ([]*models.LoanApplication, error) {
	rows, err := s.db.Query(
		`SELECT id, customer_id, principal, currency, term_months, annual_rate, status, submitted_at, decided_at, decision_outcome, decision_reason
		FROM applications WHERE customer_id = ? ORDER BY submitted_at DESC`, customerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.LoanApplication
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return apps, nil
}

// GetApplicationsByStatus retrieves applications in a given status, oldest
// submission first, so the underwriting queue works through its backlog in
// arrival order.
func (s *SQLiteStore) GetApplicationsByStatus(status models.ApplicationStatus, limit, offset int) ([]*models.LoanApplication, error) {
	rows, err := s.db.Query(
		`SELECT id, customer_id, principal, currency, term_months, annual_rate, status, submitted_at, decided_at, decision_outcome, decision_reason
		FROM applications WHERE status = ? ORDER BY submitted_at ASC LIMIT ? OFFSET ?`,
		string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get applications by status: %w", err)
	}
	defer rows.Close()

	var apps []*models.LoanApplication
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return apps, nil
}

// LoanExistsForApplication reports whether a loan was already created from
// the given application.
func (s *SQLiteStore) LoanExistsForApplication(applicationID uuid.UUID) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM loans WHERE application_id = ?`, applicationID.String()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check loan existence: %w", err)
	}
	return count > 0, nil
}

// CreateLoanWithSchedule inserts the loan and its full installment batch in a
// single transaction.
func (s *SQLiteStore) CreateLoanWithSchedule(loan *models.Loan, installments []*models.Installment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO loans (id, customer_id, application_id, principal, currency, term_months, annual_rate, start_date, end_date, status, outstanding_principal, accrued_interest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerID.String(), loan.ApplicationID.String(),
		loan.Principal, loan.Currency, loan.TermMonths, loan.AnnualRate,
		loan.StartDate, loan.EndDate, loan.Status,
		loan.OutstandingPrincipal, loan.AccruedInterest, loan.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("loan for application %s: %w", loan.ApplicationID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create loan: %w", err)
	}

	for _, ins := range installments {
		_, err = tx.Exec(
			`INSERT INTO installments (loan_id, number, due_date, principal_due, interest_due, total_due, status, amount_paid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ins.LoanID.String(), ins.Number, ins.DueDate,
			ins.PrincipalDue, ins.InterestDue, ins.TotalDue, ins.Status, ins.AmountPaid,
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", ins.Number, err)
		}
	}

	return tx.Commit()
}

const loanColumns = `id, customer_id, application_id, principal, currency, term_months, annual_rate, start_date, end_date, status, outstanding_principal, accrued_interest, created_at`

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, customerIDStr, applicationIDStr string

	err := row.Scan(&idStr, &customerIDStr, &applicationIDStr, &loan.Principal, &loan.Currency,
		&loan.TermMonths, &loan.AnnualRate, &loan.StartDate, &loan.EndDate, &loan.Status,
		&loan.OutstandingPrincipal, &loan.AccruedInterest, &loan.CreatedAt)
	if err != nil {
		return nil, err
	}

	loan.ID = uuid.MustParse(idStr)
	loan.CustomerID = uuid.MustParse(customerIDStr)
	loan.ApplicationID = uuid.MustParse(applicationIDStr)
	return &loan, nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// GetLoansByCustomer retrieves a customer's loans, newest first.
func (s *SQLiteStore) GetLoansByCustomer(customerID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE customer_id = ? ORDER BY created_at DESC`, customerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get loans: %w", err)
	}
	defer rows.Close()
	return collectLoans(rows)
}

// GetAllActiveLoans retrieves all active loans.
func (s *SQLiteStore) GetAllActiveLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ?`, models.LoanActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get active loans: %w", err)
	}
	defer rows.Close()
	return collectLoans(rows)
}

func collectLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// GetInstallments retrieves a loan's schedule in installment number order.
func (s *SQLiteStore) GetInstallments(loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.db.Query(
		`SELECT loan_id, number, due_date, principal_due, interest_due, total_due, status, amount_paid
		FROM installments WHERE loan_id = ? ORDER BY number ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments: %w", err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		var ins models.Installment
		var loanIDStr string
		if err := rows.Scan(&loanIDStr, &ins.Number, &ins.DueDate, &ins.PrincipalDue,
			&ins.InterestDue, &ins.TotalDue, &ins.Status, &ins.AmountPaid); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		ins.LoanID = uuid.MustParse(loanIDStr)
		installments = append(installments, &ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return installments, nil
}

// UpdateInstallments writes back a set of changed installments in one
// transaction.
func (s *SQLiteStore) UpdateInstallments(installments []*models.Installment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateInstallmentsTx(tx, installments); err != nil {
		return err
	}
	return tx.Commit()
}

func updateInstallmentsTx(tx *sql.Tx, installments []*models.Installment) error {
	for _, ins := range installments {
		result, err := tx.Exec(
			`UPDATE installments SET status = ?, amount_paid = ? WHERE loan_id = ? AND number = ?`,
			ins.Status, ins.AmountPaid, ins.LoanID.String(), ins.Number,
		)
		if err != nil {
			return fmt.Errorf("failed to update installment %d: %w", ins.Number, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("installment %s/%d: %w", ins.LoanID, ins.Number, ErrNotFound)
		}
	}
	return nil
}

// ApplyPayment commits the result of a posted payment atomically: the loan's
// new balances and status, every installment the allocation touched, and the
// payment record itself.
func (s *SQLiteStore) ApplyPayment(loan *models.Loan, installments []*models.Installment, payment *models.Payment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE loans SET status = ?, outstanding_principal = ?, accrued_interest = ? WHERE id = ?`,
		loan.Status, loan.OutstandingPrincipal, loan.AccruedInterest, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan balances: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", loan.ID, ErrNotFound)
	}

	if err := updateInstallmentsTx(tx, installments); err != nil {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO payments (id, loan_id, amount, currency, payment_date, reference, allocated_interest, allocated_principal, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID.String(), payment.LoanID.String(), payment.Amount, payment.Currency,
		payment.PaymentDate, payment.Reference, payment.AllocatedToInterest,
		payment.AllocatedToPrincipal, payment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return tx.Commit()
}

// GetPayments retrieves all payments for a loan, newest first.
func (s *SQLiteStore) GetPayments(loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, amount, currency, payment_date, reference, allocated_interest, allocated_principal, created_at
		FROM payments WHERE loan_id = ? ORDER BY created_at DESC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		var p models.Payment
		var idStr, loanIDStr string
		if err := rows.Scan(&idStr, &loanIDStr, &p.Amount, &p.Currency, &p.PaymentDate,
			&p.Reference, &p.AllocatedToInterest, &p.AllocatedToPrincipal, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		p.ID = uuid.MustParse(idStr)
		p.LoanID = uuid.MustParse(loanIDStr)
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return payments, nil
}

// CreateAuditEntry inserts an audit log record.
func (s *SQLiteStore) CreateAuditEntry(entry *models.AuditEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, actor_id, action, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.ActorID.String(), entry.Action, entry.Details, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries retrieves a page of the audit log, newest first.
func (s *SQLiteStore) ListAuditEntries(limit, offset int) ([]*models.AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, actor_id, action, details, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		var idStr, actorIDStr string
		if err := rows.Scan(&idStr, &actorIDStr, &entry.Action, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entry.ID = uuid.MustParse(idStr)
		entry.ActorID = uuid.MustParse(actorIDStr)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
