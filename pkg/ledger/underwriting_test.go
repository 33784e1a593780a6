package ledger

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/mcclellann/loanbook/pkg/validation"
)

func TestSubmitApplication(t *testing.T) {
	l, mock := newTestLedger()
	customerID := uuid.New()

	app, err := l.SubmitApplication(customerID, dec("12000.005"), "USD", 12, dec("0.12"))
	if err != nil {
		t.Fatalf("Failed to submit application: %v", err)
	}

	if app.Status != models.ApplicationSubmitted {
		t.Errorf("Expected status SUBMITTED, got %s", app.Status)
	}
	if !app.Principal.Equal(dec("12000.01")) {
		t.Errorf("Expected principal rounded to 12000.01, got %s", app.Principal)
	}
	if app.Decision != nil {
		t.Errorf("Fresh application must carry no decision, got %+v", app.Decision)
	}
	if _, ok := mock.applications[app.ID]; !ok {
		t.Error("Application was not stored")
	}
}

func TestSubmitApplication_RejectsInvalidInput(t *testing.T) {
	l, _ := newTestLedger()
	customerID := uuid.New()

	cases := []struct {
		name       string
		principal  string
		currency   string
		termMonths int
		rate       string
	}{
		{"zero principal", "0", "USD", 12, "0.12"},
		{"negative principal", "-500.00", "USD", 12, "0.12"},
		{"term too short", "12000.00", "USD", 2, "0.12"},
		{"term too long", "12000.00", "USD", 361, "0.12"},
		{"negative rate", "12000.00", "USD", 12, "-0.01"},
		{"rate above cap", "12000.00", "USD", 12, "0.51"},
		{"lowercase currency", "12000.00", "usd", 12, "0.12"},
		{"long currency", "12000.00", "USDT", 12, "0.12"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.SubmitApplication(customerID, dec(tc.principal), tc.currency, tc.termMonths, dec(tc.rate))
			var ve *validation.Error
			if !errors.As(err, &ve) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestGetApplicationsByStatus(t *testing.T) {
	l, _ := newTestLedger()
	underwriterID := uuid.New()

	var submitted []*models.LoanApplication
	for i := 0; i < 3; i++ {
		app, err := l.SubmitApplication(uuid.New(), dec("5000.00"), "USD", 12, dec("0.10"))
		if err != nil {
			t.Fatalf("Failed to submit application: %v", err)
		}
		submitted = append(submitted, app)
	}
	if _, err := l.DecideApplication(submitted[1].ID, underwriterID, models.ApplicationApproved, "income verified"); err != nil {
		t.Fatalf("Failed to decide application: %v", err)
	}

	queue, err := l.GetApplicationsByStatus(models.ApplicationSubmitted, 0, 0)
	if err != nil {
		t.Fatalf("Failed to list queue: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("Expected 2 undecided applications, got %d", len(queue))
	}
	if queue[0].ID != submitted[0].ID || queue[1].ID != submitted[2].ID {
		t.Errorf("Queue must list undecided applications oldest first")
	}

	approved, err := l.GetApplicationsByStatus(models.ApplicationApproved, 0, 0)
	if err != nil {
		t.Fatalf("Failed to list approved: %v", err)
	}
	if len(approved) != 1 || approved[0].ID != submitted[1].ID {
		t.Errorf("Expected the decided application under APPROVED, got %d entries", len(approved))
	}
}

func TestGetApplicationsByStatus_Pagination(t *testing.T) {
	l, _ := newTestLedger()

	var submitted []*models.LoanApplication
	for i := 0; i < 3; i++ {
		app, err := l.SubmitApplication(uuid.New(), dec("5000.00"), "USD", 12, dec("0.10"))
		if err != nil {
			t.Fatalf("Failed to submit application: %v", err)
		}
		submitted = append(submitted, app)
	}

	page, err := l.GetApplicationsByStatus(models.ApplicationSubmitted, 2, 2)
	if err != nil {
		t.Fatalf("Failed to list page: %v", err)
	}
	if len(page) != 1 || page[0].ID != submitted[2].ID {
		t.Errorf("Expected the newest application alone on the second page, got %d entries", len(page))
	}
}

func TestGetApplicationsByStatus_RejectsUnknownStatus(t *testing.T) {
	l, _ := newTestLedger()

	_, err := l.GetApplicationsByStatus("PENDING", 0, 0)
	var ve *validation.Error
	if !errors.As(err, &ve) {
		t.Errorf("Expected validation error for unknown status, got %v", err)
	}
}

func TestDecideApplication(t *testing.T) {
	l, mock := newTestLedger()
	customerID := uuid.New()
	underwriterID := uuid.New()

	app, err := l.SubmitApplication(customerID, dec("12000.00"), "USD", 12, dec("0.12"))
	if err != nil {
		t.Fatalf("Failed to submit application: %v", err)
	}

	decided, err := l.DecideApplication(app.ID, underwriterID, models.ApplicationApproved, "income verified")
	if err != nil {
		t.Fatalf("Failed to decide application: %v", err)
	}

	if decided.Status != models.ApplicationApproved {
		t.Errorf("Expected status APPROVED, got %s", decided.Status)
	}
	if decided.Decision == nil || decided.Decision.Reason != "income verified" {
		t.Errorf("Expected recorded decision reason, got %+v", decided.Decision)
	}
	if stored := mock.applications[app.ID]; stored.Status != models.ApplicationApproved {
		t.Errorf("Decision was not persisted, stored status %s", stored.Status)
	}
}

func TestDecideApplication_DecidesOnce(t *testing.T) {
	l, _ := newTestLedger()
	customerID := uuid.New()
	underwriterID := uuid.New()

	app, err := l.SubmitApplication(customerID, dec("12000.00"), "USD", 12, dec("0.12"))
	if err != nil {
		t.Fatalf("Failed to submit application: %v", err)
	}
	if _, err := l.DecideApplication(app.ID, underwriterID, models.ApplicationRejected, "insufficient income"); err != nil {
		t.Fatalf("Failed to decide application: %v", err)
	}

	_, err = l.DecideApplication(app.ID, underwriterID, models.ApplicationApproved, "changed my mind")
	var ve *validation.Error
	if !errors.As(err, &ve) {
		t.Errorf("Expected validation error on second decision, got %v", err)
	}
}

func TestDecideApplication_RejectsInvalidOutcome(t *testing.T) {
	l, _ := newTestLedger()
	customerID := uuid.New()

	app, err := l.SubmitApplication(customerID, dec("12000.00"), "USD", 12, dec("0.12"))
	if err != nil {
		t.Fatalf("Failed to submit application: %v", err)
	}

	_, err = l.DecideApplication(app.ID, uuid.New(), models.ApplicationSubmitted, "")
	var ve *validation.Error
	if !errors.As(err, &ve) {
		t.Errorf("Expected validation error for SUBMITTED outcome, got %v", err)
	}

	_, err = l.DecideApplication(uuid.New(), uuid.New(), models.ApplicationApproved, "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown application, got %v", err)
	}
}

func TestGetApplication_OwnershipEnforced(t *testing.T) {
	l, _ := newTestLedger()
	owner := uuid.New()

	app, err := l.SubmitApplication(owner, dec("12000.00"), "USD", 12, dec("0.12"))
	if err != nil {
		t.Fatalf("Failed to submit application: %v", err)
	}

	if _, err := l.GetApplication(app.ID, owner); err != nil {
		t.Errorf("Owner must see their application, got %v", err)
	}
	if _, err := l.GetApplication(app.ID, uuid.New()); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for a stranger, got %v", err)
	}
	if _, err := l.GetApplication(uuid.New(), owner); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestGetApplicationsByCustomer(t *testing.T) {
	l, _ := newTestLedger()
	customerID := uuid.New()
	other := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := l.SubmitApplication(customerID, dec("5000.00"), "USD", 12, dec("0.10")); err != nil {
			t.Fatalf("Failed to submit application: %v", err)
		}
	}
	if _, err := l.SubmitApplication(other, dec("5000.00"), "USD", 12, dec("0.10")); err != nil {
		t.Fatalf("Failed to submit application: %v", err)
	}

	apps, err := l.GetApplicationsByCustomer(customerID)
	if err != nil {
		t.Fatalf("Failed to list applications: %v", err)
	}
	if len(apps) != 3 {
		t.Errorf("Expected 3 applications, got %d", len(apps))
	}
	for _, a := range apps {
		if a.CustomerID != customerID {
			t.Errorf("Listing leaked a foreign application %s", a.ID)
		}
	}
}
