package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mcclellann/loanbook/pkg/audit"
	"github.com/mcclellann/loanbook/pkg/auth"
	"github.com/mcclellann/loanbook/pkg/ledger"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/mcclellann/loanbook/pkg/validation"
)

const dateLayout = "2006-01-02"

// Server holds the ledger instance and the HTTP plumbing around it.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage
	auth    *auth.Auth
	logger  *zap.SugaredLogger
}

func NewServer(s store.Storage, a *auth.Auth, logger *zap.SugaredLogger) *Server {
	recorder := audit.NewRecorder(s, logger)
	return &Server{
		ledger:  ledger.NewLedger(s, recorder, logger),
		storage: s,
		auth:    a,
		logger:  logger,
	}
}

// Router wires up all routes. Everything under /api except register and
// login requires a valid bearer token.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/register", s.registerHandler).Methods("POST")
	r.HandleFunc("/api/login", s.loginHandler).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.auth.Middleware)

	api.HandleFunc("/applications", s.submitApplicationHandler).Methods("POST")
	api.HandleFunc("/applications", s.listApplicationsHandler).Methods("GET")
	api.HandleFunc("/applications/{id}", s.getApplicationHandler).Methods("GET")
	api.HandleFunc("/applications/{id}/decision", s.decideApplicationHandler).Methods("POST")
	api.HandleFunc("/applications/{id}/loan", s.convertApplicationHandler).Methods("POST")

	api.HandleFunc("/underwriting/applications", s.listUnderwritingQueueHandler).Methods("GET")
	api.HandleFunc("/admin/audit", s.listAuditHandler).Methods("GET")

	api.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/schedule", s.getScheduleHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/schedule/refresh", s.refreshScheduleHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/payments", s.postPaymentHandler).Methods("POST")

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorw("failed to encode response", "error", err)
	}
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *validation.Error
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	default:
		s.logger.Errorw("internal error", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func identityFrom(r *http.Request) (auth.Identity, bool) {
	return auth.FromContext(r.Context())
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" || req.Password == "" {
		http.Error(w, "login and password are required", http.StatusBadRequest)
		return
	}

	customer := &models.Customer{
		ID:           uuid.New(),
		Login:        req.Login,
		PasswordHash: auth.HashPassword(req.Login, req.Password),
		Role:         auth.RoleCustomer,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.storage.CreateCustomer(customer); err != nil {
		s.writeError(w, err)
		return
	}

	token := s.auth.Token(auth.Identity{CustomerID: customer.ID, Role: customer.Role})
	s.writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" || req.Password == "" {
		http.Error(w, "login and password are required", http.StatusBadRequest)
		return
	}

	customer, err := s.storage.GetCustomerByLogin(req.Login)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		s.writeError(w, err)
		return
	}

	hashed := auth.HashPassword(req.Login, req.Password)
	if string(hashed) != string(customer.PasswordHash) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	token := s.auth.Token(auth.Identity{CustomerID: customer.ID, Role: customer.Role})
	s.writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type applicationRequest struct {
	Principal  decimal.Decimal `json:"principal"`
	Currency   string          `json:"currency"`
	TermMonths int             `json:"term_months"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
}

func (s *Server) submitApplicationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req applicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	app, err := s.ledger.SubmitApplication(id.CustomerID, req.Principal, req.Currency, req.TermMonths, req.AnnualRate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, app)
}

func (s *Server) listApplicationsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	apps, err := s.ledger.GetApplicationsByCustomer(id.CustomerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, apps)
}

func (s *Server) getApplicationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	appID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid application ID", http.StatusBadRequest)
		return
	}

	app, err := s.ledger.GetApplication(appID, id.CustomerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, app)
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

func (s *Server) decideApplicationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if id.Role != auth.RoleUnderwriter {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	appID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid application ID", http.StatusBadRequest)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	app, err := s.ledger.DecideApplication(appID, id.CustomerID, models.ApplicationStatus(req.Decision), req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, app)
}

// pageParams reads page/size query parameters into a limit and offset.
func pageParams(r *http.Request) (limit, offset int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 0 {
		page = 0
	}
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil || size <= 0 {
		size = 20
	}
	return size, page * size
}

func (s *Server) listUnderwritingQueueHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if id.Role != auth.RoleUnderwriter {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	status := models.ApplicationStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.ApplicationSubmitted
	}
	limit, offset := pageParams(r)

	apps, err := s.ledger.GetApplicationsByStatus(status, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, apps)
}

func (s *Server) listAuditHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if id.Role != auth.RoleUnderwriter {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	limit, offset := pageParams(r)
	entries, err := s.storage.ListAuditEntries(limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

type convertRequest struct {
	StartDate string `json:"start_date"`
}

func (s *Server) convertApplicationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	appID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid application ID", http.StatusBadRequest)
		return
	}

	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		http.Error(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoanFromApplication(appID, id.CustomerID, startDate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	loans, err := s.ledger.GetLoansByCustomer(id.CustomerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.GetLoan(loanID, id.CustomerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

type scheduleResponse struct {
	Installments []*models.Installment   `json:"installments"`
	Summary      *ledger.ScheduleSummary `json:"summary"`
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	installments, summary, err := s.ledger.GetSchedule(loanID, id.CustomerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, scheduleResponse{Installments: installments, Summary: summary})
}

func (s *Server) refreshScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	// Ownership check before the maintenance call.
	if _, err := s.ledger.GetLoan(loanID, id.CustomerID); err != nil {
		s.writeError(w, err)
		return
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	marked, err := s.ledger.RefreshLateStatus(loanID, today)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"marked_late": marked})
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	payments, err := s.ledger.GetPayments(loanID, id.CustomerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payments)
}

type paymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PaymentDate string          `json:"payment_date"`
	Reference   string          `json:"reference"`
}

func (s *Server) postPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	paymentDate, err := time.Parse(dateLayout, req.PaymentDate)
	if err != nil {
		http.Error(w, "payment_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	result, err := s.ledger.PostPayment(loanID, id.CustomerID, req.Amount, req.Currency, paymentDate, req.Reference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}
