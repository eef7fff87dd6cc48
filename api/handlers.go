/*
handlers.go - HTTP API handlers for the passbook engine

PURPOSE:
  Exposes the ledger and reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Ledger entries:
    POST   /api/ledger-entries                  Record a payment event
    PUT    /api/ledger-entries/{id}             Edit a MANUAL entry
    DELETE /api/ledger-entries/{id}             Delete a MANUAL entry

  Enrollments:
    POST   /api/enrollments                     Enroll a member in a scheme
    GET    /api/enrollments/{id}                Enrollment with schedule versions
    GET    /api/enrollments/{id}/entries        Filtered passbook listing
    GET    /api/enrollments/{id}/reconciliation Standing as of a date
    POST   /api/enrollments/{id}/lifting        Apply an auction outcome

  Dashboard:
    GET    /api/dashboard/stats                 Portfolio aggregates

  Master data:
    GET/POST /api/members, /api/schemes

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator)
  3. Call domain logic (ledger, calculator, lifting handler, reporter)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Member/scheme/enrollment/entry not found
  - 409: Invariant violations (chit value cap, duplicate lifting,
         immutable GENERATED entry, invalid lifting date)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public;
  run behind a trusted gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Due-entry generation job
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chitworks/passbook-engine/passbook"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    passbook.TxStore
	Ledger   *passbook.Ledger
	Calc     *passbook.Calculator
	Lifting  *passbook.LiftingHandler
	Reporter *passbook.Reporter
	Log      *logrus.Logger

	validate *validator.Validate
}

// NewHandler creates a handler wired to the given store and reporter.
func NewHandler(store passbook.TxStore, reporter *passbook.Reporter, log *logrus.Logger) *Handler {
	return &Handler{
		Store:    store,
		Ledger:   passbook.NewLedger(store),
		Calc:     passbook.NewCalculator(store),
		Lifting:  passbook.NewLiftingHandler(store),
		Reporter: reporter,
		Log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// LEDGER ENTRY HANDLERS
// =============================================================================

// CreateLedgerEntry records a MANUAL payment event.
func (h *Handler) CreateLedgerEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	date, err := passbook.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	entry, err := h.Ledger.Append(r.Context(), passbook.LedgerEntry{
		EnrollmentID:  passbook.EnrollmentID(req.EnrollmentID),
		Date:          date,
		AmountPaid:    req.AmountPaid,
		PaymentMethod: req.PaymentMethod,
		Frequency:     passbook.Frequency(req.Frequency),
		Type:          passbook.EntryManual,
		Lifting:       passbook.LiftingNo,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// UpdateLedgerEntry edits a MANUAL entry's operator-editable fields.
func (h *Handler) UpdateLedgerEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateEntryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	date, err := passbook.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	entry, err := h.Ledger.Update(r.Context(), passbook.LedgerEntry{
		ID:            passbook.EntryID(id),
		Date:          date,
		AmountPaid:    req.AmountPaid,
		PaymentMethod: req.PaymentMethod,
		Frequency:     passbook.Frequency(req.Frequency),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// DeleteLedgerEntry removes a MANUAL entry.
func (h *Handler) DeleteLedgerEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Ledger.Remove(r.Context(), passbook.EntryID(id)); err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListEnrollmentEntries returns the passbook view: an enrollment's entries
// with optional frequency and inclusive date-range filters.
func (h *Handler) ListEnrollmentEntries(w http.ResponseWriter, r *http.Request) {
	id := passbook.EnrollmentID(chi.URLParam(r, "id"))

	var filter passbook.EntryFilter
	if s := r.URL.Query().Get("frequency"); s != "" {
		freq := passbook.Frequency(s)
		if freq != passbook.FrequencyDaily && freq != passbook.FrequencyMonthly {
			writeError(w, http.StatusBadRequest, "frequency must be DAILY or MONTHLY", nil)
			return
		}
		filter.Frequency = &freq
	}
	if s := r.URL.Query().Get("dateFrom"); s != "" {
		d, err := passbook.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid dateFrom (use YYYY-MM-DD)", err)
			return
		}
		filter.DateFrom = &d
	}
	if s := r.URL.Query().Get("dateTo"); s != "" {
		d, err := passbook.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid dateTo (use YYYY-MM-DD)", err)
			return
		}
		filter.DateTo = &d
	}

	entries, err := h.Ledger.ListForEnrollment(r.Context(), id, filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// RECONCILIATION AND LIFTING HANDLERS
// =============================================================================

// GetReconciliation returns an enrollment's expected/actual/backlog standing
// as of the asOf query date (default: today).
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	id := passbook.EnrollmentID(chi.URLParam(r, "id"))

	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}

	result, err := h.Calc.Reconcile(r.Context(), id, asOf)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toReconciliationDTO(result))
}

// ApplyLifting applies an auction outcome: appends a schedule version at the
// new rate and records the payout as a lifting entry, atomically.
func (h *Handler) ApplyLifting(w http.ResponseWriter, r *http.Request) {
	id := passbook.EnrollmentID(chi.URLParam(r, "id"))

	var req LiftingRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	liftingDate, err := passbook.ParseDate(req.LiftingDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid lifting_date format (use YYYY-MM-DD)", err)
		return
	}

	outcome, err := h.Lifting.ApplyLifting(r.Context(), id, liftingDate, req.AmountReceived, req.NewAmountPerPeriod)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, LiftingResponse{
		Version: toVersionDTO(outcome.Version),
		Entry:   toEntryDTO(outcome.Entry),
	})
}

// GetDashboardStats returns the portfolio aggregates as of the asOf query
// date (default: today).
func (h *Handler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}

	stats, err := h.Reporter.DashboardStats(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDashboardDTO(stats))
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns all members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.ListMembers(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember registers a member.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	member := passbook.Member{
		ID:        passbook.MemberID(uuid.NewString()),
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		Address:   req.Address,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveMember(r.Context(), member); err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMemberDTO(member))
}

// =============================================================================
// SCHEME HANDLERS
// =============================================================================

// ListSchemes returns all schemes.
func (h *Handler) ListSchemes(w http.ResponseWriter, r *http.Request) {
	schemes, err := h.Store.ListSchemes(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]SchemeDTO, len(schemes))
	for i, s := range schemes {
		dtos[i] = toSchemeDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateScheme defines a scheme.
func (h *Handler) CreateScheme(w http.ResponseWriter, r *http.Request) {
	var req CreateSchemeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if !req.ChitValue.IsPositive() {
		writeError(w, http.StatusBadRequest, "chit_value must be positive", nil)
		return
	}
	if !req.ContributionAmount.IsPositive() {
		writeError(w, http.StatusBadRequest, "contribution_amount must be positive", nil)
		return
	}

	scheme := passbook.Scheme{
		ID:                    passbook.SchemeID(uuid.NewString()),
		Name:                  req.Name,
		ChitValue:             req.ChitValue,
		Duration:              req.Duration,
		DurationType:          passbook.DurationType(req.DurationType),
		ContributionAmount:    req.ContributionAmount,
		ContributionFrequency: passbook.Frequency(req.ContributionFrequency),
		CreatedAt:             time.Now().UTC(),
	}
	if err := h.Store.SaveScheme(r.Context(), scheme); err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSchemeDTO(scheme))
}

// =============================================================================
// ENROLLMENT HANDLERS
// =============================================================================

// CreateEnrollment enrolls a member in a scheme. The enrollment and its
// initial schedule version (derived from the scheme's base rate) are written
// in one transaction so no enrollment exists without an active schedule.
func (h *Handler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnrollmentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	startDate, err := passbook.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	var lastDate *passbook.Date
	if req.LastDate != nil {
		d, err := passbook.ParseDate(*req.LastDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid last_date format (use YYYY-MM-DD)", err)
			return
		}
		if d.Before(startDate) {
			writeError(w, http.StatusBadRequest, "last_date must not precede start_date", nil)
			return
		}
		lastDate = &d
	}

	enrollment := passbook.Enrollment{
		ID:        passbook.EnrollmentID(uuid.NewString()),
		MemberID:  passbook.MemberID(req.MemberID),
		SchemeID:  passbook.SchemeID(req.SchemeID),
		StartDate: startDate,
		LastDate:  lastDate,
		Status:    passbook.StatusActive,
		CreatedAt: time.Now().UTC(),
	}

	var version passbook.ScheduleVersion
	err = h.Store.WithTx(r.Context(), func(store passbook.Store) error {
		if _, err := store.GetMember(r.Context(), enrollment.MemberID); err != nil {
			return err
		}
		scheme, err := store.GetScheme(r.Context(), enrollment.SchemeID)
		if err != nil {
			return err
		}
		if err := store.SaveEnrollment(r.Context(), enrollment); err != nil {
			return err
		}
		version = passbook.InitialVersion(enrollment, *scheme)
		return store.AppendVersion(r.Context(), version)
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEnrollmentDTO(enrollment, []passbook.ScheduleVersion{version}))
}

// GetEnrollment returns an enrollment with its schedule version history.
func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	id := passbook.EnrollmentID(chi.URLParam(r, "id"))

	enrollment, err := h.Store.GetEnrollment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	versions, err := h.Store.ListVersions(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEnrollmentDTO(*enrollment, versions))
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeAndValidate parses the JSON body into dst and runs struct validation.
// Writes the error response itself; returns false when the request is bad.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// asOfParam parses the optional asOf query parameter, defaulting to today.
func (h *Handler) asOfParam(w http.ResponseWriter, r *http.Request) (passbook.Date, bool) {
	s := r.URL.Query().Get("asOf")
	if s == "" {
		return passbook.Today(), true
	}
	d, err := passbook.ParseDate(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asOf format (use YYYY-MM-DD)", err)
		return passbook.Date{}, false
	}
	return d, true
}

// writeDomainError maps domain errors to HTTP statuses: validation 400,
// not-found 404, invariant violations 409, everything else 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case passbook.IsValidation(err):
		status = http.StatusBadRequest
	case passbook.IsNotFound(err):
		status = http.StatusNotFound
	case passbook.IsInvariantViolation(err):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError && h.Log != nil {
		h.Log.WithError(err).Error("request failed")
	}

	writeJSON(w, status, ErrorResponse{
		Error: err.Error(),
		Code:  passbook.Code(err),
	})
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if status == http.StatusBadRequest {
		resp.Code = "VALIDATION_FAILED"
	}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
