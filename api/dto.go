/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY FIELDS:
  Amounts travel as JSON strings ("1500.00") via decimal.Decimal to keep
  the no-floating-point rule at the API boundary too. decimal accepts bare
  JSON numbers on input as well.

VALIDATION:
  Request structs carry go-playground/validator tags; handlers run the
  validator before touching domain logic. Domain invariants (chit value cap,
  single lifting) stay in the passbook package.

SEE ALSO:
  - handlers.go: Uses these types
  - passbook/types.go: The domain model these mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/chitworks/passbook-engine/passbook"
)

// =============================================================================
// LEDGER ENTRY TYPES
// =============================================================================

// LedgerEntryDTO represents a ledger entry in API responses.
type LedgerEntryDTO struct {
	ID            string          `json:"id"`
	EnrollmentID  string          `json:"enrollment_id"`
	Date          string          `json:"date"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Frequency     string          `json:"frequency"`
	Type          string          `json:"type"`
	Lifting       string          `json:"lifting"`
	LiftingAmount decimal.Decimal `json:"lifting_amount"`
	CreatedAt     string          `json:"created_at,omitempty"`
}

// CreateEntryRequest is the request to record a payment event.
type CreateEntryRequest struct {
	EnrollmentID  string          `json:"enrollment_id" validate:"required"`
	Date          string          `json:"date" validate:"required"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentMethod string          `json:"payment_method" validate:"omitempty,max=64"`
	Frequency     string          `json:"frequency" validate:"required,oneof=DAILY MONTHLY"`
}

// UpdateEntryRequest carries the operator-editable fields of a MANUAL entry.
type UpdateEntryRequest struct {
	Date          string          `json:"date" validate:"required"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentMethod string          `json:"payment_method" validate:"omitempty,max=64"`
	Frequency     string          `json:"frequency" validate:"required,oneof=DAILY MONTHLY"`
}

// =============================================================================
// RECONCILIATION AND LIFTING TYPES
// =============================================================================

// ReconciliationDTO is the standing of one enrollment as of a date.
type ReconciliationDTO struct {
	EnrollmentID   string          `json:"enrollment_id"`
	AsOf           string          `json:"as_of"`
	ExpectedToDate decimal.Decimal `json:"expected_to_date"`
	ActualToDate   decimal.Decimal `json:"actual_to_date"`
	Backlog        decimal.Decimal `json:"backlog"`
	CollectionRate decimal.Decimal `json:"collection_rate"`
}

// LiftingRequest is the auction outcome applied to an enrollment.
type LiftingRequest struct {
	LiftingDate        string          `json:"lifting_date" validate:"required"`
	AmountReceived     decimal.Decimal `json:"amount_received"`
	NewAmountPerPeriod decimal.Decimal `json:"new_amount_per_period"`
}

// LiftingResponse reports what the transition produced.
type LiftingResponse struct {
	Version ScheduleVersionDTO `json:"version"`
	Entry   LedgerEntryDTO     `json:"entry"`
}

// =============================================================================
// DASHBOARD TYPES
// =============================================================================

// DashboardStatsDTO is the aggregate dashboard payload.
type DashboardStatsDTO struct {
	AsOf               string          `json:"as_of"`
	ExpectedDaily      decimal.Decimal `json:"expected_daily"`
	ActualDaily        decimal.Decimal `json:"actual_daily"`
	CollectionRate     decimal.Decimal `json:"collection_rate"`
	DailyProfits       decimal.Decimal `json:"daily_profits"`
	MonthlyProfits     decimal.Decimal `json:"monthly_profits"`
	ActiveCount        int             `json:"active_count"`
	PaidTodayCount     int             `json:"paid_today_count"`
	PendingTodayCount  int             `json:"pending_today_count"`
	BacklogCount       int             `json:"backlog_count"`
	TotalBacklogAmount decimal.Decimal `json:"total_backlog_amount"`
	Skipped            int             `json:"skipped,omitempty"`
}

// =============================================================================
// MASTER DATA TYPES
// =============================================================================

// MemberDTO represents a member in API responses.
type MemberDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateMemberRequest is the request to register a member.
type CreateMemberRequest struct {
	Name    string `json:"name" validate:"required,max=128"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"omitempty,max=256"`
}

// SchemeDTO represents a scheme in API responses.
type SchemeDTO struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	ChitValue             decimal.Decimal `json:"chit_value"`
	Duration              int             `json:"duration"`
	DurationType          string          `json:"duration_type"`
	ContributionAmount    decimal.Decimal `json:"contribution_amount"`
	ContributionFrequency string          `json:"contribution_frequency"`
	CreatedAt             string          `json:"created_at,omitempty"`
}

// CreateSchemeRequest is the request to define a scheme.
type CreateSchemeRequest struct {
	Name                  string          `json:"name" validate:"required,max=128"`
	ChitValue             decimal.Decimal `json:"chit_value"`
	Duration              int             `json:"duration" validate:"required,gt=0"`
	DurationType          string          `json:"duration_type" validate:"required,oneof=DAYS MONTHS"`
	ContributionAmount    decimal.Decimal `json:"contribution_amount"`
	ContributionFrequency string          `json:"contribution_frequency" validate:"required,oneof=DAILY MONTHLY"`
}

// EnrollmentDTO represents an enrollment, optionally with its schedule.
type EnrollmentDTO struct {
	ID        string               `json:"id"`
	MemberID  string               `json:"member_id"`
	SchemeID  string               `json:"scheme_id"`
	StartDate string               `json:"start_date"`
	LastDate  *string              `json:"last_date,omitempty"`
	Status    string               `json:"status"`
	Versions  []ScheduleVersionDTO `json:"schedule_versions,omitempty"`
	CreatedAt string               `json:"created_at,omitempty"`
}

// CreateEnrollmentRequest enrolls a member in a scheme.
type CreateEnrollmentRequest struct {
	MemberID  string  `json:"member_id" validate:"required"`
	SchemeID  string  `json:"scheme_id" validate:"required"`
	StartDate string  `json:"start_date" validate:"required"`
	LastDate  *string `json:"last_date,omitempty"`
}

// ScheduleVersionDTO represents an effective-dated rate.
type ScheduleVersionDTO struct {
	ID              string          `json:"id"`
	EnrollmentID    string          `json:"enrollment_id"`
	EffectiveFrom   string          `json:"effective_from"`
	AmountPerPeriod decimal.Decimal `json:"amount_per_period"`
	Frequency       string          `json:"frequency"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toEntryDTO(e passbook.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:            string(e.ID),
		EnrollmentID:  string(e.EnrollmentID),
		Date:          e.Date.String(),
		AmountPaid:    e.AmountPaid,
		PaymentMethod: e.PaymentMethod,
		Frequency:     string(e.Frequency),
		Type:          string(e.Type),
		Lifting:       string(e.Lifting),
		LiftingAmount: e.LiftingAmount,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []passbook.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toVersionDTO(v passbook.ScheduleVersion) ScheduleVersionDTO {
	return ScheduleVersionDTO{
		ID:              string(v.ID),
		EnrollmentID:    string(v.EnrollmentID),
		EffectiveFrom:   v.EffectiveFrom.String(),
		AmountPerPeriod: v.AmountPerPeriod,
		Frequency:       string(v.Frequency),
	}
}

func toEnrollmentDTO(e passbook.Enrollment, versions []passbook.ScheduleVersion) EnrollmentDTO {
	dto := EnrollmentDTO{
		ID:        string(e.ID),
		MemberID:  string(e.MemberID),
		SchemeID:  string(e.SchemeID),
		StartDate: e.StartDate.String(),
		Status:    string(e.Status),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
	if e.LastDate != nil {
		s := e.LastDate.String()
		dto.LastDate = &s
	}
	for _, v := range versions {
		dto.Versions = append(dto.Versions, toVersionDTO(v))
	}
	return dto
}

func toMemberDTO(m passbook.Member) MemberDTO {
	return MemberDTO{
		ID:        string(m.ID),
		Name:      m.Name,
		Phone:     m.Phone,
		Email:     m.Email,
		Address:   m.Address,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func toSchemeDTO(s passbook.Scheme) SchemeDTO {
	return SchemeDTO{
		ID:                    string(s.ID),
		Name:                  s.Name,
		ChitValue:             s.ChitValue,
		Duration:              s.Duration,
		DurationType:          string(s.DurationType),
		ContributionAmount:    s.ContributionAmount,
		ContributionFrequency: string(s.ContributionFrequency),
		CreatedAt:             s.CreatedAt.Format(time.RFC3339),
	}
}

func toReconciliationDTO(r passbook.ReconciliationResult) ReconciliationDTO {
	return ReconciliationDTO{
		EnrollmentID:   string(r.EnrollmentID),
		AsOf:           r.AsOf.String(),
		ExpectedToDate: r.ExpectedToDate,
		ActualToDate:   r.ActualToDate,
		Backlog:        r.Backlog,
		CollectionRate: r.CollectionRate,
	}
}

func toDashboardDTO(s passbook.DashboardStats) DashboardStatsDTO {
	return DashboardStatsDTO{
		AsOf:               s.AsOf.String(),
		ExpectedDaily:      s.Totals.ExpectedDaily,
		ActualDaily:        s.Totals.ActualDaily,
		CollectionRate:     s.Totals.CollectionRate,
		DailyProfits:       s.Totals.DailyProfits,
		MonthlyProfits:     s.Totals.MonthlyProfits,
		ActiveCount:        s.Summary.ActiveCount,
		PaidTodayCount:     s.Summary.PaidTodayCount,
		PendingTodayCount:  s.Summary.PendingTodayCount,
		BacklogCount:       s.Summary.BacklogCount,
		TotalBacklogAmount: s.Summary.TotalBacklogAmount,
		Skipped:            s.Skipped,
	}
}
