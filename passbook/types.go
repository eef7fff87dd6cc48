/*
Package passbook provides the ledger and collection reconciliation engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking, per
  (member, scheme) enrollment, how much was contractually expected versus
  actually paid over time. It reconciles a linear contribution schedule
  against recorded payment events and derives backlog, profit, and
  collection-rate figures for operational dashboards.

KEY CONCEPTS IN THIS FILE (types.go):
  - Member/Scheme/Enrollment: The master data the engine reconciles
  - ScheduleVersion: An effective-dated contribution rate
  - LedgerEntry: An immutable record of a single payment event
  - ReconciliationResult: Derived standing, never persisted

DESIGN PRINCIPLES:
  1. Derivation: expected/actual/backlog are always recomputed from raw
     entries, never stored redundantly
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Immutability: schedule history is appended, never rewritten
  4. Type Safety: Strong typing for IDs prevents mixing identifiers

SEE ALSO:
  - schedule.go: Effective-dated schedule math
  - ledger.go: Entry validation and invariants
  - reconcile.go: Expected/actual/backlog calculation
*/
package passbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type SchemeID string
type EnrollmentID string
type EntryID string
type VersionID string

// =============================================================================
// MEMBER - Identity and contact info; owns zero or more enrollments
// =============================================================================

type Member struct {
	ID      MemberID
	Name    string
	Phone   string
	Email   string
	Address string

	CreatedAt time.Time
}

// =============================================================================
// SCHEME - Contractual terms shared across many enrollments
// =============================================================================

type DurationType string

const (
	DurationDays   DurationType = "DAYS"
	DurationMonths DurationType = "MONTHS"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Scheme defines a savings scheme: total payout, duration, and the base
// contribution rate. Immutable after creation except administrative edits.
type Scheme struct {
	ID           SchemeID
	Name         string
	ChitValue    decimal.Decimal // Total payout promised to a member
	Duration     int
	DurationType DurationType

	ContributionAmount    decimal.Decimal
	ContributionFrequency Frequency

	CreatedAt time.Time
}

// =============================================================================
// ENROLLMENT - One member in one scheme, reconciled independently
// =============================================================================

type EnrollmentStatus string

const (
	StatusActive    EnrollmentStatus = "ACTIVE"
	StatusCompleted EnrollmentStatus = "COMPLETED"
	StatusDefaulted EnrollmentStatus = "DEFAULTED"
)

// Enrollment links a Member to a Scheme. A member may hold multiple
// concurrent enrollments across different schemes; no ledger entry belongs
// to more than one enrollment.
type Enrollment struct {
	ID        EnrollmentID
	MemberID  MemberID
	SchemeID  SchemeID
	StartDate Date
	LastDate  *Date // Optional deadline
	Status    EnrollmentStatus

	CreatedAt time.Time
}

// =============================================================================
// SCHEDULE VERSION - Effective-dated contribution rate
// =============================================================================

// ScheduleVersion is an effective-dated contribution rate attached to an
// enrollment. An enrollment starts with exactly one version derived from its
// scheme; a lifting event appends a new version effective from the lifting
// date. Versions are totally ordered by EffectiveFrom and exactly one is
// active on any date on or after the enrollment start.
type ScheduleVersion struct {
	ID              VersionID
	EnrollmentID    EnrollmentID
	EffectiveFrom   Date
	AmountPerPeriod decimal.Decimal
	Frequency       Frequency

	CreatedAt time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable record of a single payment event
// =============================================================================

type EntryType string

const (
	// EntryGenerated entries are produced by scheduled-due logic.
	// They are never edited or deleted, only superseded by new periods.
	EntryGenerated EntryType = "GENERATED"

	// EntryManual entries are operator-created and may be edited or deleted.
	EntryManual EntryType = "MANUAL"
)

type LiftingFlag string

const (
	LiftingYes LiftingFlag = "YES"
	LiftingNo  LiftingFlag = "NO"
)

type LedgerEntry struct {
	ID           EntryID
	EnrollmentID EnrollmentID
	Date         Date
	AmountPaid   decimal.Decimal
	PaymentMethod string
	Frequency    Frequency
	Type         EntryType

	// At most one entry per enrollment carries LiftingYes: a member lifts
	// the chit at most once. LiftingAmount is the payout received.
	Lifting       LiftingFlag
	LiftingAmount decimal.Decimal

	CreatedAt time.Time
}

// IsLifting reports whether this entry records a chit lifting.
func (e LedgerEntry) IsLifting() bool { return e.Lifting == LiftingYes }

// =============================================================================
// RECONCILIATION RESULT - Derived, never persisted
// =============================================================================

// ReconciliationResult is the standing of one enrollment as of a date,
// computed fresh from the schedule versions and ledger entries. It is never
// cached beyond a single report request, since historical entries can be
// edited retroactively.
type ReconciliationResult struct {
	EnrollmentID   EnrollmentID
	AsOf           Date
	ExpectedToDate decimal.Decimal
	ActualToDate   decimal.Decimal
	Backlog        decimal.Decimal // max(0, expected - actual)
	CollectionRate decimal.Decimal // actual/expected, 1.0 when expected is 0
}
