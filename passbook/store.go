/*
store.go - Persistence interfaces for the engine

PURPOSE:
  Defines the boundary between the engine and storage. The engine consumes
  a repository abstraction, not a specific database: the same interfaces are
  implemented by the in-memory store (tests/dev) and the SQLite store
  (production).

KEY INTERFACES:
  EntryStore:      Ledger entry persistence (append, list, update, remove)
  ScheduleStore:   Schedule version persistence (append-only)
  EnrollmentStore: Enrollment reads plus status transitions
  SchemeStore/MemberStore: Master data reads and creation
  TxStore:         Atomic multi-write support for the lifting transition

CONSISTENCY CONTRACT:
  Every read within a single engine operation sees a consistent snapshot.
  Schedule versions are append-only; ledger entries are append-mostly
  (MANUAL entries may be updated or removed, GENERATED never).
  All calls take a context so callers can bound repository latency; a
  timed-out call surfaces as an ordinary error.

SEE ALSO:
  - store/memory.go: In-memory implementation
  - store/sqlite (module root): SQLite implementation
*/
package passbook

import "context"

// =============================================================================
// ENTRY FILTER - Conjunction of passbook listing filters
// =============================================================================

// EntryFilter narrows ListEntries results. All set fields are applied as a
// conjunction (AND). The date range is inclusive on both ends.
type EntryFilter struct {
	Frequency *Frequency
	DateFrom  *Date
	DateTo    *Date
}

// Matches reports whether an entry satisfies every set filter field.
func (f EntryFilter) Matches(e LedgerEntry) bool {
	if f.Frequency != nil && e.Frequency != *f.Frequency {
		return false
	}
	if f.DateFrom != nil && e.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && e.Date.After(*f.DateTo) {
		return false
	}
	return true
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// EntryStore persists ledger entries. Implementations store entries exactly
// as given; invariant checks live in the Ledger, not the store.
type EntryStore interface {
	// AppendEntry persists one entry.
	AppendEntry(ctx context.Context, entry LedgerEntry) error

	// GetEntry returns the entry or ErrEntryNotFound.
	GetEntry(ctx context.Context, id EntryID) (*LedgerEntry, error)

	// UpdateEntry replaces a stored entry. ErrEntryNotFound if missing.
	UpdateEntry(ctx context.Context, entry LedgerEntry) error

	// RemoveEntry deletes an entry. ErrEntryNotFound if missing.
	RemoveEntry(ctx context.Context, id EntryID) error

	// ListEntries returns the enrollment's entries matching the filter,
	// ordered by date ascending.
	ListEntries(ctx context.Context, enrollmentID EnrollmentID, filter EntryFilter) ([]LedgerEntry, error)
}

// ScheduleStore persists schedule versions. Append-only: rate changes create
// new versions, history is never rewritten.
type ScheduleStore interface {
	AppendVersion(ctx context.Context, version ScheduleVersion) error

	// ListVersions returns an enrollment's versions ordered by EffectiveFrom.
	ListVersions(ctx context.Context, enrollmentID EnrollmentID) ([]ScheduleVersion, error)
}

// EnrollmentStore reads enrollments. The engine only writes status
// transitions (e.g. marking DEFAULTED); enrollment CRUD belongs to the
// surrounding system.
type EnrollmentStore interface {
	GetEnrollment(ctx context.Context, id EnrollmentID) (*Enrollment, error)
	ListActiveEnrollments(ctx context.Context) ([]Enrollment, error)
	SaveEnrollment(ctx context.Context, enrollment Enrollment) error
	UpdateEnrollmentStatus(ctx context.Context, id EnrollmentID, status EnrollmentStatus) error
}

// SchemeStore reads scheme master data.
type SchemeStore interface {
	GetScheme(ctx context.Context, id SchemeID) (*Scheme, error)
	ListSchemes(ctx context.Context) ([]Scheme, error)
	SaveScheme(ctx context.Context, scheme Scheme) error
}

// MemberStore reads member master data.
type MemberStore interface {
	GetMember(ctx context.Context, id MemberID) (*Member, error)
	ListMembers(ctx context.Context) ([]Member, error)
	SaveMember(ctx context.Context, member Member) error
}

// Store bundles everything the engine needs.
type Store interface {
	EntryStore
	ScheduleStore
	EnrollmentStore
	SchemeStore
	MemberStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic two-part writes
// =============================================================================

// TxStore wraps Store with transaction support. The lifting transition's
// two-part write (schedule version + lifting entry) runs inside WithTx so a
// failure in either aborts both.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
