/*
ledger.go - Entry validation and ledger invariants

PURPOSE:
  The Ledger is the gatekeeper for all ledger entry writes. Every append,
  update, and removal passes through here so the two ledger invariants hold
  no matter which caller (API handler, due-entry scheduler, lifting
  transition) produced the entry.

CRITICAL INVARIANTS:
  1. CHIT VALUE CAP: the cumulative sum of AmountPaid for an enrollment
     never exceeds the ChitValue of its scheme.
  2. SINGLE LIFTING: at most one entry per enrollment has Lifting=YES.
  3. GENERATED IMMUTABILITY: GENERATED entries are never edited or deleted,
     only superseded by new schedule periods.

PROPAGATION POLICY:
  All checks run synchronously BEFORE any state change, so a rejected write
  leaves no partial state behind.

SEE ALSO:
  - store.go: raw persistence the Ledger validates in front of
  - lifting.go: composes a Ledger over a transactional store view
*/
package passbook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Validating facade over an entry store
// =============================================================================

// Ledger validates ledger invariants in front of a Store. It is cheap to
// construct; the lifting handler builds one over each transaction view.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append validates the entry against both ledger invariants and persists it.
// The entry's ID and CreatedAt are assigned here when unset.
func (l *Ledger) Append(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	if err := validateEntry(entry); err != nil {
		return LedgerEntry{}, err
	}

	enrollment, err := l.store.GetEnrollment(ctx, entry.EnrollmentID)
	if err != nil {
		return LedgerEntry{}, err
	}
	scheme, err := l.store.GetScheme(ctx, enrollment.SchemeID)
	if err != nil {
		return LedgerEntry{}, err
	}

	existing, err := l.store.ListEntries(ctx, entry.EnrollmentID, EntryFilter{})
	if err != nil {
		return LedgerEntry{}, err
	}

	if err := checkChitValue(*enrollment, *scheme, existing, entry.AmountPaid, ""); err != nil {
		return LedgerEntry{}, err
	}
	if entry.IsLifting() {
		for _, e := range existing {
			if e.IsLifting() {
				return LedgerEntry{}, fmt.Errorf("enrollment %s already has lifting entry %s: %w",
					entry.EnrollmentID, e.ID, ErrDuplicateLifting)
			}
		}
	}

	if entry.ID == "" {
		entry.ID = EntryID(uuid.NewString())
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Lifting == "" {
		entry.Lifting = LiftingNo
	}

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

// Update replaces a MANUAL entry after re-validating the chit value cap with
// the old amount excluded. GENERATED entries are immutable.
func (l *Ledger) Update(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	current, err := l.store.GetEntry(ctx, entry.ID)
	if err != nil {
		return LedgerEntry{}, err
	}
	if current.Type == EntryGenerated {
		return LedgerEntry{}, fmt.Errorf("entry %s: %w", entry.ID, ErrImmutableEntry)
	}

	// The enrollment is fixed by the stored entry; callers only supply the
	// editable fields.
	entry.EnrollmentID = current.EnrollmentID
	if err := validateEntry(entry); err != nil {
		return LedgerEntry{}, err
	}

	enrollment, err := l.store.GetEnrollment(ctx, current.EnrollmentID)
	if err != nil {
		return LedgerEntry{}, err
	}
	scheme, err := l.store.GetScheme(ctx, enrollment.SchemeID)
	if err != nil {
		return LedgerEntry{}, err
	}
	existing, err := l.store.ListEntries(ctx, current.EnrollmentID, EntryFilter{})
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := checkChitValue(*enrollment, *scheme, existing, entry.AmountPaid, entry.ID); err != nil {
		return LedgerEntry{}, err
	}

	// Identity and lifting state are fixed; only operator-editable fields move.
	updated := *current
	updated.Date = entry.Date
	updated.AmountPaid = entry.AmountPaid
	updated.PaymentMethod = entry.PaymentMethod
	updated.Frequency = entry.Frequency

	if err := l.store.UpdateEntry(ctx, updated); err != nil {
		return LedgerEntry{}, err
	}
	return updated, nil
}

// Remove deletes a MANUAL entry. Fails with ErrImmutableEntry for GENERATED.
func (l *Ledger) Remove(ctx context.Context, id EntryID) error {
	entry, err := l.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry.Type == EntryGenerated {
		return fmt.Errorf("entry %s: %w", id, ErrImmutableEntry)
	}
	return l.store.RemoveEntry(ctx, id)
}

// ListForEnrollment returns entries ordered by date ascending, with the
// filter fields applied as a conjunction.
func (l *Ledger) ListForEnrollment(ctx context.Context, enrollmentID EnrollmentID, filter EntryFilter) ([]LedgerEntry, error) {
	if _, err := l.store.GetEnrollment(ctx, enrollmentID); err != nil {
		return nil, err
	}
	return l.store.ListEntries(ctx, enrollmentID, filter)
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateEntry(entry LedgerEntry) error {
	if entry.EnrollmentID == "" {
		return &ValidationError{Field: "enrollmentId", Message: "must not be empty"}
	}
	if entry.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "must be a valid date"}
	}
	if entry.AmountPaid.IsNegative() {
		return &ValidationError{Field: "amountPaid", Message: "must not be negative"}
	}
	if entry.IsLifting() && entry.LiftingAmount.IsNegative() {
		return &ValidationError{Field: "liftingAmount", Message: "must not be negative"}
	}
	switch entry.Frequency {
	case FrequencyDaily, FrequencyMonthly:
	default:
		return &ValidationError{Field: "frequency", Message: "must be DAILY or MONTHLY"}
	}
	return nil
}

// checkChitValue enforces the cumulative-sum cap. excludeID is set during
// updates so the entry's previous amount is not double counted.
func checkChitValue(enrollment Enrollment, scheme Scheme, existing []LedgerEntry, attempted decimal.Decimal, excludeID EntryID) error {
	paid := decimal.Zero
	for _, e := range existing {
		if excludeID != "" && e.ID == excludeID {
			continue
		}
		paid = paid.Add(e.AmountPaid)
	}
	if paid.Add(attempted).GreaterThan(scheme.ChitValue) {
		return &ChitValueExceededError{
			EnrollmentID: enrollment.ID,
			ChitValue:    scheme.ChitValue,
			AlreadyPaid:  paid,
			Attempted:    attempted,
		}
	}
	return nil
}
