/*
lifting.go - Chit lifting transition

PURPOSE:
  Applies an auction outcome to an enrollment: appends a new effective-dated
  schedule version at the post-lifting rate and records the payout as a
  lifting-flagged ledger entry. The schedule is mutated, past ledger entries
  never are, so every reconciliation for a date before the lifting stays
  reproducible afterwards.

ATOMICITY:
  The two writes (schedule version + lifting entry) run inside one store
  transaction. A failure in either aborts both.

SERIALIZATION:
  Two racing liftings for the same enrollment would both pass the
  AlreadyLifted check and append two versions, so calls are serialized with
  a per-enrollment mutex. Liftings on different enrollments run in parallel.

SEE ALSO:
  - store.go: TxStore.WithTx contract
  - ledger.go: the lifting entry goes through the same invariant checks
*/
package passbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LIFTING HANDLER
// =============================================================================

// LiftingHandler applies auction outcomes to enrollments.
type LiftingHandler struct {
	Store TxStore

	mu    sync.Mutex
	locks map[EnrollmentID]*sync.Mutex
}

func NewLiftingHandler(store TxStore) *LiftingHandler {
	return &LiftingHandler{
		Store: store,
		locks: make(map[EnrollmentID]*sync.Mutex),
	}
}

// LiftingOutcome is what a successful transition produced.
type LiftingOutcome struct {
	Version ScheduleVersion
	Entry   LedgerEntry
}

// ApplyLifting appends a schedule version effective from liftingDate at the
// new rate, and a lifting ledger entry recording the payout. Fails with
// ErrAlreadyLifted when a lifting already exists, or ErrInvalidLiftingDate
// when the date precedes the enrollment start or the latest version.
func (h *LiftingHandler) ApplyLifting(ctx context.Context, id EnrollmentID, liftingDate Date, amountReceived, newAmountPerPeriod decimal.Decimal) (LiftingOutcome, error) {
	if liftingDate.IsZero() {
		return LiftingOutcome{}, &ValidationError{Field: "liftingDate", Message: "must be a valid date"}
	}
	if amountReceived.IsNegative() {
		return LiftingOutcome{}, &ValidationError{Field: "amountReceived", Message: "must not be negative"}
	}
	if !newAmountPerPeriod.IsPositive() {
		return LiftingOutcome{}, &ValidationError{Field: "newAmountPerPeriod", Message: "must be positive"}
	}

	lock := h.enrollmentLock(id)
	lock.Lock()
	defer lock.Unlock()

	var outcome LiftingOutcome
	err := h.Store.WithTx(ctx, func(store Store) error {
		enrollment, err := store.GetEnrollment(ctx, id)
		if err != nil {
			return err
		}

		entries, err := store.ListEntries(ctx, id, EntryFilter{})
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsLifting() {
				return fmt.Errorf("enrollment %s lifted on %s: %w", id, e.Date, ErrAlreadyLifted)
			}
		}

		versions, err := store.ListVersions(ctx, id)
		if err != nil {
			return err
		}
		schedule := NewSchedule(*enrollment, versions)

		if liftingDate.Before(enrollment.StartDate) {
			return &InvalidLiftingDateError{
				EnrollmentID: id,
				LiftingDate:  liftingDate,
				Boundary:     enrollment.StartDate,
				Reason:       "before enrollment start",
			}
		}
		if latest, ok := schedule.Latest(); ok && liftingDate.Before(latest.EffectiveFrom) {
			return &InvalidLiftingDateError{
				EnrollmentID: id,
				LiftingDate:  liftingDate,
				Boundary:     latest.EffectiveFrom,
				Reason:       "before latest schedule version",
			}
		}

		frequency := FrequencyDaily
		if latest, ok := schedule.Latest(); ok {
			frequency = latest.Frequency
		}

		version := ScheduleVersion{
			ID:              VersionID(uuid.NewString()),
			EnrollmentID:    id,
			EffectiveFrom:   liftingDate,
			AmountPerPeriod: newAmountPerPeriod,
			Frequency:       frequency,
			CreatedAt:       time.Now().UTC(),
		}
		if err := store.AppendVersion(ctx, version); err != nil {
			return err
		}

		entry, err := NewLedger(store).Append(ctx, LedgerEntry{
			EnrollmentID:  id,
			Date:          liftingDate,
			AmountPaid:    decimal.Zero,
			PaymentMethod: "AUCTION",
			Frequency:     frequency,
			Type:          EntryManual,
			Lifting:       LiftingYes,
			LiftingAmount: amountReceived,
		})
		if err != nil {
			return err
		}

		outcome = LiftingOutcome{Version: version, Entry: entry}
		return nil
	})
	if err != nil {
		return LiftingOutcome{}, err
	}
	return outcome, nil
}

func (h *LiftingHandler) enrollmentLock(id EnrollmentID) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lock, ok := h.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[id] = lock
	}
	return lock
}
