package passbook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitworks/passbook-engine/passbook"
	"github.com/chitworks/passbook-engine/passbook/store"
)

// =============================================================================
// LIFTING TRANSITION TESTS
// =============================================================================

func TestLifting_AppendsVersionAndEntry(t *testing.T) {
	// GIVEN: An enrollment with 10 days paid at 500
	// WHEN: Applying a lifting on Jan 11 (payout 45000, new rate 600)
	// THEN: A second schedule version and one lifting entry exist, and the
	//       entry's payout does not count toward AmountPaid

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	ledger := passbook.NewLedger(st)

	for day := 1; day <= 10; day++ {
		_, err := ledger.Append(ctx, manualEntry("e1", date(2024, time.January, day), "500"))
		require.NoError(t, err)
	}

	outcome, err := passbook.NewLiftingHandler(st).ApplyLifting(ctx, e.ID,
		date(2024, time.January, 11), dec("45000"), dec("600"))
	require.NoError(t, err)

	assert.True(t, outcome.Version.EffectiveFrom.Equal(date(2024, time.January, 11)))
	assert.True(t, outcome.Version.AmountPerPeriod.Equal(dec("600")))
	assert.Equal(t, passbook.FrequencyDaily, outcome.Version.Frequency, "frequency carried from the previous version")

	assert.True(t, outcome.Entry.IsLifting())
	assert.True(t, outcome.Entry.LiftingAmount.Equal(dec("45000")))
	assert.True(t, outcome.Entry.AmountPaid.IsZero(), "payout is not a contribution")

	versions, err := st.ListVersions(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestLifting_AlreadyLifted(t *testing.T) {
	// GIVEN: An enrollment that already lifted
	// WHEN: Applying a second lifting
	// THEN: The call fails with ErrAlreadyLifted and nothing new is persisted

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	handler := passbook.NewLiftingHandler(st)

	_, err := handler.ApplyLifting(ctx, e.ID, date(2024, time.January, 11), dec("45000"), dec("600"))
	require.NoError(t, err)

	_, err = handler.ApplyLifting(ctx, e.ID, date(2024, time.February, 1), dec("1000"), dec("700"))
	assert.ErrorIs(t, err, passbook.ErrAlreadyLifted)

	versions, err := st.ListVersions(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2, "failed lifting must not append a version")
}

func TestLifting_InvalidDate(t *testing.T) {
	// GIVEN: An enrollment starting Jan 10
	// WHEN: Applying liftings dated before the start, or before an existing
	//       later version
	// THEN: Each fails with ErrInvalidLiftingDate

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 10))
	handler := passbook.NewLiftingHandler(st)

	_, err := handler.ApplyLifting(ctx, e.ID, date(2024, time.January, 5), dec("1000"), dec("600"))
	assert.ErrorIs(t, err, passbook.ErrInvalidLiftingDate)

	var dateErr *passbook.InvalidLiftingDateError
	require.ErrorAs(t, err, &dateErr)
	assert.True(t, dateErr.Boundary.Equal(date(2024, time.January, 10)))
}

func TestLifting_InputValidation(t *testing.T) {
	// GIVEN: A seeded enrollment
	// WHEN: Applying liftings with a zero date, negative payout, or
	//       non-positive new rate
	// THEN: Each fails with a ValidationError

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	handler := passbook.NewLiftingHandler(st)

	_, err := handler.ApplyLifting(ctx, e.ID, passbook.Date{}, dec("1000"), dec("600"))
	assert.ErrorIs(t, err, passbook.ErrValidation)

	_, err = handler.ApplyLifting(ctx, e.ID, date(2024, time.February, 1), dec("-1"), dec("600"))
	assert.ErrorIs(t, err, passbook.ErrValidation)

	_, err = handler.ApplyLifting(ctx, e.ID, date(2024, time.February, 1), dec("1000"), dec("0"))
	assert.ErrorIs(t, err, passbook.ErrValidation)
}

// =============================================================================
// ATOMICITY TESTS
// =============================================================================

// failingEntryStore makes every AppendEntry inside a transaction fail, to
// prove the version write rolls back with it.
type failingEntryStore struct {
	*store.TxMemory
}

func (f *failingEntryStore) WithTx(ctx context.Context, fn func(passbook.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s passbook.Store) error {
		return fn(&failingEntryView{Store: s})
	})
}

type failingEntryView struct {
	passbook.Store
}

func (v *failingEntryView) AppendEntry(context.Context, passbook.LedgerEntry) error {
	return errors.New("append failed")
}

func TestLifting_RollsBackVersionWhenEntryFails(t *testing.T) {
	// GIVEN: A store whose entry append fails mid-transaction
	// WHEN: Applying a lifting
	// THEN: The already-written schedule version is rolled back; the
	//       enrollment still has only its initial version

	mem := store.NewTxMemory()
	st := &failingEntryStore{TxMemory: mem}
	ctx := context.Background()
	e := seedEnrollment(t, mem, "e1", "100000", "500", date(2024, time.January, 1))

	_, err := passbook.NewLiftingHandler(st).ApplyLifting(ctx, e.ID,
		date(2024, time.January, 11), dec("45000"), dec("600"))
	require.Error(t, err)

	versions, err := mem.ListVersions(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1, "version append must roll back with the entry")

	entries, err := mem.ListEntries(ctx, e.ID, passbook.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestLifting_ConcurrentCalls_ExactlyOneWins(t *testing.T) {
	// GIVEN: Many goroutines racing to lift the same enrollment
	// WHEN: They all apply a lifting concurrently
	// THEN: Exactly one succeeds; the rest fail with ErrAlreadyLifted and
	//       exactly one extra version exists afterwards

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	handler := passbook.NewLiftingHandler(st)

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := handler.ApplyLifting(ctx, e.ID,
				date(2024, time.January, 11), dec("45000"), dec("600"))
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, passbook.ErrAlreadyLifted)
		}
	}
	assert.Equal(t, 1, succeeded)

	versions, err := st.ListVersions(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}
