package passbook_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitworks/passbook-engine/passbook"
	"github.com/chitworks/passbook-engine/passbook/store"
)

// =============================================================================
// RECONCILIATION SCENARIOS
// =============================================================================

func TestCalculator_PerfectPayer(t *testing.T) {
	// GIVEN: A DAILY 500 enrollment from Jan 1 with 500 paid every day
	// WHEN: Reconciling as of Jan 10
	// THEN: expected=5000, actual=5000, backlog=0, rate=1.0

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	ledger := passbook.NewLedger(st)

	for day := 1; day <= 10; day++ {
		_, err := ledger.Append(ctx, manualEntry("e1", date(2024, time.January, day), "500"))
		require.NoError(t, err)
	}

	result, err := passbook.NewCalculator(st).Reconcile(ctx, e.ID, date(2024, time.January, 10))
	require.NoError(t, err)

	assert.True(t, result.ExpectedToDate.Equal(dec("5000")))
	assert.True(t, result.ActualToDate.Equal(dec("5000")))
	assert.True(t, result.Backlog.IsZero())
	assert.True(t, result.CollectionRate.Equal(dec("1")))
}

func TestCalculator_Backlog(t *testing.T) {
	// GIVEN: A DAILY 500 enrollment from Jan 1 with only 8 of 10 days paid
	// WHEN: Reconciling as of Jan 10
	// THEN: expected=5000, actual=4000, backlog=1000, rate=0.8

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	ledger := passbook.NewLedger(st)

	for day := 1; day <= 8; day++ {
		_, err := ledger.Append(ctx, manualEntry("e1", date(2024, time.January, day), "500"))
		require.NoError(t, err)
	}

	result, err := passbook.NewCalculator(st).Reconcile(ctx, e.ID, date(2024, time.January, 10))
	require.NoError(t, err)

	assert.True(t, result.ExpectedToDate.Equal(dec("5000")))
	assert.True(t, result.ActualToDate.Equal(dec("4000")))
	assert.True(t, result.Backlog.Equal(dec("1000")))
	assert.True(t, result.CollectionRate.Equal(dec("0.8")))
}

func TestCalculator_Overpayment_BacklogClipsAtZero(t *testing.T) {
	// GIVEN: A member who paid ahead of schedule
	// WHEN: Reconciling mid-schedule
	// THEN: Backlog is zero, never negative; rate exceeds 1.0

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	ledger := passbook.NewLedger(st)

	_, err := ledger.Append(ctx, manualEntry("e1", date(2024, time.January, 1), "3000"))
	require.NoError(t, err)

	result, err := passbook.NewCalculator(st).Reconcile(ctx, e.ID, date(2024, time.January, 2))
	require.NoError(t, err)

	assert.True(t, result.ExpectedToDate.Equal(dec("1000")))
	assert.True(t, result.Backlog.IsZero())
	assert.True(t, result.CollectionRate.Equal(dec("3")))
}

func TestCalculator_BeforeStart_RateIsOne(t *testing.T) {
	// GIVEN: An enrollment starting Jan 1 with no entries
	// WHEN: Reconciling as of Dec 25 the previous year
	// THEN: expected=0 and the rate is defined as 1.0, not a division error

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))

	result, err := passbook.NewCalculator(st).Reconcile(ctx, e.ID, date(2023, time.December, 25))
	require.NoError(t, err)

	assert.True(t, result.ExpectedToDate.IsZero())
	assert.True(t, result.ActualToDate.IsZero())
	assert.True(t, result.Backlog.IsZero())
	assert.True(t, result.CollectionRate.Equal(dec("1")))
}

func TestCalculator_AsOfExcludesLaterEntries(t *testing.T) {
	// GIVEN: Entries on Jan 1-10
	// WHEN: Reconciling as of Jan 5
	// THEN: Only entries dated on or before Jan 5 count toward actual

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	ledger := passbook.NewLedger(st)

	for day := 1; day <= 10; day++ {
		_, err := ledger.Append(ctx, manualEntry("e1", date(2024, time.January, day), "500"))
		require.NoError(t, err)
	}

	result, err := passbook.NewCalculator(st).Reconcile(ctx, e.ID, date(2024, time.January, 5))
	require.NoError(t, err)

	assert.True(t, result.ActualToDate.Equal(dec("2500")))
	assert.True(t, result.ExpectedToDate.Equal(dec("2500")))
}

func TestCalculator_HistoryStableAcrossLifting(t *testing.T) {
	// GIVEN: A reconciliation result computed before a lifting
	// WHEN: The lifting appends a new schedule version and entry
	// THEN: Reconciling again for any date before the lifting date gives the
	//       identical result

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	ledger := passbook.NewLedger(st)
	calc := passbook.NewCalculator(st)

	for day := 1; day <= 10; day++ {
		_, err := ledger.Append(ctx, manualEntry("e1", date(2024, time.January, day), "500"))
		require.NoError(t, err)
	}

	before, err := calc.Reconcile(ctx, e.ID, date(2024, time.January, 10))
	require.NoError(t, err)

	_, err = passbook.NewLiftingHandler(st).ApplyLifting(ctx, e.ID,
		date(2024, time.January, 11), dec("45000"), dec("600"))
	require.NoError(t, err)

	after, err := calc.Reconcile(ctx, e.ID, date(2024, time.January, 10))
	require.NoError(t, err)

	assert.True(t, after.ExpectedToDate.Equal(before.ExpectedToDate))
	assert.True(t, after.ActualToDate.Equal(before.ActualToDate))
	assert.True(t, after.Backlog.Equal(before.Backlog))
	assert.True(t, after.CollectionRate.Equal(before.CollectionRate))

	// From the lifting date onward the new rate applies.
	onLifting, err := calc.Reconcile(ctx, e.ID, date(2024, time.January, 11))
	require.NoError(t, err)
	assert.True(t, onLifting.ExpectedToDate.Equal(dec("5600")),
		"10 days at 500 plus the lifting day at 600, got %s", onLifting.ExpectedToDate)
}

func TestCalculator_UnknownEnrollment(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Reconciling a nonexistent enrollment
	// THEN: The calculation fails with a not-found error

	st := store.NewTxMemory()

	_, err := passbook.NewCalculator(st).Reconcile(context.Background(), "ghost", date(2024, time.January, 1))
	assert.ErrorIs(t, err, passbook.ErrEnrollmentNotFound)
}

// =============================================================================
// STANDING TESTS (window figures for the dashboard)
// =============================================================================

func TestCalculator_Standing_WindowFigures(t *testing.T) {
	// GIVEN: Entries in December and January, one dated exactly asOf
	// WHEN: Computing the standing as of Jan 10
	// THEN: PaidOnDate covers only asOf, PaidInMonth only asOf's month

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2023, time.December, 1))
	ledger := passbook.NewLedger(st)

	_, err := ledger.Append(ctx, manualEntry("e1", date(2023, time.December, 20), "500"))
	require.NoError(t, err)
	_, err = ledger.Append(ctx, manualEntry("e1", date(2024, time.January, 5), "500"))
	require.NoError(t, err)
	_, err = ledger.Append(ctx, manualEntry("e1", date(2024, time.January, 10), "700"))
	require.NoError(t, err)
	// Dated after asOf: excluded from every figure.
	_, err = ledger.Append(ctx, manualEntry("e1", date(2024, time.January, 15), "500"))
	require.NoError(t, err)

	standing, err := passbook.NewCalculator(st).Standing(ctx, e.ID, date(2024, time.January, 10))
	require.NoError(t, err)

	assert.True(t, standing.PaidOnDate.Equal(dec("700")))
	assert.True(t, standing.PaidInMonth.Equal(dec("1200")))
	assert.True(t, standing.Result.ActualToDate.Equal(dec("1700")))
	require.NotNil(t, standing.ActiveVersion)
	assert.True(t, standing.ActiveVersion.AmountPerPeriod.Equal(dec("500")))
}
