package passbook_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitworks/passbook-engine/passbook"
	"github.com/chitworks/passbook-engine/passbook/store"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newReporter(st passbook.Store, commissionPercent string) *passbook.Reporter {
	return passbook.NewReporter(st, passbook.NewCalculator(st), quietLogger(), dec(commissionPercent))
}

// =============================================================================
// DASHBOARD AGGREGATION TESTS
// =============================================================================

func TestReporter_DashboardStats_Totals(t *testing.T) {
	// GIVEN: Two DAILY 500 enrollments from Jan 1; e1 fully paid through
	//        Jan 10, e2 never paid
	// WHEN: Building dashboard stats as of Jan 10
	// THEN: expectedDaily=1000, actualDaily=500, rate=0.5, e1 counted paid,
	//       e2 pending with a 5000 backlog, commission profits at 5%

	st := store.NewTxMemory()
	ctx := context.Background()
	seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	seedEnrollment(t, st, "e2", "100000", "500", date(2024, time.January, 1))
	ledger := passbook.NewLedger(st)

	for day := 1; day <= 10; day++ {
		_, err := ledger.Append(ctx, manualEntry("e1", date(2024, time.January, day), "500"))
		require.NoError(t, err)
	}

	stats, err := newReporter(st, "5").DashboardStats(ctx, date(2024, time.January, 10))
	require.NoError(t, err)

	assert.True(t, stats.Totals.ExpectedDaily.Equal(dec("1000")))
	assert.True(t, stats.Totals.ActualDaily.Equal(dec("500")))
	assert.True(t, stats.Totals.CollectionRate.Equal(dec("0.5")))

	// 5% of the day's and the month's collections.
	assert.True(t, stats.Totals.DailyProfits.Equal(dec("25")))
	assert.True(t, stats.Totals.MonthlyProfits.Equal(dec("250")))

	assert.Equal(t, 2, stats.Summary.ActiveCount)
	assert.Equal(t, 1, stats.Summary.PaidTodayCount)
	assert.Equal(t, 1, stats.Summary.PendingTodayCount)
	assert.Equal(t, 1, stats.Summary.BacklogCount)
	assert.True(t, stats.Summary.TotalBacklogAmount.Equal(dec("5000")))
	assert.Zero(t, stats.Skipped)
}

func TestReporter_DashboardStats_NoEnrollments(t *testing.T) {
	// GIVEN: No active enrollments
	// WHEN: Building dashboard stats
	// THEN: The collection rate defaults to 1.0 instead of dividing by zero

	st := store.NewTxMemory()

	stats, err := newReporter(st, "5").DashboardStats(context.Background(), date(2024, time.January, 10))
	require.NoError(t, err)

	assert.Zero(t, stats.Summary.ActiveCount)
	assert.True(t, stats.Totals.CollectionRate.Equal(dec("1")))
	assert.True(t, stats.Totals.DailyProfits.IsZero())
}

// =============================================================================
// PARTIAL FAILURE TESTS
// =============================================================================

// flakyVersionStore fails schedule reads for one enrollment to simulate a
// corrupt record.
type flakyVersionStore struct {
	passbook.Store
	failFor passbook.EnrollmentID
}

func (s *flakyVersionStore) ListVersions(ctx context.Context, id passbook.EnrollmentID) ([]passbook.ScheduleVersion, error) {
	if id == s.failFor {
		return nil, errors.New("corrupt schedule record")
	}
	return s.Store.ListVersions(ctx, id)
}

func TestReporter_DashboardStats_PartialFailureSkips(t *testing.T) {
	// GIVEN: Two enrollments, one of which fails to reconcile
	// WHEN: Building dashboard stats
	// THEN: The report still succeeds; the bad enrollment is counted in
	//       Skipped and excluded from every aggregate

	mem := store.NewTxMemory()
	ctx := context.Background()
	seedEnrollment(t, mem, "e1", "100000", "500", date(2024, time.January, 1))
	seedEnrollment(t, mem, "e2", "100000", "500", date(2024, time.January, 1))
	ledger := passbook.NewLedger(mem)
	_, err := ledger.Append(ctx, manualEntry("e1", date(2024, time.January, 10), "500"))
	require.NoError(t, err)

	flaky := &flakyVersionStore{Store: mem, failFor: "e2"}
	stats, err := newReporter(flaky, "5").DashboardStats(ctx, date(2024, time.January, 10))
	require.NoError(t, err, "one corrupt enrollment must not abort the report")

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Summary.ActiveCount)
	assert.True(t, stats.Totals.ExpectedDaily.Equal(dec("500")))
}

// =============================================================================
// DEFAULTED TRANSITION TESTS
// =============================================================================

func TestReporter_MarksDefaultedOnDeepBacklog(t *testing.T) {
	// GIVEN: A DAILY 500 enrollment ten days behind and a three-period
	//        default threshold (1500)
	// WHEN: Building dashboard stats
	// THEN: The enrollment is marked DEFAULTED

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))

	reporter := newReporter(st, "5")
	reporter.DefaultAfterPeriods = 3

	_, err := reporter.DashboardStats(ctx, date(2024, time.January, 10))
	require.NoError(t, err)

	enrollment, err := st.GetEnrollment(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, passbook.StatusDefaulted, enrollment.Status)
}

func TestReporter_DefaultTransitionDisabled(t *testing.T) {
	// GIVEN: The same deep backlog but DefaultAfterPeriods = 0
	// WHEN: Building dashboard stats
	// THEN: The enrollment stays ACTIVE

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))

	reporter := newReporter(st, "5")
	reporter.DefaultAfterPeriods = 0

	_, err := reporter.DashboardStats(ctx, date(2024, time.January, 10))
	require.NoError(t, err)

	enrollment, err := st.GetEnrollment(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, passbook.StatusActive, enrollment.Status)
}

func TestReporter_BelowThresholdStaysActive(t *testing.T) {
	// GIVEN: A backlog of 1000 against a 30-period threshold (15000)
	// WHEN: Building dashboard stats
	// THEN: The enrollment stays ACTIVE

	st := store.NewTxMemory()
	ctx := context.Background()
	e := seedEnrollment(t, st, "e1", "100000", "500", date(2024, time.January, 1))
	ledger := passbook.NewLedger(st)
	for day := 1; day <= 8; day++ {
		_, err := ledger.Append(ctx, manualEntry("e1", date(2024, time.January, day), "500"))
		require.NoError(t, err)
	}

	reporter := newReporter(st, "5")
	reporter.DefaultAfterPeriods = 30

	_, err := reporter.DashboardStats(ctx, date(2024, time.January, 10))
	require.NoError(t, err)

	enrollment, err := st.GetEnrollment(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, passbook.StatusActive, enrollment.Status)
}
