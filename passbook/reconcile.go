/*
reconcile.go - Expected/actual/backlog calculation

PURPOSE:
  Computes, for one enrollment as of any reference date, how much was
  contractually expected versus actually paid, the backlog, and the
  collection rate. Every consumer (passbook detail view, dashboard
  aggregate, exports) calls this one calculator instead of duplicating
  the formula.

CALCULATION:
  1. Fetch the ordered schedule versions and all entries up to asOf.
  2. Walk the versions chronologically; for each active window clipped to
     asOf, accumulate periodsElapsed * amountPerPeriod into expected.
  3. Sum AmountPaid over entries dated <= asOf into actual.
  4. backlog = max(0, expected - actual); rate = actual/expected, defined
     as 1.0 when expected is 0 so just-started enrollments never divide
     by zero.

"AS OF" QUERIES:
  Entries dated after asOf are excluded, so the calculator supports
  historical reporting, not only "now". Because schedule history is
  appended (never rewritten) by liftings, results for dates before a
  lifting stay reproducible after it.

SEE ALSO:
  - schedule.go: window and period math
  - report.go: folds per-enrollment results into dashboard totals
*/
package passbook

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator reconciles one enrollment's schedule against its ledger. It is
// request-scoped and stateless: every call reads a fresh snapshot and caches
// nothing across requests.
type Calculator struct {
	Store Store
}

func NewCalculator(store Store) *Calculator {
	return &Calculator{Store: store}
}

// Reconcile computes the enrollment's standing as of the given date.
func (c *Calculator) Reconcile(ctx context.Context, id EnrollmentID, asOf Date) (ReconciliationResult, error) {
	standing, err := c.Standing(ctx, id, asOf)
	if err != nil {
		return ReconciliationResult{}, err
	}
	return standing.Result, nil
}

// =============================================================================
// STANDING - Reconciliation plus the window figures the dashboard needs
// =============================================================================

// Standing extends a ReconciliationResult with the figures the aggregate
// reporter folds: the active rate and collections for the period exactly
// containing asOf, and collections within asOf's calendar month. Everything
// is derived from a single snapshot read.
type EnrollmentStanding struct {
	Enrollment Enrollment
	Result     ReconciliationResult

	// ActiveVersion is nil when asOf precedes the enrollment start.
	ActiveVersion *ScheduleVersion

	// PaidOnDate is the sum of entries dated exactly asOf.
	PaidOnDate decimal.Decimal

	// PaidInMonth is the sum of entries within asOf's calendar month,
	// clipped to asOf.
	PaidInMonth decimal.Decimal
}

func (c *Calculator) Standing(ctx context.Context, id EnrollmentID, asOf Date) (EnrollmentStanding, error) {
	enrollment, err := c.Store.GetEnrollment(ctx, id)
	if err != nil {
		return EnrollmentStanding{}, err
	}
	versions, err := c.Store.ListVersions(ctx, id)
	if err != nil {
		return EnrollmentStanding{}, err
	}
	entries, err := c.Store.ListEntries(ctx, id, EntryFilter{DateTo: &asOf})
	if err != nil {
		return EnrollmentStanding{}, err
	}

	schedule := NewSchedule(*enrollment, versions)
	expected := schedule.ExpectedToDate(asOf)

	actual := decimal.Zero
	paidOnDate := decimal.Zero
	paidInMonth := decimal.Zero
	for _, e := range entries {
		actual = actual.Add(e.AmountPaid)
		if e.Date.Equal(asOf) {
			paidOnDate = paidOnDate.Add(e.AmountPaid)
		}
		if e.Date.SameMonth(asOf) {
			paidInMonth = paidInMonth.Add(e.AmountPaid)
		}
	}

	backlog := expected.Sub(actual)
	if backlog.IsNegative() {
		backlog = decimal.Zero
	}

	rate := decimal.NewFromInt(1)
	if expected.IsPositive() {
		rate = actual.Div(expected)
	}

	standing := EnrollmentStanding{
		Enrollment: *enrollment,
		Result: ReconciliationResult{
			EnrollmentID:   id,
			AsOf:           asOf,
			ExpectedToDate: expected,
			ActualToDate:   actual,
			Backlog:        backlog,
			CollectionRate: rate,
		},
		PaidOnDate:  paidOnDate,
		PaidInMonth: paidInMonth,
	}

	if active, err := schedule.ActiveVersion(asOf); err == nil {
		standing.ActiveVersion = &active
	}
	return standing, nil
}
