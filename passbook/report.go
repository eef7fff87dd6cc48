/*
report.go - Portfolio-wide dashboard aggregation

PURPOSE:
  Rolls up per-enrollment reconciliation results into the figures the
  operational dashboard renders: daily expected/actual collections, the
  portfolio collection rate, backlog counts, and commission-based profit
  estimates.

FAILURE POLICY:
  A single enrollment whose reconciliation fails is logged and excluded
  from the aggregates rather than aborting the whole report. Dashboards
  must render even with one corrupt record.

CONCURRENCY:
  Enrollments are reconciled by a bounded worker pool; each reconciliation
  only reads its own enrollment's data. A timed-out reconciliation counts
  as a partial failure, not a fatal error for the report.

SEE ALSO:
  - reconcile.go: the per-enrollment standing this folds
*/
package passbook

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// DASHBOARD STATS
// =============================================================================

// DashboardTotals are the collection figures for the reference date itself:
// the period exactly containing asOf, not cumulative-to-date.
type DashboardTotals struct {
	ExpectedDaily  decimal.Decimal
	ActualDaily    decimal.Decimal
	CollectionRate decimal.Decimal

	// Profits are a configured commission percentage of collections in the
	// respective window. The percentage is injected configuration; the
	// engine never computes it.
	DailyProfits   decimal.Decimal
	MonthlyProfits decimal.Decimal
}

// DashboardSummary counts enrollments by standing.
type DashboardSummary struct {
	ActiveCount        int
	PaidTodayCount     int
	PendingTodayCount  int
	BacklogCount       int
	TotalBacklogAmount decimal.Decimal
}

type DashboardStats struct {
	AsOf    Date
	Totals  DashboardTotals
	Summary DashboardSummary

	// Skipped counts enrollments excluded under the partial-failure policy.
	Skipped int
}

// =============================================================================
// REPORTER
// =============================================================================

const defaultReportWorkers = 8

// Reporter folds per-enrollment reconciliations into dashboard statistics.
// Stateless between calls: every report reads a fresh snapshot.
type Reporter struct {
	Store Store
	Calc  *Calculator
	Log   *logrus.Logger

	// CommissionPercent is the configured commission taken on collections,
	// e.g. 5 for 5%.
	CommissionPercent decimal.Decimal

	// DefaultAfterPeriods marks an enrollment DEFAULTED once its backlog
	// reaches this many periods at the active rate. 0 disables the
	// transition.
	DefaultAfterPeriods int

	// Workers bounds the reconciliation pool. Zero means the default.
	Workers int
}

func NewReporter(store Store, calc *Calculator, log *logrus.Logger, commissionPercent decimal.Decimal) *Reporter {
	return &Reporter{
		Store:             store,
		Calc:              calc,
		Log:               log,
		CommissionPercent: commissionPercent,
	}
}

// DashboardStats reconciles every ACTIVE enrollment as of the given date and
// folds the results. Only repository failures listing enrollments abort the
// report; per-enrollment failures are logged and skipped.
func (r *Reporter) DashboardStats(ctx context.Context, asOf Date) (DashboardStats, error) {
	enrollments, err := r.Store.ListActiveEnrollments(ctx)
	if err != nil {
		return DashboardStats{}, err
	}

	workers := r.Workers
	if workers <= 0 {
		workers = defaultReportWorkers
	}

	var (
		mu        sync.Mutex
		standings []EnrollmentStanding
		skipped   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, enrollment := range enrollments {
		enrollment := enrollment
		g.Go(func() error {
			standing, err := r.Calc.Standing(gctx, enrollment.ID, asOf)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped++
				r.logSkip(enrollment.ID, err)
				return nil // partial-failure tolerance: never abort the report
			}
			standings = append(standings, standing)
			return nil
		})
	}
	_ = g.Wait()

	stats := DashboardStats{AsOf: asOf, Skipped: skipped}
	stats.Summary.ActiveCount = len(standings)

	pct := r.CommissionPercent.Div(decimal.NewFromInt(100))
	monthCollections := decimal.Zero

	for _, s := range standings {
		// Daily totals cover DAILY-frequency enrollments only, using the
		// period exactly containing asOf.
		if s.ActiveVersion != nil && s.ActiveVersion.Frequency == FrequencyDaily {
			stats.Totals.ExpectedDaily = stats.Totals.ExpectedDaily.Add(s.ActiveVersion.AmountPerPeriod)
			stats.Totals.ActualDaily = stats.Totals.ActualDaily.Add(s.PaidOnDate)
			if s.PaidOnDate.IsPositive() {
				stats.Summary.PaidTodayCount++
			} else {
				stats.Summary.PendingTodayCount++
			}
		}

		if s.Result.Backlog.IsPositive() {
			stats.Summary.BacklogCount++
			stats.Summary.TotalBacklogAmount = stats.Summary.TotalBacklogAmount.Add(s.Result.Backlog)
		}

		monthCollections = monthCollections.Add(s.PaidInMonth)

		r.maybeMarkDefaulted(ctx, s)
	}

	stats.Totals.CollectionRate = decimal.NewFromInt(1)
	if stats.Totals.ExpectedDaily.IsPositive() {
		stats.Totals.CollectionRate = stats.Totals.ActualDaily.Div(stats.Totals.ExpectedDaily)
	}
	stats.Totals.DailyProfits = stats.Totals.ActualDaily.Mul(pct)
	stats.Totals.MonthlyProfits = monthCollections.Mul(pct)

	return stats, nil
}

// maybeMarkDefaulted applies the reconciliation-triggered status transition:
// an enrollment whose backlog reaches DefaultAfterPeriods periods at the
// active rate is marked DEFAULTED. Best effort; a failed write only logs.
func (r *Reporter) maybeMarkDefaulted(ctx context.Context, s EnrollmentStanding) {
	if r.DefaultAfterPeriods <= 0 || s.ActiveVersion == nil {
		return
	}
	threshold := s.ActiveVersion.AmountPerPeriod.Mul(decimal.NewFromInt(int64(r.DefaultAfterPeriods)))
	if !threshold.IsPositive() || s.Result.Backlog.LessThan(threshold) {
		return
	}
	if err := r.Store.UpdateEnrollmentStatus(ctx, s.Enrollment.ID, StatusDefaulted); err != nil {
		r.logSkip(s.Enrollment.ID, err)
		return
	}
	if r.Log != nil {
		r.Log.WithFields(logrus.Fields{
			"enrollment_id": s.Enrollment.ID,
			"backlog":       s.Result.Backlog.String(),
		}).Warn("enrollment marked defaulted")
	}
}

func (r *Reporter) logSkip(id EnrollmentID, err error) {
	if r.Log == nil {
		return
	}
	r.Log.WithFields(logrus.Fields{
		"enrollment_id": id,
		"error":         err.Error(),
	}).Warn("enrollment excluded from dashboard aggregates")
}
