/*
schedule.go - Effective-dated contribution schedule math

PURPOSE:
  Represents an enrollment's contractual contribution terms and any rate
  change triggered by a lifting event. The schedule is a totally ordered
  sequence of ScheduleVersions; exactly one version is active on any date
  on or after the enrollment start.

PERIOD COUNTING POLICY:
  PeriodsElapsed counts periods in the INCLUSIVE window [from, to]:
    DAILY:   one period per calendar day, so the start day itself counts.
    MONTHLY: one period at the start date plus one for each whole calendar
             month boundary reached. Partial months do not count until the
             boundary day is reached.
  The same function backs both the reconciliation calculator and its tests,
  so the policy cannot drift between consumers.

SEE ALSO:
  - reconcile.go: walks version windows using this package's math
  - lifting.go: appends new versions on lifting events
*/
package passbook

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEDULE - An enrollment's ordered version sequence
// =============================================================================

// Schedule pairs an enrollment with its ordered schedule versions.
type Schedule struct {
	Enrollment Enrollment
	Versions   []ScheduleVersion // ordered by EffectiveFrom ascending
}

// NewSchedule sorts the versions and returns a Schedule. Stores return
// versions ordered already; sorting here keeps the invariant even for
// hand-built test fixtures.
func NewSchedule(enrollment Enrollment, versions []ScheduleVersion) Schedule {
	sorted := make([]ScheduleVersion, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFrom.Before(sorted[j].EffectiveFrom)
	})
	return Schedule{Enrollment: enrollment, Versions: sorted}
}

// InitialVersion derives the first schedule version of an enrollment from
// its scheme: effective from the start date at the scheme's base rate.
func InitialVersion(enrollment Enrollment, scheme Scheme) ScheduleVersion {
	return ScheduleVersion{
		ID:              VersionID(uuid.NewString()),
		EnrollmentID:    enrollment.ID,
		EffectiveFrom:   enrollment.StartDate,
		AmountPerPeriod: scheme.ContributionAmount,
		Frequency:       scheme.ContributionFrequency,
		CreatedAt:       time.Now().UTC(),
	}
}

// ActiveVersion returns the version whose EffectiveFrom is the greatest
// value <= date. Fails with ErrNoActiveSchedule if the date precedes the
// enrollment start (equivalently, the first version).
func (s Schedule) ActiveVersion(date Date) (ScheduleVersion, error) {
	var active *ScheduleVersion
	for i := range s.Versions {
		if s.Versions[i].EffectiveFrom.BeforeOrEqual(date) {
			active = &s.Versions[i]
		}
	}
	if active == nil {
		return ScheduleVersion{}, ErrNoActiveSchedule
	}
	return *active, nil
}

// Latest returns the version with the greatest EffectiveFrom, or false when
// the schedule is empty.
func (s Schedule) Latest() (ScheduleVersion, bool) {
	if len(s.Versions) == 0 {
		return ScheduleVersion{}, false
	}
	return s.Versions[len(s.Versions)-1], true
}

// =============================================================================
// PERIOD COUNTING
// =============================================================================

// PeriodsElapsed counts contribution periods in the inclusive window
// [from, to]. Returns 0 when 'to' precedes 'from'.
func PeriodsElapsed(freq Frequency, from, to Date) int {
	if to.Before(from) {
		return 0
	}
	switch freq {
	case FrequencyMonthly:
		return WholeMonthsBetween(from, to) + 1
	default: // FrequencyDaily
		return DaysBetween(from, to) + 1
	}
}

// =============================================================================
// EXPECTED-TO-DATE - The schedule side of reconciliation
// =============================================================================

// ExpectedToDate accumulates periodsElapsed * amountPerPeriod over each
// version's active window [EffectiveFrom, nextEffectiveFrom) clipped to
// asOf. Zero when asOf precedes the enrollment start.
func (s Schedule) ExpectedToDate(asOf Date) decimal.Decimal {
	expected := decimal.Zero
	for i, v := range s.Versions {
		if v.EffectiveFrom.After(asOf) {
			break
		}
		windowEnd := asOf
		if i+1 < len(s.Versions) {
			next := s.Versions[i+1].EffectiveFrom.AddDays(-1)
			if next.Before(windowEnd) {
				windowEnd = next
			}
		}
		periods := PeriodsElapsed(v.Frequency, v.EffectiveFrom, windowEnd)
		expected = expected.Add(v.AmountPerPeriod.Mul(decimal.NewFromInt(int64(periods))))
	}
	return expected
}
