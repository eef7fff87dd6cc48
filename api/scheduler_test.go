package api_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitworks/passbook-engine/api"
	"github.com/chitworks/passbook-engine/passbook"
	"github.com/chitworks/passbook-engine/passbook/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestScheduler(t *testing.T) (*api.DueEntryScheduler, *store.TxMemory) {
	t.Helper()

	st := store.NewTxMemory()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return api.NewDueEntryScheduler(st, log, ""), st
}

// seedDaily creates the member/scheme/enrollment/version chain for a DAILY
// enrollment at the given rate.
func seedDaily(t *testing.T, st passbook.Store, id string, rate string, start passbook.Date) passbook.Enrollment {
	t.Helper()
	ctx := context.Background()

	member := passbook.Member{ID: passbook.MemberID("member-" + id), Name: "Member " + id}
	require.NoError(t, st.SaveMember(ctx, member))

	scheme := passbook.Scheme{
		ID:                    passbook.SchemeID("scheme-" + id),
		Name:                  "Scheme " + id,
		ChitValue:             decimal.NewFromInt(100000),
		Duration:              200,
		DurationType:          passbook.DurationDays,
		ContributionAmount:    decimal.RequireFromString(rate),
		ContributionFrequency: passbook.FrequencyDaily,
	}
	require.NoError(t, st.SaveScheme(ctx, scheme))

	enrollment := passbook.Enrollment{
		ID:        passbook.EnrollmentID(id),
		MemberID:  member.ID,
		SchemeID:  scheme.ID,
		StartDate: start,
		Status:    passbook.StatusActive,
	}
	require.NoError(t, st.SaveEnrollment(ctx, enrollment))
	require.NoError(t, st.AppendVersion(ctx, passbook.InitialVersion(enrollment, scheme)))
	return enrollment
}

// =============================================================================
// DUE-ENTRY GENERATION TESTS
// =============================================================================

func TestDueEntryScheduler_GeneratesDailyEntries(t *testing.T) {
	// GIVEN: Two ACTIVE daily enrollments
	// WHEN: Running the due-entry job for Jan 10
	// THEN: Each gets one GENERATED entry at its active rate

	sched, st := newTestScheduler(t)
	ctx := context.Background()
	jan10 := passbook.NewDate(2024, time.January, 10)

	seedDaily(t, st, "e1", "500", passbook.NewDate(2024, time.January, 1))
	seedDaily(t, st, "e2", "750", passbook.NewDate(2024, time.January, 1))

	sched.RunOnce(ctx, jan10)

	for id, rate := range map[string]string{"e1": "500", "e2": "750"} {
		entries, err := st.ListEntries(ctx, passbook.EnrollmentID(id), passbook.EntryFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1, "enrollment %s", id)
		assert.Equal(t, passbook.EntryGenerated, entries[0].Type)
		assert.True(t, entries[0].Date.Equal(jan10))
		assert.True(t, entries[0].AmountPaid.Equal(decimal.RequireFromString(rate)))
	}
}

func TestDueEntryScheduler_Idempotent(t *testing.T) {
	// GIVEN: A run that already generated Jan 10's entry
	// WHEN: Running again for the same date
	// THEN: No duplicate entry appears

	sched, st := newTestScheduler(t)
	ctx := context.Background()
	jan10 := passbook.NewDate(2024, time.January, 10)

	seedDaily(t, st, "e1", "500", passbook.NewDate(2024, time.January, 1))

	sched.RunOnce(ctx, jan10)
	sched.RunOnce(ctx, jan10)

	entries, err := st.ListEntries(ctx, "e1", passbook.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDueEntryScheduler_SkipsOutOfScheduleEnrollments(t *testing.T) {
	// GIVEN: Enrollments starting after the run date or ended before it
	// WHEN: Running the due-entry job
	// THEN: Neither gets an entry

	sched, st := newTestScheduler(t)
	ctx := context.Background()
	jan10 := passbook.NewDate(2024, time.January, 10)

	// Starts in February.
	seedDaily(t, st, "future", "500", passbook.NewDate(2024, time.February, 1))

	// Ended on Jan 5.
	ended := seedDaily(t, st, "ended", "500", passbook.NewDate(2024, time.January, 1))
	last := passbook.NewDate(2024, time.January, 5)
	ended.LastDate = &last
	require.NoError(t, st.SaveEnrollment(ctx, ended))

	sched.RunOnce(ctx, jan10)

	for _, id := range []string{"future", "ended"} {
		entries, err := st.ListEntries(ctx, passbook.EnrollmentID(id), passbook.EntryFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries, "enrollment %s", id)
	}
}

func TestDueEntryScheduler_SkipsExistingEntryForDate(t *testing.T) {
	// GIVEN: A manual payment already recorded for Jan 10
	// WHEN: Running the due-entry job for Jan 10
	// THEN: No GENERATED entry is added on top of it

	sched, st := newTestScheduler(t)
	ctx := context.Background()
	jan10 := passbook.NewDate(2024, time.January, 10)

	e := seedDaily(t, st, "e1", "500", passbook.NewDate(2024, time.January, 1))
	_, err := passbook.NewLedger(st).Append(ctx, passbook.LedgerEntry{
		EnrollmentID:  e.ID,
		Date:          jan10,
		AmountPaid:    decimal.NewFromInt(500),
		PaymentMethod: "CASH",
		Frequency:     passbook.FrequencyDaily,
		Type:          passbook.EntryManual,
	})
	require.NoError(t, err)

	sched.RunOnce(ctx, jan10)

	entries, err := st.ListEntries(ctx, e.ID, passbook.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, passbook.EntryManual, entries[0].Type)
}
