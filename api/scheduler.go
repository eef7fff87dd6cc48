/*
scheduler.go - Scheduled due-entry generation

PURPOSE:
  Generates the day's GENERATED ledger entries: for every ACTIVE enrollment
  whose active schedule frequency is DAILY, records the scheduled contribution
  at the active rate for the run date.

DESIGN:
  - Driven by robfig/cron with a configurable spec (default: 01:00 daily)
  - Idempotent: an enrollment that already has an entry dated the run date
    is skipped, so re-running a day is safe
  - Per-enrollment failures are logged and skipped; one bad enrollment never
    blocks the rest of the batch
  - An enrollment whose chit value cap is already reached is skipped

USAGE:
  sched := NewDueEntryScheduler(store, log, "0 1 * * *")
  if err := sched.Start(); err != nil { ... }
  // ... later
  sched.Stop()

SEE ALSO:
  - passbook/ledger.go: the invariant checks every generated entry passes
  - handlers.go: manual entries take the same path
*/
package api

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/chitworks/passbook-engine/passbook"
)

// DefaultDueEntrySpec runs the generation shortly after midnight, before
// collection agents start their rounds.
const DefaultDueEntrySpec = "0 1 * * *"

// DueEntryScheduler appends scheduled GENERATED entries for daily enrollments.
type DueEntryScheduler struct {
	Store passbook.TxStore
	Log   *logrus.Logger
	Spec  string

	cron *cron.Cron
}

// NewDueEntryScheduler creates a scheduler. An empty spec uses the default.
func NewDueEntryScheduler(store passbook.TxStore, log *logrus.Logger, spec string) *DueEntryScheduler {
	if spec == "" {
		spec = DefaultDueEntrySpec
	}
	return &DueEntryScheduler{
		Store: store,
		Log:   log,
		Spec:  spec,
	}
}

// Start registers the cron job and begins scheduling.
func (s *DueEntryScheduler) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.Spec, func() {
		s.RunOnce(context.Background(), passbook.Today())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	if s.Log != nil {
		s.Log.WithField("spec", s.Spec).Info("due-entry scheduler started")
	}
	return nil
}

// Stop stops scheduling and waits for a running job to finish.
func (s *DueEntryScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	if s.Log != nil {
		s.Log.Info("due-entry scheduler stopped")
	}
}

// RunOnce generates due entries for every ACTIVE daily enrollment for the
// given date. Safe to call repeatedly for the same date.
func (s *DueEntryScheduler) RunOnce(ctx context.Context, date passbook.Date) {
	enrollments, err := s.Store.ListActiveEnrollments(ctx)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).Error("due-entry run failed to list enrollments")
		}
		return
	}

	generated := 0
	skipped := 0
	for _, enrollment := range enrollments {
		ok, err := s.generateFor(ctx, enrollment, date)
		if err != nil {
			skipped++
			if s.Log != nil {
				s.Log.WithFields(logrus.Fields{
					"enrollment_id": enrollment.ID,
					"date":          date.String(),
					"error":         err.Error(),
				}).Warn("due-entry generation skipped enrollment")
			}
			continue
		}
		if ok {
			generated++
		} else {
			skipped++
		}
	}

	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"date":      date.String(),
			"generated": generated,
			"skipped":   skipped,
		}).Info("due-entry run completed")
	}
}

// generateFor appends one GENERATED entry for the enrollment unless the date
// is outside its schedule, the frequency is not daily, an entry for the date
// already exists, or the chit value cap is reached.
func (s *DueEntryScheduler) generateFor(ctx context.Context, enrollment passbook.Enrollment, date passbook.Date) (bool, error) {
	if date.Before(enrollment.StartDate) {
		return false, nil
	}
	if enrollment.LastDate != nil && date.After(*enrollment.LastDate) {
		return false, nil
	}

	versions, err := s.Store.ListVersions(ctx, enrollment.ID)
	if err != nil {
		return false, err
	}
	schedule := passbook.NewSchedule(enrollment, versions)
	active, err := schedule.ActiveVersion(date)
	if err != nil {
		return false, err
	}
	if active.Frequency != passbook.FrequencyDaily {
		return false, nil
	}

	existing, err := s.Store.ListEntries(ctx, enrollment.ID, passbook.EntryFilter{
		DateFrom: &date,
		DateTo:   &date,
	})
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}

	_, err = passbook.NewLedger(s.Store).Append(ctx, passbook.LedgerEntry{
		EnrollmentID: enrollment.ID,
		Date:         date,
		AmountPaid:   active.AmountPerPeriod,
		Frequency:    passbook.FrequencyDaily,
		Type:         passbook.EntryGenerated,
		Lifting:      passbook.LiftingNo,
		CreatedAt:    time.Now().UTC(),
	})
	if errors.Is(err, passbook.ErrChitValueExceeded) {
		// Fully paid up: nothing more is due.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
