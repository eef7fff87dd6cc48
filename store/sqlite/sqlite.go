/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements passbook.Store and passbook.TxStore using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  members            Member master data
  schemes            Scheme terms (chit value, duration, base rate)
  enrollments        Member-scheme links with status
  schedule_versions  Append-only effective-dated rates
  ledger_entries     Payment events (append-mostly)

CONSTRAINTS:
  A partial unique index enforces the single-lifting invariant at the
  database level in addition to the Ledger's check:
    idx_entries_single_lifting ON ledger_entries(enrollment_id)
      WHERE lifting = 'YES'

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers don't
  block, single writer at a time, better crash recovery.

TRANSACTIONS:
  WithTx wraps the lifting transition's two-part write (schedule version +
  lifting entry) in one database transaction; either both land or neither.

USAGE:
  st, err := sqlite.New("./data/passbook.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - passbook/store.go: Interface definitions
  - passbook/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/chitworks/passbook-engine/passbook"
)

const timeLayout = time.RFC3339

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements passbook.TxStore using SQLite.
type Store struct {
	db      *sql.DB
	q       queryer
	writeMu *sync.Mutex
	inTx    bool
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from fragmenting across connections.
	db.SetMaxOpenConns(1)

	st := &Store{db: db, q: db, writeMu: &sync.Mutex{}}
	if err := st.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return st, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		email TEXT,
		address TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schemes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		chit_value TEXT NOT NULL,
		duration INTEGER NOT NULL,
		duration_type TEXT NOT NULL,
		contribution_amount TEXT NOT NULL,
		contribution_frequency TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL REFERENCES members(id),
		scheme_id TEXT NOT NULL REFERENCES schemes(id),
		start_date TEXT NOT NULL,
		last_date TEXT,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_member
		ON enrollments(member_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_status
		ON enrollments(status);

	-- Append-only: rate changes insert new rows, history is never rewritten
	CREATE TABLE IF NOT EXISTS schedule_versions (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL REFERENCES enrollments(id),
		effective_from TEXT NOT NULL,
		amount_per_period TEXT NOT NULL,
		frequency TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_versions_enrollment_effective
		ON schedule_versions(enrollment_id, effective_from);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL REFERENCES enrollments(id),
		entry_date TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		payment_method TEXT,
		frequency TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		lifting TEXT NOT NULL DEFAULT 'NO',
		lifting_amount TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Hot path: passbook listing and reconciliation range reads
	CREATE INDEX IF NOT EXISTS idx_entries_enrollment_date
		ON ledger_entries(enrollment_id, entry_date);

	-- A member lifts the chit at most once per enrollment
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_single_lifting
		ON ledger_entries(enrollment_id) WHERE lifting = 'YES';
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) lockWrites() func() {
	if s.inTx {
		return func() {}
	}
	s.writeMu.Lock()
	return s.writeMu.Unlock
}

// =============================================================================
// TRANSACTIONS (passbook.TxStore)
// =============================================================================

// WithTx executes fn with a transaction-bound store view.
func (s *Store) WithTx(ctx context.Context, fn func(passbook.Store) error) error {
	if s.inTx {
		return fn(s) // nested call joins the ambient transaction
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	view := &Store{db: s.db, q: tx, writeMu: s.writeMu, inTx: true}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// LEDGER ENTRIES (passbook.EntryStore)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, entry passbook.LedgerEntry) error {
	defer s.lockWrites()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, enrollment_id, entry_date, amount_paid, payment_method, frequency,
		 entry_type, lifting, lifting_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.EnrollmentID,
		entry.Date.String(),
		entry.AmountPaid.String(),
		entry.PaymentMethod,
		entry.Frequency,
		entry.Type,
		entry.Lifting,
		entry.LiftingAmount.String(),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return passbook.ErrDuplicateLifting
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id passbook.EntryID) (*passbook.LedgerEntry, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, enrollment_id, entry_date, amount_paid, payment_method,
		       frequency, entry_type, lifting, lifting_amount, created_at
		FROM ledger_entries WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, passbook.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return entry, nil
}

func (s *Store) UpdateEntry(ctx context.Context, entry passbook.LedgerEntry) error {
	defer s.lockWrites()()

	res, err := s.q.ExecContext(ctx, `
		UPDATE ledger_entries
		SET entry_date = ?, amount_paid = ?, payment_method = ?, frequency = ?
		WHERE id = ?`,
		entry.Date.String(),
		entry.AmountPaid.String(),
		entry.PaymentMethod,
		entry.Frequency,
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return passbook.ErrEntryNotFound
	}
	return nil
}

func (s *Store) RemoveEntry(ctx context.Context, id passbook.EntryID) error {
	defer s.lockWrites()()

	res, err := s.q.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return passbook.ErrEntryNotFound
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, enrollmentID passbook.EnrollmentID, filter passbook.EntryFilter) ([]passbook.LedgerEntry, error) {
	query := `
		SELECT id, enrollment_id, entry_date, amount_paid, payment_method,
		       frequency, entry_type, lifting, lifting_amount, created_at
		FROM ledger_entries WHERE enrollment_id = ?`
	args := []any{enrollmentID}

	// Filters are a conjunction: every set field narrows the result.
	if filter.Frequency != nil {
		query += ` AND frequency = ?`
		args = append(args, *filter.Frequency)
	}
	if filter.DateFrom != nil {
		query += ` AND entry_date >= ?`
		args = append(args, filter.DateFrom.String())
	}
	if filter.DateTo != nil {
		query += ` AND entry_date <= ?`
		args = append(args, filter.DateTo.String())
	}
	query += ` ORDER BY entry_date ASC, created_at ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []passbook.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*passbook.LedgerEntry, error) {
	var (
		entry                               passbook.LedgerEntry
		dateStr, amountStr, liftAmtStr, cat string
		method                              sql.NullString
	)
	err := row.Scan(&entry.ID, &entry.EnrollmentID, &dateStr, &amountStr,
		&method, &entry.Frequency, &entry.Type, &entry.Lifting, &liftAmtStr, &cat)
	if err != nil {
		return nil, err
	}
	if entry.Date, err = passbook.ParseDate(dateStr); err != nil {
		return nil, err
	}
	if entry.AmountPaid, err = decimal.NewFromString(amountStr); err != nil {
		return nil, err
	}
	if entry.LiftingAmount, err = decimal.NewFromString(liftAmtStr); err != nil {
		return nil, err
	}
	entry.PaymentMethod = method.String
	entry.CreatedAt, _ = time.Parse(timeLayout, cat)
	return &entry, nil
}

// =============================================================================
// SCHEDULE VERSIONS (passbook.ScheduleStore)
// =============================================================================

func (s *Store) AppendVersion(ctx context.Context, version passbook.ScheduleVersion) error {
	defer s.lockWrites()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO schedule_versions
		(id, enrollment_id, effective_from, amount_per_period, frequency, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		version.ID,
		version.EnrollmentID,
		version.EffectiveFrom.String(),
		version.AmountPerPeriod.String(),
		version.Frequency,
		version.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append schedule version: %w", err)
	}
	return nil
}

func (s *Store) ListVersions(ctx context.Context, enrollmentID passbook.EnrollmentID) ([]passbook.ScheduleVersion, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, enrollment_id, effective_from, amount_per_period, frequency, created_at
		FROM schedule_versions
		WHERE enrollment_id = ?
		ORDER BY effective_from ASC`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule versions: %w", err)
	}
	defer rows.Close()

	var versions []passbook.ScheduleVersion
	for rows.Next() {
		var (
			v                         passbook.ScheduleVersion
			effStr, amountStr, catStr string
		)
		if err := rows.Scan(&v.ID, &v.EnrollmentID, &effStr, &amountStr, &v.Frequency, &catStr); err != nil {
			return nil, fmt.Errorf("failed to scan schedule version: %w", err)
		}
		if v.EffectiveFrom, err = passbook.ParseDate(effStr); err != nil {
			return nil, err
		}
		if v.AmountPerPeriod, err = decimal.NewFromString(amountStr); err != nil {
			return nil, err
		}
		v.CreatedAt, _ = time.Parse(timeLayout, catStr)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// =============================================================================
// ENROLLMENTS (passbook.EnrollmentStore)
// =============================================================================

func (s *Store) GetEnrollment(ctx context.Context, id passbook.EnrollmentID) (*passbook.Enrollment, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, member_id, scheme_id, start_date, last_date, status, created_at
		FROM enrollments WHERE id = ?`, id)

	enrollment, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, passbook.ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return enrollment, nil
}

func (s *Store) ListActiveEnrollments(ctx context.Context) ([]passbook.Enrollment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, member_id, scheme_id, start_date, last_date, status, created_at
		FROM enrollments WHERE status = ? ORDER BY id`, passbook.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []passbook.Enrollment
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, *enrollment)
	}
	return enrollments, rows.Err()
}

func (s *Store) SaveEnrollment(ctx context.Context, enrollment passbook.Enrollment) error {
	defer s.lockWrites()()

	var lastDate any
	if enrollment.LastDate != nil {
		lastDate = enrollment.LastDate.String()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO enrollments
		(id, member_id, scheme_id, start_date, last_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_date = excluded.last_date,
			status = excluded.status`,
		enrollment.ID,
		enrollment.MemberID,
		enrollment.SchemeID,
		enrollment.StartDate.String(),
		lastDate,
		enrollment.Status,
		enrollment.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}
	return nil
}

func (s *Store) UpdateEnrollmentStatus(ctx context.Context, id passbook.EnrollmentID, status passbook.EnrollmentStatus) error {
	defer s.lockWrites()()

	res, err := s.q.ExecContext(ctx,
		`UPDATE enrollments SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update enrollment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return passbook.ErrEnrollmentNotFound
	}
	return nil
}

func scanEnrollment(row rowScanner) (*passbook.Enrollment, error) {
	var (
		enrollment       passbook.Enrollment
		startStr, catStr string
		lastStr          sql.NullString
	)
	err := row.Scan(&enrollment.ID, &enrollment.MemberID, &enrollment.SchemeID,
		&startStr, &lastStr, &enrollment.Status, &catStr)
	if err != nil {
		return nil, err
	}
	if enrollment.StartDate, err = passbook.ParseDate(startStr); err != nil {
		return nil, err
	}
	if lastStr.Valid {
		last, err := passbook.ParseDate(lastStr.String)
		if err != nil {
			return nil, err
		}
		enrollment.LastDate = &last
	}
	enrollment.CreatedAt, _ = time.Parse(timeLayout, catStr)
	return &enrollment, nil
}

// =============================================================================
// SCHEMES (passbook.SchemeStore)
// =============================================================================

func (s *Store) GetScheme(ctx context.Context, id passbook.SchemeID) (*passbook.Scheme, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, chit_value, duration, duration_type,
		       contribution_amount, contribution_frequency, created_at
		FROM schemes WHERE id = ?`, id)

	scheme, err := scanScheme(row)
	if err == sql.ErrNoRows {
		return nil, passbook.ErrSchemeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheme: %w", err)
	}
	return scheme, nil
}

func (s *Store) ListSchemes(ctx context.Context) ([]passbook.Scheme, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, chit_value, duration, duration_type,
		       contribution_amount, contribution_frequency, created_at
		FROM schemes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemes: %w", err)
	}
	defer rows.Close()

	var schemes []passbook.Scheme
	for rows.Next() {
		scheme, err := scanScheme(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheme: %w", err)
		}
		schemes = append(schemes, *scheme)
	}
	return schemes, rows.Err()
}

func (s *Store) SaveScheme(ctx context.Context, scheme passbook.Scheme) error {
	defer s.lockWrites()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO schemes
		(id, name, chit_value, duration, duration_type,
		 contribution_amount, contribution_frequency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			chit_value = excluded.chit_value,
			duration = excluded.duration,
			duration_type = excluded.duration_type,
			contribution_amount = excluded.contribution_amount,
			contribution_frequency = excluded.contribution_frequency`,
		scheme.ID,
		scheme.Name,
		scheme.ChitValue.String(),
		scheme.Duration,
		scheme.DurationType,
		scheme.ContributionAmount.String(),
		scheme.ContributionFrequency,
		scheme.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save scheme: %w", err)
	}
	return nil
}

func scanScheme(row rowScanner) (*passbook.Scheme, error) {
	var (
		scheme                  passbook.Scheme
		chitStr, amtStr, catStr string
	)
	err := row.Scan(&scheme.ID, &scheme.Name, &chitStr, &scheme.Duration,
		&scheme.DurationType, &amtStr, &scheme.ContributionFrequency, &catStr)
	if err != nil {
		return nil, err
	}
	if scheme.ChitValue, err = decimal.NewFromString(chitStr); err != nil {
		return nil, err
	}
	if scheme.ContributionAmount, err = decimal.NewFromString(amtStr); err != nil {
		return nil, err
	}
	scheme.CreatedAt, _ = time.Parse(timeLayout, catStr)
	return &scheme, nil
}

// =============================================================================
// MEMBERS (passbook.MemberStore)
// =============================================================================

func (s *Store) GetMember(ctx context.Context, id passbook.MemberID) (*passbook.Member, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, phone, email, address, created_at
		FROM members WHERE id = ?`, id)

	member, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, passbook.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]passbook.Member, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, phone, email, address, created_at
		FROM members ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []passbook.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, *member)
	}
	return members, rows.Err()
}

func (s *Store) SaveMember(ctx context.Context, member passbook.Member) error {
	defer s.lockWrites()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO members (id, name, phone, email, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email,
			address = excluded.address`,
		member.ID,
		member.Name,
		member.Phone,
		member.Email,
		member.Address,
		member.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

func scanMember(row rowScanner) (*passbook.Member, error) {
	var (
		member             passbook.Member
		phone, email, addr sql.NullString
		catStr             string
	)
	err := row.Scan(&member.ID, &member.Name, &phone, &email, &addr, &catStr)
	if err != nil {
		return nil, err
	}
	member.Phone = phone.String
	member.Email = email.String
	member.Address = addr.String
	member.CreatedAt, _ = time.Parse(timeLayout, catStr)
	return &member, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
