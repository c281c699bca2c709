/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements lettings.TxStore using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences (partial indexes
  use the same WHERE syntax).

KEY TABLES:
  agencies, properties, bedrooms: Collaborator records, read by the core
  applications:      Tenant applications, approved alongside a deposit
  tenancies:         Start/end dates and payment cadence
  tenancy_members:   Per-member weekly rent and deposit
  payment_schedules: Generated due lines; status owned by the ledger
  payments:          Money received; never updated, only deleted on revert
  holding_deposits:  Deposit lifecycle and bedroom reservation

SCOPE:
  Every table carries agency_id and every query filters on it.

INDEXES:
  - idx_unique_active_reservation: At most one held, unreleased, expiring
    deposit per bedroom. This is the last line of defence behind the
    reservation guard; a violation surfaces as lettings.ErrActiveReservation.
  - idx_schedules_tenancy_due: Schedule listing (hot path)
  - idx_schedules_status_due: Overdue sweep

CONCURRENCY:
  The pool is limited to a single connection and transactions are opened
  with BEGIN IMMEDIATE (_txlock=immediate). A unit of work therefore owns
  the writer lock from its first statement, and every other caller waits
  for the connection. Reads inside WithTx go through the *sql.Tx, never
  through the pool.

STORAGE FORMATS:
  - Calendar dates: TEXT "YYYY-MM-DD"
  - Instants: TEXT RFC3339 in UTC (lexically ordered)
  - Money: TEXT decimal string, never REAL

USAGE:
  store, err := sqlite.New("./data/tenancy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - lettings/store.go: Interface definitions
  - lettings/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/tenancy-engine/lettings"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements lettings.TxStore using SQLite.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

var _ lettings.TxStore = (*Store)(nil)

const dsnOptions = "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?"+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an already-open handle without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection. The readiness endpoint uses it.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agencies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL REFERENCES agencies(id),
		address TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS bedrooms (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL REFERENCES agencies(id),
		property_id TEXT NOT NULL REFERENCES properties(id),
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL REFERENCES agencies(id),
		applicant_name TEXT NOT NULL,
		applicant_email TEXT,
		user_id TEXT,
		property_id TEXT NOT NULL,
		bedroom_id TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenancies (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL REFERENCES agencies(id),
		property_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		cadence TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tenancies_rolling
		ON tenancies(agency_id) WHERE end_date IS NULL;

	CREATE TABLE IF NOT EXISTS tenancy_members (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL REFERENCES agencies(id),
		tenancy_id TEXT NOT NULL REFERENCES tenancies(id),
		name TEXT NOT NULL DEFAULT '',
		rent_pppw TEXT NOT NULL,
		deposit_amount TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_members_tenancy
		ON tenancy_members(agency_id, tenancy_id);

	CREATE TABLE IF NOT EXISTS payment_schedules (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL REFERENCES agencies(id),
		tenancy_id TEXT NOT NULL REFERENCES tenancies(id),
		member_id TEXT,
		payment_type TEXT NOT NULL,
		due_date TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		covers_from TEXT,
		covers_to TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_tenancy_due
		ON payment_schedules(agency_id, tenancy_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_schedules_status_due
		ON payment_schedules(agency_id, status, due_date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL REFERENCES agencies(id),
		schedule_id TEXT NOT NULL REFERENCES payment_schedules(id),
		amount TEXT NOT NULL,
		paid_date TEXT NOT NULL,
		reference TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_schedule
		ON payments(agency_id, schedule_id);

	CREATE TABLE IF NOT EXISTS holding_deposits (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL REFERENCES agencies(id),
		application_id TEXT NOT NULL REFERENCES applications(id),
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		bedroom_id TEXT,
		property_id TEXT,
		reservation_days INTEGER,
		reservation_expires_at TEXT,
		reservation_released INTEGER NOT NULL DEFAULT 0,
		payment_reference TEXT,
		date_received TEXT,
		applied_to_tenancy_id TEXT,
		notes TEXT,
		status_changed_at TEXT NOT NULL,
		status_changed_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_application
		ON holding_deposits(agency_id, application_id);

	-- CRITICAL: One active reservation per bedroom.
	-- Expiry is not part of the predicate (it is not deterministic); expired
	-- rows are released before a competing insert.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_reservation
		ON holding_deposits(agency_id, bedroom_id)
		WHERE status = 'held'
		  AND reservation_released = 0
		  AND reservation_expires_at IS NOT NULL
		  AND bedroom_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (lettings.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Nested calls
// join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store lettings.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, inTx: true}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// REFERENCE STORE
// =============================================================================

func (s *Store) ListAgencies(ctx context.Context) ([]lettings.Agency, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name FROM agencies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agencies: %w", err)
	}
	defer rows.Close()

	var agencies []lettings.Agency
	for rows.Next() {
		var a lettings.Agency
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("failed to scan agency: %w", err)
		}
		agencies = append(agencies, a)
	}
	return agencies, rows.Err()
}

func (s *Store) SaveAgency(ctx context.Context, a lettings.Agency) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO agencies (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, a.ID, a.Name)
	if err != nil {
		return fmt.Errorf("failed to save agency: %w", err)
	}
	return nil
}

func (s *Store) SaveProperty(ctx context.Context, p lettings.Property) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO properties (id, agency_id, address) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET address = excluded.address
	`, p.ID, p.AgencyID, p.Address)
	if err != nil {
		return fmt.Errorf("failed to save property: %w", err)
	}
	return nil
}

func (s *Store) GetProperty(ctx context.Context, agency lettings.AgencyID, id lettings.PropertyID) (*lettings.Property, error) {
	var p lettings.Property
	err := s.q.QueryRowContext(ctx,
		`SELECT id, agency_id, address FROM properties WHERE agency_id = ? AND id = ?`,
		agency, id,
	).Scan(&p.ID, &p.AgencyID, &p.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lettings.NotFound("property", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return &p, nil
}

func (s *Store) SaveBedroom(ctx context.Context, b lettings.Bedroom) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO bedrooms (id, agency_id, property_id, name) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET property_id = excluded.property_id, name = excluded.name
	`, b.ID, b.AgencyID, b.PropertyID, b.Name)
	if err != nil {
		return fmt.Errorf("failed to save bedroom: %w", err)
	}
	return nil
}

func (s *Store) GetBedroom(ctx context.Context, agency lettings.AgencyID, id lettings.BedroomID) (*lettings.Bedroom, error) {
	var b lettings.Bedroom
	err := s.q.QueryRowContext(ctx,
		`SELECT id, agency_id, property_id, name FROM bedrooms WHERE agency_id = ? AND id = ?`,
		agency, id,
	).Scan(&b.ID, &b.AgencyID, &b.PropertyID, &b.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lettings.NotFound("bedroom", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bedroom: %w", err)
	}
	return &b, nil
}

func (s *Store) SaveApplication(ctx context.Context, a lettings.Application) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO applications
		(id, agency_id, applicant_name, applicant_email, user_id, property_id, bedroom_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			applicant_name = excluded.applicant_name,
			applicant_email = excluded.applicant_email,
			user_id = excluded.user_id,
			property_id = excluded.property_id,
			bedroom_id = excluded.bedroom_id,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		a.ID, a.AgencyID, a.ApplicantName, nullString(a.ApplicantEmail), nullString(a.UserID),
		a.PropertyID, nullBedroom(a.BedroomID), a.Status,
		formatInstant(a.CreatedAt), formatInstant(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, agency lettings.AgencyID, id lettings.ApplicationID) (*lettings.Application, error) {
	var (
		a                    lettings.Application
		email, userID, bedID sql.NullString
		createdAt, updatedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, agency_id, applicant_name, applicant_email, user_id, property_id, bedroom_id, status, created_at, updated_at
		FROM applications WHERE agency_id = ? AND id = ?
	`, agency, id).Scan(
		&a.ID, &a.AgencyID, &a.ApplicantName, &email, &userID,
		&a.PropertyID, &bedID, &a.Status, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lettings.NotFound("application", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	a.ApplicantEmail = email.String
	a.UserID = userID.String
	a.BedroomID = parseBedroom(bedID)

	var dec decoder
	a.CreatedAt = dec.instant("created_at", createdAt)
	a.UpdatedAt = dec.instant("updated_at", updatedAt)
	if dec.err != nil {
		return nil, fmt.Errorf("failed to get application: %w", dec.err)
	}
	return &a, nil
}

func (s *Store) UpdateApplicationStatus(ctx context.Context, agency lettings.AgencyID, id lettings.ApplicationID, status lettings.ApplicationStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE applications SET status = ?, updated_at = ? WHERE agency_id = ? AND id = ?`,
		status, formatInstant(at), agency, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	return requireRow(res, "application", id)
}

func (s *Store) SaveTenancy(ctx context.Context, t lettings.Tenancy) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tenancies (id, agency_id, property_id, start_date, end_date, cadence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id = excluded.property_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			cadence = excluded.cadence
	`,
		t.ID, t.AgencyID, t.PropertyID, t.StartDate.String(), nullDate(t.EndDate), t.Cadence,
		formatInstant(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save tenancy: %w", err)
	}
	return nil
}

const tenancyColumns = `id, agency_id, property_id, start_date, end_date, cadence, created_at`

func (s *Store) GetTenancy(ctx context.Context, agency lettings.AgencyID, id lettings.TenancyID) (*lettings.Tenancy, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+tenancyColumns+` FROM tenancies WHERE agency_id = ? AND id = ?`, agency, id)
	t, err := scanTenancy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lettings.NotFound("tenancy", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListRollingTenancies(ctx context.Context, agency lettings.AgencyID) ([]lettings.Tenancy, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+tenancyColumns+` FROM tenancies WHERE agency_id = ? AND end_date IS NULL ORDER BY id`, agency)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenancies: %w", err)
	}
	defer rows.Close()

	var tenancies []lettings.Tenancy
	for rows.Next() {
		t, err := scanTenancy(rows)
		if err != nil {
			return nil, err
		}
		tenancies = append(tenancies, t)
	}
	return tenancies, rows.Err()
}

func scanTenancy(row scanner) (lettings.Tenancy, error) {
	var (
		t                    lettings.Tenancy
		startDate, createdAt string
		endDate              sql.NullString
	)
	err := row.Scan(&t.ID, &t.AgencyID, &t.PropertyID, &startDate, &endDate, &t.Cadence, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan tenancy: %w", err)
	}
	var dec decoder
	t.StartDate = dec.date("start_date", startDate)
	t.EndDate = dec.nullDate("end_date", endDate)
	t.CreatedAt = dec.instant("created_at", createdAt)
	if dec.err != nil {
		return t, fmt.Errorf("failed to scan tenancy %s: %w", t.ID, dec.err)
	}
	return t, nil
}

func (s *Store) SaveMember(ctx context.Context, m lettings.TenancyMember) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tenancy_members (id, agency_id, tenancy_id, name, rent_pppw, deposit_amount)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rent_pppw = excluded.rent_pppw,
			deposit_amount = excluded.deposit_amount
	`, m.ID, m.AgencyID, m.TenancyID, m.Name, m.RentPPPW.String(), m.DepositAmount.String())
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, agency lettings.AgencyID, tenancyID lettings.TenancyID) ([]lettings.TenancyMember, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, agency_id, tenancy_id, name, rent_pppw, deposit_amount
		FROM tenancy_members WHERE agency_id = ? AND tenancy_id = ? ORDER BY id
	`, agency, tenancyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []lettings.TenancyMember
	for rows.Next() {
		var (
			m             lettings.TenancyMember
			rent, deposit string
		)
		if err := rows.Scan(&m.ID, &m.AgencyID, &m.TenancyID, &m.Name, &rent, &deposit); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		var dec decoder
		m.RentPPPW = dec.decimal("rent_pppw", rent)
		m.DepositAmount = dec.decimal("deposit_amount", deposit)
		if dec.err != nil {
			return nil, fmt.Errorf("failed to scan member %s: %w", m.ID, dec.err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// SCHEDULE STORE
// =============================================================================

// InsertSchedules persists lines in one statement batch. Outside a unit of
// work it opens its own transaction so the batch stays all-or-nothing.
func (s *Store) InsertSchedules(ctx context.Context, agency lettings.AgencyID, lines []lettings.PaymentSchedule) error {
	return s.WithTx(ctx, func(tx lettings.Store) error {
		ts := tx.(*Store)
		for _, l := range lines {
			_, err := ts.q.ExecContext(ctx, `
				INSERT INTO payment_schedules
				(id, agency_id, tenancy_id, member_id, payment_type, due_date, amount_due,
				 covers_from, covers_to, status, description, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				l.ID, agency, l.TenancyID, nullString(string(l.MemberID)), l.PaymentType,
				l.DueDate.String(), l.AmountDue.StringFixed(lettings.MoneyPlaces),
				nullDate(l.CoversFrom), nullDate(l.CoversTo), l.Status, l.Description,
				formatInstant(l.CreatedAt), formatInstant(l.UpdatedAt),
			)
			if err != nil {
				if isUniqueConstraintError(err) {
					return &lettings.ConflictError{Message: "schedule line " + string(l.ID) + " already exists"}
				}
				return fmt.Errorf("failed to insert schedule: %w", err)
			}
		}
		return nil
	})
}

const scheduleColumns = `id, agency_id, tenancy_id, member_id, payment_type, due_date, amount_due,
	covers_from, covers_to, status, description, created_at, updated_at`

func (s *Store) GetSchedule(ctx context.Context, agency lettings.AgencyID, id lettings.ScheduleID) (*lettings.PaymentSchedule, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM payment_schedules WHERE agency_id = ? AND id = ?`, agency, id)
	l, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lettings.NotFound("schedule", id)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) ListSchedules(ctx context.Context, agency lettings.AgencyID, tenancyID lettings.TenancyID) ([]lettings.PaymentSchedule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM payment_schedules
		WHERE agency_id = ? AND tenancy_id = ?
		ORDER BY due_date ASC, COALESCE(member_id, '') ASC, id ASC
	`, agency, tenancyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var lines []lettings.PaymentSchedule
	for rows.Next() {
		l, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanSchedule(row scanner) (lettings.PaymentSchedule, error) {
	var (
		l                              lettings.PaymentSchedule
		memberID, coversFrom, coversTo sql.NullString
		dueDate, amountDue             string
		createdAt, updatedAt           string
	)
	err := row.Scan(
		&l.ID, &l.AgencyID, &l.TenancyID, &memberID, &l.PaymentType, &dueDate, &amountDue,
		&coversFrom, &coversTo, &l.Status, &l.Description, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, err
		}
		return l, fmt.Errorf("failed to scan schedule: %w", err)
	}
	l.MemberID = lettings.MemberID(memberID.String)

	var dec decoder
	l.DueDate = dec.date("due_date", dueDate)
	l.AmountDue = dec.decimal("amount_due", amountDue)
	l.CoversFrom = dec.nullDate("covers_from", coversFrom)
	l.CoversTo = dec.nullDate("covers_to", coversTo)
	l.CreatedAt = dec.instant("created_at", createdAt)
	l.UpdatedAt = dec.instant("updated_at", updatedAt)
	if dec.err != nil {
		return l, fmt.Errorf("failed to scan schedule %s: %w", l.ID, dec.err)
	}
	return l, nil
}

func (s *Store) UpdateScheduleStatus(ctx context.Context, agency lettings.AgencyID, id lettings.ScheduleID, status lettings.ScheduleStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE payment_schedules SET status = ?, updated_at = ? WHERE agency_id = ? AND id = ?`,
		status, formatInstant(at), agency, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return requireRow(res, "schedule", id)
}

func (s *Store) InsertPayment(ctx context.Context, agency lettings.AgencyID, p lettings.Payment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (id, agency_id, schedule_id, amount, paid_date, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, agency, p.ScheduleID, p.Amount.StringFixed(lettings.MoneyPlaces),
		p.PaidDate.String(), nullString(p.Reference), formatInstant(p.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return lettings.NotFound("schedule", p.ScheduleID)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, agency_id, schedule_id, amount, paid_date, reference, created_at`

func (s *Store) GetPayment(ctx context.Context, agency lettings.AgencyID, id lettings.PaymentID) (*lettings.Payment, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE agency_id = ? AND id = ?`, agency, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lettings.NotFound("payment", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPayments(ctx context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID) ([]lettings.Payment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE agency_id = ? AND schedule_id = ?
		ORDER BY paid_date ASC, created_at ASC
	`, agency, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []lettings.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (lettings.Payment, error) {
	var (
		p                           lettings.Payment
		amount, paidDate, createdAt string
		reference                   sql.NullString
	)
	err := row.Scan(&p.ID, &p.AgencyID, &p.ScheduleID, &amount, &paidDate, &reference, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	var dec decoder
	p.Amount = dec.decimal("amount", amount)
	p.PaidDate = dec.date("paid_date", paidDate)
	p.Reference = reference.String
	p.CreatedAt = dec.instant("created_at", createdAt)
	if dec.err != nil {
		return p, fmt.Errorf("failed to scan payment %s: %w", p.ID, dec.err)
	}
	return p, nil
}

func (s *Store) DeletePayment(ctx context.Context, agency lettings.AgencyID, id lettings.PaymentID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM payments WHERE agency_id = ? AND id = ?`, agency, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return requireRow(res, "payment", id)
}

func (s *Store) DeletePaymentsForSchedule(ctx context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID) (int, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM payments WHERE agency_id = ? AND schedule_id = ?`, agency, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payments: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) MarkOverdue(ctx context.Context, agency lettings.AgencyID, asOf lettings.Date, at time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE payment_schedules SET status = 'overdue', updated_at = ?
		WHERE agency_id = ? AND status IN ('pending', 'partial') AND due_date < ?
	`, formatInstant(at), agency, asOf.String())
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// DEPOSIT STORE
// =============================================================================

func (s *Store) InsertDeposit(ctx context.Context, agency lettings.AgencyID, d lettings.HoldingDeposit) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO holding_deposits
		(id, agency_id, application_id, amount, status, bedroom_id, property_id, reservation_days,
		 reservation_expires_at, reservation_released, payment_reference, date_received,
		 applied_to_tenancy_id, notes, status_changed_at, status_changed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID, agency, d.ApplicationID, d.Amount.StringFixed(lettings.MoneyPlaces), d.Status,
		nullBedroom(d.BedroomID), nullProperty(d.PropertyID), nullInt(d.ReservationDays),
		nullInstant(d.ReservationExpiresAt), d.ReservationReleased, nullString(d.PaymentReference),
		nullDate(d.DateReceived), nullTenancy(d.AppliedToTenancyID), nullString(d.Notes),
		formatInstant(d.StatusChangedAt), nullString(d.StatusChangedBy), formatInstant(d.CreatedAt),
	)
	if err != nil {
		if isReservationIndexError(err) {
			return lettings.ErrActiveReservation
		}
		return fmt.Errorf("failed to insert deposit: %w", err)
	}
	return nil
}

const depositColumns = `id, agency_id, application_id, amount, status, bedroom_id, property_id,
	reservation_days, reservation_expires_at, reservation_released, payment_reference,
	date_received, applied_to_tenancy_id, notes, status_changed_at, status_changed_by, created_at`

func (s *Store) GetDeposit(ctx context.Context, agency lettings.AgencyID, id lettings.DepositID) (*lettings.HoldingDeposit, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+depositColumns+` FROM holding_deposits WHERE agency_id = ? AND id = ?`, agency, id)
	d, err := scanDeposit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lettings.NotFound("deposit", id)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) UpdateDeposit(ctx context.Context, agency lettings.AgencyID, d lettings.HoldingDeposit) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE holding_deposits SET
			amount = ?, status = ?, bedroom_id = ?, property_id = ?, reservation_days = ?,
			reservation_expires_at = ?, reservation_released = ?, payment_reference = ?,
			date_received = ?, applied_to_tenancy_id = ?, notes = ?,
			status_changed_at = ?, status_changed_by = ?
		WHERE agency_id = ? AND id = ?
	`,
		d.Amount.StringFixed(lettings.MoneyPlaces), d.Status, nullBedroom(d.BedroomID),
		nullProperty(d.PropertyID), nullInt(d.ReservationDays), nullInstant(d.ReservationExpiresAt),
		d.ReservationReleased, nullString(d.PaymentReference), nullDate(d.DateReceived),
		nullTenancy(d.AppliedToTenancyID), nullString(d.Notes),
		formatInstant(d.StatusChangedAt), nullString(d.StatusChangedBy),
		agency, d.ID,
	)
	if err != nil {
		if isReservationIndexError(err) {
			return lettings.ErrActiveReservation
		}
		return fmt.Errorf("failed to update deposit: %w", err)
	}
	return requireRow(res, "deposit", d.ID)
}

func scanDeposit(row scanner) (lettings.HoldingDeposit, error) {
	var (
		d                                  lettings.HoldingDeposit
		amount, statusChangedAt, createdAt string
		bedroomID, propertyID, expiresAt   sql.NullString
		reference, dateReceived, appliedTo sql.NullString
		notes, changedBy                   sql.NullString
		reservationDays                    sql.NullInt64
	)
	err := row.Scan(
		&d.ID, &d.AgencyID, &d.ApplicationID, &amount, &d.Status, &bedroomID, &propertyID,
		&reservationDays, &expiresAt, &d.ReservationReleased, &reference,
		&dateReceived, &appliedTo, &notes, &statusChangedAt, &changedBy, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("failed to scan deposit: %w", err)
	}
	var dec decoder
	d.Amount = dec.decimal("amount", amount)
	d.BedroomID = parseBedroom(bedroomID)
	if propertyID.Valid {
		p := lettings.PropertyID(propertyID.String)
		d.PropertyID = &p
	}
	if reservationDays.Valid {
		days := int(reservationDays.Int64)
		d.ReservationDays = &days
	}
	if expiresAt.Valid {
		t := dec.instant("reservation_expires_at", expiresAt.String)
		d.ReservationExpiresAt = &t
	}
	d.PaymentReference = reference.String
	d.DateReceived = dec.nullDate("date_received", dateReceived)
	if appliedTo.Valid {
		t := lettings.TenancyID(appliedTo.String)
		d.AppliedToTenancyID = &t
	}
	d.Notes = notes.String
	d.StatusChangedAt = dec.instant("status_changed_at", statusChangedAt)
	d.StatusChangedBy = changedBy.String
	d.CreatedAt = dec.instant("created_at", createdAt)
	if dec.err != nil {
		return d, fmt.Errorf("failed to scan deposit %s: %w", d.ID, dec.err)
	}
	return d, nil
}

// ActiveReservation joins the applicant so a conflict can name who holds
// the room.
func (s *Store) ActiveReservation(ctx context.Context, agency lettings.AgencyID, bedroomID lettings.BedroomID, now time.Time) (*lettings.ActiveReservation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+prefixColumns("d.", depositColumns)+`, COALESCE(a.applicant_name, '')
		FROM holding_deposits d
		LEFT JOIN applications a ON a.id = d.application_id AND a.agency_id = d.agency_id
		WHERE d.agency_id = ? AND d.bedroom_id = ?
		  AND d.status = 'held' AND d.reservation_released = 0
		  AND d.reservation_expires_at IS NOT NULL AND d.reservation_expires_at > ?
		ORDER BY d.reservation_expires_at DESC
		LIMIT 1
	`, agency, bedroomID, formatInstant(now))

	var name string
	d, err := scanDeposit(withTrailing(row, &name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lettings.ActiveReservation{Deposit: d, ApplicantName: name}, nil
}

func (s *Store) ReleaseExpiredReservations(ctx context.Context, agency lettings.AgencyID, bedroomID *lettings.BedroomID, now time.Time) (int, error) {
	query := `
		UPDATE holding_deposits SET reservation_released = 1
		WHERE agency_id = ? AND status = 'held' AND reservation_released = 0
		  AND reservation_expires_at IS NOT NULL AND reservation_expires_at <= ?
	`
	args := []any{agency, formatInstant(now)}
	if bedroomID != nil {
		query += ` AND bedroom_id = ?`
		args = append(args, *bedroomID)
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to release reservations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

type trailingScanner struct {
	row   scanner
	extra []any
}

func (t trailingScanner) Scan(dest ...any) error {
	return t.row.Scan(append(dest, t.extra...)...)
}

// withTrailing appends extra destinations after the ones a scan helper
// supplies, for joined columns.
func withTrailing(row scanner, extra ...any) scanner {
	return trailingScanner{row: row, extra: extra}
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func requireRow(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lettings.NotFound(kind, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *lettings.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullInstant(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatInstant(*t), Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullBedroom(id *lettings.BedroomID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func nullProperty(id *lettings.PropertyID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func nullTenancy(id *lettings.TenancyID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func parseBedroom(s sql.NullString) *lettings.BedroomID {
	if !s.Valid || s.String == "" {
		return nil
	}
	id := lettings.BedroomID(s.String)
	return &id
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// decoder converts stored text columns back to domain values. The first
// failure sticks; callers check err once after decoding a row.
type decoder struct {
	err error
}

func (d *decoder) fail(col, value string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("column %s: invalid value %q: %w", col, value, err)
	}
}

func (d *decoder) instant(col, s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		d.fail(col, s, err)
	}
	return t
}

func (d *decoder) date(col, s string) lettings.Date {
	v, err := lettings.ParseDate(s)
	if err != nil {
		d.fail(col, s, err)
	}
	return v
}

func (d *decoder) nullDate(col string, s sql.NullString) *lettings.Date {
	if !s.Valid || s.String == "" {
		return nil
	}
	v := d.date(col, s.String)
	return &v
}

func (d *decoder) decimal(col, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.fail(col, s, err)
	}
	return v
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// isReservationIndexError matches a violation of idx_unique_active_reservation.
// SQLite reports partial-index violations by column list, not index name.
func isReservationIndexError(err error) bool {
	return isUniqueConstraintError(err) &&
		(strings.Contains(err.Error(), "idx_unique_active_reservation") ||
			strings.Contains(err.Error(), "holding_deposits.bedroom_id"))
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
