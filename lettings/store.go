/*
store.go - Persistence interfaces for the tenancy financial engine

PURPOSE:
  Defines the interface between the domain logic and the database.
  Every method takes the AgencyID explicitly; implementations must filter
  every read and write on it. There is no ambient or global scope.

KEY INTERFACES:
  ReferenceStore: Agencies, properties, bedrooms, applications, tenancies
  ScheduleStore:  Payment schedule lines and the payments against them
  DepositStore:   Holding deposits and the active-reservation read path
  Store:          All of the above
  TxStore:        Store plus an atomic unit of work (WithTx)

UNIT OF WORK:
  WithTx runs fn against a transactional view. Units of work are
  serialized: "check active reservation, then insert deposit" and
  "approve application, then create deposit" cannot interleave with
  another unit of work on the same store.

NOT FOUND:
  Get* methods return a *NotFoundError (errors.Is(err, ErrNotFound))
  rather than a nil record.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - lettings/store/memory.go: In-memory for testing

SEE ALSO:
  - errors.go: ErrActiveReservation raised by the uniqueness constraint
*/
package lettings

import (
	"context"
	"time"
)

// =============================================================================
// REFERENCE STORE - Collaborator records the core reads
// =============================================================================

type ReferenceStore interface {
	ListAgencies(ctx context.Context) ([]Agency, error)
	SaveAgency(ctx context.Context, a Agency) error

	SaveProperty(ctx context.Context, p Property) error
	GetProperty(ctx context.Context, agency AgencyID, id PropertyID) (*Property, error)

	SaveBedroom(ctx context.Context, b Bedroom) error
	GetBedroom(ctx context.Context, agency AgencyID, id BedroomID) (*Bedroom, error)

	SaveApplication(ctx context.Context, a Application) error
	GetApplication(ctx context.Context, agency AgencyID, id ApplicationID) (*Application, error)
	UpdateApplicationStatus(ctx context.Context, agency AgencyID, id ApplicationID, status ApplicationStatus, at time.Time) error

	SaveTenancy(ctx context.Context, t Tenancy) error
	GetTenancy(ctx context.Context, agency AgencyID, id TenancyID) (*Tenancy, error)
	ListRollingTenancies(ctx context.Context, agency AgencyID) ([]Tenancy, error)

	SaveMember(ctx context.Context, m TenancyMember) error
	ListMembers(ctx context.Context, agency AgencyID, tenancyID TenancyID) ([]TenancyMember, error)
}

// =============================================================================
// SCHEDULE STORE - Due lines and payments
// =============================================================================

type ScheduleStore interface {
	// InsertSchedules persists generated lines. All or nothing.
	InsertSchedules(ctx context.Context, agency AgencyID, lines []PaymentSchedule) error

	GetSchedule(ctx context.Context, agency AgencyID, id ScheduleID) (*PaymentSchedule, error)

	// ListSchedules returns a tenancy's lines ordered by due date.
	ListSchedules(ctx context.Context, agency AgencyID, tenancyID TenancyID) ([]PaymentSchedule, error)

	UpdateScheduleStatus(ctx context.Context, agency AgencyID, id ScheduleID, status ScheduleStatus, at time.Time) error

	InsertPayment(ctx context.Context, agency AgencyID, p Payment) error
	GetPayment(ctx context.Context, agency AgencyID, id PaymentID) (*Payment, error)
	ListPayments(ctx context.Context, agency AgencyID, scheduleID ScheduleID) ([]Payment, error)
	DeletePayment(ctx context.Context, agency AgencyID, id PaymentID) error
	DeletePaymentsForSchedule(ctx context.Context, agency AgencyID, scheduleID ScheduleID) (int, error)

	// MarkOverdue flips pending/partial lines due before asOf to overdue.
	// Idempotent: already-overdue and paid lines are untouched.
	MarkOverdue(ctx context.Context, agency AgencyID, asOf Date, at time.Time) (int, error)
}

// =============================================================================
// DEPOSIT STORE - Holding deposits and reservations
// =============================================================================

type DepositStore interface {
	// InsertDeposit returns ErrActiveReservation if the bedroom already has
	// an active reservation.
	InsertDeposit(ctx context.Context, agency AgencyID, d HoldingDeposit) error

	GetDeposit(ctx context.Context, agency AgencyID, id DepositID) (*HoldingDeposit, error)

	// UpdateDeposit overwrites the mutable deposit fields. Returns
	// ErrActiveReservation like InsertDeposit.
	UpdateDeposit(ctx context.Context, agency AgencyID, d HoldingDeposit) error

	// ActiveReservation returns the single held, unreleased, unexpired
	// reservation for the bedroom, or nil when there is none.
	ActiveReservation(ctx context.Context, agency AgencyID, bedroomID BedroomID, now time.Time) (*ActiveReservation, error)

	// ReleaseExpiredReservations sets reservation_released on held deposits
	// whose expiry has passed. A nil bedroomID sweeps the whole agency.
	ReleaseExpiredReservations(ctx context.Context, agency AgencyID, bedroomID *BedroomID, now time.Time) (int, error)
}

// =============================================================================
// STORE / TX STORE
// =============================================================================

type Store interface {
	ReferenceStore
	ScheduleStore
	DepositStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
