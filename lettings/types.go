/*
Package lettings provides the shared kernel of the tenancy financial engine.

PURPOSE:
  Holds the entity records, closed status enums, money and calendar helpers,
  errors and store interfaces used by the rent and deposit packages. It has
  no behavior of its own beyond value semantics; the algorithms live in the
  domain packages.

KEY CONCEPTS IN THIS FILE (types.go):
  - AgencyID: The tenant scope threaded explicitly through every store call
  - Tenancy / TenancyMember: What rent is owed and at which weekly rate
  - PaymentSchedule: One due line (rent, deposit, ...) with its cover period
  - Payment: Immutable money received against exactly one line
  - HoldingDeposit: Per-application deposit that may reserve a bedroom

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal, never float64
  2. Closed enums: Every status is a typed string with an explicit set
  3. Scope: Every record carries its AgencyID; stores filter on it

SEE ALSO:
  - store.go: Persistence interfaces
  - errors.go: Sentinel and structured errors
  - rent/: Proration, schedule generation, payment ledger
  - deposit/: Holding-deposit state machine and reservation guard
*/
package lettings

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AgencyID is the opaque tenant scope. It is a filter, not a lock.
type AgencyID string

type PropertyID string
type BedroomID string
type ApplicationID string
type TenancyID string
type MemberID string
type ScheduleID string
type PaymentID string
type DepositID string

// =============================================================================
// COLLABORATOR RECORDS - Owned by the wider CRUD system, read by the core
// =============================================================================

type Agency struct {
	ID   AgencyID
	Name string
}

type Property struct {
	ID       PropertyID
	AgencyID AgencyID
	Address  string
}

type Bedroom struct {
	ID         BedroomID
	AgencyID   AgencyID
	PropertyID PropertyID
	Name       string
}

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

type Application struct {
	ID             ApplicationID
	AgencyID       AgencyID
	ApplicantName  string
	ApplicantEmail string
	UserID         string
	PropertyID     PropertyID
	BedroomID      *BedroomID
	Status         ApplicationStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// TENANCY
// =============================================================================

// PaymentCadence controls how rent lines are grouped.
type PaymentCadence string

const (
	CadenceMonthly            PaymentCadence = "monthly"
	CadenceQuarterly          PaymentCadence = "quarterly"
	CadenceMonthlyToQuarterly PaymentCadence = "monthly_to_quarterly"
	CadenceUpfront            PaymentCadence = "upfront"
)

func (c PaymentCadence) Valid() bool {
	switch c {
	case CadenceMonthly, CadenceQuarterly, CadenceMonthlyToQuarterly, CadenceUpfront:
		return true
	}
	return false
}

type Tenancy struct {
	ID         TenancyID
	AgencyID   AgencyID
	PropertyID PropertyID
	StartDate  Date
	EndDate    *Date // nil = rolling monthly
	Cadence    PaymentCadence
	CreatedAt  time.Time
}

// IsRolling reports a tenancy with no fixed end date.
func (t Tenancy) IsRolling() bool { return t.EndDate == nil }

// End returns the real end date, or FarFuture for rolling tenancies.
func (t Tenancy) End() Date {
	if t.EndDate == nil {
		return FarFuture
	}
	return *t.EndDate
}

// TenancyMember is one tenant on a tenancy. Rent is quoted per person per week.
type TenancyMember struct {
	ID            MemberID
	AgencyID      AgencyID
	TenancyID     TenancyID
	Name          string
	RentPPPW      decimal.Decimal
	DepositAmount decimal.Decimal
}

// =============================================================================
// PAYMENT SCHEDULE - Due lines and the payments recorded against them
// =============================================================================

type PaymentType string

const (
	PaymentRent      PaymentType = "rent"
	PaymentDeposit   PaymentType = "deposit"
	PaymentUtilities PaymentType = "utilities"
	PaymentFees      PaymentType = "fees"
	PaymentOther     PaymentType = "other"
)

type ScheduleStatus string

const (
	SchedulePending ScheduleStatus = "pending"
	SchedulePartial ScheduleStatus = "partial"
	SchedulePaid    ScheduleStatus = "paid"
	ScheduleOverdue ScheduleStatus = "overdue"
)

func (s ScheduleStatus) Valid() bool {
	switch s {
	case SchedulePending, SchedulePartial, SchedulePaid, ScheduleOverdue:
		return true
	}
	return false
}

// PaymentSchedule is a single due line. Created by the generator, mutated
// only by the payment ledger.
type PaymentSchedule struct {
	ID          ScheduleID
	AgencyID    AgencyID
	TenancyID   TenancyID
	MemberID    MemberID // empty for tenancy-wide lines (deposit)
	PaymentType PaymentType
	DueDate     Date
	AmountDue   decimal.Decimal
	CoversFrom  *Date
	CoversTo    *Date
	Status      ScheduleStatus
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Covers returns the cover period, ok=false for lines without one.
func (s PaymentSchedule) Covers() (Period, bool) {
	if s.CoversFrom == nil || s.CoversTo == nil {
		return Period{}, false
	}
	return Period{Start: *s.CoversFrom, End: *s.CoversTo}, true
}

// Payment is money received against one line. Never mutated.
type Payment struct {
	ID         PaymentID
	AgencyID   AgencyID
	ScheduleID ScheduleID
	Amount     decimal.Decimal
	PaidDate   Date
	Reference  string
	CreatedAt  time.Time
}

// =============================================================================
// HOLDING DEPOSIT
// =============================================================================

type DepositStatus string

const (
	DepositAwaitingPayment  DepositStatus = "awaiting_payment"
	DepositHeld             DepositStatus = "held"
	DepositAppliedToRent    DepositStatus = "applied_to_rent"
	DepositAppliedToDeposit DepositStatus = "applied_to_deposit"
	DepositRefunded         DepositStatus = "refunded"
	DepositForfeited        DepositStatus = "forfeited"
)

func (s DepositStatus) Valid() bool {
	switch s {
	case DepositAwaitingPayment, DepositHeld, DepositAppliedToRent,
		DepositAppliedToDeposit, DepositRefunded, DepositForfeited:
		return true
	}
	return false
}

// IsTerminal reports statuses with no outgoing transitions.
func (s DepositStatus) IsTerminal() bool {
	switch s {
	case DepositAppliedToRent, DepositAppliedToDeposit, DepositRefunded, DepositForfeited:
		return true
	}
	return false
}

type HoldingDeposit struct {
	ID                   DepositID
	AgencyID             AgencyID
	ApplicationID        ApplicationID
	Amount               decimal.Decimal
	Status               DepositStatus
	BedroomID            *BedroomID
	PropertyID           *PropertyID
	ReservationDays      *int
	ReservationExpiresAt *time.Time
	ReservationReleased  bool
	PaymentReference     string
	DateReceived         *Date
	AppliedToTenancyID   *TenancyID
	Notes                string

	// Audit fields
	StatusChangedAt time.Time
	StatusChangedBy string
	CreatedAt       time.Time
}

// HoldsReservationAt reports whether this deposit actively blocks its bedroom.
func (d HoldingDeposit) HoldsReservationAt(now time.Time) bool {
	return d.Status == DepositHeld &&
		d.BedroomID != nil &&
		!d.ReservationReleased &&
		d.ReservationExpiresAt != nil &&
		d.ReservationExpiresAt.After(now)
}

// ActiveReservation is a held, unreleased, unexpired bedroom hold together
// with the applicant it belongs to.
type ActiveReservation struct {
	Deposit       HoldingDeposit
	ApplicantName string
}
