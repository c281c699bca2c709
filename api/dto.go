/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE FORMATS:
  - Money is a decimal string with two places ("433.33"), never a float
  - Dates are "YYYY-MM-DD"; instants are RFC3339 UTC

VALIDATION:
  Request shape is checked with validator struct tags before the handler
  parses anything. Domain rules (amount > 0, reservation window, state
  transitions) are enforced again by the services.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/tenancy-engine/lettings"
	"github.com/warp/tenancy-engine/rent"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateDepositRequest creates a holding deposit, or approves an application
// with one.
type CreateDepositRequest struct {
	Amount           string `json:"amount" validate:"required,numeric"`
	DateReceived     string `json:"date_received,omitempty" validate:"omitempty,datetime=2006-01-02"`
	BedroomID        string `json:"bedroom_id,omitempty"`
	PropertyID       string `json:"property_id,omitempty"`
	ReservationDays  *int   `json:"reservation_days,omitempty" validate:"omitempty,min=1,max=365"`
	PaymentReference string `json:"payment_reference,omitempty" validate:"max=120"`
	Status           string `json:"status,omitempty" validate:"omitempty,oneof=awaiting_payment held"`
	Notes            string `json:"notes,omitempty"`
}

type RecordDepositPaymentRequest struct {
	PaymentReference string `json:"payment_reference,omitempty" validate:"max=120"`
	DateReceived     string `json:"date_received" validate:"required,datetime=2006-01-02"`
}

type SetDepositStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=refunded forfeited"`
	Notes  string `json:"notes,omitempty"`
}

type ApplyDepositRequest struct {
	TenancyID string `json:"tenancy_id" validate:"required"`
	Target    string `json:"target" validate:"required,oneof=applied_to_rent applied_to_deposit"`
}

type RecordPaymentRequest struct {
	Amount    string `json:"amount" validate:"required,numeric"`
	PaidDate  string `json:"paid_date" validate:"required,datetime=2006-01-02"`
	Reference string `json:"reference,omitempty" validate:"max=120"`
}

// ProrationRequest drives the stateless calculator.
type ProrationRequest struct {
	PPPW                string `json:"pppw" validate:"required,numeric"`
	AmountDue           string `json:"amount_due" validate:"required,numeric"`
	DueDate             string `json:"due_date" validate:"required,datetime=2006-01-02"`
	TenancyStart        string `json:"tenancy_start" validate:"required,datetime=2006-01-02"`
	TenancyEnd          string `json:"tenancy_end,omitempty" validate:"omitempty,datetime=2006-01-02"`
	RollingFirstPartial bool   `json:"rolling_first_partial,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type DepositDTO struct {
	ID                   string  `json:"id"`
	ApplicationID        string  `json:"application_id"`
	Amount               string  `json:"amount"`
	Status               string  `json:"status"`
	BedroomID            *string `json:"bedroom_id,omitempty"`
	PropertyID           *string `json:"property_id,omitempty"`
	ReservationDays      *int    `json:"reservation_days,omitempty"`
	ReservationExpiresAt *string `json:"reservation_expires_at,omitempty"`
	ReservationReleased  bool    `json:"reservation_released"`
	PaymentReference     string  `json:"payment_reference,omitempty"`
	DateReceived         *string `json:"date_received,omitempty"`
	AppliedToTenancyID   *string `json:"applied_to_tenancy_id,omitempty"`
	Notes                string  `json:"notes,omitempty"`
	StatusChangedAt      string  `json:"status_changed_at"`
	StatusChangedBy      string  `json:"status_changed_by,omitempty"`
}

func toDepositDTO(d *lettings.HoldingDeposit) DepositDTO {
	dto := DepositDTO{
		ID:                  string(d.ID),
		ApplicationID:       string(d.ApplicationID),
		Amount:              d.Amount.StringFixed(lettings.MoneyPlaces),
		Status:              string(d.Status),
		ReservationDays:     d.ReservationDays,
		ReservationReleased: d.ReservationReleased,
		PaymentReference:    d.PaymentReference,
		Notes:               d.Notes,
		StatusChangedAt:     d.StatusChangedAt.UTC().Format(time.RFC3339),
		StatusChangedBy:     d.StatusChangedBy,
	}
	if d.BedroomID != nil {
		dto.BedroomID = strPtr(string(*d.BedroomID))
	}
	if d.PropertyID != nil {
		dto.PropertyID = strPtr(string(*d.PropertyID))
	}
	if d.ReservationExpiresAt != nil {
		dto.ReservationExpiresAt = strPtr(d.ReservationExpiresAt.UTC().Format(time.RFC3339))
	}
	if d.DateReceived != nil {
		dto.DateReceived = strPtr(d.DateReceived.String())
	}
	if d.AppliedToTenancyID != nil {
		dto.AppliedToTenancyID = strPtr(string(*d.AppliedToTenancyID))
	}
	return dto
}

// ReservationDTO answers "who holds this bedroom?". Reserved=false means free.
type ReservationDTO struct {
	BedroomID     string      `json:"bedroom_id"`
	Reserved      bool        `json:"reserved"`
	ApplicantName string      `json:"applicant_name,omitempty"`
	ExpiresAt     string      `json:"expires_at,omitempty"`
	Deposit       *DepositDTO `json:"deposit,omitempty"`
}

type ScheduleLineDTO struct {
	ID          string  `json:"id"`
	TenancyID   string  `json:"tenancy_id"`
	MemberID    string  `json:"member_id,omitempty"`
	PaymentType string  `json:"payment_type"`
	DueDate     string  `json:"due_date"`
	AmountDue   string  `json:"amount_due"`
	CoversFrom  *string `json:"covers_from,omitempty"`
	CoversTo    *string `json:"covers_to,omitempty"`
	Status      string  `json:"status"`
	Description string  `json:"description"`
}

func toScheduleLineDTO(l lettings.PaymentSchedule) ScheduleLineDTO {
	dto := ScheduleLineDTO{
		ID:          string(l.ID),
		TenancyID:   string(l.TenancyID),
		MemberID:    string(l.MemberID),
		PaymentType: string(l.PaymentType),
		DueDate:     l.DueDate.String(),
		AmountDue:   l.AmountDue.StringFixed(lettings.MoneyPlaces),
		Status:      string(l.Status),
		Description: l.Description,
	}
	if l.CoversFrom != nil {
		dto.CoversFrom = strPtr(l.CoversFrom.String())
	}
	if l.CoversTo != nil {
		dto.CoversTo = strPtr(l.CoversTo.String())
	}
	return dto
}

func toScheduleLineDTOs(lines []lettings.PaymentSchedule) []ScheduleLineDTO {
	dtos := make([]ScheduleLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = toScheduleLineDTO(l)
	}
	return dtos
}

type PaymentDTO struct {
	ID        string `json:"id"`
	Amount    string `json:"amount"`
	PaidDate  string `json:"paid_date"`
	Reference string `json:"reference,omitempty"`
}

// LineDetailDTO is a line with the payments recorded against it.
type LineDetailDTO struct {
	ScheduleLineDTO
	Payments    []PaymentDTO `json:"payments"`
	Paid        string       `json:"paid"`
	Outstanding string       `json:"outstanding"`
}

func toLineDetailDTO(v *rent.LineView) LineDetailDTO {
	payments := make([]PaymentDTO, len(v.Payments))
	for i, p := range v.Payments {
		payments[i] = PaymentDTO{
			ID:        string(p.ID),
			Amount:    p.Amount.StringFixed(lettings.MoneyPlaces),
			PaidDate:  p.PaidDate.String(),
			Reference: p.Reference,
		}
	}
	return LineDetailDTO{
		ScheduleLineDTO: toScheduleLineDTO(v.Line),
		Payments:        payments,
		Paid:            v.Paid.StringFixed(lettings.MoneyPlaces),
		Outstanding:     v.Outstanding.StringFixed(lettings.MoneyPlaces),
	}
}

// RevertResponse reports how many payments a revert removed.
type RevertResponse struct {
	Line    ScheduleLineDTO `json:"line"`
	Removed int             `json:"removed"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func strPtr(s string) *string {
	return &s
}
