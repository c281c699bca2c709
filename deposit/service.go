package deposit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/tenancy-engine/lettings"
	"github.com/warp/tenancy-engine/notify"
	"go.uber.org/zap"
)

// Reservation window bounds, in days.
const (
	MinReservationDays = 1
	MaxReservationDays = 365
)

// Service runs every deposit operation inside one unit of work on the store.
// Notifications go out after commit and never fail the operation.
type Service struct {
	store    lettings.TxStore
	guard    Guard
	notifier notify.Notifier
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(l *zap.Logger) Option       { return func(s *Service) { s.logger = l } }

// WithIDs overrides deposit ID generation.
func WithIDs(newID func() string) Option { return func(s *Service) { s.newID = newID } }

func NewService(store lettings.TxStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// INPUTS
// =============================================================================

// CreateInput describes a new deposit. InitialStatus is the caller's product
// decision: awaiting_payment (the default) at application time, held at
// approval time.
type CreateInput struct {
	Amount           decimal.Decimal
	DateReceived     *lettings.Date
	BedroomID        *lettings.BedroomID
	PropertyID       *lettings.PropertyID
	ReservationDays  *int
	PaymentReference string
	InitialStatus    lettings.DepositStatus
	ChangedBy        string
	Notes            string
}

func (in CreateInput) validate(today lettings.Date) error {
	if !in.Amount.IsPositive() {
		return lettings.Invalid("amount", "must be greater than zero")
	}
	if !in.Amount.Equal(lettings.RoundMoney(in.Amount)) {
		return lettings.Invalid("amount", "at most %d decimal places", lettings.MoneyPlaces)
	}
	if in.DateReceived != nil {
		if in.DateReceived.IsZero() {
			return lettings.Invalid("date_received", "must be a valid date")
		}
		if in.DateReceived.After(today) {
			return lettings.Invalid("date_received", "%s is in the future", in.DateReceived)
		}
	}
	if err := validateReservationDays(in.ReservationDays); err != nil {
		return err
	}
	switch in.InitialStatus {
	case "", lettings.DepositAwaitingPayment, lettings.DepositHeld:
	default:
		return lettings.Invalid("status", "a new deposit is awaiting_payment or held, not %s", in.InitialStatus)
	}
	return nil
}

func validateReservationDays(days *int) error {
	if days == nil {
		return nil
	}
	if *days < MinReservationDays || *days > MaxReservationDays {
		return lettings.Invalid("reservation_days", "must be between %d and %d, got %d",
			MinReservationDays, MaxReservationDays, *days)
	}
	return nil
}

// PaymentInput records money received for a deposit.
type PaymentInput struct {
	Reference    string
	DateReceived lettings.Date
	ChangedBy    string
}

// =============================================================================
// CREATE / APPROVE
// =============================================================================

// CreateDeposit attaches a new deposit to an application. A bedroom that is
// already actively reserved is rejected with a *ReservationConflictError.
func (s *Service) CreateDeposit(ctx context.Context, agency lettings.AgencyID, applicationID lettings.ApplicationID, in CreateInput) (*lettings.HoldingDeposit, error) {
	now := s.now().UTC()
	if err := in.validate(lettings.DateOf(now)); err != nil {
		return nil, err
	}

	var created *lettings.HoldingDeposit
	err := s.store.WithTx(ctx, func(tx lettings.Store) error {
		app, err := tx.GetApplication(ctx, agency, applicationID)
		if err != nil {
			return err
		}
		created, err = s.create(ctx, tx, agency, app, in, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("holding deposit created",
		zap.String("agency_id", string(agency)),
		zap.String("deposit_id", string(created.ID)),
		zap.String("status", string(created.Status)),
	)
	return created, nil
}

// ApproveWithDeposit approves a pending application and creates its deposit
// (held unless the caller says otherwise) as one unit of work. The applicant
// is notified after commit.
func (s *Service) ApproveWithDeposit(ctx context.Context, agency lettings.AgencyID, applicationID lettings.ApplicationID, in CreateInput) (*lettings.HoldingDeposit, error) {
	if in.InitialStatus == "" {
		in.InitialStatus = lettings.DepositHeld
	}
	now := s.now().UTC()
	if err := in.validate(lettings.DateOf(now)); err != nil {
		return nil, err
	}

	var (
		app     *lettings.Application
		created *lettings.HoldingDeposit
	)
	err := s.store.WithTx(ctx, func(tx lettings.Store) error {
		var err error
		app, err = tx.GetApplication(ctx, agency, applicationID)
		if err != nil {
			return err
		}
		if app.Status != lettings.ApplicationPending {
			return &lettings.ConflictError{Message: "application " + string(applicationID) + " is " + string(app.Status) + ", not pending"}
		}
		if err := tx.UpdateApplicationStatus(ctx, agency, applicationID, lettings.ApplicationApproved, now); err != nil {
			return err
		}
		created, err = s.create(ctx, tx, agency, app, in, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application approved",
		zap.String("agency_id", string(agency)),
		zap.String("application_id", string(applicationID)),
		zap.String("deposit_id", string(created.ID)),
	)
	s.notify(ctx, notify.EventApplicationApproved, app, created, now)
	return created, nil
}

// create runs inside the caller's unit of work.
func (s *Service) create(ctx context.Context, tx lettings.Store, agency lettings.AgencyID, app *lettings.Application, in CreateInput, now time.Time) (*lettings.HoldingDeposit, error) {
	propertyID := in.PropertyID
	if propertyID != nil {
		if _, err := tx.GetProperty(ctx, agency, *propertyID); err != nil {
			return nil, err
		}
	}
	if in.BedroomID != nil {
		bedroom, err := tx.GetBedroom(ctx, agency, *in.BedroomID)
		if err != nil {
			return nil, err
		}
		if propertyID != nil && *propertyID != bedroom.PropertyID {
			return nil, lettings.Invalid("bedroom_id", "bedroom %s is not in property %s", bedroom.ID, *propertyID)
		}
		propertyID = &bedroom.PropertyID

		if err := s.guard.Check(ctx, tx, agency, bedroom.ID, "", now); err != nil {
			return nil, err
		}
	}

	status := in.InitialStatus
	if status == "" {
		status = lettings.DepositAwaitingPayment
	}
	d := lettings.HoldingDeposit{
		ID:               lettings.DepositID(s.newID()),
		AgencyID:         agency,
		ApplicationID:    app.ID,
		Amount:           in.Amount,
		Status:           status,
		BedroomID:        in.BedroomID,
		PropertyID:       propertyID,
		ReservationDays:  in.ReservationDays,
		PaymentReference: in.PaymentReference,
		DateReceived:     in.DateReceived,
		Notes:            in.Notes,
		StatusChangedAt:  now,
		StatusChangedBy:  in.ChangedBy,
		CreatedAt:        now,
	}
	if status == lettings.DepositHeld && d.ReservationDays != nil {
		anchor := lettings.DateOf(now)
		if d.DateReceived != nil {
			anchor = *d.DateReceived
		}
		expiry := reservationExpiry(anchor, *d.ReservationDays)
		d.ReservationExpiresAt = &expiry
	}

	if err := tx.InsertDeposit(ctx, agency, d); err != nil {
		return nil, s.guard.translate(ctx, tx, agency, d.BedroomID, now, err)
	}
	return &d, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// RecordPayment moves an awaiting_payment deposit to held. With a
// reservation window, the bedroom is held until DateReceived plus the
// window.
func (s *Service) RecordPayment(ctx context.Context, agency lettings.AgencyID, id lettings.DepositID, in PaymentInput) (*lettings.HoldingDeposit, error) {
	now := s.now().UTC()
	if in.DateReceived.IsZero() {
		return nil, lettings.Invalid("date_received", "is required")
	}
	if in.DateReceived.After(lettings.DateOf(now)) {
		return nil, lettings.Invalid("date_received", "%s is in the future", in.DateReceived)
	}

	var app *lettings.Application
	d, err := s.update(ctx, agency, id, func(tx lettings.Store, d *lettings.HoldingDeposit) error {
		if err := transition("record payment", d, lettings.DepositHeld, now, in.ChangedBy); err != nil {
			return err
		}
		received := in.DateReceived
		d.DateReceived = &received
		d.PaymentReference = in.Reference
		d.ReservationReleased = false
		d.ReservationExpiresAt = nil
		if d.ReservationDays != nil {
			expiry := reservationExpiry(received, *d.ReservationDays)
			d.ReservationExpiresAt = &expiry
		}

		if d.BedroomID != nil && d.ReservationExpiresAt != nil {
			if err := s.guard.Check(ctx, tx, agency, *d.BedroomID, d.ID, now); err != nil {
				return err
			}
		}

		var err error
		app, err = tx.GetApplication(ctx, agency, d.ApplicationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notify.EventDepositReceived, app, d, now)
	return d, nil
}

// UndoPayment reverts a held deposit to awaiting_payment and clears the
// payment details and reservation expiry.
func (s *Service) UndoPayment(ctx context.Context, agency lettings.AgencyID, id lettings.DepositID, changedBy string) (*lettings.HoldingDeposit, error) {
	now := s.now().UTC()
	return s.update(ctx, agency, id, func(_ lettings.Store, d *lettings.HoldingDeposit) error {
		if err := transition("undo payment", d, lettings.DepositAwaitingPayment, now, changedBy); err != nil {
			return err
		}
		d.PaymentReference = ""
		d.DateReceived = nil
		d.ReservationExpiresAt = nil
		d.ReservationReleased = false
		return nil
	})
}

// SetStatus closes a deposit as refunded or forfeited.
func (s *Service) SetStatus(ctx context.Context, agency lettings.AgencyID, id lettings.DepositID, target lettings.DepositStatus, notes, changedBy string) (*lettings.HoldingDeposit, error) {
	event := notify.EventDepositRefunded
	switch target {
	case lettings.DepositRefunded:
	case lettings.DepositForfeited:
		event = notify.EventDepositForfeited
	default:
		return nil, lettings.Invalid("status", "must be refunded or forfeited, got %q", target)
	}
	now := s.now().UTC()

	var app *lettings.Application
	d, err := s.update(ctx, agency, id, func(tx lettings.Store, d *lettings.HoldingDeposit) error {
		if err := transition("set status to "+string(target), d, target, now, changedBy); err != nil {
			return err
		}
		if notes != "" {
			d.Notes = notes
		}
		var err error
		app, err = tx.GetApplication(ctx, agency, d.ApplicationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, event, app, d, now)
	return d, nil
}

// ApplyToTenancy consumes a held deposit into a tenancy's rent or deposit.
func (s *Service) ApplyToTenancy(ctx context.Context, agency lettings.AgencyID, id lettings.DepositID, tenancyID lettings.TenancyID, target lettings.DepositStatus, changedBy string) (*lettings.HoldingDeposit, error) {
	if target != lettings.DepositAppliedToRent && target != lettings.DepositAppliedToDeposit {
		return nil, lettings.Invalid("target", "must be applied_to_rent or applied_to_deposit, got %q", target)
	}
	now := s.now().UTC()
	return s.update(ctx, agency, id, func(tx lettings.Store, d *lettings.HoldingDeposit) error {
		if _, err := tx.GetTenancy(ctx, agency, tenancyID); err != nil {
			return err
		}
		if err := transition("apply to tenancy", d, target, now, changedBy); err != nil {
			return err
		}
		d.AppliedToTenancyID = &tenancyID
		return nil
	})
}

// update loads a deposit, lets fn mutate it and writes it back, all in one
// unit of work.
func (s *Service) update(ctx context.Context, agency lettings.AgencyID, id lettings.DepositID, fn func(lettings.Store, *lettings.HoldingDeposit) error) (*lettings.HoldingDeposit, error) {
	var out *lettings.HoldingDeposit
	err := s.store.WithTx(ctx, func(tx lettings.Store) error {
		d, err := tx.GetDeposit(ctx, agency, id)
		if err != nil {
			return err
		}
		from := d.Status
		if err := fn(tx, d); err != nil {
			return err
		}
		if err := tx.UpdateDeposit(ctx, agency, *d); err != nil {
			return s.guard.translate(ctx, tx, agency, d.BedroomID, d.StatusChangedAt, err)
		}

		s.logger.Info("holding deposit transition",
			zap.String("agency_id", string(agency)),
			zap.String("deposit_id", string(id)),
			zap.String("from", string(from)),
			zap.String("to", string(d.Status)),
		)
		out = d
		return nil
	})
	return out, err
}

// =============================================================================
// READS / SWEEP
// =============================================================================

func (s *Service) Get(ctx context.Context, agency lettings.AgencyID, id lettings.DepositID) (*lettings.HoldingDeposit, error) {
	return s.store.GetDeposit(ctx, agency, id)
}

// ActiveReservation reports who currently holds a bedroom, or nil.
func (s *Service) ActiveReservation(ctx context.Context, agency lettings.AgencyID, bedroomID lettings.BedroomID) (*lettings.ActiveReservation, error) {
	if _, err := s.store.GetBedroom(ctx, agency, bedroomID); err != nil {
		return nil, err
	}
	return s.guard.ActiveReservation(ctx, s.store, agency, bedroomID, s.now().UTC())
}

// ReleaseExpired flags every lapsed hold in the agency as released.
// Re-running is a no-op.
func (s *Service) ReleaseExpired(ctx context.Context, agency lettings.AgencyID) (int, error) {
	n, err := s.store.ReleaseExpiredReservations(ctx, agency, nil, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired reservations released",
			zap.String("agency_id", string(agency)),
			zap.Int("count", n),
		)
	}
	return n, nil
}

func (s *Service) notify(ctx context.Context, typ notify.EventType, app *lettings.Application, d *lettings.HoldingDeposit, at time.Time) {
	e := notify.Event{
		Type:       typ,
		AgencyID:   d.AgencyID,
		DepositID:  d.ID,
		OccurredAt: at,
		Data: map[string]string{
			"amount": d.Amount.StringFixed(lettings.MoneyPlaces),
			"status": string(d.Status),
		},
	}
	if app != nil {
		e.ApplicationID = app.ID
		e.Recipient = app.ApplicantEmail
		e.Data["applicant_name"] = app.ApplicantName
	}
	if d.ReservationExpiresAt != nil {
		e.Data["reservation_expires_at"] = d.ReservationExpiresAt.Format(time.RFC3339)
	}
	notify.BestEffort(ctx, s.logger, s.notifier, e)
}
