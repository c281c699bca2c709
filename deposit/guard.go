package deposit

import (
	"context"
	"errors"
	"time"

	"github.com/warp/tenancy-engine/lettings"
)

// Guard answers "is this bedroom already held?" for the state machine and for
// operators looking at a bedroom.
type Guard struct{}

// ActiveReservation returns the single held, unreleased, unexpired
// reservation for the bedroom, or nil.
func (Guard) ActiveReservation(ctx context.Context, store lettings.DepositStore, agency lettings.AgencyID, bedroomID lettings.BedroomID, now time.Time) (*lettings.ActiveReservation, error) {
	return store.ActiveReservation(ctx, agency, bedroomID, now)
}

// Check rejects a new hold on bedroomID with a *ReservationConflictError when
// another deposit holds it. The deposit being updated is passed as self so
// it never conflicts with itself.
//
// Expired but unreleased holds for the bedroom are released first so the
// storage uniqueness constraint only ever sees live holds.
func (g Guard) Check(ctx context.Context, store lettings.DepositStore, agency lettings.AgencyID, bedroomID lettings.BedroomID, self lettings.DepositID, now time.Time) error {
	if _, err := store.ReleaseExpiredReservations(ctx, agency, &bedroomID, now); err != nil {
		return err
	}
	active, err := g.ActiveReservation(ctx, store, agency, bedroomID, now)
	if err != nil {
		return err
	}
	if active == nil || active.Deposit.ID == self {
		return nil
	}
	return conflictFor(bedroomID, active)
}

// translate turns the store-level constraint signal into the detailed
// conflict error. Used when a write loses the race despite Check.
func (g Guard) translate(ctx context.Context, store lettings.DepositStore, agency lettings.AgencyID, bedroomID *lettings.BedroomID, now time.Time, err error) error {
	if !errors.Is(err, lettings.ErrActiveReservation) || bedroomID == nil {
		return err
	}
	active, lookupErr := g.ActiveReservation(ctx, store, agency, *bedroomID, now)
	if lookupErr != nil || active == nil {
		return &lettings.ConflictError{Message: err.Error()}
	}
	return conflictFor(*bedroomID, active)
}

func conflictFor(bedroomID lettings.BedroomID, active *lettings.ActiveReservation) error {
	return &lettings.ReservationConflictError{
		BedroomID:     bedroomID,
		DepositID:     active.Deposit.ID,
		ApplicantName: active.ApplicantName,
		ExpiresAt:     *active.Deposit.ReservationExpiresAt,
	}
}
