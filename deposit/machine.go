/*
Package deposit manages per-application holding deposits.

PURPOSE:
  A holding deposit secures an application and may reserve one bedroom for
  a number of days. This package owns the deposit lifecycle and the
  one-active-reservation-per-bedroom rule.

STATE MACHINE:

	awaiting_payment ──recordPayment──▶ held ──applyToTenancy──▶ applied_to_rent
	       ▲                              │                    └▶ applied_to_deposit
	       └────────undoPayment───────────┘
	awaiting_payment, held ──setStatus──▶ refunded | forfeited

  Every applied_*, refunded and forfeited status is terminal.

RESERVATION:
  A deposit reserves its bedroom while it is held, not released, and its
  reservation_expires_at lies in the future. Expiry is lazy: nothing fires
  at the expiry instant, the sweep (ReleaseExpired) flags stale holds.

SEE ALSO:
  - guard.go: Active reservation lookup and conflict error
  - service.go: Operations, each in one unit of work
*/
package deposit

import (
	"time"

	"github.com/warp/tenancy-engine/lettings"
)

// Transitions lists the statuses reachable from each non-terminal status.
var Transitions = map[lettings.DepositStatus][]lettings.DepositStatus{
	lettings.DepositAwaitingPayment: {
		lettings.DepositHeld,
		lettings.DepositRefunded,
		lettings.DepositForfeited,
	},
	lettings.DepositHeld: {
		lettings.DepositAwaitingPayment,
		lettings.DepositAppliedToRent,
		lettings.DepositAppliedToDeposit,
		lettings.DepositRefunded,
		lettings.DepositForfeited,
	},
}

// statusOrder fixes the order statuses are reported in errors.
var statusOrder = []lettings.DepositStatus{
	lettings.DepositAwaitingPayment,
	lettings.DepositHeld,
	lettings.DepositAppliedToRent,
	lettings.DepositAppliedToDeposit,
	lettings.DepositRefunded,
	lettings.DepositForfeited,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to lettings.DepositStatus) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may move to to.
func sourcesOf(to lettings.DepositStatus) []lettings.DepositStatus {
	var out []lettings.DepositStatus
	for _, from := range statusOrder {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// transition moves d to the target status and stamps the audit fields, or
// returns a *StateError naming the current and required statuses.
func transition(op string, d *lettings.HoldingDeposit, to lettings.DepositStatus, at time.Time, by string) error {
	if !CanTransition(d.Status, to) {
		return &lettings.StateError{Op: op, Current: d.Status, Required: sourcesOf(to)}
	}
	d.Status = to
	d.StatusChangedAt = at
	d.StatusChangedBy = by
	return nil
}

// reservationExpiry is the instant a hold taken on anchor lapses.
func reservationExpiry(anchor lettings.Date, days int) time.Time {
	return anchor.AddDays(days).Time.UTC()
}
