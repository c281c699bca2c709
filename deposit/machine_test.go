package deposit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/tenancy-engine/deposit"
	"github.com/warp/tenancy-engine/lettings"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to lettings.DepositStatus
		allowed  bool
	}{
		{lettings.DepositAwaitingPayment, lettings.DepositHeld, true},
		{lettings.DepositAwaitingPayment, lettings.DepositRefunded, true},
		{lettings.DepositAwaitingPayment, lettings.DepositForfeited, true},
		{lettings.DepositAwaitingPayment, lettings.DepositAppliedToRent, false},
		{lettings.DepositHeld, lettings.DepositAwaitingPayment, true},
		{lettings.DepositHeld, lettings.DepositAppliedToRent, true},
		{lettings.DepositHeld, lettings.DepositAppliedToDeposit, true},
		{lettings.DepositHeld, lettings.DepositRefunded, true},
		{lettings.DepositHeld, lettings.DepositHeld, false},
		{lettings.DepositRefunded, lettings.DepositHeld, false},
		{lettings.DepositAppliedToRent, lettings.DepositRefunded, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, deposit.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitions_TerminalStatusesHaveNoExits(t *testing.T) {
	for from := range deposit.Transitions {
		assert.False(t, from.IsTerminal(), "%s is terminal but has transitions", from)
	}
	for _, s := range []lettings.DepositStatus{
		lettings.DepositAppliedToRent, lettings.DepositAppliedToDeposit,
		lettings.DepositRefunded, lettings.DepositForfeited,
	} {
		assert.Empty(t, deposit.Transitions[s])
	}
}
