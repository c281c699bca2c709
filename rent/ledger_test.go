package rent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenancy-engine/lettings"
	"github.com/warp/tenancy-engine/lettings/store"
	"github.com/warp/tenancy-engine/rent"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const agency lettings.AgencyID = "agency-1"

var clock = func() time.Time { return time.Date(2025, time.May, 15, 10, 0, 0, 0, time.UTC) }

func newTestLedger(t *testing.T, lines ...lettings.PaymentSchedule) (*rent.Ledger, *store.Memory) {
	mem := store.NewMemory()
	require.NoError(t, mem.InsertSchedules(context.Background(), agency, lines))
	return rent.NewLedger(mem, clock, nil), mem
}

func line(id lettings.ScheduleID, due, amount string) lettings.PaymentSchedule {
	return lettings.PaymentSchedule{
		ID:          id,
		TenancyID:   "ten-1",
		MemberID:    "alice",
		PaymentType: lettings.PaymentRent,
		DueDate:     date(due),
		AmountDue:   money(amount),
		Status:      lettings.SchedulePending,
	}
}

// =============================================================================
// RECORD PAYMENT TESTS
// =============================================================================

func TestLedger_PartialThenPaid(t *testing.T) {
	// GIVEN: A 433.33 line due Jun 1 (in the future)
	// WHEN: Paying 200.00 then 233.33
	// THEN: partial, then paid

	ledger, _ := newTestLedger(t, line("s-jun", "2025-06-01", "433.33"))
	ctx := context.Background()

	updated, err := ledger.RecordPayment(ctx, agency, "s-jun", money("200.00"), date("2025-05-14"), "BACS-1")
	require.NoError(t, err)
	assert.Equal(t, lettings.SchedulePartial, updated.Status)

	updated, err = ledger.RecordPayment(ctx, agency, "s-jun", money("233.33"), date("2025-05-15"), "")
	require.NoError(t, err)
	assert.Equal(t, lettings.SchedulePaid, updated.Status)

	view, err := ledger.Line(ctx, agency, "s-jun")
	require.NoError(t, err)
	assert.Len(t, view.Payments, 2)
	assertMoney(t, "433.33", view.Paid)
	assertMoney(t, "0", view.Outstanding)
}

func TestLedger_Overpayment_RejectedAndUnchanged(t *testing.T) {
	// GIVEN: A line with 400.00 already paid against 433.33
	// WHEN: Paying 33.34 (one penny too much)
	// THEN: OverpaymentError; no payment written; status still partial

	ledger, _ := newTestLedger(t, line("s-jun", "2025-06-01", "433.33"))
	ctx := context.Background()

	_, err := ledger.RecordPayment(ctx, agency, "s-jun", money("400.00"), date("2025-05-14"), "")
	require.NoError(t, err)

	_, err = ledger.RecordPayment(ctx, agency, "s-jun", money("33.34"), date("2025-05-14"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, lettings.ErrOverpayment)

	var over *lettings.OverpaymentError
	require.True(t, errors.As(err, &over))
	assertMoney(t, "33.33", over.Outstanding())

	view, err := ledger.Line(ctx, agency, "s-jun")
	require.NoError(t, err)
	assert.Len(t, view.Payments, 1)
	assert.Equal(t, lettings.SchedulePartial, view.Line.Status)
	assert.True(t, view.Paid.LessThanOrEqual(view.Line.AmountDue))
}

func TestLedger_OverpaymentOnFreshLine(t *testing.T) {
	ledger, _ := newTestLedger(t, line("s-jun", "2025-06-01", "433.33"))
	ctx := context.Background()

	_, err := ledger.RecordPayment(ctx, agency, "s-jun", money("500"), date("2025-05-14"), "")
	assert.ErrorIs(t, err, lettings.ErrOverpayment)

	view, err := ledger.Line(ctx, agency, "s-jun")
	require.NoError(t, err)
	assert.Empty(t, view.Payments)
	assert.Equal(t, lettings.SchedulePending, view.Line.Status)
}

func TestLedger_RecordPayment_Validation(t *testing.T) {
	ledger, _ := newTestLedger(t, line("s-jun", "2025-06-01", "433.33"))
	ctx := context.Background()

	_, err := ledger.RecordPayment(ctx, agency, "s-jun", money("0"), date("2025-05-14"), "")
	assert.ErrorIs(t, err, lettings.ErrValidation)

	_, err = ledger.RecordPayment(ctx, agency, "s-jun", money("10.005"), date("2025-05-14"), "")
	assert.ErrorIs(t, err, lettings.ErrValidation)

	_, err = ledger.RecordPayment(ctx, agency, "s-jun", money("10"), lettings.Date{}, "")
	assert.ErrorIs(t, err, lettings.ErrValidation)

	_, err = ledger.RecordPayment(ctx, agency, "missing", money("10"), date("2025-05-14"), "")
	assert.True(t, lettings.IsNotFound(err))

	_, err = ledger.RecordPayment(ctx, "agency-2", "s-jun", money("10"), date("2025-05-14"), "")
	assert.True(t, lettings.IsNotFound(err), "other agencies cannot see the line")
}

// =============================================================================
// REVERT / DELETE TESTS
// =============================================================================

func TestLedger_RevertPayments(t *testing.T) {
	ledger, _ := newTestLedger(t, line("s-jun", "2025-06-01", "433.33"))
	ctx := context.Background()

	_, err := ledger.RecordPayment(ctx, agency, "s-jun", money("433.33"), date("2025-05-14"), "")
	require.NoError(t, err)

	updated, removed, err := ledger.RevertPayments(ctx, agency, "s-jun")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, lettings.SchedulePending, updated.Status)

	// Idempotent
	updated, removed, err = ledger.RevertPayments(ctx, agency, "s-jun")
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, lettings.SchedulePending, updated.Status)
}

func TestLedger_RevertPastDueLineIsOverdue(t *testing.T) {
	// GIVEN: A May 1 line (due before today, May 15) paid in full
	// WHEN: Reverting
	// THEN: overdue, not pending

	ledger, _ := newTestLedger(t, line("s-may", "2025-05-01", "433.33"))
	ctx := context.Background()

	_, err := ledger.RecordPayment(ctx, agency, "s-may", money("433.33"), date("2025-05-02"), "")
	require.NoError(t, err)

	updated, _, err := ledger.RevertPayments(ctx, agency, "s-may")
	require.NoError(t, err)
	assert.Equal(t, lettings.ScheduleOverdue, updated.Status)
}

func TestLedger_DeleteSinglePayment(t *testing.T) {
	ledger, mem := newTestLedger(t, line("s-jun", "2025-06-01", "433.33"))
	ctx := context.Background()

	_, err := ledger.RecordPayment(ctx, agency, "s-jun", money("200"), date("2025-05-14"), "")
	require.NoError(t, err)
	_, err = ledger.RecordPayment(ctx, agency, "s-jun", money("233.33"), date("2025-05-14"), "")
	require.NoError(t, err)

	payments, err := mem.ListPayments(ctx, agency, "s-jun")
	require.NoError(t, err)
	require.Len(t, payments, 2)

	updated, err := ledger.DeletePayment(ctx, agency, payments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, lettings.SchedulePartial, updated.Status)

	_, err = ledger.DeletePayment(ctx, agency, payments[0].ID)
	assert.True(t, lettings.IsNotFound(err))
}

// =============================================================================
// STATUS DERIVATION / OVERDUE TESTS
// =============================================================================

func TestDeriveStatus(t *testing.T) {
	today := date("2025-05-15")
	future := date("2025-06-01")
	past := date("2025-05-01")

	cases := []struct {
		name     string
		paid     string
		due      lettings.Date
		expected lettings.ScheduleStatus
	}{
		{"nothing paid", "0", future, lettings.SchedulePending},
		{"some paid", "100", future, lettings.SchedulePartial},
		{"all paid", "433.33", future, lettings.SchedulePaid},
		{"within a penny", "433.325", future, lettings.SchedulePaid},
		{"past due, nothing paid", "0", past, lettings.ScheduleOverdue},
		{"past due, some paid", "100", past, lettings.ScheduleOverdue},
		{"past due, all paid", "433.33", past, lettings.SchedulePaid},
		{"due today", "0", today, lettings.SchedulePending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, rent.DeriveStatus(money("433.33"), money(tc.paid), tc.due, today))
		})
	}
}

func TestLedger_MarkOverdue_Idempotent(t *testing.T) {
	ledger, mem := newTestLedger(t,
		line("s-apr", "2025-04-01", "433.33"),
		line("s-may", "2025-05-01", "433.33"),
		line("s-jun", "2025-06-01", "433.33"),
	)
	ctx := context.Background()

	n, err := ledger.MarkOverdue(ctx, agency, date("2025-05-15"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = ledger.MarkOverdue(ctx, agency, date("2025-05-15"))
	require.NoError(t, err)
	assert.Zero(t, n)

	jun, err := mem.GetSchedule(ctx, agency, "s-jun")
	require.NoError(t, err)
	assert.Equal(t, lettings.SchedulePending, jun.Status)
}
