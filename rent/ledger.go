/*
ledger.go - Payments recorded against schedule lines

PURPOSE:
  Records real-world payments against PaymentSchedule lines, derives each
  line's status from the cumulative amount paid, and refuses overpayment.

INVARIANT:
  sum(payments.amount) <= amount_due for every line. A payment that would
  break this is rejected with *lettings.OverpaymentError and nothing is
  written; amounts are never clamped.

STATUS DERIVATION:
  paid     amount_due - cumulative < ReconciliationEpsilon
  overdue  not paid and due_date before today
  partial  cumulative > 0
  pending  otherwise

  The overdue rule means recomputing a line (after a partial payment or a
  revert) never un-flags a line the daily sweep already marked.

UNIT OF WORK:
  Every mutation re-reads the line and its payments inside WithTx, so two
  concurrent payments cannot both pass the overpayment check.

SEE ALSO:
  - schedule.go: Creates the lines
  - jobs/scheduler.go: Runs MarkOverdue daily
*/
package rent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/tenancy-engine/lettings"
	"go.uber.org/zap"
)

type Ledger struct {
	store  lettings.TxStore
	now    func() time.Time
	logger *zap.Logger
}

func NewLedger(store lettings.TxStore, now func() time.Time, logger *zap.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, now: now, logger: logger}
}

// LineView is a line with its payments and running totals.
type LineView struct {
	Line        lettings.PaymentSchedule
	Payments    []lettings.Payment
	Paid        decimal.Decimal
	Outstanding decimal.Decimal
}

// DeriveStatus computes a line's status from what has been paid.
func DeriveStatus(amountDue, paid decimal.Decimal, dueDate, today lettings.Date) lettings.ScheduleStatus {
	switch {
	case amountDue.Sub(paid).LessThan(ReconciliationEpsilon):
		return lettings.SchedulePaid
	case dueDate.Before(today):
		return lettings.ScheduleOverdue
	case paid.IsPositive():
		return lettings.SchedulePartial
	default:
		return lettings.SchedulePending
	}
}

// RecordPayment adds a payment to a line and returns the updated line.
func (l *Ledger) RecordPayment(ctx context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID, amount decimal.Decimal, paidDate lettings.Date, reference string) (*lettings.PaymentSchedule, error) {
	if !amount.IsPositive() {
		return nil, lettings.Invalid("amount", "must be greater than zero")
	}
	if !amount.Equal(lettings.RoundMoney(amount)) {
		return nil, lettings.Invalid("amount", "must have at most %d decimal places", lettings.MoneyPlaces)
	}
	if paidDate.IsZero() {
		return nil, lettings.Invalid("paid_date", "is required")
	}

	var updated *lettings.PaymentSchedule
	err := l.store.WithTx(ctx, func(tx lettings.Store) error {
		line, err := tx.GetSchedule(ctx, agency, scheduleID)
		if err != nil {
			return err
		}
		paid, _, err := paidSoFar(ctx, tx, agency, scheduleID)
		if err != nil {
			return err
		}

		if paid.Add(amount).GreaterThan(line.AmountDue) {
			return &lettings.OverpaymentError{
				ScheduleID:  scheduleID,
				AmountDue:   line.AmountDue,
				AlreadyPaid: paid,
				Attempted:   amount,
			}
		}

		now := l.now().UTC()
		payment := lettings.Payment{
			ID:         lettings.PaymentID(uuid.NewString()),
			AgencyID:   agency,
			ScheduleID: scheduleID,
			Amount:     lettings.RoundMoney(amount),
			PaidDate:   paidDate,
			Reference:  reference,
			CreatedAt:  now,
		}
		if err := tx.InsertPayment(ctx, agency, payment); err != nil {
			return err
		}

		updated, err = l.refreshStatus(ctx, tx, agency, *line, paid.Add(payment.Amount), now)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("payment recorded",
		zap.String("agency_id", string(agency)),
		zap.String("schedule_id", string(scheduleID)),
		zap.String("amount", amount.StringFixed(lettings.MoneyPlaces)),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// RevertPayments deletes every payment on a line and recomputes its status.
func (l *Ledger) RevertPayments(ctx context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID) (*lettings.PaymentSchedule, int, error) {
	var (
		updated *lettings.PaymentSchedule
		removed int
	)
	err := l.store.WithTx(ctx, func(tx lettings.Store) error {
		line, err := tx.GetSchedule(ctx, agency, scheduleID)
		if err != nil {
			return err
		}
		removed, err = tx.DeletePaymentsForSchedule(ctx, agency, scheduleID)
		if err != nil {
			return err
		}
		updated, err = l.refreshStatus(ctx, tx, agency, *line, decimal.Zero, l.now().UTC())
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	l.logger.Info("payments reverted",
		zap.String("agency_id", string(agency)),
		zap.String("schedule_id", string(scheduleID)),
		zap.Int("removed", removed),
	)
	return updated, removed, nil
}

// DeletePayment removes one payment and recomputes its line.
func (l *Ledger) DeletePayment(ctx context.Context, agency lettings.AgencyID, paymentID lettings.PaymentID) (*lettings.PaymentSchedule, error) {
	var updated *lettings.PaymentSchedule
	err := l.store.WithTx(ctx, func(tx lettings.Store) error {
		payment, err := tx.GetPayment(ctx, agency, paymentID)
		if err != nil {
			return err
		}
		line, err := tx.GetSchedule(ctx, agency, payment.ScheduleID)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, agency, paymentID); err != nil {
			return err
		}
		paid, _, err := paidSoFar(ctx, tx, agency, line.ID)
		if err != nil {
			return err
		}
		updated, err = l.refreshStatus(ctx, tx, agency, *line, paid, l.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkOverdue flips pending/partial lines due before asOf. Safe to re-run.
func (l *Ledger) MarkOverdue(ctx context.Context, agency lettings.AgencyID, asOf lettings.Date) (int, error) {
	return l.store.MarkOverdue(ctx, agency, asOf, l.now().UTC())
}

// Line returns a line with its payments.
func (l *Ledger) Line(ctx context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID) (*LineView, error) {
	line, err := l.store.GetSchedule(ctx, agency, scheduleID)
	if err != nil {
		return nil, err
	}
	paid, payments, err := paidSoFar(ctx, l.store, agency, scheduleID)
	if err != nil {
		return nil, err
	}
	return &LineView{
		Line:        *line,
		Payments:    payments,
		Paid:        paid,
		Outstanding: line.AmountDue.Sub(paid),
	}, nil
}

func paidSoFar(ctx context.Context, s lettings.ScheduleStore, agency lettings.AgencyID, scheduleID lettings.ScheduleID) (decimal.Decimal, []lettings.Payment, error) {
	payments, err := s.ListPayments(ctx, agency, scheduleID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total, payments, nil
}

func (l *Ledger) refreshStatus(ctx context.Context, tx lettings.Store, agency lettings.AgencyID, line lettings.PaymentSchedule, paid decimal.Decimal, now time.Time) (*lettings.PaymentSchedule, error) {
	status := DeriveStatus(line.AmountDue, paid, line.DueDate, lettings.DateOf(now))
	if status != line.Status {
		if err := tx.UpdateScheduleStatus(ctx, agency, line.ID, status, now); err != nil {
			return nil, err
		}
		line.Status = status
		line.UpdatedAt = now
	}
	return &line, nil
}
