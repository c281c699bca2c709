/*
proration.go - Weekly rent to calendar-month amounts

PURPOSE:
  Tenants are quoted a price per person per week (PPPW); rent is demanded
  per calendar month (PCM). Prorate explains how a demanded amount maps onto
  calendar months: a full month, a single partial month, or a span of
  several months.

RATES:
  monthlyRate = round2(pppw * 52 / 12)
  dailyRate   = pppw / 7 (full precision; rounded only for display)

CLASSIFICATION (checked in this order):
  1. Full month:  |amountDue - monthlyRate| < FullMonthTolerance
  2. Multi-month: amountDue / monthlyRate >= MultiMonthThreshold,
                  or the line is a rolling first payment with partial
  3. Otherwise a single partial month

  The rolling first payment is an exception to the threshold: it always
  takes the multi-month path, even below MultiMonthThreshold, because it
  covers a partial month plus the whole month it is due in and the walk
  must start at the tenancy start rather than the due date.

MULTI-MONTH WALK:
  From actualStart (the tenancy start for a rolling first payment, else
  max(dueDate, tenancyStart)) walk calendar months. Each month contributes
  monthlyRate when the overlap with [actualStart, tenancyEnd] is the whole
  month, else round2(days / daysInMonth * monthlyRate). Stop when the
  remaining amount is <= ReconciliationEpsilon, the month starts after the
  tenancy end, or after MaxBreakdownMonths months.

  Example: pppw 100, amountDue 1300.00, due 2025-06-01, tenancy ends
  2025-08-15:
    Jun  30/30  433.33
    Jul  31/31  433.33
    Aug  15/31  209.68   <- partial, truncated at tenancy end

PURITY:
  No I/O. pppw <= 0 is a caller precondition; Prorate returns an empty
  breakdown rather than dividing by zero.

SEE ALSO:
  - schedule.go: Uses the same contribution rule to build lines
*/
package rent

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/tenancy-engine/lettings"
)

// =============================================================================
// CONSTANTS
// =============================================================================

var (
	// FullMonthTolerance absorbs upstream rounding of a one-month demand.
	FullMonthTolerance = decimal.RequireFromString("0.50")

	// MultiMonthThreshold separates a single partial month from a span.
	MultiMonthThreshold = decimal.RequireFromString("1.5")

	// AverageDaysPerMonth is used only for the full-month display rate.
	AverageDaysPerMonth = decimal.RequireFromString("30.4375")

	// ReconciliationEpsilon is the pence-level tolerance for sums.
	ReconciliationEpsilon = decimal.RequireFromString("0.01")

	weeksPerYear  = decimal.NewFromInt(52)
	monthsPerYear = decimal.NewFromInt(12)
	daysPerWeek   = decimal.NewFromInt(7)
)

// MaxBreakdownMonths caps the multi-month walk.
const MaxBreakdownMonths = 12

// RollingFirstPartialMarker is embedded in a line description when the line
// is due on the 1st but also covers the partial month before it.
const RollingFirstPartialMarker = "[rolling_first_partial]"

// =============================================================================
// TYPES
// =============================================================================

type ProrationInput struct {
	PPPW                decimal.Decimal
	AmountDue           decimal.Decimal
	DueDate             lettings.Date
	TenancyStart        lettings.Date
	TenancyEnd          *lettings.Date // nil = rolling
	RollingFirstPartial bool
}

// MonthShare is one calendar month's slice of a demanded amount.
type MonthShare struct {
	Month         string          `json:"month"` // YYYY-MM
	From          lettings.Date   `json:"from"`
	To            lettings.Date   `json:"to"`
	Days          int             `json:"days"`
	FullMonthDays int             `json:"full_month_days"`
	IsFullMonth   bool            `json:"is_full_month"`
	Amount        decimal.Decimal `json:"amount"`
}

type Breakdown struct {
	MonthlyRate      decimal.Decimal `json:"monthly_rate"`
	DailyRate        decimal.Decimal `json:"daily_rate"`
	RentPerDay       decimal.Decimal `json:"rent_per_day"`
	IsFullMonth      bool            `json:"is_full_month"`
	IsMultiMonth     bool            `json:"is_multi_month"`
	Days             int             `json:"days"`
	Months           []MonthShare    `json:"months,omitempty"`
	CalculatedAmount decimal.Decimal `json:"calculated_amount"`
	PeriodStart      lettings.Date   `json:"period_start"`
	PeriodEnd        lettings.Date   `json:"period_end"`
}

// Reconciles reports whether CalculatedAmount matches amountDue to the pence.
func (b Breakdown) Reconciles(amountDue decimal.Decimal) bool {
	return b.CalculatedAmount.Sub(amountDue).Abs().LessThanOrEqual(ReconciliationEpsilon)
}

// =============================================================================
// RATES
// =============================================================================

// MonthlyRate converts a weekly rate to PCM, rounded to pence.
func MonthlyRate(pppw decimal.Decimal) decimal.Decimal {
	return lettings.RoundMoney(pppw.Mul(weeksPerYear).Div(monthsPerYear))
}

// DailyRate is pppw / 7 at full precision.
func DailyRate(pppw decimal.Decimal) decimal.Decimal {
	return pppw.Div(daysPerWeek)
}

// =============================================================================
// PRORATE
// =============================================================================

func Prorate(in ProrationInput) Breakdown {
	monthly := MonthlyRate(in.PPPW)
	daily := DailyRate(in.PPPW)

	b := Breakdown{
		MonthlyRate: monthly,
		DailyRate:   lettings.RoundMoney(daily),
		RentPerDay:  lettings.RoundMoney(daily),
		PeriodStart: in.DueDate,
		PeriodEnd:   in.DueDate,
	}
	if !monthly.IsPositive() {
		return b
	}

	end := lettings.FarFuture
	if in.TenancyEnd != nil {
		end = *in.TenancyEnd
	}

	// 1. Full month
	if lettings.WithinTolerance(in.AmountDue, monthly, FullMonthTolerance) {
		b.IsFullMonth = true
		b.Days = int(in.AmountDue.Div(daily).Round(0).IntPart())
		b.RentPerDay = lettings.RoundMoney(monthly.Div(AverageDaysPerMonth))
		b.CalculatedAmount = monthly
		b.PeriodEnd = estimatedEnd(in.DueDate, b.Days, in.TenancyEnd)
		return b
	}

	// 2. Multi-month
	ratio := in.AmountDue.Div(monthly)
	if in.RollingFirstPartial || ratio.GreaterThanOrEqual(MultiMonthThreshold) {
		actualStart := lettings.MaxDate(in.DueDate, in.TenancyStart)
		if in.RollingFirstPartial {
			actualStart = in.TenancyStart
		}

		b.IsMultiMonth = true
		b.Months = splitMonths(monthly, lettings.Period{Start: actualStart, End: end}, in.AmountDue)
		for _, m := range b.Months {
			b.Days += m.Days
			b.CalculatedAmount = b.CalculatedAmount.Add(m.Amount)
		}
		if len(b.Months) > 0 {
			b.PeriodStart = b.Months[0].From
			b.PeriodEnd = b.Months[len(b.Months)-1].To
		}
		return b
	}

	// 3. Single partial month
	daysInMonth := decimal.NewFromInt(int64(lettings.DaysInMonth(in.DueDate)))
	b.Days = int(ratio.Mul(daysInMonth).Round(0).IntPart())
	b.PeriodEnd = estimatedEnd(in.DueDate, b.Days, in.TenancyEnd)
	for _, m := range contributions(monthly, lettings.Period{Start: b.PeriodStart, End: b.PeriodEnd}) {
		b.CalculatedAmount = b.CalculatedAmount.Add(m.Amount)
	}
	return b
}

// splitMonths walks calendar months from span.Start, consuming amountDue.
func splitMonths(monthly decimal.Decimal, span lettings.Period, amountDue decimal.Decimal) []MonthShare {
	var months []MonthShare
	remaining := amountDue
	cursor := lettings.StartOfMonth(span.Start)

	for i := 0; i < MaxBreakdownMonths && remaining.GreaterThan(ReconciliationEpsilon); i++ {
		month := lettings.MonthOf(cursor)
		if month.Start.After(span.End) {
			break
		}
		cursor = cursor.AddMonths(1)

		overlap, ok := span.Overlap(month)
		if !ok {
			continue
		}
		share := monthShare(monthly, overlap)
		remaining = remaining.Sub(share.Amount)
		months = append(months, share)
	}
	return months
}

// contributions splits an exact period into its calendar-month shares.
// Used by the generator to price a line and by Prorate to price an estimate.
func contributions(monthly decimal.Decimal, p lettings.Period) []MonthShare {
	var months []MonthShare
	for cursor := lettings.StartOfMonth(p.Start); !cursor.After(p.End); cursor = cursor.AddMonths(1) {
		if overlap, ok := p.Overlap(lettings.MonthOf(cursor)); ok {
			months = append(months, monthShare(monthly, overlap))
		}
	}
	return months
}

func monthShare(monthly decimal.Decimal, overlap lettings.Period) MonthShare {
	full := lettings.DaysInMonth(overlap.Start)
	share := MonthShare{
		Month:         overlap.Start.Time.Format("2006-01"),
		From:          overlap.Start,
		To:            overlap.End,
		Days:          overlap.Days(),
		FullMonthDays: full,
		IsFullMonth:   overlap.IsWholeMonth(),
	}
	if share.IsFullMonth {
		share.Amount = monthly
	} else {
		share.Amount = lettings.RoundMoney(
			decimal.NewFromInt(int64(share.Days)).Div(decimal.NewFromInt(int64(full))).Mul(monthly))
	}
	return share
}

func estimatedEnd(due lettings.Date, days int, tenancyEnd *lettings.Date) lettings.Date {
	if days < 1 {
		return due
	}
	end := due.AddDays(days - 1)
	if tenancyEnd != nil {
		end = lettings.MinDate(end, *tenancyEnd)
	}
	return end
}

// =============================================================================
// STORED LINES
// =============================================================================

// IsRollingFirstPartial reports whether a line description carries the marker.
func IsRollingFirstPartial(description string) bool {
	return strings.Contains(description, RollingFirstPartialMarker)
}

// InputForLine builds the calculator input for a stored rent line.
func InputForLine(line lettings.PaymentSchedule, member lettings.TenancyMember, tenancy lettings.Tenancy) ProrationInput {
	return ProrationInput{
		PPPW:                member.RentPPPW,
		AmountDue:           line.AmountDue,
		DueDate:             line.DueDate,
		TenancyStart:        tenancy.StartDate,
		TenancyEnd:          tenancy.EndDate,
		RollingFirstPartial: IsRollingFirstPartial(line.Description),
	}
}
