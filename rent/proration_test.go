package rent_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenancy-engine/lettings"
	"github.com/warp/tenancy-engine/rent"
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(s string) lettings.Date { return lettings.MustParseDate(s) }

func assertMoney(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, money(expected).Equal(actual), "expected %s, got %s", expected, actual.String())
}

// =============================================================================
// FULL MONTH
// =============================================================================

func TestProrate_FullMonth(t *testing.T) {
	// GIVEN: pppw 100, tenancy 2025, due Jun 1, amount 433.33
	// WHEN: Prorating
	// THEN: Full month at the 433.33 monthly rate

	b := rent.Prorate(rent.ProrationInput{
		PPPW:         money("100"),
		AmountDue:    money("433.33"),
		DueDate:      date("2025-06-01"),
		TenancyStart: date("2025-01-01"),
		TenancyEnd:   date("2025-12-31").Ptr(),
	})

	assert.True(t, b.IsFullMonth)
	assert.False(t, b.IsMultiMonth)
	assertMoney(t, "433.33", b.MonthlyRate)
	assertMoney(t, "14.29", b.DailyRate)
	assertMoney(t, "14.24", b.RentPerDay) // 433.33 / 30.4375
	assert.Equal(t, 30, b.Days)
	assert.Equal(t, "2025-06-01", b.PeriodStart.String())
	assert.Equal(t, "2025-06-30", b.PeriodEnd.String())
}

func TestProrate_FullMonth_AcrossRates(t *testing.T) {
	// GIVEN: A range of weekly rates, each demanded at its monthly rate
	//        and just inside the 0.50 tolerance either side
	// THEN: Always a full month, days = round(amount / (pppw / 7))

	for _, pppw := range []string{"50", "87.50", "100", "123.45", "250", "999.99"} {
		rate := money(pppw)
		monthly := rent.MonthlyRate(rate)

		for _, delta := range []string{"0", "0.49", "-0.49"} {
			amount := monthly.Add(money(delta))
			b := rent.Prorate(rent.ProrationInput{
				PPPW:         rate,
				AmountDue:    amount,
				DueDate:      date("2025-03-01"),
				TenancyStart: date("2025-01-01"),
			})

			require.True(t, b.IsFullMonth, "pppw %s amount %s", pppw, amount)
			expectedDays := amount.Div(rate.Div(decimal.NewFromInt(7))).Round(0).IntPart()
			assert.Equal(t, int(expectedDays), b.Days, "pppw %s amount %s", pppw, amount)
		}
	}
}

func TestProrate_OutsideToleranceIsNotFull(t *testing.T) {
	b := rent.Prorate(rent.ProrationInput{
		PPPW:         money("100"),
		AmountDue:    money("432.83"), // 0.50 below
		DueDate:      date("2025-03-01"),
		TenancyStart: date("2025-01-01"),
	})
	assert.False(t, b.IsFullMonth)
	assert.False(t, b.IsMultiMonth)
}

// =============================================================================
// MULTI-MONTH
// =============================================================================

func TestProrate_MultiMonth_TruncatedAtTenancyEnd(t *testing.T) {
	// GIVEN: pppw 100, 1300.00 due Jun 1 (three months), tenancy ends Aug 15
	// WHEN: Prorating
	// THEN: Jun and Jul full, Aug is a 15-day partial

	b := rent.Prorate(rent.ProrationInput{
		PPPW:         money("100"),
		AmountDue:    money("1300.00"),
		DueDate:      date("2025-06-01"),
		TenancyStart: date("2025-01-01"),
		TenancyEnd:   date("2025-08-15").Ptr(),
	})

	require.True(t, b.IsMultiMonth)
	require.Len(t, b.Months, 3)

	assert.True(t, b.Months[0].IsFullMonth)
	assert.True(t, b.Months[1].IsFullMonth)

	last := b.Months[2]
	assert.Equal(t, "2025-08", last.Month)
	assert.False(t, last.IsFullMonth)
	assert.Equal(t, 15, last.Days)
	assert.Equal(t, 31, last.FullMonthDays)
	assertMoney(t, "209.68", last.Amount)

	assert.Equal(t, 30+31+15, b.Days)
	assert.Equal(t, "2025-06-01", b.PeriodStart.String())
	assert.Equal(t, "2025-08-15", b.PeriodEnd.String())
	assertMoney(t, "1076.34", b.CalculatedAmount)
}

func TestProrate_MultiMonth_SumReconciles(t *testing.T) {
	// GIVEN: A quarter starting mid-month, priced month by month
	//        Jan 15-31 = 17/31 * 520.00 = 285.16, Feb 520.00, Mar 520.00
	// THEN: Per-month amounts sum to the amount due within 0.01

	b := rent.Prorate(rent.ProrationInput{
		PPPW:         money("120"),
		AmountDue:    money("1325.16"),
		DueDate:      date("2025-01-15"),
		TenancyStart: date("2025-01-15"),
		TenancyEnd:   date("2025-12-31").Ptr(),
	})

	require.True(t, b.IsMultiMonth)
	require.Len(t, b.Months, 3)
	assert.Equal(t, 17, b.Months[0].Days)
	assertMoney(t, "285.16", b.Months[0].Amount)
	assert.True(t, b.Reconciles(money("1325.16")))
	assert.Equal(t, "2025-03-31", b.PeriodEnd.String())
}

func TestProrate_MultiMonth_RollingUsesFarFuture(t *testing.T) {
	b := rent.Prorate(rent.ProrationInput{
		PPPW:         money("100"),
		AmountDue:    money("866.66"),
		DueDate:      date("2025-03-01"),
		TenancyStart: date("2025-01-01"),
	})

	require.True(t, b.IsMultiMonth)
	require.Len(t, b.Months, 2)
	assert.Equal(t, "2025-04-30", b.PeriodEnd.String())
	assert.True(t, b.Reconciles(money("866.66")))
}

func TestProrate_MultiMonth_CappedAtTwelveMonths(t *testing.T) {
	b := rent.Prorate(rent.ProrationInput{
		PPPW:         money("100"),
		AmountDue:    money("10000"),
		DueDate:      date("2025-01-01"),
		TenancyStart: date("2025-01-01"),
	})

	assert.Len(t, b.Months, rent.MaxBreakdownMonths)
	assert.False(t, b.Reconciles(money("10000")))
}

func TestProrate_RollingFirstPartial_AnchorsOnTenancyStart(t *testing.T) {
	// GIVEN: Rolling tenancy from Jan 20; first line due Feb 1 covers
	//        Jan 20-31 (12/31 * 433.33 = 167.74) plus February
	// WHEN: Prorating with the rolling-first-partial flag
	// THEN: Split starts at Jan 20, not the due date

	b := rent.Prorate(rent.ProrationInput{
		PPPW:                money("100"),
		AmountDue:           money("601.07"),
		DueDate:             date("2025-02-01"),
		TenancyStart:        date("2025-01-20"),
		RollingFirstPartial: true,
	})

	require.True(t, b.IsMultiMonth)
	require.Len(t, b.Months, 2)
	assert.Equal(t, "2025-01-20", b.PeriodStart.String())
	assert.Equal(t, 12, b.Months[0].Days)
	assertMoney(t, "167.74", b.Months[0].Amount)
	assert.True(t, b.Months[1].IsFullMonth)
	assert.Equal(t, "2025-02-28", b.PeriodEnd.String())
	assert.True(t, b.Reconciles(money("601.07")))
}

// =============================================================================
// SINGLE PARTIAL MONTH
// =============================================================================

func TestProrate_SinglePartial_BackSolvesDays(t *testing.T) {
	// GIVEN: First month Jan 15-31 at 17/31 * 433.33 = 237.63
	// THEN: 17 days, period Jan 15-31

	b := rent.Prorate(rent.ProrationInput{
		PPPW:         money("100"),
		AmountDue:    money("237.63"),
		DueDate:      date("2025-01-15"),
		TenancyStart: date("2025-01-15"),
		TenancyEnd:   date("2025-07-14").Ptr(),
	})

	assert.False(t, b.IsFullMonth)
	assert.False(t, b.IsMultiMonth)
	assert.Equal(t, 17, b.Days)
	assert.Equal(t, "2025-01-31", b.PeriodEnd.String())
	assertMoney(t, "14.29", b.RentPerDay)
	assert.True(t, b.Reconciles(money("237.63")))
}

func TestProrate_SinglePartial_CappedAtTenancyEnd(t *testing.T) {
	b := rent.Prorate(rent.ProrationInput{
		PPPW:         money("100"),
		AmountDue:    money("300.00"),
		DueDate:      date("2025-07-01"),
		TenancyStart: date("2025-01-01"),
		TenancyEnd:   date("2025-07-10").Ptr(),
	})

	assert.Equal(t, 21, b.Days) // round(300 / 433.33 * 31)
	assert.Equal(t, "2025-07-10", b.PeriodEnd.String())
}

func TestProrate_ZeroRateIsEmpty(t *testing.T) {
	b := rent.Prorate(rent.ProrationInput{
		PPPW:      decimal.Zero,
		AmountDue: money("100"),
		DueDate:   date("2025-07-01"),
	})
	assert.False(t, b.IsFullMonth)
	assert.False(t, b.IsMultiMonth)
	assert.Zero(t, b.Days)
}

func TestInputForLine_DetectsMarker(t *testing.T) {
	from, to := date("2025-01-20"), date("2025-02-28")
	line := lettings.PaymentSchedule{
		DueDate:     date("2025-02-01"),
		AmountDue:   money("601.07"),
		CoversFrom:  &from,
		CoversTo:    &to,
		Description: "Rent 2025-01-20 to 2025-02-28 " + rent.RollingFirstPartialMarker,
	}
	in := rent.InputForLine(line,
		lettings.TenancyMember{RentPPPW: money("100")},
		lettings.Tenancy{StartDate: date("2025-01-20")},
	)
	assert.True(t, in.RollingFirstPartial)
	assert.Nil(t, in.TenancyEnd)
}
