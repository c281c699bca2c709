package rent_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenancy-engine/lettings"
	"github.com/warp/tenancy-engine/rent"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("line-%02d", n)
	}
}

func fixedTenancy(start, end string, cadence lettings.PaymentCadence) lettings.Tenancy {
	t := lettings.Tenancy{
		ID:        "ten-1",
		AgencyID:  "agency-1",
		StartDate: date(start),
		Cadence:   cadence,
	}
	if end != "" {
		t.EndDate = date(end).Ptr()
	}
	return t
}

func member(id lettings.MemberID, pppw, deposit string) lettings.TenancyMember {
	return lettings.TenancyMember{
		ID:            id,
		TenancyID:     "ten-1",
		Name:          string(id),
		RentPPPW:      money(pppw),
		DepositAmount: money(deposit),
	}
}

func opts(asOf string) rent.GenerateOptions {
	return rent.GenerateOptions{
		AsOf:            date(asOf),
		RollingLeadDays: 14,
		Now:             time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		NewID:           sequentialIDs(),
	}
}

func rentLines(lines []lettings.PaymentSchedule, memberID lettings.MemberID) []lettings.PaymentSchedule {
	var out []lettings.PaymentSchedule
	for _, l := range lines {
		if l.PaymentType == lettings.PaymentRent && l.MemberID == memberID {
			out = append(out, l)
		}
	}
	return out
}

// assertScheduleInvariants checks contiguous, non-overlapping cover periods
// and that the calculator reconciles every rent line.
func assertScheduleInvariants(t *testing.T, tenancy lettings.Tenancy, m lettings.TenancyMember, lines []lettings.PaymentSchedule) {
	t.Helper()
	for i, l := range lines {
		require.NotNil(t, l.CoversFrom)
		require.NotNil(t, l.CoversTo)
		if i > 0 {
			assert.Equal(t, lines[i-1].CoversTo.AddDays(1), *l.CoversFrom,
				"line %d must start the day after line %d ends", i, i-1)
		}

		b := rent.Prorate(rent.InputForLine(l, m, tenancy))
		assert.True(t, b.Reconciles(l.AmountDue),
			"line %s %s..%s: amount %s, calculated %s",
			l.ID, l.CoversFrom, l.CoversTo, l.AmountDue, b.CalculatedAmount)
	}
	if len(lines) > 0 {
		assert.Equal(t, tenancy.StartDate, *lines[0].CoversFrom)
		if tenancy.EndDate != nil {
			assert.Equal(t, *tenancy.EndDate, *lines[len(lines)-1].CoversTo)
		}
	}
}

// =============================================================================
// CADENCE TESTS
// =============================================================================

func TestGenerate_Monthly_PartialFirstAndLast(t *testing.T) {
	// GIVEN: Monthly tenancy Jan 15 - Jul 14, pppw 100
	// WHEN: Generating
	// THEN: Jan 15-31 partial, Feb-Jun full, Jul 1-14 partial

	tenancy := fixedTenancy("2025-01-15", "2025-07-14", lettings.CadenceMonthly)
	m := member("alice", "100", "0")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2025-01-01"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 7)
	assertMoney(t, "237.63", rentOnly[0].AmountDue)
	for _, l := range rentOnly[1:6] {
		assertMoney(t, "433.33", l.AmountDue)
	}
	assertMoney(t, "195.70", rentOnly[6].AmountDue)
	assert.Equal(t, "2025-02-01", rentOnly[1].DueDate.String())
	assertScheduleInvariants(t, tenancy, m, rentOnly)
}

func TestGenerate_Quarterly(t *testing.T) {
	tenancy := fixedTenancy("2025-01-15", "2026-01-14", lettings.CadenceQuarterly)
	m := member("alice", "100", "0")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2025-01-01"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 5)
	assert.Equal(t, "2025-03-31", rentOnly[0].CoversTo.String())
	assert.Equal(t, "2025-04-01", rentOnly[1].CoversFrom.String())
	assertMoney(t, "1299.99", rentOnly[1].AmountDue)
	assert.Equal(t, "2026-01-01", rentOnly[4].CoversFrom.String())
	assertScheduleInvariants(t, tenancy, m, rentOnly)
}

func TestGenerate_Quarterly_ShortTail(t *testing.T) {
	// GIVEN: Quarterly tenancy ending May 10, so the last quarter is
	//        April plus 10 days of May (ratio < 1.5)
	// THEN: The tail is billed as April and May 1-10, both reconcile

	tenancy := fixedTenancy("2025-01-01", "2025-05-10", lettings.CadenceQuarterly)
	m := member("alice", "100", "0")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2025-01-01"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 3)
	assertMoney(t, "433.33", rentOnly[1].AmountDue)
	assertMoney(t, "139.78", rentOnly[2].AmountDue) // 10/31 * 433.33
	assert.Equal(t, "2025-05-01", rentOnly[2].DueDate.String())
	assertScheduleInvariants(t, tenancy, m, rentOnly)
}

func TestGenerate_Quarterly_TailStartingInFebruary(t *testing.T) {
	// GIVEN: Quarterly tenancy Nov 1 - Mar 10; the tail runs from the
	//        28-day February into the 31-day March
	// THEN: February and March 1-10 are separate lines that reconcile

	tenancy := fixedTenancy("2024-11-01", "2025-03-10", lettings.CadenceQuarterly)
	m := member("alice", "100", "0")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2024-11-01"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 3)
	assertMoney(t, "1299.99", rentOnly[0].AmountDue)
	assert.Equal(t, "2025-02-01", rentOnly[1].CoversFrom.String())
	assert.Equal(t, "2025-02-28", rentOnly[1].CoversTo.String())
	assertMoney(t, "433.33", rentOnly[1].AmountDue)
	assertMoney(t, "139.78", rentOnly[2].AmountDue)
	assertScheduleInvariants(t, tenancy, m, rentOnly)
}

func TestGenerate_MonthlyToQuarterly(t *testing.T) {
	tenancy := fixedTenancy("2025-01-01", "2025-12-31", lettings.CadenceMonthlyToQuarterly)
	m := member("alice", "100", "0")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2025-01-01"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 6) // Jan, Feb, Mar, Q2, Q3, Q4
	for _, l := range rentOnly[:3] {
		assertMoney(t, "433.33", l.AmountDue)
	}
	assert.Equal(t, "2025-04-01", rentOnly[3].CoversFrom.String())
	assert.Equal(t, "2025-06-30", rentOnly[3].CoversTo.String())
	assertScheduleInvariants(t, tenancy, m, rentOnly)
}

func TestGenerate_Upfront(t *testing.T) {
	tenancy := fixedTenancy("2025-01-01", "2025-12-31", lettings.CadenceUpfront)
	m := member("alice", "100", "0")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2025-01-01"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 1)
	assertMoney(t, "5199.96", rentOnly[0].AmountDue)
	assertScheduleInvariants(t, tenancy, m, rentOnly)
}

func TestGenerate_Upfront_ShortSpanBilledMonthly(t *testing.T) {
	// GIVEN: Upfront tenancy Feb 1 - Mar 10, worth less than 1.5 months
	// THEN: One line per month so the calculator can explain each

	tenancy := fixedTenancy("2025-02-01", "2025-03-10", lettings.CadenceUpfront)
	m := member("alice", "100", "0")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2025-01-01"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 2)
	assertMoney(t, "433.33", rentOnly[0].AmountDue)
	assertMoney(t, "139.78", rentOnly[1].AmountDue)
	assertScheduleInvariants(t, tenancy, m, rentOnly)
}

func TestGenerate_Upfront_ThirteenMonths(t *testing.T) {
	// GIVEN: Upfront tenancy Jan 2025 - Jan 2026
	// THEN: Twelve months up front, then January 2026 on its own line

	tenancy := fixedTenancy("2025-01-01", "2026-01-31", lettings.CadenceUpfront)
	m := member("alice", "100", "0")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2025-01-01"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 2)
	assertMoney(t, "5199.96", rentOnly[0].AmountDue)
	assert.Equal(t, "2025-12-31", rentOnly[0].CoversTo.String())
	assert.Equal(t, "2026-01-01", rentOnly[1].DueDate.String())
	assertMoney(t, "433.33", rentOnly[1].AmountDue)
	assertScheduleInvariants(t, tenancy, m, rentOnly)
}

func TestGenerate_Upfront_StudentYearAcrossThirteenCalendarMonths(t *testing.T) {
	// GIVEN: Upfront Sep 13 - Sep 12, which touches 13 calendar months
	// THEN: Sep 13 - Aug 31 up front, Sep 1-12 as a final partial month

	tenancy := fixedTenancy("2025-09-13", "2026-09-12", lettings.CadenceUpfront)
	m := member("alice", "100", "0")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2025-09-01"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 2)
	assertMoney(t, "5026.63", rentOnly[0].AmountDue) // 18/30 * 433.33 + 11 * 433.33
	assertMoney(t, "173.33", rentOnly[1].AmountDue)  // 12/30 * 433.33
	assertScheduleInvariants(t, tenancy, m, rentOnly)
}

func TestGenerate_PerMemberAndDepositLine(t *testing.T) {
	// GIVEN: Two members with different rents and deposits 500 + 450
	// THEN: Each member has their own lines; one deposit line due 7 days
	//       before start for 950.00

	tenancy := fixedTenancy("2025-09-01", "2026-06-30", lettings.CadenceMonthly)
	members := []lettings.TenancyMember{
		member("alice", "100", "500"),
		member("bob", "115", "450"),
	}

	lines, err := rent.Generate(tenancy, members, opts("2025-08-01"))
	require.NoError(t, err)

	var deposits []lettings.PaymentSchedule
	for _, l := range lines {
		if l.PaymentType == lettings.PaymentDeposit {
			deposits = append(deposits, l)
		}
	}
	require.Len(t, deposits, 1)
	assertMoney(t, "950", deposits[0].AmountDue)
	assert.Equal(t, "2025-08-25", deposits[0].DueDate.String())
	assert.Nil(t, deposits[0].CoversFrom)
	assert.Empty(t, deposits[0].MemberID)

	assert.Len(t, rentLines(lines, "alice"), 10)
	bob := rentLines(lines, "bob")
	require.Len(t, bob, 10)
	assertMoney(t, "498.33", bob[0].AmountDue) // 115 * 52 / 12
	assertScheduleInvariants(t, tenancy, members[1], bob)
}

func TestGenerate_NoDepositLineWhenZero(t *testing.T) {
	tenancy := fixedTenancy("2025-01-01", "2025-03-31", lettings.CadenceMonthly)
	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{member("alice", "100", "0")}, opts("2025-01-01"))
	require.NoError(t, err)
	for _, l := range lines {
		assert.NotEqual(t, lettings.PaymentDeposit, l.PaymentType)
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestGenerate_Rejects(t *testing.T) {
	m := []lettings.TenancyMember{member("alice", "100", "0")}

	cases := map[string]struct {
		tenancy lettings.Tenancy
		members []lettings.TenancyMember
	}{
		"upfront rolling":    {fixedTenancy("2025-01-01", "", lettings.CadenceUpfront), m},
		"quarterly rolling":  {fixedTenancy("2025-01-01", "", lettings.CadenceQuarterly), m},
		"end before start":   {fixedTenancy("2025-05-01", "2025-04-01", lettings.CadenceMonthly), m},
		"unknown cadence":    {fixedTenancy("2025-01-01", "2025-12-31", "weekly"), m},
		"no members":         {fixedTenancy("2025-01-01", "2025-12-31", lettings.CadenceMonthly), nil},
		"zero rent":          {fixedTenancy("2025-01-01", "2025-12-31", lettings.CadenceMonthly), []lettings.TenancyMember{member("a", "0", "0")}},
		"negative deposit":   {fixedTenancy("2025-01-01", "2025-12-31", lettings.CadenceMonthly), []lettings.TenancyMember{member("a", "100", "-1")}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := rent.Generate(tc.tenancy, tc.members, opts("2025-01-01"))
			assert.ErrorIs(t, err, lettings.ErrValidation)
		})
	}
}

// =============================================================================
// ROLLING TESTS
// =============================================================================

func TestGenerate_Rolling_FirstPartialDueOnFirstOfNextMonth(t *testing.T) {
	// GIVEN: Rolling monthly tenancy from Jan 20, generated on Jan 20
	// WHEN: Generating with a 14-day horizon (Feb 3)
	// THEN: One rent line due Feb 1 covering Jan 20 - Feb 28 with the marker

	tenancy := fixedTenancy("2025-01-20", "", lettings.CadenceMonthly)
	m := member("alice", "100", "400")

	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{m}, opts("2025-01-20"))
	require.NoError(t, err)

	rentOnly := rentLines(lines, "alice")
	require.Len(t, rentOnly, 1)
	first := rentOnly[0]
	assert.Equal(t, "2025-02-01", first.DueDate.String())
	assert.Equal(t, "2025-01-20", first.CoversFrom.String())
	assert.Equal(t, "2025-02-28", first.CoversTo.String())
	assertMoney(t, "601.07", first.AmountDue)
	assert.True(t, rent.IsRollingFirstPartial(first.Description))
	assertScheduleInvariants(t, tenancy, m, rentOnly)

	assert.Len(t, lines, 2, "rent line plus deposit line")
}

func TestGenerate_Rolling_BeforeHorizonGeneratesNoRent(t *testing.T) {
	tenancy := fixedTenancy("2025-03-01", "", lettings.CadenceMonthly)
	lines, err := rent.Generate(tenancy, []lettings.TenancyMember{member("alice", "100", "0")}, opts("2025-01-01"))
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestExtendRolling_ContinuesFromLastCover(t *testing.T) {
	// GIVEN: The first rolling line covering Jan 20 - Feb 28
	// WHEN: Extending on Feb 20 (horizon Mar 6)
	// THEN: March is added; extending again adds nothing

	tenancy := fixedTenancy("2025-01-20", "", lettings.CadenceMonthly)
	m := member("alice", "100", "0")
	members := []lettings.TenancyMember{m}

	initial, err := rent.Generate(tenancy, members, opts("2025-01-20"))
	require.NoError(t, err)
	require.Len(t, initial, 1)

	added, err := rent.ExtendRolling(tenancy, members, initial, opts("2025-02-20"))
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "2025-03-01", added[0].DueDate.String())
	assert.Equal(t, "2025-03-31", added[0].CoversTo.String())
	assertMoney(t, "433.33", added[0].AmountDue)
	assert.False(t, rent.IsRollingFirstPartial(added[0].Description))

	all := append(initial, added...)
	again, err := rent.ExtendRolling(tenancy, members, all, opts("2025-02-20"))
	require.NoError(t, err)
	assert.Empty(t, again)

	assertScheduleInvariants(t, tenancy, m, all)
}

func TestExtendRolling_IgnoresFixedTerm(t *testing.T) {
	tenancy := fixedTenancy("2025-01-01", "2025-12-31", lettings.CadenceMonthly)
	lines, err := rent.ExtendRolling(tenancy, []lettings.TenancyMember{member("alice", "100", "0")}, nil, opts("2025-06-01"))
	require.NoError(t, err)
	assert.Empty(t, lines)
}
