package rent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/tenancy-engine/lettings"
)

// =============================================================================
// PAYMENT SCHEDULE GENERATOR
// =============================================================================

// DepositLeadDays is how long before the tenancy start the deposit is due.
const DepositLeadDays = 7

// InitialMonthlyPeriods is how many monthly periods monthly_to_quarterly
// bills before switching to quarters.
const InitialMonthlyPeriods = 3

// DefaultRollingLeadDays is how far ahead rolling lines are generated.
const DefaultRollingLeadDays = 14

type GenerateOptions struct {
	// AsOf anchors the rolling horizon (AsOf + RollingLeadDays).
	AsOf            lettings.Date
	RollingLeadDays int
	Now             time.Time
	NewID           func() string
}

func (o GenerateOptions) withDefaults() GenerateOptions {
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
	if o.AsOf.IsZero() {
		o.AsOf = lettings.DateOf(o.Now)
	}
	if o.RollingLeadDays <= 0 {
		o.RollingLeadDays = DefaultRollingLeadDays
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

func (o GenerateOptions) horizon() lettings.Date {
	return o.AsOf.AddDays(o.RollingLeadDays)
}

// ValidateTenancy checks the tenancy can be scheduled.
func ValidateTenancy(t lettings.Tenancy, members []lettings.TenancyMember) error {
	if t.StartDate.IsZero() {
		return lettings.Invalid("start_date", "is required")
	}
	if !t.Cadence.Valid() {
		return lettings.Invalid("cadence", "unknown payment cadence %q", t.Cadence)
	}
	if t.EndDate != nil && t.EndDate.Before(t.StartDate) {
		return lettings.Invalid("end_date", "%s is before start date %s", t.EndDate, t.StartDate)
	}
	if t.IsRolling() && t.Cadence != lettings.CadenceMonthly {
		return lettings.Invalid("cadence", "rolling tenancies support monthly cadence only, got %q", t.Cadence)
	}
	if len(members) == 0 {
		return lettings.Invalid("members", "tenancy %s has no members", t.ID)
	}
	for _, m := range members {
		if !m.RentPPPW.IsPositive() {
			return lettings.Invalid("rent_pppw", "member %s must have a positive weekly rent", m.ID)
		}
		if m.DepositAmount.IsNegative() {
			return lettings.Invalid("deposit_amount", "member %s has a negative deposit", m.ID)
		}
	}
	return nil
}

// Generate builds every line for a fixed-term tenancy, or the lines inside
// the rolling horizon for a rolling tenancy, plus the deposit line.
func Generate(t lettings.Tenancy, members []lettings.TenancyMember, opts GenerateOptions) ([]lettings.PaymentSchedule, error) {
	if err := ValidateTenancy(t, members); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	var lines []lettings.PaymentSchedule
	if deposit, ok := depositLine(t, members, opts); ok {
		lines = append(lines, deposit)
	}

	for _, m := range members {
		var periods []billingPeriod
		if t.IsRolling() {
			periods = rollingPeriods(t, nil, opts.horizon())
		} else {
			periods = reconcilable(fixedPeriods(t), MonthlyRate(m.RentPPPW))
		}
		for _, p := range periods {
			lines = append(lines, rentLine(t, m, p, opts))
		}
	}
	return lines, nil
}

// ExtendRolling continues each member's rolling schedule from the last
// covered day up to the horizon. existing is the tenancy's current lines.
func ExtendRolling(t lettings.Tenancy, members []lettings.TenancyMember, existing []lettings.PaymentSchedule, opts GenerateOptions) ([]lettings.PaymentSchedule, error) {
	if !t.IsRolling() {
		return nil, nil
	}
	if err := ValidateTenancy(t, members); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	lastCovered := make(map[lettings.MemberID]lettings.Date)
	for _, l := range existing {
		if l.PaymentType != lettings.PaymentRent || l.CoversTo == nil {
			continue
		}
		if last, ok := lastCovered[l.MemberID]; !ok || l.CoversTo.After(last) {
			lastCovered[l.MemberID] = *l.CoversTo
		}
	}

	var lines []lettings.PaymentSchedule
	for _, m := range members {
		var after *lettings.Date
		if last, ok := lastCovered[m.ID]; ok {
			after = &last
		}
		for _, p := range rollingPeriods(t, after, opts.horizon()) {
			lines = append(lines, rentLine(t, m, p, opts))
		}
	}
	return lines, nil
}

// =============================================================================
// PERIODS
// =============================================================================

type billingPeriod struct {
	lettings.Period
	Due                 lettings.Date
	RollingFirstPartial bool
}

// fixedPeriods splits [start, end] by cadence. After the first period every
// period starts on the 1st of a month.
func fixedPeriods(t lettings.Tenancy) []billingPeriod {
	end := *t.EndDate
	if t.Cadence == lettings.CadenceUpfront {
		return []billingPeriod{{Period: lettings.Period{Start: t.StartDate, End: end}, Due: t.StartDate}}
	}

	var periods []billingPeriod
	start := t.StartDate
	for i := 0; !start.After(end); i++ {
		months := 1
		switch t.Cadence {
		case lettings.CadenceQuarterly:
			months = 3
		case lettings.CadenceMonthlyToQuarterly:
			if i >= InitialMonthlyPeriods {
				months = 3
			}
		}
		periodEnd := lettings.MinDate(lettings.EndOfMonth(lettings.StartOfMonth(start).AddMonths(months-1)), end)
		periods = append(periods, billingPeriod{Period: lettings.Period{Start: start, End: periodEnd}, Due: start})
		start = periodEnd.AddDays(1)
	}
	return periods
}

// reconcilable reshapes fixed-term periods so Prorate can explain each line
// from its amount alone. A period over MaxBreakdownMonths calendar months is
// cut into chunks of that many months. A period that spans several calendar
// months but is worth less than MultiMonthThreshold months would be read as
// a single partial month, so it is billed month by month instead.
func reconcilable(periods []billingPeriod, monthly decimal.Decimal) []billingPeriod {
	var out []billingPeriod
	for _, p := range periods {
		for _, chunk := range splitPeriod(p, MaxBreakdownMonths) {
			if calendarMonths(chunk.Period) > 1 && periodAmount(monthly, chunk.Period).Div(monthly).LessThan(MultiMonthThreshold) {
				out = append(out, splitPeriod(chunk, 1)...)
				continue
			}
			out = append(out, chunk)
		}
	}
	return out
}

// splitPeriod cuts p into consecutive periods of at most n calendar months,
// each due on its first day.
func splitPeriod(p billingPeriod, n int) []billingPeriod {
	if calendarMonths(p.Period) <= n {
		return []billingPeriod{p}
	}
	var out []billingPeriod
	for start := p.Start; !start.After(p.End); {
		end := lettings.MinDate(lettings.EndOfMonth(lettings.StartOfMonth(start).AddMonths(n-1)), p.End)
		out = append(out, billingPeriod{Period: lettings.Period{Start: start, End: end}, Due: start})
		start = end.AddDays(1)
	}
	return out
}

func calendarMonths(p lettings.Period) int {
	return (p.End.Year()-p.Start.Year())*12 + int(p.End.Month()-p.Start.Month()) + 1
}

// rollingPeriods returns monthly periods after the given covered day (or from
// the tenancy start) whose due date is on or before horizon.
func rollingPeriods(t lettings.Tenancy, after *lettings.Date, horizon lettings.Date) []billingPeriod {
	var periods []billingPeriod
	start := t.StartDate

	if after == nil && start.Day() != 1 {
		// Partial first month is billed with the following month, due on
		// the 1st of that month.
		nextMonth := lettings.StartOfMonth(start).AddMonths(1)
		first := billingPeriod{
			Period:              lettings.Period{Start: start, End: lettings.EndOfMonth(nextMonth)},
			Due:                 nextMonth,
			RollingFirstPartial: true,
		}
		if first.Due.After(horizon) {
			return nil
		}
		periods = append(periods, first)
		start = first.End.AddDays(1)
	} else if after != nil {
		start = after.AddDays(1)
	}

	for !start.After(horizon) {
		p := billingPeriod{Period: lettings.Period{Start: start, End: lettings.EndOfMonth(start)}, Due: start}
		periods = append(periods, p)
		start = p.End.AddDays(1)
	}
	return periods
}

// =============================================================================
// LINES
// =============================================================================

func rentLine(t lettings.Tenancy, m lettings.TenancyMember, p billingPeriod, opts GenerateOptions) lettings.PaymentSchedule {
	amount := periodAmount(MonthlyRate(m.RentPPPW), p.Period)

	description := fmt.Sprintf("Rent %s to %s", p.Start, p.End)
	if m.Name != "" {
		description += " for " + m.Name
	}
	if p.RollingFirstPartial {
		description += " " + RollingFirstPartialMarker
	}

	from, to := p.Start, p.End
	return lettings.PaymentSchedule{
		ID:          lettings.ScheduleID(opts.NewID()),
		AgencyID:    t.AgencyID,
		TenancyID:   t.ID,
		MemberID:    m.ID,
		PaymentType: lettings.PaymentRent,
		DueDate:     p.Due,
		AmountDue:   amount,
		CoversFrom:  &from,
		CoversTo:    &to,
		Status:      lettings.SchedulePending,
		Description: description,
		CreatedAt:   opts.Now,
		UpdatedAt:   opts.Now,
	}
}

// periodAmount prices an exact period with the calculator's contribution rule.
func periodAmount(monthly decimal.Decimal, p lettings.Period) decimal.Decimal {
	amount := decimal.Zero
	for _, share := range contributions(monthly, p) {
		amount = amount.Add(share.Amount)
	}
	return amount
}

func depositLine(t lettings.Tenancy, members []lettings.TenancyMember, opts GenerateOptions) (lettings.PaymentSchedule, bool) {
	total := decimal.Zero
	for _, m := range members {
		total = total.Add(m.DepositAmount)
	}
	if !total.IsPositive() {
		return lettings.PaymentSchedule{}, false
	}

	return lettings.PaymentSchedule{
		ID:          lettings.ScheduleID(opts.NewID()),
		AgencyID:    t.AgencyID,
		TenancyID:   t.ID,
		PaymentType: lettings.PaymentDeposit,
		DueDate:     t.StartDate.AddDays(-DepositLeadDays),
		AmountDue:   lettings.RoundMoney(total),
		Status:      lettings.SchedulePending,
		Description: "Tenancy deposit",
		CreatedAt:   opts.Now,
		UpdatedAt:   opts.Now,
	}, true
}
