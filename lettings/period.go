package lettings

// =============================================================================
// PERIOD - Inclusive span of days a charge covers
// =============================================================================

// Period is the inclusive day span [Start, End].
//
// Examples:
//   - A full calendar month: Mar 1 - Mar 31
//   - A partial first month: Jan 15 - Jan 31
//   - A quarter: Jan 15 - Mar 31
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days is the inclusive day count.
func (p Period) Days() int { return DaysInclusive(p.Start, p.End) }

// Overlap intersects two periods. ok is false when they are disjoint.
func (p Period) Overlap(other Period) (Period, bool) {
	o := Period{Start: MaxDate(p.Start, other.Start), End: MinDate(p.End, other.End)}
	if o.End.Before(o.Start) {
		return Period{}, false
	}
	return o, true
}

// Overlaps reports whether the periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	_, ok := p.Overlap(other)
	return ok
}

// MonthOf returns the calendar month containing d as a period.
func MonthOf(d Date) Period {
	return Period{Start: StartOfMonth(d), End: EndOfMonth(d)}
}

// IsWholeMonth reports whether p is exactly one calendar month.
func (p Period) IsWholeMonth() bool {
	return p.Start.Equal(StartOfMonth(p.Start)) && p.End.Equal(EndOfMonth(p.Start))
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
