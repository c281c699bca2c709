package lettings

import "github.com/shopspring/decimal"

// Currency is the single currency the engine books in.
const Currency = "GBP"

// MoneyPlaces is the number of minor-unit decimal places.
const MoneyPlaces = 2

// RoundMoney rounds to pence, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// ParseMoney parses a decimal string such as "433.33".
func ParseMoney(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustParseMoney is ParseMoney for literals. It panics on bad input.
func MustParseMoney(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SumMoney adds a list of amounts.
func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// WithinTolerance reports |a - b| < tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(tolerance)
}
