package domain

import "github.com/shopspring/decimal"

// MeterPlaces is the number of decimal places persisted for meter quantities.
const MeterPlaces = 6

// Epsilon is the tolerance applied to every meter comparison.
var Epsilon = decimal.New(1, -MeterPlaces)

// RoundMeters rounds m to MeterPlaces decimal places.
func RoundMeters(m decimal.Decimal) decimal.Decimal {
	return m.Round(MeterPlaces)
}

// Positive reports whether m exceeds Epsilon.
func Positive(m decimal.Decimal) bool {
	return m.GreaterThan(Epsilon)
}

// NearZero reports whether |m| is within Epsilon.
func NearZero(m decimal.Decimal) bool {
	return m.Abs().LessThanOrEqual(Epsilon)
}

// NearlyEqual reports whether a and b differ by at most Epsilon.
func NearlyEqual(a, b decimal.Decimal) bool {
	return NearZero(a.Sub(b))
}

// ClampZero floors m at zero.
func ClampZero(m decimal.Decimal) decimal.Decimal {
	if m.IsNegative() {
		return decimal.Zero
	}
	return m
}

// SumMeters adds values.
func SumMeters(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Meters builds a quantity from a float, as read from loosely typed sources.
func Meters(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
