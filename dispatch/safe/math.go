package safe

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrDivisionByZero is returned when attempting to divide by zero.
var ErrDivisionByZero = errors.New("division by zero")

var (
	hundredDecimal     = decimal.NewFromInt(100)
	basisPointsDecimal = decimal.NewFromInt(10000)
)

// Divide performs decimal division with zero check.
func Divide(numerator, denominator decimal.Decimal) (decimal.Decimal, error) {
	if denominator.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}

	return numerator.Div(denominator), nil
}

// DivideOrZero performs decimal division, returning zero if denominator is zero.
//
//	rate := safe.DivideOrZero(failed, total)
func DivideOrZero(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}

	return numerator.Div(denominator)
}

// PercentageOrZero calculates (numerator / denominator) * 100, or zero when
// denominator is zero.
func PercentageOrZero(numerator, denominator decimal.Decimal) decimal.Decimal {
	return DivideOrZero(numerator, denominator).Mul(hundredDecimal)
}

// RatioOrZero returns part/whole as a float64 in [0, 1] for non-negative
// inputs, or zero when whole is zero.
func RatioOrZero(part, whole int64) float64 {
	f, _ := DivideOrZero(decimal.NewFromInt(part), decimal.NewFromInt(whole)).Float64()

	return f
}

// BasisPointsOrZero returns part/whole in basis points (1/100 of a percent),
// rounded half away from zero. Zero when whole is zero.
func BasisPointsOrZero(part, whole int64) int64 {
	return DivideOrZero(decimal.NewFromInt(part), decimal.NewFromInt(whole)).
		Mul(basisPointsDecimal).
		Round(0).
		IntPart()
}

// MeanDuration returns the arithmetic mean of samples, or zero for none.
func MeanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}

	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(decimal.NewFromInt(int64(s)))
	}

	return time.Duration(sum.Div(decimal.NewFromInt(int64(len(samples)))).Round(0).IntPart())
}
