// Package safe provides panic-free ratio math.
//
// Ratios are computed with shopspring/decimal so rolling error rates and
// latency averages never divide by zero or drift through float rounding.
package safe
