//go:build unit

package safe

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDivide(t *testing.T) {
	t.Parallel()

	got, err := Divide(decimal.NewFromInt(10), decimal.NewFromInt(4))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("2.5")))

	_, err = Divide(decimal.NewFromInt(1), decimal.Zero)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestDivideOrZero(t *testing.T) {
	t.Parallel()

	assert.True(t, DivideOrZero(decimal.NewFromInt(1), decimal.Zero).IsZero())
	assert.True(t, PercentageOrZero(decimal.NewFromInt(1), decimal.NewFromInt(4)).Equal(decimal.NewFromInt(25)))
}

func TestRatioAndBasisPoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		part      int64
		whole     int64
		wantRatio float64
		wantBP    int64
	}{
		{name: "empty window", part: 0, whole: 0, wantRatio: 0, wantBP: 0},
		{name: "no failures", part: 0, whole: 10, wantRatio: 0, wantBP: 0},
		{name: "quarter", part: 1, whole: 4, wantRatio: 0.25, wantBP: 2500},
		{name: "all failed", part: 7, whole: 7, wantRatio: 1, wantBP: 10000},
		{name: "rounds", part: 1, whole: 3, wantRatio: 1.0 / 3.0, wantBP: 3333},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.InDelta(t, tt.wantRatio, RatioOrZero(tt.part, tt.whole), 1e-9)
			assert.Equal(t, tt.wantBP, BasisPointsOrZero(tt.part, tt.whole))
		})
	}
}

func TestMeanDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), MeanDuration(nil))
	assert.Equal(t, 20*time.Millisecond, MeanDuration([]time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond,
	}))
}
