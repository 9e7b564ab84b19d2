package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/azogue/pvpcbill/internal/money"
)

func TestRound_HalfUp(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"half_cent_up", 1.005, 1.01},
		{"below_half", 1.004, 1.00},
		{"negative_half_away_from_zero", -1.005, -1.01},
		{"negative_below_half", -1.004, -1.00},
		{"binary_trap", 2.675, 2.68},
		{"binary_trap_2", 0.125, 0.13},
		{"already_rounded", 14.34, 14.34},
		{"zero", 0, 0},
		{"large", 123456.785, 123456.79},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, money.Round(tt.in))
		})
	}
}

func TestRound_Idempotent(t *testing.T) {
	for _, v := range []float64{0.1 + 0.2, 1.005, -3.14159, 99.995, 1e-9, 70.8 * 0.21, 36.00000000001} {
		once := money.Round(v)
		assert.Equal(t, once, money.Round(once), "value %v", v)
	}
}

func TestRoundPlaces(t *testing.T) {
	assert.Equal(t, 0.103944, money.RoundPlaces(38.043426/366, 6))
	assert.Equal(t, 0.008505, money.RoundPlaces(3.113/366, 6))
	assert.Equal(t, 0.10959, money.RoundPlaces(40/365.0, 5))
}

func TestRoundSum_SumOfRounded(t *testing.T) {
	values := []float64{0.004, 0.004, 0.004}

	assert.Equal(t, 0.0, money.RoundSum(values...))
	assert.Equal(t, 0.01, money.Round(values[0]+values[1]+values[2]))

	halves := []float64{0.005, 0.005, 0.005}
	assert.Equal(t, 0.03, money.RoundSum(halves...))
	assert.Equal(t, 0.02, money.Round(money.Sum(halves...)))
}

func TestRoundSum_ExactCents(t *testing.T) {
	// 0.1 + 0.2 in binary floating point is 0.30000000000000004.
	assert.Equal(t, 0.3, money.RoundSum(0.1, 0.2))
	assert.Equal(t, 0.3, money.Sum(0.1, 0.2))
	assert.Equal(t, 0.0, money.RoundSum())
}

func TestRoundMul(t *testing.T) {
	assert.Equal(t, 14.34, money.RoundMul(4.6, 30, 0.103944))
	assert.Equal(t, 1.17, money.RoundMul(4.6, 30, 0.008505))
	assert.Equal(t, 14.87, money.RoundMul(70.8, 0.21))
	assert.Equal(t, -16.84, money.RoundMul(-0.25, 67.36))
}

func TestRoundMulDecimal(t *testing.T) {
	coef := decimal.RequireFromString("0.044027")
	assert.Equal(t, 15.85, money.RoundMulDecimal(coef, 360))
	assert.Equal(t, 0.0, money.RoundMulDecimal(coef, 0))
}
