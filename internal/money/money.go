// Package money implements the currency rounding used on PVPC bills.
//
// Amounts travel as float64 but every rounding happens on a base-10 decimal, so
// half-cent boundaries (1.005, 2.675, ...) round the way the regulator prints them:
// half away from zero.
package money

import "github.com/shopspring/decimal"

// Precision is the number of decimals of a currency amount (0.01 €).
const Precision int32 = 2

// Round rounds v to cents, half away from zero.
func Round(v float64) float64 {
	return RoundPlaces(v, Precision)
}

// RoundPlaces rounds v to the given number of decimals, half away from zero.
func RoundPlaces(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// RoundSum rounds every value to cents and adds the rounded values.
// This is not the same as rounding the sum.
func RoundSum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v).Round(Precision))
	}
	return total.InexactFloat64()
}

// Sum adds the values in decimal arithmetic, without rounding.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.InexactFloat64()
}

// RoundMul multiplies the factors in decimal arithmetic and rounds the product to cents.
func RoundMul(factors ...float64) float64 {
	return product(factors).Round(Precision).InexactFloat64()
}

// RoundMulDecimal is RoundMul for a product whose last factor is already a decimal
// coefficient.
func RoundMulDecimal(coef decimal.Decimal, factors ...float64) float64 {
	return product(factors).Mul(coef).Round(Precision).InexactFloat64()
}

func product(factors []float64) decimal.Decimal {
	p := decimal.NewFromInt(1)
	for _, f := range factors {
		p = p.Mul(decimal.NewFromFloat(f))
	}
	return p
}
