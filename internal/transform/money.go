package transform

import (
	"github.com/shopspring/decimal"

	"brazekit/internal/model"
)

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// LineTotal returns (base price + customization prices) * quantity, rounded to cents.
func LineTotal(it model.OrderItem) float64 {
	sum := decimal.NewFromFloat(it.Item.Price.Float64())
	for _, c := range it.Customizations {
		sum = sum.Add(decimal.NewFromFloat(c.Price.Float64()))
	}
	return sum.Mul(decimal.NewFromInt(int64(it.Quantity.Int()))).Round(2).InexactFloat64()
}
