package usecase

import (
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/shopspring/decimal"
)

// maxPriceCents — 1 млрд в основной валюте.
var maxPriceCents = decimal.NewFromInt(1_000_000_000).Mul(decimal.NewFromInt(100))

// priceToCents переводит цену "599.99" в копейки. Отрицательные значения, больше двух
// знаков после запятой и суммы выше maxPriceCents отклоняются.
func priceToCents(price decimal.NullDecimal) (*int64, error) {
	if !price.Valid {
		return nil, nil
	}

	d := price.Decimal
	if d.LessThan(decimal.Zero) {
		return nil, e.ErrInvalidPrice
	}

	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.Equal(cents.Truncate(0)) {
		return nil, e.ErrPricePrecision
	}
	if cents.GreaterThan(maxPriceCents) {
		return nil, e.ErrInvalidPrice
	}

	v := cents.IntPart()
	return &v, nil
}
