package vouchers

import (
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// CalculateDiscount computes how much a voucher reduces a booking total.
// Pure decimal arithmetic: percentage discounts are capped by the snapshotted
// max discount, the result never exceeds the booking amount, is never
// negative, and is rounded half-up to 2 decimal places.
func CalculateDiscount(v *Voucher, bookingAmount decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal

	switch v.DiscountType {
	case DiscountPercentage:
		discount = bookingAmount.Mul(v.DiscountValue).Div(oneHundred)
		if v.MaxDiscountAmount != nil && discount.GreaterThan(*v.MaxDiscountAmount) {
			discount = *v.MaxDiscountAmount
		}
	case DiscountFixedAmount:
		discount = v.DiscountValue
	default:
		return decimal.Zero
	}

	if discount.GreaterThan(bookingAmount) {
		discount = bookingAmount
	}
	if discount.IsNegative() {
		return decimal.Zero
	}

	return discount.Round(2)
}

// BuildCalculation assembles the price preview for a validated voucher
func BuildCalculation(v *Voucher, bookingAmount decimal.Decimal, currency string) *DiscountCalculation {
	discount := CalculateDiscount(v, bookingAmount)
	return &DiscountCalculation{
		OriginalAmount: bookingAmount.Round(2),
		DiscountAmount: discount,
		FinalAmount:    bookingAmount.Sub(discount).Round(2),
		Currency:       currency,
		VoucherCode:    v.Code,
		VoucherID:      v.ID,
	}
}
