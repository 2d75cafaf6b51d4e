package vouchers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/easybooktrip/loyalty-engine/internal/earning"
	"github.com/easybooktrip/loyalty-engine/internal/ledger"
)

// DiscountType represents how a voucher reduces a booking total
type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

// VoucherStatus represents a voucher's lifecycle state. Transitions are
// one-way: ACTIVE -> USED | EXPIRED | CANCELLED, never back.
type VoucherStatus string

const (
	StatusActive    VoucherStatus = "ACTIVE"
	StatusUsed      VoucherStatus = "USED"
	StatusExpired   VoucherStatus = "EXPIRED"
	StatusCancelled VoucherStatus = "CANCELLED"
)

// RewardRule is a redeemable catalog entry, the template vouchers are issued
// from. Managed by an external admin service except for the usage counter.
type RewardRule struct {
	ID                 uuid.UUID          `json:"id" db:"id"`
	Name               string             `json:"name" db:"name"`
	Description        *string            `json:"description,omitempty" db:"description"`
	PointsRequired     int64              `json:"points_required" db:"points_required"`
	DiscountType       DiscountType       `json:"discount_type" db:"discount_type"`
	DiscountValue      decimal.Decimal    `json:"discount_value" db:"discount_value"`
	Currency           *string            `json:"currency,omitempty" db:"currency"`
	MaxDiscountAmount  *decimal.Decimal   `json:"max_discount_amount,omitempty" db:"max_discount_amount"`
	ApplicableProducts []earning.Category `json:"applicable_products" db:"applicable_products"`
	MinBookingAmount   *decimal.Decimal   `json:"min_booking_amount,omitempty" db:"min_booking_amount"`
	ValidityDays       int                `json:"validity_days" db:"validity_days"`
	RequiredTier       *ledger.Tier       `json:"required_tier,omitempty" db:"required_tier"`
	MaxUsagePerUser    *int               `json:"max_usage_per_user,omitempty" db:"max_usage_per_user"`
	MaxTotalUsage      *int               `json:"max_total_usage,omitempty" db:"max_total_usage"`
	CurrentUsageCount  int                `json:"current_usage_count" db:"current_usage_count"`
	IsActive           bool               `json:"is_active" db:"is_active"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
}

// Voucher is a concrete, user-owned discount instance. Discount fields are
// snapshotted from the rule at issue time so later rule edits never change an
// issued voucher.
type Voucher struct {
	ID                 uuid.UUID          `json:"id" db:"id"`
	UserID             uuid.UUID          `json:"user_id" db:"user_id"`
	RewardRuleID       uuid.UUID          `json:"reward_rule_id" db:"reward_rule_id"`
	Code               string             `json:"code" db:"code"`
	Status             VoucherStatus      `json:"status" db:"status"`
	DiscountType       DiscountType       `json:"discount_type" db:"discount_type"`
	DiscountValue      decimal.Decimal    `json:"discount_value" db:"discount_value"`
	Currency           *string            `json:"currency,omitempty" db:"currency"`
	MaxDiscountAmount  *decimal.Decimal   `json:"max_discount_amount,omitempty" db:"max_discount_amount"`
	ApplicableProducts []earning.Category `json:"applicable_products" db:"applicable_products"`
	MinBookingAmount   *decimal.Decimal   `json:"min_booking_amount,omitempty" db:"min_booking_amount"`
	ExpiresAt          time.Time          `json:"expires_at" db:"expires_at"`
	UsedAt             *time.Time         `json:"used_at,omitempty" db:"used_at"`
	UsedOnBookingID    *uuid.UUID         `json:"used_on_booking_id,omitempty" db:"used_on_booking_id"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
}

// ExpiryDue reports whether an ACTIVE voucher has passed its expiry and needs
// the EXPIRED transition persisted. The caller decides when to write it.
func (v *Voucher) ExpiryDue(now time.Time) bool {
	return v.Status == StatusActive && now.After(v.ExpiresAt)
}

// AppliesTo reports whether the voucher is restricted to product categories
// and, if so, whether the given category is among them.
func (v *Voucher) AppliesTo(category earning.Category) bool {
	if len(v.ApplicableProducts) == 0 {
		return true
	}
	for _, p := range v.ApplicableProducts {
		if p == category {
			return true
		}
	}
	return false
}

// ========================================
// REQUEST/RESPONSE TYPES
// ========================================

// RedeemResult reports a successful points-for-voucher exchange
type RedeemResult struct {
	VoucherID   uuid.UUID `json:"voucher_id"`
	VoucherCode string    `json:"voucher_code"`
	PointsSpent int64     `json:"points_spent"`
	NewBalance  int64     `json:"new_balance"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ValidationResult reports whether a voucher may be applied to a purchase.
// ErrorCode carries the machine-readable category when IsValid is false.
type ValidationResult struct {
	IsValid   bool     `json:"is_valid"`
	ErrorCode string   `json:"error_code,omitempty"`
	Message   string   `json:"message,omitempty"`
	Voucher   *Voucher `json:"voucher,omitempty"`
}

// DiscountCalculation is the price preview for an applied voucher. It touches
// neither the ledger nor the voucher status.
type DiscountCalculation struct {
	OriginalAmount decimal.Decimal `json:"original_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	Currency       string          `json:"currency"`
	VoucherCode    string          `json:"voucher_code"`
	VoucherID      uuid.UUID       `json:"voucher_id"`
}

// ValidateInput describes a checkout-time voucher check
type ValidateInput struct {
	Code            string
	UserID          uuid.UUID
	ProductCategory earning.Category
	BookingAmount   decimal.Decimal
	Currency        string
}
