package eventbus

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subjects for loyalty events.
const (
	SubjectPointsEarned   = "loyalty.points.earned"
	SubjectPointsAdjusted = "loyalty.points.adjusted"
	SubjectTierUpgraded   = "loyalty.tier.upgraded"
	SubjectVoucherIssued  = "loyalty.voucher.issued"
	SubjectVoucherUsed    = "loyalty.voucher.used"
)

// PointsEarnedData is emitted after a paid booking is credited.
type PointsEarnedData struct {
	UserID       uuid.UUID       `json:"user_id"`
	BookingID    uuid.UUID       `json:"booking_id"`
	Category     string          `json:"product_category"`
	Amount       decimal.Decimal `json:"booking_amount"`
	Currency     string          `json:"currency"`
	PointsEarned int64           `json:"points_earned"`
	NewBalance   int64           `json:"new_balance"`
	EarnedAt     time.Time       `json:"earned_at"`
}

// PointsAdjustedData is emitted after an administrative credit or debit.
type PointsAdjustedData struct {
	UserID      uuid.UUID `json:"user_id"`
	AdminUserID uuid.UUID `json:"admin_user_id"`
	Points      int64     `json:"points"`
	Reason      string    `json:"reason"`
	NewBalance  int64     `json:"new_balance"`
	AdjustedAt  time.Time `json:"adjusted_at"`
}

// TierUpgradedData is emitted when lifetime earnings promote an account.
type TierUpgradedData struct {
	UserID      uuid.UUID `json:"user_id"`
	OldTier     string    `json:"old_tier"`
	NewTier     string    `json:"new_tier"`
	TotalEarned int64     `json:"total_earned"`
	UpgradedAt  time.Time `json:"upgraded_at"`
}

// VoucherIssuedData is emitted when points are exchanged for a voucher.
type VoucherIssuedData struct {
	VoucherID   uuid.UUID `json:"voucher_id"`
	UserID      uuid.UUID `json:"user_id"`
	RewardRule  uuid.UUID `json:"reward_rule_id"`
	Code        string    `json:"code"`
	PointsSpent int64     `json:"points_spent"`
	ExpiresAt   time.Time `json:"expires_at"`
	IssuedAt    time.Time `json:"issued_at"`
}

// VoucherUsedData is emitted after the payment collaborator finalizes a voucher.
type VoucherUsedData struct {
	VoucherID uuid.UUID `json:"voucher_id"`
	UserID    uuid.UUID `json:"user_id"`
	BookingID uuid.UUID `json:"booking_id"`
	UsedAt    time.Time `json:"used_at"`
}
