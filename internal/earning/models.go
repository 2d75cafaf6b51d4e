package earning

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/easybooktrip/loyalty-engine/internal/ledger"
)

// Category represents a bookable product category
type Category string

const (
	CategoryFlight    Category = "FLIGHT"
	CategoryHotel     Category = "HOTEL"
	CategoryCarRental Category = "CAR_RENTAL"
	CategoryPackage   Category = "PACKAGE"
)

// Valid reports whether the category is a known product category
func (c Category) Valid() bool {
	switch c {
	case CategoryFlight, CategoryHotel, CategoryCarRental, CategoryPackage:
		return true
	}
	return false
}

// Rule converts a paid booking amount into points for one product category.
// Rules are managed by an external admin service and read-only here.
type Rule struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	ProductCategory  Category        `json:"product_category" db:"product_category"`
	PointsPerUnit    decimal.Decimal `json:"points_per_unit" db:"points_per_unit"`
	BonusPoints      int64           `json:"bonus_points" db:"bonus_points"`
	MinBookingAmount decimal.Decimal `json:"min_booking_amount" db:"min_booking_amount"`
	IsActive         bool            `json:"is_active" db:"is_active"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// EarnInput describes a paid booking to credit points for
type EarnInput struct {
	UserID          uuid.UUID       `json:"user_id"`
	BookingID       uuid.UUID       `json:"booking_id"`
	ProductCategory Category        `json:"product_category"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
}

// EarnResult reports the outcome of an earn attempt. PointsEarned of zero is
// a legitimate outcome, not an error: no applicable rule, amount below the
// rule minimum, or a booking that was already credited.
type EarnResult struct {
	PointsEarned    int64       `json:"points_earned"`
	NewBalance      int64       `json:"new_balance"`
	Tier            ledger.Tier `json:"tier"`
	AlreadyCredited bool        `json:"already_credited,omitempty"`
}
