package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier represents a loyalty tier name
type Tier string

const (
	TierBronze   Tier = "BRONZE"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

// tierRanks gives tiers an explicit total order. Comparisons must not depend
// on declaration order or on min_points rows being well-formed.
var tierRanks = map[Tier]int{
	TierBronze:   0,
	TierSilver:   1,
	TierGold:     2,
	TierPlatinum: 3,
}

// Rank returns the ordinal position of the tier (bronze lowest)
func (t Tier) Rank() int {
	return tierRanks[t]
}

// Valid reports whether the tier is a known tier name
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// AtLeast reports whether the tier meets or exceeds the required tier
func (t Tier) AtLeast(required Tier) bool {
	return t.Rank() >= required.Rank()
}

// TransactionType represents points transaction types
type TransactionType string

const (
	TransactionEarn        TransactionType = "EARN"
	TransactionRedeem      TransactionType = "REDEEM"
	TransactionAdminCredit TransactionType = "ADMIN_CREDIT"
	TransactionAdminDebit  TransactionType = "ADMIN_DEBIT"
)

// IsCredit reports whether the type adds points to the balance
func (t TransactionType) IsCredit() bool {
	return t == TransactionEarn || t == TransactionAdminCredit
}

// Valid reports whether the type is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionEarn, TransactionRedeem, TransactionAdminCredit, TransactionAdminDebit:
		return true
	}
	return false
}

// ReferenceType identifies what caused a ledger entry
type ReferenceType string

const (
	ReferenceBooking           ReferenceType = "BOOKING"
	ReferenceVoucherRedemption ReferenceType = "VOUCHER_REDEMPTION"
	ReferenceAdminAction       ReferenceType = "ADMIN_ACTION"
)

// Account represents a user's loyalty account. Balance is always the running
// sum of the user's transactions; total_earned only ever grows.
type Account struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Balance     int64     `json:"balance" db:"balance"`
	TotalEarned int64     `json:"total_earned" db:"total_earned"`
	Tier        Tier      `json:"tier" db:"tier"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable, append-only ledger entry. BalanceAfter
// snapshots the account balance as of this entry committing.
type Transaction struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	UserID        uuid.UUID       `json:"user_id" db:"user_id"`
	Type          TransactionType `json:"type" db:"type"`
	Points        int64           `json:"points" db:"points"`
	BalanceAfter  int64           `json:"balance_after" db:"balance_after"`
	Description   string          `json:"description" db:"description"`
	ReferenceType *ReferenceType  `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID   *uuid.UUID      `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// TierConfig represents one tier's threshold and benefits
type TierConfig struct {
	Tier             Tier            `json:"tier" db:"tier"`
	MinPoints        int64           `json:"min_points" db:"min_points"`
	PointsMultiplier decimal.Decimal `json:"points_multiplier" db:"points_multiplier"`
	Benefits         []string        `json:"benefits" db:"benefits"`
}

// ========================================
// REQUEST/RESPONSE TYPES
// ========================================

// CreditInput describes a points credit
type CreditInput struct {
	UserID        uuid.UUID
	Points        int64
	Type          TransactionType
	Description   string
	ReferenceType *ReferenceType
	ReferenceID   *uuid.UUID
}

// DebitInput describes a points debit. Points is positive; the ledger entry
// is recorded with a negative sign.
type DebitInput struct {
	UserID        uuid.UUID
	Points        int64
	Type          TransactionType
	Description   string
	ReferenceType *ReferenceType
	ReferenceID   *uuid.UUID
}

// CreditResult reports the state after a committed credit
type CreditResult struct {
	Transaction *Transaction `json:"transaction"`
	NewBalance  int64        `json:"new_balance"`
	TotalEarned int64        `json:"total_earned"`
	OldTier     Tier         `json:"old_tier"`
	NewTier     Tier         `json:"new_tier"`
}

// TierChanged reports whether the credit promoted the account
func (r *CreditResult) TierChanged() bool {
	return r.OldTier != r.NewTier
}

// DebitResult reports the state after a committed debit
type DebitResult struct {
	Transaction *Transaction `json:"transaction"`
	NewBalance  int64        `json:"new_balance"`
}

// AdjustResult reports the state after an administrative adjustment
type AdjustResult struct {
	Transaction *Transaction `json:"transaction"`
	NewBalance  int64        `json:"new_balance"`
}

// SummaryResponse is the loyalty summary for a user
type SummaryResponse struct {
	UserID           uuid.UUID   `json:"user_id"`
	Balance          int64       `json:"balance"`
	TotalEarned      int64       `json:"total_earned"`
	Tier             Tier        `json:"tier"`
	Benefits         []string    `json:"benefits"`
	NextTier         *Tier       `json:"next_tier,omitempty"`
	PointsToNextTier int64       `json:"points_to_next_tier"`
	TierProgress     float64     `json:"tier_progress_percent"`
	MemberSince      time.Time   `json:"member_since"`
}

// HistoryResponse is a page of ledger entries
type HistoryResponse struct {
	Transactions []Transaction `json:"transactions"`
	Total        int64         `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
}
