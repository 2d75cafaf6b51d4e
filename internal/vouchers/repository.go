package vouchers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/easybooktrip/loyalty-engine/internal/earning"
	"github.com/easybooktrip/loyalty-engine/internal/ledger"
)

// Sentinel errors surfaced by the repository
var (
	ErrRuleNotFound       = errors.New("reward rule not found")
	ErrRuleInactive       = errors.New("reward rule is inactive")
	ErrVoucherNotFound    = errors.New("voucher not found")
	ErrNotActive          = errors.New("voucher is not active")
	ErrQuotaExhausted     = errors.New("reward rule usage quota exhausted")
	ErrUserQuotaExhausted = errors.New("per-user redemption quota exhausted")
	ErrCodeCollision      = errors.New("voucher code already exists")
)

// Repository handles database operations for reward rules and vouchers
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new vouchers repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const rewardRuleColumns = `
	id, name, description, points_required, discount_type, discount_value,
	currency, max_discount_amount, applicable_products, min_booking_amount,
	validity_days, required_tier, max_usage_per_user, max_total_usage,
	current_usage_count, is_active, created_at
`

func scanRewardRule(row pgx.Row) (*RewardRule, error) {
	rule := &RewardRule{}
	var products []string
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.PointsRequired,
		&rule.DiscountType, &rule.DiscountValue, &rule.Currency,
		&rule.MaxDiscountAmount, &products, &rule.MinBookingAmount,
		&rule.ValidityDays, &rule.RequiredTier, &rule.MaxUsagePerUser,
		&rule.MaxTotalUsage, &rule.CurrentUsageCount, &rule.IsActive, &rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.ApplicableProducts = toCategories(products)
	return rule, nil
}

func toCategories(products []string) []earning.Category {
	if products == nil {
		return nil
	}
	categories := make([]earning.Category, len(products))
	for i, p := range products {
		categories[i] = earning.Category(p)
	}
	return categories
}

func fromCategories(categories []earning.Category) []string {
	products := make([]string, len(categories))
	for i, c := range categories {
		products[i] = string(c)
	}
	return products
}

// ========================================
// REWARD RULES
// ========================================

// GetRewardRule gets a reward catalog entry by ID
func (r *Repository) GetRewardRule(ctx context.Context, ruleID uuid.UUID) (*RewardRule, error) {
	rule, err := scanRewardRule(r.db.QueryRow(ctx,
		`SELECT `+rewardRuleColumns+` FROM reward_rules WHERE id = $1`, ruleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// ListActiveRewardRules gets active catalog entries ordered by points cost
func (r *Repository) ListActiveRewardRules(ctx context.Context) ([]*RewardRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+rewardRuleColumns+`
		FROM reward_rules
		WHERE is_active = true
		  AND (max_total_usage IS NULL OR current_usage_count < max_total_usage)
		ORDER BY points_required ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*RewardRule
	for rows.Next() {
		rule, err := scanRewardRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// CountUserVouchersForRule counts a user's non-cancelled vouchers for a rule
func (r *Repository) CountUserVouchersForRule(ctx context.Context, userID, ruleID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM vouchers
		WHERE user_id = $1 AND reward_rule_id = $2 AND status <> $3
	`, userID, ruleID, StatusCancelled).Scan(&count)
	return count, err
}

// ========================================
// VOUCHERS
// ========================================

const voucherColumns = `
	id, user_id, reward_rule_id, code, status, discount_type, discount_value,
	currency, max_discount_amount, applicable_products, min_booking_amount,
	expires_at, used_at, used_on_booking_id, created_at
`

func scanVoucher(row pgx.Row) (*Voucher, error) {
	v := &Voucher{}
	var products []string
	err := row.Scan(
		&v.ID, &v.UserID, &v.RewardRuleID, &v.Code, &v.Status,
		&v.DiscountType, &v.DiscountValue, &v.Currency, &v.MaxDiscountAmount,
		&products, &v.MinBookingAmount, &v.ExpiresAt, &v.UsedAt,
		&v.UsedOnBookingID, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.ApplicableProducts = toCategories(products)
	return v, nil
}

// GetVoucherByCode gets a voucher by its human-readable code
func (r *Repository) GetVoucherByCode(ctx context.Context, code string) (*Voucher, error) {
	v, err := scanVoucher(r.db.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVoucherNotFound
	}
	return v, err
}

// GetVoucherByID gets a voucher by ID
func (r *Repository) GetVoucherByID(ctx context.Context, voucherID uuid.UUID) (*Voucher, error) {
	v, err := scanVoucher(r.db.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, voucherID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVoucherNotFound
	}
	return v, err
}

// ListUserVouchers gets a user's vouchers, optionally filtered by status
func (r *Repository) ListUserVouchers(ctx context.Context, userID uuid.UUID, status *VoucherStatus) ([]*Voucher, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
	`, userID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// CodeExists reports whether a voucher code is already taken
func (r *Repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM vouchers WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// MarkExpired persists the lazy ACTIVE -> EXPIRED transition. A no-op if the
// voucher was concurrently used or cancelled.
func (r *Repository) MarkExpired(ctx context.Context, voucherID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE vouchers SET status = $1 WHERE id = $2 AND status = $3
	`, StatusExpired, voucherID, StatusActive)
	return err
}

// MarkUsed finalizes a voucher after a successful charge. Only an ACTIVE
// voucher can transition to USED.
func (r *Repository) MarkUsed(ctx context.Context, voucherID, bookingID uuid.UUID) (*Voucher, error) {
	v, err := scanVoucher(r.db.QueryRow(ctx, `
		UPDATE vouchers
		SET status = $1, used_at = NOW(), used_on_booking_id = $2
		WHERE id = $3 AND status = $4
		RETURNING `+voucherColumns+`
	`, StatusUsed, bookingID, voucherID, StatusActive))
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish missing from non-ACTIVE for the caller
		if _, lookupErr := r.GetVoucherByID(ctx, voucherID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, ErrNotActive
	}
	return v, err
}

// ========================================
// REDEMPTION (single atomic unit)
// ========================================

// CreateRedemption inserts the voucher, increments the rule usage counter and
// debits the points in one database transaction. The rule row is locked first,
// then the account row (inside ApplyDebit); every redemption takes locks in
// that order.
func (r *Repository) CreateRedemption(ctx context.Context, voucher *Voucher, pointsRequired int64) (*ledger.DebitResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Re-check the global quota under the row lock: two racing redemptions
	// serialize here and exactly one wins the last slot
	var isActive bool
	var maxTotalUsage, maxUsagePerUser *int
	var currentUsage int
	err = tx.QueryRow(ctx, `
		SELECT is_active, max_total_usage, max_usage_per_user, current_usage_count
		FROM reward_rules
		WHERE id = $1
		FOR UPDATE
	`, voucher.RewardRuleID).Scan(&isActive, &maxTotalUsage, &maxUsagePerUser, &currentUsage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	if !isActive {
		return nil, ErrRuleInactive
	}
	if maxTotalUsage != nil && currentUsage >= *maxTotalUsage {
		return nil, ErrQuotaExhausted
	}

	// Re-check the per-user quota too: the service's pre-check reads outside
	// the transaction, so two racing same-user redemptions could both pass it
	if maxUsagePerUser != nil {
		var userCount int
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM vouchers
			WHERE user_id = $1 AND reward_rule_id = $2 AND status <> 'CANCELLED'
		`, voucher.UserID, voucher.RewardRuleID).Scan(&userCount)
		if err != nil {
			return nil, err
		}
		if userCount >= *maxUsagePerUser {
			return nil, ErrUserQuotaExhausted
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE reward_rules
		SET current_usage_count = current_usage_count + 1
		WHERE id = $1
	`, voucher.RewardRuleID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO vouchers (
			id, user_id, reward_rule_id, code, status, discount_type,
			discount_value, currency, max_discount_amount, applicable_products,
			min_booking_amount, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		voucher.ID, voucher.UserID, voucher.RewardRuleID, voucher.Code,
		voucher.Status, voucher.DiscountType, voucher.DiscountValue,
		voucher.Currency, voucher.MaxDiscountAmount,
		fromCategories(voucher.ApplicableProducts), voucher.MinBookingAmount,
		voucher.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrCodeCollision
		}
		return nil, err
	}

	refType := ledger.ReferenceVoucherRedemption
	voucherID := voucher.ID
	debit, err := ledger.ApplyDebit(ctx, tx, ledger.DebitInput{
		UserID:        voucher.UserID,
		Points:        pointsRequired,
		Type:          ledger.TransactionRedeem,
		Description:   "Voucher redemption " + voucher.Code,
		ReferenceType: &refType,
		ReferenceID:   &voucherID,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return debit, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
