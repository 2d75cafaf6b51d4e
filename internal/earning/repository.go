package earning

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRuleNotFound means no earning rule exists for the product category
var ErrRuleNotFound = errors.New("earning rule not found")

// Repository handles database operations for earning rules
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new earning repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetRule gets the earning rule for a product category
func (r *Repository) GetRule(ctx context.Context, category Category) (*Rule, error) {
	query := `
		SELECT id, product_category, points_per_unit, bonus_points,
		       min_booking_amount, is_active, created_at
		FROM points_earning_rules
		WHERE product_category = $1
	`

	rule := &Rule{}
	err := r.db.QueryRow(ctx, query, category).Scan(
		&rule.ID, &rule.ProductCategory, &rule.PointsPerUnit, &rule.BonusPoints,
		&rule.MinBookingAmount, &rule.IsActive, &rule.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	return rule, nil
}
