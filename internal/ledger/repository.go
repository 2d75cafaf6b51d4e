package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors surfaced by the repository. The service layer maps these to
// caller-facing error categories.
var (
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrDuplicateReference  = errors.New("reference already credited")
	ErrAccountNotFound     = errors.New("loyalty account not found")
	ErrLostRace            = errors.New("concurrent update lost")
)

// Repository handles database operations for the points ledger
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new ledger repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ========================================
// ACCOUNTS
// ========================================

// GetAccount gets a user's loyalty account
func (r *Repository) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	account, err := scanAccount(ctx, r.db, userID, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return account, err
}

// EnsureAccount creates a zero-balance account if none exists and returns it.
// Safe under concurrent first access for the same user.
func (r *Repository) EnsureAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO loyalty_accounts (user_id, balance, total_earned, tier)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, TierBronze)
	if err != nil {
		return nil, err
	}
	return scanAccount(ctx, r.db, userID, false)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanAccount(ctx context.Context, q queryer, userID uuid.UUID, forUpdate bool) (*Account, error) {
	query := `
		SELECT user_id, balance, total_earned, tier, created_at, updated_at
		FROM loyalty_accounts
		WHERE user_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	account := &Account{}
	err := q.QueryRow(ctx, query, userID).Scan(
		&account.UserID, &account.Balance, &account.TotalEarned,
		&account.Tier, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ========================================
// CREDIT / DEBIT (single atomic unit each)
// ========================================

// Credit appends a positive ledger entry and updates the account inside one
// database transaction. EARN entries carrying a reference are idempotent: a
// second credit for the same reference returns ErrDuplicateReference.
func (r *Repository) Credit(ctx context.Context, in CreditInput) (*CreditResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lazy account creation keeps first-ever earn working
	_, err = tx.Exec(ctx, `
		INSERT INTO loyalty_accounts (user_id, balance, total_earned, tier)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, in.UserID, TierBronze)
	if err != nil {
		return nil, err
	}

	result, err := ApplyCredit(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyCredit performs a credit against an already-open transaction, locking
// the account row for the duration. Exposed so redemption-style flows that
// need additional writes can share the transaction; it is the only code path
// that increases a balance.
func ApplyCredit(ctx context.Context, tx pgx.Tx, in CreditInput) (*CreditResult, error) {
	account, err := scanAccount(ctx, tx, in.UserID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if in.Type == TransactionEarn && in.ReferenceType != nil && in.ReferenceID != nil {
		var exists bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM loyalty_transactions
				WHERE type = $1 AND reference_type = $2 AND reference_id = $3
			)
		`, TransactionEarn, *in.ReferenceType, *in.ReferenceID).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateReference
		}
	}

	newBalance := account.Balance + in.Points
	newTotalEarned := account.TotalEarned + in.Points

	newTier := account.Tier
	if in.Type.IsCredit() {
		configs, err := listTierConfigs(ctx, tx)
		if err != nil {
			return nil, err
		}
		newTier = SelectTier(configs, newTotalEarned, account.Tier)
	}

	_, err = tx.Exec(ctx, `
		UPDATE loyalty_accounts
		SET balance = $1, total_earned = $2, tier = $3, updated_at = NOW()
		WHERE user_id = $4
	`, newBalance, newTotalEarned, newTier, in.UserID)
	if err != nil {
		return nil, err
	}

	entry, err := insertTransaction(ctx, tx, &Transaction{
		ID:            uuid.New(),
		UserID:        in.UserID,
		Type:          in.Type,
		Points:        in.Points,
		BalanceAfter:  newBalance,
		Description:   in.Description,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
	})
	if err != nil {
		// The partial unique index is the backstop for racing earns
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, err
	}

	return &CreditResult{
		Transaction: entry,
		NewBalance:  newBalance,
		TotalEarned: newTotalEarned,
		OldTier:     account.Tier,
		NewTier:     newTier,
	}, nil
}

// Debit appends a negative ledger entry inside one database transaction.
func (r *Repository) Debit(ctx context.Context, in DebitInput) (*DebitResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	result, err := ApplyDebit(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyDebit performs a debit against an already-open transaction. The account
// row is locked, the balance precondition is re-checked in the UPDATE itself,
// and total_earned is never touched by spending.
func ApplyDebit(ctx context.Context, tx pgx.Tx, in DebitInput) (*DebitResult, error) {
	account, err := scanAccount(ctx, tx, in.UserID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if account.Balance < in.Points {
		return nil, ErrInsufficientBalance
	}

	tag, err := tx.Exec(ctx, `
		UPDATE loyalty_accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance >= $1
	`, in.Points, in.UserID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrLostRace
	}

	newBalance := account.Balance - in.Points

	entry, err := insertTransaction(ctx, tx, &Transaction{
		ID:            uuid.New(),
		UserID:        in.UserID,
		Type:          in.Type,
		Points:        -in.Points,
		BalanceAfter:  newBalance,
		Description:   in.Description,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
	})
	if err != nil {
		return nil, err
	}

	return &DebitResult{
		Transaction: entry,
		NewBalance:  newBalance,
	}, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, entry *Transaction) (*Transaction, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO loyalty_transactions (
			id, user_id, type, points, balance_after,
			description, reference_type, reference_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`,
		entry.ID, entry.UserID, entry.Type, entry.Points, entry.BalanceAfter,
		entry.Description, entry.ReferenceType, entry.ReferenceID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ========================================
// TRANSACTION HISTORY
// ========================================

// ListTransactions gets a page of ledger entries, newest first, optionally
// filtered by transaction type.
func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int, txType *TransactionType) ([]*Transaction, int64, error) {
	countQuery := `
		SELECT COUNT(*) FROM loyalty_transactions
		WHERE user_id = $1 AND ($2::text IS NULL OR type = $2)
	`
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, userID, txType).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, user_id, type, points, balance_after,
		       description, reference_type, reference_id, created_at
		FROM loyalty_transactions
		WHERE user_id = $1 AND ($2::text IS NULL OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, userID, txType, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var transactions []*Transaction
	for rows.Next() {
		entry := &Transaction{}
		err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.Type, &entry.Points, &entry.BalanceAfter,
			&entry.Description, &entry.ReferenceType, &entry.ReferenceID, &entry.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		transactions = append(transactions, entry)
	}

	return transactions, total, nil
}

// ========================================
// TIER CONFIGS
// ========================================

// ListTierConfigs gets all tier configs ordered by min_points descending
func (r *Repository) ListTierConfigs(ctx context.Context) ([]*TierConfig, error) {
	return listTierConfigs(ctx, r.db)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listTierConfigs(ctx context.Context, q querier) ([]*TierConfig, error) {
	rows, err := q.Query(ctx, `
		SELECT tier, min_points, points_multiplier, benefits
		FROM loyalty_tier_configs
		ORDER BY min_points DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*TierConfig
	for rows.Next() {
		cfg := &TierConfig{}
		if err := rows.Scan(&cfg.Tier, &cfg.MinPoints, &cfg.PointsMultiplier, &cfg.Benefits); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, nil
}

// SelectTier picks the tier for a lifetime earned total: the first config
// (ordered by min_points descending) whose threshold is met. Tiers never move
// down because total earned is monotone; if no config qualifies the account
// keeps its current tier.
func SelectTier(configs []*TierConfig, totalEarned int64, current Tier) Tier {
	for _, cfg := range configs {
		if cfg.MinPoints <= totalEarned {
			if cfg.Tier.Rank() > current.Rank() {
				return cfg.Tier
			}
			return current
		}
	}
	return current
}
