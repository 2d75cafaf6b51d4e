package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/easybooktrip/loyalty-engine/pkg/cache"
	"github.com/easybooktrip/loyalty-engine/pkg/common"
	"github.com/easybooktrip/loyalty-engine/pkg/eventbus"
	"github.com/easybooktrip/loyalty-engine/pkg/logger"
)

const (
	tierConfigCacheKey = "loyalty:tiers"
	tierConfigCacheTTL = 5 * time.Minute
)

// LedgerRepository defines the storage operations required by the service.
type LedgerRepository interface {
	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
	EnsureAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
	Credit(ctx context.Context, in CreditInput) (*CreditResult, error)
	Debit(ctx context.Context, in DebitInput) (*DebitResult, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int, txType *TransactionType) ([]*Transaction, int64, error)
	ListTierConfigs(ctx context.Context) ([]*TierConfig, error)
}

// Service owns the per-user points balance and the append-only ledger. It is
// the only component allowed to mutate balances.
type Service struct {
	repo  LedgerRepository
	cache *cache.Manager
	bus   eventbus.Publisher
}

// NewService creates a new ledger service
func NewService(repo LedgerRepository, cacheManager *cache.Manager, bus eventbus.Publisher) *Service {
	return &Service{repo: repo, cache: cacheManager, bus: bus}
}

// GetOrCreateAccount returns the user's account, creating a zero-balance one
// on first access.
func (s *Service) GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, common.NewInternalError("failed to load loyalty account", err)
	}

	account, err = s.repo.EnsureAccount(ctx, userID)
	if err != nil {
		return nil, common.NewInternalError("failed to create loyalty account", err)
	}
	return account, nil
}

// CreditPoints appends a positive ledger entry, grows total earned for
// EARN/ADMIN_CREDIT entries, and recomputes the tier.
func (s *Service) CreditPoints(ctx context.Context, in CreditInput) (*CreditResult, error) {
	if in.Points <= 0 {
		return nil, common.NewBadRequestError("points must be positive", common.ErrValidation)
	}
	if !in.Type.IsCredit() {
		return nil, common.NewBadRequestError(fmt.Sprintf("%s is not a credit type", in.Type), common.ErrValidation)
	}

	result, err := s.repo.Credit(ctx, in)
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			// Keep the sentinel reachable via errors.Is for callers that
			// treat a duplicate as an idempotent no-op
			return nil, common.NewAppError(http.StatusConflict, common.CodeConflict, "reference already credited", ErrDuplicateReference)
		}
		return nil, common.NewInternalError("failed to credit points", err)
	}

	logger.InfoContext(ctx, "Points credited",
		zap.String("user_id", in.UserID.String()),
		zap.Int64("points", in.Points),
		zap.String("type", string(in.Type)),
		zap.Int64("new_balance", result.NewBalance),
	)

	if result.TierChanged() {
		logger.InfoContext(ctx, "Tier upgraded",
			zap.String("user_id", in.UserID.String()),
			zap.String("old_tier", string(result.OldTier)),
			zap.String("new_tier", string(result.NewTier)),
		)
		s.publish(ctx, eventbus.SubjectTierUpgraded, eventbus.TierUpgradedData{
			UserID:      in.UserID,
			OldTier:     string(result.OldTier),
			NewTier:     string(result.NewTier),
			TotalEarned: result.TotalEarned,
			UpgradedAt:  time.Now().UTC(),
		})
	}

	return result, nil
}

// DebitPoints appends a negative ledger entry. Spending never reduces total
// earned, so it can never cause a tier downgrade.
func (s *Service) DebitPoints(ctx context.Context, in DebitInput) (*DebitResult, error) {
	if in.Points <= 0 {
		return nil, common.NewBadRequestError("points must be positive", common.ErrValidation)
	}
	if in.Type.IsCredit() || !in.Type.Valid() {
		return nil, common.NewBadRequestError(fmt.Sprintf("%s is not a debit type", in.Type), common.ErrValidation)
	}

	result, err := s.repo.Debit(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrAccountNotFound):
			return nil, common.NewInsufficientPointsError("insufficient points balance")
		case errors.Is(err, ErrLostRace):
			return nil, common.NewConflictError("balance changed concurrently, retry")
		default:
			return nil, common.NewInternalError("failed to debit points", err)
		}
	}

	logger.InfoContext(ctx, "Points debited",
		zap.String("user_id", in.UserID.String()),
		zap.Int64("points", in.Points),
		zap.String("type", string(in.Type)),
		zap.Int64("new_balance", result.NewBalance),
	)

	return result, nil
}

// AdminAdjustPoints credits or debits points on behalf of an administrator.
// Positive points become an ADMIN_CREDIT (growing total earned), negative an
// ADMIN_DEBIT. Zero is rejected.
func (s *Service) AdminAdjustPoints(ctx context.Context, userID uuid.UUID, points int64, reason string, adminUserID uuid.UUID) (*AdjustResult, error) {
	if points == 0 {
		return nil, common.NewBadRequestError("adjustment points must be non-zero", common.ErrValidation)
	}
	if reason == "" {
		return nil, common.NewBadRequestError("adjustment reason is required", common.ErrValidation)
	}

	refType := ReferenceAdminAction
	adminRef := adminUserID

	var result *AdjustResult
	if points > 0 {
		credit, err := s.CreditPoints(ctx, CreditInput{
			UserID:        userID,
			Points:        points,
			Type:          TransactionAdminCredit,
			Description:   reason,
			ReferenceType: &refType,
			ReferenceID:   &adminRef,
		})
		if err != nil {
			return nil, err
		}
		result = &AdjustResult{Transaction: credit.Transaction, NewBalance: credit.NewBalance}
	} else {
		debit, err := s.DebitPoints(ctx, DebitInput{
			UserID:        userID,
			Points:        -points,
			Type:          TransactionAdminDebit,
			Description:   reason,
			ReferenceType: &refType,
			ReferenceID:   &adminRef,
		})
		if err != nil {
			return nil, err
		}
		result = &AdjustResult{Transaction: debit.Transaction, NewBalance: debit.NewBalance}
	}

	s.publish(ctx, eventbus.SubjectPointsAdjusted, eventbus.PointsAdjustedData{
		UserID:      userID,
		AdminUserID: adminUserID,
		Points:      points,
		Reason:      reason,
		NewBalance:  result.NewBalance,
		AdjustedAt:  time.Now().UTC(),
	})

	return result, nil
}

// GetSummary returns the account with tier benefits and next-tier progress
func (s *Service) GetSummary(ctx context.Context, userID uuid.UUID) (*SummaryResponse, error) {
	account, err := s.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	configs, err := s.TierConfigs(ctx)
	if err != nil {
		return nil, common.NewInternalError("failed to load tier configs", err)
	}

	summary := &SummaryResponse{
		UserID:       account.UserID,
		Balance:      account.Balance,
		TotalEarned:  account.TotalEarned,
		Tier:         account.Tier,
		Benefits:     []string{},
		TierProgress: 100.0,
		MemberSince:  account.CreatedAt,
	}

	// configs are ordered min_points descending
	var currentMin int64
	for _, cfg := range configs {
		if cfg.Tier == account.Tier {
			summary.Benefits = cfg.Benefits
			currentMin = cfg.MinPoints
		}
	}
	for i := len(configs) - 1; i >= 0; i-- {
		cfg := configs[i]
		if cfg.MinPoints > account.TotalEarned {
			next := cfg.Tier
			summary.NextTier = &next
			summary.PointsToNextTier = cfg.MinPoints - account.TotalEarned
			if span := cfg.MinPoints - currentMin; span > 0 {
				summary.TierProgress = float64(account.TotalEarned-currentMin) / float64(span) * 100
			}
			break
		}
	}

	return summary, nil
}

// GetHistory returns a page of ledger entries for the user
func (s *Service) GetHistory(ctx context.Context, userID uuid.UUID, limit, offset int, typeFilter string) (*HistoryResponse, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var txType *TransactionType
	if typeFilter != "" {
		t := TransactionType(typeFilter)
		if !t.Valid() {
			return nil, common.NewBadRequestError("unknown transaction type filter", common.ErrValidation)
		}
		txType = &t
	}

	transactions, total, err := s.repo.ListTransactions(ctx, userID, limit, offset, txType)
	if err != nil {
		return nil, common.NewInternalError("failed to load transaction history", err)
	}

	entries := make([]Transaction, len(transactions))
	for i, entry := range transactions {
		entries[i] = *entry
	}

	return &HistoryResponse{
		Transactions: entries,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

// TierConfigs returns the tier table, served from cache when available
func (s *Service) TierConfigs(ctx context.Context) ([]*TierConfig, error) {
	if s.cache == nil {
		return s.repo.ListTierConfigs(ctx)
	}

	var configs []*TierConfig
	err := s.cache.GetOrSet(ctx, tierConfigCacheKey, tierConfigCacheTTL, &configs, func() (interface{}, error) {
		return s.repo.ListTierConfigs(ctx)
	})
	if err != nil {
		return nil, err
	}
	return configs, nil
}

// TierMultiplier returns the points multiplier for a tier, defaulting to 1
// when the tier has no config row.
func (s *Service) TierMultiplier(ctx context.Context, tier Tier) (decimal.Decimal, error) {
	configs, err := s.TierConfigs(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	for _, cfg := range configs {
		if cfg.Tier == tier {
			return cfg.PointsMultiplier, nil
		}
	}
	return decimal.NewFromInt(1), nil
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(subject, "loyalty-service", data)
	if err != nil {
		logger.Warn("failed to build event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
