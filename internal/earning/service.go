package earning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/easybooktrip/loyalty-engine/internal/ledger"
	"github.com/easybooktrip/loyalty-engine/pkg/cache"
	"github.com/easybooktrip/loyalty-engine/pkg/common"
	"github.com/easybooktrip/loyalty-engine/pkg/eventbus"
	"github.com/easybooktrip/loyalty-engine/pkg/logger"
)

const (
	ruleCacheKeyPrefix = "loyalty:earnrule:"
	ruleCacheTTL       = 5 * time.Minute
)

// RulesRepository defines the storage operations required by the service.
type RulesRepository interface {
	GetRule(ctx context.Context, category Category) (*Rule, error)
}

// Ledger is the subset of the ledger service the earning flow depends on.
type Ledger interface {
	GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*ledger.Account, error)
	CreditPoints(ctx context.Context, in ledger.CreditInput) (*ledger.CreditResult, error)
	TierMultiplier(ctx context.Context, tier ledger.Tier) (decimal.Decimal, error)
}

// Service translates completed purchases into points credits
type Service struct {
	repo   RulesRepository
	ledger Ledger
	cache  *cache.Manager
	bus    eventbus.Publisher
}

// NewService creates a new earning service
func NewService(repo RulesRepository, ledgerService Ledger, cacheManager *cache.Manager, bus eventbus.Publisher) *Service {
	return &Service{repo: repo, ledger: ledgerService, cache: cacheManager, bus: bus}
}

// EarnFromBooking credits points for a paid booking. Called exactly once per
// booking by the payment collaborator; a duplicate call for the same booking
// is an idempotent no-op thanks to the ledger's reference guard.
func (s *Service) EarnFromBooking(ctx context.Context, in EarnInput) (*EarnResult, error) {
	if in.TotalAmount.IsNegative() {
		return nil, common.NewBadRequestError("booking amount cannot be negative", common.ErrValidation)
	}
	if !in.ProductCategory.Valid() {
		return nil, common.NewBadRequestError(fmt.Sprintf("unknown product category %q", in.ProductCategory), common.ErrValidation)
	}

	account, err := s.ledger.GetOrCreateAccount(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	rule, err := s.activeRule(ctx, in.ProductCategory)
	if err != nil {
		return nil, common.NewInternalError("failed to load earning rule", err)
	}

	// Missing or inactive rule, or amount below the rule minimum, is a
	// deliberate zero-points no-op
	if rule == nil || !rule.IsActive || in.TotalAmount.LessThan(rule.MinBookingAmount) {
		return &EarnResult{PointsEarned: 0, NewBalance: account.Balance, Tier: account.Tier}, nil
	}

	basePoints := in.TotalAmount.Mul(rule.PointsPerUnit).Floor().IntPart() + rule.BonusPoints

	multiplier, err := s.ledger.TierMultiplier(ctx, account.Tier)
	if err != nil {
		return nil, common.NewInternalError("failed to load tier multiplier", err)
	}
	pointsEarned := decimal.NewFromInt(basePoints).Mul(multiplier).Floor().IntPart()

	if pointsEarned <= 0 {
		return &EarnResult{PointsEarned: 0, NewBalance: account.Balance, Tier: account.Tier}, nil
	}

	refType := ledger.ReferenceBooking
	bookingID := in.BookingID
	credit, err := s.ledger.CreditPoints(ctx, ledger.CreditInput{
		UserID:        in.UserID,
		Points:        pointsEarned,
		Type:          ledger.TransactionEarn,
		Description:   fmt.Sprintf("Points for %s booking", in.ProductCategory),
		ReferenceType: &refType,
		ReferenceID:   &bookingID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateReference) {
			logger.InfoContext(ctx, "Booking already credited",
				zap.String("user_id", in.UserID.String()),
				zap.String("booking_id", in.BookingID.String()),
			)
			return &EarnResult{
				PointsEarned:    0,
				NewBalance:      account.Balance,
				Tier:            account.Tier,
				AlreadyCredited: true,
			}, nil
		}
		return nil, err
	}

	logger.InfoContext(ctx, "Points earned",
		zap.String("user_id", in.UserID.String()),
		zap.String("booking_id", in.BookingID.String()),
		zap.String("category", string(in.ProductCategory)),
		zap.Int64("points", pointsEarned),
		zap.Int64("new_balance", credit.NewBalance),
	)

	s.publish(ctx, eventbus.SubjectPointsEarned, eventbus.PointsEarnedData{
		UserID:       in.UserID,
		BookingID:    in.BookingID,
		Category:     string(in.ProductCategory),
		Amount:       in.TotalAmount,
		Currency:     in.Currency,
		PointsEarned: pointsEarned,
		NewBalance:   credit.NewBalance,
		EarnedAt:     time.Now().UTC(),
	})

	return &EarnResult{
		PointsEarned: pointsEarned,
		NewBalance:   credit.NewBalance,
		Tier:         credit.NewTier,
	}, nil
}

// activeRule loads the rule for a category through the cache. A missing rule
// is cached too, as an inactive placeholder, so absent categories don't hit
// the database on every booking.
func (s *Service) activeRule(ctx context.Context, category Category) (*Rule, error) {
	if s.cache == nil {
		return s.loadRule(ctx, category)
	}

	var rule Rule
	err := s.cache.GetOrSet(ctx, ruleCacheKeyPrefix+string(category), ruleCacheTTL, &rule, func() (interface{}, error) {
		loaded, err := s.loadRule(ctx, category)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			return &Rule{ProductCategory: category, IsActive: false}, nil
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Service) loadRule(ctx context.Context, category Category) (*Rule, error) {
	rule, err := s.repo.GetRule(ctx, category)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
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
