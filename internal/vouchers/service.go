package vouchers

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easybooktrip/loyalty-engine/internal/ledger"
	"github.com/easybooktrip/loyalty-engine/pkg/common"
	"github.com/easybooktrip/loyalty-engine/pkg/eventbus"
	"github.com/easybooktrip/loyalty-engine/pkg/logger"
)

const (
	codePrefix      = "EBT-V-"
	codeLength      = 8
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 5
)

// CodeGenerator produces candidate voucher codes. Behind an interface so
// tests can inject deterministic codes.
type CodeGenerator interface {
	Generate() string
}

type randomCodeGenerator struct{}

// NewRandomCodeGenerator returns the production code generator
func NewRandomCodeGenerator() CodeGenerator {
	return randomCodeGenerator{}
}

func (randomCodeGenerator) Generate() string {
	buf := make([]byte, codeLength)
	rand.Read(buf)

	var b strings.Builder
	b.WriteString(codePrefix)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String()
}

// VouchersRepository defines the storage operations required by the service.
type VouchersRepository interface {
	GetRewardRule(ctx context.Context, ruleID uuid.UUID) (*RewardRule, error)
	ListActiveRewardRules(ctx context.Context) ([]*RewardRule, error)
	CountUserVouchersForRule(ctx context.Context, userID, ruleID uuid.UUID) (int, error)
	GetVoucherByCode(ctx context.Context, code string) (*Voucher, error)
	GetVoucherByID(ctx context.Context, voucherID uuid.UUID) (*Voucher, error)
	ListUserVouchers(ctx context.Context, userID uuid.UUID, status *VoucherStatus) ([]*Voucher, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	MarkExpired(ctx context.Context, voucherID uuid.UUID) error
	MarkUsed(ctx context.Context, voucherID, bookingID uuid.UUID) (*Voucher, error)
	CreateRedemption(ctx context.Context, voucher *Voucher, pointsRequired int64) (*ledger.DebitResult, error)
}

// Ledger is the subset of the ledger service the redemption flow depends on.
type Ledger interface {
	GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*ledger.Account, error)
}

// Service handles voucher redemption, validation and finalization
type Service struct {
	repo   VouchersRepository
	ledger Ledger
	codes  CodeGenerator
	bus    eventbus.Publisher
}

// NewService creates a new vouchers service
func NewService(repo VouchersRepository, ledgerService Ledger, codes CodeGenerator, bus eventbus.Publisher) *Service {
	if codes == nil {
		codes = NewRandomCodeGenerator()
	}
	return &Service{repo: repo, ledger: ledgerService, codes: codes, bus: bus}
}

// ========================================
// REDEMPTION FLOW
// ========================================

// Redeem exchanges points for a newly issued voucher. Validation failures
// abort before any mutation; the voucher insert, usage-counter increment and
// points debit commit together or not at all.
func (s *Service) Redeem(ctx context.Context, userID, ruleID uuid.UUID) (*RedeemResult, error) {
	rule, err := s.repo.GetRewardRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return nil, common.NewNotFoundError("reward rule not found", err)
		}
		return nil, common.NewInternalError("failed to load reward rule", err)
	}
	if !rule.IsActive {
		return nil, common.NewInvalidStateError("reward rule is no longer available")
	}

	account, err := s.ledger.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if rule.RequiredTier != nil && !account.Tier.AtLeast(*rule.RequiredTier) {
		return nil, common.NewForbiddenError(
			fmt.Sprintf("this reward requires %s tier or higher", *rule.RequiredTier))
	}

	if account.Balance < rule.PointsRequired {
		return nil, common.NewInsufficientPointsError(
			fmt.Sprintf("insufficient points: need %d, have %d", rule.PointsRequired, account.Balance))
	}

	if rule.MaxUsagePerUser != nil {
		count, err := s.repo.CountUserVouchersForRule(ctx, userID, ruleID)
		if err != nil {
			return nil, common.NewInternalError("failed to count redemptions", err)
		}
		if count >= *rule.MaxUsagePerUser {
			return nil, common.NewQuotaExceededError("you have reached the redemption limit for this reward")
		}
	}

	if rule.MaxTotalUsage != nil && rule.CurrentUsageCount >= *rule.MaxTotalUsage {
		return nil, common.NewQuotaExceededError("this reward is fully redeemed")
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	// Snapshot the discount fields so later rule edits never change the voucher
	voucher := &Voucher{
		ID:                 uuid.New(),
		UserID:             userID,
		RewardRuleID:       rule.ID,
		Code:               code,
		Status:             StatusActive,
		DiscountType:       rule.DiscountType,
		DiscountValue:      rule.DiscountValue,
		Currency:           rule.Currency,
		MaxDiscountAmount:  rule.MaxDiscountAmount,
		ApplicableProducts: rule.ApplicableProducts,
		MinBookingAmount:   rule.MinBookingAmount,
		ExpiresAt:          time.Now().UTC().AddDate(0, 0, rule.ValidityDays),
	}

	debit, err := s.repo.CreateRedemption(ctx, voucher, rule.PointsRequired)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaExhausted):
			return nil, common.NewQuotaExceededError("this reward is fully redeemed")
		case errors.Is(err, ErrUserQuotaExhausted):
			return nil, common.NewQuotaExceededError("you have reached the redemption limit for this reward")
		case errors.Is(err, ErrRuleInactive):
			return nil, common.NewInvalidStateError("reward rule is no longer available")
		case errors.Is(err, ledger.ErrInsufficientBalance):
			return nil, common.NewInsufficientPointsError("insufficient points balance")
		case errors.Is(err, ErrCodeCollision), errors.Is(err, ledger.ErrLostRace):
			return nil, common.NewConflictError("redemption lost a concurrent race, retry")
		default:
			return nil, common.NewInternalError("failed to redeem points", err)
		}
	}

	logger.InfoContext(ctx, "Voucher issued",
		zap.String("user_id", userID.String()),
		zap.String("rule_id", ruleID.String()),
		zap.String("code", voucher.Code),
		zap.Int64("points_spent", rule.PointsRequired),
		zap.Int64("new_balance", debit.NewBalance),
	)

	s.publish(ctx, eventbus.SubjectVoucherIssued, eventbus.VoucherIssuedData{
		VoucherID:   voucher.ID,
		UserID:      userID,
		RewardRule:  rule.ID,
		Code:        voucher.Code,
		PointsSpent: rule.PointsRequired,
		ExpiresAt:   voucher.ExpiresAt,
		IssuedAt:    time.Now().UTC(),
	})

	return &RedeemResult{
		VoucherID:   voucher.ID,
		VoucherCode: voucher.Code,
		PointsSpent: rule.PointsRequired,
		NewBalance:  debit.NewBalance,
		ExpiresAt:   voucher.ExpiresAt,
	}, nil
}

func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.codes.Generate()
		exists, err := s.repo.CodeExists(ctx, code)
		if err != nil {
			return "", common.NewInternalError("failed to check voucher code", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", common.NewInternalServerError("could not generate a unique voucher code")
}

// ========================================
// VALIDATION & PRICE PREVIEW
// ========================================

// Validate decides whether a voucher code may be applied to a purchase. Read
// path: the only permitted write is persisting the lazy expiry transition.
func (s *Service) Validate(ctx context.Context, in ValidateInput) (*ValidationResult, error) {
	voucher, err := s.repo.GetVoucherByCode(ctx, in.Code)
	if err != nil {
		if errors.Is(err, ErrVoucherNotFound) {
			return invalid(common.CodeNotFound, "voucher not found"), nil
		}
		return nil, common.NewInternalError("failed to load voucher", err)
	}

	if voucher.UserID != in.UserID {
		return invalid(common.CodeForbidden, "voucher belongs to another user"), nil
	}

	switch voucher.Status {
	case StatusUsed:
		return invalid(common.CodeInvalidState, "voucher has already been used"), nil
	case StatusCancelled:
		return invalid(common.CodeInvalidState, "voucher has been cancelled"), nil
	case StatusExpired:
		return invalid(common.CodeInvalidState, "voucher has expired"), nil
	}

	if voucher.ExpiryDue(time.Now().UTC()) {
		if err := s.repo.MarkExpired(ctx, voucher.ID); err != nil {
			logger.Warn("failed to persist voucher expiry",
				zap.String("voucher_id", voucher.ID.String()), zap.Error(err))
		}
		return invalid(common.CodeInvalidState, "voucher has expired"), nil
	}

	if voucher.MinBookingAmount != nil && in.BookingAmount.LessThan(*voucher.MinBookingAmount) {
		return invalid(common.CodeInvalidState,
			fmt.Sprintf("booking amount below the voucher minimum of %s", voucher.MinBookingAmount.StringFixed(2))), nil
	}

	if !voucher.AppliesTo(in.ProductCategory) {
		return invalid(common.CodeInvalidState, "voucher is not applicable to this product"), nil
	}

	// Fixed-amount vouchers are currency-bound; no conversion is performed
	if voucher.DiscountType == DiscountFixedAmount {
		if voucher.Currency == nil || *voucher.Currency != in.Currency {
			return invalid(common.CodeInvalidState, "voucher currency does not match the booking currency"), nil
		}
	}

	return &ValidationResult{IsValid: true, Voucher: voucher}, nil
}

func invalid(code, message string) *ValidationResult {
	return &ValidationResult{IsValid: false, ErrorCode: code, Message: message}
}

// Apply composes validation and discount calculation into a price preview.
// It never consumes the voucher: only MarkUsed does, after payment succeeds.
func (s *Service) Apply(ctx context.Context, in ValidateInput) (*DiscountCalculation, error) {
	result, err := s.Validate(ctx, in)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		return nil, resultError(result)
	}
	return BuildCalculation(result.Voucher, in.BookingAmount, in.Currency), nil
}

func resultError(result *ValidationResult) *common.AppError {
	switch result.ErrorCode {
	case common.CodeNotFound:
		return common.NewNotFoundError(result.Message, common.ErrNotFound)
	case common.CodeForbidden:
		return common.NewForbiddenError(result.Message)
	default:
		return common.NewInvalidStateError(result.Message)
	}
}

// ========================================
// FINALIZATION
// ========================================

// MarkUsed finalizes a voucher after the payment collaborator captured the
// charge. Idempotence is not offered: a second call reports InvalidState.
func (s *Service) MarkUsed(ctx context.Context, voucherID, bookingID uuid.UUID) (*Voucher, error) {
	voucher, err := s.repo.MarkUsed(ctx, voucherID, bookingID)
	if err != nil {
		switch {
		case errors.Is(err, ErrVoucherNotFound):
			return nil, common.NewNotFoundError("voucher not found", err)
		case errors.Is(err, ErrNotActive):
			return nil, common.NewInvalidStateError("voucher is not active")
		default:
			return nil, common.NewInternalError("failed to mark voucher used", err)
		}
	}

	logger.InfoContext(ctx, "Voucher used",
		zap.String("voucher_id", voucherID.String()),
		zap.String("booking_id", bookingID.String()),
	)

	s.publish(ctx, eventbus.SubjectVoucherUsed, eventbus.VoucherUsedData{
		VoucherID: voucher.ID,
		UserID:    voucher.UserID,
		BookingID: bookingID,
		UsedAt:    time.Now().UTC(),
	})

	return voucher, nil
}

// ========================================
// CATALOG & LISTING
// ========================================

// ListRewardRules returns the redeemable catalog
func (s *Service) ListRewardRules(ctx context.Context) ([]*RewardRule, error) {
	rules, err := s.repo.ListActiveRewardRules(ctx)
	if err != nil {
		return nil, common.NewInternalError("failed to load reward catalog", err)
	}
	return rules, nil
}

// ListUserVouchers returns the user's vouchers, optionally filtered by status
func (s *Service) ListUserVouchers(ctx context.Context, userID uuid.UUID, statusFilter string) ([]*Voucher, error) {
	var status *VoucherStatus
	if statusFilter != "" {
		st := VoucherStatus(statusFilter)
		switch st {
		case StatusActive, StatusUsed, StatusExpired, StatusCancelled:
			status = &st
		default:
			return nil, common.NewBadRequestError("unknown voucher status filter", common.ErrValidation)
		}
	}

	result, err := s.repo.ListUserVouchers(ctx, userID, status)
	if err != nil {
		return nil, common.NewInternalError("failed to load vouchers", err)
	}
	return result, nil
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
