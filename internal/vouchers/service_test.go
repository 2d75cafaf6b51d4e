package vouchers

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/easybooktrip/loyalty-engine/internal/earning"
	"github.com/easybooktrip/loyalty-engine/internal/ledger"
	"github.com/easybooktrip/loyalty-engine/pkg/common"
)

type mockVouchersRepository struct {
	mock.Mock
}

func (m *mockVouchersRepository) GetRewardRule(ctx context.Context, ruleID uuid.UUID) (*RewardRule, error) {
	args := m.Called(ctx, ruleID)
	rule, _ := args.Get(0).(*RewardRule)
	return rule, args.Error(1)
}

func (m *mockVouchersRepository) ListActiveRewardRules(ctx context.Context) ([]*RewardRule, error) {
	args := m.Called(ctx)
	rules, _ := args.Get(0).([]*RewardRule)
	return rules, args.Error(1)
}

func (m *mockVouchersRepository) CountUserVouchersForRule(ctx context.Context, userID, ruleID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID, ruleID)
	return args.Int(0), args.Error(1)
}

func (m *mockVouchersRepository) GetVoucherByCode(ctx context.Context, code string) (*Voucher, error) {
	args := m.Called(ctx, code)
	voucher, _ := args.Get(0).(*Voucher)
	return voucher, args.Error(1)
}

func (m *mockVouchersRepository) GetVoucherByID(ctx context.Context, voucherID uuid.UUID) (*Voucher, error) {
	args := m.Called(ctx, voucherID)
	voucher, _ := args.Get(0).(*Voucher)
	return voucher, args.Error(1)
}

func (m *mockVouchersRepository) ListUserVouchers(ctx context.Context, userID uuid.UUID, status *VoucherStatus) ([]*Voucher, error) {
	args := m.Called(ctx, userID, status)
	vouchers, _ := args.Get(0).([]*Voucher)
	return vouchers, args.Error(1)
}

func (m *mockVouchersRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *mockVouchersRepository) MarkExpired(ctx context.Context, voucherID uuid.UUID) error {
	args := m.Called(ctx, voucherID)
	return args.Error(0)
}

func (m *mockVouchersRepository) MarkUsed(ctx context.Context, voucherID, bookingID uuid.UUID) (*Voucher, error) {
	args := m.Called(ctx, voucherID, bookingID)
	voucher, _ := args.Get(0).(*Voucher)
	return voucher, args.Error(1)
}

func (m *mockVouchersRepository) CreateRedemption(ctx context.Context, voucher *Voucher, pointsRequired int64) (*ledger.DebitResult, error) {
	args := m.Called(ctx, voucher, pointsRequired)
	result, _ := args.Get(0).(*ledger.DebitResult)
	return result, args.Error(1)
}

type mockAccountLedger struct {
	mock.Mock
}

func (m *mockAccountLedger) GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*ledger.Account, error) {
	args := m.Called(ctx, userID)
	account, _ := args.Get(0).(*ledger.Account)
	return account, args.Error(1)
}

func discountRule() *RewardRule {
	maxDiscount := dec("20.00")
	return &RewardRule{
		ID:                uuid.New(),
		Name:              "10% off your next booking",
		PointsRequired:    500,
		DiscountType:      DiscountPercentage,
		DiscountValue:     dec("10"),
		MaxDiscountAmount: &maxDiscount,
		ValidityDays:      90,
		IsActive:          true,
	}
}

func activeVoucher(userID uuid.UUID) *Voucher {
	return &Voucher{
		ID:            uuid.New(),
		UserID:        userID,
		RewardRuleID:  uuid.New(),
		Code:          "EBT-V-AAAA1111",
		Status:        StatusActive,
		DiscountType:  DiscountPercentage,
		DiscountValue: dec("10"),
		ExpiresAt:     time.Now().UTC().Add(30 * 24 * time.Hour),
	}
}

func TestRedeemDebitsPointsAndIssuesVoucher(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	accounts := new(mockAccountLedger)
	service := NewService(repo, accounts, nil, nil)
	userID := uuid.New()
	rule := discountRule()

	accounts.On("GetOrCreateAccount", ctx, userID).Return(&ledger.Account{
		UserID: userID, Balance: 575, TotalEarned: 575, Tier: ledger.TierBronze,
	}, nil).Once()
	repo.On("GetRewardRule", ctx, rule.ID).Return(rule, nil).Once()
	repo.On("CodeExists", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	repo.On("CreateRedemption", ctx, mock.MatchedBy(func(v *Voucher) bool {
		return v.UserID == userID &&
			v.RewardRuleID == rule.ID &&
			v.Status == StatusActive &&
			v.DiscountType == DiscountPercentage
	}), int64(500)).Return(&ledger.DebitResult{
		Transaction: &ledger.Transaction{ID: uuid.New()},
		NewBalance:  75,
	}, nil).Once()

	result, err := service.Redeem(ctx, userID, rule.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(500), result.PointsSpent)
	assert.Equal(t, int64(75), result.NewBalance)
	assert.Regexp(t, regexp.MustCompile(`^EBT-V-[A-Z0-9]{8}$`), result.VoucherCode)
	repo.AssertExpectations(t)
	accounts.AssertExpectations(t)
}

func TestRedeemExactBalanceSucceeds(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	accounts := new(mockAccountLedger)
	service := NewService(repo, accounts, nil, nil)
	userID := uuid.New()
	rule := discountRule()

	accounts.On("GetOrCreateAccount", ctx, userID).Return(&ledger.Account{
		UserID: userID, Balance: 500, TotalEarned: 500, Tier: ledger.TierBronze,
	}, nil).Once()
	repo.On("GetRewardRule", ctx, rule.ID).Return(rule, nil).Once()
	repo.On("CodeExists", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	repo.On("CreateRedemption", ctx, mock.Anything, int64(500)).Return(&ledger.DebitResult{
		Transaction: &ledger.Transaction{ID: uuid.New()},
		NewBalance:  0,
	}, nil).Once()

	result, err := service.Redeem(ctx, userID, rule.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), result.NewBalance)
	repo.AssertExpectations(t)
}

func TestRedeemInsufficientPoints(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	accounts := new(mockAccountLedger)
	service := NewService(repo, accounts, nil, nil)
	userID := uuid.New()
	rule := discountRule()

	accounts.On("GetOrCreateAccount", ctx, userID).Return(&ledger.Account{
		UserID: userID, Balance: 499, TotalEarned: 499, Tier: ledger.TierBronze,
	}, nil).Once()
	repo.On("GetRewardRule", ctx, rule.ID).Return(rule, nil).Once()

	_, err := service.Redeem(ctx, userID, rule.ID)
	assert.Error(t, err)

	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeInsufficientPoints, appErr.ErrorCode)
	repo.AssertNotCalled(t, "CreateRedemption")
}

func TestRedeemTierGate(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	accounts := new(mockAccountLedger)
	service := NewService(repo, accounts, nil, nil)
	userID := uuid.New()

	rule := discountRule()
	gold := ledger.TierGold
	rule.RequiredTier = &gold

	accounts.On("GetOrCreateAccount", ctx, userID).Return(&ledger.Account{
		UserID: userID, Balance: 10000, TotalEarned: 10000, Tier: ledger.TierSilver,
	}, nil).Once()
	repo.On("GetRewardRule", ctx, rule.ID).Return(rule, nil).Once()

	_, err := service.Redeem(ctx, userID, rule.ID)
	assert.Error(t, err)

	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeForbidden, appErr.ErrorCode)
	repo.AssertNotCalled(t, "CreateRedemption")
}

func TestRedeemPerUserQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	accounts := new(mockAccountLedger)
	service := NewService(repo, accounts, nil, nil)
	userID := uuid.New()

	rule := discountRule()
	limit := 2
	rule.MaxUsagePerUser = &limit

	accounts.On("GetOrCreateAccount", ctx, userID).Return(&ledger.Account{
		UserID: userID, Balance: 5000, TotalEarned: 5000, Tier: ledger.TierBronze,
	}, nil).Once()
	repo.On("GetRewardRule", ctx, rule.ID).Return(rule, nil).Once()
	repo.On("CountUserVouchersForRule", ctx, userID, rule.ID).Return(2, nil).Once()

	_, err := service.Redeem(ctx, userID, rule.ID)
	assert.Error(t, err)

	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeQuotaExceeded, appErr.ErrorCode)
	repo.AssertNotCalled(t, "CreateRedemption")
}

func TestRedeemGlobalQuotaExhaustedInTransaction(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	accounts := new(mockAccountLedger)
	service := NewService(repo, accounts, nil, nil)
	userID := uuid.New()

	rule := discountRule()
	total := 100
	rule.MaxTotalUsage = &total
	rule.CurrentUsageCount = 99 // passes the pre-check, loses the race

	accounts.On("GetOrCreateAccount", ctx, userID).Return(&ledger.Account{
		UserID: userID, Balance: 5000, TotalEarned: 5000, Tier: ledger.TierBronze,
	}, nil).Once()
	repo.On("GetRewardRule", ctx, rule.ID).Return(rule, nil).Once()
	repo.On("CodeExists", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	repo.On("CreateRedemption", ctx, mock.Anything, int64(500)).Return(nil, ErrQuotaExhausted).Once()

	_, err := service.Redeem(ctx, userID, rule.ID)
	assert.Error(t, err)

	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeQuotaExceeded, appErr.ErrorCode)
	repo.AssertExpectations(t)
}

func TestRedeemPerUserQuotaExhaustedInTransaction(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	accounts := new(mockAccountLedger)
	service := NewService(repo, accounts, nil, nil)
	userID := uuid.New()

	rule := discountRule()
	perUser := 1
	rule.MaxUsagePerUser = &perUser

	accounts.On("GetOrCreateAccount", ctx, userID).Return(&ledger.Account{
		UserID: userID, Balance: 5000, TotalEarned: 5000, Tier: ledger.TierBronze,
	}, nil).Once()
	repo.On("GetRewardRule", ctx, rule.ID).Return(rule, nil).Once()
	// Pre-check sees no prior voucher; the in-transaction re-count catches a
	// concurrent redemption that landed in between
	repo.On("CountUserVouchersForRule", ctx, userID, rule.ID).Return(0, nil).Once()
	repo.On("CodeExists", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	repo.On("CreateRedemption", ctx, mock.Anything, int64(500)).Return(nil, ErrUserQuotaExhausted).Once()

	_, err := service.Redeem(ctx, userID, rule.ID)
	assert.Error(t, err)

	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeQuotaExceeded, appErr.ErrorCode)
	repo.AssertExpectations(t)
}

func TestRedeemInactiveRule(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	accounts := new(mockAccountLedger)
	service := NewService(repo, accounts, nil, nil)
	userID := uuid.New()

	rule := discountRule()
	rule.IsActive = false
	repo.On("GetRewardRule", ctx, rule.ID).Return(rule, nil).Once()

	_, err := service.Redeem(ctx, userID, rule.ID)
	assert.Error(t, err)

	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeInvalidState, appErr.ErrorCode)
	accounts.AssertNotCalled(t, "GetOrCreateAccount")
}

func TestRedeemUnknownRule(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	accounts := new(mockAccountLedger)
	service := NewService(repo, accounts, nil, nil)
	ruleID := uuid.New()

	repo.On("GetRewardRule", ctx, ruleID).Return(nil, ErrRuleNotFound).Once()

	_, err := service.Redeem(ctx, uuid.New(), ruleID)
	assert.Error(t, err)

	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeNotFound, appErr.ErrorCode)
}

func TestValidateHappyPath(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	userID := uuid.New()
	voucher := activeVoucher(userID)

	repo.On("GetVoucherByCode", ctx, voucher.Code).Return(voucher, nil).Once()

	result, err := service.Validate(ctx, ValidateInput{
		Code:            voucher.Code,
		UserID:          userID,
		ProductCategory: earning.CategoryFlight,
		BookingAmount:   dec("200.00"),
		Currency:        "USD",
	})
	assert.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.NotNil(t, result.Voucher)
	repo.AssertExpectations(t)
}

func TestValidateUnknownCode(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)

	repo.On("GetVoucherByCode", ctx, "EBT-V-MISSING1").Return(nil, ErrVoucherNotFound).Once()

	result, err := service.Validate(ctx, ValidateInput{
		Code:          "EBT-V-MISSING1",
		UserID:        uuid.New(),
		BookingAmount: dec("100.00"),
		Currency:      "USD",
	})
	assert.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, common.CodeNotFound, result.ErrorCode)
}

func TestValidateWrongOwner(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	voucher := activeVoucher(uuid.New())

	repo.On("GetVoucherByCode", ctx, voucher.Code).Return(voucher, nil).Once()

	result, err := service.Validate(ctx, ValidateInput{
		Code:          voucher.Code,
		UserID:        uuid.New(), // not the owner
		BookingAmount: dec("100.00"),
		Currency:      "USD",
	})
	assert.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, common.CodeForbidden, result.ErrorCode)
}

func TestValidateUsedVoucher(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	userID := uuid.New()

	voucher := activeVoucher(userID)
	voucher.Status = StatusUsed
	repo.On("GetVoucherByCode", ctx, voucher.Code).Return(voucher, nil).Once()

	result, err := service.Validate(ctx, ValidateInput{
		Code:          voucher.Code,
		UserID:        userID,
		BookingAmount: dec("100.00"),
		Currency:      "USD",
	})
	assert.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, common.CodeInvalidState, result.ErrorCode)
	assert.Contains(t, result.Message, "used")
}

func TestValidateLazyExpiryPersistsTransition(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	userID := uuid.New()

	voucher := activeVoucher(userID)
	voucher.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	repo.On("GetVoucherByCode", ctx, voucher.Code).Return(voucher, nil).Once()
	repo.On("MarkExpired", ctx, voucher.ID).Return(nil).Once()

	result, err := service.Validate(ctx, ValidateInput{
		Code:          voucher.Code,
		UserID:        userID,
		BookingAmount: dec("100.00"),
		Currency:      "USD",
	})
	assert.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Message, "expired")
	repo.AssertExpectations(t)
}

func TestValidateMinBookingAmount(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	userID := uuid.New()

	voucher := activeVoucher(userID)
	minAmount := dec("150.00")
	voucher.MinBookingAmount = &minAmount
	repo.On("GetVoucherByCode", ctx, voucher.Code).Return(voucher, nil).Once()

	result, err := service.Validate(ctx, ValidateInput{
		Code:          voucher.Code,
		UserID:        userID,
		BookingAmount: dec("100.00"),
		Currency:      "USD",
	})
	assert.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, common.CodeInvalidState, result.ErrorCode)
}

func TestValidateIneligibleCategory(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	userID := uuid.New()

	voucher := activeVoucher(userID)
	voucher.ApplicableProducts = []earning.Category{earning.CategoryFlight}
	repo.On("GetVoucherByCode", ctx, voucher.Code).Return(voucher, nil).Once()

	result, err := service.Validate(ctx, ValidateInput{
		Code:            voucher.Code,
		UserID:          userID,
		ProductCategory: earning.CategoryHotel,
		BookingAmount:   dec("200.00"),
		Currency:        "USD",
	})
	assert.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, common.CodeInvalidState, result.ErrorCode)
}

func TestValidateFixedAmountCurrencyMismatch(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	userID := uuid.New()

	usd := "USD"
	voucher := activeVoucher(userID)
	voucher.DiscountType = DiscountFixedAmount
	voucher.DiscountValue = dec("15.00")
	voucher.Currency = &usd
	repo.On("GetVoucherByCode", ctx, voucher.Code).Return(voucher, nil).Once()

	result, err := service.Validate(ctx, ValidateInput{
		Code:          voucher.Code,
		UserID:        userID,
		BookingAmount: dec("100.00"),
		Currency:      "EUR",
	})
	assert.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, common.CodeInvalidState, result.ErrorCode)
	assert.Contains(t, result.Message, "currency")
}

func TestApplyReturnsPricePreview(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	userID := uuid.New()

	voucher := activeVoucher(userID)
	maxDiscount := dec("20.00")
	voucher.MaxDiscountAmount = &maxDiscount
	repo.On("GetVoucherByCode", ctx, voucher.Code).Return(voucher, nil).Twice()

	// 10% of 300.00 capped at 20.00 leaves 280.00
	calc, err := service.Apply(ctx, ValidateInput{
		Code:            voucher.Code,
		UserID:          userID,
		ProductCategory: earning.CategoryFlight,
		BookingAmount:   dec("300.00"),
		Currency:        "USD",
	})
	assert.NoError(t, err)
	assert.True(t, dec("20.00").Equal(calc.DiscountAmount), "got %s", calc.DiscountAmount)
	assert.True(t, dec("280.00").Equal(calc.FinalAmount), "got %s", calc.FinalAmount)

	// Apply is a pure preview: the voucher stays ACTIVE and a second
	// call yields the same numbers.
	again, err := service.Apply(ctx, ValidateInput{
		Code:            voucher.Code,
		UserID:          userID,
		ProductCategory: earning.CategoryFlight,
		BookingAmount:   dec("300.00"),
		Currency:        "USD",
	})
	assert.NoError(t, err)
	assert.True(t, calc.DiscountAmount.Equal(again.DiscountAmount))
	repo.AssertNotCalled(t, "MarkUsed")
}

func TestApplyInvalidVoucherMapsToError(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)

	repo.On("GetVoucherByCode", ctx, "EBT-V-MISSING1").Return(nil, ErrVoucherNotFound).Once()

	_, err := service.Apply(ctx, ValidateInput{
		Code:          "EBT-V-MISSING1",
		UserID:        uuid.New(),
		BookingAmount: dec("100.00"),
		Currency:      "USD",
	})
	assert.Error(t, err)

	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeNotFound, appErr.ErrorCode)
}

func TestMarkUsedFinalizesVoucher(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	userID := uuid.New()
	bookingID := uuid.New()

	voucher := activeVoucher(userID)
	used := *voucher
	used.Status = StatusUsed
	now := time.Now().UTC()
	used.UsedAt = &now
	used.UsedOnBookingID = &bookingID

	repo.On("MarkUsed", ctx, voucher.ID, bookingID).Return(&used, nil).Once()

	result, err := service.MarkUsed(ctx, voucher.ID, bookingID)
	assert.NoError(t, err)
	assert.Equal(t, StatusUsed, result.Status)
	assert.Equal(t, &bookingID, result.UsedOnBookingID)
	repo.AssertExpectations(t)
}

func TestMarkUsedRejectsNonActiveVoucher(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)
	voucherID := uuid.New()
	bookingID := uuid.New()

	repo.On("MarkUsed", ctx, voucherID, bookingID).Return(nil, ErrNotActive).Once()

	_, err := service.MarkUsed(ctx, voucherID, bookingID)
	assert.Error(t, err)

	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeInvalidState, appErr.ErrorCode)
}

func TestListUserVouchersRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	repo := new(mockVouchersRepository)
	service := NewService(repo, new(mockAccountLedger), nil, nil)

	_, err := service.ListUserVouchers(ctx, uuid.New(), "BOGUS")
	assert.Error(t, err)
	repo.AssertNotCalled(t, "ListUserVouchers")
}

func TestRandomCodeGeneratorFormat(t *testing.T) {
	gen := NewRandomCodeGenerator()
	pattern := regexp.MustCompile(`^EBT-V-[A-Z0-9]{8}$`)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code := gen.Generate()
		assert.Regexp(t, pattern, code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}
