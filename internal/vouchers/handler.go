package vouchers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/easybooktrip/loyalty-engine/internal/earning"
	"github.com/easybooktrip/loyalty-engine/pkg/common"
	"github.com/easybooktrip/loyalty-engine/pkg/middleware"
)

// Handler handles voucher HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates a new vouchers handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListRewards returns the redeemable reward catalog
// GET /api/v1/loyalty/rewards
func (h *Handler) ListRewards(c *gin.Context) {
	rules, err := h.service.ListRewardRules(c.Request.Context())
	if err != nil {
		common.HandleServiceError(c, err, "Failed to load rewards")
		return
	}
	common.SuccessResponse(c, rules)
}

// Redeem exchanges points for a voucher
// POST /api/v1/loyalty/rewards/:id/redeem
func (h *Handler) Redeem(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid reward rule ID")
		return
	}

	result, err := h.service.Redeem(c.Request.Context(), userID, ruleID)
	if err != nil {
		common.HandleServiceError(c, err, "Failed to redeem reward")
		return
	}
	common.CreatedResponse(c, result)
}

// ListVouchers returns the caller's vouchers
// GET /api/v1/loyalty/vouchers?status=ACTIVE
func (h *Handler) ListVouchers(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.service.ListUserVouchers(c.Request.Context(), userID, c.Query("status"))
	if err != nil {
		common.HandleServiceError(c, err, "Failed to load vouchers")
		return
	}
	common.SuccessResponse(c, result)
}

type validateRequest struct {
	Code            string `json:"code" binding:"required"`
	BookingAmount   string `json:"booking_amount" binding:"required"`
	ProductCategory string `json:"product_category" binding:"required"`
	Currency        string `json:"currency" binding:"required,len=3"`
}

func (r *validateRequest) toInput(userID uuid.UUID) (ValidateInput, error) {
	amount, err := decimal.NewFromString(r.BookingAmount)
	if err != nil || amount.IsNegative() {
		return ValidateInput{}, common.NewBadRequestError("booking_amount must be a non-negative decimal", err)
	}
	category := earning.Category(r.ProductCategory)
	if !category.Valid() {
		return ValidateInput{}, common.NewBadRequestError("unknown product category", common.ErrValidation)
	}
	return ValidateInput{
		Code:            r.Code,
		UserID:          userID,
		BookingAmount:   amount,
		ProductCategory: category,
		Currency:        r.Currency,
	}, nil
}

// Validate checks whether a voucher can be applied to a prospective booking
// POST /api/v1/loyalty/vouchers/validate
func (h *Handler) Validate(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	input, err := req.toInput(userID)
	if err != nil {
		common.HandleServiceError(c, err, "Invalid request")
		return
	}

	result, err := h.service.Validate(c.Request.Context(), input)
	if err != nil {
		common.HandleServiceError(c, err, "Failed to validate voucher")
		return
	}
	common.SuccessResponse(c, result)
}

type applyRequest struct {
	validateRequest
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// Apply returns the discounted price preview for a booking
// POST /internal/v1/loyalty/vouchers/apply
func (h *Handler) Apply(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	input, err := req.toInput(req.UserID)
	if err != nil {
		common.HandleServiceError(c, err, "Invalid request")
		return
	}

	calc, err := h.service.Apply(c.Request.Context(), input)
	if err != nil {
		common.HandleServiceError(c, err, "Failed to apply voucher")
		return
	}
	common.SuccessResponse(c, calc)
}

type markUsedRequest struct {
	BookingID uuid.UUID `json:"booking_id" binding:"required"`
}

// MarkUsed finalizes a voucher after payment capture
// POST /internal/v1/loyalty/vouchers/:id/use
func (h *Handler) MarkUsed(c *gin.Context) {
	voucherID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid voucher ID")
		return
	}

	var req markUsedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	voucher, err := h.service.MarkUsed(c.Request.Context(), voucherID, req.BookingID)
	if err != nil {
		common.HandleServiceError(c, err, "Failed to mark voucher used")
		return
	}
	common.SuccessResponse(c, voucher)
}

// RegisterCustomerRoutes registers JWT-protected voucher routes
func (h *Handler) RegisterCustomerRoutes(rg *gin.RouterGroup) {
	rg.GET("/rewards", h.ListRewards)
	rg.POST("/rewards/:id/redeem", h.Redeem)
	rg.GET("/vouchers", h.ListVouchers)
	rg.POST("/vouchers/validate", h.Validate)
}

// RegisterInternalRoutes registers service-to-service voucher routes
func (h *Handler) RegisterInternalRoutes(rg *gin.RouterGroup) {
	rg.POST("/vouchers/apply", h.Apply)
	rg.POST("/vouchers/:id/use", h.MarkUsed)
}
