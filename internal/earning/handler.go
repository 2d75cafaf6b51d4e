package earning

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/easybooktrip/loyalty-engine/pkg/common"
)

// Handler handles HTTP requests for the earning flow
type Handler struct {
	service *Service
}

// NewHandler creates a new earning handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// EarnPoints credits points for a paid booking
// POST /internal/v1/loyalty/earn
func (h *Handler) EarnPoints(c *gin.Context) {
	var req struct {
		UserID          uuid.UUID `json:"user_id" binding:"required"`
		BookingID       uuid.UUID `json:"booking_id" binding:"required"`
		ProductCategory string    `json:"product_category" binding:"required"`
		TotalAmount     string    `json:"total_amount" binding:"required"`
		Currency        string    `json:"currency" binding:"required,len=3"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid total amount")
		return
	}

	result, err := h.service.EarnFromBooking(c.Request.Context(), EarnInput{
		UserID:          req.UserID,
		BookingID:       req.BookingID,
		ProductCategory: Category(req.ProductCategory),
		TotalAmount:     amount,
		Currency:        req.Currency,
	})
	if err != nil {
		common.HandleServiceError(c, err, "failed to credit points")
		return
	}

	common.SuccessResponse(c, result)
}

// RegisterInternalRoutes registers routes served to trusted collaborators
func (h *Handler) RegisterInternalRoutes(rg *gin.RouterGroup) {
	rg.POST("/earn", h.EarnPoints)
}
