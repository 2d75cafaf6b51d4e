package ledger

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/easybooktrip/loyalty-engine/pkg/common"
	"github.com/easybooktrip/loyalty-engine/pkg/middleware"
	"github.com/easybooktrip/loyalty-engine/pkg/pagination"
)

// Handler handles HTTP requests for the points ledger
type Handler struct {
	service *Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetSummary gets the authenticated user's loyalty summary
// GET /api/v1/loyalty/summary
func (h *Handler) GetSummary(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	summary, err := h.service.GetSummary(c.Request.Context(), userID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to get loyalty summary")
		return
	}

	common.SuccessResponse(c, summary)
}

// GetTransactions gets the authenticated user's ledger history
// GET /api/v1/loyalty/transactions?limit=&offset=&type=
func (h *Handler) GetTransactions(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	params := pagination.ParseParams(c)
	typeFilter := c.Query("type")

	history, err := h.service.GetHistory(c.Request.Context(), userID, params.Limit, params.Offset, typeFilter)
	if err != nil {
		common.HandleServiceError(c, err, "failed to get transaction history")
		return
	}

	common.SuccessResponseWithMeta(c, history, pagination.BuildMeta(history.Limit, history.Offset, history.Total))
}

// AdjustPoints credits or debits points on behalf of an administrator
// POST /internal/v1/loyalty/adjust
func (h *Handler) AdjustPoints(c *gin.Context) {
	var req struct {
		UserID      uuid.UUID `json:"user_id" binding:"required"`
		Points      int64     `json:"points"`
		Reason      string    `json:"reason" binding:"required"`
		AdminUserID uuid.UUID `json:"admin_user_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.AdminAdjustPoints(c.Request.Context(), req.UserID, req.Points, req.Reason, req.AdminUserID)
	if err != nil {
		common.HandleServiceError(c, err, "failed to adjust points")
		return
	}

	common.SuccessResponse(c, result)
}

// RegisterCustomerRoutes registers routes served to authenticated users
func (h *Handler) RegisterCustomerRoutes(rg *gin.RouterGroup) {
	rg.GET("/summary", h.GetSummary)
	rg.GET("/transactions", h.GetTransactions)
}

// RegisterInternalRoutes registers routes served to trusted collaborators
func (h *Handler) RegisterInternalRoutes(rg *gin.RouterGroup) {
	rg.POST("/adjust", h.AdjustPoints)
}
