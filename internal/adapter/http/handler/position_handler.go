package handler

import (
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// PositionHandler serves net settlement positions.
type PositionHandler struct {
	positionSvc ports.PositionService
}

func NewPositionHandler(positionSvc ports.PositionService) *PositionHandler {
	return &PositionHandler{positionSvc: positionSvc}
}

// List handles GET /api/v1/positions.
func (h *PositionHandler) List(c *gin.Context) {
	positions, err := h.positionSvc.CalculateForAllAccounts(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, positions)
}

// Get handles GET /api/v1/positions/:account.
func (h *PositionHandler) Get(c *gin.Context) {
	position, err := h.positionSvc.CalculateForAccount(c.Request.Context(), c.Param("account"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, position)
}
