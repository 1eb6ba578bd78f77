package handler

import (
	"conditional-ledger/internal/adapter/http/dto"
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/pkg/apperror"
	"conditional-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SettlementHandler records fees and settlements.
type SettlementHandler struct {
	settlementSvc ports.SettlementService
}

func NewSettlementHandler(settlementSvc ports.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlementSvc: settlementSvc}
}

// RecordFee handles POST /api/v1/fees.
func (h *SettlementHandler) RecordFee(c *gin.Context) {
	var req dto.FeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.TrimStruct(&req)

	fee, err := h.settlementSvc.RecordFee(c.Request.Context(), ports.FeeRequest{
		TransferID:   uuid.MustParse(req.TransferID),
		ChargeID:     req.ChargeID,
		PayerAccount: req.PayerAccount,
		PayerAmount:  req.PayerAmount,
		PayeeAccount: req.PayeeAccount,
		PayeeAmount:  req.PayeeAmount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToFeeResponse(fee))
}

// Settle handles POST /api/v1/settlements.
func (h *SettlementHandler) Settle(c *gin.Context) {
	var req dto.SettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	settlement, err := h.settlementSvc.Settle(c.Request.Context(), ports.SettlementRequest{
		TransferIDs: parseIDs(req.TransferIDs),
		FeeIDs:      parseIDs(req.FeeIDs),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToSettlementResponse(settlement))
}

// parseIDs converts ids already checked by the uuid binding rule.
func parseIDs(raw []string) []uuid.UUID {
	ids := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		ids[i] = uuid.MustParse(s)
	}
	return ids
}
