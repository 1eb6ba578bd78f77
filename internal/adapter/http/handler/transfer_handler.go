package handler

import (
	"conditional-ledger/internal/adapter/http/dto"
	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/pkg/apperror"
	"conditional-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransferHandler handles the transfer lifecycle endpoints.
type TransferHandler struct {
	transferSvc ports.TransferService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transferSvc ports.TransferService) *TransferHandler {
	return &TransferHandler{transferSvc: transferSvc}
}

// Prepare handles PUT /api/v1/transfers/:id.
// Responds 201 when the transfer is new and 200 for an idempotent replay.
func (h *TransferHandler) Prepare(c *gin.Context) {
	id, ok := transferID(c)
	if !ok {
		return
	}

	var req dto.PrepareTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if req.ID != "" && req.ID != id.String() {
		response.Error(c, apperror.Validation("transfer id in body does not match the URL"))
		return
	}

	transfer, existing, err := h.transferSvc.Prepare(c.Request.Context(), domain.PrepareTransfer{
		ID:                 id,
		Ledger:             req.Ledger,
		Debits:             dto.ToEntries(req.Debits),
		Credits:            dto.ToEntries(req.Credits),
		ExecutionCondition: req.ExecutionCondition,
		ExpiresAt:          req.ExpiresAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if existing {
		response.OK(c, dto.ToTransferResponse(transfer))
		return
	}
	response.Created(c, dto.ToTransferResponse(transfer))
}

// Get handles GET /api/v1/transfers/:id.
func (h *TransferHandler) Get(c *gin.Context) {
	id, ok := transferID(c)
	if !ok {
		return
	}

	transfer, err := h.transferSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToTransferResponse(transfer))
}

// Fulfill handles PUT /api/v1/transfers/:id/fulfillment.
func (h *TransferHandler) Fulfill(c *gin.Context) {
	id, ok := transferID(c)
	if !ok {
		return
	}

	var req dto.FulfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	transfer, err := h.transferSvc.Fulfill(c.Request.Context(), domain.FulfillTransfer{
		ID:          id,
		Fulfillment: req.Fulfillment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToTransferResponse(transfer))
}

// Reject handles PUT /api/v1/transfers/:id/rejection.
func (h *TransferHandler) Reject(c *gin.Context) {
	id, ok := transferID(c)
	if !ok {
		return
	}

	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.TrimStruct(&req)

	transfer, err := h.transferSvc.Reject(c.Request.Context(), domain.RejectTransfer{
		ID:     id,
		Reason: req.RejectionReason,
		Type:   domain.RejectionType(req.RejectionType),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToTransferResponse(transfer))
}

// transferID parses the :id path parameter, writing a 400 on failure.
func transferID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("transfer id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
