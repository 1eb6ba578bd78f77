package dto

import (
	"time"

	"conditional-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// EntryRequest is one debit or credit of a prepare request.
type EntryRequest struct {
	Account string          `json:"account" binding:"required,account_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// PrepareTransferRequest is the request body for PUT /transfers/:id.
// ID is optional and must match the path when present.
type PrepareTransferRequest struct {
	ID                 string         `json:"id,omitempty" binding:"omitempty,uuid"`
	Ledger             string         `json:"ledger" binding:"required,max=1024"`
	Debits             []EntryRequest `json:"debits" binding:"required,min=1,dive"`
	Credits            []EntryRequest `json:"credits" binding:"required,min=1,dive"`
	ExecutionCondition string         `json:"execution_condition" binding:"required"`
	ExpiresAt          time.Time      `json:"expires_at" binding:"required"`
}

// FulfillRequest is the request body for PUT /transfers/:id/fulfillment.
type FulfillRequest struct {
	Fulfillment string `json:"fulfillment" binding:"required"`
}

// RejectRequest is the request body for PUT /transfers/:id/rejection.
// RejectionType defaults to CANCELED.
type RejectRequest struct {
	RejectionReason string `json:"rejection_reason" binding:"required,max=1024"`
	RejectionType   string `json:"rejection_type,omitempty" binding:"omitempty,oneof=CANCELED EXPIRED"`
}

// FeeRequest is the request body for POST /fees.
type FeeRequest struct {
	TransferID   string          `json:"transfer_id" binding:"required,uuid"`
	ChargeID     string          `json:"charge_id" binding:"required,max=255"`
	PayerAccount string          `json:"payer_account" binding:"required,account_id"`
	PayerAmount  decimal.Decimal `json:"payer_amount"`
	PayeeAccount string          `json:"payee_account" binding:"required,account_id"`
	PayeeAmount  decimal.Decimal `json:"payee_amount"`
}

// SettlementRequest is the request body for POST /settlements.
type SettlementRequest struct {
	TransferIDs []string `json:"transfer_ids" binding:"dive,uuid"`
	FeeIDs      []string `json:"fee_ids" binding:"dive,uuid"`
}

// EntryResponse is one debit or credit of a transfer.
type EntryResponse struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// TransferResponse is the public view of a transfer.
type TransferResponse struct {
	ID                 string          `json:"id"`
	Ledger             string          `json:"ledger"`
	Debits             []EntryResponse `json:"debits"`
	Credits            []EntryResponse `json:"credits"`
	ExecutionCondition string          `json:"execution_condition"`
	ExpiresAt          string          `json:"expires_at"`
	State              string          `json:"state"`
	Fulfillment        string          `json:"fulfillment,omitempty"`
	RejectionReason    string          `json:"rejection_reason,omitempty"`
	RejectionType      string          `json:"rejection_type,omitempty"`
	PreparedAt         string          `json:"prepared_at"`
	ExecutedAt         *string         `json:"executed_at,omitempty"`
	RejectedAt         *string         `json:"rejected_at,omitempty"`
}

// FeeResponse is the public view of a recorded fee.
type FeeResponse struct {
	ID           string `json:"id"`
	TransferID   string `json:"transfer_id"`
	ChargeID     string `json:"charge_id"`
	PayerAccount string `json:"payer_account"`
	PayerAmount  string `json:"payer_amount"`
	PayeeAccount string `json:"payee_account"`
	PayeeAmount  string `json:"payee_amount"`
	CreatedAt    string `json:"created_at"`
}

// SettlementResponse is the public view of a settlement.
type SettlementResponse struct {
	ID          string   `json:"id"`
	TransferIDs []string `json:"transfer_ids"`
	FeeIDs      []string `json:"fee_ids"`
	CreatedAt   string   `json:"created_at"`
}

// ToTransferResponse converts a domain transfer to its response DTO.
func ToTransferResponse(t *domain.Transfer) TransferResponse {
	resp := TransferResponse{
		ID:                 t.ID.String(),
		Ledger:             t.Ledger,
		Debits:             toEntryResponses(t.Debits),
		Credits:            toEntryResponses(t.Credits),
		ExecutionCondition: t.ExecutionCondition,
		ExpiresAt:          formatTime(t.ExpiresAt),
		State:              string(t.State),
		Fulfillment:        t.Fulfillment,
		RejectionReason:    t.RejectionReason,
		RejectionType:      string(t.RejectionType),
		PreparedAt:         formatTime(t.PreparedAt),
	}
	if t.ExecutedAt != nil {
		s := formatTime(*t.ExecutedAt)
		resp.ExecutedAt = &s
	}
	if t.RejectedAt != nil {
		s := formatTime(*t.RejectedAt)
		resp.RejectedAt = &s
	}
	return resp
}

// ToFeeResponse converts a domain fee to its response DTO.
func ToFeeResponse(f *domain.Fee) FeeResponse {
	return FeeResponse{
		ID:           f.ID.String(),
		TransferID:   f.TransferID.String(),
		ChargeID:     f.ChargeID,
		PayerAccount: f.PayerAccount,
		PayerAmount:  f.PayerAmount.String(),
		PayeeAccount: f.PayeeAccount,
		PayeeAmount:  f.PayeeAmount.String(),
		CreatedAt:    formatTime(f.CreatedAt),
	}
}

// ToSettlementResponse converts a domain settlement to its response DTO.
func ToSettlementResponse(s *domain.Settlement) SettlementResponse {
	resp := SettlementResponse{
		ID:          s.ID.String(),
		TransferIDs: make([]string, len(s.TransferIDs)),
		FeeIDs:      make([]string, len(s.FeeIDs)),
		CreatedAt:   formatTime(s.CreatedAt),
	}
	for i, id := range s.TransferIDs {
		resp.TransferIDs[i] = id.String()
	}
	for i, id := range s.FeeIDs {
		resp.FeeIDs[i] = id.String()
	}
	return resp
}

func toEntryResponses(entries []domain.Entry) []EntryResponse {
	out := make([]EntryResponse, len(entries))
	for i, e := range entries {
		out[i] = EntryResponse{Account: e.Account, Amount: e.Amount.String()}
	}
	return out
}

// ToEntries converts request entries to domain entries.
func ToEntries(entries []EntryRequest) []domain.Entry {
	out := make([]domain.Entry, len(entries))
	for i, e := range entries {
		out[i] = domain.Entry{Account: e.Account, Amount: e.Amount}
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
