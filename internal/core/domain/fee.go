package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fee is a charge attached to a transfer. The payer owes PayerAmount and the
// payee is owed PayeeAmount once the fee is settleable.
type Fee struct {
	ID           uuid.UUID       `json:"id"`
	TransferID   uuid.UUID       `json:"transfer_id"`
	ChargeID     string          `json:"charge_id"`
	PayerAccount string          `json:"payer_account"`
	PayerAmount  decimal.Decimal `json:"payer_amount"`
	PayeeAccount string          `json:"payee_account"`
	PayeeAmount  decimal.Decimal `json:"payee_amount"`
	SettlementID *uuid.UUID      `json:"settlement_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// IsSettled returns true once the fee is part of a settlement.
func (f *Fee) IsSettled() bool {
	return f.SettlementID != nil
}
