package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntrySide tells whether a settleable entry pays or receives.
type EntrySide string

const (
	EntrySideDebit  EntrySide = "debit"
	EntrySideCredit EntrySide = "credit"
)

// SettleableEntry is one debit or credit of an executed transfer that has
// not been settled yet.
type SettleableEntry struct {
	TransferID uuid.UUID       `json:"transfer_id"`
	Account    string          `json:"account"`
	Side       EntrySide       `json:"side"`
	Index      int             `json:"index"`
	Amount     decimal.Decimal `json:"amount"`
}

// SettleableEntries flattens an executed transfer into its settleable rows.
func SettleableEntries(t *Transfer) []SettleableEntry {
	out := make([]SettleableEntry, 0, len(t.Debits)+len(t.Credits))
	for i, e := range t.Debits {
		out = append(out, SettleableEntry{TransferID: t.ID, Account: e.Account, Side: EntrySideDebit, Index: i, Amount: e.Amount})
	}
	for i, e := range t.Credits {
		out = append(out, SettleableEntry{TransferID: t.ID, Account: e.Account, Side: EntrySideCredit, Index: i, Amount: e.Amount})
	}
	return out
}

// Settlement marks a batch of transfers and fees as settled, removing them
// from position calculations.
type Settlement struct {
	ID          uuid.UUID   `json:"id"`
	TransferIDs []uuid.UUID `json:"transfer_ids"`
	FeeIDs      []uuid.UUID `json:"fee_ids"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TransferMarker is the lightweight state row used by the expiry sweeper.
type TransferMarker struct {
	TransferID uuid.UUID     `json:"transfer_id"`
	State      TransferState `json:"state"`
	ExpiresAt  time.Time     `json:"expires_at"`
	Version    int64         `json:"version"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// MarkerCursor is a keyset position in (expires_at, transfer_id) order.
// The zero value starts before every marker.
type MarkerCursor struct {
	ExpiresAt  time.Time
	TransferID uuid.UUID
}

// Cursor returns the keyset position of m.
func (m TransferMarker) Cursor() MarkerCursor {
	return MarkerCursor{ExpiresAt: m.ExpiresAt, TransferID: m.TransferID}
}

// Before reports whether c sorts strictly before m.
func (c MarkerCursor) Before(m TransferMarker) bool {
	if !c.ExpiresAt.Equal(m.ExpiresAt) {
		return c.ExpiresAt.Before(m.ExpiresAt)
	}
	return c.TransferID.String() < m.TransferID.String()
}

// Account is an entry of the account directory.
type Account struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
