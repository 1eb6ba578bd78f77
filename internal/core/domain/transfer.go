package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferState represents the lifecycle state of a transfer.
type TransferState string

const (
	TransferStatePrepared TransferState = "PREPARED"
	TransferStateExecuted TransferState = "EXECUTED"
	TransferStateRejected TransferState = "REJECTED"
)

// RejectionType distinguishes caller cancellations from expiry.
type RejectionType string

const (
	RejectionTypeCanceled RejectionType = "CANCELED"
	RejectionTypeExpired  RejectionType = "EXPIRED"
)

// IsValid returns true if t is a known rejection type.
func (t RejectionType) IsValid() bool {
	return t == RejectionTypeCanceled || t == RejectionTypeExpired
}

// Entry is one side of a transfer: an account and the amount it moves.
type Entry struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// Transfer is the authoritative state of one conditional transfer, rebuilt
// from its events.
type Transfer struct {
	ID                 uuid.UUID     `json:"id"`
	Ledger             string        `json:"ledger"`
	Debits             []Entry       `json:"debits"`
	Credits            []Entry       `json:"credits"`
	ExecutionCondition string        `json:"execution_condition"`
	ExpiresAt          time.Time     `json:"expires_at"`
	State              TransferState `json:"state"`
	Fulfillment        string        `json:"fulfillment,omitempty"`
	RejectionReason    string        `json:"rejection_reason,omitempty"`
	RejectionType      RejectionType `json:"rejection_type,omitempty"`
	Version            int64         `json:"version"`
	PreparedAt         time.Time     `json:"prepared_at"`
	ExecutedAt         *time.Time    `json:"executed_at,omitempty"`
	RejectedAt         *time.Time    `json:"rejected_at,omitempty"`
}

// IsTerminal returns true once the transfer has been executed or rejected.
func (t *Transfer) IsTerminal() bool {
	return t.State == TransferStateExecuted || t.State == TransferStateRejected
}

// IsExpired returns true if the transfer can no longer be fulfilled at now.
func (t *Transfer) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Amount returns the total moved by the transfer (the debit sum).
func (t *Transfer) Amount() decimal.Decimal {
	return sumEntries(t.Debits)
}

// Accounts returns every account the transfer touches, debits first,
// without duplicates.
func (t *Transfer) Accounts() []string {
	seen := make(map[string]struct{}, len(t.Debits)+len(t.Credits))
	out := make([]string, 0, len(t.Debits)+len(t.Credits))
	for _, list := range [][]Entry{t.Debits, t.Credits} {
		for _, e := range list {
			if _, ok := seen[e.Account]; ok {
				continue
			}
			seen[e.Account] = struct{}{}
			out = append(out, e.Account)
		}
	}
	return out
}

// Clone returns a deep copy so folds never alias a previous state.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	c := *t
	c.Debits = append([]Entry(nil), t.Debits...)
	c.Credits = append([]Entry(nil), t.Credits...)
	if t.ExecutedAt != nil {
		at := *t.ExecutedAt
		c.ExecutedAt = &at
	}
	if t.RejectedAt != nil {
		at := *t.RejectedAt
		c.RejectedAt = &at
	}
	return &c
}

// matchesIntent compares the fields fixed at prepare time.
func (t *Transfer) matchesIntent(cmd PrepareTransfer) bool {
	return t.Ledger == cmd.Ledger &&
		entriesEqual(t.Debits, cmd.Debits) &&
		entriesEqual(t.Credits, cmd.Credits) &&
		t.ExecutionCondition == cmd.ExecutionCondition &&
		t.ExpiresAt.Equal(cmd.ExpiresAt)
}

func sumEntries(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// entriesEqual is order-sensitive; amounts compare by value so "3" equals "3.00".
func entriesEqual(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Account != b[i].Account || !a[i].Amount.Equal(b[i].Amount) {
			return false
		}
	}
	return true
}
