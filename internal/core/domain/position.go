package domain

import "github.com/shopspring/decimal"

// PositionTotals holds what an account pays and receives for one kind of obligation.
type PositionTotals struct {
	Payments decimal.Decimal `json:"payments"`
	Receipts decimal.Decimal `json:"receipts"`
	Net      decimal.Decimal `json:"net"`
}

// Position is an account's net obligation. It is derived on demand, never stored.
type Position struct {
	Account   string          `json:"account"`
	Transfers PositionTotals  `json:"transfers"`
	Fees      PositionTotals  `json:"fees"`
	Net       decimal.Decimal `json:"net"`
}

// NewPosition returns an all-zero position for account.
func NewPosition(account string) Position {
	zero := PositionTotals{Payments: decimal.Zero, Receipts: decimal.Zero, Net: decimal.Zero}
	return Position{Account: account, Transfers: zero, Fees: zero, Net: decimal.Zero}
}

func (t *PositionTotals) pay(amount decimal.Decimal) {
	t.Payments = t.Payments.Add(amount)
	t.Net = t.Receipts.Sub(t.Payments)
}

func (t *PositionTotals) receive(amount decimal.Decimal) {
	t.Receipts = t.Receipts.Add(amount)
	t.Net = t.Receipts.Sub(t.Payments)
}

// ComputePositions nets settleable entries and fees into one position per
// account in a single pass. Output order follows accounts. Activity for
// accounts not listed is ignored.
func ComputePositions(accounts []string, entries []SettleableEntry, fees []Fee) []Position {
	positions := make([]Position, len(accounts))
	index := make(map[string]int, len(accounts))
	for i, name := range accounts {
		positions[i] = NewPosition(name)
		index[name] = i
	}

	for _, e := range entries {
		i, ok := index[e.Account]
		if !ok {
			continue
		}
		switch e.Side {
		case EntrySideDebit:
			positions[i].Transfers.pay(e.Amount)
		case EntrySideCredit:
			positions[i].Transfers.receive(e.Amount)
		}
	}

	for _, f := range fees {
		if i, ok := index[f.PayerAccount]; ok {
			positions[i].Fees.pay(f.PayerAmount)
		}
		if i, ok := index[f.PayeeAccount]; ok {
			positions[i].Fees.receive(f.PayeeAmount)
		}
	}

	for i := range positions {
		positions[i].Net = positions[i].Transfers.Net.Add(positions[i].Fees.Net)
	}
	return positions
}
