package service

import (
	"testing"
	"time"

	"conditional-ledger/internal/adapter/storage/memory"
	"conditional-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var preimage = []byte("release the funds")

func fulfillmentURI() string {
	return domain.NewPreimageFulfillment(preimage).String()
}

func prepareCmd(debit, credit, amount string) domain.PrepareTransfer {
	return domain.PrepareTransfer{
		ID:                 uuid.New(),
		Ledger:             "http://ledger.example",
		Debits:             []domain.Entry{{Account: debit, Amount: decimal.RequireFromString(amount)}},
		Credits:            []domain.Entry{{Account: credit, Amount: decimal.RequireFromString(amount)}},
		ExecutionCondition: domain.NewPreimageFulfillment(preimage).Condition().String(),
		ExpiresAt:          fixedNow.Add(10 * time.Second),
	}
}

func preparedEvent(cmd domain.PrepareTransfer, position int64) domain.Event {
	d, err := domain.Decide(nil, cmd, fixedNow)
	if err != nil {
		panic(err)
	}
	return domain.Event{
		ID:          uuid.New(),
		AggregateID: cmd.ID,
		Version:     1,
		Position:    position,
		Type:        domain.EventTransferPrepared,
		Payload:     d.Events[0],
		OccurredAt:  fixedNow,
	}
}

// ledgerHarness wires the real services over the memory store.
type ledgerHarness struct {
	store     *memory.Store
	transfers *TransferServiceImpl
	projector *Projector
	positions *PositionServiceImpl
	clock     time.Time
}

func newLedgerHarness(t *testing.T) *ledgerHarness {
	t.Helper()
	h := &ledgerHarness{store: memory.NewStore(), clock: fixedNow}
	log := zerolog.Nop()

	h.projector = NewProjector(h.store.Events, h.store.Checkpoints, time.Hour, 50, log,
		NewTransferDetailProjection(h.store.Transfers),
		NewSettleableProjection(h.store.Settleable),
		NewMarkerProjection(h.store.Markers),
		NewAccountProjection(h.store.Accounts),
	)
	h.transfers = NewTransferService(h.store.Events, h.projector, 5, time.Millisecond, log)
	h.transfers.now = func() time.Time { return h.clock }
	h.positions = NewPositionService(h.store.Accounts, h.store.Settleable, h.store.Fees, log)
	return h
}
