package ports

import (
	"context"

	"conditional-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferService runs transfer commands against the event store.
type TransferService interface {
	// Prepare returns the transfer and whether it already existed.
	Prepare(ctx context.Context, cmd domain.PrepareTransfer) (*domain.Transfer, bool, error)
	Fulfill(ctx context.Context, cmd domain.FulfillTransfer) (*domain.Transfer, error)
	Reject(ctx context.Context, cmd domain.RejectTransfer) (*domain.Transfer, error)
	// Get rebuilds the transfer from its event history.
	Get(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
}

// PositionService computes net positions from the settleable read models.
type PositionService interface {
	CalculateForAccount(ctx context.Context, account string) (*domain.Position, error)
	CalculateForAllAccounts(ctx context.Context) ([]domain.Position, error)
}

// SettlementService records fees and settlements, the bookkeeping inputs
// of the position calculation.
type SettlementService interface {
	RecordFee(ctx context.Context, req FeeRequest) (*domain.Fee, error)
	Settle(ctx context.Context, req SettlementRequest) (*domain.Settlement, error)
}

// FeeRequest holds validated input for recording a fee.
type FeeRequest struct {
	TransferID   uuid.UUID
	ChargeID     string
	PayerAccount string
	PayerAmount  decimal.Decimal
	PayeeAccount string
	PayeeAmount  decimal.Decimal
}

// SettlementRequest lists what a settlement covers.
type SettlementRequest struct {
	TransferIDs []uuid.UUID
	FeeIDs      []uuid.UUID
}

// EventPublisher fans committed events out to external subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// ProjectionNotifier is told when new events have been committed.
type ProjectionNotifier interface {
	Notify()
}
