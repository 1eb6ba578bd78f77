// Package memory provides process-local implementations of every storage
// port. It backs the memory storage driver and the service tests.
package memory

import (
	"conditional-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// Store bundles the in-memory repositories that share settlement state.
type Store struct {
	Events      *EventStore
	Checkpoints *CheckpointStore
	Transfers   *TransferRepo
	Markers     *MarkerRepo
	Accounts    *AccountRepo
	Settleable  *SettleableRepo
	Fees        *FeeRepo
	Settlements *SettlementRepo
}

// NewStore creates an empty store.
func NewStore() *Store {
	settled := newSettledSet()
	return &Store{
		Events:      NewEventStore(),
		Checkpoints: NewCheckpointStore(),
		Transfers:   NewTransferRepo(),
		Markers:     NewMarkerRepo(),
		Accounts:    NewAccountRepo(),
		Settleable:  &SettleableRepo{keys: make(map[entryKey]struct{}), settled: settled},
		Fees:        &FeeRepo{byID: make(map[uuid.UUID]int), settled: settled},
		Settlements: &SettlementRepo{settlements: make(map[uuid.UUID]domain.Settlement), settled: settled},
	}
}
