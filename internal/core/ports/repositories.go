package ports

import (
	"context"
	"errors"
	"time"

	"conditional-ledger/internal/core/domain"

	"github.com/google/uuid"
)

var (
	// ErrConcurrencyConflict is returned by EventStore.Append when the
	// aggregate moved past the expected version.
	ErrConcurrencyConflict = errors.New("event store: concurrency conflict")
	// ErrAlreadySettled is returned when a transfer or fee is already part of a settlement.
	ErrAlreadySettled = errors.New("already settled")
)

// EventStore is the append-only, per-aggregate transfer event log.
type EventStore interface {
	// Append stores payloads as versions expectedVersion+1.. of the aggregate.
	// expectedVersion is 0 for a new aggregate.
	Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, payloads []domain.EventPayload) ([]domain.Event, error)
	// Load returns the aggregate's events in version order, empty if unknown.
	Load(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error)
	// LoadAfter returns up to limit events that committed after the event at
	// position, in commit order. Position 0 starts from the beginning.
	LoadAfter(ctx context.Context, position int64, limit int) ([]domain.Event, error)
}

// CheckpointStore tracks the last event position applied by each projection.
type CheckpointStore interface {
	Get(ctx context.Context, projection string) (int64, error)
	Save(ctx context.Context, projection string, position int64) error
}

// TransferReadRepository is the transfer detail read model.
type TransferReadRepository interface {
	// Upsert writes t unless a row with an equal or newer version exists.
	Upsert(ctx context.Context, t *domain.Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	Reset(ctx context.Context) error
}

// SettleableRepository holds the entries of executed transfers. Entries of
// transfers included in a settlement are excluded from the List methods.
type SettleableRepository interface {
	AddEntries(ctx context.Context, entries []domain.SettleableEntry) error
	List(ctx context.Context) ([]domain.SettleableEntry, error)
	ListForAccount(ctx context.Context, account string) ([]domain.SettleableEntry, error)
	Reset(ctx context.Context) error
}

// MarkerRepository holds one state marker per transfer.
type MarkerRepository interface {
	// Upsert writes marker unless one with an equal or newer version exists.
	Upsert(ctx context.Context, marker *domain.TransferMarker) error
	// ListExpired returns PREPARED markers whose expiry is before now and that
	// sort after the cursor, oldest first.
	ListExpired(ctx context.Context, now time.Time, after domain.MarkerCursor, limit int) ([]domain.TransferMarker, error)
	Reset(ctx context.Context) error
}

// AccountRepository is the account directory.
type AccountRepository interface {
	// Ensure adds any names not yet known. It is idempotent.
	Ensure(ctx context.Context, names []string) error
	// List returns all accounts ordered by name.
	List(ctx context.Context) ([]domain.Account, error)
	Exists(ctx context.Context, name string) (bool, error)
}

// FeeRepository stores fees charged against transfers.
type FeeRepository interface {
	Create(ctx context.Context, fee *domain.Fee) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Fee, error)
	// ListSettleable returns fees not yet part of a settlement.
	ListSettleable(ctx context.Context) ([]domain.Fee, error)
	ListSettleableForAccount(ctx context.Context, account string) ([]domain.Fee, error)
}

// SettlementRepository records settlements.
type SettlementRepository interface {
	// Create stores the settlement and marks its transfers and fees as
	// settled atomically. Returns ErrAlreadySettled if any of them already is.
	Create(ctx context.Context, s *domain.Settlement) error
}

// SweepLock serialises expiry sweeps across ledger instances.
type SweepLock interface {
	// TryLock returns a token and true when the lock was acquired.
	TryLock(ctx context.Context, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, token string) error
}
