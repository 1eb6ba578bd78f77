package memory

import (
	"context"
	"fmt"
	"sync"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"

	"github.com/google/uuid"
)

type entryKey struct {
	transferID uuid.UUID
	side       domain.EntrySide
	index      int
}

// settledSet is shared by the settleable, fee and settlement repos so the
// anti-join against settlements stays consistent.
type settledSet struct {
	mu        sync.RWMutex
	transfers map[uuid.UUID]uuid.UUID
	fees      map[uuid.UUID]uuid.UUID
}

func newSettledSet() *settledSet {
	return &settledSet{
		transfers: make(map[uuid.UUID]uuid.UUID),
		fees:      make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *settledSet) transferSettled(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.transfers[id]
	return ok
}

func (s *settledSet) feeSettlement(id uuid.UUID) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sid, ok := s.fees[id]
	return sid, ok
}

// SettleableRepo holds executed transfer entries in insertion order.
type SettleableRepo struct {
	mu      sync.RWMutex
	keys    map[entryKey]struct{}
	entries []domain.SettleableEntry
	settled *settledSet
}

func (r *SettleableRepo) AddEntries(_ context.Context, entries []domain.SettleableEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		k := entryKey{transferID: e.TransferID, side: e.Side, index: e.Index}
		if _, ok := r.keys[k]; ok {
			continue
		}
		r.keys[k] = struct{}{}
		r.entries = append(r.entries, e)
	}
	return nil
}

func (r *SettleableRepo) List(ctx context.Context) ([]domain.SettleableEntry, error) {
	return r.ListForAccount(ctx, "")
}

// ListForAccount returns every settleable entry when account is empty.
func (r *SettleableRepo) ListForAccount(_ context.Context, account string) ([]domain.SettleableEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SettleableEntry
	for _, e := range r.entries {
		if account != "" && e.Account != account {
			continue
		}
		if r.settled.transferSettled(e.TransferID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *SettleableRepo) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = make(map[entryKey]struct{})
	r.entries = nil
	return nil
}

// FeeRepo stores fees in creation order.
type FeeRepo struct {
	mu      sync.RWMutex
	fees    []domain.Fee
	byID    map[uuid.UUID]int
	settled *settledSet
}

func (r *FeeRepo) Create(_ context.Context, fee *domain.Fee) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[fee.ID]; ok {
		return fmt.Errorf("fee %s already exists", fee.ID)
	}
	r.byID[fee.ID] = len(r.fees)
	r.fees = append(r.fees, *fee)
	return nil
}

func (r *FeeRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Fee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	fee := r.withSettlement(r.fees[i])
	return &fee, nil
}

func (r *FeeRepo) ListSettleable(ctx context.Context) ([]domain.Fee, error) {
	return r.ListSettleableForAccount(ctx, "")
}

// ListSettleableForAccount returns every unsettled fee when account is empty.
func (r *FeeRepo) ListSettleableForAccount(_ context.Context, account string) ([]domain.Fee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Fee
	for _, f := range r.fees {
		if account != "" && f.PayerAccount != account && f.PayeeAccount != account {
			continue
		}
		if _, ok := r.settled.feeSettlement(f.ID); ok {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *FeeRepo) withSettlement(f domain.Fee) domain.Fee {
	if sid, ok := r.settled.feeSettlement(f.ID); ok {
		f.SettlementID = &sid
	}
	return f
}

// SettlementRepo records settlements and marks their contents settled.
type SettlementRepo struct {
	mu          sync.Mutex
	settlements map[uuid.UUID]domain.Settlement
	settled     *settledSet
}

func (r *SettlementRepo) Create(_ context.Context, s *domain.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settled.mu.Lock()
	defer r.settled.mu.Unlock()

	claimed := make(map[uuid.UUID]struct{}, len(s.TransferIDs))
	for _, id := range s.TransferIDs {
		_, settled := r.settled.transfers[id]
		_, repeated := claimed[id]
		if settled || repeated {
			return fmt.Errorf("transfer %s: %w", id, ports.ErrAlreadySettled)
		}
		claimed[id] = struct{}{}
	}
	for _, id := range s.FeeIDs {
		if _, ok := r.settled.fees[id]; ok {
			return fmt.Errorf("fee %s: %w", id, ports.ErrAlreadySettled)
		}
	}
	for _, id := range s.TransferIDs {
		r.settled.transfers[id] = s.ID
	}
	for _, id := range s.FeeIDs {
		r.settled.fees[id] = s.ID
	}
	r.settlements[s.ID] = *s
	return nil
}
