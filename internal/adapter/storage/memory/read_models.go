package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"conditional-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// CheckpointStore keeps projection positions in memory.
type CheckpointStore struct {
	mu        sync.RWMutex
	positions map[string]int64
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{positions: make(map[string]int64)}
}

func (s *CheckpointStore) Get(_ context.Context, projection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[projection], nil
}

func (s *CheckpointStore) Save(_ context.Context, projection string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[projection] = position
	return nil
}

// TransferRepo is the transfer detail read model.
type TransferRepo struct {
	mu        sync.RWMutex
	transfers map[uuid.UUID]*domain.Transfer
}

func NewTransferRepo() *TransferRepo {
	return &TransferRepo{transfers: make(map[uuid.UUID]*domain.Transfer)}
}

func (r *TransferRepo) Upsert(_ context.Context, t *domain.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.transfers[t.ID]; ok && existing.Version >= t.Version {
		return nil
	}
	r.transfers[t.ID] = t.Clone()
	return nil
}

func (r *TransferRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transfers[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (r *TransferRepo) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = make(map[uuid.UUID]*domain.Transfer)
	return nil
}

// MarkerRepo holds the per-transfer state markers.
type MarkerRepo struct {
	mu      sync.RWMutex
	markers map[uuid.UUID]domain.TransferMarker
}

func NewMarkerRepo() *MarkerRepo {
	return &MarkerRepo{markers: make(map[uuid.UUID]domain.TransferMarker)}
}

func (r *MarkerRepo) Upsert(_ context.Context, m *domain.TransferMarker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.markers[m.TransferID]; ok && existing.Version >= m.Version {
		return nil
	}
	r.markers[m.TransferID] = *m
	return nil
}

func (r *MarkerRepo) ListExpired(_ context.Context, now time.Time, after domain.MarkerCursor, limit int) ([]domain.TransferMarker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.TransferMarker
	for _, m := range r.markers {
		if m.State == domain.TransferStatePrepared && m.ExpiresAt.Before(now) && after.Before(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cursor().Before(out[j])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MarkerRepo) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers = make(map[uuid.UUID]domain.TransferMarker)
	return nil
}

// AccountRepo is the account directory.
type AccountRepo struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	now      func() time.Time
}

func NewAccountRepo() *AccountRepo {
	return &AccountRepo{accounts: make(map[string]domain.Account), now: time.Now}
}

func (r *AccountRepo) Ensure(_ context.Context, names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.accounts[name]; ok {
			continue
		}
		r.accounts[name] = domain.Account{Name: name, CreatedAt: r.now().UTC()}
	}
	return nil
}

func (r *AccountRepo) List(_ context.Context) ([]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *AccountRepo) Exists(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[name]
	return ok, nil
}
