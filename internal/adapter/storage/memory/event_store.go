package memory

import (
	"context"
	"sync"
	"time"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"

	"github.com/google/uuid"
)

// EventStore is a process-local ports.EventStore. Appends are serialised by a
// single mutex and the version check mirrors the postgres primary key.
type EventStore struct {
	mu      sync.RWMutex
	streams map[uuid.UUID][]domain.Event
	log     []domain.Event
	now     func() time.Time
}

// NewEventStore creates an empty event store.
func NewEventStore() *EventStore {
	return &EventStore{
		streams: make(map[uuid.UUID][]domain.Event),
		now:     time.Now,
	}
}

func (s *EventStore) Append(_ context.Context, aggregateID uuid.UUID, expectedVersion int64, payloads []domain.EventPayload) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	if int64(len(stream)) != expectedVersion {
		return nil, ports.ErrConcurrencyConflict
	}

	occurredAt := s.now().UTC()
	appended := make([]domain.Event, 0, len(payloads))
	for i, p := range payloads {
		evt := domain.Event{
			ID:          uuid.New(),
			AggregateID: aggregateID,
			Version:     expectedVersion + int64(i) + 1,
			Position:    int64(len(s.log)) + 1,
			Type:        p.EventType(),
			Payload:     p,
			OccurredAt:  occurredAt,
		}
		s.log = append(s.log, evt)
		stream = append(stream, evt)
		appended = append(appended, evt)
	}
	s.streams[aggregateID] = stream
	return appended, nil
}

func (s *EventStore) Load(_ context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Event(nil), s.streams[aggregateID]...), nil
}

// LoadAfter relies on positions being dense and starting at 1.
func (s *EventStore) LoadAfter(_ context.Context, position int64, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if position < 0 {
		position = 0
	}
	if position >= int64(len(s.log)) {
		return nil, nil
	}
	end := int64(len(s.log))
	if limit > 0 && position+int64(limit) < end {
		end = position + int64(limit)
	}
	return append([]domain.Event(nil), s.log[position:end]...), nil
}
