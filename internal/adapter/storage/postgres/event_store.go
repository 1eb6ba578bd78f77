package postgres

import (
	"context"
	"fmt"
	"time"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const eventColumns = "id, aggregate_id, version, position, event_type, payload, occurred_at"

// EventStore implements ports.EventStore on the transfer_events table.
type EventStore struct {
	pool Pool
}

func NewEventStore(pool Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts payloads as the next versions of the aggregate. The
// (aggregate_id, version) primary key rejects a concurrent writer that read
// the same version.
func (s *EventStore) Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, payloads []domain.EventPayload) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(payloads))
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var current int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM transfer_events WHERE aggregate_id = $1`,
			aggregateID,
		).Scan(&current); err != nil {
			return fmt.Errorf("read stream version: %w", err)
		}
		if current != expectedVersion {
			return ports.ErrConcurrencyConflict
		}

		for i, p := range payloads {
			data, err := domain.MarshalPayload(p)
			if err != nil {
				return err
			}
			evt := domain.Event{
				ID:          uuid.New(),
				AggregateID: aggregateID,
				Version:     expectedVersion + int64(i) + 1,
				Type:        p.EventType(),
				Payload:     p,
			}
			err = tx.QueryRow(ctx,
				`INSERT INTO transfer_events (id, aggregate_id, version, event_type, payload)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING position, occurred_at`,
				evt.ID, evt.AggregateID, evt.Version, string(evt.Type), data,
			).Scan(&evt.Position, &evt.OccurredAt)
			if err != nil {
				if isUniqueViolation(err) {
					return ports.ErrConcurrencyConflict
				}
				return fmt.Errorf("insert event: %w", err)
			}
			events = append(events, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *EventStore) Load(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM transfer_events WHERE aggregate_id = $1 ORDER BY version`,
		aggregateID,
	)
	if err != nil {
		return nil, fmt.Errorf("load stream: %w", err)
	}
	return scanEvents(rows)
}

// LoadAfter pages the global log in commit order, ordered by
// (transaction_id, position) and resumed after the event at position.
// Positions come from a sequence and can commit out of order. Transaction
// ids below the snapshot xmin are all finished, and every later writer gets
// a larger id, so nothing can still appear behind the returned page.
func (s *EventStore) LoadAfter(ctx context.Context, position int64, limit int) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM transfer_events
		 WHERE transaction_id < pg_snapshot_xmin(pg_current_snapshot())
		   AND (transaction_id, position) > (
		       COALESCE((SELECT c.transaction_id FROM transfer_events c WHERE c.position = $1), '0'::xid8),
		       $1::bigint)
		 ORDER BY transaction_id, position
		 LIMIT $2`,
		position, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load events after %d: %w", position, err)
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			evt        domain.Event
			eventType  string
			data       []byte
			occurredAt time.Time
		)
		if err := rows.Scan(&evt.ID, &evt.AggregateID, &evt.Version, &evt.Position, &eventType, &data, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Type = domain.EventType(eventType)
		evt.OccurredAt = occurredAt
		payload, err := domain.UnmarshalPayload(evt.Type, data)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", evt.ID, err)
		}
		evt.Payload = payload
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

var _ ports.EventStore = (*EventStore)(nil)

