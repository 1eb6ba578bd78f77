package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a transfer event variant.
type EventType string

const (
	EventTransferPrepared EventType = "TransferPrepared"
	EventTransferExecuted EventType = "TransferExecuted"
	EventTransferRejected EventType = "TransferRejected"
)

// EventPayload is the closed set of transfer event payloads.
type EventPayload interface {
	EventType() EventType
	// Snapshot is the full transfer state after the event.
	Snapshot() Transfer
	isEventPayload()
}

// TransferPrepared records the creation of a transfer.
type TransferPrepared struct {
	Transfer Transfer `json:"transfer"`
}

// TransferExecuted records a fulfillment that released the transfer.
type TransferExecuted struct {
	Transfer    Transfer `json:"transfer"`
	Fulfillment string   `json:"fulfillment"`
}

// TransferRejected records a cancellation or expiry.
type TransferRejected struct {
	Transfer        Transfer      `json:"transfer"`
	RejectionReason string        `json:"rejection_reason"`
	RejectionType   RejectionType `json:"rejection_type"`
}

func (TransferPrepared) EventType() EventType { return EventTransferPrepared }
func (TransferExecuted) EventType() EventType { return EventTransferExecuted }
func (TransferRejected) EventType() EventType { return EventTransferRejected }

func (p TransferPrepared) Snapshot() Transfer { return p.Transfer }
func (p TransferExecuted) Snapshot() Transfer { return p.Transfer }
func (p TransferRejected) Snapshot() Transfer { return p.Transfer }

func (TransferPrepared) isEventPayload() {}
func (TransferExecuted) isEventPayload() {}
func (TransferRejected) isEventPayload() {}

// Event is a committed entry of the transfer event log.
// Version is per aggregate and starts at 1; Position is the global commit order.
type Event struct {
	ID          uuid.UUID    `json:"id"`
	AggregateID uuid.UUID    `json:"aggregate_id"`
	Version     int64        `json:"version"`
	Position    int64        `json:"position"`
	Type        EventType    `json:"type"`
	Payload     EventPayload `json:"payload"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// MarshalPayload encodes a payload for storage or publishing.
func MarshalPayload(p EventPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", p.EventType(), err)
	}
	return data, nil
}

// UnmarshalPayload decodes a stored payload according to its event type.
func UnmarshalPayload(t EventType, data []byte) (EventPayload, error) {
	switch t {
	case EventTransferPrepared:
		var p TransferPrepared
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshaling %s payload: %w", t, err)
		}
		return p, nil
	case EventTransferExecuted:
		var p TransferExecuted
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshaling %s payload: %w", t, err)
		}
		return p, nil
	case EventTransferRejected:
		var p TransferRejected
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshaling %s payload: %w", t, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
