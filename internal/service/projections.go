package service

import (
	"context"
	"fmt"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"
)

// Projection names, also used as checkpoint keys.
const (
	ProjectionTransferDetail = "transfer_detail"
	ProjectionSettleable     = "settleable_transfers"
	ProjectionMarkers        = "transfer_markers"
	ProjectionAccounts       = "accounts"
	ProjectionNotifications  = "notifications"
)

// TransferDetailProjection mirrors the aggregate into the transfer read model.
type TransferDetailProjection struct {
	repo ports.TransferReadRepository
}

func NewTransferDetailProjection(repo ports.TransferReadRepository) *TransferDetailProjection {
	return &TransferDetailProjection{repo: repo}
}

func (p *TransferDetailProjection) Name() string { return ProjectionTransferDetail }

func (p *TransferDetailProjection) Apply(ctx context.Context, evt domain.Event) error {
	t := domain.Fold(nil, evt)
	if t == nil {
		return nil
	}
	if err := p.repo.Upsert(ctx, t); err != nil {
		return fmt.Errorf("upserting transfer %s: %w", evt.AggregateID, err)
	}
	return nil
}

func (p *TransferDetailProjection) Reset(ctx context.Context) error {
	return p.repo.Reset(ctx)
}

// SettleableProjection records the entries of executed transfers.
type SettleableProjection struct {
	repo ports.SettleableRepository
}

func NewSettleableProjection(repo ports.SettleableRepository) *SettleableProjection {
	return &SettleableProjection{repo: repo}
}

func (p *SettleableProjection) Name() string { return ProjectionSettleable }

func (p *SettleableProjection) Apply(ctx context.Context, evt domain.Event) error {
	if _, ok := evt.Payload.(domain.TransferExecuted); !ok {
		return nil
	}
	t := domain.Fold(nil, evt)
	if err := p.repo.AddEntries(ctx, domain.SettleableEntries(t)); err != nil {
		return fmt.Errorf("adding settleable entries for %s: %w", evt.AggregateID, err)
	}
	return nil
}

func (p *SettleableProjection) Reset(ctx context.Context) error {
	return p.repo.Reset(ctx)
}

// MarkerProjection keeps one state marker per transfer for the expiry sweeper.
type MarkerProjection struct {
	repo ports.MarkerRepository
}

func NewMarkerProjection(repo ports.MarkerRepository) *MarkerProjection {
	return &MarkerProjection{repo: repo}
}

func (p *MarkerProjection) Name() string { return ProjectionMarkers }

func (p *MarkerProjection) Apply(ctx context.Context, evt domain.Event) error {
	t := domain.Fold(nil, evt)
	if t == nil {
		return nil
	}
	m := &domain.TransferMarker{
		TransferID: t.ID,
		State:      t.State,
		ExpiresAt:  t.ExpiresAt,
		Version:    evt.Version,
		UpdatedAt:  evt.OccurredAt,
	}
	if err := p.repo.Upsert(ctx, m); err != nil {
		return fmt.Errorf("upserting marker %s: %w", evt.AggregateID, err)
	}
	return nil
}

func (p *MarkerProjection) Reset(ctx context.Context) error {
	return p.repo.Reset(ctx)
}

// AccountProjection adds every account named by a prepared transfer to the directory.
type AccountProjection struct {
	repo ports.AccountRepository
}

func NewAccountProjection(repo ports.AccountRepository) *AccountProjection {
	return &AccountProjection{repo: repo}
}

func (p *AccountProjection) Name() string { return ProjectionAccounts }

func (p *AccountProjection) Apply(ctx context.Context, evt domain.Event) error {
	prepared, ok := evt.Payload.(domain.TransferPrepared)
	if !ok {
		return nil
	}
	if err := p.repo.Ensure(ctx, prepared.Transfer.Accounts()); err != nil {
		return fmt.Errorf("registering accounts of %s: %w", evt.AggregateID, err)
	}
	return nil
}

// Reset is a no-op: the directory also holds accounts registered by fees.
func (p *AccountProjection) Reset(context.Context) error { return nil }

// NotificationProjection publishes committed events to external subscribers.
type NotificationProjection struct {
	publisher ports.EventPublisher
}

func NewNotificationProjection(publisher ports.EventPublisher) *NotificationProjection {
	return &NotificationProjection{publisher: publisher}
}

func (p *NotificationProjection) Name() string { return ProjectionNotifications }

func (p *NotificationProjection) Apply(ctx context.Context, evt domain.Event) error {
	if err := p.publisher.Publish(ctx, evt); err != nil {
		return fmt.Errorf("publishing %s for %s: %w", evt.Type, evt.AggregateID, err)
	}
	return nil
}

// Reset is a no-op; a rebuild republishes the whole log.
func (p *NotificationProjection) Reset(context.Context) error { return nil }
