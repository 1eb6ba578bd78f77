package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/pkg/apperror"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransferServiceImpl implements ports.TransferService on top of an event store.
// Writers to the same transfer are serialised by the store's version check;
// a conflict reloads the history and decides again.
type TransferServiceImpl struct {
	store     ports.EventStore
	notifier  ports.ProjectionNotifier
	retries   uint
	baseDelay time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewTransferService creates a new TransferServiceImpl. notifier may be nil.
func NewTransferService(
	store ports.EventStore,
	notifier ports.ProjectionNotifier,
	retries uint,
	baseDelay time.Duration,
	log zerolog.Logger,
) *TransferServiceImpl {
	if retries == 0 {
		retries = 1
	}
	return &TransferServiceImpl{
		store:     store,
		notifier:  notifier,
		retries:   retries,
		baseDelay: baseDelay,
		now:       time.Now,
		log:       log,
	}
}

// Prepare creates the transfer, or returns the existing one when the same
// payload is resubmitted.
func (s *TransferServiceImpl) Prepare(ctx context.Context, cmd domain.PrepareTransfer) (*domain.Transfer, bool, error) {
	d, err := s.execute(ctx, cmd)
	if err != nil {
		return nil, false, err
	}
	return d.Transfer, d.Existing, nil
}

func (s *TransferServiceImpl) Fulfill(ctx context.Context, cmd domain.FulfillTransfer) (*domain.Transfer, error) {
	d, err := s.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return d.Transfer, nil
}

func (s *TransferServiceImpl) Reject(ctx context.Context, cmd domain.RejectTransfer) (*domain.Transfer, error) {
	d, err := s.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return d.Transfer, nil
}

// Get replays the transfer's history. The event log is authoritative, so
// this never reads a possibly stale projection.
func (s *TransferServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	history, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("loading transfer %s: %w", id, err))
	}
	t := domain.Replay(history)
	if t == nil {
		return nil, apperror.ErrNotFound("Transfer")
	}
	return t, nil
}

func (s *TransferServiceImpl) execute(ctx context.Context, cmd domain.Command) (domain.Decision, error) {
	id := cmd.TransferID()
	attempt := 0

	op := func() (domain.Decision, error) {
		attempt++
		history, err := s.store.Load(ctx, id)
		if err != nil {
			return domain.Decision{}, backoff.Permanent(apperror.InternalError(fmt.Errorf("loading transfer %s: %w", id, err)))
		}

		current := domain.Replay(history)
		var version int64
		if current != nil {
			version = current.Version
		}

		d, err := domain.Decide(current, cmd, s.now())
		if err != nil {
			return domain.Decision{}, backoff.Permanent(err)
		}
		if len(d.Events) == 0 {
			return d, nil
		}

		if _, err := s.store.Append(ctx, id, version, d.Events); err != nil {
			if errors.Is(err, ports.ErrConcurrencyConflict) {
				s.log.Debug().Str("transfer_id", id.String()).Int("attempt", attempt).Msg("concurrent write, retrying")
				return domain.Decision{}, err
			}
			return domain.Decision{}, backoff.Permanent(apperror.InternalError(fmt.Errorf("appending events for %s: %w", id, err)))
		}
		return d, nil
	}

	d, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.retries),
	)
	if err != nil {
		if errors.Is(err, ports.ErrConcurrencyConflict) {
			s.log.Warn().Str("transfer_id", id.String()).Int("attempts", attempt).Msg("giving up after repeated write conflicts")
			return domain.Decision{}, apperror.ErrConcurrencyConflict(err)
		}
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			return domain.Decision{}, apperror.InternalError(err)
		}
		return domain.Decision{}, err
	}

	if len(d.Events) > 0 {
		s.log.Info().
			Str("transfer_id", id.String()).
			Str("event_type", string(d.Events[0].EventType())).
			Int64("version", d.Transfer.Version).
			Msg("transfer event committed")
		if s.notifier != nil {
			s.notifier.Notify()
		}
	}
	return d, nil
}

func (s *TransferServiceImpl) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.baseDelay > 0 {
		b.InitialInterval = s.baseDelay
		b.MaxInterval = 50 * s.baseDelay
	}
	return b
}
