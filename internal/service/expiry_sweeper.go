package service

import (
	"context"
	"fmt"
	"time"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/pkg/apperror"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	expiredReason  = "Expired"
	sweepBatchSize = 500
	defaultLockTTL = 30 * time.Second
)

// ExpirySweeper rejects prepared transfers whose expiry has passed. It goes
// through the normal command path, so a sweep racing a fulfillment or another
// sweep resolves like any other concurrent command.
type ExpirySweeper struct {
	markers   ports.MarkerRepository
	transfers ports.TransferService
	lock      ports.SweepLock
	interval  time.Duration
	lockTTL   time.Duration
	now       func() time.Time
	log       zerolog.Logger
	cron      *cron.Cron
}

// NewExpirySweeper creates a sweeper. lock may be nil on single-instance deployments.
func NewExpirySweeper(
	markers ports.MarkerRepository,
	transfers ports.TransferService,
	lock ports.SweepLock,
	interval time.Duration,
	lockTTL time.Duration,
	log zerolog.Logger,
) *ExpirySweeper {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	cronLog := cron.PrintfLogger(&log)
	return &ExpirySweeper{
		markers:   markers,
		transfers: transfers,
		lock:      lock,
		interval:  interval,
		lockTTL:   lockTTL,
		now:       time.Now,
		log:       log,
		cron:      cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
	}
}

// Start schedules Sweep every interval. A tick that fires while the previous
// sweep is still running is skipped.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, func() { s.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("scheduling expiry sweep: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", schedule).Bool("distributed_lock", s.lock != nil).Msg("expiry sweeper started")
	return nil
}

// Stop stops the schedule. The returned context is done once a running sweep finishes.
func (s *ExpirySweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *ExpirySweeper) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.lock != nil {
		token, ok, err := s.lock.TryLock(ctx, s.lockTTL)
		if err != nil {
			s.log.Error().Err(err).Msg("acquiring sweep lock")
			return
		}
		if !ok {
			s.log.Debug().Msg("another instance is sweeping, skipping")
			return
		}
		defer func() {
			if err := s.lock.Unlock(context.WithoutCancel(ctx), token); err != nil {
				s.log.Warn().Err(err).Msg("releasing sweep lock")
			}
		}()
	}

	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("expiry sweep failed")
	}
}

// Sweep rejects every expired prepared transfer and returns how many were
// rejected. A failure on one transfer is logged and the sweep moves on.
// Markers are paged by keyset, so transfers that keep failing never hide
// the ones behind them.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	var (
		after      domain.MarkerCursor
		rejected   int
		candidates int
	)
	for {
		markers, err := s.markers.ListExpired(ctx, now, after, sweepBatchSize)
		if err != nil {
			return rejected, apperror.InternalError(fmt.Errorf("listing expired transfers: %w", err))
		}
		candidates += len(markers)

		n, err := s.expire(ctx, markers)
		rejected += n
		if err != nil {
			return rejected, err
		}
		if len(markers) < sweepBatchSize {
			break
		}
		after = markers[len(markers)-1].Cursor()
	}

	if candidates > 0 {
		s.log.Info().Int("candidates", candidates).Int("rejected", rejected).Msg("expiry sweep complete")
	}
	return rejected, nil
}

func (s *ExpirySweeper) expire(ctx context.Context, markers []domain.TransferMarker) (int, error) {
	rejected := 0
	for _, m := range markers {
		if ctx.Err() != nil {
			return rejected, ctx.Err()
		}
		// Markers can lag the event log; the command path has the final say.
		t, err := s.transfers.Reject(ctx, domain.RejectTransfer{
			ID:     m.TransferID,
			Reason: expiredReason,
			Type:   domain.RejectionTypeExpired,
		})
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("transfer_id", m.TransferID.String()).
				Msg("failed to expire transfer, skipping")
			continue
		}
		rejected++
		s.log.Info().
			Str("transfer_id", t.ID.String()).
			Time("expires_at", t.ExpiresAt).
			Msg("transfer expired")
	}
	return rejected, nil
}
