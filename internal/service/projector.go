package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// Projection turns committed events into one read model. Apply must be
// idempotent: the projector delivers at least once.
type Projection interface {
	Name() string
	Apply(ctx context.Context, evt domain.Event) error
	// Reset clears the read model before a rebuild.
	Reset(ctx context.Context) error
}

type projectionRunner struct {
	projection Projection
	wake       chan struct{}
	mu         sync.Mutex
}

// Projector feeds each projection from the event log in commit order, one
// goroutine per projection, tracking progress in a CheckpointStore. A failed
// apply leaves the checkpoint where it was so the next pass retries it.
type Projector struct {
	events       ports.EventStore
	checkpoints  ports.CheckpointStore
	runners      []*projectionRunner
	byName       map[string]*projectionRunner
	pollInterval time.Duration
	pageSize     int
	log          zerolog.Logger
}

// NewProjector creates a projector. Projections run in the order given.
func NewProjector(
	events ports.EventStore,
	checkpoints ports.CheckpointStore,
	pollInterval time.Duration,
	pageSize int,
	log zerolog.Logger,
	projections ...Projection,
) *Projector {
	if pageSize <= 0 {
		pageSize = 200
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	p := &Projector{
		events:       events,
		checkpoints:  checkpoints,
		byName:       make(map[string]*projectionRunner, len(projections)),
		pollInterval: pollInterval,
		pageSize:     pageSize,
		log:          log,
	}
	for _, proj := range projections {
		r := &projectionRunner{projection: proj, wake: make(chan struct{}, 1)}
		p.runners = append(p.runners, r)
		p.byName[proj.Name()] = r
	}
	return p
}

// Notify wakes every projection. It never blocks; a pending wake-up already
// covers any events committed since it was queued.
func (p *Projector) Notify() {
	for _, r := range p.runners {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// Run processes events until ctx is cancelled.
func (p *Projector) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range p.runners {
		wg.Add(1)
		go func(r *projectionRunner) {
			defer wg.Done()
			p.loop(ctx, r)
		}(r)
	}
	p.log.Info().Int("projections", len(p.runners)).Dur("poll_interval", p.pollInterval).Msg("projector started")
	wg.Wait()
	p.log.Info().Msg("projector stopped")
}

func (p *Projector) loop(ctx context.Context, r *projectionRunner) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		// Errors are logged by catchUp; the next tick or wake-up retries.
		_, _ = p.catchUp(ctx, r)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// CatchUp applies every pending event to the named projection and returns
// how many were applied.
func (p *Projector) CatchUp(ctx context.Context, name string) (int, error) {
	r, ok := p.byName[name]
	if !ok {
		return 0, fmt.Errorf("unknown projection %q", name)
	}
	return p.catchUp(ctx, r)
}

// CatchUpAll runs CatchUp for every projection in order and returns the first error.
func (p *Projector) CatchUpAll(ctx context.Context) error {
	var firstErr error
	for _, r := range p.runners {
		if _, err := p.catchUp(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Rebuild clears the named read model and replays the whole event log into it.
func (p *Projector) Rebuild(ctx context.Context, name string) error {
	r, ok := p.byName[name]
	if !ok {
		return fmt.Errorf("unknown projection %q", name)
	}

	r.mu.Lock()
	if err := r.projection.Reset(ctx); err != nil {
		r.mu.Unlock()
		return apperror.ErrProjection(name, fmt.Errorf("resetting read model: %w", err))
	}
	if err := p.checkpoints.Save(ctx, name, 0); err != nil {
		r.mu.Unlock()
		return apperror.ErrProjection(name, fmt.Errorf("resetting checkpoint: %w", err))
	}
	r.mu.Unlock()

	p.log.Info().Str("projection", name).Msg("projection reset, replaying event log")
	_, err := p.catchUp(ctx, r)
	return err
}

func (p *Projector) catchUp(ctx context.Context, r *projectionRunner) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := r.projection.Name()
	position, err := p.checkpoints.Get(ctx, name)
	if err != nil {
		return 0, p.fail(name, position, fmt.Errorf("reading checkpoint: %w", err))
	}

	applied := 0
	for {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}

		batch, err := p.events.LoadAfter(ctx, position, p.pageSize)
		if err != nil {
			return applied, p.fail(name, position, fmt.Errorf("loading events: %w", err))
		}
		if len(batch) == 0 {
			return applied, nil
		}

		for _, evt := range batch {
			if err := r.projection.Apply(ctx, evt); err != nil {
				return applied, p.fail(name, evt.Position, err)
			}
			if err := p.checkpoints.Save(ctx, name, evt.Position); err != nil {
				return applied, p.fail(name, evt.Position, fmt.Errorf("saving checkpoint: %w", err))
			}
			position = evt.Position
			applied++
		}
	}
}

func (p *Projector) fail(name string, position int64, err error) error {
	perr := apperror.ErrProjection(name, err)
	p.log.Error().
		Err(err).
		Str("error_code", perr.Code).
		Str("projection", name).
		Int64("position", position).
		Msg("projection update failed, will retry")
	return perr
}
