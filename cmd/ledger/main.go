package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conditional-ledger/config"
	httpHandler "conditional-ledger/internal/adapter/http/handler"
	"conditional-ledger/internal/adapter/messaging/rabbitmq"
	memStorage "conditional-ledger/internal/adapter/storage/memory"
	pgStorage "conditional-ledger/internal/adapter/storage/postgres"
	redisStorage "conditional-ledger/internal/adapter/storage/redis"
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/internal/service"
	"conditional-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// stores bundles the event store and read models of one storage backend.
type stores struct {
	events      ports.EventStore
	checkpoints ports.CheckpointStore
	transfers   ports.TransferReadRepository
	markers     ports.MarkerRepository
	accounts    ports.AccountRepository
	settleable  ports.SettleableRepository
	fees        ports.FeeRepository
	settlements ports.SettlementRepository
	health      []ports.HealthChecker
	close       func()
}

func main() {
	cfg, err := config.Load(os.Getenv("LDG_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting conditional ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer st.close()

	healthCheckers := st.health

	// Optional Redis sweep lock for multi-instance deployments.
	var sweepLock ports.SweepLock
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		sweepLock = redisStorage.NewSweepLock(rdb, "")
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	projections := []service.Projection{
		service.NewTransferDetailProjection(st.transfers),
		service.NewSettleableProjection(st.settleable),
		service.NewMarkerProjection(st.markers),
		service.NewAccountProjection(st.accounts),
	}

	// Optional RabbitMQ fan-out, fed by its own projection.
	if cfg.RabbitMQ.URL != "" {
		conn, ch, err := rabbitmq.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		defer conn.Close()
		publisher, err := rabbitmq.NewPublisher(ch, cfg.RabbitMQ.Exchange, logger.Component(log, "rabbitmq"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up RabbitMQ publisher")
		}
		defer publisher.Close()
		projections = append(projections, service.NewNotificationProjection(publisher))
		healthCheckers = append(healthCheckers, rabbitmq.NewHealthCheck(conn))
		log.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("RabbitMQ publisher ready")
	}

	projector := service.NewProjector(
		st.events,
		st.checkpoints,
		cfg.Projector.PollInterval,
		cfg.Projector.PageSize,
		logger.Component(log, "projector"),
		projections...,
	)

	transferSvc := service.NewTransferService(
		st.events,
		projector,
		cfg.Ledger.CommandRetries,
		cfg.Ledger.RetryBaseDelay,
		logger.Component(log, "transfers"),
	)
	positionSvc := service.NewPositionService(st.accounts, st.settleable, st.fees, logger.Component(log, "positions"))
	settlementSvc := service.NewSettlementService(transferSvc, st.accounts, st.fees, st.settlements, logger.Component(log, "settlements"))

	sweeper := service.NewExpirySweeper(
		st.markers,
		transferSvc,
		sweepLock,
		cfg.Sweeper.Interval,
		cfg.Sweeper.LockTTL,
		logger.Component(log, "sweeper"),
	)

	projectorDone := make(chan struct{})
	go func() {
		defer close(projectorDone)
		projector.Run(ctx)
	}()

	if err := sweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start expiry sweeper")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		TransferSvc:    transferSvc,
		PositionSvc:    positionSvc,
		SettlementSvc:  settlementSvc,
		HealthCheckers: healthCheckers,
		Logger:         logger.Component(log, "http"),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	select {
	case <-sweeper.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("Expiry sweep still running at shutdown")
	}

	select {
	case <-projectorDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Projector did not stop in time")
	}

	log.Info().Msg("Ledger exited")
}

// openStores connects the configured storage backend.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	switch cfg.Storage.Driver {
	case "memory":
		m := memStorage.NewStore()
		log.Warn().Msg("Using in-memory storage, state is lost on exit")
		return &stores{
			events:      m.Events,
			checkpoints: m.Checkpoints,
			transfers:   m.Transfers,
			markers:     m.Markers,
			accounts:    m.Accounts,
			settleable:  m.Settleable,
			fees:        m.Fees,
			settlements: m.Settlements,
			close:       func() {},
		}, nil

	case "postgres":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if err := pgStorage.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &stores{
			events:      pgStorage.NewEventStore(pool),
			checkpoints: pgStorage.NewCheckpointStore(pool),
			transfers:   pgStorage.NewTransferRepo(pool),
			markers:     pgStorage.NewMarkerRepo(pool),
			accounts:    pgStorage.NewAccountRepo(pool),
			settleable:  pgStorage.NewSettleableRepo(pool),
			fees:        pgStorage.NewFeeRepo(pool),
			settlements: pgStorage.NewSettlementRepo(pool),
			health:      []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
			close:       pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
