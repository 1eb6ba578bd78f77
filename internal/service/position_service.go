package service

import (
	"context"
	"fmt"
	"strings"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// PositionServiceImpl implements ports.PositionService over the settleable
// read models. Positions are derived on every call and never stored.
type PositionServiceImpl struct {
	accounts   ports.AccountRepository
	settleable ports.SettleableRepository
	fees       ports.FeeRepository
	log        zerolog.Logger
}

// NewPositionService creates a new PositionServiceImpl.
func NewPositionService(
	accounts ports.AccountRepository,
	settleable ports.SettleableRepository,
	fees ports.FeeRepository,
	log zerolog.Logger,
) *PositionServiceImpl {
	return &PositionServiceImpl{
		accounts:   accounts,
		settleable: settleable,
		fees:       fees,
		log:        log,
	}
}

// CalculateForAccount returns the position of a single known account.
func (s *PositionServiceImpl) CalculateForAccount(ctx context.Context, account string) (*domain.Position, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, apperror.Validation("account is required")
	}

	exists, err := s.accounts.Exists(ctx, account)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("checking account %s: %w", account, err))
	}
	if !exists {
		return nil, apperror.ErrNotFound("Account")
	}

	entries, err := s.settleable.ListForAccount(ctx, account)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("listing settleable transfers for %s: %w", account, err))
	}
	fees, err := s.fees.ListSettleableForAccount(ctx, account)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("listing settleable fees for %s: %w", account, err))
	}

	positions := domain.ComputePositions([]string{account}, entries, fees)
	return &positions[0], nil
}

// CalculateForAllAccounts returns one position per account in directory
// order. It reads each read model once regardless of the number of accounts.
func (s *PositionServiceImpl) CalculateForAllAccounts(ctx context.Context) ([]domain.Position, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("listing accounts: %w", err))
	}
	entries, err := s.settleable.List(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("listing settleable transfers: %w", err))
	}
	fees, err := s.fees.ListSettleable(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("listing settleable fees: %w", err))
	}

	names := make([]string, len(accounts))
	for i, a := range accounts {
		names[i] = a.Name
	}

	s.log.Debug().
		Int("accounts", len(names)).
		Int("entries", len(entries)).
		Int("fees", len(fees)).
		Msg("calculating positions")

	return domain.ComputePositions(names, entries, fees), nil
}
