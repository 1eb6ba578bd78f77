package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SettlementServiceImpl implements ports.SettlementService.
type SettlementServiceImpl struct {
	transfers   ports.TransferService
	accounts    ports.AccountRepository
	fees        ports.FeeRepository
	settlements ports.SettlementRepository
	now         func() time.Time
	log         zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	transfers ports.TransferService,
	accounts ports.AccountRepository,
	fees ports.FeeRepository,
	settlements ports.SettlementRepository,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		transfers:   transfers,
		accounts:    accounts,
		fees:        fees,
		settlements: settlements,
		now:         time.Now,
		log:         log,
	}
}

// RecordFee attaches a fee to an executed transfer. A fee only counts once
// funds have moved, so prepared and rejected transfers are refused. Both
// parties join the account directory so fee-only accounts still get a position.
func (s *SettlementServiceImpl) RecordFee(ctx context.Context, req ports.FeeRequest) (*domain.Fee, error) {
	if strings.TrimSpace(req.ChargeID) == "" {
		return nil, apperror.Validation("charge_id is required")
	}
	if strings.TrimSpace(req.PayerAccount) == "" || strings.TrimSpace(req.PayeeAccount) == "" {
		return nil, apperror.Validation("payer_account and payee_account are required")
	}
	if req.PayerAmount.IsNegative() || req.PayeeAmount.IsNegative() {
		return nil, apperror.Validation("fee amounts must not be negative")
	}

	t, err := s.transfers.Get(ctx, req.TransferID)
	if err != nil {
		return nil, err
	}
	if t.State != domain.TransferStateExecuted {
		return nil, apperror.ErrUnpreparedTransfer(fmt.Sprintf("Transfer %s is %s and cannot carry a fee", t.ID, t.State))
	}

	fee := &domain.Fee{
		ID:           uuid.New(),
		TransferID:   req.TransferID,
		ChargeID:     req.ChargeID,
		PayerAccount: req.PayerAccount,
		PayerAmount:  req.PayerAmount,
		PayeeAccount: req.PayeeAccount,
		PayeeAmount:  req.PayeeAmount,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.fees.Create(ctx, fee); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("creating fee: %w", err))
	}
	if err := s.accounts.Ensure(ctx, []string{fee.PayerAccount, fee.PayeeAccount}); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("registering fee accounts: %w", err))
	}

	s.log.Info().
		Str("fee_id", fee.ID.String()).
		Str("transfer_id", fee.TransferID.String()).
		Str("charge_id", fee.ChargeID).
		Msg("fee recorded")
	return fee, nil
}

// Settle marks executed transfers and fees as settled so they stop counting
// towards positions.
func (s *SettlementServiceImpl) Settle(ctx context.Context, req ports.SettlementRequest) (*domain.Settlement, error) {
	if len(req.TransferIDs) == 0 && len(req.FeeIDs) == 0 {
		return nil, apperror.Validation("a settlement needs at least one transfer or fee")
	}
	transferIDs := uniqueIDs(req.TransferIDs)
	feeIDs := uniqueIDs(req.FeeIDs)

	for _, id := range transferIDs {
		t, err := s.transfers.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.State != domain.TransferStateExecuted {
			return nil, apperror.ErrUnpreparedTransfer(fmt.Sprintf("Transfer %s is %s and cannot be settled", id, t.State))
		}
	}
	for _, id := range feeIDs {
		fee, err := s.fees.GetByID(ctx, id)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("loading fee %s: %w", id, err))
		}
		if fee == nil {
			return nil, apperror.ErrNotFound("Fee")
		}
	}

	settlement := &domain.Settlement{
		ID:          uuid.New(),
		TransferIDs: transferIDs,
		FeeIDs:      feeIDs,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.settlements.Create(ctx, settlement); err != nil {
		if errors.Is(err, ports.ErrAlreadySettled) {
			return nil, apperror.ErrAlreadySettled(strings.TrimSuffix(err.Error(), ": "+ports.ErrAlreadySettled.Error()))
		}
		return nil, apperror.InternalError(fmt.Errorf("creating settlement: %w", err))
	}

	s.log.Info().
		Str("settlement_id", settlement.ID.String()).
		Int("transfers", len(settlement.TransferIDs)).
		Int("fees", len(settlement.FeeIDs)).
		Msg("settlement recorded")
	return settlement, nil
}

// uniqueIDs drops repeated ids, keeping first-seen order.
func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
