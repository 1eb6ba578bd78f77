package service

import (
	"context"
	"fmt"
	"testing"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"
	"conditional-ledger/internal/core/ports/mocks"
	"conditional-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type settlementTestDeps struct {
	svc         *SettlementServiceImpl
	transfers   *mocks.MockTransferService
	accounts    *mocks.MockAccountRepository
	fees        *mocks.MockFeeRepository
	settlements *mocks.MockSettlementRepository
	ctrl        *gomock.Controller
}

func setupSettlementService(t *testing.T) *settlementTestDeps {
	ctrl := gomock.NewController(t)
	d := &settlementTestDeps{
		transfers:   mocks.NewMockTransferService(ctrl),
		accounts:    mocks.NewMockAccountRepository(ctrl),
		fees:        mocks.NewMockFeeRepository(ctrl),
		settlements: mocks.NewMockSettlementRepository(ctrl),
		ctrl:        ctrl,
	}
	d.svc = NewSettlementService(d.transfers, d.accounts, d.fees, d.settlements, zerolog.Nop())
	return d
}

func feeRequest(transferID uuid.UUID) ports.FeeRequest {
	return ports.FeeRequest{
		TransferID:   transferID,
		ChargeID:     "connector-fee",
		PayerAccount: "alice",
		PayerAmount:  decimal.RequireFromString("0.10"),
		PayeeAccount: "connector",
		PayeeAmount:  decimal.RequireFromString("0.10"),
	}
}

func TestSettlementService_RecordFee(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()
	id := uuid.New()

	d.transfers.EXPECT().Get(ctx, id).Return(&domain.Transfer{ID: id, State: domain.TransferStateExecuted}, nil)
	d.fees.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.accounts.EXPECT().Ensure(ctx, []string{"alice", "connector"}).Return(nil)

	fee, err := d.svc.RecordFee(ctx, feeRequest(id))
	require.NoError(t, err)
	assert.Equal(t, id, fee.TransferID)
	assert.Equal(t, "connector-fee", fee.ChargeID)
	assert.NotEqual(t, uuid.Nil, fee.ID)
}

func TestSettlementService_RecordFee_Validation(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *ports.FeeRequest)
	}{
		{"missing charge", func(r *ports.FeeRequest) { r.ChargeID = "" }},
		{"missing payer", func(r *ports.FeeRequest) { r.PayerAccount = " " }},
		{"negative amount", func(r *ports.FeeRequest) { r.PayeeAmount = decimal.RequireFromString("-1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := feeRequest(uuid.New())
			tt.mutate(&req)
			_, err := d.svc.RecordFee(ctx, req)
			assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransfer))
		})
	}
}

func TestSettlementService_RecordFee_UnknownTransfer(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()
	id := uuid.New()

	d.transfers.EXPECT().Get(ctx, id).Return(nil, apperror.ErrNotFound("Transfer"))

	_, err := d.svc.RecordFee(ctx, feeRequest(id))
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestSettlementService_Settle(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()
	transferID, feeID := uuid.New(), uuid.New()

	d.transfers.EXPECT().Get(ctx, transferID).Return(&domain.Transfer{ID: transferID, State: domain.TransferStateExecuted}, nil)
	d.fees.EXPECT().GetByID(ctx, feeID).Return(&domain.Fee{ID: feeID}, nil)
	d.settlements.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, s *domain.Settlement) error {
		assert.Equal(t, []uuid.UUID{transferID}, s.TransferIDs)
		assert.Equal(t, []uuid.UUID{feeID}, s.FeeIDs)
		return nil
	})

	s, err := d.svc.Settle(ctx, ports.SettlementRequest{TransferIDs: []uuid.UUID{transferID}, FeeIDs: []uuid.UUID{feeID}})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, s.ID)
}

func TestSettlementService_Settle_Errors(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	_, err := d.svc.Settle(ctx, ports.SettlementRequest{})
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransfer))

	prepared := uuid.New()
	d.transfers.EXPECT().Get(ctx, prepared).Return(&domain.Transfer{ID: prepared, State: domain.TransferStatePrepared}, nil)
	_, err = d.svc.Settle(ctx, ports.SettlementRequest{TransferIDs: []uuid.UUID{prepared}})
	assert.True(t, apperror.HasCode(err, apperror.CodeUnpreparedTransfer))

	missingFee := uuid.New()
	d.fees.EXPECT().GetByID(ctx, missingFee).Return(nil, nil)
	_, err = d.svc.Settle(ctx, ports.SettlementRequest{FeeIDs: []uuid.UUID{missingFee}})
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))

	settled := uuid.New()
	d.transfers.EXPECT().Get(ctx, settled).Return(&domain.Transfer{ID: settled, State: domain.TransferStateExecuted}, nil)
	d.settlements.EXPECT().Create(ctx, gomock.Any()).Return(fmt.Errorf("transfer %s: %w", settled, ports.ErrAlreadySettled))
	_, err = d.svc.Settle(ctx, ports.SettlementRequest{TransferIDs: []uuid.UUID{settled}})
	assert.True(t, apperror.HasCode(err, apperror.CodeAlreadySettled))
}

func TestSettlementService_SettledTransfersLeavePositions(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	svc := NewSettlementService(h.transfers, h.store.Accounts, h.store.Fees, h.store.Settlements, zerolog.Nop())

	first := prepareAndFulfill(t, h, "A", "B", "3")
	prepareAndFulfill(t, h, "A", "C", "2")
	require.NoError(t, h.projector.CatchUpAll(ctx))

	fee, err := svc.RecordFee(ctx, ports.FeeRequest{
		TransferID: first.ID, ChargeID: "c1",
		PayerAccount: "A", PayerAmount: decimal.RequireFromString("0.5"),
		PayeeAccount: "F", PayeeAmount: decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)

	positions, err := h.positions.CalculateForAllAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 4)
	assert.Equal(t, "-5.5", positions[0].Net.String())
	assert.Equal(t, "F", positions[3].Account)
	assert.Equal(t, "0.5", positions[3].Net.String())

	_, err = svc.Settle(ctx, ports.SettlementRequest{TransferIDs: []uuid.UUID{first.ID}, FeeIDs: []uuid.UUID{fee.ID}})
	require.NoError(t, err)

	positions, err = h.positions.CalculateForAllAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, "-2", positions[0].Net.String())
	assert.Equal(t, "0", positions[1].Net.String())
	assert.Equal(t, "2", positions[2].Net.String())
	assert.Equal(t, "0", positions[3].Net.String())
}

func TestSettlementService_RecordFee_RequiresExecutedTransfer(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	for _, state := range []domain.TransferState{domain.TransferStatePrepared, domain.TransferStateRejected} {
		t.Run(string(state), func(t *testing.T) {
			id := uuid.New()
			d.transfers.EXPECT().Get(ctx, id).Return(&domain.Transfer{ID: id, State: state}, nil)

			fee, err := d.svc.RecordFee(ctx, feeRequest(id))
			assert.Nil(t, fee)
			assert.True(t, apperror.HasCode(err, apperror.CodeUnpreparedTransfer))
		})
	}
}

func TestSettlementService_FeeOnRejectedTransferLeavesPositions(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	svc := NewSettlementService(h.transfers, h.store.Accounts, h.store.Fees, h.store.Settlements, zerolog.Nop())

	cmd := prepareCmd("A", "B", "4")
	_, _, err := h.transfers.Prepare(ctx, cmd)
	require.NoError(t, err)
	_, err = h.transfers.Reject(ctx, domain.RejectTransfer{ID: cmd.ID, Reason: "declined"})
	require.NoError(t, err)
	require.NoError(t, h.projector.CatchUpAll(ctx))

	_, err = svc.RecordFee(ctx, ports.FeeRequest{
		TransferID: cmd.ID, ChargeID: "c1",
		PayerAccount: "A", PayerAmount: decimal.RequireFromString("1"),
		PayeeAccount: "B", PayeeAmount: decimal.RequireFromString("1"),
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeUnpreparedTransfer))

	pos, err := h.positions.CalculateForAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, pos.Fees.Net.IsZero())
	assert.True(t, pos.Net.IsZero())
}

func TestSettlementService_Settle_DedupesIDs(t *testing.T) {
	d := setupSettlementService(t)
	defer d.ctrl.Finish()
	ctx := context.Background()
	transferID, feeID := uuid.New(), uuid.New()

	d.transfers.EXPECT().Get(ctx, transferID).Return(&domain.Transfer{ID: transferID, State: domain.TransferStateExecuted}, nil)
	d.fees.EXPECT().GetByID(ctx, feeID).Return(&domain.Fee{ID: feeID}, nil)
	d.settlements.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, s *domain.Settlement) error {
		assert.Equal(t, []uuid.UUID{transferID}, s.TransferIDs)
		assert.Equal(t, []uuid.UUID{feeID}, s.FeeIDs)
		return nil
	})

	_, err := d.svc.Settle(ctx, ports.SettlementRequest{
		TransferIDs: []uuid.UUID{transferID, transferID},
		FeeIDs:      []uuid.UUID{feeID, feeID},
	})
	require.NoError(t, err)
}

// Repeated ids settle once on the memory store, matching the postgres primary key.
func TestSettlementService_Settle_DuplicateIDsOnMemoryStore(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	svc := NewSettlementService(h.transfers, h.store.Accounts, h.store.Fees, h.store.Settlements, zerolog.Nop())

	cmd := prepareAndFulfill(t, h, "A", "B", "2")
	require.NoError(t, h.projector.CatchUpAll(ctx))

	s, err := svc.Settle(ctx, ports.SettlementRequest{TransferIDs: []uuid.UUID{cmd.ID, cmd.ID}})
	require.NoError(t, err)
	assert.Len(t, s.TransferIDs, 1)

	_, err = svc.Settle(ctx, ports.SettlementRequest{TransferIDs: []uuid.UUID{cmd.ID}})
	assert.True(t, apperror.HasCode(err, apperror.CodeAlreadySettled))
}
