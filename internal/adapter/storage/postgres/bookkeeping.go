package postgres

import (
	"context"
	"errors"
	"fmt"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SettleableRepo implements ports.SettleableRepository. Settled transfers are
// filtered out by an anti-join against settlement_transfers.
type SettleableRepo struct {
	pool Pool
}

func NewSettleableRepo(pool Pool) *SettleableRepo {
	return &SettleableRepo{pool: pool}
}

func (r *SettleableRepo) AddEntries(ctx context.Context, entries []domain.SettleableEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, e := range entries {
			_, err := tx.Exec(ctx,
				`INSERT INTO settleable_entries (transfer_id, side, idx, account, amount)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT DO NOTHING`,
				e.TransferID, string(e.Side), e.Index, e.Account, e.Amount,
			)
			if err != nil {
				return fmt.Errorf("insert settleable entry: %w", err)
			}
		}
		return nil
	})
}

const settleableQuery = `SELECT e.transfer_id, e.account, e.side, e.idx, e.amount
	FROM settleable_entries e
	WHERE NOT EXISTS (SELECT 1 FROM settlement_transfers s WHERE s.transfer_id = e.transfer_id)`

func (r *SettleableRepo) List(ctx context.Context) ([]domain.SettleableEntry, error) {
	rows, err := r.pool.Query(ctx, settleableQuery+` ORDER BY e.seq`)
	if err != nil {
		return nil, fmt.Errorf("list settleable entries: %w", err)
	}
	return scanSettleable(rows)
}

func (r *SettleableRepo) ListForAccount(ctx context.Context, account string) ([]domain.SettleableEntry, error) {
	rows, err := r.pool.Query(ctx, settleableQuery+` AND e.account = $1 ORDER BY e.seq`, account)
	if err != nil {
		return nil, fmt.Errorf("list settleable entries for %s: %w", account, err)
	}
	return scanSettleable(rows)
}

func (r *SettleableRepo) Reset(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE settleable_entries`); err != nil {
		return fmt.Errorf("reset settleable entries: %w", err)
	}
	return nil
}

func scanSettleable(rows pgx.Rows) ([]domain.SettleableEntry, error) {
	defer rows.Close()

	var entries []domain.SettleableEntry
	for rows.Next() {
		var (
			e    domain.SettleableEntry
			side string
		)
		if err := rows.Scan(&e.TransferID, &e.Account, &side, &e.Index, &e.Amount); err != nil {
			return nil, fmt.Errorf("scan settleable entry: %w", err)
		}
		e.Side = domain.EntrySide(side)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FeeRepo implements ports.FeeRepository.
type FeeRepo struct {
	pool Pool
}

func NewFeeRepo(pool Pool) *FeeRepo {
	return &FeeRepo{pool: pool}
}

const feeColumns = `id, transfer_id, charge_id, payer_account, payer_amount,
	payee_account, payee_amount, settlement_id, created_at`

func (r *FeeRepo) Create(ctx context.Context, fee *domain.Fee) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO fees (id, transfer_id, charge_id, payer_account, payer_amount,
		                   payee_account, payee_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		fee.ID, fee.TransferID, fee.ChargeID, fee.PayerAccount, fee.PayerAmount,
		fee.PayeeAccount, fee.PayeeAmount, fee.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fee: %w", err)
	}
	return nil
}

func (r *FeeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Fee, error) {
	f := &domain.Fee{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+feeColumns+` FROM fees WHERE id = $1`, id,
	).Scan(&f.ID, &f.TransferID, &f.ChargeID, &f.PayerAccount, &f.PayerAmount,
		&f.PayeeAccount, &f.PayeeAmount, &f.SettlementID, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fee by id: %w", err)
	}
	return f, nil
}

func (r *FeeRepo) ListSettleable(ctx context.Context) ([]domain.Fee, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+feeColumns+` FROM fees WHERE settlement_id IS NULL ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list settleable fees: %w", err)
	}
	return scanFees(rows)
}

func (r *FeeRepo) ListSettleableForAccount(ctx context.Context, account string) ([]domain.Fee, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+feeColumns+` FROM fees
		 WHERE settlement_id IS NULL AND (payer_account = $1 OR payee_account = $1)
		 ORDER BY created_at, id`,
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("list settleable fees for %s: %w", account, err)
	}
	return scanFees(rows)
}

func scanFees(rows pgx.Rows) ([]domain.Fee, error) {
	defer rows.Close()

	var fees []domain.Fee
	for rows.Next() {
		var f domain.Fee
		if err := rows.Scan(&f.ID, &f.TransferID, &f.ChargeID, &f.PayerAccount, &f.PayerAmount,
			&f.PayeeAccount, &f.PayeeAmount, &f.SettlementID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fee: %w", err)
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

// SettlementRepo implements ports.SettlementRepository.
type SettlementRepo struct {
	pool Pool
}

func NewSettlementRepo(pool Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

// Create records the settlement and claims its transfers and fees in one
// transaction. A transfer already claimed trips the settlement_transfers
// primary key; a fee already claimed is missing from the UPDATE's RETURNING set.
func (r *SettlementRepo) Create(ctx context.Context, s *domain.Settlement) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO settlements (id, created_at) VALUES ($1, $2)`,
			s.ID, s.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}

		for _, id := range s.TransferIDs {
			_, err := tx.Exec(ctx,
				`INSERT INTO settlement_transfers (transfer_id, settlement_id) VALUES ($1, $2)`,
				id, s.ID,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("transfer %s: %w", id, ports.ErrAlreadySettled)
				}
				return fmt.Errorf("claim transfer %s: %w", id, err)
			}
		}

		if len(s.FeeIDs) == 0 {
			return nil
		}
		rows, err := tx.Query(ctx,
			`UPDATE fees SET settlement_id = $1
			 WHERE id = ANY($2) AND settlement_id IS NULL
			 RETURNING id`,
			s.ID, s.FeeIDs,
		)
		if err != nil {
			return fmt.Errorf("claim fees: %w", err)
		}
		claimed, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("claim fees: %w", err)
		}
		got := make(map[uuid.UUID]struct{}, len(claimed))
		for _, id := range claimed {
			got[id] = struct{}{}
		}
		for _, id := range s.FeeIDs {
			if _, ok := got[id]; !ok {
				return fmt.Errorf("fee %s: %w", id, ports.ErrAlreadySettled)
			}
		}
		return nil
	})
}

var (
	_ ports.SettleableRepository = (*SettleableRepo)(nil)
	_ ports.FeeRepository        = (*FeeRepo)(nil)
	_ ports.SettlementRepository = (*SettlementRepo)(nil)
)
