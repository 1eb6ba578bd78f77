package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CheckpointStore implements ports.CheckpointStore.
type CheckpointStore struct {
	pool Pool
}

func NewCheckpointStore(pool Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

func (s *CheckpointStore) Get(ctx context.Context, projection string) (int64, error) {
	var position int64
	err := s.pool.QueryRow(ctx,
		`SELECT position FROM projection_checkpoints WHERE projection = $1`, projection,
	).Scan(&position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get checkpoint %s: %w", projection, err)
	}
	return position, nil
}

func (s *CheckpointStore) Save(ctx context.Context, projection string, position int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projection_checkpoints (projection, position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (projection) DO UPDATE SET position = EXCLUDED.position, updated_at = now()`,
		projection, position,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", projection, err)
	}
	return nil
}

// TransferRepo implements ports.TransferReadRepository.
type TransferRepo struct {
	pool Pool
}

func NewTransferRepo(pool Pool) *TransferRepo {
	return &TransferRepo{pool: pool}
}

func (r *TransferRepo) Upsert(ctx context.Context, t *domain.Transfer) error {
	debits, err := json.Marshal(t.Debits)
	if err != nil {
		return fmt.Errorf("marshal debits: %w", err)
	}
	credits, err := json.Marshal(t.Credits)
	if err != nil {
		return fmt.Errorf("marshal credits: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO transfers (id, ledger, debits, credits, execution_condition, expires_at, state,
		                        fulfillment, rejection_reason, rejection_type, version,
		                        prepared_at, executed_at, rejected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		     state = EXCLUDED.state,
		     fulfillment = EXCLUDED.fulfillment,
		     rejection_reason = EXCLUDED.rejection_reason,
		     rejection_type = EXCLUDED.rejection_type,
		     version = EXCLUDED.version,
		     executed_at = EXCLUDED.executed_at,
		     rejected_at = EXCLUDED.rejected_at
		 WHERE transfers.version < EXCLUDED.version`,
		t.ID, t.Ledger, debits, credits, t.ExecutionCondition, t.ExpiresAt, string(t.State),
		t.Fulfillment, t.RejectionReason, string(t.RejectionType), t.Version,
		t.PreparedAt, t.ExecutedAt, t.RejectedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert transfer: %w", err)
	}
	return nil
}

func (r *TransferRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	var (
		t                    domain.Transfer
		debits, credits      []byte
		state, rejectionType string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, ledger, debits, credits, execution_condition, expires_at, state,
		        fulfillment, rejection_reason, rejection_type, version,
		        prepared_at, executed_at, rejected_at
		 FROM transfers WHERE id = $1`, id,
	).Scan(
		&t.ID, &t.Ledger, &debits, &credits, &t.ExecutionCondition, &t.ExpiresAt, &state,
		&t.Fulfillment, &t.RejectionReason, &rejectionType, &t.Version,
		&t.PreparedAt, &t.ExecutedAt, &t.RejectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transfer by id: %w", err)
	}
	if err := json.Unmarshal(debits, &t.Debits); err != nil {
		return nil, fmt.Errorf("decode debits: %w", err)
	}
	if err := json.Unmarshal(credits, &t.Credits); err != nil {
		return nil, fmt.Errorf("decode credits: %w", err)
	}
	t.State = domain.TransferState(state)
	t.RejectionType = domain.RejectionType(rejectionType)
	return &t, nil
}

func (r *TransferRepo) Reset(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE transfers`); err != nil {
		return fmt.Errorf("reset transfers: %w", err)
	}
	return nil
}

// MarkerRepo implements ports.MarkerRepository.
type MarkerRepo struct {
	pool Pool
}

func NewMarkerRepo(pool Pool) *MarkerRepo {
	return &MarkerRepo{pool: pool}
}

func (r *MarkerRepo) Upsert(ctx context.Context, m *domain.TransferMarker) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transfer_markers (transfer_id, state, expires_at, version, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (transfer_id) DO UPDATE SET
		     state = EXCLUDED.state,
		     version = EXCLUDED.version,
		     updated_at = EXCLUDED.updated_at
		 WHERE transfer_markers.version < EXCLUDED.version`,
		m.TransferID, string(m.State), m.ExpiresAt, m.Version, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert marker: %w", err)
	}
	return nil
}

func (r *MarkerRepo) ListExpired(ctx context.Context, now time.Time, after domain.MarkerCursor, limit int) ([]domain.TransferMarker, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT transfer_id, state, expires_at, version, updated_at
		 FROM transfer_markers
		 WHERE state = 'PREPARED' AND expires_at < $1
		   AND (expires_at, transfer_id) > ($2, $3)
		 ORDER BY expires_at, transfer_id
		 LIMIT $4`,
		now, after.ExpiresAt, after.TransferID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired markers: %w", err)
	}
	defer rows.Close()

	var markers []domain.TransferMarker
	for rows.Next() {
		var (
			m     domain.TransferMarker
			state string
		)
		if err := rows.Scan(&m.TransferID, &state, &m.ExpiresAt, &m.Version, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		m.State = domain.TransferState(state)
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

func (r *MarkerRepo) Reset(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE transfer_markers`); err != nil {
		return fmt.Errorf("reset markers: %w", err)
	}
	return nil
}

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	pool Pool
}

func NewAccountRepo(pool Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Ensure(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (name) SELECT unnest($1::text[]) ON CONFLICT (name) DO NOTHING`,
		names,
	)
	if err != nil {
		return fmt.Errorf("ensure accounts: %w", err)
	}
	return nil
}

func (r *AccountRepo) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, created_at FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.Name, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *AccountRepo) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return exists, nil
}

var (
	_ ports.CheckpointStore        = (*CheckpointStore)(nil)
	_ ports.TransferReadRepository = (*TransferRepo)(nil)
	_ ports.MarkerRepository       = (*MarkerRepo)(nil)
	_ ports.AccountRepository      = (*AccountRepo)(nil)
)
