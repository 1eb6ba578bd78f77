package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransfer() domain.Transfer {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Transfer{
		ID:                 uuid.New(),
		Ledger:             "http://ledger.example",
		Debits:             []domain.Entry{{Account: "alice", Amount: decimal.RequireFromString("10.50")}},
		Credits:            []domain.Entry{{Account: "bob", Amount: decimal.RequireFromString("10.50")}},
		ExecutionCondition: "cc:0:3:47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU:0",
		ExpiresAt:          now.Add(time.Minute),
		State:              domain.TransferStatePrepared,
		Version:            1,
		PreparedAt:         now,
	}
}

func eventRowColumns() []string {
	return []string{"id", "aggregate_id", "version", "position", "event_type", "payload", "occurred_at"}
}

func TestEventStore_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(mock)
	tr := newTestTransfer()
	occurredAt := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(tr.ID).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectQuery("INSERT INTO transfer_events").
		WithArgs(pgxmock.AnyArg(), tr.ID, int64(1), "TransferPrepared", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"position", "occurred_at"}).AddRow(int64(42), occurredAt))
	mock.ExpectCommit()

	events, err := store.Append(context.Background(), tr.ID, 0, []domain.EventPayload{domain.TransferPrepared{Transfer: tr}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, int64(42), events[0].Position)
	assert.Equal(t, occurredAt, events[0].OccurredAt)
	assert.Equal(t, domain.EventTransferPrepared, events[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Append_StaleVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(mock)
	tr := newTestTransfer()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(tr.ID).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(1)))
	mock.ExpectRollback()

	_, err = store.Append(context.Background(), tr.ID, 0, []domain.EventPayload{domain.TransferPrepared{Transfer: tr}})
	assert.ErrorIs(t, err, ports.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Append_UniqueViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(mock)
	tr := newTestTransfer()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(tr.ID).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectQuery("INSERT INTO transfer_events").
		WithArgs(pgxmock.AnyArg(), tr.ID, int64(1), "TransferPrepared", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err = store.Append(context.Background(), tr.ID, 0, []domain.EventPayload{domain.TransferPrepared{Transfer: tr}})
	assert.ErrorIs(t, err, ports.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Append_OtherInsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(mock)
	tr := newTestTransfer()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(tr.ID).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectQuery("INSERT INTO transfer_events").
		WithArgs(pgxmock.AnyArg(), tr.ID, int64(1), "TransferPrepared", pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = store.Append(context.Background(), tr.ID, 0, []domain.EventPayload{domain.TransferPrepared{Transfer: tr}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrConcurrencyConflict)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(mock)
	tr := newTestTransfer()
	payload, err := json.Marshal(domain.TransferPrepared{Transfer: tr})
	require.NoError(t, err)
	evtID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM transfer_events WHERE aggregate_id").
		WithArgs(tr.ID).
		WillReturnRows(pgxmock.NewRows(eventRowColumns()).
			AddRow(evtID, tr.ID, int64(1), int64(7), "TransferPrepared", payload, tr.PreparedAt))

	events, err := store.Load(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, evtID, events[0].ID)
	assert.Equal(t, int64(7), events[0].Position)

	prepared, ok := events[0].Payload.(domain.TransferPrepared)
	require.True(t, ok)
	assert.Equal(t, tr.ID, prepared.Transfer.ID)
	assert.True(t, prepared.Transfer.Amount().Equal(decimal.RequireFromString("10.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Load_UnknownType(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM transfer_events WHERE aggregate_id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(eventRowColumns()).
			AddRow(uuid.New(), id, int64(1), int64(1), "TransferVanished", []byte(`{}`), time.Now()))

	_, err = store.Load(context.Background(), id)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_LoadAfter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(mock)

	mock.ExpectQuery(`(?s)pg_snapshot_xmin.+\(transaction_id, position\) >.+ORDER BY transaction_id, position`).
		WithArgs(int64(10), 50).
		WillReturnRows(pgxmock.NewRows(eventRowColumns()))

	events, err := store.LoadAfter(context.Background(), 10, 50)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_LoadAfter_KeepsCommitOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(mock)
	first, second := newTestTransfer(), newTestTransfer()
	p1, err := json.Marshal(domain.TransferPrepared{Transfer: first})
	require.NoError(t, err)
	p2, err := json.Marshal(domain.TransferPrepared{Transfer: second})
	require.NoError(t, err)

	// Position 12 committed before position 11.
	mock.ExpectQuery("pg_snapshot_xmin").
		WithArgs(int64(0), 10).
		WillReturnRows(pgxmock.NewRows(eventRowColumns()).
			AddRow(uuid.New(), first.ID, int64(1), int64(12), "TransferPrepared", p1, first.PreparedAt).
			AddRow(uuid.New(), second.ID, int64(1), int64(11), "TransferPrepared", p2, second.PreparedAt))

	events, err := store.LoadAfter(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(12), events[0].Position)
	assert.Equal(t, int64(11), events[1].Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}
