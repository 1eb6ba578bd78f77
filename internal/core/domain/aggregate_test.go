package domain

import (
	"testing"
	"time"

	"conditional-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testPreimage = []byte("escrow release secret")

func testFulfillment() string {
	return NewPreimageFulfillment(testPreimage).String()
}

func testPrepare() PrepareTransfer {
	return PrepareTransfer{
		ID:     uuid.MustParse("155dff3f-4915-44df-a707-acc4b527bcbd"),
		Ledger: "http://ledger.example",
		Debits: []Entry{
			{Account: "alice", Amount: decimal.RequireFromString("10.50")},
		},
		Credits: []Entry{
			{Account: "bob", Amount: decimal.RequireFromString("7.25")},
			{Account: "carol", Amount: decimal.RequireFromString("3.25")},
		},
		ExecutionCondition: NewPreimageFulfillment(testPreimage).Condition().String(),
		ExpiresAt:          testNow.Add(time.Minute),
	}
}

// history runs commands through Decide/Fold the way the command handler does
// and returns the committed events.
func history(t *testing.T, cmds ...Command) (*Transfer, []Event) {
	t.Helper()
	var state *Transfer
	var events []Event
	for _, cmd := range cmds {
		d, err := Decide(state, cmd, testNow)
		require.NoError(t, err)
		for _, p := range d.Events {
			evt := Event{
				ID:          uuid.New(),
				AggregateID: cmd.TransferID(),
				Version:     int64(len(events) + 1),
				Position:    int64(len(events) + 1),
				Type:        p.EventType(),
				Payload:     p,
				OccurredAt:  testNow,
			}
			events = append(events, evt)
			state = Fold(state, evt)
		}
	}
	return state, events
}

func TestDecide_Prepare_New(t *testing.T) {
	cmd := testPrepare()

	d, err := Decide(nil, cmd, testNow)
	require.NoError(t, err)

	assert.False(t, d.Existing)
	require.Len(t, d.Events, 1)
	assert.Equal(t, EventTransferPrepared, d.Events[0].EventType())
	assert.Equal(t, TransferStatePrepared, d.Transfer.State)
	assert.Equal(t, int64(1), d.Transfer.Version)
	assert.Equal(t, cmd.ID, d.Transfer.ID)
	assert.True(t, d.Transfer.Amount().Equal(decimal.RequireFromString("10.5")))
}

func TestDecide_Prepare_Idempotent(t *testing.T) {
	state, events := history(t, testPrepare())
	require.Len(t, events, 1)

	again := testPrepare()
	// Same value, different scale.
	again.Debits[0].Amount = decimal.RequireFromString("10.5")
	again.ExpiresAt = again.ExpiresAt.In(time.FixedZone("UTC+2", 2*60*60))

	d, err := Decide(state, again, testNow.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, d.Existing)
	assert.Empty(t, d.Events)
	assert.Equal(t, state.ID, d.Transfer.ID)
}

func TestDecide_Prepare_Divergent(t *testing.T) {
	state, _ := history(t, testPrepare())

	tests := []struct {
		name   string
		mutate func(c *PrepareTransfer)
	}{
		{"ledger", func(c *PrepareTransfer) { c.Ledger = "http://other.example" }},
		{"debit amount", func(c *PrepareTransfer) { c.Debits[0].Amount = decimal.RequireFromString("11") }},
		{"credit order", func(c *PrepareTransfer) { c.Credits[0], c.Credits[1] = c.Credits[1], c.Credits[0] }},
		{"credit account", func(c *PrepareTransfer) { c.Credits[1].Account = "dave" }},
		{"condition", func(c *PrepareTransfer) { c.ExecutionCondition = "cc:0:3:" + emptyFingerprint + ":0" }},
		{"expiry", func(c *PrepareTransfer) { c.ExpiresAt = c.ExpiresAt.Add(time.Second) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := testPrepare()
			tt.mutate(&cmd)

			_, err := Decide(state, cmd, testNow)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, apperror.CodeAlreadyExists))
		})
	}
}

func TestDecide_Prepare_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *PrepareTransfer)
		code   string
	}{
		{"nil id", func(c *PrepareTransfer) { c.ID = uuid.Nil }, apperror.CodeInvalidTransfer},
		{"missing ledger", func(c *PrepareTransfer) { c.Ledger = " " }, apperror.CodeInvalidTransfer},
		{"no debits", func(c *PrepareTransfer) { c.Debits = nil }, apperror.CodeInvalidTransfer},
		{"blank account", func(c *PrepareTransfer) { c.Credits[0].Account = "" }, apperror.CodeInvalidTransfer},
		{"zero amount", func(c *PrepareTransfer) { c.Credits[0].Amount = decimal.Zero }, apperror.CodeInvalidTransfer},
		{"unbalanced", func(c *PrepareTransfer) { c.Credits[1].Amount = decimal.RequireFromString("3.24") }, apperror.CodeInvalidTransfer},
		{"malformed condition", func(c *PrepareTransfer) { c.ExecutionCondition = "cc:nope" }, apperror.CodeParse},
		{"unsupported condition type", func(c *PrepareTransfer) { c.ExecutionCondition = "cc:1:3:" + emptyFingerprint + ":0" }, apperror.CodeUnsupportedType},
		{"condition features", func(c *PrepareTransfer) { c.ExecutionCondition = "cc:0:7:" + emptyFingerprint + ":0" }, apperror.CodeUnsupportedBitmaskFeatures},
		{"missing expiry", func(c *PrepareTransfer) { c.ExpiresAt = time.Time{} }, apperror.CodeInvalidTransfer},
		{"expiry in the past", func(c *PrepareTransfer) { c.ExpiresAt = testNow }, apperror.CodeInvalidTransfer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := testPrepare()
			tt.mutate(&cmd)

			_, err := Decide(nil, cmd, testNow)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestDecide_Fulfill(t *testing.T) {
	prepare := testPrepare()
	state, _ := history(t, prepare)

	d, err := Decide(state, FulfillTransfer{ID: prepare.ID, Fulfillment: testFulfillment()}, testNow)
	require.NoError(t, err)
	require.Len(t, d.Events, 1)

	executed, ok := d.Events[0].(TransferExecuted)
	require.True(t, ok)
	assert.Equal(t, testFulfillment(), executed.Fulfillment)
	assert.Equal(t, TransferStateExecuted, d.Transfer.State)
	assert.Equal(t, int64(2), d.Transfer.Version)
	assert.NotNil(t, d.Transfer.ExecutedAt)

	// The decision must not leak into the prior state.
	assert.Equal(t, TransferStatePrepared, state.State)
}

func TestDecide_Fulfill_Idempotent(t *testing.T) {
	prepare := testPrepare()
	fulfill := FulfillTransfer{ID: prepare.ID, Fulfillment: testFulfillment()}
	state, events := history(t, prepare, fulfill)
	require.Len(t, events, 2)

	d, err := Decide(state, fulfill, testNow)
	require.NoError(t, err)
	assert.Empty(t, d.Events)
	assert.True(t, d.Existing)
	assert.Equal(t, TransferStateExecuted, d.Transfer.State)

	_, err = Decide(state, FulfillTransfer{ID: prepare.ID, Fulfillment: "cf:0:b3RoZXI"}, testNow)
	assert.True(t, apperror.HasCode(err, apperror.CodeUnpreparedTransfer))
}

func TestDecide_Fulfill_Errors(t *testing.T) {
	prepare := testPrepare()
	prepared, _ := history(t, prepare)
	rejected, _ := history(t, prepare, RejectTransfer{ID: prepare.ID, Reason: "changed my mind"})

	tests := []struct {
		name  string
		state *Transfer
		ff    string
		now   time.Time
		code  string
	}{
		{"unknown transfer", nil, testFulfillment(), testNow, apperror.CodeNotFound},
		{"rejected transfer", rejected, testFulfillment(), testNow, apperror.CodeUnpreparedTransfer},
		{"expired transfer", prepared, testFulfillment(), prepare.ExpiresAt, apperror.CodeTransferExpired},
		{"wrong preimage", prepared, NewPreimageFulfillment([]byte("guess")).String(), testNow, apperror.CodeUnmetCondition},
		{"malformed fulfillment", prepared, "not-a-fulfillment", testNow, apperror.CodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decide(tt.state, FulfillTransfer{ID: prepare.ID, Fulfillment: tt.ff}, tt.now)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestDecide_Reject(t *testing.T) {
	prepare := testPrepare()
	state, _ := history(t, prepare)

	d, err := Decide(state, RejectTransfer{ID: prepare.ID, Reason: "changed my mind"}, testNow)
	require.NoError(t, err)
	require.Len(t, d.Events, 1)

	rejected, ok := d.Events[0].(TransferRejected)
	require.True(t, ok)
	assert.Equal(t, RejectionTypeCanceled, rejected.RejectionType)
	assert.Equal(t, "changed my mind", rejected.RejectionReason)
	assert.Equal(t, TransferStateRejected, d.Transfer.State)
	assert.Equal(t, RejectionTypeCanceled, d.Transfer.RejectionType)
}

func TestDecide_Reject_ExpiredTypeIsDistinct(t *testing.T) {
	prepare := testPrepare()
	state, _ := history(t, prepare, RejectTransfer{ID: prepare.ID, Reason: "Expired", Type: RejectionTypeExpired})

	assert.Equal(t, TransferStateRejected, state.State)
	assert.Equal(t, RejectionTypeExpired, state.RejectionType)
	assert.Equal(t, "Expired", state.RejectionReason)

	// Same reason but the default type is not an idempotent repeat.
	_, err := Decide(state, RejectTransfer{ID: prepare.ID, Reason: "Expired"}, testNow)
	assert.True(t, apperror.HasCode(err, apperror.CodeUnpreparedTransfer))
}

func TestDecide_Reject_Idempotent(t *testing.T) {
	prepare := testPrepare()
	reject := RejectTransfer{ID: prepare.ID, Reason: "changed my mind"}
	state, _ := history(t, prepare, reject)

	d, err := Decide(state, reject, testNow)
	require.NoError(t, err)
	assert.Empty(t, d.Events)
	assert.True(t, d.Existing)

	explicit := RejectTransfer{ID: prepare.ID, Reason: "changed my mind", Type: RejectionTypeCanceled}
	_, err = Decide(state, explicit, testNow)
	assert.NoError(t, err)

	_, err = Decide(state, RejectTransfer{ID: prepare.ID, Reason: "other reason"}, testNow)
	assert.True(t, apperror.HasCode(err, apperror.CodeUnpreparedTransfer))
}

func TestDecide_Reject_Errors(t *testing.T) {
	prepare := testPrepare()
	executed, _ := history(t, prepare, FulfillTransfer{ID: prepare.ID, Fulfillment: testFulfillment()})
	prepared, _ := history(t, prepare)

	_, err := Decide(nil, RejectTransfer{ID: prepare.ID, Reason: "x"}, testNow)
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))

	_, err = Decide(executed, RejectTransfer{ID: prepare.ID, Reason: "x"}, testNow)
	assert.True(t, apperror.HasCode(err, apperror.CodeUnpreparedTransfer))

	_, err = Decide(prepared, RejectTransfer{ID: prepare.ID, Reason: "x", Type: "LOST"}, testNow)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransfer))
}

func TestReplay_RebuildsStateFromEvents(t *testing.T) {
	prepare := testPrepare()
	state, events := history(t, prepare, FulfillTransfer{ID: prepare.ID, Fulfillment: testFulfillment()})

	replayed := Replay(events)
	require.NotNil(t, replayed)
	assert.Equal(t, state, replayed)
	assert.Equal(t, int64(2), replayed.Version)
	assert.Equal(t, TransferStateExecuted, replayed.State)

	assert.Nil(t, Replay(nil))
}

func TestFold_FromSnapshotWithoutHistory(t *testing.T) {
	prepare := testPrepare()
	_, events := history(t, prepare, RejectTransfer{ID: prepare.ID, Reason: "no", Type: RejectionTypeCanceled})

	// A consumer that only sees the last event still gets the full transfer.
	state := Fold(nil, events[1])
	require.NotNil(t, state)
	assert.Equal(t, TransferStateRejected, state.State)
	assert.Equal(t, prepare.Ledger, state.Ledger)
	assert.Len(t, state.Credits, 2)
	assert.Equal(t, int64(2), state.Version)
}

func TestTransfer_Accounts(t *testing.T) {
	tr := &Transfer{
		Debits:  []Entry{{Account: "alice"}, {Account: "bob"}},
		Credits: []Entry{{Account: "bob"}, {Account: "carol"}},
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, tr.Accounts())
}

func TestUnmarshalPayload_ByType(t *testing.T) {
	prepare := testPrepare()
	_, events := history(t, prepare, FulfillTransfer{ID: prepare.ID, Fulfillment: testFulfillment()})

	data, err := MarshalPayload(events[1].Payload)
	require.NoError(t, err)

	decoded, err := UnmarshalPayload(EventTransferExecuted, data)
	require.NoError(t, err)
	executed, ok := decoded.(TransferExecuted)
	require.True(t, ok)
	assert.Equal(t, testFulfillment(), executed.Fulfillment)
	assert.Equal(t, prepare.ID, executed.Snapshot().ID)
	assert.True(t, executed.Transfer.Debits[0].Amount.Equal(decimal.RequireFromString("10.5")))

	_, err = UnmarshalPayload("TransferLost", data)
	assert.Error(t, err)
}
