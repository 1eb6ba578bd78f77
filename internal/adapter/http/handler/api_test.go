package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"conditional-ledger/internal/adapter/http/handler"
	"conditional-ledger/internal/adapter/storage/memory"
	"conditional-ledger/internal/core/domain"
	"conditional-ledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp runs the real services over the memory store behind an httptest server.
type testApp struct {
	server    *httptest.Server
	projector *service.Projector
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	log := zerolog.Nop()

	projector := service.NewProjector(store.Events, store.Checkpoints, time.Hour, 100, log,
		service.NewTransferDetailProjection(store.Transfers),
		service.NewSettleableProjection(store.Settleable),
		service.NewMarkerProjection(store.Markers),
		service.NewAccountProjection(store.Accounts),
	)
	transfers := service.NewTransferService(store.Events, projector, 10, time.Millisecond, log)

	router := handler.SetupRouter(handler.RouterDeps{
		TransferSvc:   transfers,
		PositionSvc:   service.NewPositionService(store.Accounts, store.Settleable, store.Fees, log),
		SettlementSvc: service.NewSettlementService(transfers, store.Accounts, store.Fees, store.Settlements, log),
		Logger:        log,
	})

	app := &testApp{server: httptest.NewServer(router), projector: projector}
	t.Cleanup(app.server.Close)
	return app
}

type apiResponse struct {
	status    int
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
	Retryable bool            `json:"retryable"`
}

func (a *testApp) call(t *testing.T, method, path string, body interface{}) apiResponse {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, a.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := apiResponse{status: resp.StatusCode}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (a *testApp) catchUp(t *testing.T) {
	t.Helper()
	require.NoError(t, a.projector.CatchUpAll(context.Background()))
}

var secret = []byte("escrow secret")

func transferBody(debit, credit, amount string) map[string]interface{} {
	return map[string]interface{}{
		"ledger":              "http://ledger.example",
		"debits":              []map[string]string{{"account": debit, "amount": amount}},
		"credits":             []map[string]string{{"account": credit, "amount": amount}},
		"execution_condition": domain.NewPreimageFulfillment(secret).Condition().String(),
		"expires_at":          time.Now().Add(time.Minute).UTC().Format(time.RFC3339Nano),
	}
}

type transferView struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	Fulfillment     string `json:"fulfillment"`
	RejectionReason string `json:"rejection_reason"`
	RejectionType   string `json:"rejection_type"`
}

func decodeTransfer(t *testing.T, r apiResponse) transferView {
	t.Helper()
	var v transferView
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

type positionView struct {
	Account string          `json:"account"`
	Net     decimal.Decimal `json:"net"`
}

func decodePosition(t *testing.T, r apiResponse) positionView {
	t.Helper()
	var p positionView
	require.NoError(t, json.Unmarshal(r.Data, &p))
	return p
}

func TestAPI_PrepareFulfillAndPositions(t *testing.T) {
	app := newTestApp(t)
	id := uuid.New().String()
	body := transferBody("alice", "bob", "25.50")

	created := app.call(t, http.MethodPut, "/api/v1/transfers/"+id, body)
	require.Equal(t, http.StatusCreated, created.status)
	assert.Equal(t, "PREPARED", decodeTransfer(t, created).State)

	replay := app.call(t, http.MethodPut, "/api/v1/transfers/"+id, body)
	require.Equal(t, http.StatusOK, replay.status)

	// Prepared transfers are not yet settleable.
	app.catchUp(t)
	pos := app.call(t, http.MethodGet, "/api/v1/positions/alice", nil)
	require.Equal(t, http.StatusOK, pos.status)
	assert.True(t, decodePosition(t, pos).Net.IsZero())

	fulfillment := domain.NewPreimageFulfillment(secret).String()
	executed := app.call(t, http.MethodPut, "/api/v1/transfers/"+id+"/fulfillment",
		map[string]string{"fulfillment": fulfillment})
	require.Equal(t, http.StatusOK, executed.status)
	view := decodeTransfer(t, executed)
	assert.Equal(t, "EXECUTED", view.State)
	assert.Equal(t, fulfillment, view.Fulfillment)

	app.catchUp(t)
	alice := decodePosition(t, app.call(t, http.MethodGet, "/api/v1/positions/alice", nil))
	bob := decodePosition(t, app.call(t, http.MethodGet, "/api/v1/positions/bob", nil))
	assert.True(t, decimal.RequireFromString("-25.50").Equal(alice.Net), "alice net %s", alice.Net)
	assert.True(t, decimal.RequireFromString("25.50").Equal(bob.Net), "bob net %s", bob.Net)

	got := app.call(t, http.MethodGet, "/api/v1/transfers/"+id, nil)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, "EXECUTED", decodeTransfer(t, got).State)
}

func TestAPI_PrepareDivergentBodyConflicts(t *testing.T) {
	app := newTestApp(t)
	id := uuid.New().String()

	require.Equal(t, http.StatusCreated,
		app.call(t, http.MethodPut, "/api/v1/transfers/"+id, transferBody("alice", "bob", "10")).status)

	resp := app.call(t, http.MethodPut, "/api/v1/transfers/"+id, transferBody("alice", "bob", "11"))
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, "TRF_001", resp.ErrorCode)
}

func TestAPI_WrongFulfillment(t *testing.T) {
	app := newTestApp(t)
	id := uuid.New().String()
	require.Equal(t, http.StatusCreated,
		app.call(t, http.MethodPut, "/api/v1/transfers/"+id, transferBody("alice", "bob", "1")).status)

	resp := app.call(t, http.MethodPut, "/api/v1/transfers/"+id+"/fulfillment",
		map[string]string{"fulfillment": domain.NewPreimageFulfillment([]byte("wrong")).String()})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
	assert.Equal(t, "TRF_006", resp.ErrorCode)
}

func TestAPI_RejectThenFulfillFails(t *testing.T) {
	app := newTestApp(t)
	id := uuid.New().String()
	require.Equal(t, http.StatusCreated,
		app.call(t, http.MethodPut, "/api/v1/transfers/"+id, transferBody("alice", "bob", "3")).status)

	rejection := map[string]string{"rejection_reason": "buyer walked away"}
	rejected := app.call(t, http.MethodPut, "/api/v1/transfers/"+id+"/rejection", rejection)
	require.Equal(t, http.StatusOK, rejected.status)
	view := decodeTransfer(t, rejected)
	assert.Equal(t, "REJECTED", view.State)
	assert.Equal(t, "CANCELED", view.RejectionType)

	again := app.call(t, http.MethodPut, "/api/v1/transfers/"+id+"/rejection", rejection)
	assert.Equal(t, http.StatusOK, again.status)

	resp := app.call(t, http.MethodPut, "/api/v1/transfers/"+id+"/fulfillment",
		map[string]string{"fulfillment": domain.NewPreimageFulfillment(secret).String()})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
	assert.Equal(t, "TRF_003", resp.ErrorCode)

	app.catchUp(t)
	alice := decodePosition(t, app.call(t, http.MethodGet, "/api/v1/positions/alice", nil))
	assert.True(t, alice.Net.IsZero())
}

func TestAPI_UnknownTransferAndAccount(t *testing.T) {
	app := newTestApp(t)

	resp := app.call(t, http.MethodGet, "/api/v1/transfers/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = app.call(t, http.MethodGet, "/api/v1/positions/nobody", nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
}

// Concurrent fulfill and reject of one transfer must leave exactly one outcome.
func TestAPI_ConcurrentFulfillAndReject(t *testing.T) {
	app := newTestApp(t)
	id := uuid.New().String()
	require.Equal(t, http.StatusCreated,
		app.call(t, http.MethodPut, "/api/v1/transfers/"+id, transferBody("alice", "bob", "7")).status)

	fulfillment := domain.NewPreimageFulfillment(secret).String()
	const workers = 20

	var wg sync.WaitGroup
	statuses := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				statuses[i] = app.call(t, http.MethodPut, "/api/v1/transfers/"+id+"/fulfillment",
					map[string]string{"fulfillment": fulfillment}).status
				return
			}
			statuses[i] = app.call(t, http.MethodPut, "/api/v1/transfers/"+id+"/rejection",
				map[string]string{"rejection_reason": "race"}).status
		}(i)
	}
	wg.Wait()

	final := decodeTransfer(t, app.call(t, http.MethodGet, "/api/v1/transfers/"+id, nil))
	require.Contains(t, []string{"EXECUTED", "REJECTED"}, final.State)

	for i, status := range statuses {
		fulfilling := i%2 == 0
		won := (fulfilling && final.State == "EXECUTED") || (!fulfilling && final.State == "REJECTED")
		if won {
			assert.Equal(t, http.StatusOK, status, "worker %d", i)
		} else {
			assert.Equal(t, http.StatusUnprocessableEntity, status, "worker %d", i)
		}
	}
}

// Many transfers between the same accounts net out exactly once each.
func TestAPI_ConcurrentTransfersNetCorrectly(t *testing.T) {
	app := newTestApp(t)
	const transfers = 30
	fulfillment := domain.NewPreimageFulfillment(secret).String()

	var wg sync.WaitGroup
	for i := 0; i < transfers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New().String()
			if r := app.call(t, http.MethodPut, "/api/v1/transfers/"+id, transferBody("alice", "bob", "2")); r.status != http.StatusCreated {
				t.Errorf("prepare %s: status %d", id, r.status)
				return
			}
			if r := app.call(t, http.MethodPut, "/api/v1/transfers/"+id+"/fulfillment",
				map[string]string{"fulfillment": fulfillment}); r.status != http.StatusOK {
				t.Errorf("fulfill %s: status %d", id, r.status)
			}
		}()
	}
	wg.Wait()

	app.catchUp(t)
	bob := decodePosition(t, app.call(t, http.MethodGet, "/api/v1/positions/bob", nil))
	assert.True(t, decimal.NewFromInt(2*transfers).Equal(bob.Net), fmt.Sprintf("bob net %s", bob.Net))
}
