package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumendark/lumendark/pkg/core"
	"github.com/lumendark/lumendark/pkg/core/ledger"
	"github.com/lumendark/lumendark/pkg/queue"
	"github.com/lumendark/lumendark/pkg/store"
)

type apiHarness struct {
	server   *Server
	ledger   *ledger.Ledger
	store    *store.MessageStore
	messages *queue.Queue[*core.Message]
	kp       *keypair.Full
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	l := ledger.New()
	s := store.NewMessageStore()
	messages := queue.New[*core.Message](64)
	kp, err := keypair.Random()
	require.NoError(t, err)
	return &apiHarness{
		server:   NewServer(l, s, messages, zap.NewNop().Sugar()),
		ledger:   l,
		store:    s,
		messages: messages,
		kp:       kp,
	}
}

// signedRequest builds a request carrying a valid signature over the
// canonical payload.
func (h *apiHarness) signedRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	sig, err := h.kp.Sign(signPayload(method, path, body, ts))
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(headerAddress, h.kp.Address())
	req.Header.Set(headerSignature, hex.EncodeToString(sig))
	req.Header.Set(headerTimestamp, fmt.Sprintf("%d", ts))
	return req
}

func (h *apiHarness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestSubmitOrderEnqueues(t *testing.T) {
	h := newAPIHarness(t)
	body := []byte(`{"side":"buy","price":"10.5","quantity":"3"}`)
	rec := h.do(h.signedRequest(t, "POST", "/orders", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.MessageID)

	// The pending snapshot is visible before the engine runs.
	stored, ok := h.store.Get(resp.MessageID)
	require.True(t, ok)
	assert.Equal(t, core.StatusPending, stored.Status)
	assert.Equal(t, h.kp.Address(), stored.User)

	assert.Equal(t, 1, h.messages.Len())
}

func TestSubmitOrderRejectsMissingAuth(t *testing.T) {
	h := newAPIHarness(t)
	req := httptest.NewRequest("POST", "/orders", strings.NewReader(`{"side":"buy","price":"1","quantity":"1"}`))
	rec := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, h.messages.Len())
}

func TestSubmitOrderRejectsBadSignature(t *testing.T) {
	h := newAPIHarness(t)
	body := []byte(`{"side":"buy","price":"1","quantity":"1"}`)
	req := h.signedRequest(t, "POST", "/orders", body)
	req.Header.Set(headerSignature, hex.EncodeToString(make([]byte, 64)))
	rec := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitOrderRejectsTamperedBody(t *testing.T) {
	h := newAPIHarness(t)
	req := h.signedRequest(t, "POST", "/orders", []byte(`{"side":"buy","price":"1","quantity":"1"}`))
	req.Body = http.NoBody
	rec := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitOrderRejectsStaleTimestamp(t *testing.T) {
	h := newAPIHarness(t)
	h.server.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	rec := h.do(h.signedRequest(t, "POST", "/orders", []byte(`{"side":"buy","price":"1","quantity":"1"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitOrderValidation(t *testing.T) {
	h := newAPIHarness(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad side", `{"side":"hold","price":"1","quantity":"1"}`},
		{"bad price", `{"side":"buy","price":"abc","quantity":"1"}`},
		{"zero quantity", `{"side":"buy","price":"1","quantity":"0"}`},
		{"negative price", `{"side":"buy","price":"-1","quantity":"1"}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(h.signedRequest(t, "POST", "/orders", []byte(tt.body)))
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}
	assert.Equal(t, 0, h.messages.Len())
}

func TestCancelOrder(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(h.signedRequest(t, "POST", "/orders/cancel", []byte(`{"order_id":"some-order"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	msg, ok := h.messages.Pop(t.Context(), time.Second)
	require.True(t, ok)
	assert.Equal(t, core.MessageCancel, msg.Kind)
	assert.Equal(t, "some-order", msg.Cancel.OrderID)
}

func TestCancelOrderRequiresID(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(h.signedRequest(t, "POST", "/orders/cancel", []byte(`{}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWithdraw(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(h.signedRequest(t, "POST", "/withdrawals", []byte(`{"asset":"b","amount":"25.5"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	msg, ok := h.messages.Pop(t.Context(), time.Second)
	require.True(t, ok)
	assert.Equal(t, core.MessageWithdraw, msg.Kind)
	assert.Equal(t, "b", msg.Withdraw.Asset)
	assert.Equal(t, "25.5", msg.Withdraw.Amount)
}

func TestWithdrawValidation(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(h.signedRequest(t, "POST", "/withdrawals", []byte(`{"asset":"c","amount":"1"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(h.signedRequest(t, "POST", "/withdrawals", []byte(`{"asset":"a","amount":"-1"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetMessage(t *testing.T) {
	h := newAPIHarness(t)
	msg := core.NewOrderMessage("alice", core.OrderPayload{Side: "buy", Price: "10", Quantity: "1"})
	msg.Reject("insufficient available balance: have 0, need 10")
	h.store.Add(msg)

	rec := h.do(httptest.NewRequest("GET", "/messages/"+msg.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MessageStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, msg.ID, resp.ID)
	assert.Equal(t, "rejected", resp.Status)
	assert.Contains(t, resp.RejectionReason, "insufficient")
	assert.NotEmpty(t, resp.ProcessedAt)
}

func TestGetMessageNotFound(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(httptest.NewRequest("GET", "/messages/unknown-id", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBalances(t *testing.T) {
	h := newAPIHarness(t)
	h.ledger.Deposit("alice", core.AssetA, decimal.RequireFromString("100"))
	require.NoError(t, h.ledger.Allocate("alice", core.AssetA, decimal.RequireFromString("40")))

	rec := h.do(httptest.NewRequest("GET", "/messages/balances/alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BalancesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.Address)
	assert.Equal(t, "60", resp.AssetA.Available)
	assert.Equal(t, "40", resp.AssetA.Liability)
	assert.Equal(t, "100", resp.AssetA.Total)
	assert.Equal(t, "0", resp.AssetB.Total)
}

func TestGetBalancesUnknownAddress(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(httptest.NewRequest("GET", "/messages/balances/ghost", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BalancesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0", resp.AssetA.Available)
}
