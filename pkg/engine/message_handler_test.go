package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumendark/lumendark/pkg/core"
	"github.com/lumendark/lumendark/pkg/core/book"
	"github.com/lumendark/lumendark/pkg/core/ledger"
	"github.com/lumendark/lumendark/pkg/queue"
	"github.com/lumendark/lumendark/pkg/store"
)

type engineHarness struct {
	handler *MessageHandler
	ledger  *ledger.Ledger
	book    *book.Book
	store   *store.MessageStore
	actions *queue.Queue[*core.Action]
}

func newHarness(t *testing.T) *engineHarness {
	t.Helper()
	l := ledger.New()
	b := book.New()
	s := store.NewMessageStore()
	messages := queue.New[*core.Message](64)
	actions := queue.New[*core.Action](64)
	h := NewMessageHandler(messages, actions, l, b, s, zap.NewNop().Sugar())
	return &engineHarness{handler: h, ledger: l, book: b, store: s, actions: actions}
}

func (e *engineHarness) deposit(t *testing.T, user, asset, amount string) {
	t.Helper()
	msg := core.NewDepositMessage(user, core.DepositPayload{Asset: asset, Amount: amount})
	e.store.Add(msg)
	e.handler.process(msg)
	require.Equal(t, core.StatusAccepted, msg.Status, "deposit rejected: %s", msg.RejectionReason)
}

func (e *engineHarness) placeOrder(t *testing.T, user, side, price, qty string) *core.Message {
	t.Helper()
	msg := core.NewOrderMessage(user, core.OrderPayload{Side: side, Price: price, Quantity: qty})
	e.store.Add(msg)
	e.handler.process(msg)
	return msg
}

func (e *engineHarness) drainActions() []*core.Action {
	var out []*core.Action
	for e.actions.Len() > 0 {
		a, ok := e.actions.Pop(context.Background(), 10*time.Millisecond)
		if !ok {
			break
		}
		out = append(out, a)
	}
	return out
}

// S1: a full cross settles both sides exactly.
func TestSimpleMatch(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "seller1", "a", "100")
	e.deposit(t, "buyer1", "b", "1000")

	sellMsg := e.placeOrder(t, "seller1", "sell", "10", "50")
	require.Equal(t, core.StatusAccepted, sellMsg.Status)
	assert.Equal(t, 0, sellMsg.TradesCount)
	assert.NotEmpty(t, sellMsg.OrderID)

	buyMsg := e.placeOrder(t, "buyer1", "buy", "10", "50")
	require.Equal(t, core.StatusAccepted, buyMsg.Status)
	assert.Equal(t, 1, buyMsg.TradesCount)
	assert.Empty(t, buyMsg.OrderID, "fully filled taker leaves no resident order")

	assert.Equal(t, 0, e.book.Len())

	assert.True(t, e.ledger.Available("seller1", core.AssetA).Equal(dec("50")))
	assert.True(t, e.ledger.Available("seller1", core.AssetB).Equal(dec("500")))
	assert.True(t, e.ledger.Available("buyer1", core.AssetA).Equal(dec("50")))
	assert.True(t, e.ledger.Available("buyer1", core.AssetB).Equal(dec("500")))
	assert.True(t, e.ledger.Liability("seller1", core.AssetA).IsZero())
	assert.True(t, e.ledger.Liability("buyer1", core.AssetB).IsZero())

	settlements := e.drainActions()
	require.Len(t, settlements, 1)
	assert.Equal(t, core.ActionSettlement, settlements[0].Kind)
	assert.Equal(t, "buyer1", settlements[0].Settlement.Buyer)
	assert.Equal(t, "seller1", settlements[0].Settlement.Seller)
	assert.Equal(t, "50", settlements[0].Settlement.AmountA)
	assert.Equal(t, "500", settlements[0].Settlement.AmountB)
}

// S2: the aggressor fills best-priced asks first and pays the maker price.
func TestPriceImprovementForAggressor(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "seller1", "a", "100")
	e.deposit(t, "seller2", "a", "100")
	e.deposit(t, "buyer1", "b", "10000")

	require.Equal(t, core.StatusAccepted, e.placeOrder(t, "seller1", "sell", "10.0", "30").Status)
	require.Equal(t, core.StatusAccepted, e.placeOrder(t, "seller2", "sell", "10.5", "50").Status)

	buyMsg := e.placeOrder(t, "buyer1", "buy", "10.5", "60")
	require.Equal(t, core.StatusAccepted, buyMsg.Status)
	assert.Equal(t, 2, buyMsg.TradesCount)
	assert.Empty(t, buyMsg.OrderID)

	// seller2's ask has 20 remaining on the book.
	assert.Equal(t, 1, e.book.AskCount())
	orders := e.book.UserOrders("seller2")
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Remaining().Equal(dec("20")))

	// Buyer paid 30*10.0 + 30*10.5 = 615, received 60 A. Only the trade
	// amounts are consumed, so the other 15 of the allocated 630 stays in
	// liability and still counts toward the B total.
	assert.True(t, e.ledger.Available("buyer1", core.AssetA).Equal(dec("60")))
	assert.True(t, e.ledger.Total("buyer1", core.AssetB).Equal(dec("10000").Sub(dec("615"))))
}

// S3: self-matching is prevented; both orders rest with liabilities.
func TestSelfMatchPrevention(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "user1", "a", "100")
	e.deposit(t, "user1", "b", "1000")

	sellMsg := e.placeOrder(t, "user1", "sell", "10", "50")
	buyMsg := e.placeOrder(t, "user1", "buy", "10", "50")
	require.Equal(t, core.StatusAccepted, sellMsg.Status)
	require.Equal(t, core.StatusAccepted, buyMsg.Status)
	assert.Equal(t, 0, sellMsg.TradesCount)
	assert.Equal(t, 0, buyMsg.TradesCount)

	assert.Equal(t, 2, e.book.Len())
	assert.True(t, e.ledger.Liability("user1", core.AssetA).Equal(dec("50")))
	assert.True(t, e.ledger.Liability("user1", core.AssetB).Equal(dec("500")))
	assert.Empty(t, e.drainActions())
}

// S4: orders the user cannot fund are rejected without ledger changes.
func TestInsufficientBalanceRejected(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "user1", "b", "100")

	msg := e.placeOrder(t, "user1", "buy", "50", "10") // needs 500 B
	require.Equal(t, core.StatusRejected, msg.Status)
	assert.Contains(t, msg.RejectionReason, "insufficient")

	assert.True(t, e.ledger.Available("user1", core.AssetB).Equal(dec("100")))
	assert.True(t, e.ledger.Liability("user1", core.AssetB).IsZero())
	assert.Equal(t, 0, e.book.Len())
}

func TestOrderFromUnknownUserRejected(t *testing.T) {
	e := newHarness(t)
	msg := e.placeOrder(t, "ghost", "buy", "10", "1")
	require.Equal(t, core.StatusRejected, msg.Status)
	assert.Contains(t, msg.RejectionReason, "not found")
}

func TestOrderValidation(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "user1", "b", "1000")

	tests := []struct {
		name    string
		payload core.OrderPayload
	}{
		{"bad side", core.OrderPayload{Side: "hold", Price: "10", Quantity: "1"}},
		{"bad price", core.OrderPayload{Side: "buy", Price: "ten", Quantity: "1"}},
		{"zero price", core.OrderPayload{Side: "buy", Price: "0", Quantity: "1"}},
		{"negative quantity", core.OrderPayload{Side: "buy", Price: "10", Quantity: "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := core.NewOrderMessage("user1", tt.payload)
			e.handler.process(msg)
			assert.Equal(t, core.StatusRejected, msg.Status)
		})
	}
}

// S5: cancel releases the residual liability exactly.
func TestCancelReleasesLiability(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "user1", "a", "100")

	orderMsg := e.placeOrder(t, "user1", "sell", "10", "50")
	require.Equal(t, core.StatusAccepted, orderMsg.Status)
	assert.True(t, e.ledger.Liability("user1", core.AssetA).Equal(dec("50")))

	cancelMsg := core.NewCancelMessage("user1", orderMsg.OrderID)
	e.handler.process(cancelMsg)
	require.Equal(t, core.StatusAccepted, cancelMsg.Status)

	assert.True(t, e.ledger.Available("user1", core.AssetA).Equal(dec("100")))
	assert.True(t, e.ledger.Liability("user1", core.AssetA).IsZero())
	assert.Equal(t, 0, e.book.Len())
	assert.Nil(t, e.book.Get(orderMsg.OrderID))
}

func TestCancelUnknownOrder(t *testing.T) {
	e := newHarness(t)
	msg := core.NewCancelMessage("user1", "no-such-order")
	e.handler.process(msg)
	require.Equal(t, core.StatusRejected, msg.Status)
	assert.Contains(t, msg.RejectionReason, "not found")
}

func TestCancelForeignOrderReinserted(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "owner", "a", "100")
	orderMsg := e.placeOrder(t, "owner", "sell", "10", "50")

	cancelMsg := core.NewCancelMessage("attacker", orderMsg.OrderID)
	e.handler.process(cancelMsg)
	require.Equal(t, core.StatusRejected, cancelMsg.Status)
	assert.Contains(t, cancelMsg.RejectionReason, "another user")

	// The order goes straight back on the book, liability intact.
	assert.NotNil(t, e.book.Get(orderMsg.OrderID))
	assert.True(t, e.ledger.Liability("owner", core.AssetA).Equal(dec("50")))
}

// S6: withdrawals respect the liability split.
func TestWithdrawBlockedByOpenOrder(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "user1", "a", "100")
	require.Equal(t, core.StatusAccepted, e.placeOrder(t, "user1", "sell", "10", "50").Status)

	full := core.NewWithdrawMessage("user1", core.WithdrawPayload{Asset: "a", Amount: "100"})
	e.handler.process(full)
	require.Equal(t, core.StatusRejected, full.Status)
	assert.Contains(t, full.RejectionReason, "insufficient")

	half := core.NewWithdrawMessage("user1", core.WithdrawPayload{Asset: "a", Amount: "50"})
	e.handler.process(half)
	require.Equal(t, core.StatusAccepted, half.Status)

	actions := e.drainActions()
	require.Len(t, actions, 1)
	assert.Equal(t, core.ActionWithdrawal, actions[0].Kind)
	assert.Equal(t, "user1", actions[0].Withdrawal.User)
	assert.Equal(t, "a", actions[0].Withdrawal.Asset)
	assert.Equal(t, "50", actions[0].Withdrawal.Amount)
}

func TestWithdrawValidation(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "user1", "a", "100")

	badAsset := core.NewWithdrawMessage("user1", core.WithdrawPayload{Asset: "c", Amount: "1"})
	e.handler.process(badAsset)
	assert.Equal(t, core.StatusRejected, badAsset.Status)

	badAmount := core.NewWithdrawMessage("user1", core.WithdrawPayload{Asset: "a", Amount: "-5"})
	e.handler.process(badAmount)
	assert.Equal(t, core.StatusRejected, badAmount.Status)
}

func TestDepositValidation(t *testing.T) {
	e := newHarness(t)

	msg := core.NewDepositMessage("user1", core.DepositPayload{Asset: "a", Amount: "0"})
	e.handler.process(msg)
	assert.Equal(t, core.StatusRejected, msg.Status)

	msg = core.NewDepositMessage("user1", core.DepositPayload{Asset: "x", Amount: "10"})
	e.handler.process(msg)
	assert.Equal(t, core.StatusRejected, msg.Status)

	assert.False(t, e.ledger.Exists("user1"))
}

// Place-then-cancel of a non-matching order leaves everything unchanged.
func TestPlaceCancelRoundTrip(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "user1", "b", "1000")

	orderMsg := e.placeOrder(t, "user1", "buy", "10", "5")
	cancelMsg := core.NewCancelMessage("user1", orderMsg.OrderID)
	e.handler.process(cancelMsg)

	require.Equal(t, core.StatusAccepted, cancelMsg.Status)
	assert.True(t, e.ledger.Available("user1", core.AssetB).Equal(dec("1000")))
	assert.True(t, e.ledger.Liability("user1", core.AssetB).IsZero())
	assert.Equal(t, 0, e.book.Len())
}

// Per-asset totals change only via deposits and withdrawals; settlements
// net to zero across the two traders.
func TestAssetConservationAcrossTrades(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "seller1", "a", "100")
	e.deposit(t, "buyer1", "b", "1000")

	e.placeOrder(t, "seller1", "sell", "10", "40")
	e.placeOrder(t, "buyer1", "buy", "10", "40")

	assert.True(t, e.ledger.AssetTotal(core.AssetA).Equal(dec("100")))
	assert.True(t, e.ledger.AssetTotal(core.AssetB).Equal(dec("1000")))
}

func TestStatusPublishedToStore(t *testing.T) {
	e := newHarness(t)
	e.deposit(t, "user1", "b", "1000")

	msg := e.placeOrder(t, "user1", "buy", "10", "5")
	stored, ok := e.store.Get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, core.StatusAccepted, stored.Status)
	require.NotNil(t, stored.ProcessedAt)
}
