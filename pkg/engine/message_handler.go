package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumendark/lumendark/pkg/core"
	"github.com/lumendark/lumendark/pkg/core/book"
	"github.com/lumendark/lumendark/pkg/core/ledger"
	"github.com/lumendark/lumendark/pkg/queue"
	"github.com/lumendark/lumendark/pkg/store"
)

const popTimeout = time.Second

// MessageHandler is the single-writer engine loop. It drains the message
// queue serially, applying each message to the ledger and the book, and
// emits settlement/withdrawal actions in processing order. No other
// goroutine mutates the ledger, the book, or non-terminal message status.
type MessageHandler struct {
	messages *queue.Queue[*core.Message]
	actions  *queue.Queue[*core.Action]
	ledger   *ledger.Ledger
	book     *book.Book
	store    *store.MessageStore
	log      *zap.SugaredLogger
}

func NewMessageHandler(
	messages *queue.Queue[*core.Message],
	actions *queue.Queue[*core.Action],
	l *ledger.Ledger,
	b *book.Book,
	s *store.MessageStore,
	log *zap.SugaredLogger,
) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		actions:  actions,
		ledger:   l,
		book:     b,
		store:    s,
		log:      log,
	}
}

// Run drains the message queue until ctx is cancelled.
func (h *MessageHandler) Run(ctx context.Context) {
	h.log.Info("message handler started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("message handler stopped")
			return
		default:
		}
		msg, ok := h.messages.Pop(ctx, popTimeout)
		if !ok {
			continue
		}
		h.process(msg)
	}
}

// process applies one message and publishes its terminal status. A panic
// inside dispatch rejects the message and keeps the loop alive; mutations
// before the panic stand, which is safe because every ledger/book call
// checks its preconditions before mutating.
func (h *MessageHandler) process(msg *core.Message) {
	msg.Status = core.StatusProcessing
	h.store.Update(msg)

	func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Errorw("panic processing message", "message_id", msg.ID, "panic", r)
				msg.Reject(fmt.Sprintf("internal error: %v", r))
			}
		}()
		switch msg.Kind {
		case core.MessageDeposit:
			h.processDeposit(msg)
		case core.MessageOrder:
			h.processOrder(msg)
		case core.MessageCancel:
			h.processCancel(msg)
		case core.MessageWithdraw:
			h.processWithdraw(msg)
		default:
			msg.Reject(fmt.Sprintf("unknown message kind: %s", msg.Kind))
		}
	}()

	h.store.Update(msg)
}

func (h *MessageHandler) processDeposit(msg *core.Message) {
	asset, err := core.ParseAsset(msg.Deposit.Asset)
	if err != nil {
		msg.Reject(err.Error())
		return
	}
	amount, err := decimal.NewFromString(msg.Deposit.Amount)
	if err != nil {
		msg.Reject(fmt.Sprintf("invalid amount: %v", err))
		return
	}
	if !amount.IsPositive() {
		msg.Reject("amount must be positive")
		return
	}

	// The chain already holds these funds; the event is the proof.
	h.ledger.Deposit(msg.User, asset, amount)
	msg.Accept()
	h.log.Infow("deposit processed", "user", msg.User, "asset", asset, "amount", amount)
}

func (h *MessageHandler) processOrder(msg *core.Message) {
	side, err := core.ParseSide(msg.Order.Side)
	if err != nil {
		msg.Reject(err.Error())
		return
	}
	price, err := decimal.NewFromString(msg.Order.Price)
	if err != nil {
		msg.Reject(fmt.Sprintf("invalid price: %v", err))
		return
	}
	qty, err := decimal.NewFromString(msg.Order.Quantity)
	if err != nil {
		msg.Reject(fmt.Sprintf("invalid quantity: %v", err))
		return
	}
	if !price.IsPositive() || !qty.IsPositive() {
		msg.Reject("price and quantity must be positive")
		return
	}

	if !h.ledger.Exists(msg.User) {
		msg.Reject(core.ErrUserNotFound.Error())
		return
	}

	// Buy orders reserve price*quantity of B; sells reserve quantity of A.
	var required decimal.Decimal
	var asset core.Asset
	if side == core.Buy {
		required = price.Mul(qty)
		asset = core.AssetB
	} else {
		required = qty
		asset = core.AssetA
	}

	if !h.ledger.CanAllocate(msg.User, asset, required) {
		have := h.ledger.Available(msg.User, asset)
		msg.Reject((&core.InsufficientBalanceError{Have: have, Need: required}).Error())
		return
	}
	if err := h.ledger.Allocate(msg.User, asset, required); err != nil {
		msg.Reject(err.Error())
		return
	}

	order := core.NewOrder(msg.User, side, price, qty)
	result := match(h.book, order)

	for _, trade := range result.trades {
		h.settleTrade(trade, side)
	}

	if result.remaining != nil {
		if err := h.book.Add(result.remaining); err != nil {
			// Unreachable for freshly minted uuids; reject rather than
			// strand the residual liability silently.
			msg.Reject(err.Error())
			return
		}
		msg.OrderID = result.remaining.ID
	}

	msg.TradesCount = len(result.trades)
	msg.Accept()

	remaining := decimal.Zero
	if result.remaining != nil {
		remaining = result.remaining.Remaining()
	}
	h.log.Infow("order processed",
		"order_id", order.ID, "user", msg.User, "side", side,
		"trades", len(result.trades), "remaining", remaining)
}

// settleTrade moves the traded amounts through the ledger and queues the
// on-chain settlement. Maker liabilities were reserved when the maker's
// order was placed, so every consume below is covered.
func (h *MessageHandler) settleTrade(trade *core.Trade, takerSide core.Side) {
	amountA := trade.AmountA()
	amountB := trade.AmountB()

	if takerSide == core.Buy {
		h.mustConsume(trade.Buyer, core.AssetB, amountB)
		h.mustConsume(trade.Seller, core.AssetA, amountA)
		h.ledger.Credit(trade.Buyer, core.AssetA, amountA)
		h.ledger.Credit(trade.Seller, core.AssetB, amountB)
	} else {
		h.mustConsume(trade.Seller, core.AssetA, amountA)
		h.mustConsume(trade.Buyer, core.AssetB, amountB)
		h.ledger.Credit(trade.Seller, core.AssetB, amountB)
		h.ledger.Credit(trade.Buyer, core.AssetA, amountA)
	}

	action := core.NewSettlementAction(trade.ID, trade.Buyer, trade.Seller, amountA.String(), amountB.String())
	if err := h.actions.Push(action); err != nil {
		h.log.Errorw("action queue full, settlement dropped", "trade_id", trade.ID, "err", err)
	}
	h.log.Debugw("trade settled", "trade_id", trade.ID, "price", trade.Price, "quantity", trade.Quantity)
}

func (h *MessageHandler) mustConsume(user string, asset core.Asset, amount decimal.Decimal) {
	if err := h.ledger.ConsumeLiability(user, asset, amount); err != nil {
		// Liability invariants guarantee coverage; a failure here is a bug.
		panic(fmt.Sprintf("consume liability %s %s for %s: %v", amount, asset, user, err))
	}
}

func (h *MessageHandler) processCancel(msg *core.Message) {
	orderID := msg.Cancel.OrderID
	if orderID == "" {
		msg.Reject("missing order_id")
		return
	}

	order := h.book.Remove(orderID)
	if order == nil {
		msg.Reject(fmt.Sprintf("%s: %s", core.ErrOrderNotFound, orderID))
		return
	}
	if order.User != msg.User {
		// Not the owner: the order goes straight back on the book.
		if err := h.book.Add(order); err != nil {
			h.log.Errorw("failed to restore order after ownership check", "order_id", orderID, "err", err)
		}
		msg.Reject(core.ErrNotOwner.Error())
		return
	}

	if err := h.ledger.Release(order.User, order.LiabilityAsset(), order.LiabilityAmount()); err != nil {
		msg.Reject(err.Error())
		return
	}
	order.Cancel()
	msg.Accept()
	h.log.Infow("order cancelled", "order_id", orderID, "user", msg.User)
}

func (h *MessageHandler) processWithdraw(msg *core.Message) {
	asset, err := core.ParseAsset(msg.Withdraw.Asset)
	if err != nil {
		msg.Reject(err.Error())
		return
	}
	amount, err := decimal.NewFromString(msg.Withdraw.Amount)
	if err != nil {
		msg.Reject(fmt.Sprintf("invalid amount: %v", err))
		return
	}
	if !amount.IsPositive() {
		msg.Reject("amount must be positive")
		return
	}

	if !h.ledger.CanWithdraw(msg.User, asset, amount) {
		have := h.ledger.Available(msg.User, asset)
		msg.Reject((&core.InsufficientBalanceError{Have: have, Need: amount}).Error())
		return
	}
	if err := h.ledger.Withdraw(msg.User, asset, amount); err != nil {
		msg.Reject(err.Error())
		return
	}

	action := core.NewWithdrawalAction(msg.User, string(asset), amount.String())
	if err := h.actions.Push(action); err != nil {
		h.log.Errorw("action queue full, withdrawal dropped", "user", msg.User, "err", err)
	}
	msg.Accept()
	h.log.Infow("withdrawal queued", "user", msg.User, "asset", asset, "amount", amount)
}
