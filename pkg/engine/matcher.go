package engine

import (
	"github.com/lumendark/lumendark/pkg/core"
	"github.com/lumendark/lumendark/pkg/core/book"
)

// matchResult is the outcome of crossing one incoming order.
type matchResult struct {
	trades    []*core.Trade
	remaining *core.Order // nil when fully filled
}

// match crosses an incoming order against the opposing side. Trades execute
// at the resting order's price; fully filled resting orders are removed
// from the book. The incoming order's fill counter advances in place.
//
// Resting orders belong to the book and are mutated here, which is sound
// only because match runs on the engine loop, the book's sole writer.
func match(b *book.Book, incoming *core.Order) matchResult {
	var trades []*core.Trade
	if incoming.Side == core.Buy {
		trades = matchAgainst(b, incoming, b.MatchingAsks(incoming.Price))
	} else {
		trades = matchAgainst(b, incoming, b.MatchingBids(incoming.Price))
	}

	remaining := incoming
	if incoming.Remaining().IsZero() {
		remaining = nil
	}
	return matchResult{trades: trades, remaining: remaining}
}

func matchAgainst(b *book.Book, incoming *core.Order, candidates []*core.Order) []*core.Trade {
	var trades []*core.Trade
	for _, resting := range candidates {
		if incoming.Remaining().IsZero() {
			break
		}
		// Self-match prevention: leave the user's own resting order
		// untouched and keep walking the book.
		if resting.User == incoming.User {
			continue
		}

		qty := decimalMin(incoming.Remaining(), resting.Remaining())

		var trade *core.Trade
		if incoming.Side == core.Buy {
			trade = core.NewTrade(incoming.User, resting.User, incoming.ID, resting.ID, resting.Price, qty)
		} else {
			trade = core.NewTrade(resting.User, incoming.User, resting.ID, incoming.ID, resting.Price, qty)
		}
		trades = append(trades, trade)

		incoming.Fill(qty)
		resting.Fill(qty)

		if resting.Remaining().IsZero() {
			b.Remove(resting.ID)
		}
	}
	return trades
}
