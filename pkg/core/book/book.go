// Package book holds the resident order index: two price-time priority
// sides plus an id map for O(1) lookup. The book never touches balances;
// the engine loop is its sole mutator.
package book

import (
	"sync"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/lumendark/lumendark/pkg/core"
)

const btreeDegree = 16

// bidLess orders bids best-first: highest price, then earliest, then id.
func bidLess(a, b *core.Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// askLess orders asks best-first: lowest price, then earliest, then id.
func askLess(a, b *core.Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Book is the two-sided resident order index.
type Book struct {
	mu   sync.RWMutex
	bids *btree.BTreeG[*core.Order]
	asks *btree.BTreeG[*core.Order]
	byID map[string]*core.Order
}

func New() *Book {
	return &Book{
		bids: btree.NewG(btreeDegree, bidLess),
		asks: btree.NewG(btreeDegree, askLess),
		byID: make(map[string]*core.Order),
	}
}

// Add inserts an order. Fails on id collision.
func (b *Book) Add(o *core.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byID[o.ID]; ok {
		return core.ErrDuplicateID
	}
	b.byID[o.ID] = o
	if o.Side == core.Buy {
		b.bids.ReplaceOrInsert(o)
	} else {
		b.asks.ReplaceOrInsert(o)
	}
	return nil
}

// Remove deletes an order from both indexes and returns it, or nil if the
// id is not resident.
func (b *Book) Remove(id string) *core.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.byID[id]
	if !ok {
		return nil
	}
	delete(b.byID, id)
	if o.Side == core.Buy {
		b.bids.Delete(o)
	} else {
		b.asks.Delete(o)
	}
	return o
}

// Get returns a resident order by id, or nil.
func (b *Book) Get(id string) *core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byID[id]
}

// MatchingAsks returns asks with price <= maxPrice, best-first. The k
// candidates cost O(k) to collect; iteration stops at the first ask above
// the limit.
func (b *Book) MatchingAsks(maxPrice decimal.Decimal) []*core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*core.Order
	b.asks.Ascend(func(o *core.Order) bool {
		if o.Price.GreaterThan(maxPrice) {
			return false
		}
		out = append(out, o)
		return true
	})
	return out
}

// MatchingBids returns bids with price >= minPrice, best-first.
func (b *Book) MatchingBids(minPrice decimal.Decimal) []*core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*core.Order
	b.bids.Ascend(func(o *core.Order) bool {
		if o.Price.LessThan(minPrice) {
			return false
		}
		out = append(out, o)
		return true
	})
	return out
}

// UserOrders returns the user's resident orders, unordered.
func (b *Book) UserOrders(user string) []*core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*core.Order
	for _, o := range b.byID {
		if o.User == user {
			out = append(out, o)
		}
	}
	return out
}

// BidCount is the number of resident bids.
func (b *Book) BidCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len()
}

// AskCount is the number of resident asks.
func (b *Book) AskCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Len()
}

// Len is the total number of resident orders.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}
