package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset identifies one of the two escrowed assets.
type Asset string

const (
	AssetA Asset = "a"
	AssetB Asset = "b"
)

// ParseAsset validates an asset symbol from user input.
func ParseAsset(s string) (Asset, error) {
	switch Asset(s) {
	case AssetA, AssetB:
		return Asset(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
}

// Side is the order side. Buying means acquiring asset A for asset B.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Buy, Sell:
		return Side(s), nil
	default:
		return "", fmt.Errorf("invalid side: %q", s)
	}
}

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
)

// Order is a limit order. Price is in asset B per unit of asset A,
// quantity is in asset A.
type Order struct {
	ID        string
	User      string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Filled    decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
}

// NewOrder creates an open order with a generated id.
func NewOrder(user string, side Side, price, quantity decimal.Decimal) *Order {
	return &Order{
		ID:        uuid.NewString(),
		User:      user,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Filled:    decimal.Zero,
		Status:    OrderOpen,
		CreatedAt: time.Now().UTC(),
	}
}

// Remaining is the quantity still to be filled.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// IsActive reports whether the order can still be matched.
func (o *Order) IsActive() bool {
	return o.Status == OrderOpen || o.Status == OrderPartiallyFilled
}

// LiabilityAsset is the asset reserved while this order rests on the book.
func (o *Order) LiabilityAsset() Asset {
	if o.Side == Buy {
		return AssetB
	}
	return AssetA
}

// LiabilityAmount is the amount reserved for the unfilled remainder:
// price*remaining of asset B for buys, remaining of asset A for sells.
func (o *Order) LiabilityAmount() decimal.Decimal {
	if o.Side == Buy {
		return o.Price.Mul(o.Remaining())
	}
	return o.Remaining()
}

// Fill records an executed quantity and advances the status.
func (o *Order) Fill(qty decimal.Decimal) {
	o.Filled = o.Filled.Add(qty)
	if o.Remaining().IsZero() {
		o.Status = OrderFilled
	} else {
		o.Status = OrderPartiallyFilled
	}
}

// Cancel marks the order cancelled.
func (o *Order) Cancel() {
	o.Status = OrderCancelled
}

// Trade is an executed match between a buy and a sell order.
// The seller transfers `quantity` of asset A to the buyer; the buyer
// transfers `price*quantity` of asset B to the seller.
type Trade struct {
	ID          string
	Buyer       string
	Seller      string
	BuyOrderID  string
	SellOrderID string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	CreatedAt   time.Time
}

func NewTrade(buyer, seller, buyOrderID, sellOrderID string, price, quantity decimal.Decimal) *Trade {
	return &Trade{
		ID:          uuid.NewString(),
		Buyer:       buyer,
		Seller:      seller,
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		Price:       price,
		Quantity:    quantity,
		CreatedAt:   time.Now().UTC(),
	}
}

// AmountA is the asset A transferred seller -> buyer.
func (t *Trade) AmountA() decimal.Decimal { return t.Quantity }

// AmountB is the asset B transferred buyer -> seller.
func (t *Trade) AmountB() decimal.Decimal { return t.Price.Mul(t.Quantity) }
