package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind classifies inbound work items.
type MessageKind string

const (
	MessageDeposit  MessageKind = "deposit"
	MessageOrder    MessageKind = "order"
	MessageCancel   MessageKind = "cancel"
	MessageWithdraw MessageKind = "withdraw"
)

// Status is the processing state of a message or action. Transitions are
// linear: pending -> processing -> accepted|rejected.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// DepositPayload carries a decoded on-chain deposit event.
type DepositPayload struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Ledger uint32 `json:"ledger"`
	TxHash string `json:"tx_hash"`
}

// OrderPayload carries a limit order request. Amounts stay strings until
// the engine parses them; the engine is where validation lives.
type OrderPayload struct {
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type CancelPayload struct {
	OrderID string `json:"order_id"`
}

type WithdrawPayload struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Message is an inbound work item: a user request or a chain event.
// Exactly one payload field is set, matching Kind.
type Message struct {
	ID              string
	Kind            MessageKind
	User            string
	Deposit         *DepositPayload
	Order           *OrderPayload
	Cancel          *CancelPayload
	Withdraw        *WithdrawPayload
	Status          Status
	RejectionReason string
	CreatedAt       time.Time
	ProcessedAt     *time.Time

	// Set while processing ORDER messages.
	OrderID     string
	TradesCount int
}

func NewDepositMessage(user string, p DepositPayload) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Kind:      MessageDeposit,
		User:      user,
		Deposit:   &p,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func NewOrderMessage(user string, p OrderPayload) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Kind:      MessageOrder,
		User:      user,
		Order:     &p,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func NewCancelMessage(user, orderID string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Kind:      MessageCancel,
		User:      user,
		Cancel:    &CancelPayload{OrderID: orderID},
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func NewWithdrawMessage(user string, p WithdrawPayload) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Kind:      MessageWithdraw,
		User:      user,
		Withdraw:  &p,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Accept marks the message accepted and stamps the processing time.
func (m *Message) Accept() {
	now := time.Now().UTC()
	m.Status = StatusAccepted
	m.ProcessedAt = &now
}

// Reject marks the message rejected with a reason.
func (m *Message) Reject(reason string) {
	now := time.Now().UTC()
	m.Status = StatusRejected
	m.RejectionReason = reason
	m.ProcessedAt = &now
}

// Clone returns a copy safe to hand to concurrent readers. Payload pointers
// are duplicated; payloads themselves are never mutated after creation.
func (m *Message) Clone() *Message {
	c := *m
	if m.Deposit != nil {
		d := *m.Deposit
		c.Deposit = &d
	}
	if m.Order != nil {
		o := *m.Order
		c.Order = &o
	}
	if m.Cancel != nil {
		cc := *m.Cancel
		c.Cancel = &cc
	}
	if m.Withdraw != nil {
		w := *m.Withdraw
		c.Withdraw = &w
	}
	if m.ProcessedAt != nil {
		t := *m.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// ActionKind classifies outbound chain submissions.
type ActionKind string

const (
	ActionWithdrawal ActionKind = "withdrawal"
	ActionSettlement ActionKind = "settlement"
)

// WithdrawalAction pays out available funds to a user on-chain.
type WithdrawalAction struct {
	User   string
	Asset  string
	Amount string
}

// SettlementAction transfers trade proceeds between two users on-chain.
type SettlementAction struct {
	TradeID string
	Buyer   string
	Seller  string
	AmountA string
	AmountB string
}

// Action is an outbound work item submitted by the action handler.
type Action struct {
	ID         string
	Kind       ActionKind
	Withdrawal *WithdrawalAction
	Settlement *SettlementAction
	Status     Status
	TxHash     string
	CreatedAt  time.Time
}

func NewWithdrawalAction(user, asset, amount string) *Action {
	return &Action{
		ID:         uuid.NewString(),
		Kind:       ActionWithdrawal,
		Withdrawal: &WithdrawalAction{User: user, Asset: asset, Amount: amount},
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

func NewSettlementAction(tradeID, buyer, seller, amountA, amountB string) *Action {
	return &Action{
		ID:   uuid.NewString(),
		Kind: ActionSettlement,
		Settlement: &SettlementAction{
			TradeID: tradeID,
			Buyer:   buyer,
			Seller:  seller,
			AmountA: amountA,
			AmountB: amountB,
		},
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}
