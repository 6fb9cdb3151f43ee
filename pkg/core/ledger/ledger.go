// Package ledger tracks per-user balances for the two escrowed assets.
//
// Each balance is split into available (spendable on new orders or
// withdrawals) and liability (reserved for resting orders). The sum
// available+liability per asset across all users mirrors the on-chain
// escrow balance whenever no withdrawal or settlement is in flight.
package ledger

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lumendark/lumendark/pkg/core"
)

// Balance is a snapshot of one asset's balance for one user.
type Balance struct {
	Available decimal.Decimal
	Liability decimal.Decimal
}

// Total is available plus liability.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Liability)
}

// UserBalances is a snapshot of both assets for one user.
type UserBalances struct {
	A Balance
	B Balance
}

type account struct {
	a Balance
	b Balance
}

func (acc *account) balance(asset core.Asset) *Balance {
	if asset == core.AssetA {
		return &acc.a
	}
	return &acc.b
}

// Ledger is the single source of truth for off-chain balances. The engine
// loop is the only writer; HTTP handlers read snapshots concurrently.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

func New() *Ledger {
	return &Ledger{accounts: make(map[string]*account)}
}

// Exists reports whether the user has ever deposited or been credited.
func (l *Ledger) Exists(user string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[user]
	return ok
}

func (l *Ledger) getOrCreate(user string) *account {
	acc, ok := l.accounts[user]
	if !ok {
		acc = &account{}
		l.accounts[user] = acc
	}
	return acc
}

// Deposit adds amount to the user's available balance, creating the
// account on first deposit.
func (l *Ledger) Deposit(user string, asset core.Asset, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.getOrCreate(user).balance(asset)
	bal.Available = bal.Available.Add(amount)
}

// CanAllocate reports whether available covers amount.
func (l *Ledger) CanAllocate(user string, asset core.Asset, amount decimal.Decimal) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[user]
	if !ok {
		return false
	}
	return acc.balance(asset).Available.GreaterThanOrEqual(amount)
}

// Allocate moves amount from available to liability, reserving it for a
// resting order. The ledger is unchanged on error.
func (l *Ledger) Allocate(user string, asset core.Asset, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[user]
	if !ok {
		return core.ErrUserNotFound
	}
	bal := acc.balance(asset)
	if bal.Available.LessThan(amount) {
		return &core.InsufficientBalanceError{Have: bal.Available, Need: amount}
	}
	bal.Available = bal.Available.Sub(amount)
	bal.Liability = bal.Liability.Add(amount)
	return nil
}

// Release moves amount from liability back to available, undoing an
// allocation when an order is cancelled.
func (l *Ledger) Release(user string, asset core.Asset, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[user]
	if !ok {
		return core.ErrUserNotFound
	}
	bal := acc.balance(asset)
	if bal.Liability.LessThan(amount) {
		return &core.InsufficientLiabilityError{Have: bal.Liability, Need: amount}
	}
	bal.Liability = bal.Liability.Sub(amount)
	bal.Available = bal.Available.Add(amount)
	return nil
}

// ConsumeLiability decrements liability without returning it to available.
// Used when reserved funds leave via a trade settlement.
func (l *Ledger) ConsumeLiability(user string, asset core.Asset, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[user]
	if !ok {
		return core.ErrUserNotFound
	}
	bal := acc.balance(asset)
	if bal.Liability.LessThan(amount) {
		return &core.InsufficientLiabilityError{Have: bal.Liability, Need: amount}
	}
	bal.Liability = bal.Liability.Sub(amount)
	return nil
}

// Credit adds trade proceeds to available, creating the account if the
// counterparty has never deposited this asset.
func (l *Ledger) Credit(user string, asset core.Asset, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.getOrCreate(user).balance(asset)
	bal.Available = bal.Available.Add(amount)
}

// CanWithdraw reports whether available covers amount.
func (l *Ledger) CanWithdraw(user string, asset core.Asset, amount decimal.Decimal) bool {
	return l.CanAllocate(user, asset, amount)
}

// Withdraw subtracts amount from available. The ledger is unchanged on error.
func (l *Ledger) Withdraw(user string, asset core.Asset, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[user]
	if !ok {
		return core.ErrUserNotFound
	}
	bal := acc.balance(asset)
	if bal.Available.LessThan(amount) {
		return &core.InsufficientBalanceError{Have: bal.Available, Need: amount}
	}
	bal.Available = bal.Available.Sub(amount)
	return nil
}

// Available returns the user's available balance, zero for unknown users.
func (l *Ledger) Available(user string, asset core.Asset) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[user]
	if !ok {
		return decimal.Zero
	}
	return acc.balance(asset).Available
}

// Liability returns the user's liability balance, zero for unknown users.
func (l *Ledger) Liability(user string, asset core.Asset) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[user]
	if !ok {
		return decimal.Zero
	}
	return acc.balance(asset).Liability
}

// Total returns available+liability for the user, zero for unknown users.
func (l *Ledger) Total(user string, asset core.Asset) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[user]
	if !ok {
		return decimal.Zero
	}
	return acc.balance(asset).Total()
}

// Balances returns a consistent snapshot of both assets for one user.
func (l *Ledger) Balances(user string) UserBalances {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[user]
	if !ok {
		return UserBalances{}
	}
	return UserBalances{A: acc.a, B: acc.b}
}

// AssetTotal sums available+liability over all users for one asset.
func (l *Ledger) AssetTotal(asset core.Asset) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, acc := range l.accounts {
		total = total.Add(acc.balance(asset).Total())
	}
	return total
}
