package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// TxSubmitter submits custodial transfers to the escrow contract. The
// contract enforces strictly sequential nonces; both calls may take tens
// of seconds while the chain confirms.
type TxSubmitter interface {
	SubmitWithdrawal(ctx context.Context, nonce uint64, user, asset, amount string) (string, error)
	SubmitSettlement(ctx context.Context, nonce uint64, buyer, seller, amountA, amountB string) (string, error)
}

// MockSubmitter returns fabricated tx hashes without touching the chain.
// Selected when no admin key is configured.
type MockSubmitter struct {
	mu      sync.Mutex
	txCount int
	log     *zap.SugaredLogger
}

func NewMockSubmitter(log *zap.SugaredLogger) *MockSubmitter {
	return &MockSubmitter{log: log}
}

func (m *MockSubmitter) SubmitWithdrawal(_ context.Context, nonce uint64, user, asset, amount string) (string, error) {
	m.mu.Lock()
	m.txCount++
	hash := fmt.Sprintf("mock_withdraw_tx_%d", m.txCount)
	m.mu.Unlock()
	if m.log != nil {
		m.log.Infow("mock_withdrawal", "nonce", nonce, "user", user, "asset", asset, "amount", amount, "tx_hash", hash)
	}
	return hash, nil
}

func (m *MockSubmitter) SubmitSettlement(_ context.Context, nonce uint64, buyer, seller, amountA, amountB string) (string, error) {
	m.mu.Lock()
	m.txCount++
	hash := fmt.Sprintf("mock_settle_tx_%d", m.txCount)
	m.mu.Unlock()
	if m.log != nil {
		m.log.Infow("mock_settlement", "nonce", nonce, "buyer", buyer, "seller", seller,
			"amount_a", amountA, "amount_b", amountB, "tx_hash", hash)
	}
	return hash, nil
}
