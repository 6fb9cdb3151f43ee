// Package chain defines the inbound deposit-event capability the core
// consumes from the blockchain, plus the poll loop that drives it. The
// outbound transaction submitter interface is engine.TxSubmitter.
package chain

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lumendark/lumendark/pkg/core"
)

// Deposit is a decoded escrow deposit event.
type Deposit struct {
	EventID string
	User    string
	Asset   string
	Amount  string
	Ledger  uint32
	TxHash  string
}

// EventSource reads deposit events from the chain. Implementations decode
// raw contract events and skip anything that is not a deposit.
type EventSource interface {
	LatestLedger(ctx context.Context) (uint32, error)
	DepositEvents(ctx context.Context, startLedger uint32, limit int) ([]Deposit, error)
}

const (
	eventFetchLimit = 100
	// Seen-set bound; pruned to the newest half when exceeded.
	maxSeenEvents = 10000
)

// DepositListener polls the event source on an interval and forwards each
// new deposit as a message via the configured callback. The callback must
// record the message in the store and enqueue it.
type DepositListener struct {
	source       EventSource
	onDeposit    func(*core.Message)
	pollInterval time.Duration
	startLedger  uint32

	currentLedger uint32
	seen          map[string]struct{}
	log           *zap.SugaredLogger
}

// NewDepositListener creates a listener. startLedger 0 means start from the
// latest ledger at the time Run begins.
func NewDepositListener(source EventSource, onDeposit func(*core.Message), pollInterval time.Duration, startLedger uint32, log *zap.SugaredLogger) *DepositListener {
	return &DepositListener{
		source:       source,
		onDeposit:    onDeposit,
		pollInterval: pollInterval,
		startLedger:  startLedger,
		seen:         make(map[string]struct{}),
		log:          log,
	}
}

// CurrentLedger is the poll cursor. Read it only from the listener's own
// goroutine or after Run has returned.
func (l *DepositListener) CurrentLedger() uint32 {
	return l.currentLedger
}

// Run polls until ctx is cancelled. Poll errors are logged and retried at
// the next tick.
func (l *DepositListener) Run(ctx context.Context) {
	if l.startLedger > 0 {
		l.currentLedger = l.startLedger
	} else if latest, err := l.source.LatestLedger(ctx); err == nil {
		l.currentLedger = latest
	} else {
		l.log.Warnw("failed to fetch latest ledger, starting from 0", "err", err)
	}
	l.log.Infow("deposit listener started", "start_ledger", l.currentLedger)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("deposit listener stopped")
			return
		case <-ticker.C:
			if err := l.poll(ctx); err != nil {
				l.log.Errorw("event poll failed", "err", err)
			}
		}
	}
}

func (l *DepositListener) poll(ctx context.Context) error {
	deposits, err := l.source.DepositEvents(ctx, l.currentLedger, eventFetchLimit)
	if err != nil {
		return err
	}

	for _, d := range deposits {
		if _, dup := l.seen[d.EventID]; dup {
			continue
		}

		msg := core.NewDepositMessage(d.User, core.DepositPayload{
			Asset:  d.Asset,
			Amount: d.Amount,
			Ledger: d.Ledger,
			TxHash: d.TxHash,
		})
		l.log.Infow("deposit event", "user", d.User, "asset", d.Asset, "amount", d.Amount, "ledger", d.Ledger)
		l.onDeposit(msg)

		l.seen[d.EventID] = struct{}{}
		if d.Ledger >= l.currentLedger {
			l.currentLedger = d.Ledger + 1
		}
	}

	// Keep the cursor moving through empty ledgers.
	if latest, err := l.source.LatestLedger(ctx); err == nil && latest > l.currentLedger {
		l.currentLedger = latest
	}

	l.pruneSeen()
	return nil
}

// pruneSeen drops the oldest half of the seen-set once it exceeds the
// bound. Event ids sort chronologically, so lexicographic order suffices.
func (l *DepositListener) pruneSeen() {
	if len(l.seen) <= maxSeenEvents {
		return
	}
	ids := make([]string, 0, len(l.seen))
	for id := range l.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	keep := ids[len(ids)/2:]
	l.seen = make(map[string]struct{}, len(keep))
	for _, id := range keep {
		l.seen[id] = struct{}{}
	}
}
