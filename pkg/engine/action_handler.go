package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumendark/lumendark/pkg/core"
	"github.com/lumendark/lumendark/pkg/queue"
)

// DefaultSubmitTimeout bounds a single chain submission end to end.
const DefaultSubmitTimeout = 60 * time.Second

// ActionHandler is the single-writer submit loop. It drains the action
// queue serially and submits each action with the current nonce. The nonce
// advances only on success: the contract enforces strict sequencing, so a
// failed submission never consumed the nonce on-chain and the next action
// reuses it.
type ActionHandler struct {
	actions       *queue.Queue[*core.Action]
	submitter     TxSubmitter
	nonce         uint64
	submitTimeout time.Duration
	log           *zap.SugaredLogger
}

func NewActionHandler(actions *queue.Queue[*core.Action], submitter TxSubmitter, initialNonce uint64, log *zap.SugaredLogger) *ActionHandler {
	return &ActionHandler{
		actions:       actions,
		submitter:     submitter,
		nonce:         initialNonce,
		submitTimeout: DefaultSubmitTimeout,
		log:           log,
	}
}

// SetSubmitTimeout overrides the per-submission timeout. Call before Run.
func (h *ActionHandler) SetSubmitTimeout(d time.Duration) {
	h.submitTimeout = d
}

// Nonce is the next nonce to be used. Only meaningful between submissions.
func (h *ActionHandler) Nonce() uint64 {
	return h.nonce
}

// Run drains the action queue until ctx is cancelled. Loop cancellation is
// observed between actions; an in-flight submission runs under its own
// timeout context, so a shutdown mid-RPC either completes (nonce advances)
// or fails (nonce untouched) — never half of each.
func (h *ActionHandler) Run(ctx context.Context) {
	h.log.Info("action handler started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("action handler stopped")
			return
		default:
		}
		action, ok := h.actions.Pop(ctx, popTimeout)
		if !ok {
			continue
		}
		h.process(action)
	}
}

// process submits one action. One attempt per action: a failure marks the
// action rejected and the next action reuses the nonce.
func (h *ActionHandler) process(action *core.Action) {
	ctx, cancel := context.WithTimeout(context.Background(), h.submitTimeout)
	defer cancel()

	nonce := h.nonce
	var txHash string
	var err error

	switch action.Kind {
	case core.ActionWithdrawal:
		w := action.Withdrawal
		txHash, err = h.submitter.SubmitWithdrawal(ctx, nonce, w.User, w.Asset, w.Amount)
	case core.ActionSettlement:
		s := action.Settlement
		txHash, err = h.submitter.SubmitSettlement(ctx, nonce, s.Buyer, s.Seller, s.AmountA, s.AmountB)
	default:
		err = fmt.Errorf("unknown action kind: %s", action.Kind)
	}

	if err != nil {
		action.Status = core.StatusRejected
		h.log.Errorw("submission failed", "action_id", action.ID, "kind", action.Kind, "nonce", nonce, "err", err)
		return
	}

	h.nonce++
	action.Status = core.StatusAccepted
	action.TxHash = txHash
	h.log.Infow("transaction submitted", "action_id", action.ID, "kind", action.Kind,
		"tx_hash", txHash, "nonce", nonce, "next_nonce", h.nonce)
}
