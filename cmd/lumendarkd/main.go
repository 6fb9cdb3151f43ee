package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/lumendark/lumendark/params"
	"github.com/lumendark/lumendark/pkg/api"
	"github.com/lumendark/lumendark/pkg/chain"
	"github.com/lumendark/lumendark/pkg/chain/soroban"
	"github.com/lumendark/lumendark/pkg/core"
	"github.com/lumendark/lumendark/pkg/core/book"
	"github.com/lumendark/lumendark/pkg/core/ledger"
	"github.com/lumendark/lumendark/pkg/engine"
	"github.com/lumendark/lumendark/pkg/queue"
	"github.com/lumendark/lumendark/pkg/store"
	"github.com/lumendark/lumendark/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := newLogger(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// Shared state and the two queues between the loops.
	userLedger := ledger.New()
	orderBook := book.New()
	messageStore := store.NewMessageStore()
	messageQueue := queue.New[*core.Message](queue.DefaultCapacity)
	actionQueue := queue.New[*core.Action](queue.DefaultCapacity)

	sorobanClient := soroban.NewClient(cfg.Chain.RPCURL, cfg.Chain.ContractID, sugar)

	var submitter engine.TxSubmitter
	if cfg.Chain.AdminSecretKey != "" {
		real, err := soroban.NewSubmitter(sorobanClient, cfg.Chain.AdminSecretKey, cfg.Chain.ContractID, cfg.Chain.NetworkPassphrase, sugar)
		if err != nil {
			sugar.Fatalw("submitter init failed", "err", err)
		}
		submitter = real
		sugar.Infow("using soroban submitter", "admin", real.AdminAddress(), "contract", cfg.Chain.ContractID)
	} else {
		submitter = engine.NewMockSubmitter(sugar)
		sugar.Warn("no ADMIN_SECRET_KEY provided, using mock submitter")
	}

	messageHandler := engine.NewMessageHandler(messageQueue, actionQueue, userLedger, orderBook, messageStore, sugar)
	actionHandler := engine.NewActionHandler(actionQueue, submitter, cfg.Chain.InitialNonce, sugar)
	actionHandler.SetSubmitTimeout(cfg.Chain.SubmitTimeout)

	onDeposit := func(msg *core.Message) {
		messageStore.Add(msg)
		if err := messageQueue.Push(msg); err != nil {
			sugar.Errorw("message queue full, deposit dropped", "message_id", msg.ID, "err", err)
		}
	}
	listener := chain.NewDepositListener(sorobanClient, onDeposit, cfg.Chain.PollInterval, cfg.Chain.StartLedger, sugar)

	server := api.NewServer(userLedger, messageStore, messageQueue, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); messageHandler.Run(ctx) }()
	go func() { defer wg.Done(); actionHandler.Run(ctx) }()
	go func() { defer wg.Done(); listener.Run(ctx) }()

	sugar.Infow("lumendark started", "contract", cfg.Chain.ContractID, "listen", cfg.API.Listen)

	if err := server.Start(ctx, cfg.API.Listen); err != nil {
		sugar.Errorw("api server error", "err", err)
	}

	stop()
	wg.Wait()
	sugar.Info("lumendark stopped")
}

func newLogger(logFile string) (*zap.Logger, error) {
	if logFile != "" {
		return util.NewLoggerWithFile(logFile)
	}
	return util.NewLogger()
}
