// Package api serves the HTTP surface of the pool. The book itself is never
// exposed. Order, cancel, withdrawal and websocket routes require a signed
// request; balance lookups by address and message status lookups by id are
// served without authentication.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumendark/lumendark/pkg/core"
	"github.com/lumendark/lumendark/pkg/core/ledger"
	"github.com/lumendark/lumendark/pkg/queue"
	"github.com/lumendark/lumendark/pkg/store"
)

// Server handles REST requests and the websocket status stream.
type Server struct {
	router   *mux.Router
	ledger   *ledger.Ledger
	store    *store.MessageStore
	messages *queue.Queue[*core.Message]
	hub      *Hub
	log      *zap.SugaredLogger
	now      func() time.Time

	httpServer *http.Server
}

func NewServer(l *ledger.Ledger, s *store.MessageStore, messages *queue.Queue[*core.Message], log *zap.SugaredLogger) *Server {
	srv := &Server{
		router:   mux.NewRouter(),
		ledger:   l,
		store:    s,
		messages: messages,
		hub:      NewHub(log),
		log:      log,
		now:      time.Now,
	}
	srv.setupRoutes()
	// Every published status snapshot reaches the owner's websocket.
	s.Subscribe(srv.hub.Notify)
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/orders", s.requireAuth(s.handleSubmitOrder)).Methods("POST")
	s.router.HandleFunc("/orders/cancel", s.requireAuth(s.handleCancelOrder)).Methods("POST")
	s.router.HandleFunc("/withdrawals", s.requireAuth(s.handleWithdraw)).Methods("POST")
	s.router.HandleFunc("/messages/balances/{address}", s.handleGetBalances).Methods("GET")
	s.router.HandleFunc("/messages/{id}", s.handleGetMessage).Methods("GET")
	s.router.HandleFunc("/ws", s.requireAuth(s.handleWebSocket))
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves until ctx is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", headerAddress, headerSignature, headerTimestamp},
	})
	s.httpServer = &http.Server{Addr: addr, Handler: c.Handler(s.router)}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type authedHandler func(w http.ResponseWriter, r *http.Request, address string)

// requireAuth verifies the request signature before invoking the handler.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, err := authenticate(r, s.now)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next(w, r, address)
	}
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request, address string) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "validation", "invalid request body")
		return
	}
	if _, err := core.ParseSide(req.Side); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}
	if !validPositiveDecimal(req.Price) || !validPositiveDecimal(req.Quantity) {
		respondError(w, http.StatusUnprocessableEntity, "validation", "price and quantity must be positive decimals")
		return
	}

	msg := core.NewOrderMessage(address, core.OrderPayload{
		Side:     req.Side,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	s.enqueue(w, msg)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request, address string) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		respondError(w, http.StatusUnprocessableEntity, "validation", "order_id is required")
		return
	}
	s.enqueue(w, core.NewCancelMessage(address, req.OrderID))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, address string) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "validation", "invalid request body")
		return
	}
	if _, err := core.ParseAsset(req.Asset); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}
	if !validPositiveDecimal(req.Amount) {
		respondError(w, http.StatusUnprocessableEntity, "validation", "amount must be a positive decimal")
		return
	}

	msg := core.NewWithdrawMessage(address, core.WithdrawPayload{
		Asset:  req.Asset,
		Amount: req.Amount,
	})
	s.enqueue(w, msg)
}

// enqueue records the pending message and hands it to the engine. The
// store insert happens before the push so a poller can never miss the id.
func (s *Server) enqueue(w http.ResponseWriter, msg *core.Message) {
	s.store.Add(msg)
	if err := s.messages.Push(msg); err != nil {
		respondError(w, http.StatusServiceUnavailable, "overloaded", "message queue full")
		return
	}
	respondJSON(w, EnqueueResponse{MessageID: msg.ID})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, ok := s.store.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "not found", "message not found")
		return
	}
	respondJSON(w, messageStatus(msg))
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	balances := s.ledger.Balances(address)
	respondJSON(w, BalancesResponse{
		Address: address,
		AssetA:  assetBalance(balances.A),
		AssetB:  assetBalance(balances.B),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, address string) {
	s.hub.Serve(w, r, address)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthResponse{Status: "healthy"})
}

func validPositiveDecimal(s string) bool {
	d, err := decimal.NewFromString(s)
	return err == nil && d.IsPositive()
}

func assetBalance(b ledger.Balance) AssetBalance {
	return AssetBalance{
		Available: b.Available.String(),
		Liability: b.Liability.String(),
		Total:     b.Total().String(),
	}
}

func messageStatus(m core.Message) MessageStatusResponse {
	resp := MessageStatusResponse{
		ID:              m.ID,
		Kind:            string(m.Kind),
		Status:          string(m.Status),
		RejectionReason: m.RejectionReason,
		OrderID:         m.OrderID,
		TradesCount:     m.TradesCount,
		CreatedAt:       m.CreatedAt.Format(time.RFC3339Nano),
	}
	if m.ProcessedAt != nil {
		resp.ProcessedAt = m.ProcessedAt.Format(time.RFC3339Nano)
	}
	return resp
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errCode, Message: message})
}
