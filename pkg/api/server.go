package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperfill/pkg/app/core/market"
	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperfill/pkg/app/spot"
	"github.com/uhyunpark/hyperfill/pkg/settlement"
	"github.com/uhyunpark/hyperfill/pkg/storage"
)

const maxBodyBytes = 1 << 20

type Options struct {
	CORSOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *spot.App
	router  *mux.Router
	hub     *Hub
	opts    Options
	logger  *zap.Logger
	httpSrv *http.Server
}

func NewServer(app *spot.App, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		opts:   opts,
		logger: logger,
	}
	s.setupRoutes()

	app.OnTrade(s.broadcastTrade)
	app.OnSettlement(func(r *settlement.Result) {
		s.hub.BroadcastToChannel("settlements", SettlementUpdate{Type: "settlement", Result: r})
	})
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Markets
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/markets/{symbol}/best", s.handleGetBest).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{symbol}/tape", s.handleDumpTape).Methods("GET", "DELETE")

	// Orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/modify", s.handleModifyOrder).Methods("POST")

	// Settlement
	api.HandleFunc("/markets/{symbol}/trades/{seq}/signing-payload", s.handleSigningPayload).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades/{seq}/settle", s.handleSettle).Methods("POST")
	api.HandleFunc("/markets/{symbol}/trades/{seq}/attempts", s.handleAttempts).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades/{seq}/onchain", s.handleOnChainStatus).Methods("GET")
	api.HandleFunc("/settlement/stranded", s.handleListStranded).Methods("GET")
	api.HandleFunc("/settlement/stranded/{attempt}/resolve", s.handleResolveStranded).Methods("POST")

	// Accounts
	api.HandleFunc("/accounts/{account}/locked", s.handleLockedFunds).Methods("GET")
	api.HandleFunc("/escrow/{network}/{account}", s.handleEscrowBalance).Methods("GET")

	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods("GET")
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api_server_starting", zap.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ==============================
// Market Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.app.Markets()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		bids, asks := m.Book.Len()
		response[i] = MarketInfo{
			Symbol:     m.Symbol,
			BaseAsset:  m.BaseAsset,
			QuoteAsset: m.QuoteAsset,
			Status:     m.Status.String(),
			Bids:       bids,
			Asks:       asks,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Snapshot(mux.Vars(r)["symbol"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	side, err := orderbook.ParseSide(r.URL.Query().Get("side"))
	if err != nil {
		respondErr(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	levels, err := s.app.Depth(symbol, side, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, DepthResponse{Symbol: strings.ToUpper(symbol), Side: side, Levels: levels})
}

func (s *Server) handleGetBest(w http.ResponseWriter, r *http.Request) {
	q, err := s.app.Best(mux.Vars(r)["symbol"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, q)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, ok, err := s.app.Order(vars["symbol"], id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", vars["id"])
		return
	}
	respondJSON(w, o)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	trades, err := s.app.Trades(mux.Vars(r)["symbol"], limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, trades)
}

// handleDumpTape writes the tape as text; DELETE also wipes it.
func (s *Server) handleDumpTape(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.app.DumpTape(mux.Vars(r)["symbol"], w, r.Method == http.MethodDelete); err != nil {
		respondErr(w, err)
	}
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Symbol == "" {
		respondError(w, http.StatusBadRequest, "missing symbol", "")
		return
	}
	res, err := s.app.SubmitOrder(r.Context(), req.Symbol, req.Intent())
	if err != nil {
		respondErr(w, err)
		return
	}
	trades := res.Trades
	if trades == nil {
		trades = []orderbook.Trade{}
	}
	respondJSON(w, SubmitOrderResponse{
		Task:     res.Task.String(),
		TaskCode: int(res.Task),
		Trades:   trades,
		Resting:  res.Resting,
		NextBest: res.NextBest,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, ok, err := s.app.Cancel(req.Symbol, req.Side, req.OrderID)
	if err != nil {
		respondErr(w, err)
		return
	}
	resp := CancelOrderResponse{Cancelled: ok}
	if ok {
		resp.Order = &o
		s.broadcastBook(o.BaseAsset + "_" + o.QuoteAsset)
	}
	respondJSON(w, resp)
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req ModifyOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var mod orderbook.Modification
	if req.Price != nil {
		mod.Price = *req.Price
	}
	if req.Quantity != nil {
		mod.Quantity = *req.Quantity
	}
	o, err := s.app.Modify(req.Symbol, req.Side, req.OrderID, mod)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.broadcastBook(o.BaseAsset + "_" + o.QuoteAsset)
	respondJSON(w, o)
}

// ==============================
// Settlement Handlers
// ==============================

func tradeVars(r *http.Request) (string, uint64, error) {
	vars := mux.Vars(r)
	seq, err := strconv.ParseUint(vars["seq"], 10, 64)
	return vars["symbol"], seq, err
}

func (s *Server) handleSigningPayload(w http.ResponseWriter, r *http.Request) {
	symbol, seq, err := tradeVars(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid trade sequence", err.Error())
		return
	}
	p, err := s.app.SigningPayload(r.Context(), symbol, seq)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, p)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	symbol, seq, err := tradeVars(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid trade sequence", err.Error())
		return
	}
	var req SettleRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	res, err := s.app.SettleTrade(r.Context(), symbol, seq, req.Party1, req.Party2)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, res)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	symbol, seq, err := tradeVars(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid trade sequence", err.Error())
		return
	}
	attempts, err := s.app.Attempts(symbol, seq)
	if err != nil {
		respondErr(w, err)
		return
	}
	if attempts == nil {
		attempts = []*settlement.Result{}
	}
	respondJSON(w, attempts)
}

func (s *Server) handleOnChainStatus(w http.ResponseWriter, r *http.Request) {
	symbol, seq, err := tradeVars(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid trade sequence", err.Error())
		return
	}
	st, err := s.app.SettlementStatus(r.Context(), symbol, seq)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, OnChainStatus{
		TradeRef:    st.TradeRef,
		Source:      st.Source,
		Destination: st.Destination,
	})
}

func (s *Server) handleListStranded(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.Stranded()
	if err != nil {
		respondErr(w, err)
		return
	}
	if list == nil {
		list = []*settlement.Result{}
	}
	respondJSON(w, list)
}

func (s *Server) handleResolveStranded(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		respondError(w, http.StatusBadRequest, "missing note", "describe how the stranded leg was handled")
		return
	}
	res, err := s.app.ResolveStranded(mux.Vars(r)["attempt"], req.Note)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, res)
}

// ==============================
// Account Handlers
// ==============================

func (s *Server) handleLockedFunds(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		respondError(w, http.StatusBadRequest, "missing asset", "")
		return
	}
	respondJSON(w, LockedFundsResponse{
		Account: account,
		Asset:   strings.ToUpper(asset),
		Locked:  s.app.LockedFunds(account, asset),
	})
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		respondError(w, http.StatusBadRequest, "missing asset", "")
		return
	}
	b, err := s.app.EscrowBalance(r.Context(), vars["network"], vars["account"], asset)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, EscrowBalanceResponse{
		Network:   vars["network"],
		Account:   vars["account"],
		Asset:     asset,
		Total:     b.Total.String(),
		Available: b.Available.String(),
		Locked:    b.Locked.String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

func (s *Server) broadcastTrade(tr orderbook.Trade) {
	s.hub.BroadcastToChannel("trades:"+tr.Symbol, TradeUpdate{Type: "trade", Trade: tr})
	s.broadcastBook(tr.Symbol)
}

func (s *Server) broadcastBook(symbol string) {
	bids, err := s.app.Depth(symbol, orderbook.Bid, 50)
	if err != nil {
		return
	}
	asks, _ := s.app.Depth(symbol, orderbook.Ask, 50)
	s.hub.BroadcastToChannel("orderbook:"+symbol, OrderbookUpdate{
		Type:      "orderbook",
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orderbook.ErrOrderNotFound),
		errors.Is(err, market.ErrNotFound),
		errors.Is(err, spot.ErrTradeNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orderbook.ErrValidation),
		errors.Is(err, orderbook.ErrPolicy),
		errors.Is(err, market.ErrInvalidSymbol),
		errors.Is(err, settlement.ErrSignature):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrChain):
		return http.StatusBadGateway
	case errors.Is(err, spot.ErrSettlementDisabled),
		errors.Is(err, market.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	respondError(w, status, strings.ToLower(http.StatusText(status)), err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
