// Package api exposes the engine over REST and streams its events over
// WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/app/core/engine"
	"github.com/uhyunpark/stockex/pkg/app/core/errs"
	"github.com/uhyunpark/stockex/pkg/app/core/ledger"
	"github.com/uhyunpark/stockex/pkg/app/core/market"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
	"github.com/uhyunpark/stockex/pkg/app/core/orderbook"
)

const (
	defaultDepth  = 20
	defaultTrades = 50

	// submitTimeout bounds the wait for a busy instrument
	submitTimeout = 5 * time.Second
)

type Config struct {
	AllowedOrigins []string

	// TickSize is the currency value of one price tick, e.g. 0.01
	TickSize decimal.Decimal
}

// Server handles REST API and WebSocket connections
type Server struct {
	cfg      Config
	engine   *engine.Engine
	router   *mux.Router
	hub      *Hub
	gatherer prometheus.Gatherer
	log      *zap.Logger
	http     *http.Server
}

// NewServer creates a new API server. gatherer may be nil to disable /metrics.
func NewServer(cfg Config, eng *engine.Engine, hub *Hub, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TickSize.Sign() <= 0 {
		cfg.TickSize = decimal.New(1, -2)
	}
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		router:   mux.NewRouter(),
		hub:      hub,
		gatherer: gatherer,
		log:      log.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Instrument endpoints
	api.HandleFunc("/instruments", s.handleGetInstruments).Methods("GET")
	api.HandleFunc("/instruments/{id}", s.handleGetInstrument).Methods("GET")
	api.HandleFunc("/instruments/{id}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/instruments/{id}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/instruments/{id}/issue", s.handleIssue).Methods("POST")
	api.HandleFunc("/instruments/{id}/lock", s.handleLock(s.engine.Lock)).Methods("POST")
	api.HandleFunc("/instruments/{id}/unlock", s.handleLock(s.engine.Unlock)).Methods("POST")

	// Account endpoints
	api.HandleFunc("/accounts/{owner}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{owner}/orders", s.handleGetOpenOrders).Methods("GET")
	api.HandleFunc("/accounts/{owner}/deposit", s.handleDeposit).Methods("POST")

	// Orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.handleWebSocket)
	}
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown; it returns nil after a clean shutdown
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("server_starting", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetInstruments(w http.ResponseWriter, r *http.Request) {
	instruments := s.engine.Registry().List()
	response := make([]InstrumentInfo, len(instruments))
	for i, inst := range instruments {
		response[i] = s.instrumentInfo(inst.Snapshot())
	}
	respondJSON(w, response)
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.Registry().Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, s.instrumentInfo(inst.Snapshot()))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	depth, err := s.engine.Depth(mux.Vars(r)["id"], queryInt(r, "depth", defaultDepth))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, BookSnapshot{
		InstrumentID: depth.InstrumentID,
		Bids:         s.levels(depth.Bids),
		Asks:         s.levels(depth.Asks),
		Timestamp:    time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.engine.Trades(mux.Vars(r)["id"], queryInt(r, "limit", defaultTrades))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, s.tradeInfos(trades))
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["id"]
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	cost, err := s.toTicks("cost", req.Cost)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	if err := s.engine.Issue(ctx, req.Owner, instrument, req.Quantity, cost); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, s.positionInfo(s.engine.Ledger().Position(req.Owner, instrument)))
}

// handleLock serves lock and unlock, which differ only in the engine call
func (s *Server) handleLock(apply func(ctx context.Context, instrument string, n int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instrument := mux.Vars(r)["id"]
		var req LockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
		defer cancel()
		if err := apply(ctx, instrument, req.Shares); err != nil {
			s.respondErr(w, err)
			return
		}
		inst, err := s.engine.Registry().Get(instrument)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		respondJSON(w, s.instrumentInfo(inst.Snapshot()))
	}
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	led := s.engine.Ledger()
	acc := led.Account(owner)

	positions := make([]PositionInfo, 0)
	for _, p := range led.Positions(owner) {
		positions = append(positions, s.positionInfo(p))
	}
	respondJSON(w, AccountInfo{
		Owner:     owner,
		Available: s.fromTicks(acc.Available),
		Reserved:  s.fromTicks(acc.Reserved),
		Total:     s.fromTicks(acc.Total()),
		Positions: positions,
	})
}

func (s *Server) handleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.OpenOrders(mux.Vars(r)["owner"])
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = s.orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, err := s.toTicks("amount", req.Amount)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.engine.Ledger().Deposit(owner, amount); err != nil {
		s.respondErr(w, err)
		return
	}
	s.log.Info("deposit", zap.String("owner", owner), zap.Int64("amount", amount))

	acc := s.engine.Ledger().Account(owner)
	respondJSON(w, AccountInfo{
		Owner:     owner,
		Available: s.fromTicks(acc.Available),
		Reserved:  s.fromTicks(acc.Reserved),
		Total:     s.fromTicks(acc.Total()),
		Positions: []PositionInfo{},
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, err := order.ParseSide(req.Side)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	kind, err := order.ParseKind(req.Type)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	price, err := s.toTicks("price", req.Price)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	res, err := s.engine.Submit(ctx, engine.SubmitRequest{
		InstrumentID: req.InstrumentID,
		OwnerID:      req.Owner,
		Side:         side,
		Kind:         kind,
		LimitPrice:   price,
		Quantity:     req.Size,
	})
	if err != nil {
		if res == nil {
			s.respondErr(w, err)
			return
		}
		status := s.logErr(err)
		respondJSONStatus(w, status, SubmitErrorResponse{
			ErrorResponse: ErrorResponse{Error: errs.KindOf(err).String(), Message: err.Error()},
			Order:         s.orderInfo(res.Order),
			Trades:        s.tradeInfos(res.Trades),
		})
		return
	}
	respondJSON(w, SubmitOrderResponse{
		Order:  s.orderInfo(res.Order),
		Trades: s.tradeInfos(res.Trades),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "missing orderId", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	o, err := s.engine.Cancel(ctx, req.OrderID, req.Owner)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, s.orderInfo(o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Order(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, s.orderInfo(o))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Conversions
// ==============================

// toTicks converts a currency amount to whole ticks. Amounts that are not a
// multiple of the tick size are rejected, never rounded.
func (s *Server) toTicks(field string, v decimal.Decimal) (int64, error) {
	ticks := v.Div(s.cfg.TickSize)
	if !ticks.IsInteger() {
		return 0, errs.New(errs.Validation, "api", "%s %s is not a multiple of tick %s", field, v, s.cfg.TickSize)
	}
	if ticks.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, errs.New(errs.Validation, "api", "%s %s out of range", field, v)
	}
	return ticks.IntPart(), nil
}

func (s *Server) fromTicks(ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(s.cfg.TickSize)
}

func (s *Server) instrumentInfo(info market.Info) InstrumentInfo {
	return InstrumentInfo{
		ID:                  info.ID,
		Status:              info.Status.String(),
		HaltReason:          info.HaltReason,
		TotalShares:         info.TotalShares,
		LockedShares:        info.LockedShares,
		OutstandingTradable: info.OutstandingTradable,
		LastTradePrice:      s.fromTicks(info.LastTradePrice),
	}
}

func (s *Server) levels(in []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(in))
	for i, l := range in {
		out[i] = PriceLevel{Price: s.fromTicks(l.Price), Size: l.Qty, Orders: l.Orders}
	}
	return out
}

func (s *Server) tradeInfos(trades []order.Trade) []TradeInfo {
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = TradeInfo{
			ID:           t.ID,
			InstrumentID: t.InstrumentID,
			BuyOrderID:   t.BuyOrderID,
			SellOrderID:  t.SellOrderID,
			Price:        s.fromTicks(t.Price),
			Size:         t.Quantity,
			TakerSide:    t.TakerSide.String(),
			Timestamp:    t.ExecutedAt.UnixMilli(),
		}
	}
	return out
}

func (s *Server) orderInfo(o *order.Order) OrderInfo {
	return OrderInfo{
		ID:           o.ID,
		InstrumentID: o.InstrumentID,
		Owner:        o.OwnerID,
		Side:         o.Side.String(),
		Type:         o.Kind.String(),
		Price:        s.fromTicks(o.LimitPrice),
		Size:         o.Quantity,
		Filled:       o.Filled,
		Remaining:    o.Remaining(),
		Status:       o.Status.String(),
		Timestamp:    o.SubmittedAt.UnixMilli(),
	}
}

func (s *Server) positionInfo(p ledger.Position) PositionInfo {
	return PositionInfo{
		InstrumentID: p.InstrumentID,
		Quantity:     p.Quantity,
		Reserved:     p.Reserved,
		AverageCost:  p.AverageCost.Mul(s.cfg.TickSize),
	}
}

// ==============================
// Helper Functions
// ==============================

// statusOf maps an error kind to an HTTP status
func statusOf(err error) int {
	switch {
	case errors.Is(err, market.ErrUnknownInstrument), errors.Is(err, engine.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	switch errs.KindOf(err) {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.InsufficientResource:
		return http.StatusUnprocessableEntity
	case errs.InvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := s.logErr(err)
	respondError(w, status, errs.KindOf(err).String(), err.Error())
}

// logErr returns err's HTTP status, logging server-side failures
func (s *Server) logErr(err error) int {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request_failed", zap.Error(err))
	}
	return status
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
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
