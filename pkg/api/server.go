package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/quartzex/clob/pkg/clob"
	"github.com/quartzex/clob/pkg/exchange"
)

// Server exposes the exchange over REST and WebSocket. The caller identity is
// the address field of each request; in production a gateway in front of this
// server authenticates it, here it is taken at face value.
type Server struct {
	ex     *exchange.Exchange
	router *mux.Router
	hub    *Hub
}

func NewServer(ex *exchange.Exchange) *Server {
	s := &Server{
		ex:     ex,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}

	// Feed executed fills into the websocket hub.
	ex.OnFill = func(pair string, fills []clob.Fill) {
		s.hub.BroadcastToChannel("trades:"+pair, TradeUpdate{
			Type:      "trades",
			Pair:      pair,
			Fills:     fillInfos(fills),
			Timestamp: time.Now().UnixMilli(),
		})
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/books", s.handleListBooks).Methods("GET")
	api.HandleFunc("/books", s.handleCreateBook).Methods("POST")
	api.HandleFunc("/books/{base}/{quote}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/books/{base}/{quote}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/books/{base}/{quote}/twap", s.handleGetTwap).Methods("GET")
	api.HandleFunc("/books/{base}/{quote}/makers/{address}", s.handleGetBalances).Methods("GET")

	api.HandleFunc("/makers", s.handleAddMaker).Methods("POST")
	api.HandleFunc("/balances/topup", s.handleTopUp).Methods("POST")
	api.HandleFunc("/balances/withdraw", s.handleWithdraw).Methods("POST")

	api.HandleFunc("/orders", s.handleSubmitLimit).Methods("POST")
	api.HandleFunc("/orders/take", s.handleSubmitTake).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/orders/index", s.handleOrderIndex).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and blocks serving HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.ex.Pairs())
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := s.ex.InitializeOrderBook(req.Base, req.Quote); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "created", "pair": req.Base + "/" + req.Quote})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	pair := pairFromVars(r)

	sides := []clob.Side{clob.Buy, clob.Sell}
	if v := r.URL.Query().Get("side"); v != "" {
		side, err := parseSide(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid side", err.Error())
			return
		}
		sides = []clob.Side{side}
	}

	snap := BookSnapshot{Pair: pair, Timestamp: time.Now().UnixMilli()}
	for _, side := range sides {
		orders, err := s.ex.GetBestOrders(pair, side)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		infos := make([]OrderInfo, len(orders))
		for i, o := range orders {
			infos[i] = OrderInfo{Price: o.Price, Amount: o.Amount, RefID: o.RefID, Owner: o.Owner, Seq: o.Seq}
		}
		if side == clob.Buy {
			snap.Bids = infos
		} else {
			snap.Asks = infos
		}
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	pair := pairFromVars(r)

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	fills, err := s.ex.RecentFills(pair, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, fillInfos(fills))
}

func (s *Server) handleGetTwap(w http.ResponseWriter, r *http.Request) {
	pair := pairFromVars(r)
	avg, last, err := s.ex.GetTwap(pair)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, TwapInfo{Pair: pair, Average: avg, LastPrice: last})
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	pair := pairFromVars(r)
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	base, quote, err := s.ex.GetMarketMakerBalances(pair, addr)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, BalancesInfo{Address: addr.Hex(), Base: base, Quote: quote})
}

func (s *Server) handleAddMaker(w http.ResponseWriter, r *http.Request) {
	var req AddMakerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	if err := s.ex.AddMarketMaker(req.Pair, addr, req.Index); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "registered"})
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.ex.TopUpBalance)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.ex.WithdrawBalance)
}

func (s *Server) handleBalanceChange(w http.ResponseWriter, r *http.Request,
	op func(pair string, caller common.Address, slot int, baseAmt, quoteAmt int64) error) {
	var req BalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	if err := op(req.Pair, addr, req.Slot, req.Base, req.Quote); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	fills, err := s.ex.SubmitLimitOrder(req.Pair, addr, side, req.Amount, req.Price, req.RefID, req.Slot)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, SubmitOrderResponse{Status: "accepted", Fills: fillInfos(fills)})
}

func (s *Server) handleSubmitTake(w http.ResponseWriter, r *http.Request) {
	var req TakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	fills, err := s.ex.SubmitTakeOrder(req.Pair, addr, side, req.Amount, req.Bound)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, SubmitOrderResponse{Status: "filled", Fills: fillInfos(fills)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	if err := s.ex.CancelLimitOrder(req.Pair, addr, side, req.Index, req.Slot); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleOrderIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, err := parseSide(q.Get("side"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	ref, err := strconv.ParseUint(q.Get("ref"), 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ref", err.Error())
		return
	}
	slot, err := strconv.Atoi(q.Get("slot"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid slot", err.Error())
		return
	}
	index, err := s.ex.GetOrderIndex(q.Get("pair"), side, uint32(ref), slot)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, OrderIndexResponse{Index: index})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func pairFromVars(r *http.Request) string {
	vars := mux.Vars(r)
	return vars["base"] + "/" + vars["quote"]
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a hex address: %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseSide(s string) (clob.Side, error) {
	switch s {
	case "buy":
		return clob.Buy, nil
	case "sell":
		return clob.Sell, nil
	default:
		return 0, fmt.Errorf("side must be buy or sell, got %q", s)
	}
}

func fillInfos(fills []clob.Fill) []FillInfo {
	out := make([]FillInfo, len(fills))
	for i, f := range fills {
		out[i] = FillInfo{
			Price:     f.Price,
			Qty:       f.Qty,
			MakerSlot: f.MakerSlot,
			TakerSlot: f.TakerSlot,
			TakerSide: f.TakerSide.String(),
			Time:      f.Time,
		}
	}
	return out
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

// respondDomainError maps the engine's failure taxonomy to HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, clob.ErrValidation), errors.Is(err, clob.ErrInvalidIndex):
		status = http.StatusBadRequest
	case errors.Is(err, clob.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, clob.ErrNotFound), errors.Is(err, clob.ErrNotRegistered):
		status = http.StatusNotFound
	case errors.Is(err, clob.ErrInsufficientBalance),
		errors.Is(err, clob.ErrInsufficientLiquidity),
		errors.Is(err, clob.ErrSlippageExceeded),
		errors.Is(err, clob.ErrSlotOccupied),
		errors.Is(err, clob.ErrCapacityExceeded):
		status = http.StatusConflict
	}
	respondError(w, status, err.Error(), "")
}
