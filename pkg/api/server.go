package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/jmkim-dev/tidebook/pkg/core"
	"github.com/jmkim-dev/tidebook/pkg/core/book"
	"github.com/jmkim-dev/tidebook/pkg/core/engine"
	"github.com/jmkim-dev/tidebook/pkg/core/order"
)

// Server handles REST API and WebSocket connections
type Server struct {
	exchange *core.Exchange
	router   *mux.Router
	hub      *Hub     // WebSocket hub
	opLog    *os.File // Operation audit log
}

// NewServer creates a new API server
func NewServer(exchange *core.Exchange) *Server {
	// Open operation audit log
	opLogPath := os.Getenv("OP_LOG_FILE")
	if opLogPath == "" {
		opLogPath = "data/operations.log"
	}

	os.MkdirAll(filepath.Dir(opLogPath), 0755)

	opLog, err := os.OpenFile(opLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[api] WARNING: failed to open op log file %s: %v", opLogPath, err)
		opLog = nil // Continue without audit logging
	} else {
		log.Printf("[api] operation log: %s", opLogPath)
	}

	s := &Server{
		exchange: exchange,
		router:   mux.NewRouter(),
		hub:      NewHub(),
		opLog:    opLog,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/collections", s.handleGetCollections).Methods("GET")
	api.HandleFunc("/fees", s.handleGetFees).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handleMake).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/orders/edit", s.handleEdit).Methods("POST")
	api.HandleFunc("/orders/{fingerprint}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{fingerprint}/filled", s.handleGetFilled).Methods("GET")
	api.HandleFunc("/orders/{fingerprint}/vault", s.handleGetVault).Methods("GET")

	// Matching endpoints
	api.HandleFunc("/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/match/batch", s.handleMatchBatch).Methods("POST")

	// Fee withdrawal (operator only)
	api.HandleFunc("/fees/withdraw", s.handleWithdrawFees).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Router exposes the route table for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	// Start WebSocket hub
	go s.hub.Run()

	// CORS configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetCollections(w http.ResponseWriter, r *http.Request) {
	collections := s.exchange.Collections()

	response := make([]CollectionInfo, len(collections))
	for i, c := range collections {
		response[i] = CollectionInfo{
			Address: c.Address.Hex(),
			Name:    c.Name,
		}
	}

	respondJSON(w, response)
}

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	response := FeesInfo{
		Balance:  FormatEther(s.exchange.FeeBalance()),
		RateBps:  s.exchange.FeeRateBps(),
		Operator: s.exchange.FeeOperator().Hex(),
	}

	respondJSON(w, response)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		limit = n
	}

	trades, err := s.exchange.RecentTrades(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade history unavailable", err.Error())
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = tradeInfo(t)
	}

	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	fp, ok := fingerprintVar(w, r)
	if !ok {
		return
	}

	rec, found := s.exchange.Order(fp)
	if !found {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}

	response := OrderInfo{
		Fingerprint: fp.Hex(),
		Order:       PayloadFromOrder(rec.Order),
		FillCount:   rec.FillCount,
		Remaining:   rec.Remaining(),
		Closed:      rec.Closed,
	}

	respondJSON(w, response)
}

func (s *Server) handleGetFilled(w http.ResponseWriter, r *http.Request) {
	fp, ok := fingerprintVar(w, r)
	if !ok {
		return
	}

	filled := s.exchange.FilledAmount(fp)

	// The closed sentinel exceeds JSON's safe integer range, so
	// filled crosses the wire as a string.
	respondJSON(w, map[string]string{
		"fingerprint": fp.Hex(),
		"filled":      strconv.FormatInt(filled, 10),
	})
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	fp, ok := fingerprintVar(w, r)
	if !ok {
		return
	}

	native, units := s.exchange.VaultBalance(fp)

	response := VaultInfo{
		Fingerprint:   fp.Hex(),
		NativeBalance: FormatEther(native),
		AssetUnits:    units,
	}

	respondJSON(w, response)
}

func (s *Server) handleMake(w http.ResponseWriter, r *http.Request) {
	var req MakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, value, ok := callerAndValue(w, req.Caller, req.Value)
	if !ok {
		return
	}

	orders := make([]order.Order, len(req.Orders))
	for i, p := range req.Orders {
		o, err := p.ToOrder()
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid order", err.Error())
			return
		}
		orders[i] = o
	}

	fps, err := s.exchange.Make(orders, caller, value)
	if err != nil {
		respondError(w, http.StatusBadRequest, "make rejected", err.Error())
		return
	}

	s.logOperation("MAKE", map[string]interface{}{
		"caller": caller.Hex(),
		"count":  len(fps),
	})
	s.broadcastOrders("made", fps)

	respondJSON(w, MakeResponse{Fingerprints: hexHashes(fps)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if !common.IsHexAddress(req.Caller) {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}
	caller := common.HexToAddress(req.Caller)

	fps := make([]common.Hash, len(req.Fingerprints))
	for i, h := range req.Fingerprints {
		fp, err := parseFingerprint(h)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid fingerprint", err.Error())
			return
		}
		fps[i] = fp
	}

	results := s.exchange.Cancel(fps, caller)

	cancelled := make([]common.Hash, 0, len(fps))
	for i, ok := range results {
		if ok {
			cancelled = append(cancelled, fps[i])
		}
	}
	s.logOperation("CANCEL", map[string]interface{}{
		"caller":    caller.Hex(),
		"cancelled": len(cancelled),
	})
	if len(cancelled) > 0 {
		s.broadcastOrders("cancelled", cancelled)
	}

	respondJSON(w, CancelResponse{Results: results})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, value, ok := callerAndValue(w, req.Caller, req.Value)
	if !ok {
		return
	}

	edits := make([]book.Edit, len(req.Edits))
	for i, e := range req.Edits {
		old, err := parseFingerprint(e.Old)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid fingerprint", err.Error())
			return
		}
		o, err := e.New.ToOrder()
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid order", err.Error())
			return
		}
		edits[i] = book.Edit{Old: old, New: o}
	}

	fps, err := s.exchange.Edit(edits, caller, value)
	if err != nil {
		respondError(w, http.StatusBadRequest, "edit rejected", err.Error())
		return
	}

	edited := make([]common.Hash, 0, len(fps))
	for _, fp := range fps {
		if fp != order.ZeroFingerprint {
			edited = append(edited, fp)
		}
	}
	s.logOperation("EDIT", map[string]interface{}{
		"caller": caller.Hex(),
		"edited": len(edited),
	})
	if len(edited) > 0 {
		s.broadcastOrders("edited", edited)
	}

	respondJSON(w, EditResponse{Fingerprints: hexHashes(fps)})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, value, ok := callerAndValue(w, req.Caller, req.Value)
	if !ok {
		return
	}

	sell, err := req.Sell.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sell order", err.Error())
		return
	}
	buy, err := req.Buy.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buy order", err.Error())
		return
	}

	trade, err := s.exchange.Match(sell, buy, caller, value)
	if err != nil {
		respondError(w, http.StatusBadRequest, "match rejected", err.Error())
		return
	}

	info := tradeInfo(trade)
	s.logOperation("MATCH", map[string]interface{}{
		"caller": caller.Hex(),
		"trade":  info.ID,
	})
	s.hub.BroadcastToChannel(ChannelTrades, TradeUpdate{Type: "trade", Trade: info})
	s.broadcastOrders("filled", []common.Hash{trade.ListFp, trade.BidFp})

	respondJSON(w, info)
}

func (s *Server) handleMatchBatch(w http.ResponseWriter, r *http.Request) {
	var req MatchBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, value, ok := callerAndValue(w, req.Caller, req.Value)
	if !ok {
		return
	}

	pairs := make([]engine.Pair, len(req.Pairs))
	for i, p := range req.Pairs {
		sell, err := p.Sell.ToOrder()
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid sell order", err.Error())
			return
		}
		buy, err := p.Buy.ToOrder()
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid buy order", err.Error())
			return
		}
		pairs[i] = engine.Pair{Sell: sell, Buy: buy}
	}

	results, trades := s.exchange.MatchBatch(pairs, caller, value)

	infos := make([]TradeInfo, len(trades))
	filled := make([]common.Hash, 0, len(trades)*2)
	for i, t := range trades {
		infos[i] = tradeInfo(t)
		s.hub.BroadcastToChannel(ChannelTrades, TradeUpdate{Type: "trade", Trade: infos[i]})
		filled = append(filled, t.ListFp, t.BidFp)
	}
	s.logOperation("MATCH_BATCH", map[string]interface{}{
		"caller":   caller.Hex(),
		"pairs":    len(pairs),
		"executed": len(trades),
	})
	if len(filled) > 0 {
		s.broadcastOrders("filled", filled)
	}

	respondJSON(w, MatchBatchResponse{Results: results, Trades: infos})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if !common.IsHexAddress(req.Caller) || !common.IsHexAddress(req.To) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	caller := common.HexToAddress(req.Caller)
	to := common.HexToAddress(req.To)

	amount, err := ParseEther(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	if err := s.exchange.WithdrawFees(to, amount, caller); err != nil {
		respondError(w, http.StatusBadRequest, "withdraw rejected", err.Error())
		return
	}

	s.logOperation("FEE_WITHDRAW", map[string]interface{}{
		"to":     to.Hex(),
		"amount": FormatEther(amount),
	})

	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

func (s *Server) broadcastOrders(event string, fps []common.Hash) {
	s.hub.BroadcastToChannel(ChannelOrders, OrderUpdate{
		Type:         "order",
		Event:        event,
		Fingerprints: hexHashes(fps),
		Timestamp:    time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

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

func parseFingerprint(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("fingerprint must be %d bytes", common.HashLength)
	}
	return common.BytesToHash(b), nil
}

func fingerprintVar(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	vars := mux.Vars(r)
	fp, err := parseFingerprint(vars["fingerprint"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fingerprint", "")
		return common.Hash{}, false
	}
	return fp, true
}

func callerAndValue(w http.ResponseWriter, callerStr, valueStr string) (common.Address, int64, bool) {
	if !common.IsHexAddress(callerStr) {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return common.Address{}, 0, false
	}
	if valueStr == "" {
		valueStr = "0"
	}
	value, err := ParseEther(valueStr)
	if err != nil || value < 0 {
		respondError(w, http.StatusBadRequest, "invalid value", "")
		return common.Address{}, 0, false
	}
	return common.HexToAddress(callerStr), value, true
}

func hexHashes(fps []common.Hash) []string {
	out := make([]string, len(fps))
	for i, fp := range fps {
		out[i] = fp.Hex()
	}
	return out
}

// logOperation writes an operation event to the audit log file
func (s *Server) logOperation(eventType string, data map[string]interface{}) {
	if s.opLog == nil {
		return // Logging disabled
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"event":     eventType,
		"data":      data,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[api] failed to marshal op log entry: %v", err)
		return
	}

	// One JSON object per line
	s.opLog.Write(jsonData)
	s.opLog.Write([]byte("\n"))
}
