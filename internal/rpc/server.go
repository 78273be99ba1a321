// Package rpc provides a JSON-RPC 2.0 server for the DLC daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klingon-exchange/klingon-dlc/internal/backend"
	"github.com/klingon-exchange/klingon-dlc/internal/chain"
	"github.com/klingon-exchange/klingon-dlc/internal/config"
	"github.com/klingon-exchange/klingon-dlc/internal/storage"
	"github.com/klingon-exchange/klingon-dlc/internal/wallet"
	"github.com/klingon-exchange/klingon-dlc/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	cfg     *config.Config
	params  *chain.Params
	store   *storage.Storage
	chain   backend.Backend
	keys    *wallet.Keystore
	log     *logging.Logger
	wsHub   *WSHub
	started time.Time

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Contract error codes.
const (
	InsufficientFunds = -32001
	VerificationError = -32002
	DecryptionError   = -32003
)

// Storage and chain error codes.
const (
	NotFound           = -32004
	BroadcastRejected  = -32005
	BackendUnavailable = -32006
	WalletUnavailable  = -32007
)

// NewServer creates a new JSON-RPC server for the configured chain.
// store, chainBackend and keys are optional; the contract history, chain and
// wallet methods are only registered when their dependency is given.
func NewServer(cfg *config.Config, store *storage.Storage, chainBackend backend.Backend, keys *wallet.Keystore) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	params, err := cfg.ChainParams()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		params:   params,
		store:    store,
		chain:    chainBackend,
		keys:     keys,
		log:      logging.GetDefault().Component("rpc"),
		wsHub:    NewWSHub(),
		started:  time.Now(),
		handlers: make(map[string]Handler),
	}

	s.registerHandlers()

	return s, nil
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	s.handlers["node_info"] = s.nodeInfo

	s.handlers["dlc_createDlcTransactions"] = s.createDlcTransactions
	s.handlers["dlc_createCetAdaptorSigFromOracleInfo"] = s.createCetAdaptorSigFromOracleInfo
	s.handlers["dlc_verifyCetAdaptorSigFromOracleInfo"] = s.verifyCetAdaptorSigFromOracleInfo
	s.handlers["dlc_signCet"] = s.signCet
	s.handlers["dlc_getAdaptorPoint"] = s.getAdaptorPoint

	if s.store != nil {
		s.handlers["dlc_getContract"] = s.getContract
		s.handlers["dlc_listContracts"] = s.listContracts
	}

	if s.chain != nil {
		s.handlers["chain_broadcastTx"] = s.broadcastTx
		s.handlers["chain_getTxStatus"] = s.getTxStatus
		s.handlers["chain_feeEstimates"] = s.feeEstimates
		s.handlers["chain_blockHeight"] = s.blockHeight
	}

	if s.keys != nil {
		s.handlers["wallet_status"] = s.walletStatus
		s.handlers["wallet_generate"] = s.walletGenerate
		s.handlers["wallet_create"] = s.walletCreate
		s.handlers["wallet_unlock"] = s.walletUnlock
		s.handlers["wallet_lock"] = s.walletLock
		s.handlers["wallet_getFundingKey"] = s.walletGetFundingKey
	}
}

// Handler returns the HTTP handler serving JSON-RPC on / and, when enabled,
// the event feed on /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	if s.cfg.RPC.EnableWebSocket {
		mux.HandleFunc("GET /ws", s.handleWS)
		mux.HandleFunc("GET /ws/", s.handleWS)
	}
	return corsMiddleware(mux)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	go s.wsHub.Run()

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "chain", s.params.Symbol, "network", s.params.Network)
	return nil
}

// Addr returns the address the server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.wsHub.Stop()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.RPC.MaxBodyBytes)

	var req Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		code := errorCode(err)
		s.log.Debug("RPC call failed", "method", req.Method, "code", code, "error", err)
		s.writeError(w, req.ID, code, err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// errorCode maps a handler error onto its JSON-RPC error code.
func errorCode(err error) int {
	var known *codedError
	if errors.As(err, &known) {
		return known.code
	}
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return InternalError
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
