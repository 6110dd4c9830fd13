package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nftescrow/core/events"
	"nftescrow/native/bank"
	"nftescrow/native/escrow"
	"nftescrow/native/nft"
	"nftescrow/observability"
	"nftescrow/observability/logging"
	"nftescrow/storage/journal"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError      = -32700
	codeInvalidRequest  = -32600
	codeMethodNotFound  = -32601
	codeInvalidParams   = -32602
	codeUnauthorized    = -32001
	codeRateLimited     = -32020
	codeNotFound        = -32022
	codeForbidden       = -32023
	codeConflict        = -32024
	codeInternal        = -32025
	codeTransferFailure = -32026
)

// Deps are the components the server exposes.
type Deps struct {
	Ledger     *escrow.Ledger
	Registries *nft.Directory
	Vault      *bank.Vault
	Journal    *journal.Journal
	Bus        *events.Bus
	Logger     *slog.Logger
}

// ServerConfig carries the transport settings.
type ServerConfig struct {
	JWTSecret          string
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Server is the JSON-RPC front end of the escrow daemon. All calls touching
// ledger, registry or vault state run one at a time under mu.
type Server struct {
	ledger     *escrow.Ledger
	registries *nft.Directory
	vault      *bank.Vault
	journal    *journal.Journal
	bus        *events.Bus
	logger     *slog.Logger

	mu      sync.Mutex
	auth    *authenticator
	limiter *rateLimiter
	methods map[string]method
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func (e *RPCError) Error() string { return e.Message }

func newRPCError(status, code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data, status: status}
}

func invalidParams(err error) *RPCError {
	return newRPCError(http.StatusBadRequest, codeInvalidParams, "invalid_params", err.Error())
}

// rpcCall is one decoded request with its authenticated caller, if any.
type rpcCall struct {
	ctx    context.Context
	req    *RPCRequest
	caller [20]byte
}

type method struct {
	handler func(*rpcCall) (interface{}, *RPCError)
	// auth requires a bearer token whose subject becomes the caller.
	auth bool
	// lockFree handlers touch no shared state and skip the execution lock.
	lockFree bool
}

// NewServer wires the JSON-RPC handlers over deps.
func NewServer(deps Deps, cfg ServerConfig) (*Server, error) {
	if deps.Ledger == nil || deps.Registries == nil || deps.Vault == nil {
		return nil, fmt.Errorf("rpc: ledger, registries and vault are required")
	}
	auth, err := newAuthenticator(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:     deps.Ledger,
		registries: deps.Registries,
		vault:      deps.Vault,
		journal:    deps.Journal,
		bus:        deps.Bus,
		logger:     logger,
		auth:       auth,
		limiter:    newRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
	}
	s.methods = map[string]method{
		"escrow_deriveId":       {handler: s.handleEscrowDeriveID, lockFree: true},
		"escrow_open":           {handler: s.handleEscrowOpen, auth: true},
		"escrow_pay":            {handler: s.handleEscrowPay, auth: true},
		"escrow_cancel":         {handler: s.handleEscrowCancel, auth: true},
		"escrow_reject":         {handler: s.handleEscrowReject, auth: true},
		"escrow_get":            {handler: s.handleEscrowGet},
		"escrow_fee":            {handler: s.handleEscrowFee},
		"escrow_setFee":         {handler: s.handleEscrowSetFee, auth: true},
		"escrow_withdrawFees":   {handler: s.handleEscrowWithdrawFees, auth: true},
		"escrow_events":         {handler: s.handleEscrowEvents, lockFree: true},
		"escrow_eventsSince":    {handler: s.handleEscrowEventsSince, lockFree: true},
		"nft_approve":           {handler: s.handleNFTApprove, auth: true},
		"nft_setApprovalForAll": {handler: s.handleNFTSetApprovalForAll, auth: true},
		"nft_ownerOf":           {handler: s.handleNFTOwnerOf},
		"bank_balance":          {handler: s.handleBankBalance},
	}
	return s, nil
}

// Handler returns the HTTP surface: JSON-RPC on POST /, the event stream, the
// Prometheus endpoint and a health probe.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "escrowd")
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(clientSource(r), time.Now()) {
		observability.RPC().RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	start := time.Now()
	result, rpcErr := s.dispatch(r, req, m)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	observability.RPC().Observe(req.Method, code, time.Since(start))
	s.logger.Debug("rpc call",
		logging.MaskField("method", req.Method),
		slog.Int("code", code),
		slog.Duration("duration", time.Since(start)),
		logging.MaskField("requestId", r.Header.Get(requestIDHeader)),
		logging.MaskField("remote", clientSource(r)),
	)

	if rpcErr != nil {
		writeError(w, rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(r *http.Request, req *RPCRequest, m method) (interface{}, *RPCError) {
	call := &rpcCall{ctx: r.Context(), req: req}
	if m.auth {
		caller, authErr := s.auth.caller(r)
		if authErr != nil {
			s.logger.Info("rpc authentication failed",
				logging.MaskField("method", req.Method),
				slog.String("authorization", logging.MaskBearer(r.Header.Get("Authorization"))),
				logging.MaskField("error", authErr.Message),
				logging.MaskField("requestId", r.Header.Get(requestIDHeader)),
			)
			return nil, authErr
		}
		call.caller = caller
	}
	if !m.lockFree {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return m.handler(call)
}

// decodeParams unmarshals the single parameter object into out, rejecting
// unknown fields.
func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return newRPCError(http.StatusBadRequest, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
	}
	decoder := json.NewDecoder(bytes.NewReader(req.Params[0]))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return invalidParams(err)
	}
	return nil
}
