package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/forwarder"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/logHandler"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

/*
Relayer HTTP API

  GET  /health            relayer account, balance and forwarder address
  GET  /domain            the typed-data domain requests must be signed under
  GET  /nonce/{address}   next nonce for an originator
  POST /verify            {request, signature} -> {valid, error}; never submits
  POST /relay             {request, signature} -> RelayRecord; the relayer pays
  GET  /relay/{id}        a journaled RelayRecord
  GET  /relays?from=0x..  journaled RelayRecords, oldest first
  GET  /events            websocket stream of logs emitted by mined transactions

Error responses carry {error, code}:

  400 malformed_request | gas_limit_too_high | insufficient_gas
  401 invalid_signature
  409 nonce_mismatch | nonce_exhausted
  429 rate_limited
*/

const (
	requestIdHeader = "X-Request-Id"
	maxBodyBytes    = 1 << 20
	writeWait       = 10 * time.Second
)

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Port               int
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Server exposes a Relayer over HTTP
type Server struct {
	relayer    *Relayer
	logs       logHandler.ILogHandler
	limiter    *rate.Limiter
	upgrader   websocket.Upgrader
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a new server instance. logs may be nil, which disables /events.
func NewServer(relayer *Relayer, logs logHandler.ILogHandler, cfg *ServerConfig, logger *zap.Logger) *Server {
	limit := rate.Inf
	if cfg.RateLimitPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimitPerSecond)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		relayer: relayer,
		logs:    logs,
		limiter: rate.NewLimiter(limit, burst),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}

	r := mux.NewRouter()
	r.Use(s.requestIdMiddleware, s.rateLimitMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/domain", s.handleDomain).Methods(http.MethodGet)
	r.HandleFunc("/nonce/{address}", s.handleNonce).Methods(http.MethodGet)
	r.HandleFunc("/verify", s.handleVerify).Methods(http.MethodPost)
	r.HandleFunc("/relay", s.handleRelay).Methods(http.MethodPost)
	r.HandleFunc("/relay/{id}", s.handleGetRelay).Methods(http.MethodGet)
	r.HandleFunc("/relays", s.handleListRelays).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting relayer HTTP server",
			"relayer", s.relayer.Address().Hex(),
			"forwarder", s.relayer.ForwarderAddress().Hex(),
			"port", s.httpServer.Addr,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) requestIdMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIdHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIdHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, types.ErrorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status    string                `json:"status"`
	Relayer   common.Address        `json:"relayer"`
	Balance   *math.HexOrDecimal256 `json:"balance"`
	Forwarder common.Address        `json:"forwarder"`
	ChainID   *math.HexOrDecimal256 `json:"chainId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.relayer.HealthCheck(); err != nil {
		s.logger.Sugar().Warnw("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{Error: err.Error(), Code: "unhealthy"})
		return
	}
	domain := s.relayer.Domain()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Relayer:   s.relayer.Address(),
		Balance:   (*math.HexOrDecimal256)(s.relayer.Balance()),
		Forwarder: s.relayer.ForwarderAddress(),
		ChainID:   (*math.HexOrDecimal256)(domain.ChainID),
	})
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relayer.Domain())
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: fmt.Sprintf("invalid address %q", raw), Code: "malformed_request"})
		return
	}
	addr := common.HexToAddress(raw)

	nonce, err := s.relayer.GetNonce(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NonceResponse{Address: addr, Nonce: (*math.HexOrDecimal256)(nonce)})
}

func (s *Server) decodeRelayRequest(w http.ResponseWriter, r *http.Request) (*types.RelayRequest, bool) {
	var body types.RelayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: err.Error(), Code: "malformed_request"})
		return nil, false
	}
	if body.Request == nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "request is required", Code: "malformed_request"})
		return nil, false
	}
	return &body, true
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeRelayRequest(w, r)
	if !ok {
		return
	}
	if err := s.relayer.Verify(r.Context(), body.Request, body.Signature); err != nil {
		if _, code := classifyError(err); code == "internal" {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.VerifyResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, types.VerifyResponse{Valid: true})
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeRelayRequest(w, r)
	if !ok {
		return
	}
	record, err := s.relayer.Relay(r.Context(), body.Request, body.Signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetRelay(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := s.relayer.GetRelay(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if record == nil {
		writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: fmt.Sprintf("relay %s not found", id), Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListRelays(w http.ResponseWriter, r *http.Request) {
	var from *common.Address
	if raw := r.URL.Query().Get("from"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: fmt.Sprintf("invalid address %q", raw), Code: "malformed_request"})
			return
		}
		addr := common.HexToAddress(raw)
		from = &addr
	}

	records, err := s.relayer.ListRelays(from)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []*types.RelayRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "event stream disabled", Code: "not_found"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Sugar().Debugw("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.logs.Subscribe()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the read loop only notices the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Sugar().Debugw("Event stream opened", "remote", r.RemoteAddr)
	s.logs.ListenToChannel(ctx, sub, func(log *ethTypes.Log) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(log); err != nil {
			s.logger.Sugar().Debugw("Event stream write failed", "error", err)
			cancel()
		}
	})
	s.logger.Sugar().Debugw("Event stream closed", "remote", r.RemoteAddr)
}

// classifyError maps relayer errors onto HTTP statuses and stable codes
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, forwarder.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, forwarder.ErrNonceMismatch):
		return http.StatusConflict, "nonce_mismatch"
	case errors.Is(err, persistence.ErrNonceExhausted):
		return http.StatusConflict, "nonce_exhausted"
	case errors.Is(err, ErrGasLimitTooHigh):
		return http.StatusBadRequest, "gas_limit_too_high"
	case errors.Is(err, forwarder.ErrInsufficientGas):
		return http.StatusBadRequest, "insufficient_gas"
	case errors.Is(err, types.ErrMalformedRequest):
		return http.StatusBadRequest, "malformed_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Relayer request failed", "error", err)
	}
	writeJSON(w, status, types.ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
