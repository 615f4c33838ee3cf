package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"jobmarket/core/events"
	"jobmarket/gateway/auth"
	"jobmarket/integrations/audit"
	"jobmarket/native/market"
	"jobmarket/observability"
	"jobmarket/observability/logging"
	"jobmarket/observability/metrics"
)

const maxRequestBytes = 1 << 20 // 1 MiB

// Ledger is the ledger surface served over JSON-RPC.
type Ledger interface {
	PostJob(ctx context.Context, caller [20]byte, description string, value *big.Int) (*market.Receipt, error)
	PlaceBid(ctx context.Context, caller [20]byte, jobID uint64, amount *big.Int) (*market.Receipt, error)
	SelectWinner(ctx context.Context, caller [20]byte, jobID uint64, bidIndex int) (*market.Receipt, error)
	CompleteJob(ctx context.Context, caller [20]byte, jobID uint64) (*market.Receipt, error)
	Job(ctx context.Context, jobID uint64) (*market.Job, error)
	GetBids(ctx context.Context, jobID uint64) ([]market.Bid, error)
	JobCounter(ctx context.Context) (uint64, error)
	ListJobs(ctx context.Context, offset uint64, limit int) ([]*market.Job, error)
	Balance(ctx context.Context, addr [20]byte) (*big.Int, error)
	VaultBalance(ctx context.Context) (*big.Int, error)
}

// Gate explains escrow decisions.
type Gate interface {
	Inspect(ctx context.Context, jobID uint64) market.Verdict
}

// EventLog serves committed ledger history.
type EventLog interface {
	List(ctx context.Context, after uint64, limit int) ([]audit.Record, error)
	ForJob(ctx context.Context, jobID uint64) ([]audit.Record, error)
}

// Login issues wallet challenges and session tokens.
type Login interface {
	Challenge(addr [20]byte) (auth.Challenge, error)
	Login(addr [20]byte, nonce string, sig []byte) (*auth.Session, error)
}

// Config wires the server to its backends. Any backend may be nil; methods
// that depend on a missing backend answer "unavailable".
type Config struct {
	Ledger Ledger
	Gate   Gate
	Events EventLog
	Auth   Login
	Bus    *events.Bus
	Logger *slog.Logger
}

type handlerFunc func(r *http.Request, req *RPCRequest) (interface{}, *failure)

type failure struct {
	status  int
	code    int
	message string
	data    interface{}
}

type Server struct {
	ledger  Ledger
	gate    Gate
	events  EventLog
	auth    Login
	bus     *events.Bus
	logger  *slog.Logger
	methods map[string]handlerFunc
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger: cfg.Ledger,
		gate:   cfg.Gate,
		events: cfg.Events,
		auth:   cfg.Auth,
		bus:    cfg.Bus,
		logger: logger,
	}
	s.methods = map[string]handlerFunc{
		"market_postJob":      s.handlePostJob,
		"market_placeBid":     s.handlePlaceBid,
		"market_selectWinner": s.handleSelectWinner,
		"market_completeJob":  s.handleCompleteJob,
		"market_getBids":      s.handleGetBids,
		"market_jobs":         s.handleJob,
		"market_jobCounter":   s.handleJobCounter,
		"market_listJobs":     s.handleListJobs,
		"market_getBalance":   s.handleGetBalance,
		"market_vaultBalance": s.handleVaultBalance,
		"market_listEvents":   s.handleListEvents,
		"escrow_verifyJob":    s.handleVerifyJob,
		"auth_challenge":      s.handleChallenge,
		"auth_login":          s.handleLogin,
	}
	return s
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: raw}
	return json.NewEncoder(w).Encode(resp)
}

// ServeHTTP decodes one JSON-RPC request and dispatches it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

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
	handler, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	start := time.Now()
	module, method := splitMethod(req.Method)
	result, fail := handler(r, req)
	if fail != nil {
		observability.ModuleMetrics().Observe(module, method, fail.code, time.Since(start))
		writeError(w, fail.status, req.ID, fail.code, fail.message, fail.data)
		return
	}
	observability.ModuleMetrics().Observe(module, method, 0, time.Since(start))
	if err := writeResult(w, req.ID, result); err != nil {
		s.logger.Error("encode rpc result", slog.String("method", req.Method), slog.Any("error", err))
	}
}

func splitMethod(name string) (string, string) {
	if idx := strings.IndexByte(name, '_'); idx > 0 {
		return name[:idx], name[idx+1:]
	}
	return "unknown", name
}

// decodeParams unmarshals the single parameter object. Optional methods accept
// an absent parameter list.
func decodeParams(req *RPCRequest, dst interface{}, optional bool) *failure {
	if len(req.Params) == 0 && optional {
		return nil
	}
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object expected")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func parseAmount(name, value string) (*big.Int, *failure) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams(name + " required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams("invalid " + name)
	}
	return amount, nil
}

func requireCaller(r *http.Request) ([20]byte, *failure) {
	caller, ok := auth.CallerFrom(r.Context())
	if !ok {
		return [20]byte{}, &failure{status: http.StatusUnauthorized, code: codeUnauthorized, message: "authentication required"}
	}
	return caller, nil
}

func (s *Server) ledgerFailure(op string, err error) *failure {
	metrics.Market().RecordRejection(op, err)
	fail := ledgerFailure(err)
	if fail.status >= http.StatusInternalServerError {
		s.logger.Error("ledger operation failed", slog.String("operation", op), slog.Any("error", err))
	}
	return fail
}

func (s *Server) mutate(r *http.Request, op string, fn func(caller [20]byte) (*market.Receipt, error)) (interface{}, *failure) {
	if s.ledger == nil {
		return nil, unavailable("ledger")
	}
	caller, fail := requireCaller(r)
	if fail != nil {
		return nil, fail
	}
	receipt, err := fn(caller)
	if err != nil {
		return nil, s.ledgerFailure(op, err)
	}
	return formatReceipt(receipt), nil
}

func (s *Server) handlePostJob(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	var params postJobParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	value, fail := parseAmount("value", params.Value)
	if fail != nil {
		return nil, fail
	}
	return s.mutate(r, market.OpPostJob, func(caller [20]byte) (*market.Receipt, error) {
		return s.ledger.PostJob(r.Context(), caller, params.Description, value)
	})
}

func (s *Server) handlePlaceBid(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	var params placeBidParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	amount, fail := parseAmount("bidAmount", params.BidAmount)
	if fail != nil {
		return nil, fail
	}
	return s.mutate(r, market.OpPlaceBid, func(caller [20]byte) (*market.Receipt, error) {
		return s.ledger.PlaceBid(r.Context(), caller, params.JobID, amount)
	})
}

func (s *Server) handleSelectWinner(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	var params selectWinnerParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	return s.mutate(r, market.OpSelectWinner, func(caller [20]byte) (*market.Receipt, error) {
		return s.ledger.SelectWinner(r.Context(), caller, params.JobID, params.BidIndex)
	})
}

func (s *Server) handleCompleteJob(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	var params jobIDParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	return s.mutate(r, market.OpCompleteJob, func(caller [20]byte) (*market.Receipt, error) {
		return s.ledger.CompleteJob(r.Context(), caller, params.JobID)
	})
}

func (s *Server) handleJob(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.ledger == nil {
		return nil, unavailable("ledger")
	}
	var params jobIDParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	job, err := s.ledger.Job(r.Context(), params.JobID)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return formatJob(job), nil
}

func (s *Server) handleGetBids(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.ledger == nil {
		return nil, unavailable("ledger")
	}
	var params jobIDParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	bids, err := s.ledger.GetBids(r.Context(), params.JobID)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	out := make([]BidJSON, len(bids))
	for i, bid := range bids {
		out[i] = formatBid(i, bid)
	}
	return out, nil
}

func (s *Server) handleJobCounter(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.ledger == nil {
		return nil, unavailable("ledger")
	}
	counter, err := s.ledger.JobCounter(r.Context())
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return CounterJSON{JobCounter: counter}, nil
}

func (s *Server) handleListJobs(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.ledger == nil {
		return nil, unavailable("ledger")
	}
	var params listJobsParams
	if fail := decodeParams(req, &params, true); fail != nil {
		return nil, fail
	}
	jobs, err := s.ledger.ListJobs(r.Context(), params.Offset, params.Limit)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	out := make([]JobJSON, len(jobs))
	for i, job := range jobs {
		out[i] = formatJob(job)
	}
	return out, nil
}

func (s *Server) handleGetBalance(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.ledger == nil {
		return nil, unavailable("ledger")
	}
	var params addressParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	addr, fail := parseAddress(params.Address)
	if fail != nil {
		return nil, fail
	}
	balance, err := s.ledger.Balance(r.Context(), addr)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return BalanceJSON{Address: formatAddress(addr), Balance: amountString(balance)}, nil
}

func (s *Server) handleVaultBalance(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.ledger == nil {
		return nil, unavailable("ledger")
	}
	balance, err := s.ledger.VaultBalance(r.Context())
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return BalanceJSON{Address: formatAddress(market.VaultAddress), Balance: amountString(balance)}, nil
}

func (s *Server) handleListEvents(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.events == nil {
		return nil, unavailable("event log")
	}
	var params listEventsParams
	if fail := decodeParams(req, &params, true); fail != nil {
		return nil, fail
	}
	var (
		records []audit.Record
		err     error
	)
	if params.JobID != 0 {
		records, err = s.events.ForJob(r.Context(), params.JobID)
	} else {
		records, err = s.events.List(r.Context(), params.After, params.Limit)
	}
	if err != nil {
		s.logger.Error("list audit events", slog.Any("error", err))
		return nil, internalFailure(err)
	}
	out := make([]AuditRecordJSON, 0, len(records))
	for _, rec := range records {
		formatted, err := formatAuditRecord(rec)
		if err != nil {
			return nil, internalFailure(err)
		}
		out = append(out, formatted)
	}
	return out, nil
}

func (s *Server) handleVerifyJob(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.gate == nil {
		return nil, unavailable("escrow gate")
	}
	var params jobIDParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	return s.gate.Inspect(r.Context(), params.JobID), nil
}

func (s *Server) handleChallenge(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.auth == nil {
		return nil, unavailable("auth")
	}
	var params addressParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	addr, fail := parseAddress(params.Address)
	if fail != nil {
		return nil, fail
	}
	ch, err := s.auth.Challenge(addr)
	if err != nil {
		return nil, internalFailure(err)
	}
	return ChallengeJSON{
		Address:   formatAddress(addr),
		Challenge: ch.Nonce,
		Message:   ch.Message,
		ExpiresAt: ch.ExpiresAt.Unix(),
	}, nil
}

func (s *Server) handleLogin(r *http.Request, req *RPCRequest) (interface{}, *failure) {
	if s.auth == nil {
		return nil, unavailable("auth")
	}
	var params loginParams
	if fail := decodeParams(req, &params, false); fail != nil {
		return nil, fail
	}
	addr, fail := parseAddress(params.Address)
	if fail != nil {
		return nil, fail
	}
	sig, err := decodeSignature(params.Signature)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	session, err := s.auth.Login(addr, params.Challenge, sig)
	if err != nil {
		s.logger.Warn("login rejected",
			slog.String("address", formatAddress(addr)),
			logging.MaskField("challenge", params.Challenge),
			logging.MaskField("signature", params.Signature),
			slog.Any("error", err))
		return nil, &failure{status: http.StatusUnauthorized, code: codeUnauthorized, message: "login rejected", data: err.Error()}
	}
	return SessionJSON{
		Address:   formatAddress(session.Address),
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.Unix(),
	}, nil
}
