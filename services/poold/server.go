package poold

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"tranchepool/pool"
	"tranchepool/pool/adapters"
	"tranchepool/storage"
)

const maxBodyBytes = 1 << 16 // 64 KiB

// Options carries the optional server dependencies.
type Options struct {
	// Store, when set, receives a full pool snapshot after every mutation.
	Store storage.Database
	// Idempotency, when set, replays cached responses for retried requests.
	Idempotency *IdempotencyStore
	Logger      *slog.Logger
	RateLimit   RateLimitConfig
	// APITokens, when non-empty, requires a matching bearer token on every
	// /v1 request.
	APITokens []string
	Now       func() time.Time
}

// Server exposes the pool over HTTP. Pool operations are serialized behind a
// mutex; the pool itself is not concurrency safe.
type Server struct {
	pool    *pool.Pool
	store   storage.Database
	idem    *IdempotencyStore
	metrics *Metrics
	logger  *slog.Logger
	limits  RateLimitConfig
	tokens  map[string]struct{}
	now     func() time.Time

	mu sync.Mutex

	visitorMu sync.Mutex
	visitors  map[string]*rate.Limiter

	router http.Handler
}

// NewServer constructs a configured HTTP server around the pool.
func NewServer(p *pool.Pool, opts Options) (*Server, error) {
	if p == nil {
		return nil, errors.New("pool required")
	}
	srv := &Server{
		pool:     p,
		store:    opts.Store,
		idem:     opts.Idempotency,
		metrics:  PoolMetrics(),
		logger:   opts.Logger,
		limits:   opts.RateLimit,
		now:      opts.Now,
		visitors: make(map[string]*rate.Limiter),
	}
	if len(opts.APITokens) > 0 {
		srv.tokens = make(map[string]struct{}, len(opts.APITokens))
		for _, token := range opts.APITokens {
			if token = strings.TrimSpace(token); token != "" {
				srv.tokens[token] = struct{}{}
			}
		}
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = time.Now
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Use(s.rateLimit)
		api.Get("/tranches", s.handleTranches)
		api.Get("/redemption", s.handleRedemptionStatus)

		api.Group(func(mutating chi.Router) {
			mutating.Use(s.idempotency)
			mutating.Post("/deposit", s.handleDeposit)
			mutating.Post("/redeem", s.handleRedeem)
			mutating.Post("/withdraw", s.handleWithdraw)
			mutating.Post("/loans/price", s.handlePriceLoan)
			mutating.Post("/loans/originate", s.handleOriginate)
			mutating.Post("/loans/repaid", s.handleRepaid)
			mutating.Post("/loans/expired", s.handleExpired)
			mutating.Post("/loans/liquidated", s.handleLiquidated)
			mutating.Post("/notes/price", s.handlePriceNote)
			mutating.Post("/notes/sell", s.handleSellNote)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticate requires a configured bearer token; with no tokens configured
// the API is open.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		const scheme = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, scheme) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(header[len(scheme):])
		if _, ok := s.tokens[token]; !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit throttles per client address when a limit is configured.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limits.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !s.obtainLimiter(clientID(r)).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) obtainLimiter(id string) *rate.Limiter {
	s.visitorMu.Lock()
	defer s.visitorMu.Unlock()
	limiter, ok := s.visitors[id]
	if !ok {
		burst := s.limits.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.limits.RequestsPerMinute/60), burst)
		s.visitors[id] = limiter
	}
	return limiter
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// idempotency replays the cached response when the client retries with the
// same Idempotency-Key.
func (s *Server) idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(headerIdempotency))
		if s.idem == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if status, body, ok := s.idem.Lookup(key, s.now()); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write(body)
			return
		}
		recorder := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if err := s.idem.Store(key, recorder.status, recorder.body.Bytes(), s.now()); err != nil {
			s.logger.Error("cache idempotent response", "error", err)
		}
	})
}

type depositRequest struct {
	Account string `json:"account"`
	Depth   string `json:"depth"`
	Amount  string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	account, ok := parseAddress(req.Account)
	if !ok {
		s.badRequest(w, "account must be a hex address")
		return
	}
	depth, ok := parseBig(req.Depth)
	if !ok {
		s.badRequest(w, "depth must be a decimal integer")
		return
	}
	amount, ok := parseBig(req.Amount)
	if !ok {
		s.badRequest(w, "amount must be a decimal integer")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	shares, err := s.pool.Deposit(account, depth, amount)
	if err != nil {
		s.operationError(w, "deposit", err)
		return
	}
	s.metrics.deposits.Inc()
	s.persist("deposit")
	writeJSON(w, http.StatusOK, map[string]string{
		"operationId": uuid.NewString(),
		"shares":      shares.String(),
	})
}

type redeemRequest struct {
	Account string `json:"account"`
	Depth   string `json:"depth"`
	Shares  string `json:"shares"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !s.decode(w, r, &req) {
		return
	}
	account, ok := parseAddress(req.Account)
	if !ok {
		s.badRequest(w, "account must be a hex address")
		return
	}
	depth, ok := parseBig(req.Depth)
	if !ok {
		s.badRequest(w, "depth must be a decimal integer")
		return
	}
	shares, ok := parseBig(req.Shares)
	if !ok {
		s.badRequest(w, "shares must be a decimal integer")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	if err := s.pool.Redeem(account, depth, shares); err != nil {
		s.operationError(w, "redeem", err)
		return
	}
	s.metrics.redemptions.Inc()
	s.persist("redeem")
	writeJSON(w, http.StatusOK, map[string]string{"operationId": uuid.NewString()})
}

type withdrawRequest struct {
	Account string `json:"account"`
	Depth   string `json:"depth"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	account, ok := parseAddress(req.Account)
	if !ok {
		s.badRequest(w, "account must be a hex address")
		return
	}
	depth, ok := parseBig(req.Depth)
	if !ok {
		s.badRequest(w, "depth must be a decimal integer")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	amount, err := s.pool.Withdraw(account, depth)
	if err != nil {
		s.operationError(w, "withdraw", err)
		return
	}
	s.metrics.withdrawals.Inc()
	s.persist("withdraw")
	writeJSON(w, http.StatusOK, map[string]string{
		"operationId": uuid.NewString(),
		"amount":      amount.String(),
	})
}

func (s *Server) handleRedemptionStatus(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(r.URL.Query().Get("account"))
	if !ok {
		s.badRequest(w, "account must be a hex address")
		return
	}
	depth, ok := parseBig(r.URL.Query().Get("depth"))
	if !ok {
		s.badRequest(w, "depth must be a decimal integer")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	shares, amount, err := s.pool.RedemptionAvailable(account, depth)
	if err != nil {
		s.operationError(w, "redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sharesSettled": shares.String(),
		"amount":        amount.String(),
	})
}

type trancheView struct {
	Depth      string `json:"depth"`
	Shares     string `json:"shares"`
	Available  string `json:"available"`
	Used       string `json:"used"`
	SharePrice string `json:"sharePrice"`
}

func (s *Server) handleTranches(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tranches := s.pool.Ledger().Tranches()
	views := make([]trancheView, 0, len(tranches))
	for _, t := range tranches {
		views = append(views, trancheView{
			Depth:      t.Depth.String(),
			Shares:     t.Shares.String(),
			Available:  t.Available.String(),
			Used:       t.Used.String(),
			SharePrice: t.SharePrice().String(),
		})
		value, _ := new(big.Float).SetInt(t.Value()).Float64()
		s.metrics.SetTrancheValue(t.Depth.String(), value)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tranches": views})
}

type loanRequest struct {
	Borrower          string `json:"borrower,omitempty"`
	Principal         string `json:"principal"`
	DurationSeconds   uint64 `json:"durationSeconds"`
	CollateralToken   string `json:"collateralToken"`
	CollateralTokenID string `json:"collateralTokenId"`
	GateContext       string `json:"gateContext,omitempty"`
	MaxRepayment      string `json:"maxRepayment,omitempty"`
}

func (s *Server) parseLoanRequest(w http.ResponseWriter, req *loanRequest) (*big.Int, common.Address, *big.Int, []byte, bool) {
	principal, ok := parseBig(req.Principal)
	if !ok {
		s.badRequest(w, "principal must be a decimal integer")
		return nil, common.Address{}, nil, nil, false
	}
	token, ok := parseAddress(req.CollateralToken)
	if !ok {
		s.badRequest(w, "collateralToken must be a hex address")
		return nil, common.Address{}, nil, nil, false
	}
	tokenID, ok := parseBig(req.CollateralTokenID)
	if !ok {
		s.badRequest(w, "collateralTokenId must be a decimal integer")
		return nil, common.Address{}, nil, nil, false
	}
	context, ok := parseHex(req.GateContext)
	if !ok {
		s.badRequest(w, "gateContext must be hex encoded")
		return nil, common.Address{}, nil, nil, false
	}
	return principal, token, tokenID, context, true
}

func (s *Server) handlePriceLoan(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if !s.decode(w, r, &req) {
		return
	}
	principal, token, tokenID, context, ok := s.parseLoanRequest(w, &req)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	repayment, err := s.pool.PriceLoan(principal, req.DurationSeconds, token, tokenID, context)
	if err != nil {
		s.operationError(w, "price_loan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"repayment": repayment.String()})
}

func (s *Server) handleOriginate(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if !s.decode(w, r, &req) {
		return
	}
	principal, token, tokenID, context, ok := s.parseLoanRequest(w, &req)
	if !ok {
		return
	}
	borrower, ok := parseAddress(req.Borrower)
	if !ok {
		s.badRequest(w, "borrower must be a hex address")
		return
	}
	var ceiling *big.Int
	if strings.TrimSpace(req.MaxRepayment) != "" {
		if ceiling, ok = parseBig(req.MaxRepayment); !ok {
			s.badRequest(w, "maxRepayment must be a decimal integer")
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	encoded, err := s.pool.OriginateLoan(borrower, principal, req.DurationSeconds, token, tokenID, context, ceiling)
	if err != nil {
		s.operationError(w, "originate", err)
		return
	}
	receipt, err := pool.DecodeLoanReceipt(encoded)
	if err != nil {
		s.operationError(w, "originate", err)
		return
	}
	loanID, err := receipt.Hash()
	if err != nil {
		s.operationError(w, "originate", err)
		return
	}
	s.metrics.originations.Inc()
	s.persist("originate")
	writeJSON(w, http.StatusOK, map[string]string{
		"loanId":    loanID.Hex(),
		"receipt":   "0x" + hex.EncodeToString(encoded),
		"repayment": receipt.Repayment.String(),
		"maturity":  new(big.Int).SetUint64(receipt.Maturity).String(),
	})
}

type receiptRequest struct {
	Receipt  string `json:"receipt"`
	Proceeds string `json:"proceeds,omitempty"`
}

func (s *Server) parseReceipt(w http.ResponseWriter, req *receiptRequest) ([]byte, bool) {
	encoded, ok := parseHex(req.Receipt)
	if !ok || len(encoded) == 0 {
		s.badRequest(w, "receipt must be hex encoded")
		return nil, false
	}
	return encoded, true
}

func (s *Server) handleRepaid(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !s.decode(w, r, &req) {
		return
	}
	encoded, ok := s.parseReceipt(w, &req)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	if err := s.pool.OnLoanRepaid(encoded); err != nil {
		s.operationError(w, "repaid", err)
		return
	}
	s.metrics.repayments.Inc()
	s.persist("repaid")
	writeJSON(w, http.StatusOK, map[string]string{"status": "repaid"})
}

func (s *Server) handleExpired(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !s.decode(w, r, &req) {
		return
	}
	encoded, ok := s.parseReceipt(w, &req)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	if err := s.pool.OnLoanExpired(encoded); err != nil {
		s.operationError(w, "expired", err)
		return
	}
	s.metrics.expirations.Inc()
	s.persist("expired")
	writeJSON(w, http.StatusOK, map[string]string{"status": "expired"})
}

func (s *Server) handleLiquidated(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !s.decode(w, r, &req) {
		return
	}
	encoded, ok := s.parseReceipt(w, &req)
	if !ok {
		return
	}
	proceeds, ok := parseBig(req.Proceeds)
	if !ok {
		s.badRequest(w, "proceeds must be a decimal integer")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	if err := s.pool.OnCollateralLiquidated(encoded, proceeds); err != nil {
		s.operationError(w, "liquidated", err)
		return
	}
	s.metrics.liquidations.Inc()
	s.persist("liquidated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "liquidated"})
}

type noteRequest struct {
	NoteToken   string `json:"noteToken"`
	NoteTokenID string `json:"noteTokenId"`
	NoteContext string `json:"noteContext"`
	GateContext string `json:"gateContext,omitempty"`
}

func (s *Server) parseNoteRequest(w http.ResponseWriter, req *noteRequest) (common.Address, *big.Int, []byte, []byte, bool) {
	token, ok := parseAddress(req.NoteToken)
	if !ok {
		s.badRequest(w, "noteToken must be a hex address")
		return common.Address{}, nil, nil, nil, false
	}
	tokenID, ok := parseBig(req.NoteTokenID)
	if !ok {
		s.badRequest(w, "noteTokenId must be a decimal integer")
		return common.Address{}, nil, nil, nil, false
	}
	noteContext, ok := parseHex(req.NoteContext)
	if !ok {
		s.badRequest(w, "noteContext must be hex encoded")
		return common.Address{}, nil, nil, nil, false
	}
	gateContext, ok := parseHex(req.GateContext)
	if !ok {
		s.badRequest(w, "gateContext must be hex encoded")
		return common.Address{}, nil, nil, nil, false
	}
	return token, tokenID, noteContext, gateContext, true
}

func (s *Server) handlePriceNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !s.decode(w, r, &req) {
		return
	}
	token, tokenID, noteContext, gateContext, ok := s.parseNoteRequest(w, &req)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	repayment, err := s.pool.PriceNote(token, tokenID, noteContext, gateContext)
	if err != nil {
		s.operationError(w, "price_note", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"repayment": repayment.String()})
}

func (s *Server) handleSellNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !s.decode(w, r, &req) {
		return
	}
	token, tokenID, noteContext, gateContext, ok := s.parseNoteRequest(w, &req)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceClock()
	price, encoded, err := s.pool.SellNote(token, tokenID, noteContext, gateContext)
	if err != nil {
		s.operationError(w, "sell_note", err)
		return
	}
	s.metrics.notesBought.Inc()
	s.persist("sell_note")
	writeJSON(w, http.StatusOK, map[string]string{
		"purchasePrice": price.String(),
		"receipt":       "0x" + hex.EncodeToString(encoded),
	})
}

// advanceClock drives the pool's maturity clock from wall time. Callers hold
// the pool mutex.
func (s *Server) advanceClock() {
	s.pool.SetTimestamp(uint64(s.now().Unix()))
}

// persist snapshots the pool after a successful mutation.
func (s *Server) persist(operation string) {
	if s.store == nil {
		return
	}
	if err := s.pool.Persist(s.store); err != nil {
		s.logger.Error("persist pool state", "operation", operation, "error", err)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		s.badRequest(w, "malformed request body")
		return false
	}
	return true
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

// operationError maps pool errors onto HTTP status codes and records the
// failure.
func (s *Server) operationError(w http.ResponseWriter, operation string, err error) {
	s.metrics.ObserveError(operation)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrInvalidParameters),
		errors.Is(err, pool.ErrInvalidReceipt),
		errors.Is(err, adapters.ErrMalformedNote),
		errors.Is(err, adapters.ErrUnknownNote):
		status = http.StatusBadRequest
	case errors.Is(err, pool.ErrCollateralNotSupported),
		errors.Is(err, pool.ErrNoAdapter):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrUnknownTranche),
		errors.Is(err, pool.ErrNothingAvailable):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrRepaymentTooHigh),
		errors.Is(err, pool.ErrRedemptionPending),
		errors.Is(err, pool.ErrAlreadyInitialized):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("pool operation failed", "operation", operation, "error", err)
	} else {
		s.logger.Info("pool operation rejected", "operation", operation, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseAddress(raw string) (common.Address, bool) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseBig(raw string) (*big.Int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, false
	}
	return value, true
}

func parseHex(raw string) ([]byte, bool) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if raw == "" {
		return nil, true
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, false
	}
	return decoded, true
}
