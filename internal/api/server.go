// Package api serves the carpool operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/withObsrvr/carpool-ledger/internal/carpool"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/payment"
	"github.com/withObsrvr/carpool-ledger/internal/store"
	"github.com/withObsrvr/carpool-ledger/internal/wallet"
)

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

const maxBodyBytes = 1 << 20

// Deps are the components the server exposes.
type Deps struct {
	Carpool  *carpool.Service
	Verifier *payment.Verifier
	Token    *payment.Token
	Signer   ledger.Signer
	// DistributeAmount is the whole-token amount sent by POST /token/grant.
	DistributeAmount int64
}

// Server routes HTTP requests to the carpool service.
type Server struct {
	carpool    *carpool.Service
	verifier   *payment.Verifier
	token      *payment.Token
	signer     ledger.Signer
	distribute *big.Int
}

// NewServer creates a server over deps.
func NewServer(deps Deps) *Server {
	return &Server{
		carpool:    deps.Carpool,
		verifier:   deps.Verifier,
		token:      deps.Token,
		signer:     deps.Signer,
		distribute: big.NewInt(deps.DistributeAmount),
	}
}

// Handler returns the routed handler wrapped in request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /accounts", s.createAccount)
	mux.HandleFunc("POST /sessions", s.login)

	mux.HandleFunc("POST /rides", s.createRide)
	mux.HandleFunc("GET /rides", s.waitingRides)
	mux.HandleFunc("GET /rides/scheduled", s.scheduledRides)
	mux.HandleFunc("GET /rides/{rideID}", s.ride)
	mux.HandleFunc("POST /rides/{rideID}/claims", s.claimRide)
	mux.HandleFunc("POST /rides/{rideID}/complete", s.completeRide)

	mux.HandleFunc("POST /ratings", s.addRating)
	mux.HandleFunc("GET /drivers", s.drivers)
	mux.HandleFunc("GET /drivers/{username}/rating", s.driverRating)
	mux.HandleFunc("GET /drivers/{username}/paid", s.paidRides)
	mux.HandleFunc("GET /passengers/{username}/payments", s.pendingPayments)
	mux.HandleFunc("GET /users/{username}/wallet", s.wallet)

	mux.HandleFunc("GET /token", s.tokenDescriptor)
	mux.HandleFunc("GET /token/balance/{address}", s.tokenBalance)
	mux.HandleFunc("POST /token/grant", s.grantTokens)
	mux.HandleFunc("POST /payments/verify", s.verifyPayment)

	return s.withRequestContext(mux)
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestContext assigns a correlation id and logs each request.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := r.Context()
		if id := r.Header.Get(CorrelationHeader); id != "" {
			ctx = logging.WithCorrelationID(ctx, id)
		}
		ctx, id := logging.EnsureCorrelationID(ctx)
		w.Header().Set(CorrelationHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger := logging.RequestLogger(ctx, r.Method, r.URL.Path)
		attrs := []any{"status", rec.status, "duration", time.Since(start)}
		if rec.status >= http.StatusInternalServerError {
			logger.Error("request failed", attrs...)
		} else {
			logger.Info("request handled", attrs...)
		}
	})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, errorBody{Error: code, Reason: err.Error()})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", carpool.ErrInvalidInput, err)
	}
	return nil
}

// classify maps domain errors to HTTP status codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, carpool.ErrInvalidInput), errors.Is(err, payment.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, carpool.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, store.ErrRecordNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, wallet.ErrWalletNotFound):
		return http.StatusNotFound, "wallet_not_found"
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction_not_found"
	case errors.Is(err, carpool.ErrAccountExists):
		return http.StatusConflict, "account_exists"
	case errors.Is(err, carpool.ErrAlreadyPaid):
		return http.StatusConflict, "already_paid"
	case errors.Is(err, carpool.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, payment.ErrNoMatchingTransfer):
		return http.StatusUnprocessableEntity, "no_matching_transfer"
	case errors.Is(err, ledger.ErrTransactionFailed):
		return http.StatusUnprocessableEntity, "transaction_failed"
	case errors.Is(err, ledger.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout, "confirmation_timeout"
	case errors.Is(err, ledger.ErrConnectivity):
		return http.StatusServiceUnavailable, "ledger_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
