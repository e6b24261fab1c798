package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/withObsrvr/carpool-ledger/internal/carpool"
	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/payment"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

// writeResult is the response body of a table write.
type writeResult struct {
	Written bool   `json:"written"`
	TxHash  string `json:"tx_hash,omitempty"`
	Version string `json:"version,omitempty"`
}

func toWriteResult(res store.Result) writeResult {
	out := writeResult{Written: res.Written, Version: res.Version}
	if res.Written {
		out.TxHash = res.TxHash.Hex()
	}
	return out
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req carpool.Signup
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.carpool.CreateAccount(r.Context(), s.signer, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Wallet   string `json:"wallet_address"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := s.carpool.Login(r.Context(), req.Username, req.Password, req.Wallet)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type rideResponse struct {
	Ride  codec.Ride  `json:"ride"`
	Write writeResult `json:"write"`
}

func (s *Server) createRide(w http.ResponseWriter, r *http.Request) {
	var req carpool.RideRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ride, res, err := s.carpool.CreateRide(r.Context(), s.signer, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rideResponse{Ride: ride, Write: toWriteResult(res)})
}

func (s *Server) waitingRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.carpool.WaitingRides(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) scheduledRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.carpool.ScheduledRides(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

type rideDetail struct {
	Ride   codec.Ride    `json:"ride"`
	Claims []codec.Claim `json:"claims"`
}

func (s *Server) ride(w http.ResponseWriter, r *http.Request) {
	rideID := r.PathValue("rideID")
	ride, err := s.carpool.Ride(r.Context(), rideID)
	if err != nil {
		writeError(w, err)
		return
	}
	claims, err := s.carpool.ClaimsForRide(r.Context(), rideID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideDetail{Ride: ride, Claims: claims})
}

type claimBody struct {
	Driver    string `json:"driver"`
	Passenger string `json:"passenger"`
}

type claimResponse struct {
	Claim codec.Claim `json:"claim"`
	Write writeResult `json:"write"`
}

func (s *Server) claimRide(w http.ResponseWriter, r *http.Request) {
	var body claimBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	claim, res, err := s.carpool.ClaimRide(r.Context(), s.signer, carpool.ClaimRequest{
		RideID:    r.PathValue("rideID"),
		Driver:    body.Driver,
		Passenger: body.Passenger,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claimResponse{Claim: claim, Write: toWriteResult(res)})
}

type completeBody struct {
	Driver    string `json:"driver"`
	Passenger string `json:"passenger"`
	Miles     string `json:"miles"`
	Amount    string `json:"amount"`
}

type completeResponse struct {
	Claim     writeResult `json:"claim"`
	Ride      writeResult `json:"ride"`
	RideFound bool        `json:"ride_found"`
}

func (s *Server) completeRide(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.carpool.CompleteRide(r.Context(), s.signer, carpool.CompleteRequest{
		RideID:    r.PathValue("rideID"),
		Driver:    body.Driver,
		Passenger: body.Passenger,
		Miles:     body.Miles,
		Amount:    body.Amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{
		Claim:     toWriteResult(res.Claim),
		Ride:      toWriteResult(res.Ride),
		RideFound: res.RideFound,
	})
}

func (s *Server) addRating(w http.ResponseWriter, r *http.Request) {
	var rating codec.Rating
	if err := decode(r, &rating); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.carpool.AddRating(r.Context(), s.signer, rating)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWriteResult(res))
}

func (s *Server) drivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.carpool.Drivers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drivers)
}

func (s *Server) driverRating(w http.ResponseWriter, r *http.Request) {
	summary, err := s.carpool.DriverRating(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) paidRides(w http.ResponseWriter, r *http.Request) {
	claims, err := s.carpool.PaidRides(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func (s *Server) pendingPayments(w http.ResponseWriter, r *http.Request) {
	query := s.carpool.PendingPayments
	if unpaid, _ := strconv.ParseBool(r.URL.Query().Get("unpaid")); unpaid {
		query = s.carpool.UnpaidCompleted
	}
	claims, err := query(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

type walletResponse struct {
	Username string `json:"username"`
	Wallet   string `json:"wallet_address"`
}

func (s *Server) wallet(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	addr, err := s.carpool.Wallets().Resolve(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{Username: username, Wallet: addr})
}

func (s *Server) tokenDescriptor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.token.Descriptor())
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) tokenBalance(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	balance, err := s.token.Balance(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: addr, Balance: balance})
}

type grantRequest struct {
	Username string `json:"username"`
	Wallet   string `json:"wallet_address"`
}

type grantResponse struct {
	Wallet string `json:"wallet_address"`
	Amount string `json:"amount"`
	TxHash string `json:"tx_hash"`
}

// grantTokens sends the configured distribution amount to a user's wallet
// or to an explicit address.
func (s *Server) grantTokens(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	addr := strings.TrimSpace(req.Wallet)
	if addr == "" {
		if req.Username == "" {
			writeError(w, fmt.Errorf("%w: username or wallet_address is required", carpool.ErrInvalidInput))
			return
		}
		resolved, err := s.carpool.Wallets().Resolve(r.Context(), req.Username)
		if err != nil {
			writeError(w, err)
			return
		}
		addr = resolved
	}
	if !common.IsHexAddress(addr) {
		writeError(w, fmt.Errorf("%w: %q is not an address", payment.ErrInvalidRequest, addr))
		return
	}

	tx, err := s.token.Grant(r.Context(), s.signer, common.HexToAddress(addr), s.distribute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse{Wallet: addr, Amount: s.distribute.String(), TxHash: tx.Hex()})
}

type verifyRequest struct {
	TxHash            string `json:"tx_hash"`
	ExpectedRecipient string `json:"expected_recipient"`
	MinAmount         string `json:"min_amount"`
	Passenger         string `json:"passenger"`
	RideID            string `json:"ride_id"`
}

type verifyResponse struct {
	Status          string `json:"status"`
	TxHash          string `json:"tx_hash"`
	Amount          string `json:"amount"`
	AlreadyRecorded bool   `json:"already_recorded"`
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	minAmount, err := payment.ParseUnits(req.MinAmount)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := s.verifier.Verify(r.Context(), s.signer, payment.Request{
		TxHash:            req.TxHash,
		ExpectedRecipient: req.ExpectedRecipient,
		MinAmount:         minAmount,
		Passenger:         req.Passenger,
		RideID:            req.RideID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Status:          "ok",
		TxHash:          out.TxHash,
		Amount:          out.Transfer.Value.String(),
		AlreadyRecorded: out.Update.AlreadyRecorded,
	})
}
