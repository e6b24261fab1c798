package carpool

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/notify"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

// ClaimRequest is a passenger asking for a seat on a ride.
type ClaimRequest struct {
	RideID    string `json:"ride_id"`
	Driver    string `json:"driver"`
	Passenger string `json:"passenger"`
}

// CompleteRequest is a driver closing a ride for one passenger.
type CompleteRequest struct {
	RideID    string `json:"ride_id"`
	Driver    string `json:"driver"`
	Passenger string `json:"passenger"`
	Miles     string `json:"miles"`
	Amount    string `json:"amount"`
}

// CompletionResult reports both writes of a ride completion.
type CompletionResult struct {
	Claim     store.Result `json:"-"`
	Ride      store.Result `json:"-"`
	RideFound bool         `json:"ride_found"`
}

// PaymentUpdate reports the outcome of MarkClaimPaid.
type PaymentUpdate struct {
	// Matched is false when no claim exists for the passenger and ride.
	Matched bool
	// AlreadyRecorded is true when the claim already carried the hash.
	AlreadyRecorded bool
	Result          store.Result
}

func claimKey(passenger, rideID string) func(codec.Row) bool {
	return func(r codec.Row) bool {
		return r.Field(codec.ClaimPassenger) == passenger && r.Field(codec.ClaimRideID) == rideID
	}
}

// padClaim extends short claim rows to the full field count.
func padClaim(r codec.Row) codec.Row {
	for len(r) <= codec.ClaimStatus {
		r = append(r, "")
	}
	return r
}

// ClaimRide appends a waiting claim whose id is the table's row count plus
// one.
func (s *Service) ClaimRide(ctx context.Context, signer ledger.Signer, req ClaimRequest) (codec.Claim, store.Result, error) {
	if err := required(map[string]string{"ride_id": req.RideID, "passenger": req.Passenger}); err != nil {
		return codec.Claim{}, store.Result{}, err
	}
	if err := checkFields(map[string]string{"ride_id": req.RideID, "driver": req.Driver, "passenger": req.Passenger}); err != nil {
		return codec.Claim{}, store.Result{}, err
	}

	var claim codec.Claim
	res, err := s.store.Mutate(ctx, signer, store.Mutation{
		Table:     s.tables.Claims,
		Operation: "claim_ride",
		Apply: store.InsertFunc(func(rows []codec.Row) (codec.Row, error) {
			claim = codec.Claim{
				ID:        fmt.Sprint(len(rows) + 1),
				RideID:    req.RideID,
				Driver:    req.Driver,
				Passenger: req.Passenger,
				Miles:     "0",
				Amount:    "0",
				PaymentTx: codec.NoPayment,
				Unused:    "0",
				Status:    codec.ClaimWaiting,
			}
			return claim.Row(), nil
		}),
	})
	if err != nil {
		return codec.Claim{}, res, err
	}

	logging.OperationLogger(ctx, s.tables.Claims.Name, "claim_ride").Info("ride claimed",
		"claim_id", claim.ID,
		"ride_id", claim.RideID,
		"passenger", claim.Passenger,
		"tx_hash", res.TxHash.Hex(),
	)
	s.publish(ctx, notify.Event{
		Type:      notify.RideClaimed,
		RideID:    claim.RideID,
		ClaimID:   claim.ID,
		Driver:    claim.Driver,
		Passenger: claim.Passenger,
		TxHash:    res.TxHash.Hex(),
	})
	return claim, res, nil
}

// CompleteClaim sets miles and amount on the passenger's claim for the ride
// and marks it completed. When no claim exists a completed one is appended.
// A paid claim cannot be completed again.
func (s *Service) CompleteClaim(ctx context.Context, signer ledger.Signer, req CompleteRequest) (store.Result, error) {
	if err := required(map[string]string{"ride_id": req.RideID, "passenger": req.Passenger}); err != nil {
		return store.Result{}, err
	}
	if err := checkFields(map[string]string{
		"ride_id":   req.RideID,
		"driver":    req.Driver,
		"passenger": req.Passenger,
		"miles":     req.Miles,
		"amount":    req.Amount,
	}); err != nil {
		return store.Result{}, err
	}

	miles, amount := orZero(req.Miles), orZero(req.Amount)
	logger := logging.OperationLogger(ctx, s.tables.Claims.Name, "complete_claim")

	res, err := s.store.Mutate(ctx, signer, store.Mutation{
		Table:     s.tables.Claims,
		Operation: "complete_claim",
		Apply: store.UpdateWhere(
			claimKey(req.Passenger, req.RideID),
			func(r codec.Row) (codec.Row, error) {
				r = padClaim(r)
				if r[codec.ClaimStatus] == codec.ClaimPaid {
					return nil, fmt.Errorf("%w: claim for ride %s by %s is paid", ErrInvalidTransition, req.RideID, req.Passenger)
				}
				r[codec.ClaimMiles] = miles
				r[codec.ClaimAmount] = amount
				r[codec.ClaimPaymentTx] = codec.NoPayment
				r[codec.ClaimUnused] = "0"
				r[codec.ClaimStatus] = codec.ClaimCompleted
				return r, nil
			},
			func(rows []codec.Row) ([]codec.Row, error) {
				logger.Info("no claim on record, appending completed claim",
					"ride_id", req.RideID,
					"passenger", req.Passenger,
				)
				synthetic := codec.Claim{
					ID:        fmt.Sprint(len(rows) + 1),
					RideID:    req.RideID,
					Driver:    req.Driver,
					Passenger: req.Passenger,
					Miles:     miles,
					Amount:    amount,
					PaymentTx: codec.NoPayment,
					Unused:    "0",
					Status:    codec.ClaimCompleted,
				}
				return append(rows, synthetic.Row()), nil
			},
		),
	})
	if err != nil {
		return res, err
	}

	logger.Info("claim completed",
		"ride_id", req.RideID,
		"passenger", req.Passenger,
		"amount", amount,
		"tx_hash", res.TxHash.Hex(),
	)
	s.publish(ctx, notify.Event{
		Type:      notify.ClaimCompleted,
		RideID:    req.RideID,
		Driver:    req.Driver,
		Passenger: req.Passenger,
		Amount:    amount,
		TxHash:    res.TxHash.Hex(),
	})
	return res, nil
}

// CompleteRide completes the passenger's claim and then the ride. A ride
// missing from the rides table is logged and reported through RideFound;
// the claim update stands.
func (s *Service) CompleteRide(ctx context.Context, signer ledger.Signer, req CompleteRequest) (CompletionResult, error) {
	claimRes, err := s.CompleteClaim(ctx, signer, req)
	if err != nil {
		return CompletionResult{}, err
	}

	out := CompletionResult{Claim: claimRes, RideFound: true}
	rideRes, err := s.CompleteRideStatus(ctx, signer, req.RideID)
	switch {
	case err == nil:
		out.Ride = rideRes
	case isNotFound(err):
		out.RideFound = false
		out.Ride = rideRes
	default:
		return out, err
	}
	return out, nil
}

// MarkClaimPaid records txHash on the passenger's completed claim for the
// ride and marks it paid. A claim already carrying txHash is left alone;
// a missing claim is a no-op.
func (s *Service) MarkClaimPaid(ctx context.Context, signer ledger.Signer, passenger, rideID, txHash string) (PaymentUpdate, error) {
	if err := required(map[string]string{"passenger": passenger, "ride_id": rideID, "tx_hash": txHash}); err != nil {
		return PaymentUpdate{}, err
	}
	if b, err := hexutil.Decode(txHash); err != nil || len(b) != common.HashLength {
		return PaymentUpdate{}, fmt.Errorf("%w: tx hash %q is not 0x followed by 64 hex digits", ErrInvalidInput, txHash)
	}
	txHash = common.HexToHash(txHash).Hex()

	logger := logging.OperationLogger(ctx, s.tables.Claims.Name, "mark_claim_paid")
	var out PaymentUpdate

	res, err := s.store.Mutate(ctx, signer, store.Mutation{
		Table:     s.tables.Claims,
		Operation: "mark_claim_paid",
		Apply: store.UpdateWhere(
			claimKey(passenger, rideID),
			func(r codec.Row) (codec.Row, error) {
				out.Matched = true
				r = padClaim(r)
				switch r[codec.ClaimStatus] {
				case codec.ClaimPaid:
					if strings.EqualFold(r[codec.ClaimPaymentTx], txHash) {
						out.AlreadyRecorded = true
						return r, nil
					}
					return nil, fmt.Errorf("%w: ride %s by %s paid in %s", ErrAlreadyPaid, rideID, passenger, r[codec.ClaimPaymentTx])
				case codec.ClaimCompleted:
					r[codec.ClaimPaymentTx] = txHash
					r[codec.ClaimStatus] = codec.ClaimPaid
					return r, nil
				default:
					return nil, fmt.Errorf("%w: claim for ride %s by %s is %q", ErrInvalidTransition, rideID, passenger, r[codec.ClaimStatus])
				}
			},
			store.Ignore,
		),
	})
	out.Result = res
	if err != nil {
		return out, err
	}

	switch {
	case !out.Matched:
		logger.Warn("no claim to mark paid", "ride_id", rideID, "passenger", passenger, "tx_hash", txHash)
	case out.AlreadyRecorded:
		logger.Info("payment already recorded", "ride_id", rideID, "passenger", passenger, "tx_hash", txHash)
	default:
		logger.Info("claim marked paid",
			"ride_id", rideID,
			"passenger", passenger,
			"payment_tx", txHash,
			"tx_hash", res.TxHash.Hex(),
		)
		s.publish(ctx, notify.Event{
			Type:      notify.ClaimPaid,
			RideID:    rideID,
			Passenger: passenger,
			TxHash:    txHash,
		})
	}
	return out, nil
}

func orZero(v string) string {
	if strings.TrimSpace(v) == "" {
		return "0"
	}
	return v
}
