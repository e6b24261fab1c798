package carpool

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/notify"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

// Ride id range, inclusive.
const (
	minRideID = 1000
	maxRideID = 9999
)

// NewRideID returns a random ride id in [1000, 9999].
func NewRideID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxRideID-minRideID+1))
	if err != nil {
		return "", fmt.Errorf("generate ride id: %w", err)
	}
	return fmt.Sprint(n.Int64() + minRideID), nil
}

// RideRequest is a driver's offer of a ride.
type RideRequest struct {
	ID         string `json:"ride_id,omitempty"`
	Driver     string `json:"driver"`
	Location   string `json:"location"`
	Lat        string `json:"lat"`
	Lng        string `json:"lng"`
	Seats      string `json:"seats"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Recurrence string `json:"recurrence"`
}

// CreateRide appends a waiting ride. Missing date, time and recurrence
// default to today, 12:00 and none.
func (s *Service) CreateRide(ctx context.Context, signer ledger.Signer, req RideRequest) (codec.Ride, store.Result, error) {
	if err := required(map[string]string{"driver": req.Driver, "location": req.Location}); err != nil {
		return codec.Ride{}, store.Result{}, err
	}
	if err := checkFields(map[string]string{
		"ride_id":    req.ID,
		"driver":     req.Driver,
		"location":   req.Location,
		"lat":        req.Lat,
		"lng":        req.Lng,
		"seats":      req.Seats,
		"date":       req.Date,
		"time":       req.Time,
		"recurrence": req.Recurrence,
	}); err != nil {
		return codec.Ride{}, store.Result{}, err
	}

	ride := codec.Ride{
		ID:         req.ID,
		Driver:     req.Driver,
		Location:   req.Location,
		Lat:        req.Lat,
		Lng:        req.Lng,
		Seats:      req.Seats,
		Date:       req.Date,
		Status:     codec.RideWaiting,
		Time:       req.Time,
		Recurrence: req.Recurrence,
	}
	if ride.ID == "" {
		id, err := NewRideID()
		if err != nil {
			return codec.Ride{}, store.Result{}, err
		}
		ride.ID = id
	}
	if ride.Date == "" {
		ride.Date = time.Now().UTC().Format("2006-01-02")
	}
	if ride.Time == "" {
		ride.Time = "12:00"
	}
	if ride.Recurrence == "" {
		ride.Recurrence = "none"
	}

	res, err := s.store.Mutate(ctx, signer, store.Mutation{
		Table:     s.tables.Rides,
		Operation: "create_ride",
		Apply:     store.Insert(ride.Row()),
	})
	if err != nil {
		return codec.Ride{}, res, err
	}

	logging.OperationLogger(ctx, s.tables.Rides.Name, "create_ride").Info("ride created",
		"ride_id", ride.ID,
		"driver", ride.Driver,
		"tx_hash", res.TxHash.Hex(),
	)
	s.publish(ctx, notify.Event{Type: notify.RideCreated, RideID: ride.ID, Driver: ride.Driver, TxHash: res.TxHash.Hex()})
	return ride, res, nil
}

// CompleteRideStatus marks every row of rideID completed. An unknown ride
// leaves the table untouched and returns store.ErrRecordNotFound.
func (s *Service) CompleteRideStatus(ctx context.Context, signer ledger.Signer, rideID string) (store.Result, error) {
	logger := logging.OperationLogger(ctx, s.tables.Rides.Name, "complete_ride")

	res, err := s.store.Mutate(ctx, signer, store.Mutation{
		Table:     s.tables.Rides,
		Operation: "complete_ride",
		Apply: store.UpdateWhere(
			func(r codec.Row) bool { return r.Field(codec.RideID) == rideID },
			func(r codec.Row) (codec.Row, error) {
				for len(r) <= codec.RideStatus {
					r = append(r, "")
				}
				r[codec.RideStatus] = codec.RideCompleted
				return r, nil
			},
			store.ReportNotFound,
		),
	})
	if errors.Is(err, store.ErrRecordNotFound) {
		logger.Warn("ride not found in ride records", "ride_id", rideID)
		return res, fmt.Errorf("ride %s: %w", rideID, store.ErrRecordNotFound)
	}
	return res, err
}
