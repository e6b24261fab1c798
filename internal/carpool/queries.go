package carpool

import (
	"context"
	"errors"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrRecordNotFound)
}

// zeroAmount reports whether a claim amount means nothing is owed.
func zeroAmount(v string) bool {
	return v == "" || v == "0" || v == "0.0"
}

func (s *Service) rides(ctx context.Context, keep func(codec.Row) bool) ([]codec.Ride, error) {
	snap, err := s.store.Read(ctx, s.tables.Rides)
	if err != nil {
		return nil, err
	}
	out := []codec.Ride{}
	for _, row := range codec.Filter(snap.Rows, keep) {
		out = append(out, codec.RideFromRow(row))
	}
	return out, nil
}

func (s *Service) claims(ctx context.Context, keep func(codec.Claim) bool) ([]codec.Claim, error) {
	snap, err := s.store.Read(ctx, s.tables.Claims)
	if err != nil {
		return nil, err
	}
	out := []codec.Claim{}
	for _, row := range snap.Rows {
		if len(row) <= codec.ClaimStatus {
			continue
		}
		if c := codec.ClaimFromRow(row); keep(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// WaitingRides returns rides still open for claims.
func (s *Service) WaitingRides(ctx context.Context) ([]codec.Ride, error) {
	return s.rides(ctx, func(r codec.Row) bool {
		return len(r) > codec.RideStatus && r[codec.RideStatus] == codec.RideWaiting
	})
}

// ScheduledRides returns rides that carry a time slot.
func (s *Service) ScheduledRides(ctx context.Context) ([]codec.Ride, error) {
	return s.rides(ctx, func(r codec.Row) bool {
		return codec.RideFromRow(r).Scheduled()
	})
}

// Ride returns the first ride with rideID.
func (s *Service) Ride(ctx context.Context, rideID string) (codec.Ride, error) {
	rides, err := s.rides(ctx, func(r codec.Row) bool { return r.Field(codec.RideID) == rideID })
	if err != nil {
		return codec.Ride{}, err
	}
	if len(rides) == 0 {
		return codec.Ride{}, store.ErrRecordNotFound
	}
	return rides[0], nil
}

// ClaimsForRide returns every claim on rideID.
func (s *Service) ClaimsForRide(ctx context.Context, rideID string) ([]codec.Claim, error) {
	return s.claims(ctx, func(c codec.Claim) bool { return c.RideID == rideID })
}

// PendingPayments returns the passenger's completed claims with an amount
// owed, whether or not a payment tx is already attached.
func (s *Service) PendingPayments(ctx context.Context, passenger string) ([]codec.Claim, error) {
	return s.claims(ctx, func(c codec.Claim) bool {
		return c.Passenger == passenger && c.Status == codec.ClaimCompleted && !zeroAmount(c.Amount)
	})
}

// UnpaidCompleted returns the passenger's completed claims with a non-zero
// amount and no payment recorded.
func (s *Service) UnpaidCompleted(ctx context.Context, passenger string) ([]codec.Claim, error) {
	return s.claims(ctx, func(c codec.Claim) bool {
		return c.Passenger == passenger &&
			c.Status == codec.ClaimCompleted &&
			!zeroAmount(c.Amount) &&
			(c.PaymentTx == codec.NoPayment || c.PaymentTx == "")
	})
}

// PaidRides returns the driver's paid claims with a non-zero amount.
func (s *Service) PaidRides(ctx context.Context, driver string) ([]codec.Claim, error) {
	return s.claims(ctx, func(c codec.Claim) bool {
		return c.Driver == driver && c.Status == codec.ClaimPaid && !zeroAmount(c.Amount)
	})
}

// Drivers returns every driver account without passwords.
func (s *Service) Drivers(ctx context.Context) ([]codec.Account, error) {
	snap, err := s.store.Read(ctx, s.tables.Accounts)
	if err != nil {
		return nil, err
	}
	out := []codec.Account{}
	for _, row := range snap.Rows {
		if row.Field(codec.AccountRole) != codec.RoleDriver {
			continue
		}
		a := codec.AccountFromRow(row)
		a.Password = ""
		out = append(out, a)
	}
	return out, nil
}
