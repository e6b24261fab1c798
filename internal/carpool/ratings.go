package carpool

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

// RatingSummary aggregates the ratings of one driver.
type RatingSummary struct {
	Driver  string  `json:"driver"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// AddRating appends a score between 1 and 5 for a driver.
func (s *Service) AddRating(ctx context.Context, signer ledger.Signer, rating codec.Rating) (store.Result, error) {
	if err := required(map[string]string{"rater": rating.Rater, "driver": rating.Driver, "score": rating.Score}); err != nil {
		return store.Result{}, err
	}
	if err := checkFields(map[string]string{"rater": rating.Rater, "driver": rating.Driver}); err != nil {
		return store.Result{}, err
	}
	score, err := strconv.Atoi(strings.TrimSpace(rating.Score))
	if err != nil || score < 1 || score > 5 {
		return store.Result{}, fmt.Errorf("%w: score must be 1-5, got %q", ErrInvalidInput, rating.Score)
	}
	rating.Score = strconv.Itoa(score)

	res, err := s.store.Mutate(ctx, signer, store.Mutation{
		Table:     s.tables.Ratings,
		Operation: "add_rating",
		Apply:     store.Insert(rating.Row()),
	})
	if err != nil {
		return res, err
	}

	logging.OperationLogger(ctx, s.tables.Ratings.Name, "add_rating").Info("rating added",
		"rater", rating.Rater,
		"driver", rating.Driver,
		"score", score,
		"tx_hash", res.TxHash.Hex(),
	)
	return res, nil
}

// DriverRating averages every numeric rating of driver. Unparseable scores
// are skipped.
func (s *Service) DriverRating(ctx context.Context, driver string) (RatingSummary, error) {
	snap, err := s.store.Read(ctx, s.tables.Ratings)
	if err != nil {
		return RatingSummary{}, err
	}

	summary := RatingSummary{Driver: driver}
	total := 0.0
	for _, row := range snap.Rows {
		r := codec.RatingFromRow(row)
		if r.Driver != driver {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Score), 64)
		if err != nil {
			continue
		}
		total += v
		summary.Count++
	}
	if summary.Count > 0 {
		summary.Average = total / float64(summary.Count)
	}
	return summary, nil
}
