// Package carpool implements the carpool table operations on top of the
// ledger record store.
package carpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/notify"
	"github.com/withObsrvr/carpool-ledger/internal/store"
	"github.com/withObsrvr/carpool-ledger/internal/wallet"
)

var (
	// ErrAccountExists indicates a signup for a username already on record.
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidTransition indicates a status change that would move a
	// ride or claim backwards.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyPaid indicates a claim already paid by another transaction.
	ErrAlreadyPaid = errors.New("claim already paid")

	// ErrInvalidInput indicates a malformed request, including values that
	// would corrupt the table encoding.
	ErrInvalidInput = errors.New("invalid input")
)

// TableStore is the record store surface the service needs.
type TableStore interface {
	Read(ctx context.Context, t store.Table) (store.Snapshot, error)
	Mutate(ctx context.Context, signer ledger.Signer, m store.Mutation) (store.Result, error)
}

// Granter sends whole tokens to a wallet.
type Granter interface {
	Grant(ctx context.Context, signer ledger.Signer, to common.Address, whole *big.Int) (common.Hash, error)
}

// Service exposes every carpool table operation.
type Service struct {
	store     TableStore
	tables    store.Tables
	wallets   *wallet.Directory
	publisher notify.Publisher
	granter   Granter
	grant     *big.Int
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes domain events after successful writes.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithSignupGrant sends whole tokens to every new account's wallet.
func WithSignupGrant(g Granter, whole int64) Option {
	return func(s *Service) {
		s.granter = g
		s.grant = big.NewInt(whole)
	}
}

// NewService creates a service over st.
func NewService(st TableStore, tables store.Tables, wallets *wallet.Directory, opts ...Option) *Service {
	s := &Service{
		store:     st,
		tables:    tables,
		wallets:   wallets,
		publisher: notify.Noop{},
		logger:    logging.Component("carpool"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tables returns the table bindings the service writes to.
func (s *Service) Tables() store.Tables {
	return s.tables
}

// Wallets returns the wallet directory.
func (s *Service) Wallets() *wallet.Directory {
	return s.wallets
}

// publish sends evt and logs failures. Events are advisory.
func (s *Service) publish(ctx context.Context, evt notify.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("event publish failed", "type", evt.Type, "error", err)
	}
}

// checkFields rejects values containing table separators.
func checkFields(fields map[string]string) error {
	for name, v := range fields {
		if strings.ContainsAny(v, codec.FieldSeparator+codec.RowSeparator+"\r") {
			return fmt.Errorf("%w: %s contains a reserved character", ErrInvalidInput, name)
		}
	}
	return nil
}

// required rejects empty values.
func required(fields map[string]string) error {
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
		}
	}
	return nil
}
