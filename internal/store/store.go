// Package store implements read-modify-write of whole table blobs held by
// the carpool contracts.
//
// Every mutation reads the current blob, decodes it, applies a transform and
// submits the re-encoded table as a single transaction. Mutations on the same
// table are serialised inside the process, and the blob is re-read before
// submission so a change made by another writer is reported as ErrConflict
// instead of being overwritten.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/metrics"
)

var (
	// ErrConflict indicates the table changed since the caller's version or
	// between read and submit.
	ErrConflict = errors.New("table version conflict")

	// ErrRecordNotFound indicates an update-by-key matched no row.
	ErrRecordNotFound = errors.New("record not found")

	// ErrNoChange is returned by a transform to skip the write.
	ErrNoChange = errors.New("no change")
)

// Snapshot is a decoded table at one version.
type Snapshot struct {
	Table   string
	Rows    []codec.Row
	Version string
	Blob    string
}

// Mutation is one read-modify-write request.
type Mutation struct {
	Table     Table
	Operation string

	// ExpectedVersion, when set, must equal the version read from the
	// ledger or the mutation fails with ErrConflict.
	ExpectedVersion string

	Apply Transform
}

// Result reports the outcome of a mutation.
type Result struct {
	Table       string
	Written     bool
	TxHash      common.Hash
	BlockNumber uint64
	PrevVersion string
	Version     string
	Rows        []codec.Row
}

// Store reads and writes tables through a ledger client.
type Store struct {
	client    ledger.Client
	network   string
	observers []Observer
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithObservers registers commit observers.
func WithObservers(obs ...Observer) Option {
	return func(s *Store) {
		s.observers = append(s.observers, obs...)
	}
}

// WithNetwork overrides the network label attached to commits.
func WithNetwork(network string) Option {
	return func(s *Store) {
		s.network = network
	}
}

// New creates a store on top of client.
func New(client ledger.Client, opts ...Option) *Store {
	s := &Store{
		client:  client,
		network: client.NetworkID(),
		locks:   make(map[string]*sync.Mutex),
		logger:  logging.Component("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Network returns the network label of the store.
func (s *Store) Network() string {
	return s.network
}

func (s *Store) lockFor(table string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[table]
	if !ok {
		l = &sync.Mutex{}
		s.locks[table] = l
	}
	return l
}

// Read returns the current contents of t.
func (s *Store) Read(ctx context.Context, t Table) (Snapshot, error) {
	blob, err := s.client.Call(ctx, t.Kind, t.Getter)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", t.Name, err)
	}
	return Snapshot{
		Table:   t.Name,
		Rows:    codec.DecodeTable(blob),
		Version: codec.Checksum(blob),
		Blob:    blob,
	}, nil
}

// Mutate runs one read-modify-write under the table lock. A transform that
// returns ErrNoChange, or leaves the rows identical, performs no write.
// Any other error aborts before anything is submitted.
func (s *Store) Mutate(ctx context.Context, signer ledger.Signer, mut Mutation) (Result, error) {
	t := mut.Table
	if mut.Apply == nil {
		return Result{}, fmt.Errorf("%s %s: no transform", mut.Operation, t.Name)
	}
	if signer == nil {
		return Result{}, fmt.Errorf("%s %s: no signer", mut.Operation, t.Name)
	}

	lock := s.lockFor(t.Name)
	lock.Lock()
	defer lock.Unlock()

	logger := logging.OperationLogger(ctx, t.Name, mut.Operation)
	labels := metrics.Labels{Network: s.network, Table: t.Name}

	snap, err := s.Read(ctx, t)
	if err != nil {
		return Result{}, err
	}
	res := Result{Table: t.Name, PrevVersion: snap.Version, Version: snap.Version, Rows: snap.Rows}

	if mut.ExpectedVersion != "" && mut.ExpectedVersion != snap.Version {
		s.countConflict(labels)
		logger.Warn("table moved since caller read it",
			"expected_version", mut.ExpectedVersion,
			"version", snap.Version,
		)
		return res, fmt.Errorf("%s %s: %w: expected %s, found %s",
			mut.Operation, t.Name, ErrConflict, mut.ExpectedVersion, snap.Version)
	}

	updated, err := mut.Apply(codec.CloneRows(snap.Rows))
	if errors.Is(err, ErrNoChange) || (err == nil && codec.EncodeTable(updated) == codec.EncodeTable(snap.Rows)) {
		if m := metrics.Get(); m != nil {
			m.IncTableNoops(labels)
		}
		logger.Debug("mutation left table unchanged", "version", snap.Version)
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", mut.Operation, t.Name, err)
	}

	blob := codec.EncodeTable(updated)

	current, err := s.client.Call(ctx, t.Kind, t.Getter)
	if err != nil {
		return res, fmt.Errorf("re-read %s: %w", t.Name, err)
	}
	if v := codec.Checksum(current); v != snap.Version {
		s.countConflict(labels)
		logger.Warn("table changed by another writer before submit",
			"read_version", snap.Version,
			"current_version", v,
		)
		return res, fmt.Errorf("%s %s: %w: changed during update", mut.Operation, t.Name, ErrConflict)
	}

	start := time.Now()
	receipt, err := s.client.Submit(ctx, signer, t.Kind, t.Setter, blob)
	if err != nil {
		logger.Error("table write failed", "error", err)
		return res, fmt.Errorf("write %s: %w", t.Name, err)
	}

	commit := Commit{
		Network:     s.network,
		Table:       t.Name,
		TxHash:      receipt.TxHash,
		Signer:      signer.Address(),
		PrevVersion: snap.Version,
		Version:     codec.Checksum(blob),
		Blob:        blob,
		Rows:        updated,
		CommittedAt: time.Now().UTC(),
	}
	if receipt.BlockNumber != nil {
		commit.BlockNumber = receipt.BlockNumber.Uint64()
	}

	logger.Info("table committed",
		"tx_hash", commit.TxHash.Hex(),
		"block", commit.BlockNumber,
		"rows", len(updated),
		"bytes", len(blob),
		"version", commit.Version,
		"duration", time.Since(start),
	)

	if m := metrics.Get(); m != nil {
		m.IncTableCommits(labels)
		m.SetTableSize(labels, float64(len(updated)), float64(len(blob)))
	}

	s.notify(ctx, commit)

	return Result{
		Table:       t.Name,
		Written:     true,
		TxHash:      commit.TxHash,
		BlockNumber: commit.BlockNumber,
		PrevVersion: commit.PrevVersion,
		Version:     commit.Version,
		Rows:        updated,
	}, nil
}

func (s *Store) countConflict(l metrics.Labels) {
	if m := metrics.Get(); m != nil {
		m.IncTableConflicts(l)
	}
}

// notify delivers c to every observer in registration order.
func (s *Store) notify(ctx context.Context, c Commit) {
	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		if err := o.OnCommit(ctx, c); err != nil {
			s.logger.Warn("commit observer failed",
				"observer", o.Name(),
				"table", c.Table,
				"tx_hash", c.TxHash.Hex(),
				"error", err,
			)
			if m := metrics.Get(); m != nil {
				m.IncObserverErrors(metrics.Labels{Network: c.Network, Observer: o.Name()})
			}
		}
	}
}
