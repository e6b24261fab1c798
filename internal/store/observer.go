package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
)

// Commit describes a table version that was accepted by the ledger.
type Commit struct {
	Network     string
	Table       string
	TxHash      common.Hash
	BlockNumber uint64
	Signer      common.Address
	PrevVersion string
	Version     string
	Blob        string
	Rows        []codec.Row
	CommittedAt time.Time
}

// Observer is notified after every successful table write. Observer errors
// are logged and counted but never fail the mutation, which is already
// final on the ledger.
type Observer interface {
	Name() string
	OnCommit(ctx context.Context, c Commit) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc struct {
	ObserverName string
	Fn           func(ctx context.Context, c Commit) error
}

// Name returns the observer name.
func (f ObserverFunc) Name() string { return f.ObserverName }

// OnCommit calls f.Fn.
func (f ObserverFunc) OnCommit(ctx context.Context, c Commit) error { return f.Fn(ctx, c) }
