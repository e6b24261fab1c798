// Package catalog records table commits in PostgreSQL so the history of
// every table version can be queried without replaying the ledger.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/withObsrvr/carpool-ledger/internal/store"
)

// ErrNoCommit is returned when a table has no recorded commit.
var ErrNoCommit = errors.New("no commit recorded")

// Config configures the catalog.
type Config struct {
	DSN string `yaml:"dsn"`
}

// CommitRecord is one row of _ledger_commits.
type CommitRecord struct {
	Network     string    `json:"network"`
	Table       string    `json:"table"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	Signer      string    `json:"signer"`
	PrevVersion string    `json:"prev_version"`
	Version     string    `json:"version"`
	RowCount    int64     `json:"row_count"`
	ByteSize    int64     `json:"byte_size"`
	CommittedAt time.Time `json:"committed_at"`
}

// RecordFromCommit converts a store commit.
func RecordFromCommit(c store.Commit) CommitRecord {
	return CommitRecord{
		Network:     c.Network,
		Table:       c.Table,
		TxHash:      c.TxHash.Hex(),
		BlockNumber: c.BlockNumber,
		Signer:      c.Signer.Hex(),
		PrevVersion: c.PrevVersion,
		Version:     c.Version,
		RowCount:    int64(len(c.Rows)),
		ByteSize:    int64(len(c.Blob)),
		CommittedAt: c.CommittedAt,
	}
}

// Writer persists and queries commit records.
type Writer interface {
	RecordCommit(ctx context.Context, rec CommitRecord) error
	LastCommit(ctx context.Context, network, table string) (*CommitRecord, error)
	Close() error
}

// NewWriter returns a PostgreSQL writer, or a no-op writer when no DSN is
// configured.
func NewWriter(ctx context.Context, cfg Config) (Writer, error) {
	if cfg.DSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

type noopWriter struct{}

func (noopWriter) RecordCommit(_ context.Context, _ CommitRecord) error { return nil }

func (noopWriter) LastCommit(_ context.Context, _, _ string) (*CommitRecord, error) {
	return nil, ErrNoCommit
}

func (noopWriter) Close() error { return nil }

// Observer records every commit through a Writer. It is a store.Observer.
type Observer struct {
	Writer Writer
}

// Name implements store.Observer.
func (o Observer) Name() string { return "catalog" }

// OnCommit implements store.Observer.
func (o Observer) OnCommit(ctx context.Context, c store.Commit) error {
	return o.Writer.RecordCommit(ctx, RecordFromCommit(c))
}
