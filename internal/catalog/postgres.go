package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/carpool-ledger/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// pool is the subset of *pgxpool.Pool used by the writer.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool pool
}

// NewPostgresWriter connects, pings and initialises the schema.
func NewPostgresWriter(ctx context.Context, cfg Config) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{pool: p}
	if err := w.initSchema(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logging.Component("catalog").Info("connected to PostgreSQL catalog")
	return w, nil
}

// initSchema creates _ledger_commits if it does not exist.
func (w *PostgresWriter) initSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// RecordCommit inserts a commit. A transaction already recorded is ignored.
func (w *PostgresWriter) RecordCommit(ctx context.Context, rec CommitRecord) error {
	query := `
		INSERT INTO _ledger_commits (
			network, table_name, tx_hash, block_number, signer,
			prev_version, version, row_count, byte_size, committed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_hash) DO NOTHING
	`

	_, err := w.pool.Exec(ctx, query,
		rec.Network,
		rec.Table,
		rec.TxHash,
		int64(rec.BlockNumber),
		rec.Signer,
		rec.PrevVersion,
		rec.Version,
		rec.RowCount,
		rec.ByteSize,
		rec.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("record commit %s: %w", rec.TxHash, err)
	}
	return nil
}

// LastCommit returns the most recent commit of a table.
func (w *PostgresWriter) LastCommit(ctx context.Context, network, table string) (*CommitRecord, error) {
	query := `
		SELECT network, table_name, tx_hash, block_number, signer,
		       prev_version, version, row_count, byte_size, committed_at
		FROM _ledger_commits
		WHERE network = $1 AND table_name = $2
		ORDER BY block_number DESC, id DESC
		LIMIT 1
	`

	var rec CommitRecord
	var block int64
	err := w.pool.QueryRow(ctx, query, network, table).Scan(
		&rec.Network, &rec.Table, &rec.TxHash, &block, &rec.Signer,
		&rec.PrevVersion, &rec.Version, &rec.RowCount, &rec.ByteSize, &rec.CommittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNoCommit, network, table)
		}
		return nil, fmt.Errorf("get last commit: %w", err)
	}
	rec.BlockNumber = uint64(block)
	return &rec, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
