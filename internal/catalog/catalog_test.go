package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

// mockPool records statements and serves one canned row.
type mockPool struct {
	execs  []string
	args   [][]any
	row    []any
	rowErr error
	closed bool
}

func (m *mockPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, sql)
	m.args = append(m.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return mockRow{values: m.row, err: m.rowErr}
}

func (m *mockPool) Close() { m.closed = true }

type mockRow struct {
	values []any
	err    error
}

func (r mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

func testCommit() store.Commit {
	blob := "1#4321#bob#alice#5#50#0#0#completed\n"
	return store.Commit{
		Network:     "5777",
		Table:       "claims",
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 9,
		Signer:      common.HexToAddress("0x51"),
		PrevVersion: codec.EmptyVersion,
		Version:     codec.Checksum(blob),
		Blob:        blob,
		Rows:        codec.DecodeTable(blob),
		CommittedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestObserverRecordsCommit(t *testing.T) {
	p := &mockPool{}
	obs := Observer{Writer: &PostgresWriter{pool: p}}

	if err := obs.OnCommit(context.Background(), testCommit()); err != nil {
		t.Fatalf("OnCommit failed: %v", err)
	}
	if len(p.execs) != 1 || !strings.Contains(p.execs[0], "INSERT INTO _ledger_commits") {
		t.Fatalf("unexpected statements: %v", p.execs)
	}
	args := p.args[0]
	if args[0] != "5777" || args[1] != "claims" || args[3] != int64(9) || args[7] != int64(1) {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestLastCommit(t *testing.T) {
	committed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &mockPool{row: []any{
		"5777", "claims", "0x01", int64(9), "0x51",
		codec.EmptyVersion, "sha256:abc", int64(1), int64(36), committed,
	}}
	w := &PostgresWriter{pool: p}

	rec, err := w.LastCommit(context.Background(), "5777", "claims")
	if err != nil {
		t.Fatalf("LastCommit failed: %v", err)
	}
	if rec.BlockNumber != 9 || rec.Version != "sha256:abc" || !rec.CommittedAt.Equal(committed) {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestLastCommitNone(t *testing.T) {
	w := &PostgresWriter{pool: &mockPool{rowErr: pgx.ErrNoRows}}
	if _, err := w.LastCommit(context.Background(), "5777", "rides"); !errors.Is(err, ErrNoCommit) {
		t.Fatalf("expected ErrNoCommit, got %v", err)
	}
}

func TestNoopWriter(t *testing.T) {
	w, err := NewWriter(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.RecordCommit(context.Background(), RecordFromCommit(testCommit())); err != nil {
		t.Errorf("RecordCommit: %v", err)
	}
	if _, err := w.LastCommit(context.Background(), "5777", "claims"); !errors.Is(err, ErrNoCommit) {
		t.Errorf("expected ErrNoCommit, got %v", err)
	}
}

func TestSchemaEmbedded(t *testing.T) {
	if !strings.Contains(schemaSQL, "_ledger_commits") {
		t.Error("schema should define _ledger_commits")
	}
}
