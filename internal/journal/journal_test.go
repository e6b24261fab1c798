package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileJournalRecordAndResolve(t *testing.T) {
	ctx := context.Background()
	j, err := New(Config{Enabled: true, Dir: filepath.Join(t.TempDir(), "journal")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	entry := Entry{TxHash: "0xABC", Passenger: "alice", RideID: "4321", Recipient: "0xbob", MinAmount: "50"}
	if err := j.Record(ctx, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := j.Get(ctx, "0xabc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Passenger != "alice" || got.RideID != "4321" || got.RecordedAt.IsZero() {
		t.Errorf("unexpected entry: %+v", got)
	}

	pending, err := j.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(pending))
	}

	if err := j.Resolve(ctx, "0xAbC"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := j.Get(ctx, "0xabc"); !errors.Is(err, ErrNoEntry) {
		t.Errorf("expected ErrNoEntry after resolve, got %v", err)
	}
	if err := j.Resolve(ctx, "0xabc"); err != nil {
		t.Errorf("resolving twice should succeed: %v", err)
	}
}

func TestFileJournalPendingOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := New(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, hash := range []string{"0x3", "0x1", "0x2"} {
		e := Entry{TxHash: hash, RecordedAt: base.Add(time.Duration(3-i) * time.Minute)}
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	pending, err := j.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	var hashes []string
	for _, e := range pending {
		hashes = append(hashes, e.TxHash)
	}
	if len(hashes) != 3 || hashes[0] != "0x2" || hashes[1] != "0x1" || hashes[2] != "0x3" {
		t.Errorf("unexpected order: %v", hashes)
	}
}

func TestFileJournalRecordUpdatesEntry(t *testing.T) {
	ctx := context.Background()
	j, err := New(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first := Entry{TxHash: "0x1", Passenger: "alice"}
	if err := j.Record(ctx, first); err != nil {
		t.Fatal(err)
	}
	stored, _ := j.Get(ctx, "0x1")
	stored.Attempts++
	stored.LastError = "ledger node unreachable"
	if err := j.Record(ctx, *stored); err != nil {
		t.Fatal(err)
	}

	got, err := j.Get(ctx, "0x1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Attempts != 1 || got.LastError == "" || !got.RecordedAt.Equal(stored.RecordedAt) {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestNoopJournal(t *testing.T) {
	ctx := context.Background()
	j, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := j.Record(ctx, Entry{TxHash: "0x1"}); err != nil {
		t.Errorf("Record: %v", err)
	}
	if _, err := j.Get(ctx, "0x1"); !errors.Is(err, ErrNoEntry) {
		t.Errorf("expected ErrNoEntry, got %v", err)
	}
	if pending, err := j.Pending(ctx); err != nil || len(pending) != 0 {
		t.Errorf("Pending = %v, %v", pending, err)
	}
}

func TestFileJournalRejectsPathKeys(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := filepath.Join(root, "journal")
	j, err := New(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	hashes := []string{
		"0x" + strings.Repeat("11", 32) + "/../../escaped",
		"../escaped",
		"0x12\\..\\escaped",
		"abc",
	}
	for _, hash := range hashes {
		if err := j.Record(ctx, Entry{TxHash: hash, Passenger: "alice", RideID: "4321", MinAmount: "50"}); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("Record(%q): expected ErrInvalidHash, got %v", hash, err)
		}
		if _, err := j.Get(ctx, hash); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("Get(%q): expected ErrInvalidHash, got %v", hash, err)
		}
		if err := j.Resolve(ctx, hash); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("Resolve(%q): expected ErrInvalidHash, got %v", hash, err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(root, "*.json"))
	if err != nil || len(matches) != 0 {
		t.Errorf("expected nothing written outside the journal, got %v (%v)", matches, err)
	}
	if pending, _ := j.Pending(ctx); len(pending) != 0 {
		t.Errorf("expected no pending entries, got %d", len(pending))
	}
}
