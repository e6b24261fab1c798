package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

func newEvent(version string) Event {
	return Event{
		Version:   EventVersion,
		EventType: EventType,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Commit: CommitInfo{
			Network:     "5777",
			Table:       "claims",
			TxHash:      "0xabc",
			BlockNumber: 12,
			PrevVersion: codec.EmptyVersion,
			Version:     version,
			RowCount:    1,
			ByteSize:    36,
		},
		Producer: ProducerInfo{Name: "test"},
	}
}

func TestComputeEventHash(t *testing.T) {
	event := newEvent("sha256:aaa")
	event.SetChainHashes("")

	if !strings.HasPrefix(event.Chain.EventHash, "sha256:") {
		t.Errorf("EventHash should start with 'sha256:', got: %s", event.Chain.EventHash)
	}
	if event.Chain.PrevEventHash != "" {
		t.Errorf("PrevEventHash should be empty for first in chain, got: %s", event.Chain.PrevEventHash)
	}
}

func TestHashChainDeterminism(t *testing.T) {
	event1 := newEvent("sha256:aaa")
	event1.SetChainHashes("prev_hash_123")

	event2 := newEvent("sha256:aaa")
	event2.SetChainHashes("prev_hash_123")

	if event1.Chain.EventHash != event2.Chain.EventHash {
		t.Errorf("Identical events should produce identical hashes.\n  Event1: %s\n  Event2: %s",
			event1.Chain.EventHash, event2.Chain.EventHash)
	}
}

func TestHashChainDifferentPrevHash(t *testing.T) {
	event1 := newEvent("sha256:aaa")
	event1.SetChainHashes("prev_hash_A")

	event2 := newEvent("sha256:aaa")
	event2.SetChainHashes("prev_hash_B")

	if event1.Chain.EventHash == event2.Chain.EventHash {
		t.Error("Different prev_hash should produce different event_hash")
	}
}

func TestHashChainDifferentContent(t *testing.T) {
	event1 := newEvent("sha256:checksum_A")
	event1.SetChainHashes("")

	event2 := newEvent("sha256:checksum_B")
	event2.SetChainHashes("")

	if event1.Chain.EventHash == event2.Chain.EventHash {
		t.Error("Different content should produce different event_hash")
	}
}

func TestChainKey(t *testing.T) {
	c := CommitInfo{Network: "5777", Table: "rides"}
	if c.ChainKey() != "5777/rides" {
		t.Errorf("ChainKey() = %s, want 5777/rides", c.ChainKey())
	}
}

func TestFileEmitterChainsEvents(t *testing.T) {
	dir := t.TempDir()
	e, err := NewFileEmitter(dir)
	if err != nil {
		t.Fatalf("NewFileEmitter failed: %v", err)
	}

	first := newEvent("sha256:aaaa")
	if err := e.Emit(&first); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	second := newEvent("sha256:bbbb")
	second.Commit.BlockNumber = 13
	second.Commit.PrevVersion = "sha256:aaaa"
	if err := e.Emit(&second); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if first.Chain.PrevEventHash != "" {
		t.Errorf("first event should start the chain, got prev %s", first.Chain.PrevEventHash)
	}
	if second.Chain.PrevEventHash != first.Chain.EventHash {
		t.Errorf("second event should link to first: %s != %s", second.Chain.PrevEventHash, first.Chain.EventHash)
	}
	if first.Chain.Sequence != 1 || second.Chain.Sequence != 2 {
		t.Errorf("unexpected sequences %d, %d", first.Chain.Sequence, second.Chain.Sequence)
	}
	if first.Chain.Gap || second.Chain.Gap {
		t.Error("contiguous versions should not be marked as a gap")
	}

	data, err := os.ReadFile(e.backup.Path(&second))
	if err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	var saved Event
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Chain.EventHash != second.Chain.EventHash {
		t.Error("backup should hold the emitted event")
	}

	// Heads survive a restart.
	tracker, err := NewChainTracker(dir)
	if err != nil {
		t.Fatalf("NewChainTracker failed: %v", err)
	}
	head, ok := tracker.Head("5777/claims")
	if !ok || head.EventHash != second.Chain.EventHash || head.Version != "sha256:bbbb" || head.Sequence != 2 {
		t.Errorf("Head = %+v, %v", head, ok)
	}
	if _, err := os.Stat(filepath.Join(dir, headsFile)); err != nil {
		t.Errorf("chain heads file missing: %v", err)
	}
}

func TestFileEmitterMarksVersionGap(t *testing.T) {
	e, err := NewFileEmitter(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileEmitter failed: %v", err)
	}

	first := newEvent("sha256:aaaa")
	if err := e.Emit(&first); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	// The table moved from aaaa to ffff without an event for it.
	next := newEvent("sha256:bbbb")
	next.Commit.PrevVersion = "sha256:ffff"
	if err := e.Emit(&next); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if !next.Chain.Gap {
		t.Error("expected the event to be marked as a gap")
	}
	if next.Chain.PrevEventHash != first.Chain.EventHash {
		t.Error("a gap event still links to the previous event")
	}
}

func TestHTTPEmitterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var evt Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil || evt.Chain.EventHash == "" {
			http.Error(w, "bad event", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	e, err := NewHTTPEmitter(Config{Enabled: true, Endpoint: server.URL, BackupDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewHTTPEmitter failed: %v", err)
	}
	e.delay = time.Millisecond

	evt := newEvent("sha256:cccc")
	if err := e.Emit(context.Background(), &evt); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
	if head, _ := e.chainTracker.Head("5777/claims"); head.EventHash != evt.Chain.EventHash {
		t.Error("chain head should advance after a delivered event")
	}
}

func TestHTTPEmitterGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	e, err := NewHTTPEmitter(Config{Enabled: true, Endpoint: server.URL, BackupDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewHTTPEmitter failed: %v", err)
	}
	e.delay = time.Millisecond

	evt := newEvent("sha256:dddd")
	if err := e.Emit(context.Background(), &evt); err == nil {
		t.Fatal("Emit should fail when every attempt fails")
	}
	if head, ok := e.chainTracker.Head("5777/claims"); ok {
		t.Errorf("chain head should not advance, got %+v", head)
	}
}

func TestAuditorOnCommit(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditor(NewEmitter(Config{Enabled: true, BackupDir: dir}), "test")

	blob := "1#4321#bob#alice#5#50#0#0#completed\n"
	commit := store.Commit{
		Network:     "5777",
		Table:       "claims",
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 3,
		Signer:      common.HexToAddress("0x51"),
		PrevVersion: codec.EmptyVersion,
		Version:     codec.Checksum(blob),
		Blob:        blob,
		Rows:        codec.DecodeTable(blob),
	}
	if err := a.OnCommit(context.Background(), commit); err != nil {
		t.Fatalf("OnCommit failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "5777_claims_3_*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one backup file, got %v (%v)", matches, err)
	}
	if a.Name() != "audit" {
		t.Errorf("Name = %s", a.Name())
	}
}

func TestDisabledEmitter(t *testing.T) {
	e := NewEmitter(Config{})
	evt := newEvent("sha256:eeee")
	if err := e.Emit(context.Background(), &evt); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
	if evt.Chain.EventHash != "" {
		t.Error("noop emitter should not chain events")
	}
}
