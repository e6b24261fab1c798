package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const headsFile = "audit-chain-heads.json"

// Head is the tip of one table's audit chain.
type Head struct {
	EventHash string `json:"event_hash"`
	Version   string `json:"version"`
	Sequence  uint64 `json:"sequence"`
}

// ChainTracker keeps the head of every network/table chain and persists
// them as one JSON file.
type ChainTracker struct {
	mu    sync.RWMutex
	heads map[string]Head
	path  string
}

// NewChainTracker loads the heads stored under dir, if any.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if dir == "" {
		dir = "./state"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}

	ct := &ChainTracker{
		heads: make(map[string]Head),
		path:  filepath.Join(dir, headsFile),
	}

	data, err := os.ReadFile(ct.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("load chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("parse chain heads %s: %w", ct.path, err)
		}
	}
	return ct, nil
}

// Head returns the current head of chainKey.
func (ct *ChainTracker) Head(chainKey string) (Head, bool) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	h, ok := ct.heads[chainKey]
	return h, ok && h.EventHash != ""
}

// Link stamps evt with an id, its sequence and the hash of the event before
// it. A commit whose previous version is not the version at the head means
// the table was written outside this service; the event is marked as a gap.
func (ct *ChainTracker) Link(evt *Event) {
	evt.EventID = GenerateEventID()
	evt.Version = EventVersion
	evt.EventType = EventType

	head, ok := ct.Head(evt.Commit.ChainKey())
	evt.Chain.Sequence = head.Sequence + 1
	evt.Chain.Gap = ok && head.Version != evt.Commit.PrevVersion
	if evt.Chain.Gap {
		logger.Warn("table version gap in audit chain",
			"chain", evt.Commit.ChainKey(),
			"head_version", head.Version,
			"prev_version", evt.Commit.PrevVersion,
		)
	}
	evt.SetChainHashes(head.EventHash)
}

// Advance moves the chain head to evt once it has been delivered.
func (ct *ChainTracker) Advance(evt *Event) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[evt.Commit.ChainKey()] = Head{
		EventHash: evt.Chain.EventHash,
		Version:   evt.Commit.Version,
		Sequence:  evt.Chain.Sequence,
	}

	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}
	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ct.path)
}
