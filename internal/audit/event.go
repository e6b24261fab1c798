// Package audit emits a hash-chained event for every table commit.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event constants.
const (
	EventVersion = "1.0"
	EventType    = "table_commit"
)

// Event is an audit record of one table commit.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Commit   CommitInfo   `json:"commit"`
	Producer ProducerInfo `json:"producer"`
	Chain    ChainInfo    `json:"chain"`
}

// CommitInfo identifies the committed table version.
type CommitInfo struct {
	Network     string `json:"network"`
	Table       string `json:"table"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Signer      string `json:"signer"`
	PrevVersion string `json:"prev_version"`
	Version     string `json:"version"`
	RowCount    int64  `json:"row_count"`
	ByteSize    int64  `json:"byte_size"`
}

// ProducerInfo identifies the software that committed the table.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ChainInfo provides hash chaining for a tamper-evident audit log.
type ChainInfo struct {
	Sequence      uint64 `json:"sequence"`
	Gap           bool   `json:"gap,omitempty"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain a commit belongs to: one per network and table.
func (c CommitInfo) ChainKey() string {
	return c.Network + "/" + c.Table
}

// ComputeEventHash hashes the JSON encoding of evt with event_hash cleared.
func ComputeEventHash(evt *Event) string {
	evtCopy := *evt
	evtCopy.Chain.EventHash = ""

	canonical, err := json.Marshal(evtCopy)
	if err != nil {
		return ""
	}

	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// SetChainHashes links evt to prevHash and computes its own hash.
func (e *Event) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	return "audit_evt_" + uuid.New().String()
}
