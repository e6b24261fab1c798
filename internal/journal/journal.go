// Package journal keeps payment verifications that were confirmed on the
// ledger but not yet recorded in the claims table.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoEntry is returned when no pending entry exists for a hash.
	ErrNoEntry = errors.New("no journal entry found")

	// ErrInvalidHash is returned for a key that is not a 0x-prefixed hex string.
	ErrInvalidHash = errors.New("invalid journal tx hash")
)

const filePrefix = "pending_"

var hashPattern = regexp.MustCompile(`^0x[0-9a-f]+$`)

// Entry is a verified payment waiting to be written to the claims table.
type Entry struct {
	TxHash     string    `json:"tx_hash"`
	Passenger  string    `json:"passenger"`
	RideID     string    `json:"ride_id"`
	Recipient  string    `json:"recipient"`
	MinAmount  string    `json:"min_amount"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Journal persists pending verifications.
type Journal interface {
	// Record stores e, replacing any entry with the same hash.
	Record(ctx context.Context, e Entry) error

	// Get returns the entry for txHash.
	Get(ctx context.Context, txHash string) (*Entry, error)

	// Resolve removes the entry for txHash. Missing entries are ignored.
	Resolve(ctx context.Context, txHash string) error

	// Pending lists entries oldest first.
	Pending(ctx context.Context) ([]Entry, error)
}

// Config configures the journal.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// New creates a journal based on configuration.
func New(cfg Config) (Journal, error) {
	if !cfg.Enabled {
		return &noopJournal{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory %s: %w", cfg.Dir, err)
	}

	return &fileJournal{dir: cfg.Dir}, nil
}

// fileJournal keeps one JSON file per pending transaction.
type fileJournal struct {
	dir string
}

// entryPath maps txHash to its file. Only hex keys are accepted so a key
// can never name a file outside the journal directory.
func (j *fileJournal) entryPath(txHash string) (string, error) {
	key := strings.ToLower(txHash)
	if !hashPattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, txHash)
	}
	return filepath.Join(j.dir, filePrefix+key+".json"), nil
}

// Record writes the entry atomically.
func (j *fileJournal) Record(ctx context.Context, e Entry) error {
	if e.TxHash == "" {
		return fmt.Errorf("journal entry has no tx hash")
	}
	now := time.Now().UTC()
	if e.RecordedAt.IsZero() {
		e.RecordedAt = now
	}
	e.UpdatedAt = now

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	path, err := j.entryPath(e.TxHash)
	if err != nil {
		return err
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write journal temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename journal file: %w", err)
	}

	return nil
}

// Get reads the entry for txHash.
func (j *fileJournal) Get(ctx context.Context, txHash string) (*Entry, error) {
	path, err := j.entryPath(txHash)
	if err != nil {
		return nil, err
	}
	return j.loadFromPath(path)
}

func (j *fileJournal) loadFromPath(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoEntry
		}
		return nil, fmt.Errorf("read journal file: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse journal file %s: %w", filepath.Base(path), err)
	}
	return &e, nil
}

// Resolve deletes the entry file.
func (j *fileJournal) Resolve(ctx context.Context, txHash string) error {
	path, err := j.entryPath(txHash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal entry: %w", err)
	}
	return nil
}

// Pending loads every entry in the directory.
func (j *fileJournal) Pending(ctx context.Context) ([]Entry, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal directory: %w", err)
	}

	var out []Entry
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".json" || !strings.HasPrefix(name, filePrefix) {
			continue
		}

		e, err := j.loadFromPath(filepath.Join(j.dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].RecordedAt.Before(out[b].RecordedAt)
	})
	return out, nil
}

// noopJournal is used when journaling is disabled.
type noopJournal struct{}

func (n *noopJournal) Record(ctx context.Context, e Entry) error { return nil }

func (n *noopJournal) Get(ctx context.Context, txHash string) (*Entry, error) {
	return nil, ErrNoEntry
}

func (n *noopJournal) Resolve(ctx context.Context, txHash string) error { return nil }

func (n *noopJournal) Pending(ctx context.Context) ([]Entry, error) { return nil, nil }
