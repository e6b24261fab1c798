package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBackup saves audit events to local files.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./audit-backup"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir}, nil
}

// Path returns the backup file of evt:
// {network}_{table}_{block}_{version}.json
func (f *FileBackup) Path(evt *Event) string {
	version := strings.TrimPrefix(evt.Commit.Version, "sha256:")
	if len(version) > 16 {
		version = version[:16]
	}
	filename := fmt.Sprintf("%s_%s_%d_%s.json",
		evt.Commit.Network,
		evt.Commit.Table,
		evt.Commit.BlockNumber,
		version,
	)
	return filepath.Join(f.dir, filename)
}

// Save writes an event to a local JSON file.
func (f *FileBackup) Save(evt *Event) (string, error) {
	path := f.Path(evt)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// FileEmitter writes events to files only.
type FileEmitter struct {
	chainTracker *ChainTracker
	backup       *FileBackup
}

// NewFileEmitter creates an emitter that only writes to local files.
func NewFileEmitter(backupDir string) (*FileEmitter, error) {
	chainTracker, err := NewChainTracker(backupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(backupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &FileEmitter{
		chainTracker: chainTracker,
		backup:       backup,
	}, nil
}

// Emit chains evt and writes it to a local file.
func (e *FileEmitter) Emit(evt *Event) error {
	e.chainTracker.Link(evt)

	path, err := e.backup.Save(evt)
	if err != nil {
		return err
	}
	logger.Debug("audit event written",
		"chain", evt.Commit.ChainKey(),
		"sequence", evt.Chain.Sequence,
		"event_hash", evt.Chain.EventHash,
		"path", path,
	)

	if err := e.chainTracker.Advance(evt); err != nil {
		logger.Warn("failed to update chain head", "chain", evt.Commit.ChainKey(), "error", err)
	}
	return nil
}

// Close releases resources.
func (e *FileEmitter) Close() error {
	return nil
}
