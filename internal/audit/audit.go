package audit

import (
	"context"
	"sync"
	"time"

	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

var logger = logging.Component("audit")

// Config configures audit emission.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	BackupDir string `yaml:"backup_dir"`
}

// Emitter chains and delivers audit events.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter creates an emitter based on configuration: HTTP when an
// endpoint is set, local files otherwise, nothing when disabled.
func NewEmitter(cfg Config) Emitter {
	if !cfg.Enabled {
		logger.Info("audit disabled, using no-op emitter")
		return noopEmitter{}
	}

	if cfg.Endpoint != "" {
		emitter, err := NewHTTPEmitter(cfg)
		if err != nil {
			logger.Error("failed to create HTTP emitter, falling back to file-only", "error", err)
			return createFileEmitter(cfg)
		}
		logger.Info("using HTTP audit emitter", "endpoint", cfg.Endpoint)
		return emitter
	}

	return createFileEmitter(cfg)
}

func createFileEmitter(cfg Config) Emitter {
	emitter, err := NewFileEmitter(cfg.BackupDir)
	if err != nil {
		logger.Error("failed to create file emitter, using no-op", "error", err)
		return noopEmitter{}
	}
	logger.Info("using file-only audit emitter", "dir", cfg.BackupDir)
	return fileEmitterAdapter{emitter}
}

// fileEmitterAdapter adapts FileEmitter to the Emitter interface.
type fileEmitterAdapter struct {
	*FileEmitter
}

func (a fileEmitterAdapter) Emit(_ context.Context, evt *Event) error {
	return a.FileEmitter.Emit(evt)
}

// noopEmitter discards all events.
type noopEmitter struct{}

func (noopEmitter) Emit(_ context.Context, _ *Event) error { return nil }

func (noopEmitter) Close() error { return nil }

// Auditor turns table commits into audit events. It is a store.Observer.
type Auditor struct {
	mu       sync.Mutex
	emitter  Emitter
	producer ProducerInfo
}

// NewAuditor creates an auditor over emitter.
func NewAuditor(emitter Emitter, version string) *Auditor {
	return &Auditor{
		emitter:  emitter,
		producer: ProducerInfo{Name: "carpool-ledger", Version: version},
	}
}

// Name implements store.Observer.
func (a *Auditor) Name() string { return "audit" }

// OnCommit emits one event per commit. Emission is serialised so each
// chain head is read and advanced by one event at a time.
func (a *Auditor) OnCommit(ctx context.Context, c store.Commit) error {
	evt := &Event{
		Timestamp: time.Now().UTC(),
		Commit: CommitInfo{
			Network:     c.Network,
			Table:       c.Table,
			TxHash:      c.TxHash.Hex(),
			BlockNumber: c.BlockNumber,
			Signer:      c.Signer.Hex(),
			PrevVersion: c.PrevVersion,
			Version:     c.Version,
			RowCount:    int64(len(c.Rows)),
			ByteSize:    int64(len(c.Blob)),
		},
		Producer: a.producer,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emitter.Emit(ctx, evt)
}

// Close closes the emitter.
func (a *Auditor) Close() error {
	return a.emitter.Close()
}
