// Package archive keeps every committed table version outside the ledger.
// Each version is stored under
// <prefix><network>/<table>/v=<checksum>/ as a zstd-compressed blob, a
// parquet file of decoded rows and a manifest written last.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

// ErrSnapshotNotFound is returned when no archived version exists.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// File names inside a snapshot directory.
const (
	BlobFile     = "blob.zst"
	RowsFile     = "rows.parquet"
	ManifestFile = "_manifest.json"
)

// SnapshotRef locates one archived table version.
type SnapshotRef struct {
	Network string
	Table   string
	Version string // "sha256:<hex>"
}

// DirPath returns the directory of the snapshot.
func (r SnapshotRef) DirPath(prefix string) string {
	return fmt.Sprintf("%s%s/%s/v=%s", prefix, r.Network, r.Table, strings.TrimPrefix(r.Version, "sha256:"))
}

// Path returns the key of a file in the snapshot directory.
func (r SnapshotRef) Path(prefix, file string) string {
	return r.DirPath(prefix) + "/" + file
}

// Manifest describes an archived table version.
type Manifest struct {
	Snapshot  SnapshotInfo        `json:"snapshot"`
	Files     map[string]FileInfo `json:"files"`
	Producer  ProducerInfo        `json:"producer"`
	CreatedAt time.Time           `json:"created_at"`
}

// SnapshotInfo identifies the commit that produced the version.
type SnapshotInfo struct {
	Network     string    `json:"network"`
	Table       string    `json:"table"`
	Version     string    `json:"version"`
	PrevVersion string    `json:"prev_version"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	Signer      string    `json:"signer"`
	CommittedAt time.Time `json:"committed_at"`
}

// FileInfo describes one file of the snapshot.
type FileInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count,omitempty"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that wrote the snapshot.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MarshalJSON returns the manifest as indented JSON.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// Archiver writes committed versions to a Backend. It is a store.Observer.
type Archiver struct {
	backend  Backend
	prefix   string
	producer ProducerInfo
	logger   *slog.Logger
}

// NewArchiver creates an archiver over backend.
func NewArchiver(backend Backend, prefix, version string) *Archiver {
	return &Archiver{
		backend:  backend,
		prefix:   prefix,
		producer: ProducerInfo{Name: "carpool-ledger", Version: version},
		logger:   logging.Component("archive"),
	}
}

// Name implements store.Observer.
func (a *Archiver) Name() string { return "archive" }

// OnCommit implements store.Observer.
func (a *Archiver) OnCommit(ctx context.Context, c store.Commit) error {
	_, err := a.Archive(ctx, c)
	return err
}

// Archive writes the committed version unless its manifest already exists.
// The manifest is written last so a partial snapshot is never listed.
func (a *Archiver) Archive(ctx context.Context, c store.Commit) (*Manifest, error) {
	ref := SnapshotRef{Network: c.Network, Table: c.Table, Version: c.Version}
	manifestKey := ref.Path(a.prefix, ManifestFile)

	exists, err := a.backend.Exists(ctx, manifestKey)
	if err != nil {
		return nil, fmt.Errorf("check snapshot %s: %w", manifestKey, err)
	}
	if exists {
		a.logger.Debug("snapshot already archived", "table", c.Table, "version", c.Version)
		return nil, nil
	}

	compressed, err := CompressBlob(c.Blob)
	if err != nil {
		return nil, err
	}
	rows, err := EncodeRows(c.Rows)
	if err != nil {
		return nil, err
	}

	if err := a.backend.Write(ctx, ref.Path(a.prefix, BlobFile), compressed); err != nil {
		return nil, err
	}
	if err := a.backend.Write(ctx, ref.Path(a.prefix, RowsFile), rows); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Snapshot: SnapshotInfo{
			Network:     c.Network,
			Table:       c.Table,
			Version:     c.Version,
			PrevVersion: c.PrevVersion,
			TxHash:      c.TxHash.Hex(),
			BlockNumber: c.BlockNumber,
			Signer:      c.Signer.Hex(),
			CommittedAt: c.CommittedAt,
		},
		Files: map[string]FileInfo{
			BlobFile: {
				File:     BlobFile,
				Checksum: codec.Checksum(string(compressed)),
				ByteSize: int64(len(compressed)),
			},
			RowsFile: {
				File:     RowsFile,
				Checksum: codec.Checksum(string(rows)),
				RowCount: int64(len(c.Rows)),
				ByteSize: int64(len(rows)),
			},
		},
		Producer:  a.producer,
		CreatedAt: time.Now().UTC(),
	}

	data, err := manifest.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := a.backend.Write(ctx, manifestKey, data); err != nil {
		return nil, err
	}

	a.logger.Info("snapshot archived",
		"table", c.Table,
		"version", c.Version,
		"rows", len(c.Rows),
		"uri", a.backend.URI(ref.DirPath(a.prefix)),
	)
	return manifest, nil
}

// Load returns the table blob archived for ref, verified against its
// checksum.
func (a *Archiver) Load(ctx context.Context, ref SnapshotRef) (string, error) {
	key := ref.Path(a.prefix, BlobFile)
	exists, err := a.backend.Exists(ctx, ref.Path(a.prefix, ManifestFile))
	if err != nil {
		return "", fmt.Errorf("check snapshot %s: %w", key, err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s %s", ErrSnapshotNotFound, ref.Table, ref.Version)
	}

	data, err := a.backend.Read(ctx, key)
	if err != nil {
		return "", err
	}
	blob, err := DecompressBlob(data)
	if err != nil {
		return "", err
	}
	if !codec.VerifyChecksum(blob, ref.Version) {
		return "", fmt.Errorf("snapshot %s: checksum mismatch", key)
	}
	return blob, nil
}

// LoadRows returns the decoded rows archived for ref.
func (a *Archiver) LoadRows(ctx context.Context, ref SnapshotRef) ([]codec.Row, error) {
	data, err := a.backend.Read(ctx, ref.Path(a.prefix, RowsFile))
	if err != nil {
		return nil, err
	}
	return DecodeRows(data)
}

// Close releases the backend.
func (a *Archiver) Close() error {
	return a.backend.Close()
}
