package archive

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gocloud.dev/blob/memblob"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

func testCommit(blob string) store.Commit {
	return store.Commit{
		Network:     "5777",
		Table:       "rides",
		TxHash:      common.HexToHash("0xabc"),
		BlockNumber: 7,
		Signer:      common.HexToAddress("0x51"),
		PrevVersion: codec.EmptyVersion,
		Version:     codec.Checksum(blob),
		Blob:        blob,
		Rows:        codec.DecodeTable(blob),
		CommittedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSnapshotRefPaths(t *testing.T) {
	ref := SnapshotRef{Network: "5777", Table: "claims", Version: "sha256:deadbeef"}
	if got := ref.DirPath("archive/"); got != "archive/5777/claims/v=deadbeef" {
		t.Errorf("DirPath = %s", got)
	}
	if got := ref.Path("", ManifestFile); got != "5777/claims/v=deadbeef/_manifest.json" {
		t.Errorf("Path = %s", got)
	}
}

func TestLocalArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewLocalBackend(dir)
	if err != nil {
		t.Fatalf("NewLocalBackend failed: %v", err)
	}
	a := NewArchiver(backend, "archive/", "test")
	ctx := context.Background()

	blob := "1111#bob#Central#0#0#2#2024-01-01#waiting\n2222#dan#East#1#1#3#2024-01-02#completed\n"
	c := testCommit(blob)

	manifest, err := a.Archive(ctx, c)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if manifest == nil || manifest.Files[RowsFile].RowCount != 2 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	ref := SnapshotRef{Network: c.Network, Table: c.Table, Version: c.Version}
	for _, f := range []string{BlobFile, RowsFile, ManifestFile} {
		path := filepath.Join(dir, filepath.FromSlash(ref.Path("archive/", f)))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s should exist: %v", f, err)
		}
		if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
			t.Errorf("temp file for %s should not remain", f)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(ref.Path("archive/", ManifestFile))))
	if err != nil {
		t.Fatal(err)
	}
	var parsed Manifest
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if parsed.Snapshot.Version != c.Version || parsed.Snapshot.BlockNumber != 7 {
		t.Errorf("unexpected manifest snapshot: %+v", parsed.Snapshot)
	}

	got, err := a.Load(ctx, ref)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != blob {
		t.Errorf("Load = %q, want %q", got, blob)
	}

	rows, err := a.LoadRows(ctx, ref)
	if err != nil {
		t.Fatalf("LoadRows failed: %v", err)
	}
	if codec.EncodeTable(rows) != blob {
		t.Errorf("rows do not match blob: %v", rows)
	}
}

func TestArchiveSkipsExistingSnapshot(t *testing.T) {
	a := NewArchiver(NewBucketBackend(memblob.OpenBucket(nil), "mem", "test"), "", "test")
	ctx := context.Background()
	c := testCommit("alice#h#1#a@x#none#Passenger\n")

	first, err := a.Archive(ctx, c)
	if err != nil || first == nil {
		t.Fatalf("first Archive = %v, %v", first, err)
	}
	second, err := a.Archive(ctx, c)
	if err != nil {
		t.Fatalf("second Archive failed: %v", err)
	}
	if second != nil {
		t.Error("second Archive should skip the existing snapshot")
	}

	if err := a.OnCommit(ctx, c); err != nil {
		t.Errorf("OnCommit failed: %v", err)
	}
}

func TestLoadMissingSnapshot(t *testing.T) {
	a := NewArchiver(NewBucketBackend(memblob.OpenBucket(nil), "mem", "test"), "", "test")
	_, err := a.Load(context.Background(), SnapshotRef{Network: "5777", Table: "rides", Version: "sha256:00"})
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	backend := NewBucketBackend(memblob.OpenBucket(nil), "mem", "test")
	a := NewArchiver(backend, "", "test")
	ctx := context.Background()
	c := testCommit("1#4321#bob#alice#5#50#0#0#completed\n")

	if _, err := a.Archive(ctx, c); err != nil {
		t.Fatal(err)
	}
	ref := SnapshotRef{Network: c.Network, Table: c.Table, Version: c.Version}
	tampered, _ := CompressBlob("1#4321#bob#alice#5#0#0#0#completed\n")
	if err := backend.Write(ctx, ref.Path("", BlobFile), tampered); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Load(ctx, ref); err == nil || !strings.Contains(err.Error(), "checksum") {
		t.Errorf("expected checksum error, got %v", err)
	}
}

func TestBucketURI(t *testing.T) {
	b := NewBucketBackend(memblob.OpenBucket(nil), "gs", "carpool")
	if got := b.URI("a/b"); got != "gs://carpool/a/b" {
		t.Errorf("URI = %s", got)
	}
}

func TestNewBackendValidation(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []Config{
		{Backend: "local"},
		{Backend: "gcs"},
		{Backend: "s3"},
		{Backend: "ftp"},
	} {
		if _, err := NewBackend(ctx, cfg); err == nil {
			t.Errorf("NewBackend(%+v) should fail", cfg)
		}
	}
	if (Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
}
