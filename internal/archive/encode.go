package archive

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
)

// snapshotRow is one decoded table row in rows.parquet.
type snapshotRow struct {
	Index  int64    `parquet:"index"`
	Fields []string `parquet:"fields,list"`
	Raw    string   `parquet:"raw"`
}

// CompressBlob zstd-compresses a table blob.
func CompressBlob(blob string) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll([]byte(blob), nil), nil
}

// DecompressBlob reverses CompressBlob.
func DecompressBlob(data []byte) (string, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return "", fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return "", fmt.Errorf("decompress blob: %w", err)
	}
	return string(out), nil
}

// EncodeRows writes rows as a parquet file.
func EncodeRows(rows []codec.Row) ([]byte, error) {
	records := make([]snapshotRow, len(rows))
	for i, r := range rows {
		records[i] = snapshotRow{Index: int64(i), Fields: []string(r), Raw: r.String()}
	}

	var buf bytes.Buffer
	if err := parquet.Write(&buf, records); err != nil {
		return nil, fmt.Errorf("encode rows parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRows reads rows written by EncodeRows.
func DecodeRows(data []byte) ([]codec.Row, error) {
	records, err := parquet.Read[snapshotRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode rows parquet: %w", err)
	}

	rows := make([]codec.Row, len(records))
	for _, rec := range records {
		if rec.Index < 0 || int(rec.Index) >= len(rows) {
			return nil, fmt.Errorf("decode rows parquet: index %d out of range", rec.Index)
		}
		rows[rec.Index] = codec.Row(rec.Fields)
	}
	return rows, nil
}
