package storage

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// compressedPrefix is the explicit marker distinguishing compressed
// columns from plain JSON. Decodability alone is not a reliable signal
// (plenty of plain strings are valid base64), so the marker is mandatory.
const compressedPrefix = "gz:"

// encodeColumn returns raw unchanged when it is below the threshold,
// otherwise gzip-compresses and base64-encodes it behind the marker.
func encodeColumn(raw []byte, enabled bool, threshold int) (string, error) {
	if !enabled || len(raw) < threshold {
		return string(raw), nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress column: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress column: %w", err)
	}
	return compressedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeColumn reverses encodeColumn. Unmarked values pass through.
func decodeColumn(stored string) ([]byte, error) {
	if !strings.HasPrefix(stored, compressedPrefix) {
		return []byte(stored), nil
	}
	packed, err := base64.StdEncoding.DecodeString(stored[len(compressedPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decode column: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, fmt.Errorf("decompress column: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress column: %w", err)
	}
	return raw, nil
}
