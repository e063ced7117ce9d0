package gtfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/vmihailenco/msgpack/v5"
)

// Feed snapshots: msgpack-encoded, xz-compressed blobs written to the
// provider's cache directory. The snapshot carries the bundle hash so
// a reload with identical upstream bytes deserializes instead of
// re-parsing stop_times.

const (
	// Bump when the snapshot layout or parsing semantics change;
	// part of the bundle hash, so stale snapshots miss naturally.
	CacheVersion = "v3"

	SnapshotFile     = ".gtfs_cache"
	SnapshotHashFile = ".gtfs_cache_hash"
)

// Serialize encodes the feed for storage.
func (f *Feed) Serialize() ([]byte, error) {
	payload, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding feed: %w", err)
	}

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating xz writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing feed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing xz writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Restore decodes a serialized snapshot and rebuilds the in-memory
// indices and variants (which are not part of the encoding).
func Restore(blob []byte) (*Feed, error) {
	r, err := xz.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("creating xz reader: %w", err)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing feed: %w", err)
	}

	f := &Feed{}
	if err := msgpack.Unmarshal(payload, f); err != nil {
		return nil, fmt.Errorf("decoding feed: %w", err)
	}

	f.buildIndices()

	return f, nil
}
