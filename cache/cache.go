package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Filesystem-backed cache for JSON values and binary blobs. Values
// are wrapped in a record carrying the write timestamp and an
// optional expiry, so stale entries read as misses without being
// deleted. A corrupt or expired file is left in place until a
// successful overwrite, preserving the last usable copy on disk.

var ErrMiss = errors.New("cache miss")

const (
	fileMode = 0644
	dirMode  = 0755
)

type record struct {
	Data       json.RawMessage `json:"data"`
	Timestamp  string          `json:"timestamp"`
	ValidUntil string          `json:"valid_until,omitempty"`
}

type Store struct {
	// Root directory, typically cache/<provider>.
	Dir string

	// Applied when Set is called without an explicit expiry.
	DefaultTTL time.Duration

	TimeNow func() time.Time
}

func NewStore(dir string, defaultTTL time.Duration) *Store {
	return &Store{
		Dir:        dir,
		DefaultTTL: defaultTTL,
		TimeNow:    time.Now,
	}
}

// Get reads the cached value for key into out. Returns ErrMiss when
// the entry is absent, malformed, or expired.
func (s *Store) Get(key string, out interface{}) error {
	buf, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		return ErrMiss
	}

	var rec record
	if err := json.Unmarshal(buf, &rec); err != nil {
		return ErrMiss
	}

	var validUntil time.Time
	if rec.ValidUntil == "" {
		// Records written without an expiry age out under the
		// store's default TTL.
		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			return ErrMiss
		}
		validUntil = ts.Add(s.DefaultTTL)
	} else {
		var err error
		validUntil, err = time.Parse(time.RFC3339, rec.ValidUntil)
		if err != nil {
			return ErrMiss
		}
	}
	if s.TimeNow().After(validUntil) {
		return ErrMiss
	}

	if err := json.Unmarshal(rec.Data, out); err != nil {
		return ErrMiss
	}
	return nil
}

// GetStale reads the cached value for key into out, ignoring the
// expiry. Used when the upstream is unavailable and serving an
// out-of-date copy beats serving nothing.
func (s *Store) GetStale(key string, out interface{}) error {
	buf, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		return ErrMiss
	}

	var rec record
	if err := json.Unmarshal(buf, &rec); err != nil {
		return ErrMiss
	}
	if err := json.Unmarshal(rec.Data, out); err != nil {
		return ErrMiss
	}
	return nil
}

// Set writes the value for key atomically (temp file + rename). A
// zero validFor applies the store's default TTL.
func (s *Store) Set(key string, value interface{}, validFor time.Duration) error {
	if validFor == 0 {
		validFor = s.DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}

	now := s.TimeNow().UTC()
	rec := record{
		Data:       data,
		Timestamp:  now.Format(time.RFC3339),
		ValidUntil: now.Add(validFor).Format(time.RFC3339),
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}

	return s.writeAtomic(s.keyPath(key), buf)
}

// GetBlob reads raw bytes stored at a path relative to the store
// root. Blobs carry no expiry; snapshot validity is tracked by hash
// sidecar files instead.
func (s *Store) GetBlob(rel string) ([]byte, error) {
	buf, err := os.ReadFile(filepath.Join(s.Dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, ErrMiss
	}
	return buf, nil
}

// SetBlob writes raw bytes atomically at a path relative to the
// store root.
func (s *Store) SetBlob(rel string, data []byte) error {
	return s.writeAtomic(filepath.Join(s.Dir, filepath.FromSlash(rel)), data)
}

func (s *Store) keyPath(key string) string {
	return filepath.Join(s.Dir, key+".json")
}

func (s *Store) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
