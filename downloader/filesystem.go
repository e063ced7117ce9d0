package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/openmobility/transithub/cache"
)

// Caches downloaded files on disk, via a cache.Store. Bodies are
// stored base64-encoded inside the store's JSON wrapper records, one
// file per URL. Survives process restarts, which matters for the
// rate-limited upstreams.
type Filesystem struct {
	store *cache.Store

	mutex sync.Mutex
}

func NewFilesystem(store *cache.Store) *Filesystem {
	return &Filesystem{store: store}
}

type fsRecord struct {
	URL  string `json:"url"`
	Body string `json:"body"`
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	key := fmt.Sprintf("dl_%x", sha256.Sum256([]byte(url)))

	if options.Cache {
		var rec fsRecord
		if err := f.store.Get(key, &rec); err == nil {
			body, err := base64.StdEncoding.DecodeString(rec.Body)
			if err == nil {
				return body, nil
			}
			// Undecodable record reads as a miss.
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if options.Cache {
		rec := fsRecord{
			URL:  url,
			Body: base64.StdEncoding.EncodeToString(body),
		}
		if err := f.store.Set(key, rec, options.CacheTTL); err != nil {
			return nil, fmt.Errorf("caching download: %w", err)
		}
	}

	return body, nil
}
