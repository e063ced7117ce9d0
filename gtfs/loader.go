package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openmobility/transithub/cache"
	"github.com/openmobility/transithub/downloader"
	"github.com/openmobility/transithub/gtfs/parse"
)

const (
	DefaultStaticTimeout = 60 * time.Second
	DefaultStaticMaxSize = 800 << 20 // 800 MB

	gtfsSubdir = "gtfs"
)

// Loader turns a static GTFS bundle into a Feed, going through the
// snapshot cache when the bundle bytes haven't changed. One Loader
// per provider, rooted at the provider's cache directory.
type Loader struct {
	Logger     *zap.Logger
	Store      *cache.Store
	Downloader downloader.Downloader

	StaticTimeout time.Duration
	StaticMaxSize int
}

func NewLoader(logger *zap.Logger, store *cache.Store, dl downloader.Downloader) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dl == nil {
		dl = downloader.NewMemory()
	}
	return &Loader{
		Logger:        logger,
		Store:         store,
		Downloader:    dl,
		StaticTimeout: DefaultStaticTimeout,
		StaticMaxSize: DefaultStaticMaxSize,
	}
}

// BundleHash computes the cache key for an extracted bundle: SHA-256
// over the cache version literal followed by the content of every
// bundle file present, in fixed order.
func BundleHash(dir string) (string, error) {
	h := sha256.New()
	h.Write([]byte(CacheVersion))

	found := false
	for _, name := range parse.BundleFiles {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("opening %s: %w", name, err)
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", fmt.Errorf("hashing %s: %w", name, err)
		}
		f.Close()
		found = true
	}

	if !found {
		return "", fmt.Errorf("%w: no bundle files in %s", ErrMalformedFeed, dir)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// LoadDir loads the extracted bundle under dir. When a snapshot with
// a matching hash exists in the store it is restored; otherwise the
// CSV files are parsed and a fresh snapshot written. Loading the same
// bytes twice neither re-parses nor rewrites the snapshot.
func (l *Loader) LoadDir(dir string) (*Feed, error) {
	hash, err := BundleHash(dir)
	if err != nil {
		return nil, err
	}

	if sidecar, err := l.Store.GetBlob(SnapshotHashFile); err == nil &&
		strings.TrimSpace(string(sidecar)) == hash {
		if blob, err := l.Store.GetBlob(SnapshotFile); err == nil {
			feed, err := Restore(blob)
			if err == nil && feed.Hash == hash {
				l.Logger.Debug("restored feed from snapshot",
					zap.String("hash", hash))
				return feed, nil
			}
			// A snapshot that doesn't restore is treated as a
			// miss; the CSV parse below overwrites it.
			l.Logger.Warn("discarding unusable feed snapshot", zap.Error(err))
		}
	}

	data, err := parse.ParseDir(l.Logger, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}

	feed, err := Build(data, hash)
	if err != nil {
		return nil, err
	}

	blob, err := feed.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serializing snapshot: %w", err)
	}
	if err := l.Store.SetBlob(SnapshotFile, blob); err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	if err := l.Store.SetBlob(SnapshotHashFile, []byte(hash)); err != nil {
		return nil, fmt.Errorf("writing snapshot hash: %w", err)
	}

	l.Logger.Info("parsed feed bundle",
		zap.String("hash", hash),
		zap.Int("stops", len(feed.Stops)),
		zap.Int("routes", len(feed.Routes)),
		zap.Int("trips", len(feed.Trips)))

	return feed, nil
}

// Download fetches a zipped GTFS bundle and extracts the bundle files
// into the provider's cache directory. A filesystem lock serializes
// concurrent downloads across processes.
func (l *Loader) Download(ctx context.Context, url string, headers map[string]string) error {
	lock, err := l.Store.AcquireDownloadLock(ctx, "gtfs_download", cache.DefaultLockStaleAge)
	if err != nil {
		return fmt.Errorf("acquiring download lock: %w", err)
	}
	defer lock.Release()

	body, err := l.Downloader.Get(ctx, url, headers, downloader.GetOptions{
		Timeout: l.StaticTimeout,
		MaxSize: l.StaticMaxSize,
	})
	if err != nil {
		return fmt.Errorf("downloading bundle: %w", err)
	}

	return l.extract(body)
}

// LoadURL downloads (unless a fresh extraction exists) and loads a
// bundle. ttl bounds how old the extracted copy may be before a new
// download is attempted; a failed download falls back to the existing
// extraction when one is present.
func (l *Loader) LoadURL(ctx context.Context, url string, headers map[string]string, ttl time.Duration) (*Feed, error) {
	dir := filepath.Join(l.Store.Dir, gtfsSubdir)

	var downloadedAt time.Time
	fresh := false
	if err := l.Store.Get("gtfs_downloaded_at", &downloadedAt); err == nil {
		fresh = time.Since(downloadedAt) < ttl
	}

	if !fresh {
		if err := l.Download(ctx, url, headers); err != nil {
			if _, statErr := os.Stat(dir); statErr != nil {
				return nil, err
			}
			l.Logger.Warn("bundle download failed, using cached extraction",
				zap.String("url", url),
				zap.Error(err))
		} else {
			// The record's own expiry is unused; the ttl
			// argument decides freshness on read.
			if err := l.Store.Set("gtfs_downloaded_at", time.Now().UTC(), 365*24*time.Hour); err != nil {
				return nil, fmt.Errorf("recording download time: %w", err)
			}
		}
	}

	return l.LoadDir(dir)
}

func (l *Loader) extract(body []byte) error {
	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("%w: unzipping bundle: %v", ErrMalformedFeed, err)
	}

	wanted := map[string]bool{}
	for _, name := range parse.BundleFiles {
		wanted[name] = true
	}

	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(zf.Name, "/")
		name := path[len(path)-1]
		if !wanted[name] {
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", zf.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", zf.Name, err)
		}

		if err := l.Store.SetBlob(gtfsSubdir+"/"+name, content); err != nil {
			return fmt.Errorf("extracting %s: %w", name, err)
		}
	}

	return nil
}
