package gtfs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/cache"
	"github.com/openmobility/transithub/downloader"
	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/testutil"
)

type fakeDownloader struct {
	body  []byte
	err   error
	calls int
}

func (d *fakeDownloader) Get(ctx context.Context, url string, headers map[string]string, options downloader.GetOptions) ([]byte, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.body, nil
}

func newTestLoader(t *testing.T) (*gtfs.Loader, string) {
	dir := t.TempDir()
	store := cache.NewStore(dir, time.Hour)
	return gtfs.NewLoader(zap.NewNop(), store, &fakeDownloader{}), dir
}

func TestBundleHash(t *testing.T) {
	loaderDir := t.TempDir()
	testutil.WriteBundleDir(t, loaderDir, testBundle())

	h1, err := gtfs.BundleHash(loaderDir)
	require.NoError(t, err)
	require.NotEmpty(t, h1)

	// Same bytes, same hash.
	h2, err := gtfs.BundleHash(loaderDir)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// Changed bytes, different hash.
	require.NoError(t, os.WriteFile(
		filepath.Join(loaderDir, "feed_info.txt"),
		[]byte("feed_publisher_name,feed_publisher_url,feed_lang\nPub,http://pub.example,fr"),
		0644))
	h3, err := gtfs.BundleHash(loaderDir)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	// No bundle files at all is a malformed feed.
	_, err = gtfs.BundleHash(t.TempDir())
	assert.ErrorIs(t, err, gtfs.ErrMalformedFeed)
}

func TestLoaderSnapshotReuse(t *testing.T) {
	loader, dir := newTestLoader(t)
	bundleDir := filepath.Join(dir, "gtfs")
	require.NoError(t, os.MkdirAll(bundleDir, 0755))
	testutil.WriteBundleDir(t, bundleDir, testBundle())

	feed, err := loader.LoadDir(bundleDir)
	require.NoError(t, err)
	assert.Len(t, feed.Stops, 5)

	// First load writes snapshot and hash sidecar.
	_, err = os.Stat(filepath.Join(dir, gtfs.SnapshotFile))
	require.NoError(t, err)
	sidecar, err := os.ReadFile(filepath.Join(dir, gtfs.SnapshotHashFile))
	require.NoError(t, err)
	assert.Equal(t, feed.Hash, string(sidecar))

	// Second load restores from the snapshot.
	feed2, err := loader.LoadDir(bundleDir)
	require.NoError(t, err)
	assert.Equal(t, feed.Hash, feed2.Hash)
	assert.Len(t, feed2.Stops, 5)

	// Bad snapshot falls back to a fresh parse.
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, gtfs.SnapshotFile), []byte("garbage"), 0644))
	feed3, err := loader.LoadDir(bundleDir)
	require.NoError(t, err)
	assert.Equal(t, feed.Hash, feed3.Hash)
	assert.Len(t, feed3.Stops, 5)
}

func TestLoaderMalformedBundle(t *testing.T) {
	loader, dir := newTestLoader(t)
	bundleDir := filepath.Join(dir, "gtfs")
	require.NoError(t, os.MkdirAll(bundleDir, 0755))

	bundle := testBundle()
	bundle["stop_times.txt"] = []string{
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
		"t1,bogus,08:00:30,S1,1",
	}
	testutil.WriteBundleDir(t, bundleDir, bundle)

	_, err := loader.LoadDir(bundleDir)
	assert.ErrorIs(t, err, gtfs.ErrMalformedFeed)
}

func TestLoaderDownloadAndExtract(t *testing.T) {
	dir := t.TempDir()
	store := cache.NewStore(dir, time.Hour)
	dl := &fakeDownloader{body: testutil.BuildZip(t, testutil.FillBundle(testBundle()))}
	loader := gtfs.NewLoader(zap.NewNop(), store, dl)

	feed, err := loader.LoadURL(context.Background(), "http://feeds.example/gtfs.zip", nil, time.Hour)
	require.NoError(t, err)
	assert.Len(t, feed.Stops, 5)
	assert.Equal(t, 1, dl.calls)

	// Within the TTL, no new download happens.
	_, err = loader.LoadURL(context.Background(), "http://feeds.example/gtfs.zip", nil, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, dl.calls)

	// After expiry a failed download falls back to the extracted
	// copy on disk.
	dl.err = errors.New("upstream down")
	feed2, err := loader.LoadURL(context.Background(), "http://feeds.example/gtfs.zip", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, feed.Hash, feed2.Hash)
	assert.Equal(t, 2, dl.calls)
}
