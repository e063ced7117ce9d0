package testutil

// Helpers for constructing GTFS fixtures in tests.

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/cache"
	"github.com/openmobility/transithub/downloader"
	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/gtfs/parse"
)

// BuildZip assembles an in-memory zip from filename -> lines.
func BuildZip(t testing.TB, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// FillBundle adds (mostly blank) dummy data for any required bundle
// file missing from files, so tests only spell out what they assert
// on.
func FillBundle(files map[string][]string) map[string][]string {
	if files["agency.txt"] == nil {
		files["agency.txt"] = []string{
			"agency_timezone,agency_name,agency_url",
			"UTC,FooAgency,http://example.com",
		}
	}
	if files["calendar.txt"] == nil && files["calendar_dates.txt"] == nil {
		files["calendar.txt"] = []string{"service_id"}
	}
	if files["routes.txt"] == nil {
		files["routes.txt"] = []string{"route_id"}
	}
	if files["trips.txt"] == nil {
		files["trips.txt"] = []string{"trip_id"}
	}
	if files["stops.txt"] == nil {
		files["stops.txt"] = []string{"stop_id"}
	}
	if files["stop_times.txt"] == nil {
		files["stop_times.txt"] = []string{"stop_id"}
	}
	return files
}

// BuildFeed parses the given bundle files into a ready Feed snapshot.
func BuildFeed(t testing.TB, files map[string][]string) *gtfs.Feed {
	data, err := parse.ParseZip(zap.NewNop(), BuildZip(t, FillBundle(files)))
	require.NoError(t, err)

	feed, err := gtfs.Build(data, "test")
	require.NoError(t, err)

	return feed
}

type zipDownloader struct {
	body []byte
}

func (d zipDownloader) Get(context.Context, string, map[string]string, downloader.GetOptions) ([]byte, error) {
	return d.body, nil
}

// NewManager builds a feed manager already loaded with the given
// bundle, backed by a throwaway cache dir.
func NewManager(t testing.TB, files map[string][]string) *gtfs.Manager {
	store := cache.NewStore(t.TempDir(), time.Hour)
	loader := gtfs.NewLoader(zap.NewNop(), store, zipDownloader{
		body: BuildZip(t, FillBundle(files)),
	})
	m := gtfs.NewManager(zap.NewNop(), loader, "http://static.example/gtfs.zip", time.Hour)
	require.NoError(t, m.Load(context.Background()))
	return m
}

// WriteBundleDir writes the bundle files into dir, the extracted-CSV
// layout the loader consumes.
func WriteBundleDir(t testing.TB, dir string, files map[string][]string) {
	for filename, content := range FillBundle(files) {
		err := os.WriteFile(
			filepath.Join(dir, filename),
			[]byte(strings.Join(content, "\n")),
			0644)
		require.NoError(t, err)
	}
}
