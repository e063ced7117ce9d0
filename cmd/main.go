package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/cache"
	"github.com/openmobility/transithub/downloader"
	"github.com/openmobility/transithub/gtfs"
)

var build = "develop"

var rootCmd = &cobra.Command{
	Use:          "transithub",
	Short:        "Public transit aggregation service",
	Long:         "Aggregates static GTFS bundles and operator realtime APIs behind one HTTP API",
	SilenceUsage: true,
}

var (
	gtfsURL     string
	gtfsDir     string
	gtfsHeaders []string
	cacheDir    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&gtfsURL, "gtfs-url", "", "GTFS bundle URL")
	rootCmd.PersistentFlags().StringVar(&gtfsDir, "gtfs-dir", "", "Directory with extracted GTFS files")
	rootCmd.PersistentFlags().StringSliceVar(&gtfsHeaders, "header", []string{}, "HTTP header for the bundle download, <key>:<value>")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", filepath.Join(".", "cache", "cli"), "Cache directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

// loadFeed builds a snapshot from --gtfs-dir or --gtfs-url for the
// one-shot CLI commands.
func loadFeed(ctx context.Context) (*gtfs.Feed, error) {
	logger := zap.NewNop()
	store := cache.NewStore(cacheDir, 24*time.Hour)
	loader := gtfs.NewLoader(logger, store, downloader.NewFilesystem(store))

	if gtfsDir != "" {
		return loader.LoadDir(gtfsDir)
	}
	if gtfsURL == "" {
		return nil, fmt.Errorf("either --gtfs-url or --gtfs-dir is required")
	}

	headers, err := parseHeaders(gtfsHeaders)
	if err != nil {
		return nil, err
	}
	return loader.LoadURL(ctx, gtfsURL, headers, 24*time.Hour)
}
