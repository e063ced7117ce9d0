package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/cache"
	"github.com/openmobility/transithub/config"
	"github.com/openmobility/transithub/downloader"
	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/httpapi"
	"github.com/openmobility/transithub/provider"
	"github.com/openmobility/transithub/provider/bkk"
	"github.com/openmobility/transithub/provider/delijn"
	"github.com/openmobility/transithub/provider/sncb"
	"github.com/openmobility/transithub/provider/stib"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the aggregation service",
	Long:  "Configuration is read from TRANSITHUB_* environment variables and flags, see --help",
	// conf owns the flag syntax for this command.
	DisableFlagParsing: true,
	RunE:               serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, usage, err := config.Parse(args, build)
	if err != nil {
		return err
	}
	if usage != "" {
		fmt.Println(usage)
		return nil
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	defer logger.Sync()

	out, err := cfg.String()
	if err != nil {
		return err
	}
	logger.Info("starting", zap.String("version", build), zap.String("config", out))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := provider.NewRegistry(logger)
	for _, name := range cfg.Enabled() {
		pc, err := cfg.ProviderConfig(name)
		if err != nil {
			return err
		}

		feeds, err := newFeedManager(ctx, logger, cfg, pc)
		if err != nil {
			return errors.Wrapf(err, "provider %s", name)
		}

		p, err := newProvider(logger, name, pc, feeds)
		if err != nil {
			return errors.Wrapf(err, "provider %s", name)
		}
		registry.Register(p)
	}

	err = httpapi.New(logger, registry).Run(ctx, cfg.Web.Addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newFeedManager wires the static feed pipeline for one operator and
// starts the background refresh. The initial load happens in the
// background too; the API serves 503 for feed-backed endpoints until
// it completes.
func newFeedManager(ctx context.Context, logger *zap.Logger, cfg *config.Config, pc provider.Config) (*gtfs.Manager, error) {
	if pc.GTFSURL == "" {
		logger.Warn("no GTFS URL configured, static-feed endpoints will be unavailable",
			zap.String("provider", pc.Name))
		return nil, nil
	}

	store := cache.NewStore(pc.CacheDir, pc.GTFSCacheTTL)
	loader := gtfs.NewLoader(logger, store, downloader.NewFilesystem(store))
	manager := gtfs.NewManager(logger, loader, pc.GTFSURL, pc.GTFSCacheTTL)

	go manager.Run(ctx, cfg.GTFSRefresh)

	return manager, nil
}

func newProvider(logger *zap.Logger, name string, pc provider.Config, feeds *gtfs.Manager) (provider.Provider, error) {
	switch name {
	case "stib":
		return stib.New(logger, pc, feeds), nil
	case "delijn":
		return delijn.New(logger, pc, feeds), nil
	case "sncb":
		return sncb.New(logger, pc, feeds)
	case "bkk":
		return bkk.New(logger, pc, feeds)
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}
