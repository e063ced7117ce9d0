// Package config declares the service configuration, parsed from
// environment variables and flags with ardanlabs/conf under the
// TRANSITHUB namespace.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"

	"github.com/openmobility/transithub/provider"
)

type Provider struct {
	APIURL         string
	APIKey         string        `conf:"noprint"`
	GTFSURL        string
	MonitoredLines string
	StopIDs        string
	RateLimitDelay time.Duration `conf:"default:1s"`
	GTFSCacheTTL   time.Duration `conf:"default:24h"`
	Languages      string        `conf:"default:fr;nl;en"`
}

type Config struct {
	conf.Version

	Web struct {
		Addr string `conf:"default:0.0.0.0:8000"`
	}

	ProjectRoot      string `conf:"default:."`
	Timezone         string `conf:"default:Europe/Brussels"`
	EnabledProviders string `conf:"default:stib"`

	GTFSRefresh time.Duration `conf:"default:1h"`

	Stib   Provider
	Delijn Provider
	Sncb   Provider
	Bkk    Provider
}

const prefix = "TRANSITHUB"

// Parse reads configuration from args and the environment. The
// returned usage string is non-empty when the caller asked for help.
func Parse(args []string, build string) (*Config, string, error) {
	cfg := &Config{}
	cfg.Version.SVN = build
	cfg.Version.Desc = "public transit aggregation service"

	if err := conf.Parse(args, prefix, cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, uerr := conf.Usage(prefix, cfg)
			if uerr != nil {
				return nil, "", errors.Wrap(uerr, "generating usage")
			}
			return nil, usage, nil
		case conf.ErrVersionWanted:
			version, verr := conf.VersionString(prefix, cfg)
			if verr != nil {
				return nil, "", errors.Wrap(verr, "generating version")
			}
			return nil, version, nil
		}
		return nil, "", errors.Wrap(err, "parsing config")
	}
	return cfg, "", nil
}

// String renders the parsed configuration for startup logs, secrets
// redacted.
func (c *Config) String() (string, error) {
	return conf.String(c)
}

// Enabled lists the provider names to instantiate.
func (c *Config) Enabled() []string {
	return splitList(c.EnabledProviders)
}

// ProviderConfig assembles the adapter configuration for one operator.
func (c *Config) ProviderConfig(name string) (provider.Config, error) {
	var p Provider
	switch name {
	case "stib":
		p = c.Stib
	case "delijn":
		p = c.Delijn
	case "sncb":
		p = c.Sncb
	case "bkk":
		p = c.Bkk
	default:
		return provider.Config{}, fmt.Errorf("unknown provider %q", name)
	}

	return provider.Config{
		Name:               name,
		APIURL:             p.APIURL,
		APIKey:             p.APIKey,
		GTFSURL:            p.GTFSURL,
		MonitoredLines:     splitList(p.MonitoredLines),
		StopIDs:            splitList(p.StopIDs),
		RateLimitDelay:     p.RateLimitDelay,
		GTFSCacheTTL:       p.GTFSCacheTTL,
		AvailableLanguages: splitList(p.Languages),
		Timezone:           c.Timezone,
		CacheDir:           filepath.Join(c.ProjectRoot, "cache", name),
	}, nil
}

// splitList accepts comma- or semicolon-separated values. Environment
// variables use semicolons to stay out of the way of conf's own tag
// syntax.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
