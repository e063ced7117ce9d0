package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/cache"
	"github.com/openmobility/transithub/geo"
	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/model"
	"github.com/openmobility/transithub/ratelimit"
	"github.com/openmobility/transithub/schedule"
	"github.com/openmobility/transithub/vehicle"
)

const upstreamTimeout = 30 * time.Second

// Base carries the plumbing every adapter shares: rate-limited cached
// upstream calls, the operator's GTFS feed manager and the derived
// schedule and vehicle engines. Adapters embed it and add their
// API-specific decoding on top.
type Base struct {
	Cfg     Config
	Logger  *zap.Logger
	Limiter *ratelimit.Limiter
	Cache   *cache.Store
	HTTP    *http.Client

	Feeds         *gtfs.Manager
	Engine        *schedule.Engine
	Reconstructor *vehicle.Reconstructor
}

func NewBase(logger *zap.Logger, cfg Config, feeds *gtfs.Manager) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		Cfg:           cfg,
		Logger:        logger.With(zap.String("provider", cfg.Name)),
		Limiter:       ratelimit.NewLimiter(cfg.RateLimitDelay),
		Cache:         cache.NewStore(cfg.CacheDir, cfg.GTFSCacheTTL),
		HTTP:          &http.Client{Timeout: upstreamTimeout},
		Feeds:         feeds,
		Engine:        schedule.NewEngine(logger),
		Reconstructor: vehicle.NewReconstructor(logger),
	}
}

func (b *Base) Name() string   { return b.Cfg.Name }
func (b *Base) Config() Config { return b.Cfg }

// Feed returns the operator's current GTFS snapshot, or ErrFeedNotReady
// wrapped for the HTTP layer while the first load is in flight.
func (b *Base) Feed() (*gtfs.Feed, error) {
	if b.Feeds == nil {
		return nil, gtfs.ErrFeedNotReady
	}
	return b.Feeds.Current()
}

// FetchJSON performs a rate-limited GET and decodes the JSON body into
// out. Responses are cached under key for ttl. When the quota is
// exhausted the cached copy is served without any outbound call, even
// past its expiry; cached=true tells the caller to mark the payload.
// Upstream failures also fall back to the stale cache.
func (b *Base) FetchJSON(ctx context.Context, key, url string, headers map[string]string, ttl time.Duration, out interface{}) (cached bool, err error) {
	if !b.Limiter.CanRequest() {
		if b.Cache.GetStale(key, out) == nil {
			b.Logger.Debug("quota exhausted, serving cache", zap.String("key", key))
			return true, nil
		}
		return false, errors.Wrapf(ErrRateLimited, "fetching %s", key)
	}

	if b.Cache.Get(key, out) == nil {
		return true, nil
	}

	if err := b.Limiter.Wait(ctx); err != nil {
		return false, err
	}

	body, err := b.get(ctx, url, headers)
	if err != nil {
		if b.Cache.GetStale(key, out) == nil {
			b.Logger.Warn("upstream failed, serving stale cache",
				zap.String("key", key), zap.Error(err))
			return true, nil
		}
		return false, err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, errors.Wrapf(ErrUpstream, "decoding %s: %v", key, err)
	}
	if err := b.Cache.Set(key, json.RawMessage(body), ttl); err != nil {
		b.Logger.Warn("caching response", zap.String("key", key), zap.Error(err))
	}
	return false, nil
}

// FetchRaw is FetchJSON for non-JSON payloads (protobuf feeds). The
// cache stores the bytes base64-wrapped via encoding/json.
func (b *Base) FetchRaw(ctx context.Context, key, url string, headers map[string]string, ttl time.Duration) (data []byte, cached bool, err error) {
	if !b.Limiter.CanRequest() {
		if b.Cache.GetStale(key, &data) == nil {
			return data, true, nil
		}
		return nil, false, errors.Wrapf(ErrRateLimited, "fetching %s", key)
	}

	if b.Cache.Get(key, &data) == nil {
		return data, true, nil
	}

	if err := b.Limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	body, err := b.get(ctx, url, headers)
	if err != nil {
		if b.Cache.GetStale(key, &data) == nil {
			b.Logger.Warn("upstream failed, serving stale cache",
				zap.String("key", key), zap.Error(err))
			return data, true, nil
		}
		return nil, false, err
	}

	if err := b.Cache.Set(key, body, ttl); err != nil {
		b.Logger.Warn("caching response", zap.String("key", key), zap.Error(err))
	}
	return body, false, nil
}

func (b *Base) get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstream, "GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	b.Limiter.UpdateFromHeaders(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.Wrapf(ErrRateLimited, "GET %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrUpstream, "GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstream, "reading %s: %v", url, err)
	}
	return body, nil
}

// IsMonitored reports whether a line or stop is in the operator's
// monitored set. An empty set monitors nothing.
func (b *Base) IsMonitoredLine(line string) bool {
	for _, l := range b.Cfg.MonitoredLines {
		if l == line {
			return true
		}
	}
	return false
}

func (b *Base) IsMonitoredStop(stop string) bool {
	for _, s := range b.Cfg.StopIDs {
		if s == stop {
			return true
		}
	}
	return false
}

// StopNames resolves stop ids to display names through the static
// feed, for payloads that carry both. Ids unknown to the bundle, and
// all ids while the feed is still loading, fall back to the id itself.
func (b *Base) StopNames(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	names := make([]string, len(ids))
	feed, err := b.Feed()
	for i, id := range ids {
		names[i] = id
		if err != nil {
			continue
		}
		if stop, ok := feed.Stop(id); ok {
			names[i] = stop.Name
		} else if stop, ok := feed.Stop(vehicle.StripSuffix(id)); ok {
			names[i] = stop.Name
		}
	}
	return names
}

// TripsBetween lists the trips serving both stops, in either
// direction. A non-empty date ("2006-01-02", operator-local) restricts
// the answer to services operating that day.
func (b *Base) TripsBetween(ctx context.Context, startID, endID, date, lang string) (*TripsResult, error) {
	feed, err := b.Feed()
	if err != nil {
		return nil, err
	}
	if _, ok := feed.Stop(startID); !ok {
		return nil, errors.Wrapf(ErrNotFound, "stop %s", startID)
	}
	if _, ok := feed.Stop(endID); !ok {
		return nil, errors.Wrapf(ErrNotFound, "stop %s", endID)
	}

	var day *time.Time
	if date != "" {
		loc := time.UTC
		if l, ok := feed.Location(); ok {
			loc = l
		}
		parsed, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return nil, errors.Wrap(ErrBadRequest, "date must be YYYY-MM-DD")
		}
		day = &parsed
	}

	trips, err := b.Engine.FindTripsBetween(feed, startID, endID, day, lang)
	if err != nil {
		return nil, err
	}
	return &TripsResult{Trips: trips}, nil
}

// StationsInBBox returns the stops inside a bounding box, or only
// their count.
func (b *Base) StationsInBBox(ctx context.Context, minLat, minLon, maxLat, maxLon float64, countOnly bool) (*schedule.BBoxResult, error) {
	feed, err := b.Feed()
	if err != nil {
		return nil, err
	}
	res, err := b.Engine.StationsInBBox(feed, minLat, minLon, maxLat, maxLon, countOnly)
	if err != nil {
		if errors.Is(err, geo.ErrInvalidCoordinates) {
			return nil, errors.Wrapf(ErrBadRequest, "%v", err)
		}
		return nil, err
	}
	return res, nil
}

// DestinationsFrom lists the stops reachable travelling forward from
// the given stop.
func (b *Base) DestinationsFrom(ctx context.Context, stopID, lang string) (*ReachableResult, error) {
	feed, err := b.Feed()
	if err != nil {
		return nil, err
	}
	if _, ok := feed.Stop(stopID); !ok {
		return nil, errors.Wrapf(ErrNotFound, "stop %s", stopID)
	}
	stops, err := b.Engine.DestinationsFrom(feed, stopID, lang)
	if err != nil {
		return nil, err
	}
	return &ReachableResult{Stops: stops}, nil
}

// OriginsTo lists the stops from which the given stop can be reached.
func (b *Base) OriginsTo(ctx context.Context, stopID, lang string) (*ReachableResult, error) {
	feed, err := b.Feed()
	if err != nil {
		return nil, err
	}
	if _, ok := feed.Stop(stopID); !ok {
		return nil, errors.Wrapf(ErrNotFound, "stop %s", stopID)
	}
	stops, err := b.Engine.OriginsTo(feed, stopID, lang)
	if err != nil {
		return nil, err
	}
	return &ReachableResult{Stops: stops}, nil
}

// RoutesServing lists one summary per route variant through the stop.
func (b *Base) RoutesServing(ctx context.Context, stopID, lang string) (*RoutesServingResult, error) {
	feed, err := b.Feed()
	if err != nil {
		return nil, err
	}
	if _, ok := feed.Stop(stopID); !ok {
		return nil, errors.Wrapf(ErrNotFound, "stop %s", stopID)
	}
	routes, err := b.Engine.RoutesServing(feed, stopID, lang)
	if err != nil {
		return nil, err
	}
	return &RoutesServingResult{Routes: routes}, nil
}

// SelectLanguage picks the response language: the requested one when
// the operator publishes it, otherwise the first available. The meta
// records what happened.
func (b *Base) SelectLanguage(requested string) (string, *model.LanguageMeta) {
	avail := b.Cfg.AvailableLanguages
	if len(avail) == 0 {
		return requested, nil
	}
	meta := &model.LanguageMeta{
		Requested:     requested,
		FallbackChain: avail,
	}
	for _, lang := range avail {
		if lang == requested {
			meta.Selected = requested
			return requested, meta
		}
	}
	meta.Selected = avail[0]
	if requested != "" {
		meta.Warning = fmt.Sprintf("language %q not available, using %q", requested, avail[0])
	}
	return avail[0], meta
}

var hexColor = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// NormalizeColor renders an operator color as "#RRGGBB" uppercase.
// Accepts bare and '#'-prefixed hex; anything else yields fallback.
func NormalizeColor(raw, fallback string) string {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if !hexColor.MatchString(s) {
		return fallback
	}
	return "#" + strings.ToUpper(s)
}

// DefaultColors are applied when an operator publishes no colors for a
// line.
func DefaultColors() *model.RouteColors {
	return &model.RouteColors{
		Background:       "#000000",
		BackgroundBorder: "#000000",
		Text:             "#FFFFFF",
		TextBorder:       "#FFFFFF",
	}
}

// ColorsFromFeed derives the colors payload for a line from the static
// feed's route_color and route_text_color.
func ColorsFromFeed(feed *gtfs.Feed, line string) (*model.RouteColors, error) {
	route, ok := feed.Route(line)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "line %s", line)
	}
	colors := DefaultColors()
	if route.Color != "" {
		colors.Background = NormalizeColor(route.Color, colors.Background)
		colors.BackgroundBorder = colors.Background
	}
	if route.TextColor != "" {
		colors.Text = NormalizeColor(route.TextColor, colors.Text)
		colors.TextBorder = colors.Text
	}
	return colors, nil
}

// RouteFromFeed builds the route payload for a line from the static
// feed: one entry per direction variant with ordered stops and shape.
func RouteFromFeed(feed *gtfs.Feed, line string) (*RouteResult, error) {
	if _, ok := feed.Route(line); !ok {
		return nil, errors.Wrapf(ErrNotFound, "line %s", line)
	}

	result := &RouteResult{}
	for _, v := range feed.VariantsByRoute(line) {
		data := &RouteVariantData{
			RouteID:     v.RouteID,
			DirectionID: v.DirectionID,
			Destination: v.Headsign,
		}
		for _, stopID := range v.StopIDs {
			stop, ok := feed.Stop(stopID)
			if !ok {
				continue
			}
			summary := &schedule.StopSummary{
				ID:           stop.ID,
				Name:         stop.Name,
				Translations: stop.Translations,
			}
			if stop.HasCoords {
				summary.Coordinates = &schedule.Coordinates{Lat: stop.Lat, Lon: stop.Lon}
			}
			data.Stops = append(data.Stops, summary)
		}
		if shape, ok := feed.Shape(v.ShapeID); ok {
			data.Shape = shape.Points
		}
		result.Line = append(result.Line, data)
	}
	return result, nil
}

// ClockAndMinutes renders an absolute arrival in the operator's local
// clock ("HH:MM") along with whole minutes from now.
func ClockAndMinutes(arrival, now time.Time, loc *time.Location) (string, int) {
	if loc != nil {
		arrival = arrival.In(loc)
		now = now.In(loc)
	}
	return arrival.Format("15:04"), int(arrival.Sub(now).Minutes())
}
