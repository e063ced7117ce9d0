package schedule

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tidwall/rtree"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/openmobility/transithub/geo"
	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/model"
)

// Engine answers schedule queries against an immutable feed snapshot.
// The spatial index and folded-name table are derived per snapshot and
// rebuilt lazily when the feed hash changes.
type Engine struct {
	Logger *zap.Logger

	mu    sync.Mutex
	hash  string
	tree  *rtree.RTree
	names []nameEntry
}

type nameEntry struct {
	stopID string
	name   string
	folded string
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{Logger: logger}
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type StopSummary struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Coordinates  *Coordinates        `json:"coordinates"`
	Translations map[string]string   `json:"translations,omitempty"`
	Routes       []string            `json:"routes,omitempty"`
	Meta         *model.ResponseMeta `json:"_metadata,omitempty"`
}

type StopDistance struct {
	StopSummary
	DistanceM float64 `json:"distance_m"`
}

func (e *Engine) ensure(feed *gtfs.Feed) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hash == feed.Hash && e.tree != nil {
		return
	}

	tree := &rtree.RTree{}
	names := []nameEntry{}
	for _, stop := range feed.Stops {
		if stop.HasCoords {
			pt := [2]float64{stop.Lon, stop.Lat}
			tree.Insert(pt, pt, stop)
		}
		if stop.Name != "" {
			names = append(names, nameEntry{stop.ID, stop.Name, fold(stop.Name)})
		}
		for _, translated := range stop.Translations {
			names = append(names, nameEntry{stop.ID, translated, fold(translated)})
		}
	}

	e.hash = feed.Hash
	e.tree = tree
	e.names = names
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lower-cases and strips diacritics, so "Élisée" matches "elisee".
func fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

type BBoxResult struct {
	Count int            `json:"count"`
	Stops []*StopSummary `json:"stops,omitempty"`
}

// StationsInBBox returns the stops whose coordinates fall inside the
// box. In count-only mode just the count is computed; the count always
// equals the length of the full listing for the same box.
func (e *Engine) StationsInBBox(feed *gtfs.Feed, minLat, minLon, maxLat, maxLon float64, countOnly bool) (*BBoxResult, error) {
	if !geo.ValidCoordinates(minLat, minLon) || !geo.ValidCoordinates(maxLat, maxLon) {
		return nil, geo.ErrInvalidCoordinates
	}

	e.ensure(feed)

	result := &BBoxResult{}
	e.tree.Search(
		[2]float64{minLon, minLat},
		[2]float64{maxLon, maxLat},
		func(min, max [2]float64, value interface{}) bool {
			stop := value.(*model.Stop)
			result.Count++
			if !countOnly {
				result.Stops = append(result.Stops, e.summarize(feed, stop, true))
			}
			return true
		})

	sort.Slice(result.Stops, func(i, j int) bool {
		return result.Stops[i].ID < result.Stops[j].ID
	})

	return result, nil
}

// NearestStops returns up to limit stops within maxDistanceKm of the
// point, closest first.
func (e *Engine) NearestStops(feed *gtfs.Feed, lat, lon float64, limit int, maxDistanceKm float64) ([]*StopDistance, error) {
	if !geo.ValidCoordinates(lat, lon) {
		return nil, geo.ErrInvalidCoordinates
	}
	if limit <= 0 {
		limit = 5
	}
	if maxDistanceKm <= 0 {
		maxDistanceKm = 2
	}

	e.ensure(feed)

	// Bounding box around the point; the haversine check below
	// trims the corners.
	dLat := maxDistanceKm / 111.195
	dLon := dLat * 2 // wide enough at European latitudes

	candidates := []*StopDistance{}
	e.tree.Search(
		[2]float64{lon - dLon, lat - dLat},
		[2]float64{lon + dLon, lat + dLat},
		func(min, max [2]float64, value interface{}) bool {
			stop := value.(*model.Stop)
			d, err := geo.Haversine(lat, lon, stop.Lat, stop.Lon)
			if err != nil || d > maxDistanceKm*1000 {
				return true
			}
			candidates = append(candidates, &StopDistance{
				StopSummary: *e.summarize(feed, stop, false),
				DistanceM:   d,
			})
			return true
		})

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceM != candidates[j].DistanceM {
			return candidates[i].DistanceM < candidates[j].DistanceM
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// StopsByName searches the default name and every translation,
// case- and diacritic-insensitive. Prefix hits rank above substring
// hits, shorter names above longer.
func (e *Engine) StopsByName(feed *gtfs.Feed, query string, limit int) []*StopSummary {
	if limit <= 0 {
		limit = 10
	}

	e.ensure(feed)
	folded := fold(query)
	if folded == "" {
		return nil
	}

	type hit struct {
		entry nameEntry
		rank  int
	}
	best := map[string]hit{}
	for _, entry := range e.names {
		rank := -1
		if strings.HasPrefix(entry.folded, folded) {
			rank = 0
		} else if strings.Contains(entry.folded, folded) {
			rank = 1
		}
		if rank < 0 {
			continue
		}
		prev, seen := best[entry.stopID]
		if !seen || rank < prev.rank ||
			(rank == prev.rank && len(entry.name) < len(prev.entry.name)) {
			best[entry.stopID] = hit{entry, rank}
		}
	}

	hits := make([]hit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		if len(hits[i].entry.name) != len(hits[j].entry.name) {
			return len(hits[i].entry.name) < len(hits[j].entry.name)
		}
		return hits[i].entry.stopID < hits[j].entry.stopID
	})

	out := []*StopSummary{}
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		if stop, ok := feed.Stop(h.entry.stopID); ok {
			out = append(out, e.summarize(feed, stop, false))
		}
	}
	return out
}

// summarize builds the wire representation of a stop. Stations
// aggregate the routes of their child platforms.
func (e *Engine) summarize(feed *gtfs.Feed, stop *model.Stop, withRoutes bool) *StopSummary {
	s := &StopSummary{
		ID:           stop.ID,
		Name:         stop.Name,
		Translations: stop.Translations,
	}
	if stop.HasCoords {
		s.Coordinates = &Coordinates{Lat: stop.Lat, Lon: stop.Lon}
	}
	if withRoutes {
		s.Routes = e.routesAt(feed, stop)
	}
	return s
}

func (e *Engine) routesAt(feed *gtfs.Feed, stop *model.Stop) []string {
	seen := map[string]bool{}
	collect := func(stopID string) {
		for _, st := range feed.StopTimesByStop(stopID) {
			if trip, ok := feed.Trip(st.TripID); ok {
				seen[trip.RouteID] = true
			}
		}
	}
	collect(stop.ID)
	if stop.LocationType == model.LocationTypeStation {
		for _, child := range feed.ChildStops(stop.ID) {
			collect(child.ID)
		}
	}

	routes := make([]string, 0, len(seen))
	for id := range seen {
		routes = append(routes, id)
	}
	sort.Strings(routes)
	return routes
}
