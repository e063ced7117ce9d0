package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openmobility/transithub/model"
	"github.com/openmobility/transithub/schedule"
)

// Error taxonomy shared by every adapter. The HTTP layer maps these to
// status codes; adapters wrap them with operator context.
var (
	ErrRateLimited = errors.New("rate limited, no cached data available")
	ErrNotFound    = errors.New("not found")
	ErrUpstream    = errors.New("upstream error")
	ErrUnsupported = errors.New("operation not supported by this provider")
	ErrBadRequest  = errors.New("invalid request")
)

// Config is the enumerated per-operator option set. Values come from
// the service configuration; adapters never read the environment
// themselves.
type Config struct {
	Name               string
	APIURL             string
	APIKey             string
	GTFSURL            string
	MonitoredLines     []string
	StopIDs            []string
	RateLimitDelay     time.Duration
	GTFSCacheTTL       time.Duration
	AvailableLanguages []string
	Timezone           string
	CacheDir           string
}

// Provider is the minimal surface every adapter implements. The
// operation set is modeled as separate capability interfaces; the
// registry advertises which ones an adapter satisfies.
type Provider interface {
	Name() string
	Config() Config
}

type WaitingTimesProvider interface {
	WaitingTimes(ctx context.Context, stopID, lang string) (*WaitingTimesResult, error)
}

type VehiclesProvider interface {
	Vehicles(ctx context.Context, line, direction string) (*VehiclesResult, error)
}

type MessagesProvider interface {
	ServiceMessages(ctx context.Context, lang string) (*MessagesResult, error)
}

type RouteProvider interface {
	Route(ctx context.Context, line string) (*RouteResult, error)
}

type ColorsProvider interface {
	Colors(ctx context.Context, line string) (*model.RouteColors, error)
}

type NearestStopProvider interface {
	NearestStop(ctx context.Context, lat, lon float64, limit int, maxDistanceKm float64) ([]*schedule.StopDistance, error)
}

type StopsByNameProvider interface {
	StopsByName(ctx context.Context, query string, limit int) ([]*schedule.StopSummary, error)
}

// ScheduleExplorerProvider groups the timetable-exploration
// operations. They are answered from the static feed alone, so Base
// implements them for every adapter.
type ScheduleExplorerProvider interface {
	TripsBetween(ctx context.Context, startID, endID, date, lang string) (*TripsResult, error)
	StationsInBBox(ctx context.Context, minLat, minLon, maxLat, maxLon float64, countOnly bool) (*schedule.BBoxResult, error)
	DestinationsFrom(ctx context.Context, stopID, lang string) (*ReachableResult, error)
	OriginsTo(ctx context.Context, stopID, lang string) (*ReachableResult, error)
	RoutesServing(ctx context.Context, stopID, lang string) (*RoutesServingResult, error)
}

// LineData is one route's arrivals at a stop: headsign → arrivals,
// with the metadata object inlined as "_metadata" beside the headsign
// keys.
type LineData struct {
	Meta      *model.ResponseMeta
	Headsigns map[string][]*model.WaitingTime
}

func (l *LineData) MarshalJSON() ([]byte, error) {
	merged := make(map[string]interface{}, len(l.Headsigns)+1)
	for headsign, arrivals := range l.Headsigns {
		merged[headsign] = arrivals
	}
	if l.Meta != nil {
		merged["_metadata"] = l.Meta
	}
	return json.Marshal(merged)
}

type StopData struct {
	Name         string                `json:"name"`
	Coordinates  *schedule.Coordinates `json:"coordinates"`
	Translations map[string]string     `json:"translations,omitempty"`
	Lines        map[string]*LineData  `json:"lines"`
	Meta         *model.ResponseMeta   `json:"_metadata,omitempty"`
}

type WaitingTimesResult struct {
	StopsData map[string]*StopData `json:"stops_data"`
	Meta      *model.ResponseMeta  `json:"_metadata,omitempty"`
}

type VehiclesResult struct {
	Vehicles []*model.VehiclePosition `json:"vehicles"`
	Meta     *model.ResponseMeta      `json:"_metadata,omitempty"`
}

type MessagesResult struct {
	Messages []*model.ServiceMessage `json:"messages"`
	Meta     *model.ResponseMeta     `json:"_metadata,omitempty"`
}

type RouteResult struct {
	Line []*RouteVariantData `json:"line"`
	Meta *model.ResponseMeta `json:"_metadata,omitempty"`
}

type TripsResult struct {
	Trips []*schedule.TripMatch `json:"trips"`
	Meta  *model.ResponseMeta   `json:"_metadata,omitempty"`
}

type ReachableResult struct {
	Stops []*schedule.StopSummary `json:"stops"`
	Meta  *model.ResponseMeta     `json:"_metadata,omitempty"`
}

type RoutesServingResult struct {
	Routes []*schedule.RouteSummary `json:"routes"`
	Meta   *model.ResponseMeta      `json:"_metadata,omitempty"`
}

type RouteVariantData struct {
	RouteID     string                  `json:"route_id"`
	DirectionID int8                    `json:"direction_id"`
	Destination string                  `json:"destination"`
	Stops       []*schedule.StopSummary `json:"stops"`
	// [lon, lat] pairs, GeoJSON order.
	Shape []model.ShapePoint `json:"shape,omitempty"`
}

// GroupWaitingTimes shapes a flat arrival list into the wire layout:
// route → headsign → arrivals. Input order (ascending minutes) is
// preserved within each group.
func GroupWaitingTimes(waiting []*model.WaitingTime, lineMeta func(routeID string) *model.ResponseMeta) map[string]*LineData {
	lines := map[string]*LineData{}
	for _, wt := range waiting {
		line, ok := lines[wt.RouteID]
		if !ok {
			line = &LineData{Headsigns: map[string][]*model.WaitingTime{}}
			if lineMeta != nil {
				line.Meta = lineMeta(wt.RouteID)
			}
			lines[wt.RouteID] = line
		}
		line.Headsigns[wt.Headsign] = append(line.Headsigns[wt.Headsign], wt)
	}
	return lines
}
