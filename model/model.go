package model

import (
	"strconv"
	"time"
)

// Holds all external facing types and constants shared by the GTFS
// layer, the provider adapters and the HTTP surface.

type LocationType int

const (
	LocationTypeStop LocationType = iota
	LocationTypeStation
	LocationTypeEntranceExit
	LocationTypeGenericNode
	LocationTypeBoardingArea
)

type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCable      RouteType = 5
	RouteTypeAerial     RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

type ExceptionType int8

const (
	ServiceAdded   ExceptionType = 1
	ServiceRemoved ExceptionType = 2
)

type Agency struct {
	ID       string
	Name     string
	URL      string
	Timezone string
	Lang     string
}

type Calendar struct {
	ServiceID string
	// Weekday bitmap, bit 0 = Monday ... bit 6 = Sunday.
	Weekdays int8
	StartDate string // YYYYMMDD
	EndDate   string // YYYYMMDD
}

// OperatesOnWeekday reports whether the regular calendar covers the
// given weekday.
func (c *Calendar) OperatesOnWeekday(wd time.Weekday) bool {
	// time.Weekday has Sunday=0, the bitmap starts at Monday.
	idx := (int(wd) + 6) % 7
	return c.Weekdays&(1<<idx) != 0
}

type CalendarDate struct {
	ServiceID     string
	Date          string // YYYYMMDD
	ExceptionType ExceptionType
}

type Stop struct {
	ID            string
	Code          string
	Name          string
	Desc          string
	Lat           float64
	Lon           float64
	HasCoords     bool
	LocationType  LocationType
	ParentStation string
	PlatformCode  string
	Timezone      string
	// Language code to translated stop name.
	Translations map[string]string
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Desc      string
	Type      RouteType
	// 6 hex digits, uppercase, no leading '#'. Empty when the feed
	// doesn't provide one.
	Color     string
	TextColor string
	TripIDs   []string
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	ShortName   string
	DirectionID int8 // 0, 1, or -1 when unset
	ShapeID     string
}

type StopTime struct {
	TripID       string
	StopID       string
	Headsign     string
	StopSequence uint32
	// HHMMSS, hours may exceed 23 for trips past midnight.
	Arrival   string
	Departure string
}

func (st *StopTime) ArrivalTime() time.Duration {
	return hhmmssDuration(st.Arrival)
}

func (st *StopTime) DepartureTime() time.Duration {
	return hhmmssDuration(st.Departure)
}

func hhmmssDuration(hhmmss string) time.Duration {
	if len(hhmmss) < 6 {
		return 0
	}
	h, _ := strconv.Atoi(hhmmss[0:2])
	m, _ := strconv.Atoi(hhmmss[2:4])
	s, _ := strconv.Atoi(hhmmss[4:6])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// A shape point in GeoJSON order. Interpolated positions elsewhere
// are [lat, lon]; both conventions are part of the public wire format
// and must not be normalized.
type ShapePoint [2]float64 // [lon, lat]

func (p ShapePoint) Lon() float64 { return p[0] }
func (p ShapePoint) Lat() float64 { return p[1] }

type Shape struct {
	ID     string
	Points []ShapePoint
}

type Translation struct {
	TableName  string
	FieldName  string
	Language   string
	Value      string
	RecordID   string
	FieldValue string
}

type FeedInfo struct {
	PublisherName string
	PublisherURL  string
	Lang          string
	StartDate     string
	EndDate       string
	Version       string
}

// A canonical ordered stop list and shape for one direction of a
// route, derived from the trip with the most stops.
type RouteVariant struct {
	RouteID     string
	DirectionID int8
	TripID      string
	Headsign    string
	StopIDs     []string
	ShapeID     string
}

// Raw per-vehicle telemetry as reported by an operator API: the next
// stop the vehicle will serve and how far away it is.
type VehicleTelemetry struct {
	Provider        string
	LineID          string
	DirectionKey    string
	NextStopID      string
	DistanceToNextM float64
	Timestamp       time.Time
	DelaySeconds    int
	RawLat          float64
	RawLon          float64
	HasRawPos       bool
}

// A map-ready vehicle position produced by the reconstructor.
type VehiclePosition struct {
	Line           string    `json:"line"`
	Direction      string    `json:"direction"`
	CurrentSegment [2]string `json:"current_segment"`
	DistanceToNext float64   `json:"distance_to_next"`
	SegmentLength  float64   `json:"segment_length"`
	IsValid        bool      `json:"is_valid"`
	// [lat, lon], nil when interpolation failed.
	InterpolatedPosition []float64 `json:"interpolated_position"`
	Bearing              float64   `json:"bearing"`
	// [lon, lat] pairs, GeoJSON order.
	ShapeSegment []ShapePoint           `json:"shape_segment,omitempty"`
	RawData      map[string]interface{} `json:"raw_data,omitempty"`
}

// Language selection provenance attached to translated payloads.
type LanguageMeta struct {
	Selected      string   `json:"selected"`
	Requested     string   `json:"requested"`
	FallbackChain []string `json:"fallback_chain,omitempty"`
	Warning       string   `json:"warning,omitempty"`
}

// Provenance metadata attached to normalized payloads.
type ResponseMeta struct {
	Source   string        `json:"source,omitempty"` // "api", "gtfs" or "cache"
	Cached   bool          `json:"cached,omitempty"`
	Warning  string        `json:"warning,omitempty"`
	Language *LanguageMeta `json:"language,omitempty"`
}

type WaitingTime struct {
	Provider         string        `json:"provider"`
	StopID           string        `json:"-"`
	RouteID          string        `json:"-"`
	TripID           string        `json:"-"`
	Headsign         string        `json:"-"`
	ScheduledTime    string        `json:"scheduled_time,omitempty"` // HH:MM operator-local
	ScheduledMinutes string        `json:"scheduled_minutes,omitempty"`
	RealtimeTime     string        `json:"realtime_time,omitempty"`
	RealtimeMinutes  string        `json:"realtime_minutes,omitempty"`
	MinutesUntil     int           `json:"-"`
	IsRealtime       bool          `json:"is_realtime"`
	DelaySeconds     int           `json:"delay,omitempty"`
	Message          string        `json:"message,omitempty"`
	Meta             *ResponseMeta `json:"_metadata,omitempty"`
}

type ServiceMessage struct {
	Text        string        `json:"text"`
	Meta        *ResponseMeta `json:"_metadata,omitempty"`
	Lines       []string      `json:"lines"`
	Points      []string      `json:"points"`
	Stops       []string      `json:"stops"`
	PeriodStart *time.Time    `json:"period_start,omitempty"`
	PeriodEnd   *time.Time    `json:"period_end,omitempty"`
	Priority    int           `json:"priority"`
	Type        string        `json:"type"`
	IsMonitored bool          `json:"is_monitored"`
}

type RouteColors struct {
	Background       string `json:"background"`
	BackgroundBorder string `json:"background_border"`
	Text             string `json:"text"`
	TextBorder       string `json:"text_border"`
}
