package gtfs

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/openmobility/transithub/gtfs/parse"
	"github.com/openmobility/transithub/model"
)

var (
	ErrMalformedFeed = errors.New("malformed feed")
	ErrFeedNotReady  = errors.New("feed not ready")
)

// Feed is an immutable snapshot of a parsed static GTFS bundle,
// together with its lookup indices. Entities live in flat arenas;
// every cross-entity link is an ID resolved through an index, so the
// graph holds no object cycles. A Feed is never mutated after
// Build/Restore; reloads construct a fresh Feed and swap a pointer.
type Feed struct {
	Hash          string
	RetrievedAt   time.Time
	Timezone      string
	Agencies      []*model.Agency
	FeedInfo      *model.FeedInfo
	Stops         []*model.Stop
	Routes        []*model.Route
	Trips         []*model.Trip
	StopTimes     []model.StopTime
	Shapes        []*model.Shape
	Calendars     []*model.Calendar
	CalendarDates []*model.CalendarDate
	Variants      []*model.RouteVariant

	CalendarStartDate string
	CalendarEndDate   string
	MaxArrival        string
	MaxDeparture      string

	// Rebuilt by buildIndices after parse or restore; not encoded.
	stopsByID              map[string]*model.Stop
	routesByID             map[string]*model.Route
	tripsByID              map[string]*model.Trip
	tripsByRoute           map[string][]*model.Trip
	stopTimesByTrip        map[string][]*model.StopTime
	stopTimesByStop        map[string][]*model.StopTime
	shapesByID             map[string]*model.Shape
	calendarsByService     map[string]*model.Calendar
	calendarDatesByService map[string][]*model.CalendarDate
	variantsByRoute        map[string][]*model.RouteVariant
	childStops             map[string][]*model.Stop
}

// Build constructs a Feed from freshly parsed bundle data: resolves
// translations into stops, derives route variants, builds indices.
func Build(data *parse.Data, hash string) (*Feed, error) {
	f := &Feed{
		Hash:              hash,
		RetrievedAt:       time.Now().UTC(),
		Timezone:          data.Timezone,
		Agencies:          data.Agencies,
		FeedInfo:          data.FeedInfo,
		Stops:             data.Stops,
		Routes:            data.Routes,
		Trips:             data.Trips,
		StopTimes:         data.StopTimes,
		Shapes:            data.Shapes,
		Calendars:         data.Calendars,
		CalendarDates:     data.CalendarDates,
		CalendarStartDate: data.CalendarStartDate,
		CalendarEndDate:   data.CalendarEndDate,
		MaxArrival:        data.MaxArrival,
		MaxDeparture:      data.MaxDeparture,
	}

	f.buildIndices()
	f.resolveTranslations(data.Translations)
	f.deriveVariants()

	return f, nil
}

func (f *Feed) buildIndices() {
	f.stopsByID = make(map[string]*model.Stop, len(f.Stops))
	f.childStops = map[string][]*model.Stop{}
	for _, s := range f.Stops {
		f.stopsByID[s.ID] = s
		if s.ParentStation != "" {
			f.childStops[s.ParentStation] = append(f.childStops[s.ParentStation], s)
		}
	}

	f.routesByID = make(map[string]*model.Route, len(f.Routes))
	for _, r := range f.Routes {
		f.routesByID[r.ID] = r
		r.TripIDs = nil
	}

	f.tripsByID = make(map[string]*model.Trip, len(f.Trips))
	f.tripsByRoute = map[string][]*model.Trip{}
	for _, t := range f.Trips {
		f.tripsByID[t.ID] = t
		f.tripsByRoute[t.RouteID] = append(f.tripsByRoute[t.RouteID], t)
		if r := f.routesByID[t.RouteID]; r != nil {
			r.TripIDs = append(r.TripIDs, t.ID)
		}
	}

	f.stopTimesByTrip = map[string][]*model.StopTime{}
	f.stopTimesByStop = map[string][]*model.StopTime{}
	for i := range f.StopTimes {
		st := &f.StopTimes[i]
		f.stopTimesByTrip[st.TripID] = append(f.stopTimesByTrip[st.TripID], st)
		f.stopTimesByStop[st.StopID] = append(f.stopTimesByStop[st.StopID], st)
	}
	for _, sts := range f.stopTimesByTrip {
		sort.SliceStable(sts, func(i, j int) bool {
			return sts[i].StopSequence < sts[j].StopSequence
		})
	}

	f.shapesByID = make(map[string]*model.Shape, len(f.Shapes))
	for _, s := range f.Shapes {
		f.shapesByID[s.ID] = s
	}

	f.calendarsByService = make(map[string]*model.Calendar, len(f.Calendars))
	for _, c := range f.Calendars {
		f.calendarsByService[c.ServiceID] = c
	}

	f.calendarDatesByService = map[string][]*model.CalendarDate{}
	for _, cd := range f.CalendarDates {
		f.calendarDatesByService[cd.ServiceID] = append(f.calendarDatesByService[cd.ServiceID], cd)
	}

	f.variantsByRoute = map[string][]*model.RouteVariant{}
	for _, v := range f.Variants {
		f.variantsByRoute[v.RouteID] = append(f.variantsByRoute[v.RouteID], v)
	}
}

// resolveTranslations attaches translated names to stops. Table-based
// entries match by record_id (or by field_value against the stop
// name); simple entries match by name.
func (f *Feed) resolveTranslations(translations []*model.Translation) {
	if len(translations) == 0 {
		return
	}

	stopsByName := map[string][]*model.Stop{}
	for _, s := range f.Stops {
		stopsByName[s.Name] = append(stopsByName[s.Name], s)
	}

	attach := func(s *model.Stop, lang, value string) {
		if s.Translations == nil {
			s.Translations = map[string]string{}
		}
		s.Translations[lang] = value
	}

	for _, tr := range translations {
		if tr.TableName != "stops" || tr.FieldName != "stop_name" {
			continue
		}
		if tr.RecordID != "" {
			if s := f.stopsByID[tr.RecordID]; s != nil {
				attach(s, tr.Language, tr.Value)
			}
			continue
		}
		for _, s := range stopsByName[tr.FieldValue] {
			attach(s, tr.Language, tr.Value)
		}
	}
}

// deriveVariants computes one Route Variant per (route, direction):
// the trip with the most stops is taken as representative.
func (f *Feed) deriveVariants() {
	f.Variants = nil

	for _, route := range f.Routes {
		type key struct{ direction int8 }
		best := map[key]*model.Trip{}
		bestLen := map[key]int{}

		for _, trip := range f.tripsByRoute[route.ID] {
			k := key{trip.DirectionID}
			n := len(f.stopTimesByTrip[trip.ID])
			if n == 0 {
				continue
			}
			if n > bestLen[k] || (n == bestLen[k] && best[k] != nil && trip.ID < best[k].ID) {
				best[k] = trip
				bestLen[k] = n
			}
		}

		dirs := make([]int8, 0, len(best))
		for k := range best {
			dirs = append(dirs, k.direction)
		}
		sort.Slice(dirs, func(i, j int) bool { return dirs[i] < dirs[j] })

		for _, dir := range dirs {
			trip := best[key{dir}]
			variant := &model.RouteVariant{
				RouteID:     route.ID,
				DirectionID: dir,
				TripID:      trip.ID,
				Headsign:    trip.Headsign,
				ShapeID:     trip.ShapeID,
			}
			for _, st := range f.stopTimesByTrip[trip.ID] {
				variant.StopIDs = append(variant.StopIDs, st.StopID)
			}
			f.Variants = append(f.Variants, variant)
			f.variantsByRoute[route.ID] = append(f.variantsByRoute[route.ID], variant)
		}
	}
}

// Lookup accessors. All return shared references into the snapshot;
// callers must not mutate.

func (f *Feed) Stop(id string) (*model.Stop, bool) {
	s, ok := f.stopsByID[id]
	return s, ok
}

func (f *Feed) Route(id string) (*model.Route, bool) {
	r, ok := f.routesByID[id]
	return r, ok
}

func (f *Feed) Trip(id string) (*model.Trip, bool) {
	t, ok := f.tripsByID[id]
	return t, ok
}

func (f *Feed) Shape(id string) (*model.Shape, bool) {
	s, ok := f.shapesByID[id]
	return s, ok
}

func (f *Feed) TripsByRoute(routeID string) []*model.Trip {
	return f.tripsByRoute[routeID]
}

// StopTimesByTrip returns a trip's stop times sorted by sequence.
func (f *Feed) StopTimesByTrip(tripID string) []*model.StopTime {
	return f.stopTimesByTrip[tripID]
}

func (f *Feed) StopTimesByStop(stopID string) []*model.StopTime {
	return f.stopTimesByStop[stopID]
}

// ChildStops returns the platforms/quays of a parent station.
func (f *Feed) ChildStops(stationID string) []*model.Stop {
	return f.childStops[stationID]
}

// VariantsByRoute returns the derived route variants, one per
// direction.
func (f *Feed) VariantsByRoute(routeID string) []*model.RouteVariant {
	return f.variantsByRoute[routeID]
}

// Variant resolves a route variant by direction key: a direction_id
// ("0"/"1"), a headsign, or a terminus stop id.
func (f *Feed) Variant(routeID, directionKey string) (*model.RouteVariant, error) {
	variants := f.variantsByRoute[routeID]
	if len(variants) == 0 {
		return nil, fmt.Errorf("no variants for route %s", routeID)
	}

	switch directionKey {
	case "":
		return variants[0], nil
	case "0", "1":
		for _, v := range variants {
			if fmt.Sprintf("%d", v.DirectionID) == directionKey {
				return v, nil
			}
		}
	}

	for _, v := range variants {
		if v.Headsign == directionKey {
			return v, nil
		}
	}
	for _, v := range variants {
		if len(v.StopIDs) > 0 && v.StopIDs[len(v.StopIDs)-1] == directionKey {
			return v, nil
		}
	}

	return nil, fmt.Errorf("no variant for route %s direction %q", routeID, directionKey)
}

// Location returns the feed's timezone, defaulting to UTC (with ok
// false) when the agency declared none.
func (f *Feed) Location() (*time.Location, bool) {
	if f.Timezone == "" {
		return time.UTC, false
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}
