package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/openmobility/transithub/gtfs"
)

type TripStop struct {
	StopID    string `json:"stop_id"`
	Name      string `json:"name"`
	Arrival   string `json:"arrival"`   // HH:MM, rendered mod 24h
	Departure string `json:"departure"` // HH:MM
}

type TripMatch struct {
	TripID         string `json:"trip_id"`
	RouteID        string `json:"route_id"`
	RouteShortName string `json:"route_short_name"`
	RouteLongName  string `json:"route_long_name,omitempty"`
	RouteType      int    `json:"route_type"`
	Headsign       string `json:"headsign,omitempty"`
	// Whether the requested direction matches the trip's own
	// travel direction; a reverse match swaps start and end roles.
	NativeDirection bool       `json:"native_direction"`
	Departure       string     `json:"departure"` // at the requested start
	Arrival         string     `json:"arrival"`   // at the requested end
	Duration        string     `json:"duration"`  // e.g. "1h20m"
	Stops           []TripStop `json:"stops"`
}

// renderClock formats a GTFS duration as wall-clock HH:MM. Times past
// midnight wrap: 25:10 renders 01:10 the next calendar day.
func renderClock(d time.Duration) string {
	mins := int(d.Minutes())
	return fmt.Sprintf("%02d:%02d", (mins/60)%24, mins%60)
}

func renderDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

// FindTripsBetween returns every trip serving both stops, in either
// direction. Native-direction matches travel start→end; reverse
// matches are flagged and report the segment as traveled. With a date,
// only trips whose service operates that day qualify.
func (e *Engine) FindTripsBetween(feed *gtfs.Feed, startID, endID string, date *time.Time, lang string) ([]*TripMatch, error) {
	if _, ok := feed.Stop(startID); !ok {
		return nil, fmt.Errorf("unknown stop %s", startID)
	}
	if _, ok := feed.Stop(endID); !ok {
		return nil, fmt.Errorf("unknown stop %s", endID)
	}

	matches := []*TripMatch{}
	for _, trip := range feed.Trips {
		if date != nil && !feed.OperatesOn(trip.ServiceID, *date) {
			continue
		}

		sts := feed.StopTimesByTrip(trip.ID)
		startIdx, endIdx := -1, -1
		for i, st := range sts {
			if st.StopID == startID && startIdx < 0 {
				startIdx = i
			}
			if st.StopID == endID && endIdx < 0 {
				endIdx = i
			}
		}
		if startIdx < 0 || endIdx < 0 || startIdx == endIdx {
			continue
		}

		native := startIdx < endIdx
		lo, hi := startIdx, endIdx
		if !native {
			lo, hi = endIdx, startIdx
		}

		route, ok := feed.Route(trip.RouteID)
		if !ok {
			continue
		}

		departure := sts[lo].DepartureTime()
		arrival := sts[hi].ArrivalTime()

		match := &TripMatch{
			TripID:          trip.ID,
			RouteID:         route.ID,
			RouteShortName:  route.ShortName,
			RouteLongName:   route.LongName,
			RouteType:       int(route.Type),
			Headsign:        trip.Headsign,
			NativeDirection: native,
			Departure:       renderClock(departure),
			Arrival:         renderClock(arrival),
			Duration:        renderDuration(arrival - departure),
		}

		for _, st := range sts[lo : hi+1] {
			name := ""
			if stop, ok := feed.Stop(st.StopID); ok {
				name, _ = gtfs.SelectStopName(stop, lang, nil)
			}
			match.Stops = append(match.Stops, TripStop{
				StopID:    st.StopID,
				Name:      name,
				Arrival:   renderClock(st.ArrivalTime()),
				Departure: renderClock(st.DepartureTime()),
			})
		}

		matches = append(matches, match)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Departure != matches[j].Departure {
			return matches[i].Departure < matches[j].Departure
		}
		return matches[i].TripID < matches[j].TripID
	})

	return matches, nil
}

// DestinationsFrom returns the stops reachable travelling forward from
// the given stop along any trip through it.
func (e *Engine) DestinationsFrom(feed *gtfs.Feed, stopID, lang string) ([]*StopSummary, error) {
	return e.reachable(feed, stopID, lang, true)
}

// OriginsTo returns the stops from which the given stop can be
// reached.
func (e *Engine) OriginsTo(feed *gtfs.Feed, stopID, lang string) ([]*StopSummary, error) {
	return e.reachable(feed, stopID, lang, false)
}

func (e *Engine) reachable(feed *gtfs.Feed, stopID, lang string, forward bool) ([]*StopSummary, error) {
	if _, ok := feed.Stop(stopID); !ok {
		return nil, fmt.Errorf("unknown stop %s", stopID)
	}

	e.ensure(feed)

	seen := map[string]bool{}
	for _, at := range feed.StopTimesByStop(stopID) {
		for _, st := range feed.StopTimesByTrip(at.TripID) {
			if forward && st.StopSequence > at.StopSequence {
				seen[st.StopID] = true
			}
			if !forward && st.StopSequence < at.StopSequence {
				seen[st.StopID] = true
			}
		}
	}

	out := make([]*StopSummary, 0, len(seen))
	for id := range seen {
		stop, ok := feed.Stop(id)
		if !ok {
			continue
		}
		summary := e.summarize(feed, stop, false)
		if lang != "" {
			summary.Name, _ = gtfs.SelectStopName(stop, lang, nil)
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

type RouteSummary struct {
	RouteID         string   `json:"route_id"`
	ShortName       string   `json:"short_name"`
	LongName        string   `json:"long_name,omitempty"`
	RouteType       int      `json:"route_type"`
	Color           string   `json:"color,omitempty"`
	TextColor       string   `json:"text_color,omitempty"`
	DirectionID     int8     `json:"direction_id"`
	Headsign        string   `json:"headsign,omitempty"`
	FirstStop       string   `json:"first_stop"`
	LastStop        string   `json:"last_stop"`
	ServiceDays     []string `json:"service_days_explicit"`
	ServiceCalendar string   `json:"service_calendar"`
}

var weekdayNames = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// RoutesServing lists one summary per route variant through the stop.
func (e *Engine) RoutesServing(feed *gtfs.Feed, stopID, lang string) ([]*RouteSummary, error) {
	stop, ok := feed.Stop(stopID)
	if !ok {
		return nil, fmt.Errorf("unknown stop %s", stopID)
	}

	e.ensure(feed)

	out := []*RouteSummary{}
	for _, routeID := range e.routesAt(feed, stop) {
		route, ok := feed.Route(routeID)
		if !ok {
			continue
		}

		days := feed.ServiceDays(routeID)
		explicit := []string{}
		for bit, name := range weekdayNames {
			if days&(1<<bit) != 0 {
				explicit = append(explicit, name)
			}
		}
		calendar := feed.ServiceCalendar(routeID)

		for _, variant := range feed.VariantsByRoute(routeID) {
			summary := &RouteSummary{
				RouteID:         route.ID,
				ShortName:       route.ShortName,
				LongName:        route.LongName,
				RouteType:       int(route.Type),
				Color:           route.Color,
				TextColor:       route.TextColor,
				DirectionID:     variant.DirectionID,
				Headsign:        variant.Headsign,
				ServiceDays:     explicit,
				ServiceCalendar: calendar,
			}
			if len(variant.StopIDs) > 0 {
				summary.FirstStop = e.stopName(feed, variant.StopIDs[0], lang)
				summary.LastStop = e.stopName(feed, variant.StopIDs[len(variant.StopIDs)-1], lang)
			}
			out = append(out, summary)
		}
	}

	return out, nil
}

func (e *Engine) stopName(feed *gtfs.Feed, stopID, lang string) string {
	stop, ok := feed.Stop(stopID)
	if !ok {
		return ""
	}
	name, _ := gtfs.SelectStopName(stop, lang, nil)
	return name
}
