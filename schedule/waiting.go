package schedule

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/model"
)

// Arrivals more than this many minutes in the past are dropped; small
// negatives survive so a vehicle pulling away is still shown.
const minMinutesUntil = -2

const timezoneFallbackWarning = "agency timezone missing, times computed in UTC"

// WaitingTimesFromSchedule computes upcoming arrivals at a stop from
// the static timetable. The agency timezone drives the conversion of
// "now" to service time; a feed without one falls back to UTC and the
// entries carry a warning. Trips past midnight are picked up via the
// previous service date.
func (e *Engine) WaitingTimesFromSchedule(feed *gtfs.Feed, stopID string, at time.Time, routeID string, limit int) ([]*model.WaitingTime, error) {
	if _, ok := feed.Stop(stopID); !ok {
		return nil, fmt.Errorf("unknown stop %s", stopID)
	}
	if limit <= 0 {
		limit = 20
	}

	loc, hasTZ := feed.Location()
	if !hasTZ {
		e.Logger.Warn("agency timezone missing, using UTC",
			zap.String("stop", stopID))
	}
	now := at.In(loc)

	// Service days whose trips can still be arriving now: today,
	// and yesterday for times past 24:00.
	serviceDates := []time.Time{
		now.AddDate(0, 0, -1),
		now,
	}

	out := []*model.WaitingTime{}
	for _, st := range feed.StopTimesByStop(stopID) {
		trip, ok := feed.Trip(st.TripID)
		if !ok {
			continue
		}
		if routeID != "" && trip.RouteID != routeID {
			continue
		}

		for _, serviceDate := range serviceDates {
			if !feed.OperatesOn(trip.ServiceID, serviceDate) {
				continue
			}

			midnight := time.Date(
				serviceDate.Year(), serviceDate.Month(), serviceDate.Day(),
				0, 0, 0, 0, loc)
			arrival := midnight.Add(st.ArrivalTime())

			minutes := int(arrival.Sub(now).Minutes())
			if minutes < minMinutesUntil {
				continue
			}

			wt := &model.WaitingTime{
				Provider:         "schedule",
				StopID:           stopID,
				RouteID:          trip.RouteID,
				TripID:           trip.ID,
				Headsign:         trip.Headsign,
				ScheduledTime:    arrival.Format("15:04"),
				ScheduledMinutes: fmt.Sprintf("%d'", minutes),
				MinutesUntil:     minutes,
				IsRealtime:       false,
			}
			if !hasTZ {
				wt.Meta = &model.ResponseMeta{Warning: timezoneFallbackWarning}
			}
			out = append(out, wt)
		}
	}

	// Ascending by minutes; route and headsign grouping happens at
	// the API boundary and preserves this order per group.
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinutesUntil != out[j].MinutesUntil {
			return out[i].MinutesUntil < out[j].MinutesUntil
		}
		if out[i].RouteID != out[j].RouteID {
			return out[i].RouteID < out[j].RouteID
		}
		return out[i].Headsign < out[j].Headsign
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MergeDelays overlays realtime trip-update delays onto scheduled
// waiting times. Cancelled trips disappear; delayed entries are
// re-rendered with the realtime clock and flagged.
func MergeDelays(waiting []*model.WaitingTime, delays map[string]time.Duration, cancelled map[string]bool) []*model.WaitingTime {
	out := make([]*model.WaitingTime, 0, len(waiting))
	for _, wt := range waiting {
		if cancelled[wt.TripID] {
			continue
		}
		if delay, ok := delays[wt.TripID]; ok && delay != 0 {
			wt.IsRealtime = true
			wt.DelaySeconds = int(delay.Seconds())
			wt.MinutesUntil += int(delay.Minutes())
			wt.RealtimeMinutes = fmt.Sprintf("%d'", wt.MinutesUntil)
			if t, err := time.Parse("15:04", wt.ScheduledTime); err == nil {
				wt.RealtimeTime = t.Add(delay).Format("15:04")
			}
		}
		if wt.MinutesUntil < minMinutesUntil {
			continue
		}
		out = append(out, wt)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MinutesUntil < out[j].MinutesUntil
	})
	return out
}
