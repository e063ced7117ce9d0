package gtfs

import (
	"sort"
	"strings"
	"time"

	"github.com/openmobility/transithub/model"
)

// Service calendar evaluation. Dates are YYYYMMDD strings in the
// feed's timezone, matching the GTFS files.

const dateLayout = "20060102"

// OperatesOn reports whether a service runs on the given date.
// calendar_dates exceptions take precedence over the regular
// calendar.
func (f *Feed) OperatesOn(serviceID string, date time.Time) bool {
	day := date.Format(dateLayout)

	for _, cd := range f.calendarDatesByService[serviceID] {
		if cd.Date != day {
			continue
		}
		return cd.ExceptionType == model.ServiceAdded
	}

	cal, ok := f.calendarsByService[serviceID]
	if !ok {
		return false
	}
	if day < cal.StartDate || day > cal.EndDate {
		return false
	}
	return cal.OperatesOnWeekday(date.Weekday())
}

// RouteOperatesOn reports whether any trip of the route runs on the
// given date.
func (f *Feed) RouteOperatesOn(routeID string, date time.Time) bool {
	seen := map[string]bool{}
	for _, trip := range f.tripsByRoute[routeID] {
		if seen[trip.ServiceID] {
			continue
		}
		seen[trip.ServiceID] = true
		if f.OperatesOn(trip.ServiceID, date) {
			return true
		}
	}
	return false
}

// ServiceDays returns the union of weekdays (Monday-first bitmap) on
// which the route's services run per their regular calendars.
func (f *Feed) ServiceDays(routeID string) int8 {
	var days int8
	for _, trip := range f.tripsByRoute[routeID] {
		if cal, ok := f.calendarsByService[trip.ServiceID]; ok {
			days |= cal.Weekdays
		}
	}
	return days
}

// ValidCalendarDays enumerates every date the route operates:
// the bit-masked regular calendar window, minus removal exceptions,
// plus addition exceptions. When the feed only has calendar_dates,
// the result is exactly the additions.
func (f *Feed) ValidCalendarDays(routeID string) []string {
	serviceIDs := map[string]bool{}
	for _, trip := range f.tripsByRoute[routeID] {
		serviceIDs[trip.ServiceID] = true
	}

	days := map[string]bool{}

	for serviceID := range serviceIDs {
		if cal, ok := f.calendarsByService[serviceID]; ok {
			start, err := time.ParseInLocation(dateLayout, cal.StartDate, time.UTC)
			if err != nil {
				continue
			}
			end, err := time.ParseInLocation(dateLayout, cal.EndDate, time.UTC)
			if err != nil {
				continue
			}
			for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
				if cal.OperatesOnWeekday(d.Weekday()) {
					days[d.Format(dateLayout)] = true
				}
			}
		}
	}

	// Exceptions: removals only strike a date when no remaining
	// service covers it; additions always contribute.
	for serviceID := range serviceIDs {
		for _, cd := range f.calendarDatesByService[serviceID] {
			if cd.ExceptionType == model.ServiceAdded {
				days[cd.Date] = true
			}
		}
	}
	for serviceID := range serviceIDs {
		for _, cd := range f.calendarDatesByService[serviceID] {
			if cd.ExceptionType != model.ServiceRemoved {
				continue
			}
			date, err := time.ParseInLocation(dateLayout, cd.Date, time.UTC)
			if err != nil {
				continue
			}
			if days[cd.Date] && !f.anyServiceOperatesOn(serviceIDs, date) {
				delete(days, cd.Date)
			}
		}
	}

	out := make([]string, 0, len(days))
	for d := range days {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (f *Feed) anyServiceOperatesOn(serviceIDs map[string]bool, date time.Time) bool {
	for serviceID := range serviceIDs {
		if f.OperatesOn(serviceID, date) {
			return true
		}
	}
	return false
}

// ServiceDaysString formats a sorted YYYYMMDD date list as
// human-readable ranges: "2024-03-01 to 2024-03-15; 2024-03-18".
// Dates merge into one range while at most a single day is missing
// between them.
func ServiceDaysString(days []string) string {
	if len(days) == 0 {
		return ""
	}

	pretty := func(d string) string {
		if len(d) != 8 {
			return d
		}
		return d[0:4] + "-" + d[4:6] + "-" + d[6:8]
	}

	parse := func(d string) (time.Time, bool) {
		t, err := time.ParseInLocation(dateLayout, d, time.UTC)
		return t, err == nil
	}

	var ranges []string
	rangeStart := days[0]
	prev := days[0]

	flush := func() {
		if rangeStart == prev {
			ranges = append(ranges, pretty(rangeStart))
		} else {
			ranges = append(ranges, pretty(rangeStart)+" to "+pretty(prev))
		}
	}

	for _, day := range days[1:] {
		prevT, okP := parse(prev)
		curT, okC := parse(day)
		if okP && okC && !curT.After(prevT.AddDate(0, 0, 2)) {
			prev = day
			continue
		}
		flush()
		rangeStart = day
		prev = day
	}
	flush()

	return strings.Join(ranges, "; ")
}

// ServiceCalendar returns the formatted operating-day ranges for a
// route.
func (f *Feed) ServiceCalendar(routeID string) string {
	return ServiceDaysString(f.ValidCalendarDays(routeID))
}
