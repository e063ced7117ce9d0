package gtfs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/testutil"
)

func day(s string) time.Time {
	t, err := time.ParseInLocation("20060102", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestOperatesOn(t *testing.T) {
	feed := testutil.BuildFeed(t, testBundle())

	// Regular calendar: weekday service runs Monday, not Saturday.
	assert.True(t, feed.OperatesOn("weekday", day("20240304")))
	assert.False(t, feed.OperatesOn("weekday", day("20240302")))

	// Outside the calendar window.
	assert.False(t, feed.OperatesOn("weekday", day("20240404")))

	// Exceptions win over the regular calendar: 2024-03-18 is a
	// Monday but the weekday service is removed that day, while the
	// weekend service gains Wednesday 2024-03-20.
	assert.False(t, feed.OperatesOn("weekday", day("20240318")))
	assert.True(t, feed.OperatesOn("weekend", day("20240320")))
	assert.False(t, feed.OperatesOn("weekend", day("20240319")))

	assert.False(t, feed.OperatesOn("no-such-service", day("20240304")))
}

func TestRouteOperatesOn(t *testing.T) {
	feed := testutil.BuildFeed(t, testBundle())

	// r1 has both weekday and weekend trips, r2 weekday only.
	assert.True(t, feed.RouteOperatesOn("r1", day("20240302")))
	assert.False(t, feed.RouteOperatesOn("r2", day("20240302")))
	assert.True(t, feed.RouteOperatesOn("r2", day("20240304")))
}

func TestServiceDays(t *testing.T) {
	feed := testutil.BuildFeed(t, testBundle())

	// Monday-first bitmap: weekday = Mon..Fri, r1 adds Sat+Sun.
	assert.Equal(t, int8(0b0011111), feed.ServiceDays("r2"))
	assert.Equal(t, int8(0b1111111), feed.ServiceDays("r1"))
}

func TestValidCalendarDays(t *testing.T) {
	feed := testutil.BuildFeed(t, testBundle())

	r2days := feed.ValidCalendarDays("r2")
	assert.Contains(t, r2days, "20240304")
	assert.NotContains(t, r2days, "20240302") // Saturday
	assert.NotContains(t, r2days, "20240318") // removed

	r1days := feed.ValidCalendarDays("r1")
	assert.Contains(t, r1days, "20240302")
	// The weekday removal strikes 2024-03-18 for the whole route:
	// it's a Monday, so the weekend service doesn't cover it either.
	assert.NotContains(t, r1days, "20240318")
	// Every other March day is served by one of the two calendars.
	assert.Len(t, r1days, 30)
}

func TestServiceDaysString(t *testing.T) {
	// A single missing day doesn't break a range.
	assert.Equal(t,
		"2024-03-01 to 2024-03-04",
		gtfs.ServiceDaysString([]string{"20240301", "20240302", "20240304"}))

	// Two or more missing days do.
	assert.Equal(t,
		"2024-03-01; 2024-03-05",
		gtfs.ServiceDaysString([]string{"20240301", "20240305"}))

	assert.Equal(t, "2024-03-10", gtfs.ServiceDaysString([]string{"20240310"}))
	assert.Equal(t, "", gtfs.ServiceDaysString(nil))

	assert.Equal(t,
		"2024-03-01 to 2024-03-08; 2024-03-15 to 2024-03-16",
		gtfs.ServiceDaysString([]string{
			"20240301", "20240302", "20240303", "20240304",
			"20240305", "20240306", "20240307", "20240308",
			"20240315", "20240316",
		}))
}

func TestServiceCalendar(t *testing.T) {
	feed := testutil.BuildFeed(t, testBundle())

	// r1 runs every March day except the 18th; with the
	// one-missing-day tolerance that's still a single range.
	assert.Equal(t, "2024-03-01 to 2024-03-31", feed.ServiceCalendar("r1"))
	assert.Equal(t, "", feed.ServiceCalendar("r9"))
}
