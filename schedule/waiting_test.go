package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmobility/transithub/model"
	"github.com/openmobility/transithub/schedule"
	"github.com/openmobility/transithub/testutil"
)

func brussels(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Europe/Brussels")
	require.NoError(t, err)
	return loc
}

func TestWaitingTimesFromSchedule(t *testing.T) {
	feed := scheduleFeed(t)
	e := schedule.NewEngine(nil)

	// Tuesday 07:55 local: both M1 runs are ahead.
	at := time.Date(2024, 3, 5, 7, 55, 0, 0, brussels(t))
	waiting, err := e.WaitingTimesFromSchedule(feed, "8122", at, "", 10)
	require.NoError(t, err)
	require.Len(t, waiting, 4) // m1a, m1b, b2a, n1a

	assert.Equal(t, "M1", waiting[0].RouteID)
	assert.Equal(t, "08:00", waiting[0].ScheduledTime)
	assert.Equal(t, 5, waiting[0].MinutesUntil)
	assert.Equal(t, "5'", waiting[0].ScheduledMinutes)
	assert.False(t, waiting[0].IsRealtime)

	assert.Equal(t, 25, waiting[1].MinutesUntil)

	// Ascending ordering.
	for i := 1; i < len(waiting); i++ {
		assert.GreaterOrEqual(t, waiting[i].MinutesUntil, waiting[i-1].MinutesUntil)
	}
}

func TestWaitingTimesRouteFilterAndLimit(t *testing.T) {
	feed := scheduleFeed(t)
	e := schedule.NewEngine(nil)

	at := time.Date(2024, 3, 5, 7, 55, 0, 0, brussels(t))

	waiting, err := e.WaitingTimesFromSchedule(feed, "8122", at, "M1", 10)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	for _, wt := range waiting {
		assert.Equal(t, "M1", wt.RouteID)
	}

	waiting, err = e.WaitingTimesFromSchedule(feed, "8122", at, "", 1)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)
}

func TestWaitingTimesDropsFarPast(t *testing.T) {
	feed := scheduleFeed(t)
	e := schedule.NewEngine(nil)

	// 08:05: m1a (08:00) is 5 minutes gone, beyond the -2 cutoff;
	// m1b survives.
	at := time.Date(2024, 3, 5, 8, 5, 0, 0, brussels(t))
	waiting, err := e.WaitingTimesFromSchedule(feed, "8122", at, "M1", 10)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "08:20", waiting[0].ScheduledTime)

	// 08:01: m1a is -1, within the cutoff.
	at = time.Date(2024, 3, 5, 8, 1, 0, 0, brussels(t))
	waiting, err = e.WaitingTimesFromSchedule(feed, "8122", at, "M1", 10)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, -1, waiting[0].MinutesUntil)
}

func TestWaitingTimesPastMidnight(t *testing.T) {
	feed := scheduleFeed(t)
	e := schedule.NewEngine(nil)

	// 00:30: the night trip that left yesterday 23:50 arrives at
	// Gare Centrale 01:10 (25:10 on yesterday's service day).
	at := time.Date(2024, 3, 6, 0, 30, 0, 0, brussels(t))
	waiting, err := e.WaitingTimesFromSchedule(feed, "8301", at, "N1", 10)
	require.NoError(t, err)
	// Yesterday's run arriving soon, plus tonight's run.
	require.Len(t, waiting, 2)
	assert.Equal(t, "01:10", waiting[0].ScheduledTime)
	assert.Equal(t, 40, waiting[0].MinutesUntil)
}

func TestWaitingTimesTimezoneFallback(t *testing.T) {
	e := schedule.NewEngine(nil)

	bundle := map[string][]string{
		"agency.txt": {
			"agency_name,agency_url,agency_timezone",
			"NoTZ,http://example.com,",
		},
		"routes.txt": {
			"route_id,route_short_name,route_type",
			"r1,1,3",
		},
		"calendar.txt": {
			"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
			"daily,1,1,1,1,1,1,1,20240101,20241231",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"S1,Alpha,50.0,4.0",
		},
		"trips.txt": {
			"route_id,service_id,trip_id",
			"r1,daily,t1",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t1,12:00:00,12:00:00,S1,1",
		},
	}
	feed := testutil.BuildFeed(t, bundle)

	at := time.Date(2024, 3, 5, 11, 50, 0, 0, time.UTC)
	waiting, err := e.WaitingTimesFromSchedule(feed, "S1", at, "", 10)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	// Times computed in UTC, flagged.
	assert.Equal(t, 10, waiting[0].MinutesUntil)
	require.NotNil(t, waiting[0].Meta)
	assert.NotEmpty(t, waiting[0].Meta.Warning)
}

func TestMergeDelays(t *testing.T) {
	waiting := []*model.WaitingTime{
		{TripID: "t1", ScheduledTime: "08:00", MinutesUntil: 5},
		{TripID: "t2", ScheduledTime: "08:10", MinutesUntil: 15},
		{TripID: "t3", ScheduledTime: "08:20", MinutesUntil: 25},
	}

	merged := schedule.MergeDelays(waiting,
		map[string]time.Duration{"t2": 2 * time.Minute},
		map[string]bool{"t3": true})

	require.Len(t, merged, 2)
	assert.Equal(t, "t1", merged[0].TripID)
	assert.False(t, merged[0].IsRealtime)

	assert.Equal(t, "t2", merged[1].TripID)
	assert.True(t, merged[1].IsRealtime)
	assert.Equal(t, 120, merged[1].DelaySeconds)
	assert.Equal(t, 17, merged[1].MinutesUntil)
	assert.Equal(t, "17'", merged[1].RealtimeMinutes)
	assert.Equal(t, "08:12", merged[1].RealtimeTime)
}

func TestMergeDelaysDropsDeepNegative(t *testing.T) {
	waiting := []*model.WaitingTime{
		{TripID: "t1", ScheduledTime: "08:00", MinutesUntil: 2},
	}
	merged := schedule.MergeDelays(waiting,
		map[string]time.Duration{"t1": -10 * time.Minute}, nil)
	assert.Empty(t, merged)
}
