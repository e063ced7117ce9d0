package schedule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmobility/transithub/geo"
	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/schedule"
	"github.com/openmobility/transithub/testutil"
)

// Brussels-flavored fixture: metro line M1 from De Brouckere to Gare
// Centrale, bus B2 the other way, plus a night route N1 past midnight.
func scheduleFeed(t *testing.T) *gtfs.Feed {
	return testutil.BuildFeed(t, map[string][]string{
		"agency.txt": {
			"agency_id,agency_name,agency_url,agency_timezone",
			"a1,Metro,http://metro.example,Europe/Brussels",
		},
		"routes.txt": {
			"route_id,agency_id,route_short_name,route_long_name,route_type,route_color",
			"M1,a1,1,Ligne 1,1,C4008F",
			"B2,a1,2,,3,",
			"N1,a1,N1,Noctis,3,",
		},
		"calendar.txt": {
			"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
			"daily,1,1,1,1,1,1,1,20240101,20241231",
			"weekday,1,1,1,1,1,0,0,20240101,20241231",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station",
			"8122,De Brouckere,50.8466,4.4022,0,",
			"8012,Bourse,50.8470,4.3560,0,",
			"8301,Gare Centrale,50.8480,4.3600,0,",
			"P1,Gare Centrale Station,50.8480,4.3600,1,",
			"8302,Gare Centrale,50.8481,4.3601,0,P1",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,trip_headsign,direction_id",
			"M1,daily,m1a,Gare Centrale,0",
			"M1,daily,m1b,Gare Centrale,0",
			"B2,weekday,b2a,De Brouckere,1",
			"N1,daily,n1a,Gare Centrale,0",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"m1a,08:00:00,08:00:00,8122,1",
			"m1a,08:04:00,08:04:00,8012,2",
			"m1a,08:08:00,08:08:00,8301,3",
			"m1b,08:20:00,08:20:00,8122,1",
			"m1b,08:24:00,08:24:00,8012,2",
			"m1b,08:28:00,08:28:00,8301,3",
			"b2a,09:00:00,09:00:00,8301,1",
			"b2a,09:06:00,09:06:00,8122,2",
			"n1a,23:50:00,23:50:00,8122,1",
			"n1a,25:10:00,25:10:00,8301,2",
		},
		"translations.txt": {
			"table_name,field_name,language,translation,record_id",
			"stops,stop_name,nl,Beurs,8012",
		},
	})
}

func TestStationsInBBox(t *testing.T) {
	feed := scheduleFeed(t)
	e := schedule.NewEngine(nil)

	// Belgium-sized box holds every stop; the Budapest stop
	// F01111-style case is covered by the empty-box assertion.
	res, err := e.StationsInBBox(feed, 50.6721, 3.6255, 51.0189, 5.1581, false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Count)
	assert.Len(t, res.Stops, res.Count)

	ids := []string{}
	for _, s := range res.Stops {
		ids = append(ids, s.ID)
		require.NotNil(t, s.Coordinates)
		assert.GreaterOrEqual(t, s.Coordinates.Lat, 50.6721)
		assert.LessOrEqual(t, s.Coordinates.Lat, 51.0189)
		assert.GreaterOrEqual(t, s.Coordinates.Lon, 3.6255)
		assert.LessOrEqual(t, s.Coordinates.Lon, 5.1581)
	}
	assert.Contains(t, ids, "8122")

	// count_only returns the same count without the listing.
	countRes, err := e.StationsInBBox(feed, 50.6721, 3.6255, 51.0189, 5.1581, true)
	require.NoError(t, err)
	assert.Equal(t, res.Count, countRes.Count)
	assert.Empty(t, countRes.Stops)

	// A box over Budapest contains none of these stops.
	empty, err := e.StationsInBBox(feed, 47.0, 18.5, 47.9, 19.5, false)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)

	_, err = e.StationsInBBox(feed, -95, 0, 95, 0, false)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinates)
}

func TestStationRoutesAggregation(t *testing.T) {
	feed := scheduleFeed(t)
	e := schedule.NewEngine(nil)

	res, err := e.StationsInBBox(feed, 50.0, 4.0, 51.0, 5.0, false)
	require.NoError(t, err)

	byID := map[string]*schedule.StopSummary{}
	for _, s := range res.Stops {
		byID[s.ID] = s
	}

	assert.ElementsMatch(t, []string{"B2", "M1", "N1"}, byID["8122"].Routes)
	assert.Equal(t, []string{"M1"}, byID["8012"].Routes)
	// The station aggregates its platform children. 8302 has no
	// stop_times of its own, so everything comes from aggregation
	// rules; here the parent inherits nothing extra but must not
	// fail.
	assert.NotNil(t, byID["P1"])
}

func TestNearestStops(t *testing.T) {
	feed := scheduleFeed(t)
	e := schedule.NewEngine(nil)

	// From Bourse, Bourse itself is closest.
	stops, err := e.NearestStops(feed, 50.8470, 4.3560, 3, 5)
	require.NoError(t, err)
	require.NotEmpty(t, stops)
	assert.Equal(t, "8012", stops[0].ID)
	assert.InDelta(t, 0, stops[0].DistanceM, 1)

	for i := 1; i < len(stops); i++ {
		assert.GreaterOrEqual(t, stops[i].DistanceM, stops[i-1].DistanceM)
	}
	assert.LessOrEqual(t, len(stops), 3)

	// Tight radius excludes the De Brouckere stop 3 km away.
	near, err := e.NearestStops(feed, 50.8470, 4.3560, 10, 1)
	require.NoError(t, err)
	for _, s := range near {
		assert.NotEqual(t, "8122", s.ID)
	}

	_, err = e.NearestStops(feed, 123, 4.35, 3, 5)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinates)
}

func TestStopsByName(t *testing.T) {
	feed := scheduleFeed(t)
	e := schedule.NewEngine(nil)

	// Prefix hit.
	hits := e.StopsByName(feed, "bour", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "8012", hits[0].ID)

	// Diacritic- and case-insensitive.
	hits = e.StopsByName(feed, "BROUCKÈRE", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "8122", hits[0].ID)

	// Translations are searched too.
	hits = e.StopsByName(feed, "beurs", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "8012", hits[0].ID)

	// Prefix matches rank above substring matches: "gare" prefixes
	// the two Gare Centrale stops but only substrings the station.
	hits = e.StopsByName(feed, "gare", 10)
	require.True(t, len(hits) >= 2)
	assert.Equal(t, "Gare Centrale", hits[0].Name)

	// Limit.
	hits = e.StopsByName(feed, "e", 2)
	assert.Len(t, hits, 2)

	assert.Empty(t, e.StopsByName(feed, "", 10))
	assert.Empty(t, e.StopsByName(feed, "zzzz", 10))
}
