package vehicle_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmobility/transithub/geo"
	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/model"
	"github.com/openmobility/transithub/testutil"
	"github.com/openmobility/transithub/vehicle"
)

// Line 55: a straight 500 m northbound shape of 10 points, one stop at
// each end.
func line55Feed(t *testing.T) *gtfs.Feed {
	// 0.000499623 deg of latitude per vertex is 500/9 m.
	shapeLines := []string{"shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence"}
	for i := 0; i < 10; i++ {
		shapeLines = append(shapeLines, fmt.Sprintf(
			"sh55,%.8f,4.0,%d", 50.0+float64(i)*0.000499623, i))
	}

	return testutil.BuildFeed(t, map[string][]string{
		"routes.txt": {
			"route_id,route_short_name,route_type",
			"55,55,0",
		},
		"calendar.txt": {
			"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
			"daily,1,1,1,1,1,1,1,20240101,20241231",
		},
		"shapes.txt": shapeLines,
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"6188,Origin,50.0,4.0",
			"6190,Terminus,50.00449661,4.0",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,trip_headsign,direction_id,shape_id",
			"55,daily,t55,Terminus,0,sh55",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t55,08:00:00,08:00:00,6188,1",
			"t55,08:10:00,08:10:00,6190,2",
		},
	})
}

func TestReconstructPosition(t *testing.T) {
	feed := line55Feed(t)
	r := vehicle.NewReconstructor(nil)

	pos, err := r.Position(feed, &model.VehicleTelemetry{
		LineID:          "55",
		DirectionKey:    "0",
		NextStopID:      "6190",
		DistanceToNextM: 32,
	})
	require.NoError(t, err)

	assert.True(t, pos.IsValid)
	assert.Equal(t, [2]string{"6188", "6190"}, pos.CurrentSegment)
	assert.InDelta(t, 500, pos.SegmentLength, 1)
	assert.Equal(t, 32.0, pos.DistanceToNext)

	// Interpolated position 468 m from segment start, so 32 m short
	// of the terminus.
	require.Len(t, pos.InterpolatedPosition, 2)
	lat, lon := pos.InterpolatedPosition[0], pos.InterpolatedPosition[1]
	toTerminus, err := geo.Haversine(lat, lon, 50.00449661, 4.0)
	require.NoError(t, err)
	assert.InDelta(t, 32, toTerminus, 1)

	// Heading due north along the final micro-segment.
	assert.InDelta(t, 0, pos.Bearing, 1)

	// Trail for clients, [lon, lat] order.
	require.Len(t, pos.ShapeSegment, 10)
	assert.Equal(t, 4.0, pos.ShapeSegment[0].Lon())
	assert.Equal(t, 50.0, pos.ShapeSegment[0].Lat())
}

func TestReconstructSuffixStripping(t *testing.T) {
	feed := line55Feed(t)
	r := vehicle.NewReconstructor(nil)

	// Operator reports a platform-suffixed id the bundle doesn't
	// have.
	pos, err := r.Position(feed, &model.VehicleTelemetry{
		LineID:          "55",
		DirectionKey:    "0",
		NextStopID:      "6190F",
		DistanceToNextM: 100,
	})
	require.NoError(t, err)
	assert.True(t, pos.IsValid)
	assert.Equal(t, [2]string{"6188", "6190"}, pos.CurrentSegment)
}

func TestReconstructFirstStop(t *testing.T) {
	feed := line55Feed(t)
	r := vehicle.NewReconstructor(nil)

	// Next stop is the variant's first stop: no segment to
	// interpolate on.
	pos, err := r.Position(feed, &model.VehicleTelemetry{
		LineID:          "55",
		DirectionKey:    "0",
		NextStopID:      "6188",
		DistanceToNextM: 10,
	})
	require.NoError(t, err)
	assert.False(t, pos.IsValid)
	assert.Nil(t, pos.InterpolatedPosition)
}

func TestReconstructUnknownStop(t *testing.T) {
	feed := line55Feed(t)
	r := vehicle.NewReconstructor(nil)

	pos, err := r.Position(feed, &model.VehicleTelemetry{
		LineID:          "55",
		DirectionKey:    "0",
		NextStopID:      "9999",
		DistanceToNextM: 10,
	})
	require.NoError(t, err)
	assert.False(t, pos.IsValid)
	assert.Nil(t, pos.InterpolatedPosition)
}

func TestReconstructImplausibleDistance(t *testing.T) {
	feed := line55Feed(t)
	r := vehicle.NewReconstructor(nil)

	// 700 m reported on a 500 m segment exceeds the 1.2x bound:
	// flagged invalid, still interpolated with the distance capped.
	pos, err := r.Position(feed, &model.VehicleTelemetry{
		LineID:          "55",
		DirectionKey:    "0",
		NextStopID:      "6190",
		DistanceToNextM: 700,
	})
	require.NoError(t, err)
	assert.False(t, pos.IsValid)
	assert.InDelta(t, 500, pos.DistanceToNext, 1)
	require.Len(t, pos.InterpolatedPosition, 2)
	// Capped to the segment start.
	assert.InDelta(t, 50.0, pos.InterpolatedPosition[0], 0.00001)
}

func TestReconstructNegativeDistance(t *testing.T) {
	feed := line55Feed(t)
	r := vehicle.NewReconstructor(nil)

	// A vehicle arriving at the stop can briefly report a negative
	// distance; it is clamped to "at the stop" rather than walked
	// past it.
	pos, err := r.Position(feed, &model.VehicleTelemetry{
		LineID:          "55",
		DirectionKey:    "0",
		NextStopID:      "6190",
		DistanceToNextM: -40,
	})
	require.NoError(t, err)
	assert.True(t, pos.IsValid)
	assert.Equal(t, 0.0, pos.DistanceToNext)

	require.Len(t, pos.InterpolatedPosition, 2)
	toTerminus, err := geo.Haversine(
		pos.InterpolatedPosition[0], pos.InterpolatedPosition[1],
		50.00449661, 4.0)
	require.NoError(t, err)
	assert.InDelta(t, 0, toTerminus, 1)
}

func TestReconstructUnknownLine(t *testing.T) {
	feed := line55Feed(t)
	r := vehicle.NewReconstructor(nil)

	_, err := r.Position(feed, &model.VehicleTelemetry{
		LineID:       "99",
		DirectionKey: "0",
		NextStopID:   "6190",
	})
	assert.Error(t, err)
}

func TestStripSuffix(t *testing.T) {
	assert.Equal(t, "5710", vehicle.StripSuffix("5710F"))
	assert.Equal(t, "5710", vehicle.StripSuffix("5710"))
	assert.Equal(t, "", vehicle.StripSuffix("ABC"))
}

func TestReconstructValidDistanceBounds(t *testing.T) {
	feed := line55Feed(t)
	r := vehicle.NewReconstructor(nil)

	// Every valid position satisfies 0 <= distance <= segment
	// length and sits within distance+5m of the next stop.
	for _, d := range []float64{0, 1, 250, 499, 500} {
		pos, err := r.Position(feed, &model.VehicleTelemetry{
			LineID:          "55",
			DirectionKey:    "0",
			NextStopID:      "6190",
			DistanceToNextM: d,
		})
		require.NoError(t, err)
		require.True(t, pos.IsValid)
		assert.GreaterOrEqual(t, pos.DistanceToNext, 0.0)
		assert.LessOrEqual(t, pos.DistanceToNext, pos.SegmentLength)

		toNext, err := geo.Haversine(
			pos.InterpolatedPosition[0], pos.InterpolatedPosition[1],
			50.00449661, 4.0)
		require.NoError(t, err)
		assert.LessOrEqual(t, toNext, pos.DistanceToNext+5)
	}
}
