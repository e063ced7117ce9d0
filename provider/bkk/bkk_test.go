package bkk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/openmobility/transithub/provider"
	"github.com/openmobility/transithub/provider/bkk"
	"github.com/openmobility/transithub/testutil"
)

func budapestBundle() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_id,agency_name,agency_url,agency_timezone",
			"bkk,BKK,http://bkk.example,Europe/Budapest",
		},
		"routes.txt": {
			"route_id,agency_id,route_short_name,route_type,route_color",
			"3040,bkk,47,0,FFD800",
		},
		"calendar.txt": {
			"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
			"daily,1,1,1,1,1,1,1,20240101,20241231",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"F01111,Deak Ferenc ter,47.4976,19.0546",
			"F01112,Kalvin ter,47.4893,19.0615",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,trip_headsign,direction_id",
			"3040,daily,t47a,Budafok,0",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t47a,08:00:00,08:00:00,F01111,1",
			"t47a,08:04:00,08:04:00,F01112,2",
		},
	}
}

// Raw bytes of an unknown proto field (field 99, varint 7), standing
// in for the operator's extension payload.
var vendorBytes = []byte{0x98, 0x06, 0x07}

func vehicleFeed(t *testing.T) []byte {
	entity := &gtfsproto.FeedEntity{
		Id: proto.String("vp-1"),
		Vehicle: &gtfsproto.VehiclePosition{
			Trip: &gtfsproto.TripDescriptor{
				TripId:  proto.String("t47a"),
				RouteId: proto.String("3040"),
			},
			Position: &gtfsproto.Position{
				Latitude:  proto.Float32(47.49),
				Longitude: proto.Float32(19.05),
			},
		},
	}

	// Re-unmarshal with appended unknown bytes so the entity carries a
	// vendor extension, the way the operator's feed does.
	buf, err := proto.Marshal(entity)
	require.NoError(t, err)
	buf = append(buf, vendorBytes...)
	withVendor := &gtfsproto.FeedEntity{}
	require.NoError(t, proto.Unmarshal(buf, withVendor))

	msg := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsproto.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(1709622000),
		},
		Entity: []*gtfsproto.FeedEntity{withVendor},
	}
	out, err := proto.Marshal(msg)
	require.NoError(t, err)
	return out
}

func tripUpdatesFeed(t *testing.T) []byte {
	msg := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsproto.FeedHeader_FULL_DATASET.Enum(),
		},
		Entity: []*gtfsproto.FeedEntity{
			{
				Id: proto.String("tu-1"),
				TripUpdate: &gtfsproto.TripUpdate{
					Trip: &gtfsproto.TripDescriptor{TripId: proto.String("t47a")},
					StopTimeUpdate: []*gtfsproto.TripUpdate_StopTimeUpdate{
						{
							StopId:  proto.String("F01111"),
							Arrival: &gtfsproto.TripUpdate_StopTimeEvent{Delay: proto.Int32(60)},
						},
					},
				},
			},
		},
	}
	out, err := proto.Marshal(msg)
	require.NoError(t, err)
	return out
}

func newTestProvider(t *testing.T) (*bkk.Provider, *string) {
	var lastPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath = r.URL.Path
		switch r.URL.Path {
		case "/VehiclePositions.pb":
			w.Write(vehicleFeed(t))
		case "/TripUpdates.pb":
			w.Write(tripUpdatesFeed(t))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	cfg := provider.Config{
		Name:           "bkk",
		APIURL:         server.URL,
		APIKey:         "test-key",
		MonitoredLines: []string{"3040"},
		StopIDs:        []string{"F01111"},
		CacheDir:       t.TempDir(),
	}
	p, err := bkk.New(nil, cfg, testutil.NewManager(t, budapestBundle()))
	require.NoError(t, err)
	return p, &lastPath
}

func TestVehiclesCarryVendorData(t *testing.T) {
	p, _ := newTestProvider(t)

	res, err := p.Vehicles(context.Background(), "3040", "")
	require.NoError(t, err)
	require.Len(t, res.Vehicles, 1)

	v := res.Vehicles[0]
	assert.Equal(t, "3040", v.Line)
	assert.Equal(t, "Budafok", v.Direction)
	require.Len(t, v.InterpolatedPosition, 2)
	assert.InDelta(t, 47.49, v.InterpolatedPosition[0], 0.001)

	require.NotNil(t, v.RawData)
	assert.Equal(t, vendorBytes, v.RawData["bkk_specific"])
}

func TestVehiclesAPIKeyInURL(t *testing.T) {
	p, lastPath := newTestProvider(t)

	_, err := p.Vehicles(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "/VehiclePositions.pb", *lastPath)
}

func TestWaitingTimesWithDelay(t *testing.T) {
	p, _ := newTestProvider(t)
	loc, err := time.LoadLocation("Europe/Budapest")
	require.NoError(t, err)
	p.TimeNow = func() time.Time { return time.Date(2024, 3, 5, 7, 55, 0, 0, loc) }

	res, err := p.WaitingTimes(context.Background(), "F01111", "hu")
	require.NoError(t, err)

	data := res.StopsData["F01111"]
	require.NotNil(t, data)
	assert.Equal(t, "Deak Ferenc ter", data.Name)

	arrivals := data.Lines["3040"].Headsigns["Budafok"]
	require.Len(t, arrivals, 1)
	assert.True(t, arrivals[0].IsRealtime)
	assert.Equal(t, 60, arrivals[0].DelaySeconds)
	assert.Equal(t, 6, arrivals[0].MinutesUntil)
	assert.Equal(t, "bkk", arrivals[0].Provider)
}

func TestColors(t *testing.T) {
	p, _ := newTestProvider(t)

	colors, err := p.Colors(context.Background(), "3040")
	require.NoError(t, err)
	assert.Equal(t, "#FFD800", colors.Background)
	assert.Equal(t, "#FFFFFF", colors.Text)
}
