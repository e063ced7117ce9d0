package parse

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func buildZip(t *testing.T, files map[string][]string) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n") + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

func bundleFiles() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_id,agency_name,agency_url,agency_timezone",
			"stib,STIB-MIVB,https://stib.example,Europe/Brussels",
		},
		"routes.txt": {
			"route_id,route_short_name,route_type,route_color",
			"55,55,0,F7E017",
		},
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"daily,20260101,20261231,1,1,1,1,1,1,1",
		},
		"calendar_dates.txt": {
			"service_id,date,exception_type",
			"daily,20260704,2",
		},
		"shapes.txt": {
			"shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence",
			"sh55,50.84,4.34,1",
			"sh55,50.85,4.35,2",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,trip_headsign,direction_id,shape_id",
			"t1,55,daily,Rogier,0,sh55",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"6188,Da Vinci,50.84,4.34",
			"6190,Rogier,50.85,4.35",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,arrival_time,departure_time",
			"t1,6188,1,8:00:00,8:00:00",
			"t1,6190,2,8:10:00,8:10:00",
		},
		"feed_info.txt": {
			"feed_publisher_name,feed_publisher_url,feed_lang,feed_version",
			"STIB-MIVB,https://stib.example,fr,2026-02",
		},
	}
}

func TestParseZip(t *testing.T) {
	d, err := ParseZip(zap.NewNop(), buildZip(t, bundleFiles()))
	require.NoError(t, err)

	assert.Equal(t, "Europe/Brussels", d.Timezone)
	assert.Len(t, d.Agencies, 1)
	assert.Len(t, d.Routes, 1)
	assert.Len(t, d.Trips, 1)
	assert.Len(t, d.Stops, 2)
	assert.Len(t, d.StopTimes, 2)
	assert.Len(t, d.Shapes, 1)
	assert.Len(t, d.Calendars, 1)
	assert.Len(t, d.CalendarDates, 1)

	assert.Equal(t, "20260101", d.CalendarStartDate)
	assert.Equal(t, "20261231", d.CalendarEndDate)
	assert.Equal(t, "081000", d.MaxArrival)
	assert.Equal(t, "081000", d.MaxDeparture)

	require.NotNil(t, d.FeedInfo)
	assert.Equal(t, "STIB-MIVB", d.FeedInfo.PublisherName)
	assert.Equal(t, "2026-02", d.FeedInfo.Version)
}

func TestParseZipToleratesSubdirectory(t *testing.T) {
	files := map[string][]string{}
	for name, content := range bundleFiles() {
		files["gtfs/"+name] = content
	}

	d, err := ParseZip(zap.NewNop(), buildZip(t, files))
	require.NoError(t, err)
	assert.Len(t, d.Stops, 2)
}

func TestParseZipMissingRequiredFile(t *testing.T) {
	files := bundleFiles()
	delete(files, "stops.txt")

	_, err := ParseZip(zap.NewNop(), buildZip(t, files))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stops.txt")
}

func TestParseZipRequiresSomeCalendar(t *testing.T) {
	files := bundleFiles()
	delete(files, "calendar.txt")
	delete(files, "calendar_dates.txt")

	_, err := ParseZip(zap.NewNop(), buildZip(t, files))
	assert.Error(t, err)
}

func TestParseZipCalendarDatesOnly(t *testing.T) {
	files := bundleFiles()
	delete(files, "calendar.txt")
	files["calendar_dates.txt"] = []string{
		"service_id,date,exception_type",
		"daily,20260301,1",
		"daily,20260302,1",
	}

	d, err := ParseZip(zap.NewNop(), buildZip(t, files))
	require.NoError(t, err)
	assert.Empty(t, d.Calendars)
	assert.Len(t, d.CalendarDates, 2)
	assert.Equal(t, "20260301", d.CalendarStartDate)
	assert.Equal(t, "20260302", d.CalendarEndDate)
}

func TestParseFeedInfoEmpty(t *testing.T) {
	fi, err := ParseFeedInfo(bytes.NewBufferString("feed_publisher_name,feed_publisher_url,feed_lang\n"))
	require.NoError(t, err)
	assert.Nil(t, fi)
}

func TestParseZipGarbage(t *testing.T) {
	_, err := ParseZip(zap.NewNop(), []byte("this is not a zip"))
	assert.Error(t, err)
}
