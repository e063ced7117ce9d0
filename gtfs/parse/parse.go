package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/model"
)

// Files consulted when loading a bundle, in the fixed order used for
// hashing.
var BundleFiles = []string{
	"agency.txt",
	"calendar.txt",
	"calendar_dates.txt",
	"feed_info.txt",
	"routes.txt",
	"shapes.txt",
	"stop_times.txt",
	"stops.txt",
	"translations.txt",
	"trips.txt",
}

// Data holds everything parsed out of a static GTFS bundle, before
// indexing.
type Data struct {
	Agencies      []*model.Agency
	Timezone      string
	Stops         []*model.Stop
	Routes        []*model.Route
	Trips         []*model.Trip
	StopTimes     []model.StopTime
	Shapes        []*model.Shape
	Calendars     []*model.Calendar
	CalendarDates []*model.CalendarDate
	Translations  []*model.Translation
	FeedInfo      *model.FeedInfo

	CalendarStartDate string
	CalendarEndDate   string
	MaxArrival        string
	MaxDeparture      string
}

// ParseZip parses a zipped static GTFS bundle.
func ParseZip(logger *zap.Logger, buf []byte) (*Data, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	file := map[string]io.ReadCloser{}
	defer func() {
		for _, rc := range file {
			if rc != nil {
				rc.Close()
			}
		}
	}()

	wanted := map[string]bool{}
	for _, name := range BundleFiles {
		wanted[name] = true
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if !wanted[fName] {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		file[fName] = rc
	}

	readers := map[string]io.Reader{}
	for name, rc := range file {
		readers[name] = rc
	}

	return parseFiles(logger, readers)
}

// ParseDir parses an extracted static GTFS bundle from a directory of
// CSV files.
func ParseDir(logger *zap.Logger, dir string) (*Data, error) {
	readers := map[string]io.Reader{}
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	for _, name := range BundleFiles {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		readers[name] = f
		closers = append(closers, f)
	}

	return parseFiles(logger, readers)
}

func parseFiles(logger *zap.Logger, file map[string]io.Reader) (*Data, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if file["calendar.txt"] == nil && file["calendar_dates.txt"] == nil {
		return nil, fmt.Errorf("missing calendar.txt and calendar_dates.txt")
	}
	for _, required := range []string{"agency.txt", "routes.txt", "stops.txt", "trips.txt", "stop_times.txt"} {
		if file[required] == nil {
			return nil, fmt.Errorf("missing %s", required)
		}
	}

	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})

	d := &Data{}

	// Parse agency.txt. Extract timezone and set of agency IDs in
	// the process.
	agencies, timezone, err := ParseAgency(file["agency.txt"])
	if err != nil {
		return nil, fmt.Errorf("parsing agency.txt: %w", err)
	}
	d.Agencies = agencies
	d.Timezone = timezone
	agencyIDs := map[string]bool{}
	for _, a := range agencies {
		agencyIDs[a.ID] = true
	}

	d.Routes, err = ParseRoutes(file["routes.txt"], agencyIDs)
	if err != nil {
		return nil, fmt.Errorf("parsing routes.txt: %w", err)
	}
	routeIDs := map[string]bool{}
	for _, r := range d.Routes {
		routeIDs[r.ID] = true
	}

	// Parse calendar.txt and calendar_dates.txt. Extract set of
	// all service IDs, and min/max date of services seen.
	services := map[string]bool{}
	if file["calendar.txt"] != nil {
		var minDate, maxDate string
		d.Calendars, services, minDate, maxDate, err = ParseCalendar(file["calendar.txt"])
		if err != nil {
			return nil, fmt.Errorf("parsing calendar.txt: %w", err)
		}
		d.CalendarStartDate = minDate
		d.CalendarEndDate = maxDate
	}
	if file["calendar_dates.txt"] != nil {
		var cdServices map[string]bool
		var minDate, maxDate string
		d.CalendarDates, cdServices, minDate, maxDate, err = ParseCalendarDates(file["calendar_dates.txt"])
		if err != nil {
			return nil, fmt.Errorf("parsing calendar_dates.txt: %w", err)
		}
		for serviceID := range cdServices {
			services[serviceID] = true
		}
		if d.CalendarStartDate == "" || minDate < d.CalendarStartDate {
			d.CalendarStartDate = minDate
		}
		if d.CalendarEndDate == "" || maxDate > d.CalendarEndDate {
			d.CalendarEndDate = maxDate
		}
	}

	if file["shapes.txt"] != nil {
		d.Shapes, err = ParseShapes(logger, file["shapes.txt"])
		if err != nil {
			return nil, fmt.Errorf("parsing shapes.txt: %w", err)
		}
	}
	shapeIDs := map[string]bool{}
	for _, s := range d.Shapes {
		shapeIDs[s.ID] = true
	}

	d.Trips, err = ParseTrips(file["trips.txt"], routeIDs, services, shapeIDs)
	if err != nil {
		return nil, fmt.Errorf("parsing trips.txt: %w", err)
	}
	tripIDs := map[string]bool{}
	for _, t := range d.Trips {
		tripIDs[t.ID] = true
	}

	d.Stops, err = ParseStops(file["stops.txt"])
	if err != nil {
		return nil, fmt.Errorf("parsing stops.txt: %w", err)
	}
	stopIDs := map[string]bool{}
	for _, s := range d.Stops {
		stopIDs[s.ID] = true
	}

	d.StopTimes, d.MaxArrival, d.MaxDeparture, err = ParseStopTimes(logger, file["stop_times.txt"], tripIDs, stopIDs)
	if err != nil {
		return nil, fmt.Errorf("parsing stop_times.txt: %w", err)
	}

	if file["translations.txt"] != nil {
		d.Translations, err = ParseTranslations(logger, file["translations.txt"])
		if err != nil {
			return nil, fmt.Errorf("parsing translations.txt: %w", err)
		}
	}

	if file["feed_info.txt"] != nil {
		d.FeedInfo, err = ParseFeedInfo(file["feed_info.txt"])
		if err != nil {
			return nil, fmt.Errorf("parsing feed_info.txt: %w", err)
		}
	}

	return d, nil
}
