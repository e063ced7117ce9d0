package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/openmobility/transithub/model"
)

type StopCSV struct {
	ID            string  `csv:"stop_id"`
	Code          string  `csv:"stop_code"`
	Name          string  `csv:"stop_name"`
	Desc          string  `csv:"stop_desc"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	LocationType  int8    `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
	PlatformCode  string  `csv:"platform_code"`
	Timezone      string  `csv:"stop_timezone"`
}

func ParseStops(data io.Reader) ([]*model.Stop, error) {
	stopCsv := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &stopCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling stops csv: %w", err)
	}

	stopIDs := map[string]bool{}
	parentRef := map[string]string{}
	stops := []*model.Stop{}
	for _, st := range stopCsv {
		if stopIDs[st.ID] {
			return nil, fmt.Errorf("repeated stop_id '%s'", st.ID)
		}
		stopIDs[st.ID] = true

		if st.ID == "" {
			return nil, fmt.Errorf("empty stop_id")
		}

		locationType := model.LocationType(st.LocationType)

		// stop_name is "[o]ptional for locations which are
		// generic nodes (location_type=3) or boarding areas
		// (location_type=4)" and otherwise required
		if locationType != model.LocationTypeGenericNode && locationType != model.LocationTypeBoardingArea {
			if st.Name == "" {
				return nil, fmt.Errorf("empty stop_name for stop_id '%s'", st.ID)
			}
		}

		// Coordinates are required for plain stops by the GTFS
		// spec, but some upstreams ship stops without them. A
		// (0, 0) pair is treated as absent; fallback handling
		// happens at query time.
		hasCoords := st.Lat != 0 || st.Lon != 0

		stop := &model.Stop{
			ID:            st.ID,
			Code:          st.Code,
			Name:          st.Name,
			Desc:          st.Desc,
			Lat:           st.Lat,
			Lon:           st.Lon,
			HasCoords:     hasCoords,
			LocationType:  locationType,
			ParentStation: st.ParentStation,
			PlatformCode:  st.PlatformCode,
			Timezone:      st.Timezone,
		}

		if st.ParentStation != "" {
			parentRef[st.ID] = st.ParentStation
		}

		stops = append(stops, stop)
	}

	// verify stops referenced by parent_station exist
	for stopID, parentID := range parentRef {
		if !stopIDs[parentID] {
			return nil, fmt.Errorf("stop '%s' references unknown parent_station '%s'", stopID, parentID)
		}
	}

	return stops, nil
}
