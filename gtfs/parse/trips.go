package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/openmobility/transithub/model"
)

type TripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	Headsign    string `csv:"trip_headsign"`
	ShortName   string `csv:"trip_short_name"`
	DirectionID string `csv:"direction_id"`
	ShapeID     string `csv:"shape_id"`
}

func ParseTrips(
	data io.Reader,
	routes map[string]bool,
	services map[string]bool,
	shapes map[string]bool,
) ([]*model.Trip, error) {
	tripCsv := []*TripCSV{}
	if err := gocsv.Unmarshal(data, &tripCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling trips csv: %w", err)
	}

	seen := map[string]bool{}
	trips := []*model.Trip{}
	for _, t := range tripCsv {
		if seen[t.ID] {
			return nil, fmt.Errorf("repeated trip_id '%s'", t.ID)
		}
		seen[t.ID] = true

		if t.ID == "" {
			return nil, fmt.Errorf("empty trip_id")
		}
		if t.RouteID == "" {
			return nil, fmt.Errorf("empty route_id")
		}

		if !routes[t.RouteID] {
			return nil, fmt.Errorf("unknown route_id '%s'", t.RouteID)
		}
		if !services[t.ServiceID] {
			return nil, fmt.Errorf("unknown service_id '%s'", t.ServiceID)
		}

		// direction_id is optional
		directionID := int8(-1)
		switch t.DirectionID {
		case "":
		case "0":
			directionID = 0
		case "1":
			directionID = 1
		default:
			return nil, fmt.Errorf("invalid direction_id '%s'", t.DirectionID)
		}

		// shape_id (if set) must be known from shapes.txt
		if t.ShapeID != "" && !shapes[t.ShapeID] {
			return nil, fmt.Errorf("trip '%s' references unknown shape_id '%s'", t.ID, t.ShapeID)
		}

		trips = append(trips, &model.Trip{
			ID:          t.ID,
			RouteID:     t.RouteID,
			ServiceID:   t.ServiceID,
			Headsign:    t.Headsign,
			ShortName:   t.ShortName,
			DirectionID: directionID,
			ShapeID:     t.ShapeID,
		})
	}

	return trips, nil
}
