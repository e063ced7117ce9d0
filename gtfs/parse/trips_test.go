package parse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openmobility/transithub/model"
)

func TestParseTrips(t *testing.T) {
	routes := map[string]bool{"r": true}
	services := map[string]bool{"svc": true}
	shapes := map[string]bool{"sh": true}

	for _, tc := range []struct {
		name    string
		content string
		trips   []*model.Trip
		err     bool
	}{
		{
			"minimal_trip",
			`
trip_id,route_id,service_id
t,r,svc`,
			[]*model.Trip{{
				ID:          "t",
				RouteID:     "r",
				ServiceID:   "svc",
				DirectionID: -1,
			}},
			false,
		},

		{
			"maximal_trip",
			`
trip_id,route_id,service_id,trip_headsign,trip_short_name,direction_id,shape_id
t,r,svc,Rogier,55,1,sh`,
			[]*model.Trip{{
				ID:          "t",
				RouteID:     "r",
				ServiceID:   "svc",
				Headsign:    "Rogier",
				ShortName:   "55",
				DirectionID: 1,
				ShapeID:     "sh",
			}},
			false,
		},

		{
			"repeated trip_id",
			`
trip_id,route_id,service_id
t,r,svc
t,r,svc`,
			nil,
			true,
		},

		{
			"unknown route_id",
			`
trip_id,route_id,service_id
t,rx,svc`,
			nil,
			true,
		},

		{
			"unknown service_id",
			`
trip_id,route_id,service_id
t,r,svcx`,
			nil,
			true,
		},

		{
			"invalid direction_id",
			`
trip_id,route_id,service_id,direction_id
t,r,svc,2`,
			nil,
			true,
		},

		{
			"unknown shape_id",
			`
trip_id,route_id,service_id,shape_id
t,r,svc,shx`,
			nil,
			true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			trips, err := ParseTrips(bytes.NewBufferString(tc.content), routes, services, shapes)
			if tc.err {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.trips, trips)
		})
	}
}
