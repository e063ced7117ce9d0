package parse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmobility/transithub/model"
)

func TestParseCalendar(t *testing.T) {
	content := `
service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday
weekday,20260101,20261231,1,1,1,1,1,0,0
weekend,20260201,20260630,0,0,0,0,0,1,1`

	calendars, services, minDate, maxDate, err := ParseCalendar(bytes.NewBufferString(content))
	require.NoError(t, err)

	assert.Equal(t, []*model.Calendar{
		{ServiceID: "weekday", StartDate: "20260101", EndDate: "20261231", Weekdays: 0b0011111},
		{ServiceID: "weekend", StartDate: "20260201", EndDate: "20260630", Weekdays: 0b1100000},
	}, calendars)
	assert.Equal(t, map[string]bool{"weekday": true, "weekend": true}, services)
	assert.Equal(t, "20260101", minDate)
	assert.Equal(t, "20261231", maxDate)
}

func TestParseCalendarErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{
			"repeated service_id",
			`
service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday
s,20260101,20261231,1,0,0,0,0,0,0
s,20260101,20261231,0,1,0,0,0,0,0`,
		},
		{
			"invalid weekday value",
			`
service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday
s,20260101,20261231,2,0,0,0,0,0,0`,
		},
		{
			"invalid start_date",
			`
service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday
s,2026-01-01,20261231,1,0,0,0,0,0,0`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, _, err := ParseCalendar(bytes.NewBufferString(tc.content))
			assert.Error(t, err)
		})
	}
}
