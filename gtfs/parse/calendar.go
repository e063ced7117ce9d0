package parse

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/openmobility/transithub/model"
)

type CalendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

// Returns all calendars, the set of service IDs, min date and max
// date.
func ParseCalendar(data io.Reader) ([]*model.Calendar, map[string]bool, string, string, error) {
	calendarCsv := []*CalendarCSV{}
	if err := gocsv.Unmarshal(data, &calendarCsv); err != nil {
		return nil, nil, "", "", fmt.Errorf("unmarshaling csv: %w", err)
	}

	knownServices := map[string]bool{}
	calendars := []*model.Calendar{}

	var minDate, maxDate string

	for _, c := range calendarCsv {
		if knownServices[c.ServiceID] {
			return nil, nil, "", "", fmt.Errorf("repeated service_id '%s'", c.ServiceID)
		}
		knownServices[c.ServiceID] = true

		if c.ServiceID == "" {
			return nil, nil, "", "", fmt.Errorf("empty service_id")
		}

		// Weekday bitmap, Monday first.
		days := []struct {
			name  string
			value int8
			bit   int
		}{
			{"monday", c.Monday, 0},
			{"tuesday", c.Tuesday, 1},
			{"wednesday", c.Wednesday, 2},
			{"thursday", c.Thursday, 3},
			{"friday", c.Friday, 4},
			{"saturday", c.Saturday, 5},
			{"sunday", c.Sunday, 6},
		}
		var weekdays int8
		for _, d := range days {
			if d.value == 1 {
				weekdays |= 1 << d.bit
			} else if d.value != 0 {
				return nil, nil, "", "", fmt.Errorf("invalid %s value '%d'", d.name, d.value)
			}
		}

		if _, err := time.ParseInLocation("20060102", c.StartDate, time.UTC); err != nil {
			return nil, nil, "", "", fmt.Errorf("parsing start_date: %w", err)
		}
		if _, err := time.ParseInLocation("20060102", c.EndDate, time.UTC); err != nil {
			return nil, nil, "", "", fmt.Errorf("parsing end_date: %w", err)
		}

		if minDate == "" || c.StartDate < minDate {
			minDate = c.StartDate
		}
		if maxDate == "" || c.EndDate > maxDate {
			maxDate = c.EndDate
		}

		calendars = append(calendars, &model.Calendar{
			ServiceID: c.ServiceID,
			StartDate: c.StartDate,
			EndDate:   c.EndDate,
			Weekdays:  weekdays,
		})
	}

	return calendars, knownServices, minDate, maxDate, nil
}
