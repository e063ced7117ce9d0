package parse

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/openmobility/transithub/model"
)

type AgencyCSV struct {
	ID       string `csv:"agency_id"`
	Name     string `csv:"agency_name"`
	URL      string `csv:"agency_url"`
	Timezone string `csv:"agency_timezone"`
	Lang     string `csv:"agency_lang"`
}

func ParseAgency(data io.Reader) ([]*model.Agency, string, error) {
	agencyCsv := []*AgencyCSV{}
	if err := gocsv.Unmarshal(data, &agencyCsv); err != nil {
		return nil, "", fmt.Errorf("unmarshaling agency csv: %w", err)
	}

	if len(agencyCsv) == 0 {
		return nil, "", fmt.Errorf("no agency record found")
	}

	// "If multiple agencies are specified in the dataset, each
	// must have the same agency_timezone."
	agencyTz := map[string]bool{}
	for _, a := range agencyCsv {
		agencyTz[a.Timezone] = true
	}
	if len(agencyTz) != 1 {
		return nil, "", fmt.Errorf("multiple agency_timezone")
	}

	tz := agencyCsv[0].Timezone
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, "", fmt.Errorf("agency_timezone '%s' is invalid: %w", tz, err)
		}
	}
	// A missing timezone is tolerated. Downstream time handling
	// falls back to UTC with a warning, rather than inheriting
	// whatever the host is set to.

	seen := map[string]bool{}
	agencies := []*model.Agency{}
	for _, a := range agencyCsv {
		if seen[a.ID] {
			return nil, "", fmt.Errorf("duplicated agency_id: '%s'", a.ID)
		}
		seen[a.ID] = true

		if a.Name == "" {
			return nil, "", fmt.Errorf("missing agency_name")
		}
		if a.URL == "" {
			return nil, "", fmt.Errorf("missing agency_url")
		}

		agencies = append(agencies, &model.Agency{
			ID:       a.ID,
			Name:     a.Name,
			URL:      a.URL,
			Timezone: tz,
			Lang:     a.Lang,
		})
	}

	return agencies, tz, nil
}
