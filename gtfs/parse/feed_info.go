package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/openmobility/transithub/model"
)

type FeedInfoCSV struct {
	PublisherName string `csv:"feed_publisher_name"`
	PublisherURL  string `csv:"feed_publisher_url"`
	Lang          string `csv:"feed_lang"`
	StartDate     string `csv:"feed_start_date"`
	EndDate       string `csv:"feed_end_date"`
	Version       string `csv:"feed_version"`
}

func ParseFeedInfo(data io.Reader) (*model.FeedInfo, error) {
	rows := []*FeedInfoCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling feed_info csv: %w", err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	// Only the first record matters; the file should have exactly
	// one row.
	fi := rows[0]
	return &model.FeedInfo{
		PublisherName: fi.PublisherName,
		PublisherURL:  fi.PublisherURL,
		Lang:          fi.Lang,
		StartDate:     fi.StartDate,
		EndDate:       fi.EndDate,
		Version:       fi.Version,
	}, nil
}
