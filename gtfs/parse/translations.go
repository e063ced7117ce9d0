package parse

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/model"
)

// translations.txt comes in two shapes. The table-based form from the
// GTFS spec:
//
//	table_name,field_name,language,translation,record_id[,field_value]
//
// and a legacy simple form some operators still ship:
//
//	trans_id,translation,lang
//
// where trans_id matches the untranslated stop name. Both are
// normalized to model.Translation records; simple-form entries use
// FieldValue to carry the matched name.

type TableTranslationCSV struct {
	TableName   string `csv:"table_name"`
	FieldName   string `csv:"field_name"`
	Language    string `csv:"language"`
	Translation string `csv:"translation"`
	RecordID    string `csv:"record_id"`
	FieldValue  string `csv:"field_value"`
}

type SimpleTranslationCSV struct {
	TransID     string `csv:"trans_id"`
	Translation string `csv:"translation"`
	Lang        string `csv:"lang"`
}

func ParseTranslations(logger *zap.Logger, data io.Reader) ([]*model.Translation, error) {
	// Sniff the header row to pick the format.
	reader := bufio.NewReader(data)
	header, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	full := io.MultiReader(strings.NewReader(header), reader)

	if strings.Contains(header, "table_name") {
		return parseTableTranslations(full)
	}
	if strings.Contains(header, "trans_id") {
		return parseSimpleTranslations(full)
	}

	logger.Warn("unrecognized translations.txt header, skipping",
		zap.String("header", strings.TrimSpace(header)))
	return nil, nil
}

func parseTableTranslations(data io.Reader) ([]*model.Translation, error) {
	rows := []*TableTranslationCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling translations csv: %w", err)
	}

	translations := []*model.Translation{}
	for _, row := range rows {
		if row.Language == "" || row.Translation == "" {
			continue
		}
		translations = append(translations, &model.Translation{
			TableName:  row.TableName,
			FieldName:  row.FieldName,
			Language:   strings.ToLower(row.Language),
			Value:      row.Translation,
			RecordID:   row.RecordID,
			FieldValue: row.FieldValue,
		})
	}
	return translations, nil
}

func parseSimpleTranslations(data io.Reader) ([]*model.Translation, error) {
	rows := []*SimpleTranslationCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling translations csv: %w", err)
	}

	translations := []*model.Translation{}
	for _, row := range rows {
		if row.Lang == "" || row.Translation == "" {
			continue
		}
		translations = append(translations, &model.Translation{
			TableName:  "stops",
			FieldName:  "stop_name",
			Language:   strings.ToLower(row.Lang),
			Value:      row.Translation,
			FieldValue: row.TransID,
		})
	}
	return translations, nil
}
