package api

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/assessly-hq/assessment-event-pipeline/internal/ingest"
)

// readRows decodes a CSV stream into ingestion rows. The first record is the
// header; column names are trimmed and lowercased so `Candidate_ID` and
// `candidate_id` address the same field. Records shorter than the header are
// tolerated by the lenient FieldsPerRecord setting and surface downstream as
// rows with missing fields.
func readRows(r io.Reader) ([]ingest.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(name))
	}

	var rows []ingest.Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(ingest.Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
