package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Record is one parsed data row keyed by its normalised header.
type Record struct {
	Line   int
	Values map[string]string
}

// Get returns the trimmed value for header, or "".
func (r Record) Get(header string) string {
	return strings.TrimSpace(r.Values[normaliseHeader(header)])
}

// ReadCSV parses a header-rowed comma separated stream. Headers are matched
// case-insensitively; every header in required must be present.
func ReadCSV(src io.Reader, required []string, maxRows int) ([]Record, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(header))
	present := make(map[string]struct{}, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		columns[i] = normaliseHeader(h)
		present[columns[i]] = struct{}{}
	}
	for _, req := range required {
		if _, ok := present[normaliseHeader(req)]; !ok {
			return nil, fmt.Errorf("missing required column %q", req)
		}
	}

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if isBlank(row) {
			continue
		}
		line, _ := reader.FieldPos(0)
		if maxRows > 0 && len(records) >= maxRows {
			return nil, fmt.Errorf("csv exceeds %d rows", maxRows)
		}
		values := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(row) {
				values[col] = row[i]
			}
		}
		records = append(records, Record{Line: line, Values: values})
	}
	return records, nil
}

func normaliseHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
