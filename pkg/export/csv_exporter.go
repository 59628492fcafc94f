package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// Column binds a row key to the header cell written for it.
type Column struct {
	Key   string
	Title string
}

func (c Column) header() string {
	if c.Title != "" {
		return c.Title
	}
	return c.Key
}

// Columns builds columns whose header equals their key.
func Columns(keys ...string) []Column {
	cols := make([]Column, len(keys))
	for i, k := range keys {
		cols[i] = Column{Key: k}
	}
	return cols
}

// Dataset is an ordered set of columns and keyed rows.
type Dataset struct {
	Columns []Column
	Rows    []map[string]string
}

// CSVExporter writes datasets as RFC 4180 CSV.
type CSVExporter struct {
	// RawCells disables the spreadsheet formula guard.
	RawCells bool
}

// NewCSVExporter builds a CSV exporter with the formula guard on.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render writes the header row then one record per row in column order.
// Keys missing from a row become empty cells.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	header := make([]string, len(data.Columns))
	seen := make(map[string]struct{}, len(data.Columns))
	for i, col := range data.Columns {
		if col.Key == "" {
			return nil, fmt.Errorf("csv column %d has no key", i)
		}
		if _, dup := seen[col.Key]; dup {
			return nil, fmt.Errorf("duplicate csv column %q", col.Key)
		}
		seen[col.Key] = struct{}{}
		header[i] = col.header()
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(data.Columns))
	for n, row := range data.Rows {
		for i, col := range data.Columns {
			record[i] = e.cell(row[col.Key])
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", n+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// cell prefixes values a spreadsheet would evaluate as a formula. Plain
// numbers such as "-3.5" pass through.
func (e *CSVExporter) cell(v string) string {
	if e.RawCells || v == "" {
		return v
	}
	if !strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return v
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	return "'" + v
}
