package excel

import (
	"encoding/csv"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"ablab/domain/core"
	"ablab/domain/experiment"
	"ablab/internal/errors"
)

// EventReader loads experiment events from Excel or CSV files. It
// implements ports.EventReaderPort; the source string is a file path.
type EventReader struct{}

// NewEventReader creates an event file reader
func NewEventReader() *EventReader {
	return &EventReader{}
}

// ReadEvents reads all events from the given file. The file must carry
// a header row with user_id, variant, metric and value columns; a row
// with an empty metric cell is an exposure-only record.
func (r *EventReader) ReadEvents(source string) ([]experiment.Event, error) {
	if _, err := os.Stat(source); os.IsNotExist(err) {
		return nil, errors.InvalidInput("event file not found: " + source)
	}

	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(source)) {
	case ".csv":
		rows, err = readCSVRows(source)
	case ".xlsx":
		rows, err = readExcelRows(source)
	default:
		return nil, errors.InvalidInput("unsupported event file type: " + filepath.Ext(source))
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.Data("event file must have a header row and at least one data row")
	}

	return parseRows(rows)
}

func readExcelRows(path string) ([][]string, error) {
	start := time.Now()
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open Excel file")
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read sheet "+sheet)
	}
	log.Printf("[EventReader] %s read in %.2fms (%d rows)", filepath.Base(path), float64(time.Since(start).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

func readCSVRows(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open CSV file")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CSV file")
	}
	return rows, nil
}

// columnIndex maps the expected columns to their positions in the
// header row. Header matching is case-insensitive and tolerant of
// surrounding whitespace.
type columnIndex struct {
	unit    int
	variant int
	metric  int
	value   int
}

func indexColumns(header []string) (columnIndex, error) {
	idx := columnIndex{unit: -1, variant: -1, metric: -1, value: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "user_id", "unit_id":
			idx.unit = i
		case "variant", "variant_id":
			idx.variant = i
		case "metric", "metric_name":
			idx.metric = i
		case "value", "metric_value":
			idx.value = i
		}
	}
	if idx.unit < 0 || idx.variant < 0 {
		return idx, errors.Data("event file header must include user_id and variant columns")
	}
	return idx, nil
}

func parseRows(rows [][]string) ([]experiment.Event, error) {
	idx, err := indexColumns(rows[0])
	if err != nil {
		return nil, err
	}

	events := make([]experiment.Event, 0, len(rows)-1)
	for n, row := range rows[1:] {
		unit := cell(row, idx.unit)
		variant := cell(row, idx.variant)
		if unit == "" && variant == "" {
			continue // blank trailing row
		}
		if unit == "" || variant == "" {
			return nil, errors.Data("row %d is missing user_id or variant", n+2)
		}

		ev := experiment.Event{
			UnitID:    unit,
			VariantID: core.VariantID(variant),
			Metric:    cell(row, idx.metric),
		}
		if raw := cell(row, idx.value); raw != "" && ev.Metric != "" {
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, errors.Data("row %d has non-numeric value %q", n+2, raw)
			}
			ev.Value = value
		}
		events = append(events, ev)
	}

	if len(events) == 0 {
		return nil, errors.Data("event file contains no usable rows")
	}
	return events, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
