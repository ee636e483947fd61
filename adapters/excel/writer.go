package excel

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"ablab/domain/experiment"
	"ablab/internal/errors"
)

// WriteEvents writes an event stream to an .xlsx or .csv file with the
// same columns ReadEvents expects, so generated files can round-trip.
func WriteEvents(path string, events []experiment.Event) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return writeCSVEvents(path, events)
	case ".xlsx":
		return writeExcelEvents(path, events)
	default:
		return errors.InvalidInput("unsupported event file type: " + filepath.Ext(path))
	}
}

var eventHeader = []string{"user_id", "variant", "metric", "value"}

func writeExcelEvents(path string, events []experiment.Event) error {
	f := excelize.NewFile()
	sheet := "Sheet1"

	for i, h := range eventHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return errors.Wrap(err, "failed to write header")
		}
	}

	for r, ev := range events {
		row := r + 2
		cells := []interface{}{ev.UnitID, string(ev.VariantID), ev.Metric, ev.Value}
		for c, v := range cells {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return errors.Wrap(err, "failed to write event row")
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, "failed to save Excel file")
	}
	return nil
}

func writeCSVEvents(path string, events []experiment.Event) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create CSV file")
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(eventHeader); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	for _, ev := range events {
		record := []string{
			ev.UnitID,
			string(ev.VariantID),
			ev.Metric,
			strconv.FormatFloat(ev.Value, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(err, "failed to write event row")
		}
	}
	w.Flush()
	return w.Error()
}
