package render

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"iotchart/internal/chart"
)

const sheetName = "Data"

// WriteCSV writes one "element,time,value" row per sample, elements in the given order.
func WriteCSV(w io.Writer, ds chart.DataSet, order []string) error {
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = ','

	for _, id := range ds.Elements(order) {
		for _, s := range ds.Series[id] {
			row := []string{
				id,
				time.Unix(s.Time, 0).UTC().Format(time.RFC3339),
				strconv.FormatFloat(s.Value, 'f', 6, 64),
			}
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("write csv: %w", err)
			}
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// WriteXLSX writes the data set as a workbook with a single "Data" sheet.
func WriteXLSX(w io.Writer, ds chart.DataSet, order []string, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	header := []any{"Element", "Time", "Unix", "Value"}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}

	row := 2
	for _, id := range ds.Elements(order) {
		for _, s := range ds.Series[id] {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return fmt.Errorf("xlsx: %w", err)
			}
			values := []any{id, time.Unix(s.Time, 0).In(loc).Format("2006-01-02 15:04:05"), s.Time, s.Value}
			if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
				return fmt.Errorf("xlsx row %d: %w", row, err)
			}
			row++
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
