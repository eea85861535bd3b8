// Package export renders flowsheet grids as spreadsheet workbooks.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"
	"github.com/xuri/excelize/v2"
)

// ContentType is the media type of the produced workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	columnsSheetName   = "Columns"
	defaultSheetName   = "Flowsheet"
	maxSheetNameLength = 31
	firstValueColumn   = 3
	currentLabelPrefix = "Now "
)

var gridHeader = []string{"Measure", "Unit"}

var columnsHeader = []string{"Column ID", "Timestamp", "Display Time", "Current"}

// GridWorkbook renders grid as an XLSX workbook: one sheet with rows by time columns, and a
// second sheet describing each column.
func GridWorkbook(title string, grid flowsheet.Grid) ([]byte, error) {
	file := excelize.NewFile()

	sheetName := SheetName(title)
	index, err := file.NewSheet(sheetName)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if sheetName != "Sheet1" {
		if err := file.DeleteSheet("Sheet1"); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to delete default sheet: %w", err)
		}
	}
	file.SetActiveSheet(index)

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeGridSheet(file, sheetName, grid, headerStyle); err != nil {
		file.Close()
		return nil, err
	}
	if err := writeColumnsSheet(file, grid.TimeColumns, headerStyle); err != nil {
		file.Close()
		return nil, err
	}

	var buffer bytes.Buffer
	if _, err := file.WriteTo(&buffer); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buffer.Bytes(), nil
}

// SheetName converts title into a valid worksheet name.
func SheetName(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return ' '
		default:
			return r
		}
	}, title)
	cleaned = strings.Trim(strings.TrimSpace(cleaned), "'")
	if cleaned == "" || strings.EqualFold(cleaned, columnsSheetName) {
		return defaultSheetName
	}
	runes := []rune(cleaned)
	if len(runes) > maxSheetNameLength {
		cleaned = strings.TrimSpace(string(runes[:maxSheetNameLength]))
	}
	return cleaned
}

func writeGridSheet(file *excelize.File, sheetName string, grid flowsheet.Grid, headerStyle int) error {
	headers := append([]string(nil), gridHeader...)
	for _, column := range grid.TimeColumns {
		headers = append(headers, columnLabel(column))
	}
	if err := writeRow(file, sheetName, 1, toValues(headers), headerStyle); err != nil {
		return err
	}

	index := grid.Index()
	for rowOffset, row := range grid.RowsDefinition {
		values := []any{rowLabel(row), row.Unit}
		cells := index[row.Key()]
		for _, column := range grid.TimeColumns {
			entry, ok := cells[column.ID]
			if !ok {
				values = append(values, nil)
				continue
			}
			values = append(values, entry.Value)
		}
		if err := writeRow(file, sheetName, rowOffset+2, values, 0); err != nil {
			return err
		}
	}

	if err := file.SetColWidth(sheetName, "A", "A", 24); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	topLeft, err := excelize.CoordinatesToCellName(firstValueColumn, 2)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := file.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		XSplit:      firstValueColumn - 1,
		YSplit:      1,
		TopLeftCell: topLeft,
		ActivePane:  "bottomRight",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func writeColumnsSheet(file *excelize.File, columns []flowsheet.TimeColumn, headerStyle int) error {
	if _, err := file.NewSheet(columnsSheetName); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeRow(file, columnsSheetName, 1, toValues(columnsHeader), headerStyle); err != nil {
		return err
	}
	for offset, column := range columns {
		current := "No"
		if column.IsCurrentTime {
			current = "Yes"
		}
		values := []any{
			column.ID,
			column.Timestamp.UTC().Format(time.RFC3339),
			column.DisplayTime,
			current,
		}
		if err := writeRow(file, columnsSheetName, offset+2, values, 0); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(file *excelize.File, sheetName string, rowNumber int, values []any, style int) error {
	for offset, value := range values {
		if value == nil || value == "" {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(offset+1, rowNumber)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := file.SetCellValue(sheetName, cell, value); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
		if style != 0 {
			if err := file.SetCellStyle(sheetName, cell, cell, style); err != nil {
				return fmt.Errorf("failed to set cell style %s: %w", cell, err)
			}
		}
	}
	return nil
}

func columnLabel(column flowsheet.TimeColumn) string {
	if column.IsCurrentTime {
		return currentLabelPrefix + column.DisplayTime
	}
	return column.DisplayTime
}

func rowLabel(row flowsheet.Row) string {
	if row.Label != "" {
		return row.Label
	}
	return row.Key()
}

func toValues(labels []string) []any {
	values := make([]any, len(labels))
	for index, label := range labels {
		values[index] = label
	}
	return values
}
