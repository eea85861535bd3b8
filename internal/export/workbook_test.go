package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleGrid() flowsheet.Grid {
	persisted := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	now := time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC)
	return flowsheet.Grid{
		RowsDefinition: []flowsheet.Row{
			{Name: "bp", Label: "Blood Pressure", Unit: "mmHg"},
			{Name: "pulse", Label: "Pulse", Unit: "bpm"},
			{ID: "temp", Unit: "C"},
		},
		Entries: []flowsheet.Entry{
			{ID: "R-1::bp", ColumnID: "R-1", RowID: "bp", Value: "142/88", Status: flowsheet.EntryStatusSaved},
			{ID: "R-1::pulse", ColumnID: "R-1", RowID: "pulse", Value: float64(96), Status: flowsheet.EntryStatusSaved},
			{ID: "NOW::temp", ColumnID: "NOW", RowID: "temp", Value: "37.1", Status: flowsheet.EntryStatusDraft},
		},
		TimeColumns: []flowsheet.TimeColumn{
			{ID: "R-1", Timestamp: persisted, DisplayTime: "0900", Index: 0},
			{ID: "NOW", Timestamp: now, DisplayTime: "1430", IsCurrentTime: true, Index: 1},
		},
	}
}

func TestGridWorkbookLaysOutRowsByColumns(t *testing.T) {
	payload, err := GridWorkbook("Vital Signs", sampleGrid())
	require.NoError(t, err)

	file, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer file.Close()

	assert.Equal(t, []string{"Vital Signs", "Columns"}, file.GetSheetList())

	expected := map[string]string{
		"A1": "Measure",
		"B1": "Unit",
		"C1": "0900",
		"D1": "Now 1430",
		"A2": "Blood Pressure",
		"B2": "mmHg",
		"C2": "142/88",
		"C3": "96",
		"A4": "temp",
		"D4": "37.1",
		"D2": "",
	}
	for cell, want := range expected {
		got, err := file.GetCellValue("Vital Signs", cell)
		require.NoError(t, err)
		assert.Equal(t, want, got, "cell %s", cell)
	}

	current, err := file.GetCellValue("Columns", "D3")
	require.NoError(t, err)
	assert.Equal(t, "Yes", current)
	timestamp, err := file.GetCellValue("Columns", "B2")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T09:00:00Z", timestamp)
}

func TestSheetNameSanitizesTitles(t *testing.T) {
	assert.Equal(t, "Intake Output", SheetName("Intake/Output"))
	assert.Equal(t, "Flowsheet", SheetName("  "))
	assert.Equal(t, "Flowsheet", SheetName("columns"))
	assert.Len(t, []rune(SheetName(strings.Repeat("x", 40))), 31)
}
