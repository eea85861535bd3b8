package flowsheet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EntryStatus enumerates the lifecycle states of a flowsheet entry.
type EntryStatus string

const (
	// EntryStatusDraft marks a staged local edit that has not been committed.
	EntryStatusDraft EntryStatus = "draft"
	// EntryStatusFinal marks an entry produced by a commit.
	EntryStatusFinal EntryStatus = "final"
	// EntryStatusSaved marks an entry derived from a persisted record.
	EntryStatusSaved EntryStatus = "saved"
)

const (
	maxIdentifierLength = 190
	recordDateLayout    = "2006-01-02T15:04:05.000Z07:00"
	displayTimeLayout   = "1504"

	recordFieldID        = "id"
	recordFieldDate      = "date"
	recordFieldFlowsheet = "flowsheet"
)

var (
	// ErrInvalidKey indicates that a sheet key has an empty or oversized component.
	ErrInvalidKey = errors.New("flowsheet: invalid sheet key")
	// ErrInvalidValue indicates that a cell value is neither a string nor a number.
	ErrInvalidValue = errors.New("flowsheet: invalid cell value")
	// ErrUnknownColumn indicates that a column id is neither persisted nor the current column.
	ErrUnknownColumn = errors.New("flowsheet: unknown column")
	// ErrUnknownRow indicates that a row id is not defined by the sheet template.
	ErrUnknownRow = errors.New("flowsheet: unknown row")
	// ErrUnknownTemplate indicates that no flowsheet template carries the requested id.
	ErrUnknownTemplate = errors.New("flowsheet: unknown template")
	// ErrInvalidTimestamp indicates that a retime request carried a zero timestamp.
	ErrInvalidTimestamp = errors.New("flowsheet: invalid timestamp")
	// ErrBlankValue reports an empty value written to the current column.
	ErrBlankValue = errors.New("flowsheet: blank value")
	// ErrReservedRow reports a row key that collides with record metadata fields.
	ErrReservedRow = errors.New("flowsheet: reserved row key")
)

// Row defines one measurable quantity of a flowsheet template.
type Row struct {
	Name    string   `json:"name,omitempty"`
	ID      string   `json:"id,omitempty"`
	Label   string   `json:"label,omitempty"`
	Unit    string   `json:"unit,omitempty"`
	Group   string   `json:"group,omitempty"`
	Type    string   `json:"type,omitempty"`
	Options []string `json:"options,omitempty"`
}

// Key returns the identifier entries use for the row: name, then id, then the empty string.
func (row Row) Key() string {
	if row.Name != "" {
		return row.Name
	}
	return row.ID
}

// Selectable reports whether the row offers an enumerated option set.
func (row Row) Selectable() bool {
	return row.Type == "select" || len(row.Options) > 0
}

// Template is a named set of rows rendered as one flowsheet.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Rows []Row  `json:"rows"`
}

// IsReservedRowKey reports whether rowKey names a record metadata field.
func IsReservedRowKey(rowKey string) bool {
	switch rowKey {
	case recordFieldID, recordFieldDate, recordFieldFlowsheet:
		return true
	}
	return false
}

// HasRow reports whether rowKey resolves to a row of the template.
func (template Template) HasRow(rowKey string) bool {
	for _, row := range template.Rows {
		if row.Key() == rowKey {
			return true
		}
	}
	return false
}

// TimeColumn is one observation time slot of a flowsheet.
type TimeColumn struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	DisplayTime   string    `json:"displayTime"`
	IsCurrentTime bool      `json:"isCurrentTime"`
	Index         int       `json:"index"`
}

// Entry is the value observed for one row at one time column.
type Entry struct {
	ID       string      `json:"id"`
	ColumnID string      `json:"columnId"`
	RowID    string      `json:"rowId"`
	Value    any         `json:"value"`
	Status   EntryStatus `json:"status"`
}

// Record is the persisted shape of one time column: {id, date, flowsheet, <rowKey>: value...}.
type Record struct {
	ID        string
	Date      string
	Flowsheet string
	Values    map[string]any
}

// MarshalJSON flattens row values next to the record metadata.
func (record Record) MarshalJSON() ([]byte, error) {
	flattened := make(map[string]any, len(record.Values)+3)
	for key, value := range record.Values {
		flattened[key] = value
	}
	flattened[recordFieldID] = record.ID
	flattened[recordFieldDate] = record.Date
	if record.Flowsheet != "" {
		flattened[recordFieldFlowsheet] = record.Flowsheet
	}
	return json.Marshal(flattened)
}

// UnmarshalJSON splits metadata fields from row values.
func (record *Record) UnmarshalJSON(data []byte) error {
	var flattened map[string]any
	if err := json.Unmarshal(data, &flattened); err != nil {
		return err
	}
	decoded := Record{Values: make(map[string]any, len(flattened))}
	for key, value := range flattened {
		switch key {
		case recordFieldID:
			decoded.ID = stringField(value)
		case recordFieldDate:
			decoded.Date = stringField(value)
		case recordFieldFlowsheet:
			decoded.Flowsheet = stringField(value)
		default:
			decoded.Values[key] = value
		}
	}
	*record = decoded
	return nil
}

// Timestamp parses the record date. Unparseable dates yield the zero time.
func (record Record) Timestamp() time.Time {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(record.Date))
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// Grid is the normalized view handed to renderers.
type Grid struct {
	RowsDefinition []Row        `json:"rowsDefinition"`
	Entries        []Entry      `json:"entries"`
	TimeColumns    []TimeColumn `json:"timeColumns"`
}

// Index keys entries by row then column for constant-time cell lookup.
func (grid Grid) Index() map[string]map[string]Entry {
	return IndexEntries(grid.Entries)
}

// CurrentColumn returns the floating now column of the grid.
func (grid Grid) CurrentColumn() (TimeColumn, bool) {
	for _, column := range grid.TimeColumns {
		if column.IsCurrentTime {
			return column, true
		}
	}
	return TimeColumn{}, false
}

// CellEdit is one user edit of a grid cell.
type CellEdit struct {
	ColumnID string
	RowID    string
	Value    any
}

// EntryMutation describes the entry written by a commit.
type EntryMutation struct {
	Entry    Entry `json:"entry"`
	Created  bool  `json:"created"`
	Previous any   `json:"previous,omitempty"`
}

// ColumnMutation describes a column promoted or retimed by a commit.
type ColumnMutation struct {
	Column   TimeColumn  `json:"column"`
	Promoted bool        `json:"promoted"`
	Current  *TimeColumn `json:"current,omitempty"`
}

// CommitResult is the outcome of CommitCellEdit.
type CommitResult struct {
	Entry  EntryMutation   `json:"entry"`
	Column *ColumnMutation `json:"column,omitempty"`
}

// Key identifies one flowsheet of one encounter.
type Key struct {
	PatientID   string
	EncounterID string
	FlowsheetID string
}

// NewKey validates the components and returns a Key.
func NewKey(patientID, encounterID, flowsheetID string) (Key, error) {
	components := []struct {
		name  string
		value string
	}{
		{name: "patient", value: patientID},
		{name: "encounter", value: encounterID},
		{name: "flowsheet", value: flowsheetID},
	}
	trimmed := make([]string, 0, len(components))
	for _, component := range components {
		value := strings.TrimSpace(component.value)
		if value == "" {
			return Key{}, fmt.Errorf("%w: empty %s id", ErrInvalidKey, component.name)
		}
		if len(value) > maxIdentifierLength {
			return Key{}, fmt.Errorf("%w: %s id exceeds %d characters", ErrInvalidKey, component.name, maxIdentifierLength)
		}
		trimmed = append(trimmed, value)
	}
	return Key{PatientID: trimmed[0], EncounterID: trimmed[1], FlowsheetID: trimmed[2]}, nil
}

// String renders the key for logs and registry lookups.
func (key Key) String() string {
	return key.PatientID + "/" + key.EncounterID + "/" + key.FlowsheetID
}

// NormalizeValue accepts strings and numbers; numbers are widened to float64.
func NormalizeValue(raw any) (any, error) {
	switch value := raw.(type) {
	case string:
		return value, nil
	case float64:
		return value, nil
	case float32:
		return float64(value), nil
	case int:
		return float64(value), nil
	case int32:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidValue, value.String())
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidValue, raw)
	}
}

func formatRecordDate(timestamp time.Time) string {
	return timestamp.UTC().Format(recordDateLayout)
}

func stringField(value any) string {
	if text, ok := value.(string); ok {
		return text
	}
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
