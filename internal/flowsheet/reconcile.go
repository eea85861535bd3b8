package flowsheet

import (
	"fmt"
	"time"
)

// columnFactory spawns current columns with fresh ids.
type columnFactory struct {
	ids      IDProvider
	clock    func() time.Time
	location *time.Location
}

func (factory columnFactory) spawn(existing []TimeColumn) (TimeColumn, error) {
	return factory.spawnAt(factory.clock(), existing)
}

func (factory columnFactory) spawnAt(at time.Time, existing []TimeColumn) (TimeColumn, error) {
	id, err := factory.ids.NewID()
	if err != nil {
		return TimeColumn{}, err
	}
	timestamp := currentTimestamp(at, existing, id)
	return newColumn(id, timestamp, factory.location, true), nil
}

func (factory columnFactory) refresh(now TimeColumn, existing []TimeColumn) TimeColumn {
	timestamp := currentTimestamp(factory.clock(), existing, now.ID)
	return newColumn(now.ID, timestamp, factory.location, true)
}

// keepLast moves now past any column that reached or overtook its second.
func (factory columnFactory) keepLast(now TimeColumn, existing []TimeColumn) TimeColumn {
	timestamp := currentTimestamp(now.Timestamp, existing, now.ID)
	if timestamp.Equal(now.Timestamp) {
		return now
	}
	return newColumn(now.ID, timestamp, factory.location, true)
}

// transitionOutcome captures the records and current column after an edit or retime.
type transitionOutcome struct {
	records []Record
	now     TimeColumn
	entry   *EntryMutation
	column  *ColumnMutation
}

// applyCellEdit computes the state after writing edit. records holds every record of the
// encounter; only those belonging to flowsheetID take part in column resolution.
func applyCellEdit(records []Record, now TimeColumn, flowsheetID string, edit CellEdit, factory columnFactory) (transitionOutcome, error) {
	updated := cloneRecords(records)
	entry := Entry{
		ID:       EntryID(edit.ColumnID, edit.RowID),
		ColumnID: edit.ColumnID,
		RowID:    edit.RowID,
		Value:    edit.Value,
		Status:   EntryStatusFinal,
	}

	if position := findRecord(updated, flowsheetID, edit.ColumnID); position >= 0 {
		previous, existed := updated[position].Values[edit.RowID]
		if isBlank(edit.Value) {
			delete(updated[position].Values, edit.RowID)
		} else {
			updated[position].Values[edit.RowID] = edit.Value
		}
		mutation := &EntryMutation{Entry: entry, Created: !isBlank(edit.Value) && (!existed || isBlank(previous))}
		if existed {
			mutation.Previous = previous
		}
		return transitionOutcome{records: updated, now: now, entry: mutation}, nil
	}

	if edit.ColumnID != now.ID {
		return transitionOutcome{}, fmt.Errorf("%w: %s", ErrUnknownColumn, edit.ColumnID)
	}
	if isBlank(edit.Value) {
		return transitionOutcome{}, fmt.Errorf("%w: blank value for the current column", ErrBlankValue)
	}

	persisted := persistedColumns(recordsFor(updated, flowsheetID), factory.location)
	promoted := newColumn(now.ID, uniqueTimestamp(now.Timestamp, persisted, now.ID), factory.location, false)
	updated = append(updated, Record{
		ID:        promoted.ID,
		Date:      formatRecordDate(promoted.Timestamp),
		Flowsheet: flowsheetID,
		Values:    map[string]any{edit.RowID: edit.Value},
	})

	next, err := factory.spawn(persistedColumns(recordsFor(updated, flowsheetID), factory.location))
	if err != nil {
		return transitionOutcome{}, err
	}
	return transitionOutcome{
		records: updated,
		now:     next,
		entry:   &EntryMutation{Entry: entry, Created: true},
		column:  &ColumnMutation{Column: promoted, Promoted: true, Current: &next},
	}, nil
}

// applyRetime moves columnID to timestamp. Retiming the current column promotes it.
func applyRetime(records []Record, now TimeColumn, flowsheetID, columnID string, timestamp time.Time, factory columnFactory) (transitionOutcome, error) {
	if timestamp.IsZero() {
		return transitionOutcome{}, ErrInvalidTimestamp
	}
	updated := cloneRecords(records)
	columns := persistedColumns(recordsFor(updated, flowsheetID), factory.location)

	if position := findRecord(updated, flowsheetID, columnID); position >= 0 {
		others := append(columns, now)
		retimed := uniqueTimestamp(timestamp, others, columnID)
		updated[position].Date = formatRecordDate(retimed)
		column := newColumn(columnID, retimed, factory.location, false)
		next := factory.keepLast(now, persistedColumns(recordsFor(updated, flowsheetID), factory.location))
		mutation := &ColumnMutation{Column: column}
		if !next.Timestamp.Equal(now.Timestamp) {
			mutation.Current = &next
		}
		return transitionOutcome{
			records: updated,
			now:     next,
			column:  mutation,
		}, nil
	}

	if columnID != now.ID {
		return transitionOutcome{}, fmt.Errorf("%w: %s", ErrUnknownColumn, columnID)
	}

	retimed := uniqueTimestamp(timestamp, columns, now.ID)
	promoted := newColumn(now.ID, retimed, factory.location, false)
	updated = append(updated, Record{
		ID:        promoted.ID,
		Date:      formatRecordDate(promoted.Timestamp),
		Flowsheet: flowsheetID,
		Values:    map[string]any{},
	})

	next, err := factory.spawn(append(columns, promoted))
	if err != nil {
		return transitionOutcome{}, err
	}
	return transitionOutcome{
		records: updated,
		now:     next,
		column:  &ColumnMutation{Column: promoted, Promoted: true, Current: &next},
	}, nil
}

func findRecord(records []Record, flowsheetID, columnID string) int {
	for index, record := range records {
		if record.ID == columnID && belongsTo(record, flowsheetID) {
			return index
		}
	}
	return -1
}

func recordsFor(records []Record, flowsheetID string) []Record {
	filtered := make([]Record, 0, len(records))
	for _, record := range records {
		if belongsTo(record, flowsheetID) {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

// belongsTo treats records without a flowsheet tag as shared by every template.
func belongsTo(record Record, flowsheetID string) bool {
	return record.Flowsheet == "" || record.Flowsheet == flowsheetID
}

func cloneRecords(records []Record) []Record {
	cloned := make([]Record, len(records), len(records)+1)
	for index, record := range records {
		values := make(map[string]any, len(record.Values)+1)
		for key, value := range record.Values {
			values[key] = value
		}
		record.Values = values
		cloned[index] = record
	}
	return cloned
}
