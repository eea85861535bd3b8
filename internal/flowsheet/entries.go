package flowsheet

const entryIDSeparator = "::"

// EntryID returns the compound identity of the entry at columnID × rowID.
func EntryID(columnID, rowID string) string {
	return columnID + entryIDSeparator + rowID
}

// DeriveEntries emits one saved entry per filled cell of the records for the given rows.
func DeriveEntries(records []Record, rows []Row) []Entry {
	entries := make([]Entry, 0)
	seen := make(map[string]struct{})
	for _, record := range records {
		for _, row := range rows {
			rowKey := row.Key()
			value, ok := record.Values[rowKey]
			if !ok || isBlank(value) {
				continue
			}
			entryID := EntryID(record.ID, rowKey)
			if _, duplicate := seen[entryID]; duplicate {
				continue
			}
			seen[entryID] = struct{}{}
			entries = append(entries, Entry{
				ID:       entryID,
				ColumnID: record.ID,
				RowID:    rowKey,
				Value:    value,
				Status:   EntryStatusSaved,
			})
		}
	}
	return entries
}

// UpsertEntry overwrites the entry sharing entry's identity or appends it. The input is not modified.
func UpsertEntry(entries []Entry, entry Entry) ([]Entry, bool) {
	if entry.ID == "" {
		entry.ID = EntryID(entry.ColumnID, entry.RowID)
	}
	updated := make([]Entry, len(entries), len(entries)+1)
	copy(updated, entries)
	for index := range updated {
		if updated[index].ID == entry.ID {
			updated[index] = entry
			return updated, false
		}
	}
	return append(updated, entry), true
}

// IndexEntries keys entries by row then column.
func IndexEntries(entries []Entry) map[string]map[string]Entry {
	index := make(map[string]map[string]Entry)
	for _, entry := range entries {
		byColumn, ok := index[entry.RowID]
		if !ok {
			byColumn = make(map[string]Entry)
			index[entry.RowID] = byColumn
		}
		byColumn[entry.ColumnID] = entry
	}
	return index
}

// DeriveRecords folds persisted columns and their entries back into the persisted record shape.
// The current column and entries without a persisted column are skipped.
func DeriveRecords(columns []TimeColumn, entries []Entry, flowsheetID string) []Record {
	records := make([]Record, 0, len(columns))
	positions := make(map[string]int, len(columns))
	for _, column := range columns {
		if column.IsCurrentTime {
			continue
		}
		positions[column.ID] = len(records)
		records = append(records, Record{
			ID:        column.ID,
			Date:      formatRecordDate(column.Timestamp),
			Flowsheet: flowsheetID,
			Values:    map[string]any{},
		})
	}
	for _, entry := range entries {
		position, ok := positions[entry.ColumnID]
		if !ok {
			continue
		}
		records[position].Values[entry.RowID] = entry.Value
	}
	return records
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	text, ok := value.(string)
	return ok && text == ""
}
