package flowsheet

import (
	"sort"
	"time"
)

// DeriveTimeColumns maps persisted records to columns sorted by timestamp and appends now as the
// single current column.
func DeriveTimeColumns(records []Record, now TimeColumn, location *time.Location) []TimeColumn {
	columns := persistedColumns(records, location)
	current := now
	current.IsCurrentTime = true
	columns = append(columns, current)
	for index := range columns {
		columns[index].Index = index
	}
	return columns
}

func persistedColumns(records []Record, location *time.Location) []TimeColumn {
	columns := make([]TimeColumn, 0, len(records)+1)
	for _, record := range records {
		columns = append(columns, newColumn(record.ID, record.Timestamp(), location, false))
	}
	sort.SliceStable(columns, func(left, right int) bool {
		return columns[left].Timestamp.Before(columns[right].Timestamp)
	})
	for index := range columns {
		columns[index].Index = index
	}
	return columns
}

func newColumn(id string, timestamp time.Time, location *time.Location, current bool) TimeColumn {
	return TimeColumn{
		ID:            id,
		Timestamp:     timestamp,
		DisplayTime:   displayTime(timestamp, location),
		IsCurrentTime: current,
	}
}

func displayTime(timestamp time.Time, location *time.Location) string {
	if location == nil {
		location = time.UTC
	}
	return timestamp.In(location).Format(displayTimeLayout)
}

// uniqueTimestamp advances candidate by whole seconds until no column other than skipID shares its
// second.
func uniqueTimestamp(candidate time.Time, columns []TimeColumn, skipID string) time.Time {
	taken := make(map[int64]struct{}, len(columns))
	for _, column := range columns {
		if column.ID == skipID {
			continue
		}
		taken[column.Timestamp.Unix()] = struct{}{}
	}
	for {
		if _, collides := taken[candidate.Unix()]; !collides {
			return candidate
		}
		candidate = candidate.Add(time.Second)
	}
}

// currentTimestamp returns candidate, or the second after the latest other column when candidate
// does not fall in a later second. The current column therefore always sorts last.
func currentTimestamp(candidate time.Time, columns []TimeColumn, skipID string) time.Time {
	for _, column := range columns {
		if column.ID == skipID {
			continue
		}
		if candidate.Unix() <= column.Timestamp.Unix() {
			candidate = column.Timestamp.Truncate(time.Second).Add(time.Second)
		}
	}
	return candidate
}
