package flowsheet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/store"
	"go.uber.org/zap"
)

// Sheet is one mounted flowsheet: the persisted records of an encounter filtered to a template,
// the floating current column, and staged drafts.
type Sheet struct {
	key      Key
	template Template
	records  store.Slice[[]Record]
	factory  columnFactory
	logger   *zap.Logger
	recorder EditRecorder

	mu     sync.Mutex
	now    TimeColumn
	drafts []Entry
	closed bool

	stop context.CancelFunc
	done chan struct{}
}

// Key returns the identity of the sheet.
func (s *Sheet) Key() Key {
	return s.key
}

// Template returns the row definitions of the sheet.
func (s *Sheet) Template() Template {
	return s.template
}

// Records returns the store slice holding the encounter's persisted records.
func (s *Sheet) Records() store.Slice[[]Record] {
	return s.records
}

// Now returns the current column.
func (s *Sheet) Now() TimeColumn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// View returns the grid: template rows, saved entries overlaid with drafts, and columns sorted by
// timestamp with the current column last.
func (s *Sheet) View() (Grid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted, err := s.records.Get()
	if err != nil {
		logError(s.logger, opViewSheet, "records_read_failed", err, keyFields(s.key)...)
		return Grid{}, newServiceError(opViewSheet, "records_read_failed", err)
	}
	own := recordsFor(persisted, s.key.FlowsheetID)
	s.now = s.factory.keepLast(s.now, persistedColumns(own, s.factory.location))

	entries := DeriveEntries(own, s.template.Rows)
	for _, draft := range s.drafts {
		entries, _ = UpsertEntry(entries, draft)
	}
	return Grid{
		RowsDefinition: s.template.Rows,
		Entries:        entries,
		TimeColumns:    DeriveTimeColumns(own, s.now, s.factory.location),
	}, nil
}

// CommitCellEdit writes edit to the encounter record, promoting the current column when it is the
// edited one.
func (s *Sheet) CommitCellEdit(ctx context.Context, edit CellEdit) (CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.commitLocked(ctx, edit)
	if err != nil {
		return CommitResult{}, err
	}
	s.dropDraft(result.Entry.Entry.ID)
	return result, nil
}

// StageCellEdit records edit as a draft overlaid on the view until CommitDrafts or DiscardDrafts.
func (s *Sheet) StageCellEdit(edit CellEdit) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	validated, err := s.validateEdit(opStageCellEdit, edit)
	if err != nil {
		return Entry{}, err
	}
	persisted, err := s.records.Get()
	if err != nil {
		logError(s.logger, opStageCellEdit, "records_read_failed", err, keyFields(s.key)...)
		return Entry{}, newServiceError(opStageCellEdit, "records_read_failed", err)
	}
	if validated.ColumnID != s.now.ID && findRecord(persisted, s.key.FlowsheetID, validated.ColumnID) < 0 {
		return Entry{}, newServiceError(opStageCellEdit, reasonUnknownCol, ErrUnknownColumn)
	}
	if validated.ColumnID == s.now.ID && isBlank(validated.Value) {
		return Entry{}, newServiceError(opStageCellEdit, reasonBlankValue, ErrBlankValue)
	}

	draft := Entry{
		ID:       EntryID(validated.ColumnID, validated.RowID),
		ColumnID: validated.ColumnID,
		RowID:    validated.RowID,
		Value:    validated.Value,
		Status:   EntryStatusDraft,
	}
	s.drafts, _ = UpsertEntry(s.drafts, draft)
	return draft, nil
}

// CommitDrafts commits staged drafts in staging order. Drafts that were not committed stay staged.
func (s *Sheet) CommitDrafts(ctx context.Context) ([]CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]CommitResult, 0, len(s.drafts))
	for len(s.drafts) > 0 {
		draft := s.drafts[0]
		result, err := s.commitLocked(ctx, CellEdit{ColumnID: draft.ColumnID, RowID: draft.RowID, Value: draft.Value})
		if err != nil {
			return results, err
		}
		s.drafts = s.drafts[1:]
		results = append(results, result)
	}
	s.drafts = nil
	return results, nil
}

// DiscardDrafts drops staged drafts and reports how many were dropped.
func (s *Sheet) DiscardDrafts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := len(s.drafts)
	s.drafts = nil
	return dropped
}

// Drafts returns the staged drafts.
func (s *Sheet) Drafts() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.drafts...)
}

// RetimeColumn moves a column to timestamp. Retiming the current column promotes it.
func (s *Sheet) RetimeColumn(ctx context.Context, columnID string, timestamp time.Time) (ColumnMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outcome transitionOutcome
	err := s.records.Update(func(previous []Record) ([]Record, error) {
		next, err := applyRetime(previous, s.now, s.key.FlowsheetID, columnID, timestamp, s.factory)
		if err != nil {
			return nil, err
		}
		outcome = next
		return next.records, nil
	})
	if err != nil {
		return ColumnMutation{}, s.transitionError(opRetimeColumn, err, zap.String(fieldColumnID, columnID))
	}
	s.now = outcome.now

	s.record(ctx, EditEvent{
		Key:             s.key,
		Kind:            EditKindRetime,
		ColumnID:        columnID,
		ColumnTimestamp: outcome.column.Column.Timestamp,
		Promoted:        outcome.column.Promoted,
	})
	return *outcome.column, nil
}

// TickNowColumn refreshes the current column to the wall clock and notifies subscribers.
func (s *Sheet) TickNowColumn() TimeColumn {
	s.mu.Lock()
	persisted, err := s.records.Get()
	if err != nil {
		s.mu.Unlock()
		logError(s.logger, opViewSheet, "records_read_failed", err, keyFields(s.key)...)
		return s.Now()
	}
	s.now = s.factory.refresh(s.now, persistedColumns(recordsFor(persisted, s.key.FlowsheetID), s.factory.location))
	now := s.now
	s.mu.Unlock()

	s.records.Notify(store.ChangeKindTick)
	return now
}

// Close stops the sheet clock and waits for it to exit.
func (s *Sheet) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if s.stop != nil {
		s.stop()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Sheet) runClock(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TickNowColumn()
		}
	}
}

func (s *Sheet) commitLocked(ctx context.Context, edit CellEdit) (CommitResult, error) {
	validated, err := s.validateEdit(opCommitCellEdit, edit)
	if err != nil {
		return CommitResult{}, err
	}

	var outcome transitionOutcome
	err = s.records.Update(func(previous []Record) ([]Record, error) {
		next, err := applyCellEdit(previous, s.now, s.key.FlowsheetID, validated, s.factory)
		if err != nil {
			return nil, err
		}
		outcome = next
		return next.records, nil
	})
	if err != nil {
		return CommitResult{}, s.transitionError(opCommitCellEdit, err,
			zap.String(fieldColumnID, validated.ColumnID),
			zap.String(fieldRowID, validated.RowID))
	}
	s.now = outcome.now

	result := CommitResult{Entry: *outcome.entry, Column: outcome.column}
	event := EditEvent{
		Key:      s.key,
		Kind:     EditKindCell,
		ColumnID: validated.ColumnID,
		RowID:    validated.RowID,
		Value:    validated.Value,
	}
	if outcome.column != nil {
		event.ColumnTimestamp = outcome.column.Column.Timestamp
		event.Promoted = outcome.column.Promoted
	}
	s.record(ctx, event)
	return result, nil
}

func (s *Sheet) validateEdit(operation string, edit CellEdit) (CellEdit, error) {
	value, err := NormalizeValue(edit.Value)
	if err != nil {
		return CellEdit{}, newServiceError(operation, reasonInvalidValue, err)
	}
	if IsReservedRowKey(edit.RowID) {
		return CellEdit{}, newServiceError(operation, reasonReservedRow, fmt.Errorf("%w: %s", ErrReservedRow, edit.RowID))
	}
	if !s.template.HasRow(edit.RowID) {
		return CellEdit{}, newServiceError(operation, reasonUnknownRow, ErrUnknownRow)
	}
	return CellEdit{ColumnID: edit.ColumnID, RowID: edit.RowID, Value: value}, nil
}

func (s *Sheet) transitionError(operation string, err error, fields ...zap.Field) error {
	reason := reasonStoreFailed
	switch {
	case errors.Is(err, ErrUnknownColumn):
		reason = reasonUnknownCol
	case errors.Is(err, ErrInvalidTimestamp):
		reason = "invalid_timestamp"
	case errors.Is(err, ErrBlankValue):
		reason = reasonBlankValue
	default:
		logError(s.logger, operation, reason, err, append(keyFields(s.key), fields...)...)
	}
	return newServiceError(operation, reason, err)
}

func (s *Sheet) dropDraft(entryID string) {
	for index, draft := range s.drafts {
		if draft.ID == entryID {
			s.drafts = append(s.drafts[:index:index], s.drafts[index+1:]...)
			return
		}
	}
}

func (s *Sheet) record(ctx context.Context, event EditEvent) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordEdit(ctx, event); err != nil {
		s.logger.Warn("flowsheet edit audit failed",
			append(keyFields(s.key), zap.String(fieldColumnID, event.ColumnID), zap.Error(err))...)
	}
}
