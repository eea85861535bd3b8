package flowsheet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/store"
)

const (
	testPatientID   = "p-100"
	testEncounterID = "e-200"
	testFlowsheetID = "vitals"
)

var testBaseTime = time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (clock *manualClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *manualClock) Advance(delta time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(delta)
}

type sequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (ids *sequentialIDs) NewID() (string, error) {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	ids.next++
	return fmt.Sprintf("%s-%03d", ids.prefix, ids.next), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) {
	return "", fmt.Errorf("entropy exhausted")
}

// encounterTree serves encounter slices straight from a store seeded like the mock database.
type encounterTree struct {
	store *store.Store
}

func (tree encounterTree) EncounterFlowsheets(patientID, encounterID string) (store.Slice[[]Record], error) {
	encounterPath := store.MustPath("patients", patientID, "encounters", encounterID)
	var ignored map[string]any
	found, err := tree.store.Get(encounterPath, &ignored)
	if err != nil {
		return store.Slice[[]Record]{}, err
	}
	if !found {
		return store.Slice[[]Record]{}, fmt.Errorf("unknown encounter %s/%s", patientID, encounterID)
	}
	return store.NewSlice[[]Record](tree.store, encounterPath.Child("flowsheets")), nil
}

func (tree encounterTree) FlowsheetTemplates() store.Slice[[]Template] {
	return store.NewSlice[[]Template](tree.store, store.MustPath("flowsheets"))
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []EditEvent
}

func (recorder *recordingRecorder) RecordEdit(_ context.Context, event EditEvent) error {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.events = append(recorder.events, event)
	return nil
}

func (recorder *recordingRecorder) Events() []EditEvent {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return append([]EditEvent(nil), recorder.events...)
}

func vitalsTemplate() Template {
	return Template{
		ID:   testFlowsheetID,
		Name: "Vital Signs",
		Rows: []Row{
			{Name: "bp", Label: "Blood Pressure", Unit: "mmHg", Group: "Vitals"},
			{Name: "pulse", Label: "Pulse", Unit: "bpm", Group: "Vitals"},
			{ID: "temp", Label: "Temperature", Unit: "C", Group: "Vitals"},
			{Name: "pain", Label: "Pain Score", Type: "select", Options: []string{"0", "1", "2", "3"}},
		},
	}
}

func seedTree(t *testing.T, records []Record) *store.Store {
	t.Helper()
	seed := map[string]any{
		"patients": map[string]any{
			testPatientID: map[string]any{
				"id": testPatientID,
				"encounters": map[string]any{
					testEncounterID: map[string]any{"id": testEncounterID, "flowsheets": records},
					"e-201":         map[string]any{"id": "e-201", "flowsheets": []Record{}},
				},
			},
		},
		"flowsheets": []Template{vitalsTemplate(), {ID: "intake", Name: "Intake", Rows: []Row{{Name: "oral"}}}},
	}
	s, err := store.New(store.Config{Seed: seed})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return s
}

type sheetHarness struct {
	store    *store.Store
	clock    *manualClock
	service  *Service
	recorder *recordingRecorder
}

func newSheetHarness(t *testing.T, records []Record) *sheetHarness {
	t.Helper()
	backing := seedTree(t, records)
	clock := newManualClock(testBaseTime)
	recorder := &recordingRecorder{}
	service, err := NewService(ServiceConfig{
		Store:        encounterTree{store: backing},
		Clock:        clock.Now,
		IDProvider:   &sequentialIDs{prefix: "col"},
		Recorder:     recorder,
		TickInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	t.Cleanup(service.Shutdown)
	return &sheetHarness{store: backing, clock: clock, service: service, recorder: recorder}
}

func mustKey(t *testing.T, patientID, encounterID, flowsheetID string) Key {
	t.Helper()
	key, err := NewKey(patientID, encounterID, flowsheetID)
	if err != nil {
		t.Fatalf("unexpected key error: %v", err)
	}
	return key
}

func mustOpen(t *testing.T, harness *sheetHarness, key Key) *Sheet {
	t.Helper()
	sheet, err := harness.service.Open(t.Context(), key)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	return sheet
}

func mustView(t *testing.T, sheet *Sheet) Grid {
	t.Helper()
	grid, err := sheet.View()
	if err != nil {
		t.Fatalf("unexpected view error: %v", err)
	}
	return grid
}

func mustCommit(t *testing.T, sheet *Sheet, columnID, rowID string, value any) CommitResult {
	t.Helper()
	result, err := sheet.CommitCellEdit(t.Context(), CellEdit{ColumnID: columnID, RowID: rowID, Value: value})
	if err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}
	return result
}

func recordAt(id string, at time.Time, values map[string]any) Record {
	return Record{ID: id, Date: formatRecordDate(at), Flowsheet: testFlowsheetID, Values: values}
}

func countCurrent(columns []TimeColumn) int {
	current := 0
	for _, column := range columns {
		if column.IsCurrentTime {
			current++
		}
	}
	return current
}

func assertUniqueSeconds(t *testing.T, columns []TimeColumn) {
	t.Helper()
	seen := make(map[int64]string, len(columns))
	for _, column := range columns {
		second := column.Timestamp.Unix()
		if other, ok := seen[second]; ok {
			t.Fatalf("columns %s and %s share second %d", other, column.ID, second)
		}
		seen[second] = column.ID
	}
}
