package chart

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/store"
)

// Top-level slice names of the mock database.
const (
	SlicePatients    = "patients"
	SliceSchedules   = "schedules"
	SliceDepartments = "departments"
	SliceLocations   = "locations"
	SliceProviders   = "providers"
	SliceLists       = "lists"
	SliceFlowsheets  = "flowsheets"

	segmentEncounters = "encounters"
	segmentFlowsheets = "flowsheets"
	segmentHistory    = "history"
)

var (
	// ErrUnknownSlice indicates that a slice name is not part of the mock database.
	ErrUnknownSlice = errors.New("chart: unknown slice")
	// ErrUnknownPatient indicates that no chart exists for a patient id.
	ErrUnknownPatient = errors.New("chart: unknown patient")
	// ErrUnknownEncounter indicates that a patient has no encounter with the requested id.
	ErrUnknownEncounter = errors.New("chart: unknown encounter")
	// ErrInvalidCategory indicates an empty history category.
	ErrInvalidCategory = errors.New("chart: invalid history category")
	// ErrInvalidSlicePayload indicates that a replacement value does not match the slice schema.
	ErrInvalidSlicePayload = errors.New("chart: invalid slice payload")
)

// SliceNames lists the top-level slices in display order.
func SliceNames() []string {
	return []string{
		SlicePatients,
		SliceSchedules,
		SliceDepartments,
		SliceLocations,
		SliceProviders,
		SliceLists,
		SliceFlowsheets,
	}
}

// Database exposes the mock clinical database held by a store as named slices.
type Database struct {
	store *store.Store
}

// NewDatabase binds the chart schema to s.
func NewDatabase(s *store.Store) *Database {
	return &Database{store: s}
}

// Store returns the backing store.
func (db *Database) Store() *store.Store {
	return db.store
}

func (db *Database) Patients() store.Slice[map[string]Patient] {
	return store.NewSlice[map[string]Patient](db.store, store.MustPath(SlicePatients))
}

func (db *Database) Schedules() store.Slice[[]Schedule] {
	return store.NewSlice[[]Schedule](db.store, store.MustPath(SliceSchedules))
}

func (db *Database) Departments() store.Slice[[]Department] {
	return store.NewSlice[[]Department](db.store, store.MustPath(SliceDepartments))
}

func (db *Database) Locations() store.Slice[[]Location] {
	return store.NewSlice[[]Location](db.store, store.MustPath(SliceLocations))
}

func (db *Database) Providers() store.Slice[[]Provider] {
	return store.NewSlice[[]Provider](db.store, store.MustPath(SliceProviders))
}

func (db *Database) Lists() store.Slice[[]PatientList] {
	return store.NewSlice[[]PatientList](db.store, store.MustPath(SliceLists))
}

func (db *Database) Flowsheets() store.Slice[[]flowsheet.Template] {
	return store.NewSlice[[]flowsheet.Template](db.store, store.MustPath(SliceFlowsheets))
}

// RawSlice returns the named top-level slice in its JSON shape.
func (db *Database) RawSlice(name string) (store.Slice[json.RawMessage], error) {
	if !isSliceName(name) {
		return store.Slice[json.RawMessage]{}, fmt.Errorf("%w: %s", ErrUnknownSlice, name)
	}
	return store.NewSlice[json.RawMessage](db.store, store.MustPath(name)), nil
}

// ReplaceSlice validates payload against the slice schema and stores it unchanged.
func (db *Database) ReplaceSlice(name string, payload json.RawMessage) error {
	target, err := schemaFor(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSlicePayload, name, err)
	}
	raw, err := db.RawSlice(name)
	if err != nil {
		return err
	}
	return raw.Set(payload)
}

// Patient returns the slice of one patient chart.
func (db *Database) Patient(patientID string) (store.Slice[Patient], error) {
	path, err := store.NewPath(SlicePatients, patientID)
	if err != nil {
		return store.Slice[Patient]{}, fmt.Errorf("%w: %v", ErrUnknownPatient, err)
	}
	found, err := db.exists(path)
	if err != nil {
		return store.Slice[Patient]{}, err
	}
	if !found {
		return store.Slice[Patient]{}, fmt.Errorf("%w: %s", ErrUnknownPatient, patientID)
	}
	return store.NewSlice[Patient](db.store, path), nil
}

// Encounter returns the scope of one encounter of one patient.
func (db *Database) Encounter(patientID, encounterID string) (EncounterScope, error) {
	if _, err := db.Patient(patientID); err != nil {
		return EncounterScope{}, err
	}
	path, err := store.NewPath(SlicePatients, patientID, segmentEncounters, encounterID)
	if err != nil {
		return EncounterScope{}, fmt.Errorf("%w: %v", ErrUnknownEncounter, err)
	}
	found, err := db.exists(path)
	if err != nil {
		if errors.Is(err, store.ErrPathNotFound) {
			return EncounterScope{}, fmt.Errorf("%w: %s", ErrUnknownEncounter, encounterID)
		}
		return EncounterScope{}, err
	}
	if !found {
		return EncounterScope{}, fmt.Errorf("%w: %s", ErrUnknownEncounter, encounterID)
	}
	return EncounterScope{store: db.store, path: path, patientID: patientID, encounterID: encounterID}, nil
}

// EncounterFlowsheets implements flowsheet.EncounterStore.
func (db *Database) EncounterFlowsheets(patientID, encounterID string) (store.Slice[[]flowsheet.Record], error) {
	scope, err := db.Encounter(patientID, encounterID)
	if err != nil {
		return store.Slice[[]flowsheet.Record]{}, err
	}
	return scope.Flowsheets(), nil
}

// FlowsheetTemplates implements flowsheet.EncounterStore.
func (db *Database) FlowsheetTemplates() store.Slice[[]flowsheet.Template] {
	return db.Flowsheets()
}

func (db *Database) exists(path store.Path) (bool, error) {
	var ignored json.RawMessage
	return db.store.Get(path, &ignored)
}

// EncounterScope narrows the database to one encounter so writes notify only its subscribers.
type EncounterScope struct {
	store       *store.Store
	path        store.Path
	patientID   string
	encounterID string
}

// Path returns the encounter's address.
func (scope EncounterScope) Path() store.Path {
	return scope.path
}

// PatientID returns the owning patient id.
func (scope EncounterScope) PatientID() string {
	return scope.patientID
}

// EncounterID returns the encounter id.
func (scope EncounterScope) EncounterID() string {
	return scope.encounterID
}

// Encounter returns the whole encounter slice.
func (scope EncounterScope) Encounter() store.Slice[Encounter] {
	return store.NewSlice[Encounter](scope.store, scope.path)
}

// Flowsheets returns the encounter's persisted observation records.
func (scope EncounterScope) Flowsheets() store.Slice[[]flowsheet.Record] {
	return store.NewSlice[[]flowsheet.Record](scope.store, scope.path.Child(segmentFlowsheets))
}

// History returns one history category (medical, surgical, family, social...).
// The history container is created on first access.
func (scope EncounterScope) History(category string) (store.Slice[[]map[string]any], error) {
	trimmed := strings.TrimSpace(category)
	if trimmed == "" || strings.Contains(trimmed, ".") {
		return store.Slice[[]map[string]any]{}, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	historyPath := scope.path.Child(segmentHistory)
	var existing json.RawMessage
	found, err := scope.store.Get(historyPath, &existing)
	if err != nil {
		return store.Slice[[]map[string]any]{}, err
	}
	if !found {
		err = scope.store.Update(historyPath, func(current any, exists bool) (any, error) {
			if exists {
				return current, nil
			}
			return map[string]any{}, nil
		})
		if err != nil {
			return store.Slice[[]map[string]any]{}, err
		}
	}
	return store.NewSlice[[]map[string]any](scope.store, historyPath.Child(trimmed)), nil
}

func isSliceName(name string) bool {
	for _, candidate := range SliceNames() {
		if candidate == name {
			return true
		}
	}
	return false
}

func schemaFor(name string) (any, error) {
	switch name {
	case SlicePatients:
		return &map[string]Patient{}, nil
	case SliceSchedules:
		return &[]Schedule{}, nil
	case SliceDepartments:
		return &[]Department{}, nil
	case SliceLocations:
		return &[]Location{}, nil
	case SliceProviders:
		return &[]Provider{}, nil
	case SliceLists:
		return &[]PatientList{}, nil
	case SliceFlowsheets:
		return &[]flowsheet.Template{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlice, name)
	}
}
