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

// DefaultTickInterval is how often an open sheet refreshes its current column.
const DefaultTickInterval = 10 * time.Second

var (
	errMissingStore      = errors.New("encounter store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "flowsheet.service.new"
	opOpenSheet        = "flowsheet.open_sheet"
	opViewSheet        = "flowsheet.view_sheet"
	opCommitCellEdit   = "flowsheet.commit_cell_edit"
	opStageCellEdit    = "flowsheet.stage_cell_edit"
	opRetimeColumn     = "flowsheet.retime_column"
	opRecordEdit       = "flowsheet.record_edit"
	opListEdits        = "flowsheet.list_edits"
	opNewAuditLog      = "flowsheet.audit_log.new"
	fieldPatientID     = "patient_id"
	fieldEncounterID   = "encounter_id"
	fieldFlowsheetID   = "flowsheet_id"
	fieldColumnID      = "column_id"
	fieldRowID         = "row_id"
	reasonInvalidValue = "invalid_value"
	reasonUnknownRow   = "unknown_row"
	reasonReservedRow  = "reserved_row"
	reasonBlankValue   = "blank_value"
	reasonUnknownCol   = "unknown_column"
	reasonStoreFailed  = "store_update_failed"
	reasonQueryFailed  = "query_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// EncounterStore resolves the store slices a sheet reads and writes.
type EncounterStore interface {
	EncounterFlowsheets(patientID, encounterID string) (store.Slice[[]Record], error)
	FlowsheetTemplates() store.Slice[[]Template]
}

// EditRecorder receives every committed edit and retime.
type EditRecorder interface {
	RecordEdit(ctx context.Context, event EditEvent) error
}

type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Store        EncounterStore
	Clock        func() time.Time
	IDProvider   IDProvider
	Logger       *zap.Logger
	Recorder     EditRecorder
	TickInterval time.Duration
	Location     *time.Location
}

// Service owns the open sheets, one per patient/encounter/flowsheet key.
type Service struct {
	store        EncounterStore
	factory      columnFactory
	logger       *zap.Logger
	recorder     EditRecorder
	tickInterval time.Duration

	mu     sync.Mutex
	sheets map[Key]*Sheet
	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store: cfg.Store,
		factory: columnFactory{
			ids:      cfg.IDProvider,
			clock:    clock,
			location: location,
		},
		logger:       logger,
		recorder:     cfg.Recorder,
		tickInterval: tickInterval,
		sheets:       make(map[Key]*Sheet),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Open mounts the sheet for key, or returns the sheet already mounted for it.
func (s *Service) Open(ctx context.Context, key Key) (*Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sheet, ok := s.sheets[key]; ok {
		return sheet, nil
	}
	if err := s.ctx.Err(); err != nil {
		return nil, newServiceError(opOpenSheet, "service_closed", err)
	}

	template, err := s.lookupTemplate(key.FlowsheetID)
	if err != nil {
		s.logError(opOpenSheet, "template_lookup_failed", err, keyFields(key)...)
		return nil, newServiceError(opOpenSheet, "template_lookup_failed", err)
	}
	s.warnOnAmbiguousRows(template)

	records, err := s.store.EncounterFlowsheets(key.PatientID, key.EncounterID)
	if err != nil {
		s.logError(opOpenSheet, "encounter_lookup_failed", err, keyFields(key)...)
		return nil, newServiceError(opOpenSheet, "encounter_lookup_failed", err)
	}
	persisted, err := records.Get()
	if err != nil {
		s.logError(opOpenSheet, "records_read_failed", err, keyFields(key)...)
		return nil, newServiceError(opOpenSheet, "records_read_failed", err)
	}
	now, err := s.factory.spawn(persistedColumns(recordsFor(persisted, key.FlowsheetID), s.factory.location))
	if err != nil {
		s.logError(opOpenSheet, "id_generation_failed", err, keyFields(key)...)
		return nil, newServiceError(opOpenSheet, "id_generation_failed", err)
	}

	sheetCtx, stop := context.WithCancel(s.ctx)
	sheet := &Sheet{
		key:      key,
		template: template,
		records:  records,
		factory:  s.factory,
		logger:   s.logger,
		recorder: s.recorder,
		now:      now,
		stop:     stop,
		done:     make(chan struct{}),
	}
	s.sheets[key] = sheet
	go sheet.runClock(sheetCtx, s.tickInterval)

	s.logger.Debug("flowsheet opened", append(keyFields(key), zap.String("now_column_id", now.ID))...)
	return sheet, nil
}

// Sheet returns the mounted sheet for key.
func (s *Service) Sheet(key Key) (*Sheet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.sheets[key]
	return sheet, ok
}

// Close unmounts the sheet for key, stopping its clock. It reports whether a sheet was mounted.
func (s *Service) Close(key Key) bool {
	s.mu.Lock()
	sheet, ok := s.sheets[key]
	if ok {
		delete(s.sheets, key)
	}
	s.mu.Unlock()
	if ok {
		sheet.Close()
		s.logger.Debug("flowsheet closed", keyFields(key)...)
	}
	return ok
}

// OpenSheets returns the keys of every mounted sheet.
func (s *Service) OpenSheets() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.sheets))
	for key := range s.sheets {
		keys = append(keys, key)
	}
	return keys
}

// Shutdown closes every sheet and refuses further opens.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sheets := make([]*Sheet, 0, len(s.sheets))
	for key, sheet := range s.sheets {
		sheets = append(sheets, sheet)
		delete(s.sheets, key)
	}
	s.cancel()
	s.mu.Unlock()
	for _, sheet := range sheets {
		sheet.Close()
	}
}

func (s *Service) lookupTemplate(flowsheetID string) (Template, error) {
	templates, err := s.store.FlowsheetTemplates().Get()
	if err != nil {
		return Template{}, err
	}
	for _, template := range templates {
		if template.ID == flowsheetID {
			return template, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, flowsheetID)
}

// warnOnAmbiguousRows logs rows that resolve to an empty or repeated key; such rows share cells.
func (s *Service) warnOnAmbiguousRows(template Template) {
	seen := make(map[string]int, len(template.Rows))
	for index, row := range template.Rows {
		key := row.Key()
		if IsReservedRowKey(key) {
			s.logger.Warn("flowsheet row key collides with record metadata",
				zap.String(fieldFlowsheetID, template.ID),
				zap.String(fieldRowID, key),
				zap.Int("row_index", index))
		}
		if key == "" {
			s.logger.Warn("flowsheet row has no key",
				zap.String(fieldFlowsheetID, template.ID),
				zap.Int("row_index", index),
				zap.String("label", row.Label))
		}
		if first, ok := seen[key]; ok {
			s.logger.Warn("flowsheet rows share a key",
				zap.String(fieldFlowsheetID, template.ID),
				zap.String(fieldRowID, key),
				zap.Int("first_index", first),
				zap.Int("row_index", index))
			continue
		}
		seen[key] = index
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logError(s.logger, operation, reason, err, fields...)
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("flowsheet service error", attrs...)
}

func keyFields(key Key) []zap.Field {
	return []zap.Field{
		zap.String(fieldPatientID, key.PatientID),
		zap.String(fieldEncounterID, key.EncounterID),
		zap.String(fieldFlowsheetID, key.FlowsheetID),
	}
}
