package flowsheet

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EditKind enumerates audited operations.
type EditKind string

const (
	// EditKindCell is a committed cell edit.
	EditKindCell EditKind = "cell"
	// EditKindRetime is a manual column retime.
	EditKindRetime EditKind = "retime"
)

var errMissingDatabase = errors.New("database handle is required")

// EditEvent is what a sheet reports after each committed transition.
type EditEvent struct {
	Key             Key
	Kind            EditKind
	ColumnID        string
	RowID           string
	Value           any
	ColumnTimestamp time.Time
	Promoted        bool
}

// EditRecord is the append-only audit row for a flowsheet edit.
type EditRecord struct {
	ChangeID         string   `gorm:"column:change_id;primaryKey;size:190;not null"`
	PatientID        string   `gorm:"column:patient_id;size:190;not null;index:idx_flowsheet_edits_sheet,priority:1"`
	EncounterID      string   `gorm:"column:encounter_id;size:190;not null;index:idx_flowsheet_edits_sheet,priority:2"`
	FlowsheetID      string   `gorm:"column:flowsheet_id;size:190;not null;index:idx_flowsheet_edits_sheet,priority:3"`
	ColumnID         string   `gorm:"column:column_id;size:190;not null"`
	RowID            string   `gorm:"column:row_id;size:190;not null;default:''"`
	Kind             EditKind `gorm:"column:kind;size:16;not null"`
	Status           string   `gorm:"column:status;size:16;not null;default:''"`
	ValueJSON        string   `gorm:"column:value_json;type:text;not null;default:''"`
	ColumnTimestamp  string   `gorm:"column:column_ts;size:64;not null;default:''"`
	Promoted         bool     `gorm:"column:promoted;not null;default:false"`
	AppliedAtSeconds int64    `gorm:"column:applied_at_s;not null;index:idx_flowsheet_edits_sheet,priority:4"`
}

// TableName provides the explicit table binding for GORM.
func (EditRecord) TableName() string {
	return "flowsheet_edits"
}

type AuditLogConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// AuditLog persists EditEvents through GORM.
type AuditLog struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewAuditLog(cfg AuditLogConfig) (*AuditLog, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opNewAuditLog, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opNewAuditLog, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &AuditLog{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RecordEdit appends event to the audit table.
func (log *AuditLog) RecordEdit(ctx context.Context, event EditEvent) error {
	if log.db == nil {
		logError(log.logger, opRecordEdit, "missing_database", errMissingDatabase)
		return newServiceError(opRecordEdit, "missing_database", errMissingDatabase)
	}
	changeID, err := log.idProvider.NewID()
	if err != nil {
		logError(log.logger, opRecordEdit, "id_generation_failed", err, keyFields(event.Key)...)
		return newServiceError(opRecordEdit, "id_generation_failed", err)
	}

	valueJSON := ""
	if event.Value != nil {
		encoded, err := json.Marshal(event.Value)
		if err != nil {
			logError(log.logger, opRecordEdit, "value_encode_failed", err, keyFields(event.Key)...)
			return newServiceError(opRecordEdit, "value_encode_failed", err)
		}
		valueJSON = string(encoded)
	}
	columnTimestamp := ""
	if !event.ColumnTimestamp.IsZero() {
		columnTimestamp = formatRecordDate(event.ColumnTimestamp)
	}

	record := EditRecord{
		ChangeID:         changeID,
		PatientID:        event.Key.PatientID,
		EncounterID:      event.Key.EncounterID,
		FlowsheetID:      event.Key.FlowsheetID,
		ColumnID:         event.ColumnID,
		RowID:            event.RowID,
		Kind:             event.Kind,
		Status:           string(EntryStatusFinal),
		ValueJSON:        valueJSON,
		ColumnTimestamp:  columnTimestamp,
		Promoted:         event.Promoted,
		AppliedAtSeconds: log.clock().UTC().Unix(),
	}
	if err := log.db.WithContext(ctx).Create(&record).Error; err != nil {
		logError(log.logger, opRecordEdit, "insert_failed", err, keyFields(event.Key)...)
		return newServiceError(opRecordEdit, "insert_failed", err)
	}
	return nil
}

// ListEdits returns the audit trail of key, oldest first.
func (log *AuditLog) ListEdits(ctx context.Context, key Key) ([]EditRecord, error) {
	if log.db == nil {
		logError(log.logger, opListEdits, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListEdits, "missing_database", errMissingDatabase)
	}
	var records []EditRecord
	if err := log.db.WithContext(ctx).
		Where("patient_id = ? AND encounter_id = ? AND flowsheet_id = ?", key.PatientID, key.EncounterID, key.FlowsheetID).
		Order("applied_at_s ASC").
		Order("change_id ASC").
		Find(&records).Error; err != nil {
		logError(log.logger, opListEdits, reasonQueryFailed, err, keyFields(key)...)
		return nil, newServiceError(opListEdits, reasonQueryFailed, err)
	}
	return records, nil
}
