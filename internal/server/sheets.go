package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/export"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"
	"github.com/gin-gonic/gin"
)

const (
	opViewSheet     = "server.view_sheet"
	opCommitCell    = "server.commit_cell"
	opStageDraft    = "server.stage_draft"
	opCommitDrafts  = "server.commit_drafts"
	opRetimeColumn  = "server.retime_column"
	opEditHistory   = "server.edit_history"
	opExportSheet   = "server.export_sheet"
	opCloseSheet    = "server.close_sheet"
	opDiscardDrafts = "server.discard_drafts"
)

type cellEditPayload struct {
	ColumnID string `json:"columnId"`
	RowID    string `json:"rowId"`
	Value    any    `json:"value"`
}

type retimePayload struct {
	Timestamp string `json:"timestamp"`
}

type sheetResponsePayload struct {
	Key    sheetKeyPayload   `json:"key"`
	Grid   flowsheet.Grid    `json:"grid"`
	Drafts []flowsheet.Entry `json:"drafts"`
}

type sheetKeyPayload struct {
	PatientID   string `json:"patientId"`
	EncounterID string `json:"encounterId"`
	FlowsheetID string `json:"flowsheetId"`
}

type commitResponsePayload struct {
	Result flowsheet.CommitResult `json:"result"`
	Grid   flowsheet.Grid         `json:"grid"`
}

type commitDraftsResponsePayload struct {
	Results []flowsheet.CommitResult `json:"results"`
	Grid    flowsheet.Grid           `json:"grid"`
}

type retimeResponsePayload struct {
	Column flowsheet.ColumnMutation `json:"column"`
	Grid   flowsheet.Grid           `json:"grid"`
}

type editHistoryEntryPayload struct {
	ChangeID        string `json:"changeId"`
	Kind            string `json:"kind"`
	ColumnID        string `json:"columnId"`
	RowID           string `json:"rowId,omitempty"`
	Value           any    `json:"value,omitempty"`
	ColumnTimestamp string `json:"columnTimestamp,omitempty"`
	Promoted        bool   `json:"promoted"`
	AppliedAt       int64  `json:"appliedAtS"`
}

func sheetKey(c *gin.Context) (flowsheet.Key, error) {
	return flowsheet.NewKey(c.Param("patientId"), c.Param("encounterId"), c.Param("flowsheetId"))
}

// openSheet resolves the sheet addressed by the request, mounting it on first use.
func (h *httpHandler) openSheet(c *gin.Context, operation string) (*flowsheet.Sheet, bool) {
	key, err := sheetKey(c)
	if err != nil {
		h.writeError(c, operation, err)
		return nil, false
	}
	sheet, err := h.flowsheets.Open(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, operation, err)
		return nil, false
	}
	return sheet, true
}

func (h *httpHandler) handleViewSheet(c *gin.Context) {
	sheet, ok := h.openSheet(c, opViewSheet)
	if !ok {
		return
	}
	grid, err := sheet.View()
	if err != nil {
		h.writeError(c, opViewSheet, err)
		return
	}
	key := sheet.Key()
	c.JSON(http.StatusOK, sheetResponsePayload{
		Key:    sheetKeyPayload{PatientID: key.PatientID, EncounterID: key.EncounterID, FlowsheetID: key.FlowsheetID},
		Grid:   grid,
		Drafts: sheet.Drafts(),
	})
}

func (h *httpHandler) handleCloseSheet(c *gin.Context) {
	key, err := sheetKey(c)
	if err != nil {
		h.writeError(c, opCloseSheet, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": h.flowsheets.Close(key)})
}

func (h *httpHandler) handleCommitCell(c *gin.Context) {
	edit, ok := h.bindCellEdit(c, opCommitCell)
	if !ok {
		return
	}
	sheet, ok := h.openSheet(c, opCommitCell)
	if !ok {
		return
	}
	result, err := sheet.CommitCellEdit(c.Request.Context(), edit)
	if err != nil {
		h.writeError(c, opCommitCell, err)
		return
	}
	grid, ok := h.viewAfterWrite(c, sheet, opCommitCell)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, commitResponsePayload{Result: result, Grid: grid})
}

func (h *httpHandler) handleStageDraft(c *gin.Context) {
	edit, ok := h.bindCellEdit(c, opStageDraft)
	if !ok {
		return
	}
	sheet, ok := h.openSheet(c, opStageDraft)
	if !ok {
		return
	}
	draft, err := sheet.StageCellEdit(edit)
	if err != nil {
		h.writeError(c, opStageDraft, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"draft": draft, "drafts": sheet.Drafts()})
}

func (h *httpHandler) handleCommitDrafts(c *gin.Context) {
	sheet, ok := h.openSheet(c, opCommitDrafts)
	if !ok {
		return
	}
	results, err := sheet.CommitDrafts(c.Request.Context())
	if err != nil {
		h.writeError(c, opCommitDrafts, err)
		return
	}
	grid, ok := h.viewAfterWrite(c, sheet, opCommitDrafts)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, commitDraftsResponsePayload{Results: results, Grid: grid})
}

func (h *httpHandler) handleDiscardDrafts(c *gin.Context) {
	sheet, ok := h.openSheet(c, opDiscardDrafts)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"discarded": sheet.DiscardDrafts()})
}

func (h *httpHandler) handleRetimeColumn(c *gin.Context) {
	var request retimePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Timestamp) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": reasonInvalidRequest, "code": opRetimeColumn + "." + reasonInvalidRequest})
		return
	}
	timestamp, err := time.Parse(time.RFC3339, strings.TrimSpace(request.Timestamp))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp", "code": opRetimeColumn + ".invalid_timestamp"})
		return
	}
	sheet, ok := h.openSheet(c, opRetimeColumn)
	if !ok {
		return
	}
	mutation, err := sheet.RetimeColumn(c.Request.Context(), c.Param("columnId"), timestamp)
	if err != nil {
		h.writeError(c, opRetimeColumn, err)
		return
	}
	grid, ok := h.viewAfterWrite(c, sheet, opRetimeColumn)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, retimeResponsePayload{Column: mutation, Grid: grid})
}

func (h *httpHandler) handleEditHistory(c *gin.Context) {
	if h.editHistory == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit_disabled", "code": opEditHistory + ".audit_disabled"})
		return
	}
	key, err := sheetKey(c)
	if err != nil {
		h.writeError(c, opEditHistory, err)
		return
	}
	records, err := h.editHistory.ListEdits(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, opEditHistory, err)
		return
	}
	entries := make([]editHistoryEntryPayload, 0, len(records))
	for _, record := range records {
		entries = append(entries, editHistoryEntryPayload{
			ChangeID:        record.ChangeID,
			Kind:            string(record.Kind),
			ColumnID:        record.ColumnID,
			RowID:           record.RowID,
			Value:           decodeAuditValue(record.ValueJSON),
			ColumnTimestamp: record.ColumnTimestamp,
			Promoted:        record.Promoted,
			AppliedAt:       record.AppliedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"edits": entries})
}

func (h *httpHandler) handleExportSheet(c *gin.Context) {
	sheet, ok := h.openSheet(c, opExportSheet)
	if !ok {
		return
	}
	grid, err := sheet.View()
	if err != nil {
		h.writeError(c, opExportSheet, err)
		return
	}
	template := sheet.Template()
	title := template.Name
	if title == "" {
		title = template.ID
	}
	payload, err := export.GridWorkbook(title, grid)
	if err != nil {
		h.writeError(c, opExportSheet, err)
		return
	}
	key := sheet.Key()
	filename := fmt.Sprintf("%s-%s-%s.xlsx", key.PatientID, key.EncounterID, key.FlowsheetID)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, export.ContentType, payload)
}

func (h *httpHandler) bindCellEdit(c *gin.Context, operation string) (flowsheet.CellEdit, bool) {
	var request cellEditPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.ColumnID) == "" ||
		strings.TrimSpace(request.RowID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": reasonInvalidRequest, "code": operation + "." + reasonInvalidRequest})
		return flowsheet.CellEdit{}, false
	}
	return flowsheet.CellEdit{ColumnID: request.ColumnID, RowID: request.RowID, Value: request.Value}, true
}

func (h *httpHandler) viewAfterWrite(c *gin.Context, sheet *flowsheet.Sheet, operation string) (flowsheet.Grid, bool) {
	grid, err := sheet.View()
	if err != nil {
		h.writeError(c, operation, err)
		return flowsheet.Grid{}, false
	}
	return grid, true
}

func decodeAuditValue(valueJSON string) any {
	if valueJSON == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return valueJSON
	}
	return value
}
