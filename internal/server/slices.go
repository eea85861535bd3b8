package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	opGetSlice     = "server.get_slice"
	opReplaceSlice = "server.replace_slice"
	opGetHistory   = "server.get_history"
)

type historyResponsePayload struct {
	PatientID   string           `json:"patientId"`
	EncounterID string           `json:"encounterId"`
	Category    string           `json:"category"`
	Items       []map[string]any `json:"items"`
}

func (h *httpHandler) handleGetSlice(c *gin.Context) {
	slice, err := h.database.RawSlice(c.Param("name"))
	if err != nil {
		h.writeError(c, opGetSlice, err)
		return
	}
	payload, err := slice.Get()
	if err != nil {
		h.writeError(c, opGetSlice, err)
		return
	}
	if len(payload) == 0 {
		payload = []byte("null")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

func (h *httpHandler) handleReplaceSlice(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": reasonInvalidRequest, "code": opReplaceSlice + "." + reasonInvalidRequest})
		return
	}
	if err := h.database.ReplaceSlice(c.Param("name"), body); err != nil {
		h.writeError(c, opReplaceSlice, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetHistory(c *gin.Context) {
	scope, err := h.database.Encounter(c.Param("patientId"), c.Param("encounterId"))
	if err != nil {
		h.writeError(c, opGetHistory, err)
		return
	}
	category := c.Param("category")
	history, err := scope.History(category)
	if err != nil {
		h.writeError(c, opGetHistory, err)
		return
	}
	items, err := history.Get()
	if err != nil {
		h.writeError(c, opGetHistory, err)
		return
	}
	if items == nil {
		items = []map[string]any{}
	}
	c.JSON(http.StatusOK, historyResponsePayload{
		PatientID:   scope.PatientID(),
		EncounterID: scope.EncounterID(),
		Category:    category,
		Items:       items,
	})
}
