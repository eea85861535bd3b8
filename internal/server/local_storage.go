package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	opGetLocalStorage  = "server.get_local_storage"
	opPutLocalStorage  = "server.put_local_storage"
	opEnableEncounter  = "server.enable_encounter"
	reasonMissingValue = "not_found"
)

type localStoragePayload struct {
	Value *string `json:"value"`
}

type enableEncounterPayload struct {
	EncounterID string `json:"encounterId"`
}

func (h *httpHandler) handleGetLocalStorage(c *gin.Context) {
	key := c.Param("key")
	value, found, err := h.localStorage.Get(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, opGetLocalStorage, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": reasonMissingValue, "code": opGetLocalStorage + "." + reasonMissingValue})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (h *httpHandler) handlePutLocalStorage(c *gin.Context) {
	var request localStoragePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": reasonInvalidRequest, "code": opPutLocalStorage + "." + reasonInvalidRequest})
		return
	}
	key := c.Param("key")
	if err := h.localStorage.Set(c.Request.Context(), key, *request.Value); err != nil {
		h.writeError(c, opPutLocalStorage, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": *request.Value})
}

func (h *httpHandler) handleEnableEncounter(c *gin.Context) {
	var request enableEncounterPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": reasonInvalidRequest, "code": opEnableEncounter + "." + reasonInvalidRequest})
		return
	}
	enabled, err := h.localStorage.EnableEncounter(c.Request.Context(), request.EncounterID)
	if err != nil {
		h.writeError(c, opEnableEncounter, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabledEncounters": enabled})
}
