package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/chart"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/preferences"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	reasonInvalidRequest = "invalid_request"
	reasonInternal       = "internal_error"
)

// writeError maps domain errors to an HTTP status and the {"error", "code"} body.
func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	status, reason := classifyError(err)
	code := operation + "." + reason

	var serviceErr *flowsheet.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
		reason = code[strings.LastIndex(code, ".")+1:]
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("operation", operation),
			zap.String("reason", reason),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": reason, "code": code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, flowsheet.ErrUnknownTemplate):
		return http.StatusNotFound, "unknown_template"
	case errors.Is(err, chart.ErrUnknownPatient):
		return http.StatusNotFound, "unknown_patient"
	case errors.Is(err, chart.ErrUnknownEncounter):
		return http.StatusNotFound, "unknown_encounter"
	case errors.Is(err, chart.ErrUnknownSlice):
		return http.StatusNotFound, "unknown_slice"
	case errors.Is(err, flowsheet.ErrUnknownColumn):
		return http.StatusNotFound, "unknown_column"
	case errors.Is(err, flowsheet.ErrUnknownRow):
		return http.StatusBadRequest, "unknown_row"
	case errors.Is(err, flowsheet.ErrReservedRow):
		return http.StatusBadRequest, "reserved_row"
	case errors.Is(err, flowsheet.ErrInvalidValue):
		return http.StatusBadRequest, "invalid_value"
	case errors.Is(err, flowsheet.ErrBlankValue):
		return http.StatusBadRequest, "blank_value"
	case errors.Is(err, flowsheet.ErrInvalidTimestamp):
		return http.StatusBadRequest, "invalid_timestamp"
	case errors.Is(err, flowsheet.ErrInvalidKey),
		errors.Is(err, chart.ErrInvalidCategory),
		errors.Is(err, chart.ErrInvalidSlicePayload),
		errors.Is(err, preferences.ErrInvalidKey),
		errors.Is(err, preferences.ErrInvalidValue),
		errors.Is(err, store.ErrInvalidPath):
		return http.StatusBadRequest, reasonInvalidRequest
	default:
		return http.StatusInternalServerError, reasonInternal
	}
}
