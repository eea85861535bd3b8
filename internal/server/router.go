package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/chart"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/preferences"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 15 * time.Second

var (
	errMissingDatabase     = errors.New("chart database dependency required")
	errMissingFlowsheets   = errors.New("flowsheet service dependency required")
	errMissingLocalStorage = errors.New("local storage dependency required")
)

// EditHistory lists the audited edits of one sheet.
type EditHistory interface {
	ListEdits(ctx context.Context, key flowsheet.Key) ([]flowsheet.EditRecord, error)
}

type Dependencies struct {
	Database          *chart.Database
	Flowsheets        *flowsheet.Service
	EditHistory       EditHistory
	LocalStorage      *preferences.Service
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Database == nil {
		return nil, errMissingDatabase
	}
	if deps.Flowsheets == nil {
		return nil, errMissingFlowsheets
	}
	if deps.LocalStorage == nil {
		return nil, errMissingLocalStorage
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		database:     deps.Database,
		flowsheets:   deps.Flowsheets,
		editHistory:  deps.EditHistory,
		localStorage: deps.LocalStorage,
		logger:       logger,
		heartbeat:    heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/events", handler.handleStoreEvents)

	router.GET("/slices/:name", handler.handleGetSlice)
	router.PUT("/slices/:name", handler.handleReplaceSlice)

	encounter := router.Group("/patients/:patientId/encounters/:encounterId")
	encounter.GET("/history/:category", handler.handleGetHistory)

	sheet := encounter.Group("/flowsheets/:flowsheetId")
	sheet.GET("", handler.handleViewSheet)
	sheet.DELETE("", handler.handleCloseSheet)
	sheet.POST("/cells", handler.handleCommitCell)
	sheet.POST("/drafts", handler.handleStageDraft)
	sheet.POST("/drafts/commit", handler.handleCommitDrafts)
	sheet.DELETE("/drafts", handler.handleDiscardDrafts)
	sheet.POST("/columns/:columnId/retime", handler.handleRetimeColumn)
	sheet.GET("/history", handler.handleEditHistory)
	sheet.GET("/export.xlsx", handler.handleExportSheet)
	sheet.GET("/events", handler.handleSheetEvents)

	router.GET("/local-storage/:key", handler.handleGetLocalStorage)
	router.PUT("/local-storage/:key", handler.handlePutLocalStorage)
	router.POST("/enabled-encounters", handler.handleEnableEncounter)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(string) bool {
			return true
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Last-Event-ID", "Cache-Control"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	database     *chart.Database
	flowsheets   *flowsheet.Service
	editHistory  EditHistory
	localStorage *preferences.Service
	logger       *zap.Logger
	heartbeat    time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "openSheets": len(h.flowsheets.OpenSheets())})
}
