package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/chart"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/mockdb"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/preferences"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/store"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const vitalsSheetPath = "/patients/P-1001/encounters/E-5001/flowsheets/vitals"

var testNow = time.Date(2024, time.March, 5, 16, 0, 0, 0, time.UTC)

type testEnvironment struct {
	handler    http.Handler
	database   *chart.Database
	flowsheets *flowsheet.Service
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	seed, err := mockdb.Default()
	if err != nil {
		t.Fatalf("failed to load seed: %v", err)
	}
	backing, err := store.New(store.Config{Seed: seed})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	database := chart.NewDatabase(backing)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&flowsheet.EditRecord{}, &preferences.LocalStorageItem{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	clock := func() time.Time { return testNow }
	auditLog, err := flowsheet.NewAuditLog(flowsheet.AuditLogConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: flowsheet.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build audit log: %v", err)
	}
	service, err := flowsheet.NewService(flowsheet.ServiceConfig{
		Store:        database,
		Clock:        clock,
		IDProvider:   flowsheet.NewUUIDProvider(),
		Recorder:     auditLog,
		TickInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build flowsheet service: %v", err)
	}
	t.Cleanup(service.Shutdown)

	localStorage, err := preferences.NewService(preferences.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build local storage: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Database:          database,
		Flowsheets:        service,
		EditHistory:       auditLog,
		LocalStorage:      localStorage,
		Logger:            zap.NewNop(),
		HeartbeatInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testEnvironment{handler: handler, database: database, flowsheets: service}
}

func (env *testEnvironment) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch payload := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(payload))
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type sheetPayload struct {
	Grid   flowsheet.Grid    `json:"grid"`
	Drafts []flowsheet.Entry `json:"drafts"`
}

func currentColumnID(t *testing.T, grid flowsheet.Grid) string {
	t.Helper()
	column, ok := grid.CurrentColumn()
	if !ok {
		t.Fatalf("grid has no current column")
	}
	return column.ID
}
