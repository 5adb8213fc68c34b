package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/market-data-service/internal/collector"
	"github.com/coinpulse/market-data-service/internal/gaps"
	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/coinpulse/market-data-service/internal/scheduler"
)

type fakeControl struct {
	triggerErr error
	mode       models.CollectionMode
	start      time.Time
	symbols    []string
	status     scheduler.Status
}

func (f *fakeControl) TriggerManual(mode models.CollectionMode, start time.Time, symbols []string) error {
	if f.triggerErr != nil {
		return f.triggerErr
	}
	f.mode = mode
	f.start = start
	f.symbols = symbols
	return nil
}

func (f *fakeControl) Status() scheduler.Status { return f.status }

type fakeRunSource struct {
	status  models.CollectionStatus
	summary *models.CollectionSummary
}

func (f *fakeRunSource) Status() models.CollectionStatus { return f.status }

func (f *fakeRunSource) Summary(symbol string) (*models.CollectionSummary, error) {
	if f.summary == nil {
		return nil, fmt.Errorf("symbol not found: %s", symbol)
	}
	return f.summary, nil
}

func serve(control Control, runs RunSource, method, path, body string) *httptest.ResponseRecorder {
	handler := NewHandler(nil, control, runs, nil)
	router := SetupRoutes(handler)

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTriggerCollectionAccepted(t *testing.T) {
	control := &fakeControl{}
	rec := serve(control, &fakeRunSource{}, http.MethodPost, "/api/v1/collect/trigger",
		`{"mode": "backward", "start_date": "2024-05-01", "symbols": ["BTCUSDT"]}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.ModeBackward, control.mode)
	assert.True(t, control.start.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"BTCUSDT"}, control.symbols)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
}

func TestTriggerCollectionConflictWhileRunning(t *testing.T) {
	control := &fakeControl{triggerErr: collector.ErrAlreadyRunning}
	rec := serve(control, &fakeRunSource{}, http.MethodPost, "/api/v1/collect/trigger",
		`{"mode": "forward"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerCollectionRejectsUnknownMode(t *testing.T) {
	rec := serve(&fakeControl{}, &fakeRunSource{}, http.MethodPost, "/api/v1/collect/trigger",
		`{"mode": "sideways"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerCollectionRejectsBadStartDate(t *testing.T) {
	rec := serve(&fakeControl{}, &fakeRunSource{}, http.MethodPost, "/api/v1/collect/trigger",
		`{"mode": "backward", "start_date": "05/01/2024"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerCollectionRejectsBadBody(t *testing.T) {
	rec := serve(&fakeControl{}, &fakeRunSource{}, http.MethodPost, "/api/v1/collect/trigger",
		`{"mode": `)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerCollectionRejectsInvalidWindow(t *testing.T) {
	control := &fakeControl{
		triggerErr: fmt.Errorf("%w: backward start is not in the past", gaps.ErrInvalidWindow),
	}
	rec := serve(control, &fakeRunSource{}, http.MethodPost, "/api/v1/collect/trigger",
		`{"mode": "backward", "start_date": "2099-01-01"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollectionStatusSnapshot(t *testing.T) {
	lastRun := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	control := &fakeControl{status: scheduler.Status{
		LastRunTime:   &lastRun,
		LastRunStatus: "ok",
		ErrorCount:    2,
	}}
	runs := &fakeRunSource{status: models.CollectionStatus{
		IsRunning:   true,
		CurrentMode: models.ModeForward,
	}}

	rec := serve(control, runs, http.MethodGet, "/api/v1/collect/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Scheduler  scheduler.Status        `json:"scheduler"`
		Collection models.CollectionStatus `json:"collection"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 2, resp.Scheduler.ErrorCount)
	assert.Equal(t, "ok", resp.Scheduler.LastRunStatus)
	assert.True(t, resp.Collection.IsRunning)
	assert.Equal(t, models.ModeForward, resp.Collection.CurrentMode)
}

func TestGetSummary(t *testing.T) {
	runs := &fakeRunSource{summary: &models.CollectionSummary{
		Symbol:              "BTCUSDT",
		ExpectedHours:       100,
		StoredHours:         95,
		CompletenessPercent: 95.0,
	}}

	rec := serve(&fakeControl{}, runs, http.MethodGet, "/api/v1/symbols/BTCUSDT/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.CollectionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "BTCUSDT", summary.Symbol)
	assert.InDelta(t, 95.0, summary.CompletenessPercent, 0.001)
}

func TestGetSummaryUnknownSymbol(t *testing.T) {
	rec := serve(&fakeControl{}, &fakeRunSource{}, http.MethodGet, "/api/v1/symbols/NOPE/summary", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
