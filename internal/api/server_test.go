package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/t77yq/alert-escalation/internal/alerts"
	"github.com/t77yq/alert-escalation/internal/auth"
	"github.com/t77yq/alert-escalation/internal/metrics"
	"github.com/t77yq/alert-escalation/internal/model"
	"github.com/t77yq/alert-escalation/internal/monitor"
	"github.com/t77yq/alert-escalation/internal/storage"
)

var secret = []byte("api-test-secret")

type testServer struct {
	handler http.Handler
	token   string
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	service, err := alerts.NewService(storage.NewMemoryStore(), logger, alerts.WithMetrics(m))
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(secret, time.Hour, "admin", "admin123")
	require.NoError(t, err)

	server := NewServer(Config{Addr: ":0"}, service, issuer, secret, reg, logger, opts...)
	ts := &testServer{handler: server.Handler()}

	resp := ts.do(t, http.MethodPost, "/auth/login", loginRequest{Username: "admin", Password: "admin123"}, false)
	require.Equal(t, http.StatusOK, resp.Code)
	var login loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	require.NotEmpty(t, login.Token)
	ts.token = login.Token
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp := httptest.NewRecorder()
	ts.handler.ServeHTTP(resp, req)
	return resp
}

func (ts *testServer) create(t *testing.T, in alerts.Input) model.Alert {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/alerts", in, true)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var alert model.Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alert))
	return alert
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/auth/login", loginRequest{Username: "admin", Password: "nope"}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertsRequireToken(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/alerts", "/alerts/stats", "/alerts/top-drivers", "/alerts/driver/D1"} {
		resp := ts.do(t, http.MethodGet, path, nil, false)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, path)
	}

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", nil, false).Code)
}

type fixedStatus struct {
	snapshot *monitor.Snapshot
}

func (s fixedStatus) Last() *monitor.Snapshot {
	return s.snapshot
}

func TestHealth_IncludesLatestSnapshot(t *testing.T) {
	t.Run("before first collection", func(t *testing.T) {
		ts := newTestServer(t, WithStatus(fixedStatus{}))
		resp := ts.do(t, http.MethodGet, "/healthz", nil, false)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
	})

	t.Run("with snapshot", func(t *testing.T) {
		at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
		ts := newTestServer(t, WithStatus(fixedStatus{snapshot: &monitor.Snapshot{
			Timestamp: at,
			Alerts:    model.Stats{Total: 3, Open: 2, Resolved: 1},
			CPUUsage:  12.5,
		}}))
		resp := ts.do(t, http.MethodGet, "/healthz", nil, false)
		require.Equal(t, http.StatusOK, resp.Code)

		var body healthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body.Status)
		require.NotNil(t, body.Snapshot)
		assert.True(t, at.Equal(body.Snapshot.Timestamp))
		assert.Equal(t, model.Stats{Total: 3, Open: 2, Resolved: 1}, body.Snapshot.Alerts)
		assert.Equal(t, 12.5, body.Snapshot.CPUUsage)
	})
}

func TestWrites_LogTokenSubject(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	service, err := alerts.NewService(storage.NewMemoryStore(), zap.New(core))
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(secret, time.Hour, "admin", "admin123")
	require.NoError(t, err)
	token, _, err := issuer.Issue("dispatcher-7")
	require.NoError(t, err)

	ts := &testServer{
		handler: NewServer(Config{Addr: ":0"}, service, issuer, secret, nil, zap.New(core)).Handler(),
		token:   token,
	}
	alert := ts.create(t, alerts.Input{DriverID: "D1"})
	resp := ts.do(t, http.MethodPut, "/alerts/"+alert.ID+"/resolve", nil, true)
	require.Equal(t, http.StatusOK, resp.Code)

	for _, msg := range []string{"Alert created via API", "Alert resolved via API"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		assert.Equal(t, "dispatcher-7", entries[0].ContextMap()["subject"])
		assert.Equal(t, alert.ID, entries[0].ContextMap()["alert_id"])
	}
}

func TestCreateAlert(t *testing.T) {
	ts := newTestServer(t)

	alert := ts.create(t, alerts.Input{DriverID: "D1", SourceType: "overspeed", Severity: "warning"})
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, "D1", alert.DriverID)
	assert.Equal(t, "overspeed", alert.Category)
	assert.Equal(t, model.AlertSeverityWarning, alert.Severity)
	assert.Equal(t, model.AlertStatusOpen, alert.Status)

	resp := ts.do(t, http.MethodPost, "/alerts", alerts.Input{SourceType: "overspeed"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "driverId")

	resp = ts.do(t, http.MethodPost, "/alerts", alerts.Input{DriverID: "D1", Severity: "loud"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestResolveAlert(t *testing.T) {
	ts := newTestServer(t)
	alert := ts.create(t, alerts.Input{DriverID: "D1"})

	resp := ts.do(t, http.MethodPut, "/alerts/"+alert.ID+"/resolve", nil, true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Alert resolved successfully")

	resp = ts.do(t, http.MethodGet, "/alerts/"+alert.ID, nil, true)
	require.Equal(t, http.StatusOK, resp.Code)
	var found model.Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	assert.Equal(t, model.AlertStatusResolved, found.Status)

	resp = ts.do(t, http.MethodPut, "/alerts/missing/resolve", nil, true)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "Alert not found")

	resp = ts.do(t, http.MethodGet, "/alerts/missing", nil, true)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestQueries(t *testing.T) {
	ts := newTestServer(t)

	var list []model.Alert
	resp := ts.do(t, http.MethodGet, "/alerts", nil, true)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list)

	ts.create(t, alerts.Input{DriverID: "D1", SourceType: "overspeed"})
	ts.create(t, alerts.Input{DriverID: "D1", SourceType: "feedback"})
	ts.create(t, alerts.Input{DriverID: "D2", SourceType: "overspeed"})

	resp = ts.do(t, http.MethodGet, "/alerts", nil, true)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 3)

	resp = ts.do(t, http.MethodGet, "/alerts/driver/D1", nil, true)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)

	var lines []string
	resp = ts.do(t, http.MethodGet, "/alerts/top-drivers", nil, true)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
	assert.Equal(t, []string{"D1 -> 2 alerts", "D2 -> 1 alerts"}, lines)

	var counts []model.DriverCount
	resp = ts.do(t, http.MethodGet, "/alerts/top-drivers?format=json", nil, true)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Equal(t, []model.DriverCount{{DriverID: "D1", Count: 2}, {DriverID: "D2", Count: 1}}, counts)

	var stats model.Stats
	resp = ts.do(t, http.MethodGet, "/alerts/stats", nil, true)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, model.Stats{Total: 3, Open: 3}, stats)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, alerts.Input{DriverID: "D1"})

	resp := ts.do(t, http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `alertsvc_alerts_created_total{severity="INFO"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodDelete, "/alerts", nil, true)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}
