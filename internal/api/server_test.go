package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/config"
	"github.com/placementwatch/tnp-monitor/internal/metrics"
	"github.com/placementwatch/tnp-monitor/internal/monitor"
	"github.com/placementwatch/tnp-monitor/internal/store/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubController struct {
	state      monitor.RunState
	triggerErr error
	triggered  int
}

func (s *stubController) State() monitor.RunState { return s.state }

func (s *stubController) TriggerAsync(_ context.Context) error {
	s.triggered++
	return s.triggerErr
}

func newTestServer(t *testing.T, ctrl *stubController, cfg config.Config) *httptest.Server {
	t.Helper()
	store := memory.NewSeenStore()
	require.NoError(t, store.MarkSeen(context.Background(), []monitor.SeenRecord{
		{Fingerprint: "aaa", Category: monitor.CategoryNotice, FirstSeenAt: time.Now()},
	}))
	clock := fixedClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	srv := NewServer(ctrl, store, clock, 10*time.Minute, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestRoot(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &stubController{}, config.Config{})
	var body map[string]any
	resp := getJSON(t, ts.URL+"/", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "tnp-monitor", body["service"])
	require.NotEmpty(t, body["endpoints"])
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &stubController{}, config.Config{})
	var body map[string]string
	resp := getJSON(t, ts.URL+"/healthz", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestPing(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &stubController{}, config.Config{})
	var body map[string]string
	resp := getJSON(t, ts.URL+"/ping", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "pong", body["message"])
	require.Equal(t, "2026-08-24T12:00:00Z", body["time"])
}

func TestStatus(t *testing.T) {
	t.Parallel()

	ctrl := &stubController{state: monitor.RunState{
		LastRunAt:     time.Date(2026, 8, 24, 11, 50, 0, 0, time.UTC),
		LastOutcome:   monitor.OutcomeSucceeded,
		TotalNotified: 7,
		TotalCycles:   3,
	}}
	ts := newTestServer(t, ctrl, config.Config{})

	var body map[string]any
	resp := getJSON(t, ts.URL+"/status", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "succeeded", body["last_run_outcome"])
	require.EqualValues(t, 7, body["total_notifications_sent"])
	require.EqualValues(t, 1, body["seen_count"])
	require.EqualValues(t, 10, body["interval_minutes"])
	require.Equal(t, false, body["is_running"])
}

func TestRun_Accepted(t *testing.T) {
	t.Parallel()

	ctrl := &stubController{}
	ts := newTestServer(t, ctrl, config.Config{})

	resp, err := http.Post(ts.URL+"/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, ctrl.triggered)
}

func TestRun_Conflict(t *testing.T) {
	t.Parallel()

	ctrl := &stubController{triggerErr: monitor.ErrAlreadyRunning}
	ts := newTestServer(t, ctrl, config.Config{})

	resp, err := http.Post(ts.URL+"/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "already running", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &stubController{}, config.Config{})
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	ts := newTestServer(t, &stubController{}, cfg)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/status?api_key=sekrit")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
