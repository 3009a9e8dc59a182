package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

func testConfig(baseURL string) Config {
	return Config{
		BotToken:       "123:abc",
		ChatID:         "-1000",
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ChatID: "1"}, zap.NewNop())
	require.Error(t, err)
	_, err = New(Config{BotToken: "t"}, zap.NewNop())
	require.Error(t, err)
}

func TestNotify_Delivers(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotReq sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	report := n.Notify(context.Background(), []monitor.Posting{{
		Category:    monitor.CategoryNotice,
		Title:       "Results & rankings",
		Summary:     "Check portal",
		SourceURL:   "https://portal.example.edu/notice/1",
		PublishedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}})

	require.Len(t, report.Results, 1)
	require.True(t, report.Results[0].Delivered)
	require.Equal(t, 1, report.Results[0].Attempts)
	require.Equal(t, 1, report.Delivered())
	require.Zero(t, report.Failed())

	require.Equal(t, "/bot123:abc/sendMessage", gotPath)
	require.Equal(t, "-1000", gotReq.ChatID)
	require.Equal(t, "HTML", gotReq.ParseMode)
	require.Contains(t, gotReq.Text, "New Notice")
	require.Contains(t, gotReq.Text, "Results &amp; rankings", "title must be HTML-escaped")
	require.Contains(t, gotReq.Text, "https://portal.example.edu/notice/1")
}

func TestNotify_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"description":"Too Many Requests"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	report := n.Notify(context.Background(), []monitor.Posting{{Category: monitor.CategoryJob, Title: "Acme"}})
	require.True(t, report.Results[0].Delivered)
	require.Equal(t, 3, report.Results[0].Attempts)
}

func TestNotify_PermanentFailureNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	report := n.Notify(context.Background(), []monitor.Posting{{Category: monitor.CategoryJob, Title: "Acme"}})
	require.False(t, report.Results[0].Delivered)
	require.Equal(t, 1, report.Results[0].Attempts)
	require.EqualValues(t, 1, calls.Load())

	var dErr *monitor.DeliveryError
	require.ErrorAs(t, report.Results[0].Err, &dErr)
	require.False(t, dErr.Transient)
	require.Equal(t, http.StatusBadRequest, dErr.StatusCode)
	require.Contains(t, dErr.Error(), "chat not found")
}

func TestNotify_ExhaustedRetriesReportsFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	report := n.Notify(context.Background(), []monitor.Posting{{Category: monitor.CategoryNotice, Title: "x"}})
	require.False(t, report.Results[0].Delivered)
	require.Equal(t, 3, report.Results[0].Attempts)

	var dErr *monitor.DeliveryError
	require.ErrorAs(t, report.Results[0].Err, &dErr)
	require.True(t, dErr.Transient)
}

func TestNotify_FailureIsolatedPerPosting(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if strings.Contains(req.Text, "Broken") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	report := n.Notify(context.Background(), []monitor.Posting{
		{Category: monitor.CategoryNotice, Title: "Good one"},
		{Category: monitor.CategoryNotice, Title: "Broken one"},
		{Category: monitor.CategoryNotice, Title: "Another good one"},
	})
	require.Len(t, report.Results, 3)
	require.Equal(t, 2, report.Delivered())
	require.Equal(t, 1, report.Failed())
	require.False(t, report.Results[1].Delivered)
}

func TestAlert(t *testing.T) {
	t.Parallel()

	var gotReq sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, n.Alert(context.Background(), "cycle failed: auth rejected"))
	require.Contains(t, gotReq.Text, "cycle failed: auth rejected")
}

func TestFormatPosting_Job(t *testing.T) {
	t.Parallel()

	msg := formatPosting(monitor.Posting{
		Category:    monitor.CategoryJob,
		Title:       "Acme Corp",
		SourceURL:   "https://portal.example.edu/apply/9",
		PublishedAt: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
	})
	require.Contains(t, msg, "New Job Posting")
	require.Contains(t, msg, "Acme Corp")
	require.Contains(t, msg, "24 Aug 2026")
	require.Contains(t, msg, "Apply here")
}

func TestBackoff_Bounded(t *testing.T) {
	t.Parallel()

	b := &backoff{base: 250 * time.Millisecond, max: 5 * time.Second}
	for attempt := 0; attempt < 10; attempt++ {
		d := b.delay(attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, 5*time.Second)
	}
}
