package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metawebart/formwatch/internal/history"
	"github.com/metawebart/formwatch/internal/metrics"
)

type fakeStore struct {
	runs      []history.Run
	forms     map[string][]history.FormResult
	err       error
	lastLimit int
}

func (f *fakeStore) RecentRuns(ctx context.Context, limit int) ([]history.Run, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeStore) FormResults(ctx context.Context, runID string) ([]history.FormResult, error) {
	return f.forms[runID], nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewServer(":0", nil).Handler()

	rec := get(t, h, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RunsTotal.Inc()
	h := NewServer(":0", nil).Handler()

	rec := get(t, h, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), metrics.MetricNameRunsTotal)
}

func TestAPIRuns(t *testing.T) {
	started := time.Date(2025, 1, 6, 5, 0, 0, 0, time.UTC)
	store := &fakeStore{
		runs: []history.Run{
			{RunID: "r2", StartedAt: started.Add(24 * time.Hour), NotifyOK: true, Matched: 1},
			{RunID: "r1", StartedAt: started},
		},
		forms: map[string][]history.FormResult{
			"r2": {{Site: "acme.test", Form: "Contact", Working: true, MatchedUID: 42}},
		},
	}
	h := NewServer(":0", store).Handler()

	t.Run("default limit", func(t *testing.T) {
		rec := get(t, h, "/api/runs")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, defaultRunsLimit, store.lastLimit)

		var body struct {
			Runs []struct {
				RunID    string               `json:"run_id"`
				NotifyOK bool                 `json:"notify_ok"`
				Forms    []history.FormResult `json:"forms"`
			} `json:"runs"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Runs, 2)
		assert.Equal(t, "r2", body.Runs[0].RunID)
		assert.True(t, body.Runs[0].NotifyOK)
		require.Len(t, body.Runs[0].Forms, 1)
		assert.Equal(t, uint32(42), body.Runs[0].Forms[0].MatchedUID)
		assert.Empty(t, body.Runs[1].Forms)
	})

	t.Run("limit is capped", func(t *testing.T) {
		rec := get(t, h, "/api/runs?limit=5000")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, maxRunsLimit, store.lastLimit)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := get(t, h, "/api/runs?limit=abc")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPIRunsErrors(t *testing.T) {
	rec := get(t, NewServer(":0", nil).Handler(), "/api/runs")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(t, NewServer(":0", &fakeStore{err: errors.New("disk I/O error")}).Handler(), "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "disk"), "internal errors are not leaked")
}
