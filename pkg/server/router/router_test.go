package router

import (
	"encoding/json"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/collector"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/metrics"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/server/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"net/http"
	"net/http/httptest"
	"testing"
)

var logger, _ = zap.NewDevelopment()

type fakeStatus struct {
	state collector.State
}

func (f *fakeStatus) ID() string {
	return "collector-1"
}

func (f *fakeStatus) State() collector.State {
	return f.state
}

func (f *fakeStatus) Stats() collector.Stats {
	return collector.Stats{
		CollectorID: "collector-1",
		ServiceName: "checkout",
		State:       f.state.String(),
		LinesRead:   42,
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateRouter(t *testing.T) {
	t.Run("Should report liveness until the collector stops", func(t *testing.T) {
		status := &fakeStatus{state: collector.Draining}
		r := CreateRouter(status, nil, logger)

		rec := get(t, r, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)

		status.state = collector.Stopped
		rec = get(t, r, "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("Should report readiness only while running", func(t *testing.T) {
		status := &fakeStatus{state: collector.Starting}
		r := CreateRouter(status, nil, logger)

		rec := get(t, r, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		status.state = collector.Running
		rec = get(t, r, "/readyz")
		require.Equal(t, http.StatusOK, rec.Code)

		var body handler.StatusDTO
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, handler.StatusDTO{Status: "ok", State: "Running", CollectorID: "collector-1"}, body)
	})

	t.Run("Should serve the stats snapshot as JSON", func(t *testing.T) {
		r := CreateRouter(&fakeStatus{state: collector.Running}, nil, logger)

		rec := get(t, r, "/stats")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "collector-1", body["collector_id"])
		assert.Equal(t, "Running", body["state"])
		assert.Equal(t, float64(42), body["lines_read"])
	})

	t.Run("Should expose prometheus metrics when given a handler", func(t *testing.T) {
		m := metrics.NewCollectorMetrics()
		m.ObserveLines("/var/log/app.log", 3)
		r := CreateRouter(&fakeStatus{state: collector.Running}, m.Handler(), logger)

		rec := get(t, r, "/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "log_collector_lines_read_total")
	})

	t.Run("Should not serve metrics without a handler", func(t *testing.T) {
		r := CreateRouter(&fakeStatus{state: collector.Running}, nil, logger)

		rec := get(t, r, "/metrics")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Should reject other methods", func(t *testing.T) {
		r := CreateRouter(&fakeStatus{state: collector.Running}, nil, logger)

		req := httptest.NewRequest(http.MethodPost, "/stats", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
