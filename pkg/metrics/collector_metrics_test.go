package metrics

import (
	"github.com/asaskevich/EventBus"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/event_bus"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/priority_buffer"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var logger, _ = zap.NewDevelopment()

func TestCollectorMetrics(t *testing.T) {
	t.Run("Counts outcomes published on the bus", func(t *testing.T) {
		cm := NewCollectorMetrics()
		bus := EventBus.New()
		outcomes := event_bus.NewCollectorEventBus[event_bus.BatchOutcome, event_bus.BatchOutcome](bus, logger)
		stateChanges := event_bus.NewCollectorEventBus[event_bus.StateChange, event_bus.StateChange](bus, logger)
		require.NoError(t, cm.Subscribe(outcomes, stateChanges))

		require.NoError(t, outcomes.Publish(event_bus.BatchOutcomeTopic, event_bus.BatchOutcome{
			Records: 10, Delivered: true, Attempts: 2, Duration: time.Second,
		}))
		require.NoError(t, outcomes.Publish(event_bus.BatchOutcomeTopic, event_bus.BatchOutcome{
			Records: 4, Attempts: 4, Class: "retryable", Error: "503",
		}))
		require.NoError(t, stateChanges.Publish(event_bus.StateTopic, event_bus.StateChange{From: "Starting", To: "Running"}))
		outcomes.WaitAsync()

		assert.Equal(t, 10.0, testutil.ToFloat64(cm.recordsDelivered))
		assert.Equal(t, 4.0, testutil.ToFloat64(cm.recordsDropped))
		assert.Equal(t, 6.0, testutil.ToFloat64(cm.attempts))
		assert.Equal(t, 1.0, testutil.ToFloat64(cm.batches.WithLabelValues("dropped")))
		assert.Equal(t, 1.0, testutil.ToFloat64(cm.state.WithLabelValues("Running")))
		assert.Equal(t, 0.0, testutil.ToFloat64(cm.state.WithLabelValues("Starting")))
	})

	t.Run("Exposes buffer counters at scrape time", func(t *testing.T) {
		cm := NewCollectorMetrics()
		buffer := priority_buffer.NewPriorityBufferImpl[model.LogRecord](1, logger)
		require.NoError(t, cm.RegisterBuffer("records", buffer))
		spans := priority_buffer.NewPriorityBufferImpl[model.Span](4, logger)
		require.NoError(t, cm.RegisterBuffer("spans", spans))
		spans.Push(model.NewSpan(model.SpanFields{Operation: "checkout"}))
		buffer.Push(model.NewLogRecord(model.RecordFields{Level: model.InfoLevel, Message: "a"}))
		buffer.Push(model.NewLogRecord(model.RecordFields{Level: model.InfoLevel, Message: "b"}))
		cm.ObserveLines("/var/log/app.log", 2)

		recorder := httptest.NewRecorder()
		cm.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
		body := recorder.Body.String()

		assert.True(t, strings.Contains(body, `log_collector_buffer_occupancy_ratio{kind="records"} 1`))
		assert.True(t, strings.Contains(body, `log_collector_buffer_capacity{kind="records"} 1`))
		assert.True(t, strings.Contains(body, `log_collector_buffer_rejected_total{kind="records"} 1`))
		assert.True(t, strings.Contains(body, `log_collector_buffer_capacity{kind="spans"} 4`))
		assert.True(t, strings.Contains(body, `log_collector_buffer_occupancy_ratio{kind="spans"} 0.25`))
		assert.True(t, strings.Contains(body, `log_collector_lines_read_total{source="/var/log/app.log"} 2`))
	})
}
