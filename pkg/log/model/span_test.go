package model

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestParseSpanStatus(t *testing.T) {
	t.Run("Maps the usual spellings", func(t *testing.T) {
		assert.Equal(t, SpanOK, ParseSpanStatus("OK"))
		assert.Equal(t, SpanOK, ParseSpanStatus("success"))
		assert.Equal(t, SpanError, ParseSpanStatus("error"))
		assert.Equal(t, SpanError, ParseSpanStatus("Failed"))
		assert.Equal(t, SpanTimeout, ParseSpanStatus("TIMEOUT"))
		assert.Equal(t, SpanTimeout, ParseSpanStatus("timedout"))
		assert.Equal(t, SpanCancelled, ParseSpanStatus("canceled"))
		assert.Equal(t, SpanCancelled, ParseSpanStatus("aborted"))
	})

	t.Run("Unrecognized statuses are OK", func(t *testing.T) {
		assert.Equal(t, SpanOK, ParseSpanStatus("unknown"))
		assert.Equal(t, SpanOK, ParseSpanStatus(""))
	})
}

func TestNewSpan(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	t.Run("Derives the end from the duration", func(t *testing.T) {
		span := NewSpan(SpanFields{TraceID: "t", SpanID: "s", StartTime: start, Duration: 150 * time.Millisecond})
		assert.Equal(t, start.Add(150*time.Millisecond), span.EndTime)
		assert.Equal(t, "unknown", span.Operation)
		assert.Equal(t, SpanOK, span.Status)
		assert.False(t, span.IsHighPriority())
	})

	t.Run("Derives the duration from the end", func(t *testing.T) {
		span := NewSpan(SpanFields{StartTime: start, EndTime: start.Add(2 * time.Second)})
		assert.Equal(t, 2*time.Second, span.Duration)
	})

	t.Run("Copies the tags", func(t *testing.T) {
		tags := map[string]string{"db": "postgres"}
		span := NewSpan(SpanFields{StartTime: start, Tags: tags})
		tags["db"] = "mysql"
		assert.Equal(t, "postgres", span.Tags["db"])
	})

	t.Run("Failed, timed out and slow spans are high priority", func(t *testing.T) {
		assert.True(t, NewSpan(SpanFields{StartTime: start, Status: SpanError}).IsHighPriority())
		assert.True(t, NewSpan(SpanFields{StartTime: start, Status: SpanTimeout}).IsHighPriority())
		assert.False(t, NewSpan(SpanFields{StartTime: start, Status: SpanCancelled}).IsHighPriority())
		assert.True(t, NewSpan(SpanFields{StartTime: start, Duration: 10*time.Second + time.Millisecond}).IsHighPriority())
		assert.False(t, NewSpan(SpanFields{StartTime: start, Duration: 10 * time.Second}).IsHighPriority())
	})

	t.Run("Tag values mentioning errors, timeouts or critical work are high priority", func(t *testing.T) {
		for _, value := range []string{"ConnectionError", "upstream TIMEOUT", "critical-path"} {
			span := NewSpan(SpanFields{StartTime: start, Tags: map[string]string{"note": value}})
			assert.True(t, span.IsHighPriority(), value)
		}
		span := NewSpan(SpanFields{StartTime: start, Tags: map[string]string{"error_budget_ok": "yes"}})
		assert.False(t, span.IsHighPriority())
	})
}
