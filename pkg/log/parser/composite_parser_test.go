package parser

import (
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/cache"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestCompositeParser_Parse(t *testing.T) {
	cp, err := New(FormatAuto, testOptions())
	require.NoError(t, err)

	t.Run("Prefers the structured parser for JSON lines", func(t *testing.T) {
		record, ok := cp.Parse(`{"level": "INFO", "message": "Test message"}`, "app")
		assert.True(t, ok)
		assert.Equal(t, model.InfoLevel, record.Level)
		assert.Equal(t, "Test message", record.Message)
	})

	t.Run("Falls back to patterns", func(t *testing.T) {
		record, ok := cp.Parse("ERROR: Something went wrong", "app")
		assert.True(t, ok)
		assert.Equal(t, model.ErrorLevel, record.Level)
		assert.Equal(t, "Something went wrong", record.Message)
	})

	t.Run("Keeps unmatched lines whole with unknown level", func(t *testing.T) {
		record, ok := cp.Parse("goroutine 7 [running]", "app")
		assert.True(t, ok)
		assert.Equal(t, model.UnknownLevel, record.Level)
		assert.Equal(t, "goroutine 7 [running]", record.Message)
		assert.Equal(t, fixedNow, record.Timestamp)
	})

	t.Run("JSON without a message still yields the whole line", func(t *testing.T) {
		record, ok := cp.Parse(`{"level":"error"}`, "app")
		assert.True(t, ok)
		assert.Equal(t, `{"level":"error"}`, record.Message)
		assert.Equal(t, model.UnknownLevel, record.Level)
	})

	t.Run("Every non-blank line yields exactly one record", func(t *testing.T) {
		lines := []string{
			`{"message":"a"}`, `{broken`, "[x] INFO: y", "INFO: z", "a:b.c:d", "???", " x ", "\t{}",
			"2023/12/01 10:30:45 [error] e", "CRITICAL: disk", "}{", "null",
		}
		for _, line := range lines {
			record, ok := cp.Parse(line, "app")
			assert.True(t, ok, line)
			assert.NotEmpty(t, record.Message, line)
		}
	})

	t.Run("Blank lines yield nothing", func(t *testing.T) {
		_, ok := cp.Parse("   ", "app")
		assert.False(t, ok)
	})

	t.Run("Structured parsing can be disabled", func(t *testing.T) {
		opts := testOptions()
		opts.ParseStructured = false
		parser, err := New(FormatAuto, opts)
		require.NoError(t, err)
		record, ok := parser.Parse(`{"level":"error","message":"m"}`, "app")
		assert.True(t, ok)
		assert.Equal(t, `{"level":"error","message":"m"}`, record.Message)
	})
}

func TestNew(t *testing.T) {
	t.Run("JSON format still keeps non-JSON lines", func(t *testing.T) {
		parser, err := New(FormatJSON, testOptions())
		require.NoError(t, err)
		record, ok := parser.Parse("ERROR: not json", "app")
		assert.True(t, ok)
		assert.Equal(t, model.UnknownLevel, record.Level)
		assert.Equal(t, "ERROR: not json", record.Message)
	})

	t.Run("Regex format skips structured parsing", func(t *testing.T) {
		parser, err := New(FormatRegex, testOptions())
		require.NoError(t, err)
		record, ok := parser.Parse(`{"level":"error","message":"m"}`, "app")
		assert.True(t, ok)
		assert.Equal(t, model.UnknownLevel, record.Level)
	})

	t.Run("Rejects unknown formats", func(t *testing.T) {
		_, err := New("xml", testOptions())
		assert.Error(t, err)
	})
}

func TestTimestampParser_Parse(t *testing.T) {
	tp := NewTimestampParser(nil)

	t.Run("Parses the known layouts", func(t *testing.T) {
		for _, raw := range []string{
			"2025-01-01T10:30:45Z",
			"2025-01-01T10:30:45.123456+02:00",
			"2025-01-01 10:30:45",
			"2025-01-01 10:30:45.250",
			"2025/01/01 10:30:45",
			"01/Jan/2025:10:30:45 +0000",
			"1701234567",
			"1701234567.5",
		} {
			_, ok := tp.Parse("app", raw)
			assert.True(t, ok, raw)
		}
	})

	t.Run("Rejects garbage", func(t *testing.T) {
		for _, raw := range []string{"invalid", "", "-5", "12:00", "99999999999999999999", "1e20", "9223372036854775807"} {
			_, ok := tp.Parse("app", raw)
			assert.False(t, ok, raw)
		}
	})

	t.Run("Remembers the layout that worked for a source", func(t *testing.T) {
		hints, err := cache.NewDefaultLayoutHintCache(16)
		require.NoError(t, err)
		defer hints.Close()
		parser := NewTimestampParser(hints)

		ts, ok := parser.Parse("/var/log/nginx.log", "2025/01/01 10:30:45")
		assert.True(t, ok)
		assert.Equal(t, time.Date(2025, 1, 1, 10, 30, 45, 0, time.UTC), ts)
		hints.Wait()

		idx, err := hints.Get("/var/log/nginx.log")
		require.NoError(t, err)
		assert.Equal(t, "2006/01/02 15:04:05", timestampLayouts[idx])

		_, ok = parser.Parse("/var/log/nginx.log", "2025-01-01T10:30:45Z")
		assert.True(t, ok, fmt.Sprintf("hint %d must not prevent other layouts", idx))
	})
}
