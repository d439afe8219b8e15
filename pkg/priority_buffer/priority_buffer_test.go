package priority_buffer

import (
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"sync"
	"testing"
	"time"
)

var logger, _ = zap.NewDevelopment()

func normalRecord(message string) model.LogRecord {
	return model.NewLogRecord(model.RecordFields{Level: model.InfoLevel, Message: message})
}

func highRecord(message string) model.LogRecord {
	return model.NewLogRecord(model.RecordFields{Level: model.ErrorLevel, Message: message})
}

func messages(records []model.LogRecord) []string {
	result := make([]string, len(records))
	for i, record := range records {
		result[i] = record.Message
	}
	return result
}

func TestPriorityBuffer(t *testing.T) {
	t.Run("High priority arrival evicts the oldest normal record when full", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.LogRecord](2, logger)
		assert.True(t, pb.Push(normalRecord("A")))
		assert.True(t, pb.Push(normalRecord("B")))
		assert.True(t, pb.Push(highRecord("C")))

		stats := pb.Stats()
		assert.Equal(t, uint64(1), stats.Evicted)
		assert.Equal(t, []string{"C", "B"}, messages(pb.Drain(10)))
	})

	t.Run("Normal arrival is rejected when full", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.LogRecord](2, logger)
		pb.Push(normalRecord("A"))
		pb.Push(highRecord("B"))
		assert.False(t, pb.Push(normalRecord("C")))

		stats := pb.Stats()
		assert.Equal(t, uint64(1), stats.Rejected)
		assert.Equal(t, []string{"B", "A"}, messages(pb.Drain(10)))
	})

	t.Run("High priority arrival is dropped when full of high priority records", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.LogRecord](2, logger)
		pb.Push(highRecord("A"))
		pb.Push(highRecord("B"))
		assert.False(t, pb.Push(highRecord("C")))
		assert.Equal(t, []string{"A", "B"}, messages(pb.Drain(10)))
	})

	t.Run("Drain returns high priority first and preserves arrival order within a tier", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.LogRecord](10, logger)
		pb.Push(normalRecord("n1"))
		pb.Push(highRecord("h1"))
		pb.Push(normalRecord("n2"))
		pb.Push(highRecord("h2"))

		assert.Equal(t, []string{"h1", "h2", "n1"}, messages(pb.Drain(3)))
		assert.Equal(t, []string{"n2"}, messages(pb.Drain(3)))
		assert.Nil(t, pb.Drain(3))
	})

	t.Run("Occupancy tracks admitted minus drained records", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.LogRecord](4, logger)
		assert.Equal(t, 0.0, pb.Occupancy())
		pb.Push(normalRecord("a"))
		pb.Push(highRecord("b"))
		pb.Push(normalRecord("c"))
		assert.Equal(t, 0.75, pb.Occupancy())
		pb.Drain(2)
		assert.Equal(t, 0.25, pb.Occupancy())
		assert.Equal(t, 1, pb.Len())
	})

	t.Run("Never holds more than capacity and never evicts high priority while normal remains", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.LogRecord](8, logger)
		for i := 0; i < 100; i++ {
			if i%3 == 0 {
				pb.Push(highRecord(fmt.Sprintf("h%d", i)))
			} else {
				pb.Push(normalRecord(fmt.Sprintf("n%d", i)))
			}
			assert.LessOrEqual(t, pb.Len(), 8)
		}
		stats := pb.Stats()
		// 34 high priority records were pushed and none may be lost while normal ones were evictable
		assert.Equal(t, 8, stats.High)
		assert.Equal(t, 0, stats.Normal)
		assert.Equal(t, stats.Admitted, stats.Evicted+uint64(pb.Len()))
	})

	t.Run("Every admitted record is drained or evicted exactly once", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.LogRecord](100, logger)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					if i%5 == 0 {
						pb.Push(highRecord(fmt.Sprintf("%d-%d", w, i)))
					} else {
						pb.Push(normalRecord(fmt.Sprintf("%d-%d", w, i)))
					}
				}
			}(w)
		}
		drained := 0
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
	loop:
		for {
			select {
			case <-done:
				break loop
			default:
				drained += len(pb.Drain(7))
			}
		}
		drained += len(pb.Drain(1000))

		stats := pb.Stats()
		assert.Equal(t, uint64(1600), stats.Admitted+stats.Rejected)
		assert.Equal(t, stats.Admitted, stats.Evicted+uint64(drained))
		assert.Equal(t, uint64(drained), stats.Drained)
		assert.Equal(t, 0, pb.Len())
	})

	t.Run("Large drains keep the queue consistent", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.LogRecord](1000, logger)
		for i := 0; i < 1000; i++ {
			pb.Push(normalRecord(fmt.Sprintf("%d", i)))
		}
		for i := 0; i < 9; i++ {
			batch := pb.Drain(100)
			assert.Equal(t, fmt.Sprintf("%d", i*100), batch[0].Message)
			pb.Push(normalRecord("tail"))
		}
		assert.Equal(t, 109, pb.Len())
		assert.Equal(t, "900", pb.Drain(1)[0].Message)
	})

	t.Run("A non-positive capacity holds one record", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.LogRecord](0, logger)
		assert.Equal(t, 1, pb.Capacity())
		assert.True(t, pb.Push(normalRecord("A")))
		assert.False(t, pb.Push(normalRecord("B")))
		assert.Equal(t, 1.0, pb.Occupancy())
	})

	t.Run("Spans share the same tiers and eviction rules", func(t *testing.T) {
		pb := NewPriorityBufferImpl[model.Span](2, logger)
		ok := model.SpanFields{StartTime: time.Now(), Status: model.SpanOK}
		failed := model.SpanFields{StartTime: time.Now(), Status: model.SpanError}

		ok.Operation = "A"
		assert.True(t, pb.Push(model.NewSpan(ok)))
		ok.Operation = "B"
		assert.True(t, pb.Push(model.NewSpan(ok)))
		failed.Operation = "C"
		assert.True(t, pb.Push(model.NewSpan(failed)))
		ok.Operation = "D"
		assert.False(t, pb.Push(model.NewSpan(ok)))

		drained := pb.Drain(10)
		operations := make([]string, len(drained))
		for i, span := range drained {
			operations[i] = span.Operation
		}
		assert.Equal(t, []string{"C", "B"}, operations)
		assert.Equal(t, uint64(1), pb.Stats().Evicted)
	})
}
