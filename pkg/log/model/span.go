package model

import (
	"strings"
	"time"
)

type SpanStatus string

const (
	SpanOK        SpanStatus = "OK"
	SpanError     SpanStatus = "ERROR"
	SpanTimeout   SpanStatus = "TIMEOUT"
	SpanCancelled SpanStatus = "CANCELLED"
)

// ParseSpanStatus maps the usual spellings onto a status. Anything
// unrecognized is SpanOK.
func ParseSpanStatus(s string) SpanStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR", "FAILED", "FAILURE":
		return SpanError
	case "TIMEOUT", "TIMEDOUT":
		return SpanTimeout
	case "CANCELLED", "CANCELED", "ABORTED":
		return SpanCancelled
	default:
		return SpanOK
	}
}

func (s SpanStatus) String() string {
	return string(s)
}

// slowSpan marks a span as high priority on duration alone.
const slowSpan = 10 * time.Second

var priorityTagWords = []string{"error", "timeout", "critical"}

// Span is one finished operation reported in a structured log line. Like
// LogRecord it is not modified after NewSpan returns.
type Span struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Operation    string            `json:"operation"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Duration     time.Duration     `json:"duration"`
	Status       SpanStatus        `json:"status"`
	Tags         map[string]string `json:"tags"`
	Source       string            `json:"source"`

	highPriority bool
}

type SpanFields struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Operation    string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Status       SpanStatus
	Tags         map[string]string
	Source       string
}

// NewSpan fills the gaps between start, end and duration: a missing end is
// start plus duration, and a missing duration is end minus start.
func NewSpan(fields SpanFields) Span {
	tags := make(map[string]string, len(fields.Tags))
	for k, v := range fields.Tags {
		tags[k] = v
	}
	start := fields.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	duration := fields.Duration
	if duration < 0 {
		duration = 0
	}
	end := fields.EndTime
	switch {
	case end.IsZero():
		end = start.Add(duration)
	case duration == 0 && end.After(start):
		duration = end.Sub(start)
	}
	operation := fields.Operation
	if operation == "" {
		operation = "unknown"
	}
	status := fields.Status
	if status == "" {
		status = SpanOK
	}
	span := Span{
		TraceID:      fields.TraceID,
		SpanID:       fields.SpanID,
		ParentSpanID: fields.ParentSpanID,
		Operation:    operation,
		StartTime:    start,
		EndTime:      end,
		Duration:     duration,
		Status:       status,
		Tags:         tags,
		Source:       fields.Source,
	}
	span.highPriority = isHighPrioritySpan(span)
	return span
}

// IsHighPriority is true for failed or timed out spans, spans slower than ten
// seconds, and spans with a tag value mentioning an error, a timeout or
// something critical.
func (s Span) IsHighPriority() bool {
	return s.highPriority
}

func isHighPrioritySpan(s Span) bool {
	if s.Status == SpanError || s.Status == SpanTimeout || s.Duration > slowSpan {
		return true
	}
	for _, value := range s.Tags {
		value = strings.ToLower(value)
		for _, word := range priorityTagWords {
			if strings.Contains(value, word) {
				return true
			}
		}
	}
	return false
}
