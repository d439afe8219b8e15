package model

import (
	"strings"
	"time"
)

// LogRecord is the canonical form of one log line. It is never modified after
// NewLogRecord returns, so it can be shared between goroutines without locking.
type LogRecord struct {
	Timestamp  time.Time         `json:"timestamp"`
	ObservedAt time.Time         `json:"-"`
	Level      Level             `json:"level"`
	Message    string            `json:"message"`
	TraceID    string            `json:"trace_id,omitempty"`
	SpanID     string            `json:"span_id,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Source     string            `json:"source"`

	highPriority bool
}

type RecordFields struct {
	Timestamp  time.Time
	ObservedAt time.Time
	Level      Level
	Message    string
	TraceID    string
	SpanID     string
	Attributes map[string]string
	Source     string
}

func NewLogRecord(fields RecordFields) LogRecord {
	attributes := make(map[string]string, len(fields.Attributes))
	for k, v := range fields.Attributes {
		attributes[k] = v
	}
	observedAt := fields.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	timestamp := fields.Timestamp
	if timestamp.IsZero() {
		timestamp = observedAt
	}
	level := fields.Level
	if level == "" {
		level = UnknownLevel
	}
	return LogRecord{
		Timestamp:    timestamp,
		ObservedAt:   observedAt,
		Level:        level,
		Message:      fields.Message,
		TraceID:      fields.TraceID,
		SpanID:       fields.SpanID,
		Attributes:   attributes,
		Source:       fields.Source,
		highPriority: isHighPriority(level, fields.Message),
	}
}

// IsHighPriority reports whether the record is retained in preference to
// others when the buffer is under pressure.
func (r LogRecord) IsHighPriority() bool {
	return r.highPriority
}

func isHighPriority(level Level, message string) bool {
	if level == ErrorLevel || level == FatalLevel {
		return true
	}
	return strings.Contains(strings.ToLower(message), "critical")
}
