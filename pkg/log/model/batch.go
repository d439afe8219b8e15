package model

import (
	"github.com/google/uuid"
	"time"
)

// Batch is an ordered group of records and spans drained from the buffers
// together. Only AttemptCount changes once the batch is built.
type Batch struct {
	ID           string
	CreatedAt    time.Time
	Records      []LogRecord
	Spans        []Span
	AttemptCount int
}

func NewBatch(records []LogRecord) *Batch {
	return NewTelemetryBatch(records, nil)
}

func NewTelemetryBatch(records []LogRecord, spans []Span) *Batch {
	return &Batch{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Records:   records,
		Spans:     spans,
	}
}

// Len counts records and spans.
func (b *Batch) Len() int {
	return len(b.Records) + len(b.Spans)
}

func (b *Batch) IsEmpty() bool {
	return b.Len() == 0
}
