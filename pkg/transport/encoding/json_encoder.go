package encoding

import (
	"encoding/json"
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"time"
)

type wireRecord struct {
	Timestamp   string            `json:"timestamp"`
	Level       string            `json:"level"`
	Message     string            `json:"message"`
	TraceID     string            `json:"trace_id,omitempty"`
	SpanID      string            `json:"span_id,omitempty"`
	Attributes  map[string]string `json:"attributes"`
	Source      string            `json:"source"`
	ServiceName string            `json:"service_name"`
	PodName     string            `json:"pod_name"`
	Namespace   string            `json:"namespace"`
}

type wireSpan struct {
	TraceID       string            `json:"trace_id"`
	SpanID        string            `json:"span_id"`
	ParentSpanID  string            `json:"parent_span_id,omitempty"`
	OperationName string            `json:"operation_name"`
	StartTime     string            `json:"start_time"`
	EndTime       string            `json:"end_time"`
	DurationMs    int64             `json:"duration_ms"`
	Status        string            `json:"status"`
	Tags          map[string]string `json:"tags"`
	Source        string            `json:"source"`
	ServiceName   string            `json:"service_name"`
	PodName       string            `json:"pod_name"`
	Namespace     string            `json:"namespace"`
}

// JSONEncoder writes a batch as a JSON array of records, each tagged with
// the resource identity. Spans go in a second array of the same shape.
type JSONEncoder struct {
	resource Resource
}

func NewJSONEncoder(resource Resource) *JSONEncoder {
	return &JSONEncoder{resource: resource}
}

func (je *JSONEncoder) Encode(batch *model.Batch) ([]byte, error) {
	records := make([]wireRecord, len(batch.Records))
	for i, record := range batch.Records {
		attributes := record.Attributes
		if attributes == nil {
			attributes = map[string]string{}
		}
		records[i] = wireRecord{
			Timestamp:   record.Timestamp.UTC().Format(time.RFC3339Nano),
			Level:       record.Level.String(),
			Message:     record.Message,
			TraceID:     record.TraceID,
			SpanID:      record.SpanID,
			Attributes:  attributes,
			Source:      record.Source,
			ServiceName: je.resource.ServiceName,
			PodName:     je.resource.PodName,
			Namespace:   je.resource.Namespace,
		}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch %s: %w", batch.ID, err)
	}
	return body, nil
}

func (je *JSONEncoder) EncodeSpans(batch *model.Batch) ([]byte, error) {
	spans := make([]wireSpan, len(batch.Spans))
	for i, span := range batch.Spans {
		tags := span.Tags
		if tags == nil {
			tags = map[string]string{}
		}
		spans[i] = wireSpan{
			TraceID:       span.TraceID,
			SpanID:        span.SpanID,
			ParentSpanID:  span.ParentSpanID,
			OperationName: span.Operation,
			StartTime:     span.StartTime.UTC().Format(time.RFC3339Nano),
			EndTime:       span.EndTime.UTC().Format(time.RFC3339Nano),
			DurationMs:    span.Duration.Milliseconds(),
			Status:        span.Status.String(),
			Tags:          tags,
			Source:        span.Source,
			ServiceName:   je.resource.ServiceName,
			PodName:       je.resource.PodName,
			Namespace:     je.resource.Namespace,
		}
	}
	body, err := json.Marshal(spans)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal spans of batch %s: %w", batch.ID, err)
	}
	return body, nil
}

func (je *JSONEncoder) ContentType() string {
	return "application/json"
}
