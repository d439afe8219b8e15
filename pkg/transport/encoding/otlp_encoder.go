package encoding

import (
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonV1 "go.opentelemetry.io/proto/otlp/common/v1"
	v1 "go.opentelemetry.io/proto/otlp/logs/v1"
	resourceV1 "go.opentelemetry.io/proto/otlp/resource/v1"
	traceV1 "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
	"sort"
)

const scopeName = "log-collector"

// OTLPEncoder writes a batch as an ExportLogsServiceRequest with one
// resource and one scope, and its spans as the matching
// ExportTraceServiceRequest.
type OTLPEncoder struct {
	resource Resource
}

func NewOTLPEncoder(resource Resource) *OTLPEncoder {
	return &OTLPEncoder{resource: resource}
}

func (oe *OTLPEncoder) Encode(batch *model.Batch) ([]byte, error) {
	body, err := proto.Marshal(oe.Request(batch))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch %s: %w", batch.ID, err)
	}
	return body, nil
}

func (oe *OTLPEncoder) EncodeSpans(batch *model.Batch) ([]byte, error) {
	body, err := proto.Marshal(oe.TraceRequest(batch))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal spans of batch %s: %w", batch.ID, err)
	}
	return body, nil
}

func (oe *OTLPEncoder) ContentType() string {
	return "application/x-protobuf"
}

func (oe *OTLPEncoder) Request(batch *model.Batch) *protoLogs.ExportLogsServiceRequest {
	logRecords := make([]*v1.LogRecord, len(batch.Records))
	for i, record := range batch.Records {
		logRecords[i] = toLogRecord(record)
	}
	return &protoLogs.ExportLogsServiceRequest{
		ResourceLogs: []*v1.ResourceLogs{
			{
				Resource: oe.resourceProto(),
				ScopeLogs: []*v1.ScopeLogs{
					{
						Scope:      &commonV1.InstrumentationScope{Name: scopeName},
						LogRecords: logRecords,
					},
				},
			},
		},
	}
}

func (oe *OTLPEncoder) TraceRequest(batch *model.Batch) *protoTrace.ExportTraceServiceRequest {
	spans := make([]*traceV1.Span, len(batch.Spans))
	for i, span := range batch.Spans {
		spans[i] = toSpan(span)
	}
	return &protoTrace.ExportTraceServiceRequest{
		ResourceSpans: []*traceV1.ResourceSpans{
			{
				Resource: oe.resourceProto(),
				ScopeSpans: []*traceV1.ScopeSpans{
					{
						Scope: &commonV1.InstrumentationScope{Name: scopeName},
						Spans: spans,
					},
				},
			},
		},
	}
}

func (oe *OTLPEncoder) resourceProto() *resourceV1.Resource {
	return &resourceV1.Resource{
		Attributes: []*commonV1.KeyValue{
			stringAttribute("service.name", oe.resource.ServiceName),
			stringAttribute("k8s.pod.name", oe.resource.PodName),
			stringAttribute("k8s.namespace.name", oe.resource.Namespace),
			stringAttribute("collector.id", oe.resource.CollectorID),
		},
	}
}

func toLogRecord(record model.LogRecord) *v1.LogRecord {
	keys := make([]string, 0, len(record.Attributes))
	for key := range record.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	attributes := make([]*commonV1.KeyValue, 0, len(keys)+3)
	for _, key := range keys {
		attributes = append(attributes, stringAttribute(key, record.Attributes[key]))
	}
	attributes = append(attributes, stringAttribute("log.file.path", record.Source))

	logRecord := &v1.LogRecord{
		TimeUnixNano:         uint64(record.Timestamp.UnixNano()),
		ObservedTimeUnixNano: uint64(record.ObservedAt.UnixNano()),
		SeverityNumber:       getSeverityNumber(record.Level),
		SeverityText:         record.Level.String(),
		Body:                 &commonV1.AnyValue{Value: &commonV1.AnyValue_StringValue{StringValue: record.Message}},
	}
	if record.TraceID != "" {
		if traceID, err := trace.TraceIDFromHex(record.TraceID); err == nil {
			logRecord.TraceId = traceID[:]
		} else {
			attributes = append(attributes, stringAttribute("trace_id", record.TraceID))
		}
	}
	if record.SpanID != "" {
		if spanID, err := trace.SpanIDFromHex(record.SpanID); err == nil {
			logRecord.SpanId = spanID[:]
		} else {
			attributes = append(attributes, stringAttribute("span_id", record.SpanID))
		}
	}
	logRecord.Attributes = attributes
	return logRecord
}

func toSpan(span model.Span) *traceV1.Span {
	keys := make([]string, 0, len(span.Tags))
	for key := range span.Tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	attributes := make([]*commonV1.KeyValue, 0, len(keys)+2)
	for _, key := range keys {
		attributes = append(attributes, stringAttribute(key, span.Tags[key]))
	}
	attributes = append(attributes,
		stringAttribute("log.file.path", span.Source),
		stringAttribute("span.status", span.Status.String()),
	)

	traceID, ok := toTraceID(span.TraceID)
	if !ok {
		attributes = append(attributes, stringAttribute("trace_id", span.TraceID))
	}
	spanID, ok := toSpanID(span.SpanID)
	if !ok {
		attributes = append(attributes, stringAttribute("span_id", span.SpanID))
	}
	out := &traceV1.Span{
		TraceId:           traceID[:],
		SpanId:            spanID[:],
		Name:              span.Operation,
		Kind:              traceV1.Span_SPAN_KIND_INTERNAL,
		StartTimeUnixNano: uint64(span.StartTime.UnixNano()),
		EndTimeUnixNano:   uint64(span.EndTime.UnixNano()),
		Status:            toStatus(span.Status),
	}
	if span.ParentSpanID != "" {
		parentID, _ := toSpanID(span.ParentSpanID)
		out.ParentSpanId = parentID[:]
	}
	out.Attributes = attributes
	return out
}

func toStatus(status model.SpanStatus) *traceV1.Status {
	switch status {
	case model.SpanOK:
		return &traceV1.Status{Code: traceV1.Status_STATUS_CODE_OK}
	case model.SpanError, model.SpanTimeout:
		return &traceV1.Status{Code: traceV1.Status_STATUS_CODE_ERROR, Message: status.String()}
	default:
		return &traceV1.Status{Code: traceV1.Status_STATUS_CODE_UNSET, Message: status.String()}
	}
}

// toTraceID parses a hex id. Other ids are hashed so that every span of the
// same trace still shares one OTLP id; ok is false in that case.
func toTraceID(id string) (trace.TraceID, bool) {
	if traceID, err := trace.TraceIDFromHex(id); err == nil {
		return traceID, true
	}
	return trace.TraceID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))), false
}

func toSpanID(id string) (trace.SpanID, bool) {
	if spanID, err := trace.SpanIDFromHex(id); err == nil {
		return spanID, true
	}
	var spanID trace.SpanID
	hashed := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
	copy(spanID[:], hashed[:len(spanID)])
	return spanID, false
}

func getSeverityNumber(level model.Level) v1.SeverityNumber {
	switch level {
	case model.TraceLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_TRACE
	case model.DebugLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_DEBUG
	case model.InfoLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_INFO
	case model.WarnLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_WARN
	case model.ErrorLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_ERROR
	case model.FatalLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_FATAL
	default:
		return v1.SeverityNumber_SEVERITY_NUMBER_UNSPECIFIED
	}
}

func stringAttribute(key string, value string) *commonV1.KeyValue {
	return &commonV1.KeyValue{
		Key:   key,
		Value: &commonV1.AnyValue{Value: &commonV1.AnyValue_StringValue{StringValue: value}},
	}
}
