package receiver

import (
	"context"
	"encoding/hex"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	traceV1 "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"time"
)

// TraceServiceServerImpl accepts OTLP span exports over gRPC.
type TraceServiceServerImpl struct {
	protoTrace.UnimplementedTraceServiceServer
	recorder Recorder
	logger   *zap.Logger
}

func NewTraceServiceServerImpl(recorder Recorder, logger *zap.Logger) *TraceServiceServerImpl {
	logger.Info("Creating new TraceServiceServerImpl")
	return &TraceServiceServerImpl{
		recorder: recorder,
		logger:   logger,
	}
}

func (tss *TraceServiceServerImpl) Export(
	ctx context.Context,
	req *protoTrace.ExportTraceServiceRequest,
) (*protoTrace.ExportTraceServiceResponse, error) {
	received := recordTraceRequest(req, tss.recorder)
	tss.logger.Debug("Received OTLP span export", zap.Int("spans", received))
	return &protoTrace.ExportTraceServiceResponse{}, nil
}

func recordTraceRequest(req *protoTrace.ExportTraceServiceRequest, recorder Recorder) int {
	received := 0
	for _, resourceSpans := range req.ResourceSpans {
		resource := attributeMap(resourceSpans.GetResource().GetAttributes())
		origin := Origin{
			ServiceName: resource["service.name"],
			PodName:     resource["k8s.pod.name"],
			Namespace:   resource["k8s.namespace.name"],
			CollectorID: resource["collector.id"],
		}
		var spans []model.Span
		for _, scopeSpans := range resourceSpans.ScopeSpans {
			for _, span := range scopeSpans.Spans {
				spans = append(spans, typeSpan(span))
			}
		}
		if len(spans) == 0 {
			continue
		}
		received += len(spans)
		recorder.RecordSpans(origin, spans)
	}
	return received
}

// typeSpan prefers the ids the encoder keeps as attributes when they were
// not hex.
func typeSpan(span *traceV1.Span) model.Span {
	tags := attributeMap(span.Attributes)
	source := tags["log.file.path"]
	delete(tags, "log.file.path")
	status := tags["span.status"]
	delete(tags, "span.status")

	traceID := hex.EncodeToString(span.TraceId)
	if raw, ok := tags["trace_id"]; ok {
		traceID = raw
		delete(tags, "trace_id")
	}
	spanID := hex.EncodeToString(span.SpanId)
	if raw, ok := tags["span_id"]; ok {
		spanID = raw
		delete(tags, "span_id")
	}
	if status == "" {
		status = span.GetStatus().GetMessage()
	}

	return model.NewSpan(model.SpanFields{
		TraceID:      traceID,
		SpanID:       spanID,
		ParentSpanID: hex.EncodeToString(span.ParentSpanId),
		Operation:    span.Name,
		StartTime:    time.Unix(0, int64(span.StartTimeUnixNano)).UTC(),
		EndTime:      time.Unix(0, int64(span.EndTimeUnixNano)).UTC(),
		Status:       model.ParseSpanStatus(status),
		Tags:         tags,
		Source:       source,
	})
}
