package receiver

import (
	"context"
	"encoding/hex"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonV1 "go.opentelemetry.io/proto/otlp/common/v1"
	v1 "go.opentelemetry.io/proto/otlp/logs/v1"
	"go.uber.org/zap"
	"time"
)

// LogServiceServerImpl accepts OTLP log exports over gRPC and hands the
// converted records to a Recorder.
type LogServiceServerImpl struct {
	protoLogs.UnimplementedLogsServiceServer
	recorder Recorder
	logger   *zap.Logger
}

func NewLogServiceServerImpl(recorder Recorder, logger *zap.Logger) *LogServiceServerImpl {
	logger.Info("Creating new LogServiceServerImpl")
	return &LogServiceServerImpl{
		recorder: recorder,
		logger:   logger,
	}
}

func (lss *LogServiceServerImpl) Export(
	ctx context.Context,
	req *protoLogs.ExportLogsServiceRequest,
) (*protoLogs.ExportLogsServiceResponse, error) {
	received := recordRequest(req, lss.recorder)
	lss.logger.Debug("Received OTLP export", zap.Int("records", received))
	return &protoLogs.ExportLogsServiceResponse{}, nil
}

func recordRequest(req *protoLogs.ExportLogsServiceRequest, recorder Recorder) int {
	received := 0
	for _, resourceLogs := range req.ResourceLogs {
		resource := attributeMap(resourceLogs.GetResource().GetAttributes())
		origin := Origin{
			ServiceName: resource["service.name"],
			PodName:     resource["k8s.pod.name"],
			Namespace:   resource["k8s.namespace.name"],
			CollectorID: resource["collector.id"],
		}
		var records []model.LogRecord
		for _, scopeLogs := range resourceLogs.ScopeLogs {
			for _, log := range scopeLogs.LogRecords {
				records = append(records, typeLog(log))
			}
		}
		if len(records) == 0 {
			continue
		}
		received += len(records)
		recorder.Record(origin, records)
	}
	return received
}

func typeLog(log *v1.LogRecord) model.LogRecord {
	attributes := attributeMap(log.Attributes)
	source := attributes["log.file.path"]
	delete(attributes, "log.file.path")

	traceID := attributes["trace_id"]
	delete(attributes, "trace_id")
	if len(log.TraceId) > 0 {
		traceID = hex.EncodeToString(log.TraceId)
	}
	spanID := attributes["span_id"]
	delete(attributes, "span_id")
	if len(log.SpanId) > 0 {
		spanID = hex.EncodeToString(log.SpanId)
	}

	return model.NewLogRecord(model.RecordFields{
		Timestamp:  time.Unix(0, int64(log.TimeUnixNano)).UTC(),
		ObservedAt: time.Unix(0, int64(log.ObservedTimeUnixNano)).UTC(),
		Level:      getLevel(log.SeverityNumber),
		Message:    log.Body.GetStringValue(),
		TraceID:    traceID,
		SpanID:     spanID,
		Attributes: attributes,
		Source:     source,
	})
}

func attributeMap(kvs []*commonV1.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value.GetStringValue()
	}
	return out
}

func getLevel(severityNumber v1.SeverityNumber) model.Level {
	switch {
	case severityNumber >= v1.SeverityNumber_SEVERITY_NUMBER_FATAL:
		return model.FatalLevel
	case severityNumber >= v1.SeverityNumber_SEVERITY_NUMBER_ERROR:
		return model.ErrorLevel
	case severityNumber >= v1.SeverityNumber_SEVERITY_NUMBER_WARN:
		return model.WarnLevel
	case severityNumber >= v1.SeverityNumber_SEVERITY_NUMBER_INFO:
		return model.InfoLevel
	case severityNumber >= v1.SeverityNumber_SEVERITY_NUMBER_DEBUG:
		return model.DebugLevel
	case severityNumber >= v1.SeverityNumber_SEVERITY_NUMBER_TRACE:
		return model.TraceLevel
	default:
		return model.UnknownLevel
	}
}
