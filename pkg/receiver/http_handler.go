package receiver

import (
	"encoding/json"
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const maxBodyBytes = 32 << 20

type telemetryRecord struct {
	Timestamp   string            `json:"timestamp"`
	Level       string            `json:"level"`
	Message     string            `json:"message"`
	TraceID     string            `json:"trace_id"`
	SpanID      string            `json:"span_id"`
	Attributes  map[string]string `json:"attributes"`
	Source      string            `json:"source"`
	ServiceName string            `json:"service_name"`
	PodName     string            `json:"pod_name"`
	Namespace   string            `json:"namespace"`
}

type telemetrySpan struct {
	TraceID       string            `json:"trace_id"`
	SpanID        string            `json:"span_id"`
	ParentSpanID  string            `json:"parent_span_id"`
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

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type errorMessage struct {
	Message string `json:"message"`
}

// Faults makes the next n ingest requests fail with status. A positive
// retryAfter is sent with 429 responses.
type Faults struct {
	remaining  int
	status     int
	retryAfter int
	mu         sync.Mutex
}

func (f *Faults) Set(n int, status int, retryAfter int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining = n
	f.status = status
	f.retryAfter = retryAfter
}

func (f *Faults) next() (status int, retryAfter int, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return 0, 0, false
	}
	f.remaining--
	return f.status, f.retryAfter, true
}

// CreateRouter serves the gateway side of the wire contract.
func CreateRouter(recorder *MemoryRecorderImpl, faults *Faults, version string, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.Handle("/v1/telemetry", TelemetryHandler(recorder, faults, logger)).Methods("POST")
	r.Handle("/v1/spans", SpansHandler(recorder, faults, logger)).Methods("POST")
	r.Handle("/v1/logs", OTLPHandler(recorder, faults, logger)).Methods("POST")
	r.Handle("/v1/traces", OTLPTracesHandler(recorder, faults, logger)).Methods("POST")
	r.Handle("/health", HealthHandler(version, logger)).Methods("GET")
	r.Handle("/summary", SummaryHandler(recorder, logger)).Methods("GET")

	return r
}

func TelemetryHandler(recorder Recorder, faults *Faults, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if injectFault(w, faults, logger) {
			return
		}
		body, err := readBody(r)
		if err != nil {
			logger.Error("Error encountered when reading request body", zap.Error(err))
			httpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		var wire []telemetryRecord
		if err := json.Unmarshal(body, &wire); err != nil {
			logger.Error("Error encountered when decoding request body", zap.Error(err))
			httpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		if len(wire) == 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		records := make([]model.LogRecord, 0, len(wire))
		for _, rec := range wire {
			timestamp, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
			if err != nil {
				httpError(w, fmt.Sprintf("Invalid timestamp %q", rec.Timestamp), http.StatusBadRequest, logger)
				return
			}
			records = append(records, model.NewLogRecord(model.RecordFields{
				Timestamp:  timestamp,
				Level:      model.ParseLevel(rec.Level),
				Message:    rec.Message,
				TraceID:    rec.TraceID,
				SpanID:     rec.SpanID,
				Attributes: rec.Attributes,
				Source:     rec.Source,
			}))
		}
		recorder.Record(Origin{
			ServiceName: wire[0].ServiceName,
			PodName:     wire[0].PodName,
			Namespace:   wire[0].Namespace,
			CollectorID: r.Header.Get("X-Collector-Id"),
			BatchID:     r.Header.Get("X-Batch-Id"),
		}, records)
		logger.Debug(
			"Received telemetry batch",
			zap.String("batch_id", r.Header.Get("X-Batch-Id")),
			zap.Int("records", len(records)),
		)
		w.WriteHeader(http.StatusAccepted)
	}
}

func SpansHandler(recorder Recorder, faults *Faults, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if injectFault(w, faults, logger) {
			return
		}
		body, err := readBody(r)
		if err != nil {
			logger.Error("Error encountered when reading request body", zap.Error(err))
			httpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		var wire []telemetrySpan
		if err := json.Unmarshal(body, &wire); err != nil {
			logger.Error("Error encountered when decoding request body", zap.Error(err))
			httpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		if len(wire) == 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		spans := make([]model.Span, 0, len(wire))
		for _, s := range wire {
			start, err := time.Parse(time.RFC3339Nano, s.StartTime)
			if err != nil {
				httpError(w, fmt.Sprintf("Invalid start time %q", s.StartTime), http.StatusBadRequest, logger)
				return
			}
			end, err := time.Parse(time.RFC3339Nano, s.EndTime)
			if err != nil {
				httpError(w, fmt.Sprintf("Invalid end time %q", s.EndTime), http.StatusBadRequest, logger)
				return
			}
			spans = append(spans, model.NewSpan(model.SpanFields{
				TraceID:      s.TraceID,
				SpanID:       s.SpanID,
				ParentSpanID: s.ParentSpanID,
				Operation:    s.OperationName,
				StartTime:    start,
				EndTime:      end,
				Duration:     time.Duration(s.DurationMs) * time.Millisecond,
				Status:       model.ParseSpanStatus(s.Status),
				Tags:         s.Tags,
				Source:       s.Source,
			}))
		}
		recorder.RecordSpans(Origin{
			ServiceName: wire[0].ServiceName,
			PodName:     wire[0].PodName,
			Namespace:   wire[0].Namespace,
			CollectorID: r.Header.Get("X-Collector-Id"),
			BatchID:     r.Header.Get("X-Batch-Id"),
		}, spans)
		logger.Debug(
			"Received span batch",
			zap.String("batch_id", r.Header.Get("X-Batch-Id")),
			zap.Int("spans", len(spans)),
		)
		w.WriteHeader(http.StatusAccepted)
	}
}

func OTLPHandler(recorder Recorder, faults *Faults, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if injectFault(w, faults, logger) {
			return
		}
		body, err := readBody(r)
		if err != nil {
			logger.Error("Error encountered when reading request body", zap.Error(err))
			httpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		var req protoLogs.ExportLogsServiceRequest
		if err := proto.Unmarshal(body, &req); err != nil {
			logger.Error("Error encountered when decoding OTLP request", zap.Error(err))
			httpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		recordRequest(&req, recorder)

		out, err := proto.Marshal(&protoLogs.ExportLogsServiceResponse{})
		if err != nil {
			httpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			logger.Error("Failed to write OTLP response", zap.Error(err))
		}
	}
}

func OTLPTracesHandler(recorder Recorder, faults *Faults, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if injectFault(w, faults, logger) {
			return
		}
		body, err := readBody(r)
		if err != nil {
			logger.Error("Error encountered when reading request body", zap.Error(err))
			httpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		var req protoTrace.ExportTraceServiceRequest
		if err := proto.Unmarshal(body, &req); err != nil {
			logger.Error("Error encountered when decoding OTLP request", zap.Error(err))
			httpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		recordTraceRequest(&req, recorder)

		out, err := proto.Marshal(&protoTrace.ExportTraceServiceResponse{})
		if err != nil {
			httpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			logger.Error("Failed to write OTLP response", zap.Error(err))
		}
	}
}

func HealthHandler(version string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, healthResponse{Status: "healthy", Service: "fake-gateway", Version: version}, http.StatusOK, logger)
	}
}

func SummaryHandler(recorder *MemoryRecorderImpl, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, recorder.Summary(), http.StatusOK, logger)
	}
}

func injectFault(w http.ResponseWriter, faults *Faults, logger *zap.Logger) bool {
	if faults == nil {
		return false
	}
	status, retryAfter, fail := faults.next()
	if !fail {
		return false
	}
	if status == http.StatusTooManyRequests && retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	logger.Info("Injecting fault", zap.Int("status", status))
	httpError(w, http.StatusText(status), status, logger)
	return true
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var reader io.Reader = io.LimitReader(r.Body, maxBodyBytes)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer gz.Close()
		reader = io.LimitReader(gz, maxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

func httpError(w http.ResponseWriter, message string, statusCode int, logger *zap.Logger) {
	writeJSON(w, errorMessage{Message: message}, statusCode, logger)
}

func writeJSON(w http.ResponseWriter, body interface{}, statusCode int, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response body", zap.Error(err))
	}
}
