package receiver

import (
	"context"
	"encoding/json"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/encoding"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/gateway"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/otlp_grpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var logger, _ = zap.NewDevelopment()

var resource = encoding.Resource{
	ServiceName: "checkout",
	PodName:     "checkout-1",
	Namespace:   "shop",
	CollectorID: "collector-1",
}

func sampleBatch() *model.Batch {
	return model.NewBatch([]model.LogRecord{
		model.NewLogRecord(model.RecordFields{
			Timestamp:  time.Date(2023, 12, 1, 10, 30, 45, 0, time.UTC),
			Level:      model.ErrorLevel,
			Message:    "Database connection failed",
			TraceID:    "4bf92f3577b34da6a3ce929d0e0e4736",
			SpanID:     "00f067aa0ba902b7",
			Attributes: map[string]string{"user_id": "12345"},
			Source:     "/var/log/app.log",
		}),
		model.NewLogRecord(model.RecordFields{
			Timestamp: time.Date(2023, 12, 1, 10, 30, 46, 0, time.UTC),
			Level:     model.InfoLevel,
			Message:   "Request served",
			TraceID:   "abc123",
			Source:    "/var/log/app.log",
		}),
	})
}

func sampleSpanBatch() *model.Batch {
	start := time.Date(2023, 12, 1, 10, 30, 45, 0, time.UTC)
	return model.NewTelemetryBatch(sampleBatch().Records[:1], []model.Span{
		model.NewSpan(model.SpanFields{
			TraceID:      "4bf92f3577b34da6a3ce929d0e0e4736",
			SpanID:       "00f067aa0ba902b7",
			ParentSpanID: "00f067aa0ba902b6",
			Operation:    "database_query",
			StartTime:    start,
			Duration:     150 * time.Millisecond,
			Status:       model.SpanError,
			Tags:         map[string]string{"db": "postgres"},
			Source:       "/var/log/app.log",
		}),
		model.NewSpan(model.SpanFields{
			TraceID:   "abc123",
			SpanID:    "def456",
			Operation: "cache_get",
			StartTime: start,
			Duration:  2 * time.Millisecond,
			Source:    "/var/log/app.log",
		}),
	})
}

func assertSampleSpans(t *testing.T, spans []model.Span) {
	require.Len(t, spans, 2)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].TraceID)
	assert.Equal(t, "00f067aa0ba902b7", spans[0].SpanID)
	assert.Equal(t, "00f067aa0ba902b6", spans[0].ParentSpanID)
	assert.Equal(t, "database_query", spans[0].Operation)
	assert.Equal(t, 150*time.Millisecond, spans[0].Duration)
	assert.Equal(t, model.SpanError, spans[0].Status)
	assert.Equal(t, map[string]string{"db": "postgres"}, spans[0].Tags)
	assert.Equal(t, "/var/log/app.log", spans[0].Source)
	assert.True(t, spans[0].IsHighPriority())
	assert.Equal(t, "abc123", spans[1].TraceID)
	assert.Equal(t, "def456", spans[1].SpanID)
	assert.Equal(t, model.SpanOK, spans[1].Status)
}

func newGatewayTransport(t *testing.T, url string, wireFormat string, compression string) *transport.TransportImpl {
	sink, err := gateway.NewGatewaySink(gateway.Config{
		GatewayURL:  url,
		WireFormat:  wireFormat,
		Compression: compression,
		CollectorID: resource.CollectorID,
		UserAgent:   "log-collector/test",
		Resource:    resource,
	}, nil, logger)
	require.NoError(t, err)
	tr := transport.NewTransportImpl(sink, transport.Config{
		MaxRetries:     3,
		RetryBackoff:   time.Second,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 5 * time.Second,
	}, nil, logger)
	tr.SetAfterFunc(func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	})
	return tr
}

func TestCreateRouter(t *testing.T) {
	t.Run("Should record a JSON batch sent by the gateway sink", func(t *testing.T) {
		recorder := NewMemoryRecorderImpl(100)
		srv := httptest.NewServer(CreateRouter(recorder, &Faults{}, "test", logger))
		defer srv.Close()

		tr := newGatewayTransport(t, srv.URL, encoding.FormatJSON, gateway.CompressionGzip)
		batch := sampleBatch()
		outcome := tr.Send(context.Background(), batch)
		require.True(t, outcome.Delivered, "outcome error: %v", outcome.Err)

		records := recorder.Records()
		require.Len(t, records, 2)
		assert.Equal(t, "Database connection failed", records[0].Message)
		assert.Equal(t, model.ErrorLevel, records[0].Level)
		assert.Equal(t, "12345", records[0].Attributes["user_id"])
		assert.Equal(t, "/var/log/app.log", records[0].Source)
		assert.True(t, records[0].Timestamp.Equal(batch.Records[0].Timestamp))

		summary := recorder.Summary()
		assert.Equal(t, uint64(1), summary.Batches)
		require.Len(t, summary.Origins, 1)
		assert.Equal(t, Origin{
			ServiceName: "checkout",
			PodName:     "checkout-1",
			Namespace:   "shop",
			CollectorID: "collector-1",
			BatchID:     batch.ID,
		}, summary.Origins[0])
	})

	t.Run("Should decode OTLP over HTTP back to the same records", func(t *testing.T) {
		recorder := NewMemoryRecorderImpl(100)
		srv := httptest.NewServer(CreateRouter(recorder, &Faults{}, "test", logger))
		defer srv.Close()

		tr := newGatewayTransport(t, srv.URL, encoding.FormatOTLP, gateway.CompressionNone)
		outcome := tr.Send(context.Background(), sampleBatch())
		require.True(t, outcome.Delivered, "outcome error: %v", outcome.Err)

		records := recorder.Records()
		require.Len(t, records, 2)
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", records[0].TraceID)
		assert.Equal(t, "00f067aa0ba902b7", records[0].SpanID)
		assert.Equal(t, "/var/log/app.log", records[0].Source)
		assert.Equal(t, map[string]string{"user_id": "12345"}, records[0].Attributes)
		// Not valid hex, so it travels as an attribute and comes back as the id.
		assert.Equal(t, "abc123", records[1].TraceID)
		assert.Equal(t, model.InfoLevel, records[1].Level)
		assert.Equal(t, "checkout", recorder.Summary().Origins[0].ServiceName)
	})

	t.Run("Should record JSON spans posted after the records", func(t *testing.T) {
		recorder := NewMemoryRecorderImpl(100)
		srv := httptest.NewServer(CreateRouter(recorder, &Faults{}, "test", logger))
		defer srv.Close()

		tr := newGatewayTransport(t, srv.URL, encoding.FormatJSON, gateway.CompressionGzip)
		outcome := tr.Send(context.Background(), sampleSpanBatch())
		require.True(t, outcome.Delivered, "outcome error: %v", outcome.Err)

		assert.Len(t, recorder.Records(), 1)
		assertSampleSpans(t, recorder.Spans())
		summary := recorder.Summary()
		assert.Equal(t, uint64(1), summary.Records)
		assert.Equal(t, uint64(2), summary.Spans)
	})

	t.Run("Should decode OTLP spans over HTTP", func(t *testing.T) {
		recorder := NewMemoryRecorderImpl(100)
		srv := httptest.NewServer(CreateRouter(recorder, &Faults{}, "test", logger))
		defer srv.Close()

		tr := newGatewayTransport(t, srv.URL, encoding.FormatOTLP, gateway.CompressionNone)
		outcome := tr.Send(context.Background(), sampleSpanBatch())
		require.True(t, outcome.Delivered, "outcome error: %v", outcome.Err)

		assertSampleSpans(t, recorder.Spans())
		assert.Equal(t, "collector-1", recorder.Summary().Origins[0].CollectorID)
	})

	t.Run("Should fail the configured number of requests", func(t *testing.T) {
		recorder := NewMemoryRecorderImpl(100)
		faults := &Faults{}
		faults.Set(3, http.StatusServiceUnavailable, 0)
		srv := httptest.NewServer(CreateRouter(recorder, faults, "test", logger))
		defer srv.Close()

		tr := newGatewayTransport(t, srv.URL, encoding.FormatJSON, gateway.CompressionNone)
		outcome := tr.Send(context.Background(), sampleBatch())
		assert.True(t, outcome.Delivered)
		assert.Equal(t, 4, outcome.Attempts)
		assert.Len(t, recorder.Records(), 2)
	})

	t.Run("Should answer the health check", func(t *testing.T) {
		srv := httptest.NewServer(CreateRouter(NewMemoryRecorderImpl(1), nil, "1.2.3", logger))
		defer srv.Close()

		res, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer res.Body.Close()
		var body healthResponse
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		assert.Equal(t, healthResponse{Status: "healthy", Service: "fake-gateway", Version: "1.2.3"}, body)
	})

	t.Run("Should reject a malformed body", func(t *testing.T) {
		srv := httptest.NewServer(CreateRouter(NewMemoryRecorderImpl(1), nil, "test", logger))
		defer srv.Close()

		res, err := http.Post(srv.URL+"/v1/telemetry", "application/json", strings.NewReader(`{"not":"an array"}`))
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestLogServiceServerImpl_Export(t *testing.T) {
	t.Run("Should record records exported over gRPC", func(t *testing.T) {
		recorder := NewMemoryRecorderImpl(100)
		listener := bufconn.Listen(1024 * 1024)
		srv := grpc.NewServer()
		protoLogs.RegisterLogsServiceServer(srv, NewLogServiceServerImpl(recorder, logger))
		go func() {
			_ = srv.Serve(listener)
		}()
		defer srv.Stop()

		conn, err := grpc.NewClient(
			"passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return listener.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		require.NoError(t, err)
		sink, err := otlp_grpc.NewOTLPGrpcSinkWithConn(conn, otlp_grpc.Config{Resource: resource}, logger)
		require.NoError(t, err)
		defer sink.Close()

		payload, err := sink.Prepare(sampleBatch())
		require.NoError(t, err)
		require.NoError(t, sink.Deliver(context.Background(), payload))

		records := recorder.Records()
		require.Len(t, records, 2)
		assert.Equal(t, model.ErrorLevel, records[0].Level)
		assert.Equal(t, "Request served", records[1].Message)
		assert.Equal(t, "collector-1", recorder.Summary().Origins[0].CollectorID)
	})
}

func TestTraceServiceServerImpl_Export(t *testing.T) {
	t.Run("Should record spans exported over gRPC", func(t *testing.T) {
		recorder := NewMemoryRecorderImpl(100)
		listener := bufconn.Listen(1024 * 1024)
		srv := grpc.NewServer()
		protoLogs.RegisterLogsServiceServer(srv, NewLogServiceServerImpl(recorder, logger))
		protoTrace.RegisterTraceServiceServer(srv, NewTraceServiceServerImpl(recorder, logger))
		go func() {
			_ = srv.Serve(listener)
		}()
		defer srv.Stop()

		conn, err := grpc.NewClient(
			"passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return listener.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		require.NoError(t, err)
		sink, err := otlp_grpc.NewOTLPGrpcSinkWithConn(conn, otlp_grpc.Config{Resource: resource}, logger)
		require.NoError(t, err)
		defer sink.Close()

		payload, err := sink.Prepare(sampleSpanBatch())
		require.NoError(t, err)
		require.NoError(t, sink.Deliver(context.Background(), payload))

		assert.Len(t, recorder.Records(), 1)
		assertSampleSpans(t, recorder.Spans())
	})
}

func TestMemoryRecorderImpl_Record(t *testing.T) {
	t.Run("Should keep only the newest records up to the limit", func(t *testing.T) {
		recorder := NewMemoryRecorderImpl(3)
		for i := 0; i < 5; i++ {
			recorder.Record(Origin{ServiceName: "svc"}, []model.LogRecord{
				model.NewLogRecord(model.RecordFields{Message: string(rune('a' + i))}),
			})
		}
		records := recorder.Records()
		require.Len(t, records, 3)
		assert.Equal(t, "c", records[0].Message)
		assert.Equal(t, "e", records[2].Message)
		assert.Equal(t, uint64(5), recorder.Summary().Records)
	})
}
