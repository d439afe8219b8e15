package otlp_grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/encoding"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"net/url"
	"strings"
)

type Config struct {
	// Endpoint is http://host:port for plaintext or https://host:port for TLS.
	Endpoint    string
	Compression string
	Resource    encoding.Resource
}

// OTLPGrpcSink exports records through the OTLP LogsService and spans through
// the TraceService on the same connection.
type OTLPGrpcSink struct {
	conn     *grpc.ClientConn
	client   protoLogs.LogsServiceClient
	traces   protoTrace.TraceServiceClient
	encoder  *encoding.OTLPEncoder
	callOpts []grpc.CallOption
	logger   *zap.Logger
}

func NewOTLPGrpcSink(config Config, logger *zap.Logger) (*OTLPGrpcSink, error) {
	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: otlp endpoint %q: %v", transport.ErrInvalidConfig, config.Endpoint, err)
	}
	var creds credentials.TransportCredentials
	switch endpoint.Scheme {
	case "http":
		creds = insecure.NewCredentials()
	case "https":
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	default:
		return nil, fmt.Errorf("%w: otlp endpoint %q must be http(s)", transport.ErrInvalidConfig, config.Endpoint)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("%w: otlp endpoint %q has no host", transport.ErrInvalidConfig, config.Endpoint)
	}
	conn, err := grpc.NewClient(endpoint.Host, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create grpc client: %v", transport.ErrInvalidConfig, err)
	}
	return NewOTLPGrpcSinkWithConn(conn, config, logger)
}

func NewOTLPGrpcSinkWithConn(conn *grpc.ClientConn, config Config, logger *zap.Logger) (*OTLPGrpcSink, error) {
	var callOpts []grpc.CallOption
	switch strings.ToLower(config.Compression) {
	case "", "none":
	case gzip.Name:
		callOpts = append(callOpts, grpc.UseCompressor(gzip.Name))
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", transport.ErrInvalidConfig, config.Compression)
	}
	return &OTLPGrpcSink{
		conn:     conn,
		client:   protoLogs.NewLogsServiceClient(conn),
		traces:   protoTrace.NewTraceServiceClient(conn),
		encoder:  encoding.NewOTLPEncoder(config.Resource),
		callOpts: callOpts,
		logger:   logger,
	}, nil
}

func (ogs *OTLPGrpcSink) Name() string {
	return "otlp_grpc"
}

func (ogs *OTLPGrpcSink) Prepare(batch *model.Batch) (transport.Payload, error) {
	payload := transport.Payload{
		BatchID:     batch.ID,
		Records:     batch.Len(),
		ContentType: ogs.encoder.ContentType(),
	}
	var err error
	if len(batch.Records) > 0 {
		if payload.Body, err = ogs.encoder.Encode(batch); err != nil {
			return transport.Payload{}, err
		}
	}
	if len(batch.Spans) > 0 {
		if payload.SpanBody, err = ogs.encoder.EncodeSpans(batch); err != nil {
			return transport.Payload{}, err
		}
	}
	return payload, nil
}

// Deliver exports the records, then the spans.
func (ogs *OTLPGrpcSink) Deliver(ctx context.Context, payload transport.Payload) error {
	if payload.Body != nil {
		if err := ogs.exportLogs(ctx, payload); err != nil {
			return err
		}
	}
	if payload.SpanBody != nil {
		return ogs.exportSpans(ctx, payload)
	}
	return nil
}

func (ogs *OTLPGrpcSink) exportLogs(ctx context.Context, payload transport.Payload) error {
	var req protoLogs.ExportLogsServiceRequest
	if err := proto.Unmarshal(payload.Body, &req); err != nil {
		return transport.NewTerminalError(fmt.Errorf("failed to decode payload %s: %w", payload.BatchID, err))
	}
	resp, err := ogs.client.Export(ctx, &req, ogs.callOpts...)
	if err != nil {
		return classify(err)
	}
	if partial := resp.GetPartialSuccess(); partial != nil && partial.RejectedLogRecords > 0 {
		ogs.logger.Warn(
			"Gateway rejected part of the batch",
			zap.String("batch_id", payload.BatchID),
			zap.Int64("rejected", partial.RejectedLogRecords),
			zap.String("reason", partial.ErrorMessage),
		)
	}
	return nil
}

func (ogs *OTLPGrpcSink) exportSpans(ctx context.Context, payload transport.Payload) error {
	var req protoTrace.ExportTraceServiceRequest
	if err := proto.Unmarshal(payload.SpanBody, &req); err != nil {
		return transport.NewTerminalError(fmt.Errorf("failed to decode spans of payload %s: %w", payload.BatchID, err))
	}
	resp, err := ogs.traces.Export(ctx, &req, ogs.callOpts...)
	if err != nil {
		return classify(err)
	}
	if partial := resp.GetPartialSuccess(); partial != nil && partial.RejectedSpans > 0 {
		ogs.logger.Warn(
			"Gateway rejected part of the spans",
			zap.String("batch_id", payload.BatchID),
			zap.Int64("rejected", partial.RejectedSpans),
			zap.String("reason", partial.ErrorMessage),
		)
	}
	return nil
}

var retryableCodes = map[codes.Code]bool{
	codes.Canceled:          true,
	codes.DeadlineExceeded:  true,
	codes.Aborted:           true,
	codes.OutOfRange:        true,
	codes.Unavailable:       true,
	codes.DataLoss:          true,
	codes.ResourceExhausted: true,
}

func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return transport.NewRetryableError(err)
	}
	if retryableCodes[st.Code()] {
		return transport.NewRetryableError(fmt.Errorf("export failed with %s: %w", st.Code(), err))
	}
	return transport.NewTerminalError(fmt.Errorf("export failed with %s: %w", st.Code(), err))
}

// HealthCheck sends an empty export, which a conforming server accepts.
func (ogs *OTLPGrpcSink) HealthCheck(ctx context.Context) error {
	if _, err := ogs.client.Export(ctx, &protoLogs.ExportLogsServiceRequest{}); err != nil {
		return fmt.Errorf("empty export failed: %w", err)
	}
	return nil
}

func (ogs *OTLPGrpcSink) Close() error {
	return ogs.conn.Close()
}
