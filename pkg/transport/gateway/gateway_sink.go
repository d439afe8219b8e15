package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/encoding"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	telemetryPath  = "/v1/telemetry"
	spansPath      = "/v1/spans"
	otlpLogsPath   = "/v1/logs"
	otlpTracesPath = "/v1/traces"
	healthPath     = "/health"

	CompressionNone = "none"
	CompressionGzip = "gzip"

	maxResponseBody = 4096
)

type Config struct {
	GatewayURL  string
	WireFormat  string
	Compression string
	CollectorID string
	UserAgent   string
	Resource    encoding.Resource
}

type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// GatewaySink POSTs encoded batches to the telemetry gateway over HTTP(S).
// Records and spans go to separate paths, records first.
type GatewaySink struct {
	ingestURL   string
	spansURL    string
	healthURL   string
	encoder     encoding.Encoder
	compression string
	collectorID string
	userAgent   string
	client      *http.Client
	logger      *zap.Logger
}

func NewGatewaySink(config Config, client *http.Client, logger *zap.Logger) (*GatewaySink, error) {
	base, err := url.Parse(strings.TrimRight(config.GatewayURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: gateway url %q: %v", transport.ErrInvalidConfig, config.GatewayURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: gateway url %q must be absolute http(s)", transport.ErrInvalidConfig, config.GatewayURL)
	}
	encoder, err := encoding.New(config.WireFormat, config.Resource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrInvalidConfig, err)
	}
	compression := strings.ToLower(config.Compression)
	switch compression {
	case "", CompressionNone:
		compression = CompressionNone
	case CompressionGzip:
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", transport.ErrInvalidConfig, config.Compression)
	}
	path, spanPath := telemetryPath, spansPath
	if strings.EqualFold(config.WireFormat, encoding.FormatOTLP) {
		path, spanPath = otlpLogsPath, otlpTracesPath
	}
	if client == nil {
		client = &http.Client{}
	}
	return &GatewaySink{
		ingestURL:   base.String() + path,
		spansURL:    base.String() + spanPath,
		healthURL:   base.String() + healthPath,
		encoder:     encoder,
		compression: compression,
		collectorID: config.CollectorID,
		userAgent:   config.UserAgent,
		client:      client,
		logger:      logger,
	}, nil
}

func (gs *GatewaySink) Name() string {
	return "gateway"
}

func (gs *GatewaySink) Prepare(batch *model.Batch) (transport.Payload, error) {
	payload := transport.Payload{
		BatchID:     batch.ID,
		Records:     batch.Len(),
		ContentType: gs.encoder.ContentType(),
	}
	if gs.compression == CompressionGzip {
		payload.ContentEncoding = CompressionGzip
	}
	var err error
	if len(batch.Records) > 0 {
		if payload.Body, err = gs.encode(gs.encoder.Encode, batch); err != nil {
			return transport.Payload{}, err
		}
	}
	if len(batch.Spans) > 0 {
		if payload.SpanBody, err = gs.encode(gs.encoder.EncodeSpans, batch); err != nil {
			return transport.Payload{}, err
		}
	}
	return payload, nil
}

func (gs *GatewaySink) encode(encode func(*model.Batch) ([]byte, error), batch *model.Batch) ([]byte, error) {
	body, err := encode(batch)
	if err != nil {
		return nil, err
	}
	if gs.compression == CompressionGzip {
		return compress(body)
	}
	return body, nil
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(body); err != nil {
		return nil, fmt.Errorf("failed to gzip payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to gzip payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Deliver posts the records, then the spans. A retry after a failed span post
// sends the records again.
func (gs *GatewaySink) Deliver(ctx context.Context, payload transport.Payload) error {
	if payload.Body != nil {
		if err := gs.post(ctx, gs.ingestURL, payload.Body, payload); err != nil {
			return err
		}
	}
	if payload.SpanBody != nil {
		return gs.post(ctx, gs.spansURL, payload.SpanBody, payload)
	}
	return nil
}

func (gs *GatewaySink) post(ctx context.Context, target string, body []byte, payload transport.Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return transport.NewFatalError(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", payload.ContentType)
	if payload.ContentEncoding != "" {
		req.Header.Set("Content-Encoding", payload.ContentEncoding)
	}
	if gs.userAgent != "" {
		req.Header.Set("User-Agent", gs.userAgent)
	}
	req.Header.Set("X-Batch-Id", payload.BatchID)
	req.Header.Set("X-Collector-Id", gs.collectorID)

	resp, err := gs.client.Do(req)
	if err != nil {
		return transport.NewRetryableError(fmt.Errorf("failed to post batch %s: %w", payload.BatchID, err))
	}
	defer resp.Body.Close()
	body, _ = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return transport.NewStatusError(resp.StatusCode, resp.Header, body)
}

// HealthCheck expects a 2xx from GET /health. A JSON body describing the
// gateway is logged when present.
func (gs *GatewaySink) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gs.healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	if gs.userAgent != "" {
		req.Header.Set("User-Agent", gs.userAgent)
	}
	resp, err := gs.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transport.NewStatusError(resp.StatusCode, resp.Header, body)
	}
	var status HealthStatus
	if err := json.Unmarshal(body, &status); err == nil && status.Status != "" {
		gs.logger.Info(
			"Gateway is healthy",
			zap.String("status", status.Status),
			zap.String("service", status.Service),
			zap.String("version", status.Version),
		)
	}
	return nil
}

func (gs *GatewaySink) Close() error {
	gs.client.CloseIdleConnections()
	return nil
}
