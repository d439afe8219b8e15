package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/encoding"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/url"
	"time"
)

type RefreshRate string

const (
	// Wait for the changes made by the request to be made visible by a refresh before replying.
	Wait RefreshRate = "wait_for"
	// Async takes no refresh related actions.
	Async RefreshRate = "false"
)

type Config struct {
	Address   string
	IndexName string
	Refresh   RefreshRate
	Resource  encoding.Resource
}

type document struct {
	Timestamp   string            `json:"timestamp"`
	Level       string            `json:"level"`
	Message     string            `json:"message"`
	TraceID     string            `json:"trace_id,omitempty"`
	SpanID      string            `json:"span_id,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Source      string            `json:"source"`
	ServiceName string            `json:"service_name"`
	PodName     string            `json:"pod_name"`
	Namespace   string            `json:"namespace"`
}

type spanDocument struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Operation    string            `json:"operation_name"`
	StartTime    string            `json:"start_time"`
	EndTime      string            `json:"end_time"`
	DurationMS   int64             `json:"duration_ms"`
	Status       string            `json:"status"`
	Tags         map[string]string `json:"tags,omitempty"`
	Source       string            `json:"source"`
	ServiceName  string            `json:"service_name"`
	PodName      string            `json:"pod_name"`
	Namespace    string            `json:"namespace"`
}

// ElasticsearchSink bulk-indexes batches. Document ids derive from the batch
// id so a retried batch overwrites rather than duplicates. Spans share the
// bulk request but land in their own index.
type ElasticsearchSink struct {
	es        *elasticsearch.Client
	indexName string
	spanIndex string
	refresh   RefreshRate
	resource  encoding.Resource
	logger    *zap.Logger
}

// NewClient builds a client with its own retries disabled; retrying is the
// transport's job.
func NewClient(address string) (*elasticsearch.Client, error) {
	parsed, err := url.Parse(address)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: elasticsearch address %q", transport.ErrInvalidConfig, address)
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{address},
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create elasticsearch client: %v", transport.ErrInvalidConfig, err)
	}
	return es, nil
}

func NewElasticsearchSink(es *elasticsearch.Client, config Config, logger *zap.Logger) *ElasticsearchSink {
	indexName := config.IndexName
	if indexName == "" {
		indexName = DefaultIndexName
	}
	refresh := config.Refresh
	if refresh == "" {
		refresh = Async
	}
	return &ElasticsearchSink{
		es:        es,
		indexName: indexName,
		spanIndex: SpanIndexName(indexName),
		refresh:   refresh,
		resource:  config.Resource,
		logger:    logger,
	}
}

func (ess *ElasticsearchSink) Name() string {
	return "elasticsearch"
}

func (ess *ElasticsearchSink) Prepare(batch *model.Batch) (transport.Payload, error) {
	var buf bytes.Buffer
	for i, record := range batch.Records {
		action := map[string]interface{}{"_id": fmt.Sprintf("%s-%d", batch.ID, i)}
		if err := writeBulkItem(&buf, action, ess.toDocument(record)); err != nil {
			return transport.Payload{}, err
		}
	}
	for i, span := range batch.Spans {
		action := map[string]interface{}{
			"_index": ess.spanIndex,
			"_id":    fmt.Sprintf("%s-span-%d", batch.ID, i),
		}
		if err := writeBulkItem(&buf, action, ess.toSpanDocument(span)); err != nil {
			return transport.Payload{}, err
		}
	}
	return transport.Payload{
		BatchID:     batch.ID,
		Records:     batch.Len(),
		Body:        buf.Bytes(),
		ContentType: "application/x-ndjson",
	}, nil
}

func writeBulkItem(buf *bytes.Buffer, action map[string]interface{}, doc interface{}) error {
	metaJSON, err := json.Marshal(map[string]interface{}{"index": action})
	if err != nil {
		return fmt.Errorf("error marshaling meta to bulk index: %w", err)
	}
	buf.Write(metaJSON)
	buf.WriteByte('\n')

	dataJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("error marshaling data to bulk index: %w", err)
	}
	buf.Write(dataJSON)
	buf.WriteByte('\n')
	return nil
}

func (ess *ElasticsearchSink) toDocument(record model.LogRecord) document {
	return document{
		Timestamp:   record.Timestamp.UTC().Format(time.RFC3339Nano),
		Level:       record.Level.String(),
		Message:     record.Message,
		TraceID:     record.TraceID,
		SpanID:      record.SpanID,
		Attributes:  record.Attributes,
		Source:      record.Source,
		ServiceName: ess.resource.ServiceName,
		PodName:     ess.resource.PodName,
		Namespace:   ess.resource.Namespace,
	}
}

func (ess *ElasticsearchSink) toSpanDocument(span model.Span) spanDocument {
	return spanDocument{
		TraceID:      span.TraceID,
		SpanID:       span.SpanID,
		ParentSpanID: span.ParentSpanID,
		Operation:    span.Operation,
		StartTime:    span.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:      span.EndTime.UTC().Format(time.RFC3339Nano),
		DurationMS:   span.Duration.Milliseconds(),
		Status:       span.Status.String(),
		Tags:         span.Tags,
		Source:       span.Source,
		ServiceName:  ess.resource.ServiceName,
		PodName:      ess.resource.PodName,
		Namespace:    ess.resource.Namespace,
	}
}

func (ess *ElasticsearchSink) Deliver(ctx context.Context, payload transport.Payload) error {
	res, err := ess.es.Bulk(
		bytes.NewReader(payload.Body),
		ess.es.Bulk.WithIndex(ess.indexName),
		ess.es.Bulk.WithContext(ctx),
		ess.es.Bulk.WithRefresh(string(ess.refresh)),
	)
	if err != nil {
		return transport.NewRetryableError(fmt.Errorf("error bulk indexing batch %s: %w", payload.BatchID, err))
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return transport.NewRetryableError(fmt.Errorf("error reading bulk response: %w", err))
	}
	if res.IsError() {
		return transport.NewStatusError(res.StatusCode, res.Header, body)
	}

	var bulk bulkResponse
	if err := json.Unmarshal(body, &bulk); err != nil {
		return transport.NewTerminalError(fmt.Errorf("failed to decode bulk response: %w", err))
	}
	if !bulk.Errors {
		return nil
	}
	return ess.itemError(payload, bulk)
}

// itemError reports the first failed item. The batch is retryable when any
// item failed with a retryable status, since already indexed ids are simply
// overwritten.
func (ess *ElasticsearchSink) itemError(payload transport.Payload, bulk bulkResponse) error {
	var first *bulkItemResult
	failed := 0
	class := transport.Terminal
	for i := range bulk.Items {
		item := &bulk.Items[i].Index
		if item.Error == nil && item.Status < http.StatusMultipleChoices {
			continue
		}
		failed++
		if first == nil {
			first = item
		}
		if transport.ClassifyStatus(item.Status) == transport.Retryable {
			class = transport.Retryable
		}
	}
	if first == nil {
		return nil
	}
	reason := ""
	if first.Error != nil {
		reason = fmt.Sprintf("%s: %s", first.Error.Type, first.Error.Reason)
	}
	ess.logger.Warn(
		"Bulk request had item failures",
		zap.String("batch_id", payload.BatchID),
		zap.Int("failed", failed),
		zap.Int("records", payload.Records),
		zap.String("first_error", reason),
	)
	return &transport.DeliveryError{
		Class:      class,
		StatusCode: first.Status,
		Err:        fmt.Errorf("%d of %d documents failed, first: %s", failed, payload.Records, reason),
	}
}

func (ess *ElasticsearchSink) HealthCheck(ctx context.Context) error {
	res, err := ess.es.Info(ess.es.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to reach Elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("cluster info error: %s", res.String())
	}
	return nil
}

func (ess *ElasticsearchSink) Close() error {
	return nil
}
