package collector

import (
	"context"
	"errors"
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/event_bus"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/parser"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/priority_buffer"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/tail"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport"
	"go.uber.org/zap"
	"sync"
	"sync/atomic"
	"time"
)

const (
	HealthCheckWarn  = "warn"
	HealthCheckAbort = "abort"
)

var ErrHealthCheckFailed = errors.New("gateway health check failed")

type Config struct {
	ServiceName           string
	PodName               string
	Namespace             string
	BatchSize             int
	FlushInterval         time.Duration
	FlushThreshold        float64
	PollInterval          time.Duration
	DrainTimeout          time.Duration
	HealthCheckPolicy     string
	HealthCheckTimeout    time.Duration
	MetricsReportInterval time.Duration
	// TailErrorLimit consecutive read errors pause a source for TailErrorPause.
	TailErrorLimit int
	TailErrorPause time.Duration
}

// SourceReader pairs a source with the parser for its format.
type SourceReader struct {
	Source tail.Source
	Parser parser.LogParser
}

type Observer interface {
	ObserveLines(source string, n int)
	ObserveTailError(source string)
}

type StatePublisher interface {
	Publish(topic string, arg event_bus.StateChange) error
}

type Collector interface {
	Run(ctx context.Context) error
	State() State
	Stats() Stats
}

type Stats struct {
	CollectorID   string                      `json:"collector_id"`
	ServiceName   string                      `json:"service_name"`
	PodName       string                      `json:"pod_name"`
	Namespace     string                      `json:"namespace"`
	State         string                      `json:"state"`
	StartedAt     time.Time                   `json:"started_at"`
	Sources       int                         `json:"sources"`
	LinesRead     uint64                      `json:"lines_read"`
	RecordsParsed uint64                      `json:"records_parsed"`
	SpansParsed   uint64                      `json:"spans_parsed"`
	TailErrors    uint64                      `json:"tail_errors"`
	Undelivered   uint64                      `json:"undelivered"`
	Buffer        priority_buffer.BufferStats `json:"buffer"`
	SpanBuffer    priority_buffer.BufferStats `json:"span_buffer"`
	Transport     transport.Stats             `json:"transport"`
}

// CollectorImpl moves records and spans from its sources through the buffers
// to the transport. Run drives the lifecycle Starting, Running, Draining,
// Stopped.
type CollectorImpl struct {
	id        string
	config    Config
	sources   []SourceReader
	buffer    priority_buffer.PriorityBuffer[model.LogRecord]
	spans     priority_buffer.PriorityBuffer[model.Span]
	transport transport.Transport
	publisher StatePublisher
	observer  Observer
	logger    *zap.Logger

	state     atomic.Int32
	startedAt time.Time

	linesRead     atomic.Uint64
	recordsParsed atomic.Uint64
	spansParsed   atomic.Uint64
	tailErrors    atomic.Uint64
	undelivered   atomic.Uint64
}

// NewCollectorImpl accepts a nil spans buffer and sizes one like buffer.
func NewCollectorImpl(
	id string,
	config Config,
	sources []SourceReader,
	buffer priority_buffer.PriorityBuffer[model.LogRecord],
	spans priority_buffer.PriorityBuffer[model.Span],
	sender transport.Transport,
	publisher StatePublisher,
	observer Observer,
	logger *zap.Logger,
) *CollectorImpl {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.TailErrorLimit <= 0 {
		config.TailErrorLimit = 10
	}
	if config.TailErrorPause <= 0 {
		config.TailErrorPause = 30 * time.Second
	}
	if spans == nil {
		spans = priority_buffer.NewPriorityBufferImpl[model.Span](buffer.Capacity(), logger)
	}
	return &CollectorImpl{
		id:        id,
		config:    config,
		sources:   sources,
		buffer:    buffer,
		spans:     spans,
		transport: sender,
		publisher: publisher,
		observer:  observer,
		logger:    logger.With(zap.String("collector_id", id)),
		startedAt: time.Now(),
	}
}

func (c *CollectorImpl) ID() string {
	return c.id
}

func (c *CollectorImpl) State() State {
	return State(c.state.Load())
}

func (c *CollectorImpl) setState(next State) {
	previous := State(c.state.Swap(int32(next)))
	if previous == next {
		return
	}
	c.logger.Info("Collector state changed", zap.Stringer("from", previous), zap.Stringer("to", next))
	if c.publisher == nil {
		return
	}
	err := c.publisher.Publish(event_bus.StateTopic, event_bus.StateChange{
		CollectorID: c.id,
		From:        previous.String(),
		To:          next.String(),
		At:          time.Now(),
	})
	if err != nil {
		c.logger.Error("Failed to publish state change", zap.Error(err))
	}
}

// Run blocks until ctx is cancelled and the drain phase has finished. It
// only returns an error when the collector cannot start.
func (c *CollectorImpl) Run(ctx context.Context) error {
	c.logger.Info(
		"Starting collector",
		zap.String("service_name", c.config.ServiceName),
		zap.String("pod_name", c.config.PodName),
		zap.String("namespace", c.config.Namespace),
		zap.Int("sources", len(c.sources)),
	)
	if err := c.healthCheck(ctx); err != nil {
		c.setState(Stopped)
		return err
	}
	c.setState(Running)

	batches := make(chan *model.Batch, 1)
	ready := make(chan struct{}, 1)

	var tailers sync.WaitGroup
	for _, source := range c.sources {
		tailers.Add(1)
		go func(source SourceReader) {
			defer tailers.Done()
			c.tail(ctx, source)
		}(source)
	}

	var interrupted []*model.Batch
	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		interrupted = c.send(ctx, batches, ready)
	}()

	c.flushLoop(ctx, batches, ready)

	c.setState(Draining)
	tailers.Wait()
	<-senderDone
	select {
	case batch := <-batches:
		interrupted = append(interrupted, batch)
	default:
	}
	c.drain(interrupted)

	if err := c.transport.Close(); err != nil {
		c.logger.Warn("Failed to close transport", zap.Error(err))
	}
	c.setState(Stopped)
	return nil
}

func (c *CollectorImpl) healthCheck(ctx context.Context) error {
	timeout := c.config.HealthCheckTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	healthCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := c.transport.HealthCheck(healthCtx)
	if err == nil {
		return nil
	}
	if c.config.HealthCheckPolicy == HealthCheckAbort {
		c.logger.Error("Gateway health check failed, aborting", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrHealthCheckFailed, err)
	}
	c.logger.Warn("Gateway health check failed, continuing", zap.Error(err))
	return nil
}

func (c *CollectorImpl) tail(ctx context.Context, source SourceReader) {
	path := source.Source.Path()
	consecutiveErrors := 0
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	for {
		lines, err := source.Source.ReadLines()
		if err != nil {
			consecutiveErrors++
			c.tailErrors.Add(1)
			if c.observer != nil {
				c.observer.ObserveTailError(path)
			}
			c.logger.Warn(
				"Failed to read log source",
				zap.String("path", path),
				zap.Int("consecutive_errors", consecutiveErrors),
				zap.Error(err),
			)
			if consecutiveErrors >= c.config.TailErrorLimit {
				c.logger.Error(
					"Too many consecutive errors, pausing source",
					zap.String("path", path),
					zap.Duration("pause", c.config.TailErrorPause),
				)
				if !sleep(ctx, c.config.TailErrorPause) {
					return
				}
				consecutiveErrors = 0
			}
		} else {
			consecutiveErrors = 0
			c.ingest(source, path, lines)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *CollectorImpl) ingest(source SourceReader, path string, lines []string) {
	if len(lines) == 0 {
		return
	}
	c.linesRead.Add(uint64(len(lines)))
	if c.observer != nil {
		c.observer.ObserveLines(path, len(lines))
	}
	spanParser, _ := source.Parser.(parser.SpanParser)
	for _, line := range lines {
		if record, ok := source.Parser.Parse(line, path); ok {
			c.recordsParsed.Add(1)
			c.buffer.Push(record)
		}
		if spanParser == nil {
			continue
		}
		if span, ok := spanParser.ParseSpan(line, path); ok {
			c.spansParsed.Add(1)
			c.spans.Push(span)
		}
	}
}

// flushLoop hands batches to the sender until ctx is done. It only drains the
// buffer when the sender's slot is free, so records wait in the buffer while a
// send is backing off.
func (c *CollectorImpl) flushLoop(ctx context.Context, batches chan<- *model.Batch, ready <-chan struct{}) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	var report <-chan time.Time
	if c.config.MetricsReportInterval > 0 {
		reportTicker := time.NewTicker(c.config.MetricsReportInterval)
		defer reportTicker.Stop()
		report = reportTicker.C
	}
	lastFlush := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-report:
			c.report()
			continue
		case <-ticker.C:
		case <-ready:
		}
		if len(batches) == cap(batches) || !c.shouldFlush(lastFlush) {
			continue
		}
		batch := c.nextBatch()
		if batch == nil {
			continue
		}
		batches <- batch
		lastFlush = time.Now()
	}
}

// nextBatch takes up to BatchSize records and up to BatchSize spans.
func (c *CollectorImpl) nextBatch() *model.Batch {
	records := c.buffer.Drain(c.config.BatchSize)
	spans := c.spans.Drain(c.config.BatchSize)
	if len(records) == 0 && len(spans) == 0 {
		return nil
	}
	return model.NewTelemetryBatch(records, spans)
}

func (c *CollectorImpl) shouldFlush(lastFlush time.Time) bool {
	records, spans := c.buffer.Len(), c.spans.Len()
	if records == 0 && spans == 0 {
		return false
	}
	return records >= c.config.BatchSize ||
		spans >= c.config.BatchSize ||
		c.buffer.Occupancy() >= c.config.FlushThreshold ||
		c.spans.Occupancy() >= c.config.FlushThreshold ||
		time.Since(lastFlush) >= c.config.FlushInterval
}

// send delivers batches one at a time and returns the batch interrupted by
// shutdown, if any.
func (c *CollectorImpl) send(ctx context.Context, batches <-chan *model.Batch, ready chan<- struct{}) []*model.Batch {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-batches:
			outcome := c.transport.Send(ctx, batch)
			if outcome.Interrupted {
				return []*model.Batch{batch}
			}
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	}
}

// drain sends what is left within DrainTimeout. Anything still undelivered
// is counted and discarded.
func (c *CollectorImpl) drain(pending []*model.Batch) {
	drainCtx, cancel := context.WithTimeout(context.Background(), c.config.DrainTimeout)
	defer cancel()

	var undelivered uint64
	sent := 0
	next := func() *model.Batch {
		if len(pending) > 0 {
			batch := pending[0]
			pending = pending[1:]
			return batch
		}
		return c.nextBatch()
	}
	for batch := next(); batch != nil; batch = next() {
		if drainCtx.Err() != nil {
			undelivered += uint64(batch.Len())
			c.transport.Forget(batch.ID)
			continue
		}
		outcome := c.transport.Send(drainCtx, batch)
		sent++
		if !outcome.Delivered {
			undelivered += uint64(batch.Len())
		}
		if outcome.Interrupted {
			c.transport.Forget(batch.ID)
		}
	}
	c.undelivered.Add(undelivered)
	if undelivered > 0 {
		c.logger.Warn("Discarding undelivered records at shutdown", zap.Uint64("undelivered", undelivered))
	}
	c.logger.Info("Drain finished", zap.Int("batches", sent), zap.Uint64("undelivered", undelivered))
}

func (c *CollectorImpl) report() {
	stats := c.Stats()
	c.logger.Info(
		"Collector metrics",
		zap.String("state", stats.State),
		zap.Uint64("lines_read", stats.LinesRead),
		zap.Uint64("records_parsed", stats.RecordsParsed),
		zap.Uint64("spans_parsed", stats.SpansParsed),
		zap.Int("buffered", stats.Buffer.High+stats.Buffer.Normal),
		zap.Int("buffered_spans", stats.SpanBuffer.High+stats.SpanBuffer.Normal),
		zap.Float64("buffer_occupancy", stats.Buffer.Occupancy),
		zap.Uint64("buffer_rejected", stats.Buffer.Rejected),
		zap.Uint64("buffer_evicted", stats.Buffer.Evicted),
		zap.Uint64("attempts", stats.Transport.Attempts),
		zap.Uint64("batches_delivered", stats.Transport.BatchesDelivered),
		zap.Uint64("batches_dropped", stats.Transport.BatchesDropped),
		zap.Uint64("records_dropped", stats.Transport.RecordsDropped),
	)
}

func (c *CollectorImpl) Stats() Stats {
	return Stats{
		CollectorID:   c.id,
		ServiceName:   c.config.ServiceName,
		PodName:       c.config.PodName,
		Namespace:     c.config.Namespace,
		State:         c.State().String(),
		StartedAt:     c.startedAt,
		Sources:       len(c.sources),
		LinesRead:     c.linesRead.Load(),
		RecordsParsed: c.recordsParsed.Load(),
		SpansParsed:   c.spansParsed.Load(),
		TailErrors:    c.tailErrors.Load(),
		Undelivered:   c.undelivered.Load(),
		Buffer:        c.buffer.Stats(),
		SpanBuffer:    c.spans.Stats(),
		Transport:     c.transport.Stats(),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
