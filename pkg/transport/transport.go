package transport

import (
	"context"
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/event_bus"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"sync"
	"time"
)

type Config struct {
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

type Transport interface {
	Send(ctx context.Context, batch *model.Batch) Outcome
	// Forget releases the payload kept for an interrupted batch that will not
	// be sent again.
	Forget(batchID string)
	HealthCheck(ctx context.Context) error
	Stats() Stats
	Close() error
}

// Outcome describes what happened to one batch in one Send call. An
// interrupted batch is neither delivered nor dropped: the caller may Send it
// again and the same payload bytes are reused.
type Outcome struct {
	BatchID     string
	Records     int
	Delivered   bool
	Attempts    int
	Err         error
	Class       ErrorClass
	Interrupted bool
	Duration    time.Duration
}

func (o Outcome) Dropped() bool {
	return !o.Delivered && !o.Interrupted
}

type Stats struct {
	Attempts         uint64        `json:"attempts"`
	BatchesDelivered uint64        `json:"batches_delivered"`
	BatchesDropped   uint64        `json:"batches_dropped"`
	RecordsDelivered uint64        `json:"records_delivered"`
	RecordsDropped   uint64        `json:"records_dropped"`
	Interrupted      uint64        `json:"interrupted"`
	AttemptDuration  time.Duration `json:"attempt_duration"`
	LastSuccess      time.Time     `json:"last_success"`
}

type OutcomePublisher interface {
	Publish(topic string, arg event_bus.BatchOutcome) error
}

// TransportImpl sends one batch at a time through a Sink, retrying retryable
// failures on an exponential schedule. Backoff waits end early when the
// caller's context is cancelled; attempts already on the wire do not.
type TransportImpl struct {
	sink      Sink
	config    Config
	after     func(time.Duration) <-chan time.Time
	pending   map[string]Payload
	publisher OutcomePublisher
	logger    *zap.Logger
	mu        sync.Mutex

	stats   Stats
	statsMu sync.Mutex
}

func NewTransportImpl(
	sink Sink,
	config Config,
	publisher OutcomePublisher,
	logger *zap.Logger,
) *TransportImpl {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxBackoff < config.RetryBackoff {
		config.MaxBackoff = config.RetryBackoff
	}
	return &TransportImpl{
		sink:      sink,
		config:    config,
		pending:   make(map[string]Payload),
		publisher: publisher,
		logger:    logger,
	}
}

// SetAfterFunc replaces the timer used for backoff waits.
func (t *TransportImpl) SetAfterFunc(after func(time.Duration) <-chan time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.after = after
}

func (t *TransportImpl) Send(ctx context.Context, batch *model.Batch) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	outcome := t.send(ctx, batch)
	outcome.Duration = time.Since(start)
	t.record(outcome)
	t.publish(outcome)
	return outcome
}

func (t *TransportImpl) send(ctx context.Context, batch *model.Batch) Outcome {
	outcome := Outcome{BatchID: batch.ID, Records: batch.Len()}
	payload, err := t.payload(batch)
	if err != nil {
		t.logger.Error(
			"Failed to encode batch, discarding",
			zap.String("batch_id", batch.ID),
			zap.Int("records", batch.Len()),
			zap.Error(err),
		)
		outcome.Err = err
		outcome.Class = Terminal
		return outcome
	}

	maxAttempts := t.config.MaxRetries + 1
	for {
		batch.AttemptCount++
		outcome.Attempts++
		attemptStart := time.Now()
		err := t.attempt(ctx, payload)
		t.recordAttempt(time.Since(attemptStart))
		if err == nil {
			delete(t.pending, batch.ID)
			outcome.Delivered = true
			outcome.Err = nil
			t.logger.Debug(
				"Delivered batch",
				zap.String("batch_id", batch.ID),
				zap.Int("records", batch.Len()),
				zap.Int("attempt", batch.AttemptCount),
			)
			return outcome
		}

		outcome.Err = err
		outcome.Class = Classify(err)
		if outcome.Class != Retryable {
			delete(t.pending, batch.ID)
			t.logger.Error(
				"Batch rejected, discarding",
				zap.String("batch_id", batch.ID),
				zap.Int("records", batch.Len()),
				zap.String("class", outcome.Class.String()),
				zap.Error(err),
			)
			return outcome
		}
		if batch.AttemptCount >= maxAttempts {
			delete(t.pending, batch.ID)
			t.logger.Error(
				"Batch failed after all retries, discarding",
				zap.String("batch_id", batch.ID),
				zap.Int("records", batch.Len()),
				zap.Int("attempts", batch.AttemptCount),
				zap.Error(err),
			)
			return outcome
		}

		delay := t.delay(batch.AttemptCount, err)
		t.logger.Warn(
			"Batch delivery failed, will retry",
			zap.String("batch_id", batch.ID),
			zap.Int("attempt", batch.AttemptCount),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if !t.wait(ctx, delay) {
			t.pending[batch.ID] = payload
			outcome.Interrupted = true
			return outcome
		}
	}
}

func (t *TransportImpl) Forget(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, batchID)
}

func (t *TransportImpl) payload(batch *model.Batch) (Payload, error) {
	if payload, ok := t.pending[batch.ID]; ok {
		return payload, nil
	}
	payload, err := t.sink.Prepare(batch)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to prepare batch %s for %s: %w", batch.ID, t.sink.Name(), err)
	}
	return payload, nil
}

// attempt detaches from ctx's cancellation so shutdown does not abort a
// request on the wire, but still honours a deadline on ctx.
func (t *TransportImpl) attempt(ctx context.Context, payload Payload) error {
	attemptCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	deadline, hasDeadline := ctx.Deadline()
	switch {
	case t.config.AttemptTimeout > 0 && (!hasDeadline || time.Until(deadline) > t.config.AttemptTimeout):
		attemptCtx, cancel = context.WithTimeout(attemptCtx, t.config.AttemptTimeout)
	case hasDeadline:
		attemptCtx, cancel = context.WithDeadline(attemptCtx, deadline)
	default:
		attemptCtx, cancel = context.WithCancel(attemptCtx)
	}
	defer cancel()
	return t.sink.Deliver(attemptCtx, payload)
}

// delay is the wait after the given failed attempt: RetryBackoff doubled per
// attempt, capped at MaxBackoff. A server Retry-After replaces it, still
// capped.
func (t *TransportImpl) delay(attempt int, err error) time.Duration {
	if requested := retryAfter(err); requested > 0 {
		return min(requested, t.config.MaxBackoff)
	}
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = t.config.RetryBackoff
	schedule.RandomizationFactor = 0
	schedule.Multiplier = 2
	schedule.MaxInterval = t.config.MaxBackoff
	schedule.MaxElapsedTime = 0
	schedule.Reset()
	next := schedule.NextBackOff()
	for i := 1; i < attempt; i++ {
		next = schedule.NextBackOff()
	}
	return next
}

func (t *TransportImpl) wait(ctx context.Context, d time.Duration) bool {
	if t.after != nil {
		select {
		case <-t.after(d):
			return true
		case <-ctx.Done():
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *TransportImpl) recordAttempt(d time.Duration) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.Attempts++
	t.stats.AttemptDuration += d
}

func (t *TransportImpl) record(outcome Outcome) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	switch {
	case outcome.Delivered:
		t.stats.BatchesDelivered++
		t.stats.RecordsDelivered += uint64(outcome.Records)
		t.stats.LastSuccess = time.Now()
	case outcome.Interrupted:
		t.stats.Interrupted++
	default:
		t.stats.BatchesDropped++
		t.stats.RecordsDropped += uint64(outcome.Records)
	}
}

func (t *TransportImpl) publish(outcome Outcome) {
	if t.publisher == nil {
		return
	}
	event := event_bus.BatchOutcome{
		BatchID:     outcome.BatchID,
		Records:     outcome.Records,
		Delivered:   outcome.Delivered,
		Attempts:    outcome.Attempts,
		Interrupted: outcome.Interrupted,
		Duration:    outcome.Duration,
	}
	if outcome.Err != nil {
		event.Class = outcome.Class.String()
		event.Error = outcome.Err.Error()
	}
	if err := t.publisher.Publish(event_bus.BatchOutcomeTopic, event); err != nil {
		t.logger.Error("Failed to publish batch outcome", zap.Error(err))
	}
}

func (t *TransportImpl) HealthCheck(ctx context.Context) error {
	if err := t.sink.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check against %s failed: %w", t.sink.Name(), err)
	}
	return nil
}

func (t *TransportImpl) Stats() Stats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.stats
}

func (t *TransportImpl) Close() error {
	return t.sink.Close()
}
