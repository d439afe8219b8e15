package transport

import (
	"context"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
)

// Payload is a batch encoded for one sink. It is built once and the same
// bytes are sent on every attempt. Body holds the records and SpanBody the
// spans; either is nil when the batch has none of that kind.
type Payload struct {
	BatchID         string
	Records         int
	Body            []byte
	SpanBody        []byte
	ContentType     string
	ContentEncoding string
}

// Sink delivers payloads to one kind of backend. Deliver returns a
// *DeliveryError, or an error Classify understands, on failure.
type Sink interface {
	Name() string
	Prepare(batch *model.Batch) (Payload, error)
	Deliver(ctx context.Context, payload Payload) error
	HealthCheck(ctx context.Context) error
	Close() error
}
