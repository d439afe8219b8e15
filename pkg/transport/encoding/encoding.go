package encoding

import (
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"strings"
)

const (
	FormatJSON = "json"
	FormatOTLP = "otlp"
)

// Resource identifies the workload whose logs are being shipped. It is
// attached to every encoded batch.
type Resource struct {
	ServiceName string
	PodName     string
	Namespace   string
	CollectorID string
}

// Encoder writes the records and the spans of a batch as two separate
// bodies, since gateways ingest logs and traces on different paths.
type Encoder interface {
	Encode(batch *model.Batch) ([]byte, error)
	EncodeSpans(batch *model.Batch) ([]byte, error)
	ContentType() string
}

func New(format string, resource Resource) (Encoder, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return NewJSONEncoder(resource), nil
	case FormatOTLP:
		return NewOTLPEncoder(resource), nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", format)
	}
}
