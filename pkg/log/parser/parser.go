package parser

import (
	"github.com/bcgov/citz-imb-sre-tooling/pkg/cache"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"time"
)

// LogParser turns one raw line from source into a LogRecord. The boolean is
// false when this parser does not recognize the line.
type LogParser interface {
	Parse(line string, source string) (model.LogRecord, bool)
}

// SpanParser turns a line describing a finished operation into a Span. Lines
// that are not spans yield false.
type SpanParser interface {
	ParseSpan(line string, source string) (model.Span, bool)
}

type Options struct {
	// ParseStructured enables the JSON parser ahead of the patterns.
	ParseStructured bool
	// TraceCorrelation enables extraction of trace and span ids.
	TraceCorrelation bool
	// ExtractSpans also reads spans from JSON lines.
	ExtractSpans bool
	// CustomPatterns are tried before DefaultPatterns.
	CustomPatterns []Pattern
	// LayoutHints is optional.
	LayoutHints cache.LayoutHintCache
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() func() time.Time {
	if o.Now == nil {
		return time.Now
	}
	return o.Now
}
