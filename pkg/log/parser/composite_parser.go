package parser

import (
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"strings"
	"time"
)

// CompositeParser tries each parser in order and falls back to keeping the
// whole line as the message, so every non-blank line yields exactly one record.
type CompositeParser struct {
	parsers []LogParser
	spans   SpanParser
	now     func() time.Time
}

func NewCompositeParser(parsers []LogParser, opts Options) *CompositeParser {
	return &CompositeParser{
		parsers: parsers,
		now:     opts.now(),
	}
}

func (cp *CompositeParser) Parse(line string, source string) (model.LogRecord, bool) {
	if strings.TrimSpace(line) == "" {
		return model.LogRecord{}, false
	}
	for _, p := range cp.parsers {
		if record, ok := p.Parse(line, source); ok {
			return record, true
		}
	}
	now := cp.now()
	return model.NewLogRecord(model.RecordFields{
		Timestamp:  now,
		ObservedAt: now,
		Level:      model.UnknownLevel,
		Message:    line,
		Source:     source,
	}), true
}

// SetSpanParser enables ParseSpan. Without one no line is a span.
func (cp *CompositeParser) SetSpanParser(spans SpanParser) {
	cp.spans = spans
}

// ParseSpan is independent of Parse: a span line also yields its record.
func (cp *CompositeParser) ParseSpan(line string, source string) (model.Span, bool) {
	if cp.spans == nil {
		return model.Span{}, false
	}
	return cp.spans.ParseSpan(line, source)
}
