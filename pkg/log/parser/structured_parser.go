package parser

import (
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/valyala/fastjson"
	"strings"
	"time"
)

var (
	timestampKeys = []string{"timestamp", "@timestamp", "time", "ts"}
	levelKeys     = []string{"level", "severity", "log_level"}
	messageKeys   = []string{"message", "msg", "text"}
	traceIDKeys   = []string{"trace_id", "traceId", "trace-id"}
	spanIDKeys    = []string{"span_id", "spanId", "span-id"}
)

const attributesKey = "attributes"

// StructuredParser decodes JSON object lines. Fields it does not recognize
// are folded into the record's attributes.
type StructuredParser struct {
	pool             fastjson.ParserPool
	traceCorrelation bool
	timestamps       *TimestampParser
	now              func() time.Time
}

func NewStructuredParser(opts Options) *StructuredParser {
	return &StructuredParser{
		traceCorrelation: opts.TraceCorrelation,
		timestamps:       NewTimestampParser(opts.LayoutHints),
		now:              opts.now(),
	}
}

func (sp *StructuredParser) Parse(line string, source string) (model.LogRecord, bool) {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return model.LogRecord{}, false
	}
	p := sp.pool.Get()
	defer sp.pool.Put(p)

	v, err := p.Parse(line)
	if err != nil {
		return model.LogRecord{}, false
	}
	obj, err := v.Object()
	if err != nil {
		return model.LogRecord{}, false
	}

	consumed := make(map[string]struct{}, 8)
	message, ok := firstString(obj, messageKeys, consumed)
	if !ok || message == "" {
		return model.LogRecord{}, false
	}

	observedAt := sp.now()
	fields := model.RecordFields{
		ObservedAt: observedAt,
		Timestamp:  sp.timestamp(obj, source, consumed, observedAt),
		Level:      model.InfoLevel,
		Message:    message,
		Source:     source,
		Attributes: make(map[string]string),
	}

	if level, ok := first(obj, levelKeys, consumed); ok {
		fields.Level = levelFromValue(level)
	}

	if sp.traceCorrelation {
		fields.TraceID, _ = firstString(obj, traceIDKeys, consumed)
		fields.SpanID, _ = firstString(obj, spanIDKeys, consumed)
	} else {
		for _, key := range traceIDKeys {
			consumed[key] = struct{}{}
		}
		for _, key := range spanIDKeys {
			consumed[key] = struct{}{}
		}
	}

	var nested *fastjson.Object
	if attrs := obj.Get(attributesKey); attrs != nil && attrs.Type() == fastjson.TypeObject {
		nested, _ = attrs.Object()
		consumed[attributesKey] = struct{}{}
	}

	obj.Visit(func(key []byte, value *fastjson.Value) {
		if _, skip := consumed[string(key)]; skip {
			return
		}
		fields.Attributes[string(key)] = stringify(value)
	})
	// nested attributes win over top-level extras with the same name
	if nested != nil {
		nested.Visit(func(key []byte, value *fastjson.Value) {
			fields.Attributes[string(key)] = stringify(value)
		})
	}

	return model.NewLogRecord(fields), true
}

func (sp *StructuredParser) timestamp(
	obj *fastjson.Object,
	source string,
	consumed map[string]struct{},
	fallback time.Time,
) time.Time {
	value, ok := first(obj, timestampKeys, consumed)
	if !ok {
		return fallback
	}
	switch value.Type() {
	case fastjson.TypeNumber:
		if ts, ok := FromEpoch(value.GetFloat64()); ok {
			return ts
		}
	case fastjson.TypeString:
		if ts, ok := sp.timestamps.Parse(source, string(value.GetStringBytes())); ok {
			return ts
		}
	}
	return fallback
}

// first returns the value of the first key present, marking it consumed.
func first(obj *fastjson.Object, keys []string, consumed map[string]struct{}) (*fastjson.Value, bool) {
	for _, key := range keys {
		if value := obj.Get(key); value != nil && value.Type() != fastjson.TypeNull {
			consumed[key] = struct{}{}
			return value, true
		}
	}
	return nil, false
}

func firstString(obj *fastjson.Object, keys []string, consumed map[string]struct{}) (string, bool) {
	value, ok := first(obj, keys, consumed)
	if !ok {
		return "", false
	}
	return stringify(value), true
}

func stringify(value *fastjson.Value) string {
	if value.Type() == fastjson.TypeString {
		return string(value.GetStringBytes())
	}
	return value.String()
}

// levelFromValue also understands the numeric levels written by pino and
// bunyan (10 trace through 60 fatal).
func levelFromValue(value *fastjson.Value) model.Level {
	if value.Type() != fastjson.TypeNumber {
		return model.ParseLevel(stringify(value))
	}
	switch n := value.GetInt(); {
	case n >= 60:
		return model.FatalLevel
	case n >= 50:
		return model.ErrorLevel
	case n >= 40:
		return model.WarnLevel
	case n >= 30:
		return model.InfoLevel
	case n >= 20:
		return model.DebugLevel
	case n >= 10:
		return model.TraceLevel
	default:
		return model.UnknownLevel
	}
}
