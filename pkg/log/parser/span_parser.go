package parser

import (
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/google/uuid"
	"github.com/valyala/fastjson"
	"go.opentelemetry.io/otel/trace"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	operationKeys = []string{"operation", "operation_name", "method"}
	startKeys     = []string{"start_time", "startTime"}
	endKeys       = []string{"end_time", "endTime"}
	durationKeys  = []string{"duration_ms", "duration"}
	statusKeys    = []string{"status", "span_status"}
	parentKeys    = []string{"parent_span_id", "parentSpanId"}
)

const tagsKey = "tags"

// ParseSpan reads a span from a JSON object that carries a span id and at
// least one of an operation, a start, an end or a duration. A plain log line
// that only correlates to a span is not a span itself.
func (sp *StructuredParser) ParseSpan(line string, source string) (model.Span, bool) {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return model.Span{}, false
	}
	p := sp.pool.Get()
	defer sp.pool.Put(p)

	v, err := p.Parse(line)
	if err != nil {
		return model.Span{}, false
	}
	obj, err := v.Object()
	if err != nil {
		return model.Span{}, false
	}
	if !hasAny(obj, spanIDKeys) || !hasAny(obj, operationKeys, startKeys, endKeys, durationKeys) {
		return model.Span{}, false
	}

	consumed := make(map[string]struct{}, 8)
	fields := model.SpanFields{
		Source: source,
		Tags:   make(map[string]string),
	}
	fields.TraceID, _ = firstString(obj, traceIDKeys, consumed)
	if fields.TraceID == "" {
		fields.TraceID = newTraceID()
	}
	fields.SpanID, _ = firstString(obj, spanIDKeys, consumed)
	if fields.SpanID == "" {
		fields.SpanID = newSpanID()
	}
	fields.ParentSpanID, _ = firstString(obj, parentKeys, consumed)
	fields.Operation, _ = firstString(obj, operationKeys, consumed)
	if status, ok := firstString(obj, statusKeys, consumed); ok {
		fields.Status = model.ParseSpanStatus(status)
	}

	now := sp.now()
	fields.StartTime = sp.spanTime(obj, startKeys, source, consumed)
	fields.EndTime = sp.spanTime(obj, endKeys, source, consumed)
	if fields.StartTime.IsZero() {
		fields.StartTime = now
	}
	if value, ok := first(obj, durationKeys, consumed); ok {
		fields.Duration = durationFromValue(value)
	}

	if tags := obj.Get(tagsKey); tags != nil && tags.Type() == fastjson.TypeObject {
		nested, _ := tags.Object()
		nested.Visit(func(key []byte, value *fastjson.Value) {
			if value.Type() == fastjson.TypeNull {
				return
			}
			fields.Tags[string(key)] = stringify(value)
		})
	}
	return model.NewSpan(fields), true
}

func (sp *StructuredParser) spanTime(
	obj *fastjson.Object,
	keys []string,
	source string,
	consumed map[string]struct{},
) time.Time {
	value, ok := first(obj, keys, consumed)
	if !ok {
		return time.Time{}
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
	return time.Time{}
}

// durationFromValue reads a number of milliseconds, or a Go duration string
// such as "150ms".
func durationFromValue(value *fastjson.Value) time.Duration {
	var ms float64
	switch value.Type() {
	case fastjson.TypeNumber:
		ms = value.GetFloat64()
	case fastjson.TypeString:
		raw := strings.TrimSpace(string(value.GetStringBytes()))
		if d, err := time.ParseDuration(raw); err == nil {
			return max(d, 0)
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0
		}
		ms = f
	default:
		return 0
	}
	if ms <= 0 || math.IsNaN(ms) || ms >= float64(math.MaxInt64/int64(time.Millisecond)) {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func hasAny(obj *fastjson.Object, keyLists ...[]string) bool {
	for _, keys := range keyLists {
		for _, key := range keys {
			if value := obj.Get(key); value != nil && value.Type() != fastjson.TypeNull {
				return true
			}
		}
	}
	return false
}

func newTraceID() string {
	return trace.TraceID(uuid.New()).String()
}

func newSpanID() string {
	var id trace.SpanID
	u := uuid.New()
	copy(id[:], u[:len(id)])
	return id.String()
}
