package parser

import (
	"fmt"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"regexp"
	"time"
)

// Pattern describes one line format. Group numbers refer to regexp capture
// groups; 0 means the format has no such group.
type Pattern struct {
	Regexp         *regexp.Regexp
	LevelGroup     int
	MessageGroup   int
	TimestampGroup int
	TraceIDGroup   int
	SpanIDGroup    int
}

type PatternSpec struct {
	Expr           string
	LevelGroup     int
	MessageGroup   int
	TimestampGroup int
	TraceIDGroup   int
	SpanIDGroup    int
}

func CompilePattern(spec PatternSpec) (Pattern, error) {
	re, err := regexp.Compile(spec.Expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("failed to compile pattern %q: %w", spec.Expr, err)
	}
	if spec.LevelGroup <= 0 || spec.MessageGroup <= 0 {
		return Pattern{}, fmt.Errorf("pattern %q must name a level and a message group", spec.Expr)
	}
	for _, group := range []int{
		spec.LevelGroup, spec.MessageGroup, spec.TimestampGroup, spec.TraceIDGroup, spec.SpanIDGroup,
	} {
		if group < 0 || group > re.NumSubexp() {
			return Pattern{}, fmt.Errorf(
				"pattern %q has %d groups, group %d is out of range", spec.Expr, re.NumSubexp(), group,
			)
		}
	}
	return Pattern{
		Regexp:         re,
		LevelGroup:     spec.LevelGroup,
		MessageGroup:   spec.MessageGroup,
		TimestampGroup: spec.TimestampGroup,
		TraceIDGroup:   spec.TraceIDGroup,
		SpanIDGroup:    spec.SpanIDGroup,
	}, nil
}

func CompilePatterns(specs []PatternSpec) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(specs))
	for _, spec := range specs {
		pattern, err := CompilePattern(spec)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

// DefaultPatterns covers the common plain-text formats, most specific first.
var DefaultPatterns = []Pattern{
	// [2023-12-01T10:30:45Z] INFO: message
	{Regexp: regexp.MustCompile(`^\[([^\]]+)\]\s+(\w+):\s+(.+)$`), LevelGroup: 2, MessageGroup: 3, TimestampGroup: 1},
	// 2023/12/01 10:30:45 [error] message
	{
		Regexp:         regexp.MustCompile(`^(\d{4}/\d{2}/\d{2}\s+\d{2}:\d{2}:\d{2})\s+\[(\w+)\]\s+(.+)$`),
		LevelGroup:     2,
		MessageGroup:   3,
		TimestampGroup: 1,
	},
	// 2023-12-01 10:30:45.123 ERROR [trace-id,span-id] --- message
	{
		Regexp: regexp.MustCompile(
			`^(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}\.\d{3})\s+(\w+)\s+\[([^,]+),([^\]]+)\]\s+---\s+(.+)$`,
		),
		LevelGroup:     2,
		MessageGroup:   5,
		TimestampGroup: 1,
		TraceIDGroup:   3,
		SpanIDGroup:    4,
	},
	// ERROR: message
	{Regexp: regexp.MustCompile(`^(\w+):\s+(.+)$`), LevelGroup: 1, MessageGroup: 2},
	// ERROR:module.name:message
	{Regexp: regexp.MustCompile(`^(\w+):[\w.]+:(.+)$`), LevelGroup: 1, MessageGroup: 2},
}

// PatternParser tries its patterns in order; the first one that matches with
// a non-empty message wins.
type PatternParser struct {
	patterns         []Pattern
	traceCorrelation bool
	timestamps       *TimestampParser
	now              func() time.Time
}

func NewPatternParser(patterns []Pattern, opts Options) *PatternParser {
	return &PatternParser{
		patterns:         patterns,
		traceCorrelation: opts.TraceCorrelation,
		timestamps:       NewTimestampParser(opts.LayoutHints),
		now:              opts.now(),
	}
}

func (pp *PatternParser) Parse(line string, source string) (model.LogRecord, bool) {
	for _, pattern := range pp.patterns {
		match := pattern.Regexp.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		message := group(match, pattern.MessageGroup)
		if message == "" {
			continue
		}

		observedAt := pp.now()
		fields := model.RecordFields{
			ObservedAt: observedAt,
			Timestamp:  observedAt,
			Level:      model.ParseLevel(group(match, pattern.LevelGroup)),
			Message:    message,
			Source:     source,
		}
		if raw := group(match, pattern.TimestampGroup); raw != "" {
			if ts, ok := pp.timestamps.Parse(source, raw); ok {
				fields.Timestamp = ts
			}
		}
		if pp.traceCorrelation {
			fields.TraceID = group(match, pattern.TraceIDGroup)
			fields.SpanID = group(match, pattern.SpanIDGroup)
		}
		return model.NewLogRecord(fields), true
	}
	return model.LogRecord{}, false
}

func group(match []string, idx int) string {
	if idx <= 0 || idx >= len(match) {
		return ""
	}
	return match[idx]
}
