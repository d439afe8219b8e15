package parser

import (
	"fmt"
	"strings"
)

const (
	FormatAuto  = "auto"
	FormatJSON  = "json"
	FormatRegex = "regex"
)

// New builds the parser for a source. Every format ends in a CompositeParser
// so that no line is dropped because it did not match.
func New(format string, opts Options) (LogParser, error) {
	patterns := make([]Pattern, 0, len(opts.CustomPatterns)+len(DefaultPatterns))
	patterns = append(patterns, opts.CustomPatterns...)
	patterns = append(patterns, DefaultPatterns...)

	var chain []LogParser
	var structured *StructuredParser
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatAuto, "composite":
		if opts.ParseStructured {
			structured = NewStructuredParser(opts)
			chain = append(chain, structured)
		}
		chain = append(chain, NewPatternParser(patterns, opts))
	case FormatJSON:
		structured = NewStructuredParser(opts)
		chain = append(chain, structured)
	case FormatRegex:
		chain = append(chain, NewPatternParser(patterns, opts))
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	composite := NewCompositeParser(chain, opts)
	if structured != nil && opts.ExtractSpans {
		composite.SetSpanParser(structured)
	}
	return composite, nil
}
