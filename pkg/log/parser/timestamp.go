package parser

import (
	"github.com/bcgov/citz-imb-sre-tooling/pkg/cache"
	"math"
	"strconv"
	"strings"
	"time"
)

// Layouts without a zone are read as UTC. Fractional seconds are accepted
// after the seconds field even when the layout does not spell them out.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
	"2006-01-02T15:04:05Z0700",
	time.RFC1123Z,
}

type TimestampParser struct {
	hints cache.LayoutHintCache
}

func NewTimestampParser(hints cache.LayoutHintCache) *TimestampParser {
	return &TimestampParser{hints: hints}
}

// Parse reads raw as an epoch number or one of the known layouts. The layout
// that last worked for source is tried first.
func (tp *TimestampParser) Parse(source string, raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if epoch, err := strconv.ParseFloat(raw, 64); err == nil {
		return FromEpoch(epoch)
	}

	hinted := -1
	if tp.hints != nil {
		if idx, err := tp.hints.Get(source); err == nil && idx >= 0 && idx < len(timestampLayouts) {
			hinted = idx
			if ts, err := time.Parse(timestampLayouts[idx], raw); err == nil {
				return ts, true
			}
		}
	}

	for idx, layout := range timestampLayouts {
		if idx == hinted {
			continue
		}
		ts, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if tp.hints != nil {
			// a lost hint only costs a few extra parse attempts
			_ = tp.hints.Put(source, idx)
		}
		return ts, true
	}
	return time.Time{}, false
}

// FromEpoch interprets v as seconds, milliseconds, microseconds or
// nanoseconds since the Unix epoch, chosen by magnitude.
func FromEpoch(v float64) (time.Time, bool) {
	if v <= 0 || v >= math.MaxInt64 || math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	var ts time.Time
	switch {
	case v >= 1e18:
		ts = time.Unix(0, int64(v))
	case v >= 1e15:
		ts = time.UnixMicro(int64(v))
	case v >= 1e12:
		ts = time.UnixMilli(int64(v))
	default:
		sec, frac := math.Modf(v)
		ts = time.Unix(int64(sec), int64(frac*1e9))
	}
	// Every encoder writes nanoseconds since the epoch.
	if ts.After(maxEpochTime) {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

var maxEpochTime = time.Unix(0, math.MaxInt64)
