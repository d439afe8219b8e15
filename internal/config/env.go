package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Getenv is satisfied by os.LookupEnv.
type Getenv func(key string) (string, bool)

type envBinding struct {
	key   string
	apply func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"SERVICE_NAME", setString(func(c *Config) *string { return &c.ServiceName })},
	{"POD_NAME", setString(func(c *Config) *string { return &c.PodName })},
	{"NAMESPACE", setString(func(c *Config) *string { return &c.Namespace })},
	{"GATEWAY_URL", setString(func(c *Config) *string { return &c.GatewayURL })},
	{"LOG_PATHS", func(c *Config, value string) error {
		c.LogPaths = splitList(value)
		return nil
	}},
	{"BATCH_SIZE", setInt(func(c *Config) *int { return &c.BatchSize })},
	{"FLUSH_INTERVAL_SECONDS", setDuration(time.Second, func(c *Config) *time.Duration { return &c.FlushInterval })},
	{"FLUSH_THRESHOLD", func(c *Config, value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.FlushThreshold = f
		return nil
	}},
	{"POLL_INTERVAL_MS", setDuration(time.Millisecond, func(c *Config) *time.Duration { return &c.PollInterval })},
	{"MAX_BUFFER_SIZE", setInt(func(c *Config) *int { return &c.MaxBufferSize })},
	{"MAX_READ_BYTES", func(c *Config, value string) error {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		c.MaxReadBytes = n
		return nil
	}},
	{"MAX_RETRIES", setInt(func(c *Config) *int { return &c.MaxRetries })},
	{"RETRY_BACKOFF_MS", setDuration(time.Millisecond, func(c *Config) *time.Duration { return &c.RetryBackoff })},
	{"MAX_BACKOFF_MS", setDuration(time.Millisecond, func(c *Config) *time.Duration { return &c.MaxBackoff })},
	{"HTTP_TIMEOUT_SECONDS", setDuration(time.Second, func(c *Config) *time.Duration { return &c.HTTPTimeout })},
	{"DRAIN_TIMEOUT_SECONDS", setDuration(time.Second, func(c *Config) *time.Duration { return &c.DrainTimeout })},
	{"PARSE_STRUCTURED_LOGS", setBool(func(c *Config) *bool { return &c.ParseStructuredLogs })},
	{"ENABLE_TRACE_CORRELATION", setBool(func(c *Config) *bool { return &c.EnableTraceCorrelation })},
	{"EXTRACT_SPANS", setBool(func(c *Config) *bool { return &c.ExtractSpans })},
	{"HEALTH_CHECK_POLICY", setString(func(c *Config) *string { return &c.HealthCheckPolicy })},
	{"SINK", setString(func(c *Config) *string { return &c.Sink })},
	{"WIRE_FORMAT", setString(func(c *Config) *string { return &c.WireFormat })},
	{"COMPRESSION", setString(func(c *Config) *string { return &c.Compression })},
	{"ELASTICSEARCH_INDEX", setString(func(c *Config) *string { return &c.ElasticsearchIndex })},
	{"ADMIN_ADDR", setString(func(c *Config) *string { return &c.AdminAddr })},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.LogLevel })},
	{
		"METRICS_REPORT_INTERVAL_SECONDS",
		setDuration(time.Second, func(c *Config) *time.Duration { return &c.MetricsReportInterval }),
	},
}

// ApplyEnv overlays the recognised environment variables onto cfg. A variable
// that is set but cannot be parsed is an error rather than silently ignored.
func ApplyEnv(cfg Config, lookup Getenv) (Config, error) {
	for _, binding := range envBindings {
		value, ok := lookup(binding.key)
		if !ok {
			continue
		}
		if err := binding.apply(&cfg, strings.TrimSpace(value)); err != nil {
			return cfg, fmt.Errorf("%w: environment variable %s=%q: %v", ErrInvalidConfig, binding.key, value, err)
		}
	}
	return cfg, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// setDuration reads a whole number of units, matching the *_SECONDS and *_MS
// variable names.
func setDuration(unit time.Duration, field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, value string) error {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		*field(c) = time.Duration(n) * unit
		return nil
	}
}
