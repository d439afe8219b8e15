package config

import (
	"errors"
	"fmt"
	"gopkg.in/yaml.v3"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	HealthCheckWarn  = "warn"
	HealthCheckAbort = "abort"

	SinkGateway       = "gateway"
	SinkOTLPGrpc      = "otlp_grpc"
	SinkElasticsearch = "elasticsearch"

	WireFormatJSON = "json"
	WireFormatOTLP = "otlp"

	CompressionNone = "none"
	CompressionGzip = "gzip"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// SourceConfig pins a log file to a parser format (auto, json or regex).
type SourceConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

type PatternConfig struct {
	Expr           string `yaml:"expr"`
	LevelGroup     int    `yaml:"level_group"`
	MessageGroup   int    `yaml:"message_group"`
	TimestampGroup int    `yaml:"timestamp_group"`
	TraceIDGroup   int    `yaml:"trace_id_group"`
	SpanIDGroup    int    `yaml:"span_id_group"`
}

type Config struct {
	ServiceName string `yaml:"service_name"`
	PodName     string `yaml:"pod_name"`
	Namespace   string `yaml:"namespace"`

	GatewayURL string   `yaml:"gateway_url"`
	LogPaths   []string `yaml:"log_paths"`

	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	FlushThreshold float64       `yaml:"flush_threshold"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxBufferSize  int           `yaml:"max_buffer_size"`
	MaxReadBytes   int64         `yaml:"max_read_bytes"`

	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	ParseStructuredLogs    bool `yaml:"parse_structured_logs"`
	EnableTraceCorrelation bool `yaml:"enable_trace_correlation"`
	ExtractSpans           bool `yaml:"extract_spans"`

	HealthCheckPolicy  string `yaml:"health_check_policy"`
	Sink               string `yaml:"sink"`
	WireFormat         string `yaml:"wire_format"`
	Compression        string `yaml:"compression"`
	ElasticsearchIndex string `yaml:"elasticsearch_index"`

	AdminAddr             string        `yaml:"admin_addr"`
	LogLevel              string        `yaml:"log_level"`
	MetricsReportInterval time.Duration `yaml:"metrics_report_interval"`

	Sources  []SourceConfig  `yaml:"sources"`
	Patterns []PatternConfig `yaml:"patterns"`
}

func Default() Config {
	return Config{
		ServiceName:            "unknown-service",
		PodName:                "unknown-pod",
		Namespace:              "default",
		GatewayURL:             "http://telemetry-gateway:9090",
		LogPaths:               []string{"/var/log/app/application.log"},
		BatchSize:              100,
		FlushInterval:          30 * time.Second,
		FlushThreshold:         0.75,
		PollInterval:           500 * time.Millisecond,
		MaxBufferSize:          10000,
		MaxReadBytes:           1 << 20,
		MaxRetries:             3,
		RetryBackoff:           time.Second,
		MaxBackoff:             30 * time.Second,
		HTTPTimeout:            10 * time.Second,
		DrainTimeout:           10 * time.Second,
		ParseStructuredLogs:    true,
		EnableTraceCorrelation: true,
		ExtractSpans:           true,
		HealthCheckPolicy:      HealthCheckWarn,
		Sink:                   SinkGateway,
		WireFormat:             WireFormatJSON,
		Compression:            CompressionNone,
		ElasticsearchIndex:     "log_index",
		AdminAddr:              ":8081",
		LogLevel:               "info",
		MetricsReportInterval:  60 * time.Second,
	}
}

// LoadFile overlays the YAML document at path onto cfg. Keys absent from the
// document keep their current values.
func LoadFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ResolvedSources merges LogPaths and Sources. An explicit Sources entry wins
// over a bare path with the same name.
func (c Config) ResolvedSources() []SourceConfig {
	sources := make([]SourceConfig, 0, len(c.Sources)+len(c.LogPaths))
	seen := make(map[string]struct{}, len(c.Sources)+len(c.LogPaths))
	for _, source := range c.Sources {
		if _, ok := seen[source.Path]; ok {
			continue
		}
		seen[source.Path] = struct{}{}
		sources = append(sources, source)
	}
	for _, path := range c.LogPaths {
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		sources = append(sources, SourceConfig{Path: path, Format: "auto"})
	}
	return sources
}

func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.ServiceName) == "" {
		problems = append(problems, "service_name must not be empty")
	}
	if strings.TrimSpace(c.PodName) == "" {
		problems = append(problems, "pod_name must not be empty")
	}
	if strings.TrimSpace(c.Namespace) == "" {
		problems = append(problems, "namespace must not be empty")
	}
	sources := c.ResolvedSources()
	if len(sources) == 0 {
		problems = append(problems, "at least one log path is required")
	}
	for _, source := range sources {
		if strings.TrimSpace(source.Path) == "" {
			problems = append(problems, "log paths must not be empty")
			break
		}
	}
	if c.BatchSize <= 0 {
		problems = append(problems, "batch_size must be positive")
	}
	if c.MaxBufferSize <= 0 {
		problems = append(problems, "max_buffer_size must be positive")
	}
	if c.MaxReadBytes <= 0 {
		problems = append(problems, "max_read_bytes must be positive")
	}
	if c.FlushInterval <= 0 {
		problems = append(problems, "flush_interval must be positive")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll_interval must be positive")
	}
	if c.FlushThreshold <= 0 || c.FlushThreshold > 1 {
		problems = append(problems, "flush_threshold must be in (0, 1]")
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "max_retries must not be negative")
	}
	if c.RetryBackoff <= 0 {
		problems = append(problems, "retry_backoff must be positive")
	}
	if c.MaxBackoff < c.RetryBackoff {
		problems = append(problems, "max_backoff must not be less than retry_backoff")
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "http_timeout must be positive")
	}
	if c.DrainTimeout <= 0 {
		problems = append(problems, "drain_timeout must be positive")
	}
	if c.MetricsReportInterval < 0 {
		problems = append(problems, "metrics_report_interval must not be negative")
	}
	if !oneOf(c.HealthCheckPolicy, HealthCheckWarn, HealthCheckAbort) {
		problems = append(problems, fmt.Sprintf("unknown health_check_policy %q", c.HealthCheckPolicy))
	}
	if !oneOf(c.Sink, SinkGateway, SinkOTLPGrpc, SinkElasticsearch) {
		problems = append(problems, fmt.Sprintf("unknown sink %q", c.Sink))
	}
	if !oneOf(c.WireFormat, WireFormatJSON, WireFormatOTLP) {
		problems = append(problems, fmt.Sprintf("unknown wire_format %q", c.WireFormat))
	}
	if !oneOf(c.Compression, CompressionNone, CompressionGzip) {
		problems = append(problems, fmt.Sprintf("unknown compression %q", c.Compression))
	}
	if c.Sink == SinkElasticsearch && strings.TrimSpace(c.ElasticsearchIndex) == "" {
		problems = append(problems, "elasticsearch_index must not be empty")
	}
	if u, err := url.Parse(c.GatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("gateway_url %q is not an absolute URL", c.GatewayURL))
	}
	if !oneOf(strings.ToLower(c.LogLevel), "debug", "info", "warn", "error") {
		problems = append(problems, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
