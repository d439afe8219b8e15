package config

import (
	"errors"
	"fmt"
	"github.com/spf13/pflag"
	"io"
)

// Load builds the configuration from defaults, then the YAML file named by
// --config, then the environment, then the remaining command line flags.
// pflag.ErrHelp is returned unwrapped when -h or --help is given.
func Load(name string, args []string, lookup Getenv, output io.Writer) (Config, error) {
	path, err := configPath(name, args)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if path != "" {
		if cfg, err = LoadFile(cfg, path); err != nil {
			return Config{}, err
		}
	}
	if cfg, err = ApplyEnv(cfg, lookup); err != nil {
		return Config{}, err
	}

	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.String("config", path, "path to a YAML configuration file")
	bindFlags(flagSet, &cfg)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Config{}, err
		}
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if flagSet.NArg() > 0 {
		return Config{}, fmt.Errorf("%w: unexpected arguments %v", ErrInvalidConfig, flagSet.Args())
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// configPath finds --config ahead of the full parse so the file can sit
// below the environment in precedence.
func configPath(name string, args []string) (string, error) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.ParseErrorsWhitelist.UnknownFlags = true
	flagSet.Usage = func() {}
	flagSet.SetOutput(io.Discard)
	path := flagSet.String("config", "", "")
	if err := flagSet.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return *path, nil
}

// bindFlags registers one flag per field with the already merged value as its
// default, so only flags given on the command line change anything.
func bindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "name of the monitored service")
	fs.StringVar(&cfg.PodName, "pod-name", cfg.PodName, "kubernetes pod name")
	fs.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "kubernetes namespace")
	fs.StringVar(&cfg.GatewayURL, "gateway-url", cfg.GatewayURL, "telemetry gateway base URL")
	fs.StringSliceVar(&cfg.LogPaths, "log-paths", cfg.LogPaths, "comma separated log files to tail")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "maximum records per batch")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "maximum time between flushes")
	fs.Float64Var(&cfg.FlushThreshold, "flush-threshold", cfg.FlushThreshold, "buffer occupancy that forces a flush")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "file and buffer poll interval")
	fs.IntVar(&cfg.MaxBufferSize, "max-buffer-size", cfg.MaxBufferSize, "buffer capacity in records")
	fs.Int64Var(&cfg.MaxReadBytes, "max-read-bytes", cfg.MaxReadBytes, "bytes read per file per poll")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "retries after the first delivery attempt")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "first retry delay")
	fs.DurationVar(&cfg.MaxBackoff, "max-backoff", cfg.MaxBackoff, "retry delay cap")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "per attempt timeout")
	fs.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "time allowed to flush on shutdown")
	fs.BoolVar(&cfg.ParseStructuredLogs, "parse-structured-logs", cfg.ParseStructuredLogs, "try JSON before patterns")
	fs.BoolVar(
		&cfg.EnableTraceCorrelation, "enable-trace-correlation", cfg.EnableTraceCorrelation, "extract trace and span ids",
	)
	fs.BoolVar(&cfg.ExtractSpans, "extract-spans", cfg.ExtractSpans, "ship spans found in structured lines")
	fs.StringVar(&cfg.HealthCheckPolicy, "health-check-policy", cfg.HealthCheckPolicy, "warn or abort")
	fs.StringVar(&cfg.Sink, "sink", cfg.Sink, "gateway, otlp_grpc or elasticsearch")
	fs.StringVar(&cfg.WireFormat, "wire-format", cfg.WireFormat, "json or otlp")
	fs.StringVar(&cfg.Compression, "compression", cfg.Compression, "none or gzip")
	fs.StringVar(&cfg.ElasticsearchIndex, "elasticsearch-index", cfg.ElasticsearchIndex, "target index")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "admin listen address, empty to disable")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.DurationVar(
		&cfg.MetricsReportInterval, "metrics-report-interval", cfg.MetricsReportInterval, "0 disables the report",
	)
}
