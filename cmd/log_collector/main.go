package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/asaskevich/EventBus"
	"github.com/bcgov/citz-imb-sre-tooling/internal/config"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/cache"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/collector"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/event_bus"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/model"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/log/parser"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/metrics"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/priority_buffer"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/server/router"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/tail"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/elasticsearch"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/encoding"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/gateway"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/transport/otlp_grpc"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	appName = "log-collector"
	version = "0.1.0"

	bootstrapRetries = 10
	bootstrapDelay   = 5 * time.Second
)

func main() {
	cfg, err := config.Load(appName, os.Args[1:], os.LookupEnv, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: failed to build logger: %v\n", appName, err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Collector exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = atomicLevel
	return zapConfig.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collectorID := uuid.NewString()
	logger = logger.With(zap.String("service_name", cfg.ServiceName))
	resource := encoding.Resource{
		ServiceName: cfg.ServiceName,
		PodName:     cfg.PodName,
		Namespace:   cfg.Namespace,
		CollectorID: collectorID,
	}

	bus := EventBus.New()
	outcomes := event_bus.NewCollectorEventBus[event_bus.BatchOutcome, event_bus.BatchOutcome](bus, logger)
	stateChanges := event_bus.NewCollectorEventBus[event_bus.StateChange, event_bus.StateChange](bus, logger)
	defer outcomes.WaitAsync()

	sink, err := newSink(ctx, cfg, resource, collectorID, logger)
	if err != nil {
		return err
	}
	sender := transport.NewTransportImpl(
		sink,
		transport.Config{
			MaxRetries:     cfg.MaxRetries,
			RetryBackoff:   cfg.RetryBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			AttemptTimeout: cfg.HTTPTimeout,
		},
		outcomes,
		logger,
	)

	sources, hints, err := newSources(cfg, logger)
	if err != nil {
		return err
	}
	defer hints.Close()

	buffer := priority_buffer.NewPriorityBufferImpl[model.LogRecord](cfg.MaxBufferSize, logger)
	spans := priority_buffer.NewPriorityBufferImpl[model.Span](cfg.MaxBufferSize, logger)

	collectorMetrics := metrics.NewCollectorMetrics()
	if err := collectorMetrics.RegisterBuffer("records", buffer); err != nil {
		return err
	}
	if err := collectorMetrics.RegisterBuffer("spans", spans); err != nil {
		return err
	}
	if err := collectorMetrics.Subscribe(outcomes, stateChanges); err != nil {
		return fmt.Errorf("failed to subscribe metrics: %w", err)
	}

	c := collector.NewCollectorImpl(
		collectorID,
		collector.Config{
			ServiceName:           cfg.ServiceName,
			PodName:               cfg.PodName,
			Namespace:             cfg.Namespace,
			BatchSize:             cfg.BatchSize,
			FlushInterval:         cfg.FlushInterval,
			FlushThreshold:        cfg.FlushThreshold,
			PollInterval:          cfg.PollInterval,
			DrainTimeout:          cfg.DrainTimeout,
			HealthCheckPolicy:     cfg.HealthCheckPolicy,
			HealthCheckTimeout:    cfg.HTTPTimeout,
			MetricsReportInterval: cfg.MetricsReportInterval,
		},
		sources,
		buffer,
		spans,
		sender,
		stateChanges,
		collectorMetrics,
		logger,
	)

	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           router.CreateRouter(c, collectorMetrics.Handler(), logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Starting admin server", zap.String("addr", cfg.AdminAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Admin server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to shut down admin server", zap.Error(err))
			}
		}()
	}

	return c.Run(ctx)
}

func newSink(
	ctx context.Context,
	cfg config.Config,
	resource encoding.Resource,
	collectorID string,
	logger *zap.Logger,
) (transport.Sink, error) {
	switch cfg.Sink {
	case config.SinkOTLPGrpc:
		return otlp_grpc.NewOTLPGrpcSink(otlp_grpc.Config{
			Endpoint:    cfg.GatewayURL,
			Compression: cfg.Compression,
			Resource:    resource,
		}, logger)
	case config.SinkElasticsearch:
		es, err := elasticsearch.NewClient(cfg.GatewayURL)
		if err != nil {
			return nil, err
		}
		bs := elasticsearch.NewBootstrapper(es, cfg.ElasticsearchIndex, logger)
		if err := bs.BootstrapElasticsearch(ctx, bootstrapRetries, bootstrapDelay); err != nil {
			if cfg.HealthCheckPolicy == config.HealthCheckAbort {
				return nil, fmt.Errorf("failed to bootstrap elasticsearch: %w", err)
			}
			logger.Warn("Failed to bootstrap elasticsearch, continuing", zap.Error(err))
		}
		return elasticsearch.NewElasticsearchSink(es, elasticsearch.Config{
			Address:   cfg.GatewayURL,
			IndexName: cfg.ElasticsearchIndex,
			Resource:  resource,
		}, logger), nil
	default:
		return gateway.NewGatewaySink(gateway.Config{
			GatewayURL:  cfg.GatewayURL,
			WireFormat:  cfg.WireFormat,
			Compression: cfg.Compression,
			CollectorID: collectorID,
			UserAgent:   fmt.Sprintf("%s/%s", appName, version),
			Resource:    resource,
		}, &http.Client{}, logger)
	}
}

func newSources(cfg config.Config, logger *zap.Logger) ([]collector.SourceReader, *cache.LayoutHintCacheImpl, error) {
	specs := make([]parser.PatternSpec, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		specs = append(specs, parser.PatternSpec{
			Expr:           p.Expr,
			LevelGroup:     p.LevelGroup,
			MessageGroup:   p.MessageGroup,
			TimestampGroup: p.TimestampGroup,
			TraceIDGroup:   p.TraceIDGroup,
			SpanIDGroup:    p.SpanIDGroup,
		})
	}
	patterns, err := parser.CompilePatterns(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	resolved := cfg.ResolvedSources()
	hints, err := cache.NewDefaultLayoutHintCache(int64(len(resolved)))
	if err != nil {
		return nil, nil, err
	}
	opts := parser.Options{
		ParseStructured:  cfg.ParseStructuredLogs,
		TraceCorrelation: cfg.EnableTraceCorrelation,
		ExtractSpans:     cfg.ExtractSpans,
		CustomPatterns:   patterns,
		LayoutHints:      hints,
	}

	sources := make([]collector.SourceReader, 0, len(resolved))
	for _, source := range resolved {
		p, err := parser.New(source.Format, opts)
		if err != nil {
			hints.Close()
			return nil, nil, fmt.Errorf("%w: source %s: %v", config.ErrInvalidConfig, source.Path, err)
		}
		sources = append(sources, collector.SourceReader{
			Source: tail.NewFileTailer(source.Path, cfg.MaxReadBytes, logger),
			Parser: p,
		})
		logger.Info("Tailing log source", zap.String("path", source.Path), zap.String("format", source.Format))
	}
	return sources, hints, nil
}
