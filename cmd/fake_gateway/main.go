package main

import (
	"context"
	"errors"
	"github.com/bcgov/citz-imb-sre-tooling/pkg/receiver"
	"github.com/spf13/pflag"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const version = "0.1.0"

// fake_gateway accepts everything the collector can send so it can be run
// end to end on a workstation.
func main() {
	flagSet := pflag.NewFlagSet("fake-gateway", pflag.ContinueOnError)
	httpAddr := flagSet.String("http-addr", ":9090", "HTTP listen address for the ingest paths and /health")
	grpcAddr := flagSet.String("grpc-addr", ":4317", "OTLP gRPC listen address, empty to disable")
	retain := flagSet.Int("retain", 10000, "records and spans kept for /summary")
	failCount := flagSet.Int("fail-count", 0, "fail this many ingest requests before accepting")
	failStatus := flagSet.Int("fail-status", http.StatusServiceUnavailable, "status used for injected failures")
	retryAfter := flagSet.Int("retry-after", 0, "Retry-After seconds sent with injected 429s")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := receiver.NewMemoryRecorderImpl(*retain)
	faults := &receiver.Faults{}
	faults.Set(*failCount, *failStatus, *retryAfter)

	if *grpcAddr != "" {
		listener, err := net.Listen("tcp", *grpcAddr)
		if err != nil {
			logger.Fatal("Failed to listen", zap.Error(err))
		}
		srv := grpc.NewServer()
		protoLogs.RegisterLogsServiceServer(srv, receiver.NewLogServiceServerImpl(recorder, logger))
		protoTrace.RegisterTraceServiceServer(srv, receiver.NewTraceServiceServerImpl(recorder, logger))
		go func() {
			logger.Info("gRPC service started, listening for OTLP logs and spans", zap.String("addr", *grpcAddr))
			if err := srv.Serve(listener); err != nil {
				logger.Error("Failed to serve gRPC", zap.Error(err))
			}
		}()
		defer srv.GracefulStop()
	}

	httpServer := &http.Server{
		Addr:              *httpAddr,
		Handler:           receiver.CreateRouter(recorder, faults, version, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down HTTP server", zap.Error(err))
		}
	}()

	logger.Info("Starting fake gateway", zap.String("addr", *httpAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to serve", zap.Error(err))
	}
	summary := recorder.Summary()
	logger.Info(
		"Fake gateway stopped",
		zap.Uint64("batches", summary.Batches),
		zap.Uint64("records", summary.Records),
		zap.Uint64("spans", summary.Spans),
	)
}
