package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// fake_log_writer appends sample lines to a file for the collector to tail.
// json mode writes zap's JSON lines, text mode cycles through the plain text
// formats the collector recognises.
func main() {
	flagSet := pflag.NewFlagSet("fake-log-writer", pflag.ContinueOnError)
	path := flagSet.String("path", "/tmp/fake-service.log", "file to append to")
	format := flagSet.String("format", "json", "json or text")
	interval := flagSet.Duration("interval", 200*time.Millisecond, "delay between lines")
	count := flagSet.Int("count", 0, "lines to write, 0 for no limit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var write func(i int) error
	switch *format {
	case "json":
		logger, err := newFileLogger(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", *path, err)
			os.Exit(1)
		}
		defer logger.Sync()
		write = func(i int) error {
			writeJSON(logger, i)
			return nil
		}
	case "text":
		f, err := os.OpenFile(*path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", *path, err)
			os.Exit(1)
		}
		defer f.Close()
		write = func(i int) error {
			_, err := fmt.Fprintln(f, textLine(i, time.Now()))
			return err
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown format %q\n", *format)
		os.Exit(2)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for i := 0; *count == 0 || i < *count; i++ {
		if err := write(i); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write: %v\n", err)
			os.Exit(1)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newFileLogger(path string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	config.OutputPaths = []string{path}
	config.Sampling = nil
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return config.Build()
}

func writeJSON(logger *zap.Logger, i int) {
	traceID := fmt.Sprintf("%032x", i+1)
	spanID := fmt.Sprintf("%016x", i+1)
	switch i % 6 {
	case 0:
		logger.Info("Application is running successfully", zap.String("trace_id", traceID), zap.String("span_id", spanID))
	case 1:
		logger.Warn("Something might be wrong here", zap.Int("attempt", i))
	case 2:
		logger.Error("An error has occurred while processing the request",
			zap.Error(errors.New("failed to connect")), zap.String("trace_id", traceID))
	case 3:
		logger.Info("Processing data for user ID", zap.Int("user_id", 12345))
	case 4:
		logger.Info("Calling external API",
			zap.String("url", "https://example.com/api"),
			zap.String("trace_id", traceID),
			zap.String("span_id", spanID),
			zap.String("operation", "GET /api"),
			zap.Int("duration_ms", 40+i%200),
			zap.String("status", "OK"),
		)
	default:
		logger.Warn("API rate limit approaching", zap.Int("rate_limit", 95))
	}
}

func textLine(i int, now time.Time) string {
	switch i % 5 {
	case 0:
		return fmt.Sprintf("[%s] INFO: User logged in", now.UTC().Format(time.RFC3339))
	case 1:
		return fmt.Sprintf("%s [error] upstream timed out", now.Format("2006/01/02 15:04:05"))
	case 2:
		return fmt.Sprintf(
			"%s ERROR [%032x,%016x] --- Could not open database connection",
			now.Format("2006-01-02 15:04:05.000"), i+1, i+1,
		)
	case 3:
		return "WARNING: Low disk space on server"
	default:
		return "CRITICAL:app.payments:security alert raised"
	}
}
