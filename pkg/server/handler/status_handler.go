package handler

import (
	"github.com/bcgov/citz-imb-sre-tooling/pkg/collector"
	"go.uber.org/zap"
	"net/http"
)

// CollectorStatus is the read-only view of a collector the admin surface needs.
type CollectorStatus interface {
	ID() string
	State() collector.State
	Stats() collector.Stats
}

// LivenessHandler answers 200 until the collector has stopped.
func LivenessHandler(c CollectorStatus, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probe(w, c, c.State() != collector.Stopped, logger)
	}
}

// ReadinessHandler answers 200 only while the collector is Running.
func ReadinessHandler(c CollectorStatus, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probe(w, c, c.State() == collector.Running, logger)
	}
}

func StatsHandler(c CollectorStatus, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug(
			"Stats request received",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
		)
		writeJSON(w, c.Stats(), http.StatusOK, logger)
	}
}

func probe(w http.ResponseWriter, c CollectorStatus, ok bool, logger *zap.Logger) {
	status := StatusDTO{
		Status:      "ok",
		State:       c.State().String(),
		CollectorID: c.ID(),
	}
	code := http.StatusOK
	if !ok {
		status.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, status, code, logger)
}
