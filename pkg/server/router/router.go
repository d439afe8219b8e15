package router

import (
	"github.com/bcgov/citz-imb-sre-tooling/pkg/server/handler"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"net/http"
)

// CreateRouter wires the admin endpoints. metrics may be nil, in which case
// /metrics is not served.
func CreateRouter(
	status handler.CollectorStatus,
	metrics http.Handler,
	logger *zap.Logger,
) http.Handler {
	r := mux.NewRouter()

	r.Handle("/healthz", handler.LivenessHandler(status, logger)).Methods("GET")
	r.Handle("/readyz", handler.ReadinessHandler(status, logger)).Methods("GET")
	r.Handle("/stats", handler.StatsHandler(status, logger)).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	return r
}
