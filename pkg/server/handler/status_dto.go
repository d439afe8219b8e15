package handler

// StatusDTO is returned by the liveness and readiness probes.
type StatusDTO struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	CollectorID string `json:"collector_id"`
}
