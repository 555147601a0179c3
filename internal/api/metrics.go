package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterMetrics serves the default Prometheus registry on mux at /metrics.
func RegisterMetrics(mux *http.ServeMux) {
	mux.Handle("GET /metrics", promhttp.Handler())
}

// NewMetricsHandler returns a mux that only serves /metrics.
func NewMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	RegisterMetrics(mux)
	return mux
}
