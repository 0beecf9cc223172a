package api

import (
	"fmt"
	"net/http"

	"github.com/garnizeh/placement/internal/metrics"
)

type SystemHandler struct{}

func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ok","service":"placement"}`)
}

func (h *SystemHandler) VersionHandler(version, buildTime string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": version, "buildTime": buildTime}, http.StatusOK)
	}
}

// MetricsHandler serves the prometheus registry.
func (h *SystemHandler) MetricsHandler() http.Handler {
	return metrics.Handler()
}
