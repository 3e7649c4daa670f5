package httpserver

import (
	"net/http"
	"time"

	"github.com/askbetty/betty/internal/health"
	"github.com/askbetty/betty/internal/metrics"
	"github.com/askbetty/betty/internal/version"
)

func newOpsEndpoint(s *Server) endpoint {
	return endpointFunc{name: "ops", routes: []route{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(s.handleHealth)},
		{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(s.handleMetrics)},
	}}
}

type healthResponse struct {
	health.HealthStatus
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := health.HealthStatus{Status: health.StatusHealthy, Timestamp: time.Now().UTC()}
	if s.health != nil {
		status = s.health.Check(r.Context())
	}
	if status.Components == nil {
		status.Components = []health.Component{}
	}
	s.respondJSON(w, status.HTTPStatus(), healthResponse{HealthStatus: status, Version: version.Info()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.metrics.GetSnapshot())))
}
