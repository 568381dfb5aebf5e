package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Version     string            `json:"version,omitempty"`
	Services    map[string]string `json:"services,omitempty"`
	JenkinsJobs []string          `json:"jenkins_jobs"`
	Error       string            `json:"error,omitempty"`
}

// handleHealth reports the store as a hard requirement and the CI server as
// a soft one, together with the names of the stored pipelines
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Services:  map[string]string{},
	}

	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Health check failed")
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		resp.Services = nil
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	resp.Services["store"] = "connected"

	switch {
	case s.upstream == nil:
		resp.Services["jenkins"] = "unknown"
	default:
		ctx, cancel := context.WithTimeout(r.Context(), upstreamCheckTimeout)
		defer cancel()
		if err := s.upstream.Ping(ctx); err != nil {
			resp.Services["jenkins"] = "disconnected"
		} else {
			resp.Services["jenkins"] = "connected"
		}
	}

	resp.JenkinsJobs = []string{}
	pipelines, err := s.store.ListPipelines(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch pipeline names for health check")
	}
	for _, p := range pipelines {
		resp.JenkinsJobs = append(resp.JenkinsJobs, p.Name)
	}

	writeJSON(w, http.StatusOK, resp)
}
