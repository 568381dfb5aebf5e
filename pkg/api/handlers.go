package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/pipewatch/pkg/insights"
	"github.com/cuemby/pipewatch/pkg/notify"
	"github.com/cuemby/pipewatch/pkg/reconciler"
	"github.com/cuemby/pipewatch/pkg/storage"
	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/gorilla/mux"
)

const (
	upstreamCheckTimeout = 3 * time.Second
	// manualCycleTimeout bounds a cycle started from the API. The cycle is
	// detached from the request so a client disconnect does not cut it short.
	manualCycleTimeout = 5 * time.Minute
)

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.store.ListPipelines(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list pipelines")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pipelines == nil {
		pipelines = []*types.Pipeline{}
	}
	sort.Slice(pipelines, func(i, j int) bool { return pipelines[i].Name < pipelines[j].Name })
	writeJSON(w, http.StatusOK, pipelines)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	pipeline, err := s.store.GetPipeline(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Pipeline not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("pipeline", name).Msg("Failed to get pipeline")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pipeline)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	limit, err := intQuery(r, "limit", defaultBuildLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	builds, err := s.store.ListBuilds(r.Context(), name, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("pipeline", name).Msg("Failed to list builds")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if builds == nil {
		builds = []*types.Build{}
	}
	writeJSON(w, http.StatusOK, builds)
}

func (s *Server) handlePipelineMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeMetrics(w, r, mux.Vars(r)["name"])
}

func (s *Server) handleOverallMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeMetrics(w, r, "")
}

func (s *Server) writeMetrics(w http.ResponseWriter, r *http.Request, pipeline string) {
	days, err := intQuery(r, "days", insights.DefaultWindowDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot, err := s.aggregator.CachedMetrics(r.Context(), pipeline, days)
	if err != nil {
		s.logger.Error().Err(err).Str("pipeline", pipeline).Msg("Failed to compute metrics")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// AdviceResponse is the body of GET /api/advice
type AdviceResponse struct {
	Metrics        *types.Snapshot     `json:"metrics"`
	RecentFailures []*types.Build      `json:"recent_failures"`
	Advice         []string            `json:"advice"`
	Resources      []insights.Resource `json:"resources"`
}

func (s *Server) buildAdvice(ctx context.Context, pipeline string, days int) (*AdviceResponse, error) {
	snapshot, err := s.aggregator.CachedMetrics(ctx, pipeline, days)
	if err != nil {
		return nil, err
	}
	failures, err := s.aggregator.RecentFailures(ctx, pipeline, defaultFailureLimit)
	if err != nil {
		return nil, err
	}
	if failures == nil {
		failures = []*types.Build{}
	}
	return &AdviceResponse{
		Metrics:        snapshot,
		RecentFailures: failures,
		Advice:         insights.GenerateAdvice(snapshot, failures),
		Resources:      insights.GenerateResources(failures),
	}, nil
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", insights.DefaultWindowDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pipeline := r.URL.Query().Get("pipeline")

	resp, err := s.buildAdvice(r.Context(), pipeline, days)
	if err != nil {
		s.logger.Error().Err(err).Str("pipeline", pipeline).Msg("Failed to generate advice")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFailedBuilds(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListFailures(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list failed builds")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*types.FailureRecord{}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	writeJSON(w, http.StatusOK, records)
}

// NodeHealthResponse is the body of GET /api/jenkins-node-health
type NodeHealthResponse struct {
	JenkinsURL       string   `json:"jenkins_url"`
	Port             int      `json:"port"`
	ConnectionStatus string   `json:"connection_status"`
	NumJobs          int      `json:"num_jobs"`
	JenkinsJobs      []string `json:"jenkins_jobs"`
}

func (s *Server) handleNodeHealth(w http.ResponseWriter, r *http.Request) {
	if s.upstream == nil {
		writeError(w, http.StatusServiceUnavailable, "CI server not configured")
		return
	}

	resp := NodeHealthResponse{
		JenkinsURL:       s.upstream.BaseURL(),
		Port:             urlPort(s.upstream.BaseURL()),
		ConnectionStatus: "down",
		JenkinsJobs:      []string{},
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamCheckTimeout)
	defer cancel()
	jobs, err := s.upstream.ListPipelines(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("CI server unreachable")
	} else {
		resp.ConnectionStatus = "up"
		resp.NumJobs = len(jobs)
		for _, job := range jobs {
			resp.JenkinsJobs = append(resp.JenkinsJobs, job.Name)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// urlPort returns the explicit port of rawURL or the scheme default
func urlPort(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	if p := u.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return n
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

func (s *Server) handleTriggerCollection(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "Collection is not scheduled in this process")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), manualCycleTimeout)
	defer cancel()

	report, err := s.trigger.TriggerNow(ctx)
	switch {
	case errors.Is(err, reconciler.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("Manual collection failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Data collection triggered successfully",
		"report":  report,
	})
}

type emailAdviceRequest struct {
	Recipients []string `json:"recipients"`
	Pipeline   string   `json:"pipeline"`
	Days       int      `json:"days"`
}

func (s *Server) handleEmailAdvice(w http.ResponseWriter, r *http.Request) {
	var req emailAdviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	recipients := notify.ValidRecipients(req.Recipients)
	if len(recipients) == 0 {
		writeError(w, http.StatusBadRequest, "recipients required")
		return
	}
	if s.mailer == nil {
		writeError(w, http.StatusBadRequest, "SMTP not configured")
		return
	}
	if req.Days <= 0 {
		req.Days = insights.DefaultWindowDays
	}

	advice, err := s.buildAdvice(r.Context(), req.Pipeline, req.Days)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate advice")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msg, err := notify.NewAdviceMessage(req.Pipeline, advice.Metrics, advice.Advice, advice.RecentFailures, recipients)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.mailer.Send(r.Context(), msg); err != nil {
		s.logger.Error().Err(err).Strs("recipients", recipients).Msg("Failed to send advice email")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Email sent",
		"recipients": recipients,
	})
}
