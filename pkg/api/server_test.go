package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/pipewatch/pkg/events"
	"github.com/cuemby/pipewatch/pkg/insights"
	"github.com/cuemby/pipewatch/pkg/jenkins"
	"github.com/cuemby/pipewatch/pkg/notify"
	"github.com/cuemby/pipewatch/pkg/reconciler"
	"github.com/cuemby/pipewatch/pkg/storage"
	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	jobs []jenkins.Job
	err  error
}

func (f *fakeUpstream) BaseURL() string { return "http://jenkins.local:8080" }

func (f *fakeUpstream) ListPipelines(ctx context.Context) ([]jenkins.Job, error) {
	return f.jobs, f.err
}

func (f *fakeUpstream) Ping(ctx context.Context) error { return f.err }

type fakeTrigger struct {
	err    error
	calls  int
	ctxErr error
}

func (f *fakeTrigger) TriggerNow(ctx context.Context) (*reconciler.CycleReport, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	return &reconciler.CycleReport{ID: "cycle-1", PipelinesSeen: 2}, nil
}

type fakeMailer struct {
	sent []*notify.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg *notify.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type testEnv struct {
	store    *storage.BoltStore
	upstream *fakeUpstream
	trigger  *fakeTrigger
	mailer   *fakeMailer
	broker   *events.Broker
	server   *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store:    store,
		upstream: &fakeUpstream{jobs: []jenkins.Job{{Name: "build-A"}, {Name: "build-B"}}},
		trigger:  &fakeTrigger{},
		mailer:   &fakeMailer{},
		broker:   events.NewBroker(),
	}
	env.broker.Start()
	t.Cleanup(env.broker.Stop)

	env.seed(t)
	env.server = NewServer(Options{
		Store:      store,
		Aggregator: insights.NewAggregator(store, insights.Options{CacheTTL: time.Millisecond}),
		Upstream:   env.upstream,
		Trigger:    env.trigger,
		Mailer:     env.mailer,
		Broker:     env.broker,
		Version:    "test",
	})
	return env
}

func (e *testEnv) seed(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for _, name := range []string{"build-B", "build-A"} {
		require.NoError(t, e.store.UpsertPipeline(ctx, &types.Pipeline{Name: name, URL: "http://ci/job/" + name + "/", Color: "blue"}))
	}

	builds := []*types.Build{
		{PipelineName: "build-A", BuildNumber: 1, Status: types.BuildStatusSuccess, Duration: 100, Timestamp: now.Add(-3 * time.Hour), URL: "http://ci/job/build-A/1/"},
		{PipelineName: "build-A", BuildNumber: 2, Status: types.BuildStatusSuccess, Duration: 200, Timestamp: now.Add(-2 * time.Hour), URL: "http://ci/job/build-A/2/"},
		{PipelineName: "build-A", BuildNumber: 3, Status: types.BuildStatusFailure, Duration: 300, Timestamp: now.Add(-time.Hour), URL: "http://ci/job/build-A/3/"},
		{PipelineName: "build-B", BuildNumber: 10, Status: types.BuildStatusSuccess, Duration: 50, Timestamp: now.Add(-time.Hour), URL: "http://ci/job/build-B/10/"},
	}
	for _, b := range builds {
		require.NoError(t, e.store.UpsertBuild(ctx, b))
		if b.Status == types.BuildStatusFailure {
			require.NoError(t, e.store.UpsertFailure(ctx, b.Key(), types.NewFailureRecord(b)))
		}
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestListPipelines(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/pipelines", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pipelines []types.Pipeline
	decode(t, rec, &pipelines)
	require.Len(t, pipelines, 2)
	assert.Equal(t, "build-A", pipelines[0].Name)
	assert.Equal(t, "build-B", pipelines[1].Name)
}

func TestGetPipeline(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/pipelines/build-A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pipeline types.Pipeline
	decode(t, rec, &pipeline)
	assert.Equal(t, "blue", pipeline.Color)

	rec = env.do(t, http.MethodGet, "/api/pipelines/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "Pipeline not found", body["error"])
}

func TestListBuilds(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/pipelines/build-A/builds?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var builds []types.Build
	decode(t, rec, &builds)
	require.Len(t, builds, 2)
	assert.Equal(t, int64(3), builds[0].BuildNumber)
	assert.Equal(t, int64(2), builds[1].BuildNumber)

	rec = env.do(t, http.MethodGet, "/api/pipelines/build-A/builds?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/pipelines/unknown/builds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestMetricsRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/pipelines/build-A/metrics?days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot types.Snapshot
	decode(t, rec, &snapshot)
	assert.Equal(t, 3, snapshot.Total)
	assert.Equal(t, 2, snapshot.Success)
	assert.Equal(t, 1, snapshot.Failure)
	assert.InDelta(t, 66.67, snapshot.SuccessRate, 0.01)
	assert.InDelta(t, 200.0, snapshot.AvgDuration, 0.001)

	rec = env.do(t, http.MethodGet, "/api/metrics/overall", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &snapshot)
	assert.Equal(t, 4, snapshot.Total)
	assert.Equal(t, 30, snapshot.WindowDays)

	rec = env.do(t, http.MethodGet, "/api/metrics/overall?days=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdvice(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/advice?pipeline=build-A", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AdviceResponse
	decode(t, rec, &resp)
	require.NotNil(t, resp.Metrics)
	assert.Equal(t, 3, resp.Metrics.Total)
	require.Len(t, resp.RecentFailures, 1)
	assert.Equal(t, int64(3), resp.RecentFailures[0].BuildNumber)
	assert.Equal(t, insights.AdviceFlakyTests, resp.Advice[0])
	assert.Contains(t, resp.Advice, insights.AdviceInspectConsole)
	assert.Equal(t, "http://ci/job/build-A/3/console", resp.Resources[0].URL)
}

func TestFailedBuilds(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/failed-builds", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []types.FailureRecord
	decode(t, rec, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "build-A", records[0].PipelineName)
	assert.Equal(t, int64(3), records[0].BuildNumber)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Services["store"])
	assert.Equal(t, "connected", resp.Services["jenkins"])
	assert.ElementsMatch(t, []string{"build-A", "build-B"}, resp.JenkinsJobs)

	// The CI server is a soft requirement
	env.upstream.err = jenkins.ErrUnavailable
	rec = env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, "disconnected", resp.Services["jenkins"])

	// The store is a hard requirement
	require.NoError(t, env.store.Close())
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestNodeHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/jenkins-node-health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp NodeHealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "http://jenkins.local:8080", resp.JenkinsURL)
	assert.Equal(t, 8080, resp.Port)
	assert.Equal(t, "up", resp.ConnectionStatus)
	assert.Equal(t, 2, resp.NumJobs)
	assert.Equal(t, []string{"build-A", "build-B"}, resp.JenkinsJobs)

	env.upstream.err = jenkins.ErrUnavailable
	rec = env.do(t, http.MethodGet, "/api/jenkins-node-health", nil)
	decode(t, rec, &resp)
	assert.Equal(t, "down", resp.ConnectionStatus)
	assert.Equal(t, 0, resp.NumJobs)
}

func TestURLPort(t *testing.T) {
	assert.Equal(t, 8080, urlPort("http://jenkins:8080"))
	assert.Equal(t, 80, urlPort("http://jenkins"))
	assert.Equal(t, 443, urlPort("https://jenkins"))
}

func TestTriggerCollection(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/trigger-collection", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cycle-1")
	assert.Equal(t, 1, env.trigger.calls)

	env.trigger.err = reconciler.ErrCycleInProgress
	rec = env.do(t, http.MethodPost, "/api/trigger-collection", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.trigger.err = errors.New("jenkins unreachable")
	rec = env.do(t, http.MethodPost, "/api/trigger-collection", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTriggerCollectionOutlivesRequest(t *testing.T) {
	env := newTestEnv(t)

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/trigger-collection", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.trigger.calls)
	assert.NoError(t, env.trigger.ctxErr)
}

func TestEmailAdvice(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/email/advice", map[string]interface{}{"recipients": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "recipients required")

	rec = env.do(t, http.MethodPost, "/api/email/advice", map[string]interface{}{
		"recipients": []string{"dev@example.com", "bogus"},
		"pipeline":   "build-A",
		"days":       7,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.mailer.sent, 1)
	msg := env.mailer.sent[0]
	assert.Equal(t, "CI/CD Advice for build-A", msg.Subject)
	assert.Equal(t, []string{"dev@example.com"}, msg.Recipients)
	assert.True(t, msg.HTML)

	env.server.mailer = nil
	rec = env.do(t, http.MethodPost, "/api/email/advice", map[string]interface{}{"recipients": []string{"dev@example.com"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "SMTP not configured")
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/pipelines", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pipewatch_api_requests_total{route="/api/pipelines",status="200"}`)
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.server.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Type)

	require.NoError(t, conn.WriteJSON(wsCommand{Action: "subscribe", Pipeline: "build-A"}))
	var ack struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, "build-A", ack.Data["pipeline"])

	require.Eventually(t, func() bool { return env.broker.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.broker.Publish(events.NewEvent(events.EventBuildNew, "build-B", "filtered out"))
	env.broker.Publish(events.NewEvent(events.EventBuildNew, "build-A", "build-A#4 SUCCESS"))

	var got struct {
		Type  string       `json:"type"`
		Event events.Event `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, string(events.EventBuildNew), got.Type)
	assert.Equal(t, "build-A", got.Event.Pipeline)
	assert.Equal(t, "build-A#4 SUCCESS", got.Event.Message)
}
