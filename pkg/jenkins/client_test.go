package jenkins

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL + "/", Username: "admin", APIToken: "token", Timeout: time.Second}), srv
}

func TestListPipelines(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/json", r.URL.Path)
		assert.Equal(t, jobsTree, r.URL.Query().Get("tree"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "token", pass)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobs":[{"name":"build-A","url":"http://ci/job/build-A/","color":"red"},{"name":"build-B","url":"http://ci/job/build-B/","color":"blue"}]}`))
	})

	jobs, err := client.ListPipelines(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, Job{Name: "build-A", URL: "http://ci/job/build-A/", Color: "red"}, jobs[0])
}

func TestGetRecentBuilds(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/build-A/api/json", r.URL.Path)
		assert.True(t, strings.HasSuffix(r.URL.Query().Get("tree"), "{0,2}"))

		_, _ = w.Write([]byte(`{"builds":[
			{"number":43,"url":"http://ci/job/build-A/43/","timestamp":1700000100000,"result":null,"duration":0,"estimatedDuration":600000,"building":true,"actions":[{}]},
			{"number":42,"url":"http://ci/job/build-A/42/","timestamp":1700000000000,"result":"FAILURE","duration":650000,"estimatedDuration":600000,"actions":[{},{"causes":[{"userName":"alice"}]}]},
			{"number":41,"url":"http://ci/job/build-A/41/","timestamp":1699990000000,"result":"SUCCESS","duration":500000}
		]}`))
	})

	builds, err := client.GetRecentBuilds(context.Background(), "build-A", 2)
	require.NoError(t, err)
	require.Len(t, builds, 2)

	assert.Nil(t, builds[0].Result)
	assert.True(t, builds[0].Building)
	assert.Equal(t, "", builds[0].TriggeredBy())

	require.NotNil(t, builds[1].Result)
	assert.Equal(t, "FAILURE", *builds[1].Result)
	assert.Equal(t, int64(650000), builds[1].Duration)
	assert.Equal(t, "alice", builds[1].TriggeredBy())
}

func TestGetPipelineMetadata(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/job/team/job/api/api/json":
			_, _ = w.Write([]byte(`{"description":"API pipeline","buildable":true}`))
		default:
			http.NotFound(w, r)
		}
	})

	info, err := client.GetPipelineMetadata(context.Background(), "team/api")
	require.NoError(t, err)
	assert.Equal(t, "API pipeline", info["description"])

	missing, err := client.GetPipelineMetadata(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	})

	_, err := client.ListPipelines(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Code)
	assert.Equal(t, StatusReasonInternalError, apiErr.Reason)
}

func TestMalformedBody(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>login</html>`))
	})

	_, err := client.GetRecentBuilds(context.Background(), "build-A", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Config{URL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := client.ListPipelines(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestJobPath(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{name: "build-A", expected: "/job/build-A"},
		{name: "team/api", expected: "/job/team/job/api"},
		{name: "my job", expected: "/job/my%20job"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, jobPath(tt.name))
		})
	}
}
