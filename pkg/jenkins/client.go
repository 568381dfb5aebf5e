package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// UserAgent identifies pipewatch to the CI server
	UserAgent = "pipewatch/1.0"

	// DefaultTimeout bounds every individual request
	DefaultTimeout = 5 * time.Second

	jobsTree   = "jobs[name,url,color]"
	buildsTree = "builds[number,url,timestamp,result,duration,estimatedDuration,building,actions[causes[shortDescription,userId,userName]]]"
)

// Config holds the connection settings for a Jenkins controller
type Config struct {
	URL      string
	Username string
	APIToken string
	Timeout  time.Duration
}

// Client is a read-only Jenkins REST client
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient creates a client for the Jenkins controller at cfg.URL
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	baseURL := strings.TrimRight(cfg.URL, "/")
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", UserAgent)
	if cfg.Username != "" || cfg.APIToken != "" {
		r.SetBasicAuth(cfg.Username, cfg.APIToken)
	}

	return &Client{http: r, baseURL: baseURL}
}

// BaseURL returns the controller URL the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListPipelines returns every top-level job
func (c *Client) ListPipelines(ctx context.Context) ([]Job, error) {
	var list jobList
	if err := c.getJSON(ctx, "/api/json", map[string]string{"tree": jobsTree}, &list); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return list.Jobs, nil
}

// GetPipelineMetadata returns the raw job document, or nil when the job does not exist
func (c *Client) GetPipelineMetadata(ctx context.Context, name string) (map[string]interface{}, error) {
	var info map[string]interface{}
	err := c.getJSON(ctx, jobPath(name)+"/api/json", nil, &info)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job %s: %w", name, err)
	}
	return info, nil
}

// GetRecentBuilds returns up to limit builds of the job, newest first
func (c *Client) GetRecentBuilds(ctx context.Context, name string, limit int) ([]Build, error) {
	tree := buildsTree
	if limit > 0 {
		tree = fmt.Sprintf("%s{0,%d}", buildsTree, limit)
	}

	var list buildList
	if err := c.getJSON(ctx, jobPath(name)+"/api/json", map[string]string{"tree": tree}, &list); err != nil {
		return nil, fmt.Errorf("failed to get builds of %s: %w", name, err)
	}

	builds := list.Builds
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}
	return builds, nil
}

// Ping checks that the controller answers its root API
func (c *Client) Ping(ctx context.Context) error {
	var out map[string]interface{}
	return c.getJSON(ctx, "/api/json", map[string]string{"tree": "mode"}, &out)
}

func (c *Client) getJSON(ctx context.Context, path string, query map[string]string, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	res, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.IsError() {
		return newAPIError(res)
	}

	if err := json.Unmarshal(res.Body(), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// jobPath maps a (possibly foldered) job name to its URL path:
// "team/api" becomes "/job/team/job/api".
func jobPath(name string) string {
	segments := strings.Split(strings.Trim(name, "/"), "/")
	var b strings.Builder
	for _, s := range segments {
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
