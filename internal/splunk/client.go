package splunk

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"spl-copilot/internal/pipeline"
)

// Config holds search backend connection settings. Token auth is
// preferred when set; otherwise username/password basic auth is used.
type Config struct {
	Host     string
	Port     int
	Scheme   string
	Token    string
	Username string
	Password string

	PollInterval       time.Duration
	IndexCacheTTL      time.Duration
	InsecureSkipVerify bool
}

func (c *Config) applyDefaults() {
	if c.Scheme == "" {
		c.Scheme = "https"
	}
	if c.Port == 0 {
		c.Port = 8089
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.IndexCacheTTL <= 0 {
		c.IndexCacheTTL = 5 * time.Minute
	}
}

// Client talks to the Splunk management REST API: job creation, status
// polling, result retrieval and index discovery.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client

	mu            sync.Mutex
	cachedIndexes []string
	cachedAt      time.Time
}

// NewClient builds a Client; it does not dial the backend.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()

	transport := &http.Transport{}
	if cfg.InsecureSkipVerify {
		// Splunk ships with a self-signed management certificate.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}

	return &Client{
		cfg:     cfg,
		baseURL: fmt.Sprintf("%s://%s:%d", cfg.Scheme, cfg.Host, cfg.Port),
		http:    &http.Client{Transport: transport},
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		return
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
}

// do issues a request and classifies transport and HTTP-level failures
// into the pipeline error taxonomy. The caller owns the response body.
func (c *Client) do(ctx context.Context, method, path string, body url.Values) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(body.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrInternal, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", pipeline.ErrBackendUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, pipeline.ErrBackendAuthFailed
	case resp.StatusCode >= 400:
		detail := readMessages(resp.Body)
		resp.Body.Close()
		if detail == "" {
			detail = resp.Status
		}
		return nil, fmt.Errorf("%w: %s", pipeline.ErrRejectedByBackend, detail)
	}
	return resp, nil
}

// submitJob creates a search job and returns its sid.
func (c *Client) submitJob(ctx context.Context, spl string, maxResults int) (string, error) {
	form := url.Values{
		"search":      []string{spl},
		"output_mode": []string{"json"},
		"max_count":   []string{fmt.Sprint(maxResults)},
	}

	resp, err := c.do(ctx, http.MethodPost, "/services/search/jobs", form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Sid string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding job response: %v", pipeline.ErrInternal, err)
	}
	if out.Sid == "" {
		return "", fmt.Errorf("%w: backend returned no job id", pipeline.ErrInternal)
	}
	return out.Sid, nil
}

// jobStatus is the polled slice of a job's state.
type jobStatus struct {
	Done        bool
	Failed      bool
	ResultCount int
	ScanCount   int
	RunDuration float64
	Message     string
}

func (c *Client) pollJob(ctx context.Context, sid string) (jobStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/services/search/jobs/"+url.PathEscape(sid)+"?output_mode=json", nil)
	if err != nil {
		return jobStatus{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Entry []struct {
			Content struct {
				IsDone        bool    `json:"isDone"`
				IsFailed      bool    `json:"isFailed"`
				ResultCount   int     `json:"resultCount"`
				ScanCount     int     `json:"scanCount"`
				RunDuration   float64 `json:"runDuration"`
				DispatchState string  `json:"dispatchState"`
			} `json:"content"`
		} `json:"entry"`
		Messages []apiMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return jobStatus{}, fmt.Errorf("%w: decoding job status: %v", pipeline.ErrInternal, err)
	}
	if len(out.Entry) == 0 {
		return jobStatus{}, fmt.Errorf("%w: job %s not found", pipeline.ErrInternal, sid)
	}

	content := out.Entry[0].Content
	status := jobStatus{
		Done:        content.IsDone,
		Failed:      content.IsFailed || content.DispatchState == "FAILED",
		ResultCount: content.ResultCount,
		ScanCount:   content.ScanCount,
		RunDuration: content.RunDuration,
	}
	for _, msg := range out.Messages {
		if msg.Type == "FATAL" || msg.Type == "ERROR" {
			status.Message = msg.Text
			break
		}
	}
	return status, nil
}

func (c *Client) fetchResults(ctx context.Context, sid string, count int) ([]pipeline.Record, error) {
	path := fmt.Sprintf("/services/search/jobs/%s/results?output_mode=json&count=%d", url.PathEscape(sid), count)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Results []pipeline.Record `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding results: %v", pipeline.ErrInternal, err)
	}
	return out.Results, nil
}

// cancelJob deletes a running job. Best-effort: errors are logged only.
func (c *Client) cancelJob(sid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodDelete, "/services/search/jobs/"+url.PathEscape(sid), nil)
	if err != nil {
		log.Warn().Err(err).Str("sid", sid).Msg("failed to cancel search job")
		return
	}
	resp.Body.Close()
}

// Indexes returns the backend's index names, cached for the configured
// TTL so prompt-context lookups do not hammer the management API.
func (c *Client) Indexes(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.cachedIndexes != nil && time.Since(c.cachedAt) < c.cfg.IndexCacheTTL {
		cached := append([]string(nil), c.cachedIndexes...)
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	resp, err := c.do(ctx, http.MethodGet, "/services/data/indexes?output_mode=json&count=0", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Entry []struct {
			Name string `json:"name"`
		} `json:"entry"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding indexes: %v", pipeline.ErrInternal, err)
	}

	names := make([]string, 0, len(out.Entry))
	for _, e := range out.Entry {
		names = append(names, e.Name)
	}

	c.mu.Lock()
	c.cachedIndexes = names
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return append([]string(nil), names...), nil
}

// Healthy probes the backend with an index listing call.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.Indexes(ctx)
	return err
}

type apiMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// readMessages extracts the first backend error message from an error
// response body.
func readMessages(body io.Reader) string {
	var out struct {
		Messages []apiMessage `json:"messages"`
	}
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return ""
	}
	if len(out.Messages) > 0 {
		return out.Messages[0].Text
	}
	return ""
}
