// Package market is a Go client for the marketd REST API.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Run statuses reported by the API.
const (
	StatusPending      = "pending"
	StatusRunning      = "running"
	StatusPassed       = "passed"
	StatusFailed       = "failed"
	StatusInconclusive = "inconclusive"
)

// Client wraps the HTTP interactions with marketd.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// RunRequest is the payload accepted by POST /api/v1/runs.
type RunRequest struct {
	ID       string            `json:"id,omitempty"`
	Scenario string            `json:"scenario"`
	Network  string            `json:"network,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// Step is one judged scenario step.
type Step struct {
	Name      string `json:"name"`
	Verdict   string `json:"verdict"`
	Outcome   string `json:"outcome,omitempty"`
	Expected  string `json:"expected,omitempty"`
	Detail    string `json:"detail,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	ElapsedNS int64  `json:"elapsed_ns"`
}

// Report is the outcome of one scenario attempt.
type Report struct {
	Scenario   string    `json:"scenario"`
	Network    string    `json:"network"`
	Verdict    string    `json:"verdict"`
	Steps      []Step    `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Run is the server-side record of a submitted scenario.
type Run struct {
	ID         string            `json:"id"`
	Scenario   string            `json:"scenario"`
	Network    string            `json:"network"`
	Params     map[string]string `json:"params,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Report     *Report           `json:"report,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// Settled reports whether the run will not change any more.
func (r Run) Settled() bool {
	switch r.Status {
	case StatusPassed, StatusFailed:
		return true
	case StatusInconclusive:
		return r.Attempts >= r.MaxRetries
	}
	return false
}

// Stats aggregates runs by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Passed          int   `json:"passed"`
	Failed          int   `json:"failed"`
	Inconclusive    int   `json:"inconclusive"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// Network is a configured NEAR network.
type Network struct {
	NetworkID     string `json:"network_id"`
	NodeURL       string `json:"node_url"`
	ExplorerURL   string `json:"explorer_url,omitempty"`
	ContractName  string `json:"contract_name"`
	MarketID      string `json:"market_id"`
	MasterAccount string `json:"master_account"`
	Description   string `json:"description,omitempty"`
}

// Networks is the response of GET /api/v1/networks.
type Networks struct {
	Default  string    `json:"default"`
	Networks []Network `json:"networks"`
}

// ListOptions filters GET /api/v1/runs. Zero values are omitted.
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Scenario  string
	Network   string
	Ascending bool
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(o.Statuses) > 0 {
		q.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.Scenario != "" {
		q.Set("scenario", o.Scenario)
	}
	if o.Network != "" {
		q.Set("network", o.Network)
	}
	if o.Ascending {
		q.Set("order", "asc")
	}
	return q
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("market api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("market api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient creates a client for the API at rawURL. When httpClient is nil a
// client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitRun queues a scenario run.
func (c *Client) SubmitRun(ctx context.Context, req RunRequest) (Run, error) {
	var run Run
	if err := c.post(ctx, "/api/v1/runs", req, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches a run by id.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns runs matching opts, most recently updated first unless
// opts.Ascending is set.
func (c *Client) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	var runs []Run
	if err := c.get(ctx, "/api/v1/runs", opts.query(), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Stats returns run counts.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/runs/stats", nil, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Networks lists the networks the server can run scenarios against.
func (c *Client) Networks(ctx context.Context) (Networks, error) {
	var nets Networks
	if err := c.get(ctx, "/api/v1/networks", nil, &nets); err != nil {
		return Networks{}, err
	}
	return nets, nil
}

// WaitForRun polls the run with exponential backoff capped at maxInterval
// until it settles or ctx ends.
func (c *Client) WaitForRun(ctx context.Context, id string, maxInterval time.Duration) (Run, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	b.MaxElapsedTime = 0

	var last Run
	op := func() error {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}
		last = run
		if !run.Settled() {
			return fmt.Errorf("run %s is %s", id, run.Status)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		return last, err
	}
	return last, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join("/", c.baseURL.Path, endpoint)
	u.RawPath = ""
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
