// Package client talks to a beacon server: HTTP for catch-up queries and
// job lookups, WebSocket for the push stream.
//
// Usage:
//
//	c := client.New("http://localhost:8080", client.WithFormat("msgpack"))
//
//	events, err := c.CatchUp(ctx, jobID, 100)
//
//	s, err := c.Stream(ctx, jobID)
//	defer s.Close()
//	for f := range s.Frames() {
//	    fmt.Println(f.Type, len(f.Events))
//	}
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
	"github.com/xraph/beacon/wire"
)

// Client is a beacon HTTP and WebSocket client. It holds no connection
// state and is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	format  string
	logger  *slog.Logger
}

// New creates a Client for the server at baseURL (http or https).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		format:  wire.CodecNameJSON,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ActiveJob is the scope's active job as reported by the server.
type ActiveJob struct {
	Scope string      `json:"scope"`
	JobID string      `json:"job_id"`
	Job   *job.Record `json:"job,omitempty"`
}

// CatchUp returns the most recent limit events for jobID in
// chronological order. An empty jobID means the active job.
func (c *Client) CatchUp(ctx context.Context, jobID string, limit int) ([]event.Event, error) {
	q := url.Values{}
	if jobID != "" {
		q.Set("job_id", jobID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var events []event.Event
	if err := c.get(ctx, "/v1/events", q, &events); err != nil {
		return nil, fmt.Errorf("beacon/client: catch up: %w", err)
	}
	return events, nil
}

// ActiveJob returns the server's active job. JobID is empty when none.
func (c *Client) ActiveJob(ctx context.Context) (*ActiveJob, error) {
	var out ActiveJob
	if err := c.get(ctx, "/v1/jobs/active", nil, &out); err != nil {
		return nil, fmt.Errorf("beacon/client: active job: %w", err)
	}
	return &out, nil
}

// Job returns a job record. Unknown jobs yield beacon.ErrJobNotFound.
func (c *Client) Job(ctx context.Context, jobID string) (*job.Record, error) {
	var rec job.Record
	if err := c.get(ctx, "/v1/jobs/"+url.PathEscape(jobID), nil, &rec); err != nil {
		return nil, fmt.Errorf("beacon/client: get job: %w", err)
	}
	return &rec, nil
}

// get issues a GET and decodes the JSON body into v.
func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", beacon.ErrTransportDisconnected, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	//nolint:errcheck // body is optional
	json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", beacon.ErrJobNotFound, msg)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", beacon.ErrStoreUnavailable, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
}
