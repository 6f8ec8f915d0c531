// Package client talks to the send API: it submits SendJobs, consumes the
// progress stream, and reads health and history.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/pkg/httpretry"
	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
	"github.com/ignite/ses-bulk-sender/internal/progress"
	"github.com/ignite/ses-bulk-sender/internal/sse"
)

// ErrStreamClosed is returned when the progress stream ends before a
// terminal event.
var ErrStreamClosed = errors.New("progress stream closed before a terminal event")

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int             `json:"-"`
	Message string          `json:"error"`
	Code    string          `json:"code,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.Status, e.Message)
}

// Client is an API client. The zero value is not usable; call New.
type Client struct {
	baseURL string
	token   string

	// stream carries the long-lived send request and must not time out.
	stream httpretry.HTTPDoer
	// reads carries idempotent GETs and is retried.
	reads httpretry.HTTPDoer
}

// New creates a client for the API at baseURL using bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		stream:  &http.Client{},
		reads:   httpretry.NewRetryClient(&http.Client{Timeout: 15 * time.Second}, 3),
	}
}

// SetHTTPClients replaces the transports, e.g. with an httptest client.
func (c *Client) SetHTTPClients(stream, reads httpretry.HTTPDoer) {
	if stream != nil {
		c.stream = stream
	}
	if reads != nil {
		c.reads = reads
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// Stream is an open progress stream for one submitted job.
type Stream struct {
	body     io.ReadCloser
	reader   *sse.Reader
	terminal bool
}

// Open submits req. Validation and auth failures are returned as *APIError
// before any event is read.
func (c *Client) Open(ctx context.Context, req domain.SendRequest) (*Stream, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/emails/send", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit send: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return &Stream{body: resp.Body, reader: sse.NewReader(resp.Body)}, nil
}

// Next returns the next progress event. After a terminal event it returns
// io.EOF. A stream that ends or fails before a terminal event yields an
// error wrapping ErrStreamClosed. Unknown event names are skipped.
func (s *Stream) Next() (domain.ProgressEvent, error) {
	if s.terminal {
		return domain.ProgressEvent{}, io.EOF
	}
	for {
		raw, err := s.reader.Next()
		if err != nil {
			return domain.ProgressEvent{}, fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}
		ev, err := domain.DecodeProgressEvent(raw.Name, raw.Data)
		if errors.Is(err, domain.ErrUnknownEvent) {
			logger.Debug("client: skipping unknown event", "event", raw.Name)
			continue
		}
		if err != nil {
			return domain.ProgressEvent{}, fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}
		s.terminal = ev.Terminal()
		return ev, nil
	}
}

// Close releases the connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Send submits req and calls handle for every event until the terminal one.
func (c *Client) Send(ctx context.Context, req domain.SendRequest, handle func(domain.ProgressEvent) error) error {
	stream, err := c.Open(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
}

// Watch submits req and drives tracker through the job. onUpdate, if set,
// receives a snapshot after every applied event. A rejected submission
// leaves tracker untouched; a broken stream moves it to the error state.
func (c *Client) Watch(ctx context.Context, req domain.SendRequest, tracker *progress.Tracker, onUpdate func(progress.Snapshot)) error {
	stream, err := c.Open(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := tracker.Submit(); err != nil {
		return err
	}
	notify := func() {
		if onUpdate != nil {
			onUpdate(tracker.Snapshot())
		}
	}
	notify()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			tracker.Fail(err)
			notify()
			return err
		}
		if err := tracker.Apply(ev); err != nil {
			logger.Warn("client: event rejected by tracker", "event", ev.Type, "error", err)
			continue
		}
		notify()
	}
}

// HealthStatus mirrors GET /health.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Checks  map[string]struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.reads.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Health reads the server health.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var hs HealthStatus
	if err := c.getJSON(ctx, "/health", &hs); err != nil {
		return nil, err
	}
	return &hs, nil
}

// History lists campaigns, optionally filtered by subject or sender.
func (c *Client) History(ctx context.Context, search string) ([]domain.Campaign, error) {
	path := "/api/history"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	var out struct {
		Campaigns []domain.Campaign `json:"campaigns"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Campaigns, nil
}

// Stats reads history totals.
func (c *Client) Stats(ctx context.Context) (*domain.HistoryStats, error) {
	var st domain.HistoryStats
	if err := c.getJSON(ctx, "/api/history/stats", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Draft reads one saved draft.
func (c *Client) Draft(ctx context.Context, id int64) (*domain.Draft, error) {
	var d domain.Draft
	if err := c.getJSON(ctx, fmt.Sprintf("/api/drafts/%d", id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CompareRequest asks which recipients already received earlier campaigns.
// Empty CampaignIDs compares against all history.
type CompareRequest struct {
	Recipients  []string `json:"recipients"`
	CampaignIDs []string `json:"campaign_ids,omitempty"`
}

// Compare splits recipients into already-sent and new. It is a read and is
// sent through the retrying transport.
func (c *Client) Compare(ctx context.Context, in CompareRequest) (*domain.RecipientComparison, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/emails/compare", in)
	if err != nil {
		return nil, err
	}
	resp, err := c.reads.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	var out domain.RecipientComparison
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode compare: %w", err)
	}
	return &out, nil
}
