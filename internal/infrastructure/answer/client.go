package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
	"NewsPipeline/pkg/metrics"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxPolls     = 150 // ~5 minutes at the default interval
)

// Client talks to the asynchronous answer wrapper: submit a query, poll the
// result endpoint until a terminal status, delete the remote result after
// retrieval. Provider shape variance (answer nested under result.answer or
// result.data.answer) is normalized here and never leaks upward.
type Client struct {
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	http         *http.Client
	log          *slog.Logger
}

var _ ports.AnswerClient = (*Client)(nil)

// Option tweaks client construction; used by tests to shorten polling.
type Option func(*Client)

// WithPolling overrides the poll interval and retry ceiling.
func WithPolling(interval time.Duration, maxPolls int) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.maxPolls = maxPolls
	}
}

// NewClient builds a client for the wrapper at baseURL.
func NewClient(baseURL string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
		http:         &http.Client{Timeout: 20 * time.Second},
		log:          log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type pollResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Msg    string `json:"message"`
	Result *struct {
		Answer string `json:"answer"`
		Data   *struct {
			Answer string `json:"answer"`
		} `json:"data"`
	} `json:"result"`
}

func (p pollResponse) answer() string {
	if p.Result == nil {
		return ""
	}
	if p.Result.Answer != "" {
		return p.Result.Answer
	}
	if p.Result.Data != nil {
		return p.Result.Data.Answer
	}
	return ""
}

func (p pollResponse) remoteError() string {
	if p.Error != "" {
		return p.Error
	}
	return p.Msg
}

// QueryJSON runs Query and decodes the structured answer into v. The raw
// answer text is returned even when decoding fails.
func (c *Client) QueryJSON(ctx context.Context, query string, opts ports.QueryOptions, v any) (string, error) {
	text, err := c.Query(ctx, query, opts)
	if err != nil {
		return "", err
	}
	return text, DecodeJSON(text, v)
}

// Query submits the query, polls to completion, and returns the answer text.
// Cancelling ctx abandons polling before the retry ceiling; the remote
// cleanup delete still fires if a request id was obtained.
func (c *Client) Query(ctx context.Context, query string, opts ports.QueryOptions) (string, error) {
	started := time.Now()
	text, err := c.query(ctx, query, opts)
	metrics.ProviderCallDuration.Observe(time.Since(started).Seconds())
	metrics.ProviderCallsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	return text, err
}

func (c *Client) query(ctx context.Context, query string, opts ports.QueryOptions) (string, error) {
	requestID, err := c.submit(ctx, query, opts)
	if err != nil {
		return "", err
	}

	c.log.Debug("query queued", "request_id", requestID)

	resultURL := fmt.Sprintf("%s/api/queue/result/%s", c.baseURL, requestID)
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		if err := c.wait(ctx); err != nil {
			c.cleanup(resultURL)
			return "", err
		}

		poll, err := c.poll(ctx, resultURL)
		if err != nil {
			if ctx.Err() != nil {
				c.cleanup(resultURL)
				return "", ctx.Err()
			}
			c.log.Warn("poll attempt failed", "request_id", requestID, "error", err)
			continue
		}

		switch poll.Status {
		case "completed":
			c.cleanup(resultURL)
			return poll.answer(), nil
		case "failed", "not_found":
			return "", fmt.Errorf("%w: %s", domain.ErrRemoteFailed, poll.remoteError())
		}

		if attempt%5 == 0 {
			c.log.Debug("polling", "request_id", requestID, "status", poll.Status)
		}
	}

	return "", fmt.Errorf("%w: request %s after %d polls", domain.ErrPollTimeout, requestID, c.maxPolls)
}

func (c *Client) submit(ctx context.Context, query string, opts ports.QueryOptions) (string, error) {
	submitURL, err := url.Parse(c.baseURL + "/api/query_queue_async")
	if err != nil {
		return "", fmt.Errorf("%w: parse submit url: %v", domain.ErrSubmissionFailed, err)
	}

	params := submitURL.Query()
	params.Set("q", query)
	params.Set("account_name", opts.AccountName)
	params.Set("mode", opts.Mode)
	params.Set("sources", opts.Sources)
	params.Set("answer_only", "true")
	if opts.CollectionID != "" {
		params.Set("collection_uuid", opts.CollectionID)
	}
	submitURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, submitURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: new request: %v", domain.ErrSubmissionFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %s: %s", domain.ErrSubmissionFailed, resp.Status, strings.TrimSpace(string(body)))
	}

	var submitted submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", fmt.Errorf("%w: decode submit response: %v", domain.ErrSubmissionFailed, err)
	}
	if submitted.RequestID == "" {
		return "", fmt.Errorf("%w: response missing request_id", domain.ErrSubmissionFailed)
	}

	return submitted.RequestID, nil
}

func (c *Client) poll(ctx context.Context, resultURL string) (pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return pollResponse{}, fmt.Errorf("new poll request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pollResponse{}, fmt.Errorf("poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pollResponse{}, fmt.Errorf("poll status %s", resp.Status)
	}

	var poll pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		return pollResponse{}, fmt.Errorf("decode poll response: %w", err)
	}

	return poll, nil
}

// cleanup deletes the remote result. Best effort: errors are ignored and the
// call never blocks the caller.
func (c *Client) cleanup(resultURL string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resultURL, nil)
		if err != nil {
			return
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return
		}
		resp.Body.Close()
	}()
}

func (c *Client) wait(ctx context.Context) error {
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, domain.ErrSubmissionFailed):
		return "submission_failed"
	case errors.Is(err, domain.ErrRemoteFailed):
		return "remote_failed"
	case errors.Is(err, domain.ErrPollTimeout):
		return "timeout"
	default:
		return "cancelled"
	}
}
