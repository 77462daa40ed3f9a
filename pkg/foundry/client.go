package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/contoso/sofia/internal/observability"
)

// DefaultAPIVersion pins the agent management surface. The
// OpenAI-compatible routes under /openai/v1 carry no version parameter.
const DefaultAPIVersion = "2025-05-15-preview"

const (
	defaultMaxRetries   = 3
	defaultRetryBase    = time.Second
	defaultHTTPTimeout  = 2 * time.Minute
	defaultPollInterval = 750 * time.Millisecond
	defaultPollTimeout  = 2 * time.Minute
)

// Client is a typed REST client for one Azure AI Foundry project.
//
// Two route families share the project endpoint: agent management lives
// under /agents and requires an api-version query parameter, while the
// OpenAI-compatible surface (responses, conversations, files, vector
// stores) lives under /openai/v1 without one. Requests that fail with a
// retryable status are retried with exponential backoff, honoring
// Retry-After when the service sends it.
type Client struct {
	endpoint     string
	apiVersion   string
	cred         Credential
	httpClient   *http.Client
	maxRetries   int
	retryBase    time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIVersion overrides the agent management api-version.
func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if v != "" {
			c.apiVersion = v
		}
	}
}

// WithMaxRetries sets how many times a retryable request is reattempted.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryBase sets the first backoff delay. Each retry doubles it.
func WithRetryBase(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryBase = d
		}
	}
}

// WithPolling sets the interval and timeout used when waiting on
// asynchronous resources such as in-progress responses and vector store
// file ingestion.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout > 0 {
			c.pollTimeout = timeout
		}
	}
}

// WithLogger replaces the client's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client for the project at endpoint, authenticating
// every request with cred.
func NewClient(endpoint string, cred Credential, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("foundry: project endpoint is required")
	}
	if cred == nil {
		return nil, fmt.Errorf("foundry: credential is required")
	}

	c := &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiVersion:   DefaultAPIVersion,
		cred:         cred,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries:   defaultMaxRetries,
		retryBase:    defaultRetryBase,
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
		logger:       log.With().Str("component", "foundry").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the project endpoint the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// doAgents issues a request against the agent management surface.
func (c *Client) doAgents(ctx context.Context, op, method, path string, body, out any) error {
	query := url.Values{"api-version": []string{c.apiVersion}}
	return c.doJSON(ctx, op, method, "/agents"+path, query, body, out)
}

// doOpenAI issues a request against the OpenAI-compatible surface.
func (c *Client) doOpenAI(ctx context.Context, op, method, path string, body, out any) error {
	return c.doJSON(ctx, op, method, "/openai/v1"+path, nil, body, out)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		payload = b
	}

	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := c.send(ctx, op, method, target, payload, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// send performs one logical request with retries. The payload is held as
// bytes so each attempt gets a fresh body reader.
func (c *Client) send(ctx context.Context, op, method, target string, payload []byte, contentType string) (*http.Response, error) {
	start := time.Now()

	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBase << (attempt - 1)
			if retryAfter > delay {
				delay = retryAfter
			}
			c.logger.Debug().
				Str("operation", op).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying foundry request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.record(op, false, start)
				return nil, ctx.Err()
			}
		}
		retryAfter = 0

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create %s request: %w", op, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		if err := c.cred.Apply(ctx, req); err != nil {
			c.record(op, false, start)
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				c.record(op, false, start)
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%s request: %w", op, err)
			continue
		}

		if resp.StatusCode < 400 {
			c.record(op, true, start)
			return resp, nil
		}

		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		svcErr := newServiceError(resp)
		lastErr = svcErr

		if !IsRetryable(svcErr) {
			c.record(op, false, start)
			return nil, svcErr
		}
		c.logger.Warn().
			Str("operation", op).
			Int("status", svcErr.StatusCode).
			Msg("Foundry request failed, will retry")
	}

	c.record(op, false, start)
	return nil, fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

func (c *Client) record(op string, success bool, start time.Time) {
	observability.RecordFoundryRequest(op, time.Since(start), success)
}

// newServiceError drains and closes the response body.
func newServiceError(resp *http.Response) *ServiceError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)

	message := envelope.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &ServiceError{
		StatusCode: resp.StatusCode,
		Code:       envelope.Error.Code,
		Message:    message,
		RequestID:  resp.Header.Get("x-ms-request-id"),
		Err:        sentinelFor(resp.StatusCode, envelope.Error.Code),
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
