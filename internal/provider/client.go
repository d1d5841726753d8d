package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ziadkadry99/issue-sync/internal/clock"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// ClientConfig holds the transport settings shared by the provider
// clients.
type ClientConfig struct {
	// BaseURL is the API root. Ignored by clients whose requests carry
	// an instance URL.
	BaseURL string

	// Token authenticates every request.
	Token string

	// RequestsPerMinute throttles outgoing calls. Zero disables
	// throttling.
	RequestsPerMinute int

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// restClient executes JSON requests against one provider and turns
// non-2xx responses into *APIError.
type restClient struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	authorize  func(*http.Request)
	limiter    *rateLimiter
	clock      clock.Clock
	logger     *slog.Logger
}

func newRESTClient(provider string, cfg ClientConfig, authorize func(*http.Request)) *restClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &restClient{
		provider:   provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		authorize:  authorize,
		clock:      clk,
		logger:     logger,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = newRateLimiter(cfg.RequestsPerMinute, clk)
	}
	return c
}

// doJSON sends body as application/json and decodes the response into
// out when out is non-nil.
func (c *restClient) doJSON(ctx context.Context, method, target string, body, out any) error {
	return c.do(ctx, method, target, "application/json", body, out)
}

// do resolves target against the base URL unless it is absolute.
func (c *restClient) do(ctx context.Context, method, target, contentType string, body, out any) error {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + target
	}

	if c.limiter != nil {
		if err := c.limiter.wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", c.provider, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", c.provider, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Provider: c.provider, Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", c.provider, err)
	}

	c.logger.Debug("provider request",
		"provider", c.provider,
		"method", method,
		"url", target,
		"status", resp.StatusCode,
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", c.provider, err)
	}
	return nil
}

func (c *restClient) apiError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   c.provider,
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		apiErr.Message = parsed.Message
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		apiErr.Message = text
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		apiErr.RetryAfterDelay = parseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now())
	}
	return apiErr
}

// parseRetryAfter accepts both forms of the header: delta seconds and an
// HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
