// Package subgraph reads Redemption and TroveUpdated records from the indexer's
// GraphQL endpoint.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trove-capacity-lab/internal/logging"
	"trove-capacity-lab/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrMaxRetries is returned when a page could not be fetched within the retry budget.
var ErrMaxRetries = errors.New("max retries exceeded")

// HTTPClient posts GraphQL queries over HTTP.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	limiter     *rate.Limiter // nil means unlimited
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRateLimit caps outgoing requests, retries included, at rps per second.
// A non-positive rps disables the limit.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = logging.OrNop(l)
	}
}

// WithMetrics records pages and retries.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *HTTPClient) {
		c.metrics = m
	}
}

// NewHTTPClient creates a new GraphQL HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// gqlRequest is a GraphQL POST body.
type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// gqlResponse is a GraphQL response envelope.
type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []gqlError                 `json:"errors,omitempty"`
}

// gqlError is one entry of the GraphQL errors array.
type gqlError struct {
	Message string `json:"message"`
}

// QueryError is returned when the server answered with GraphQL errors.
type QueryError struct {
	Messages []string
}

func (e *QueryError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// query runs one GraphQL query with retries and exponential backoff and decodes
// data[field] into result. Transport failures, 429, 5xx and undecodable bodies are
// retried with the same variables; GraphQL errors are not.
func (c *HTTPClient) query(ctx context.Context, field, q string, vars map[string]any, result any) error {
	body, err := json.Marshal(gqlRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying subgraph query",
				zap.String("collection", field),
				zap.Any("variables", vars),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			if c.metrics != nil {
				c.metrics.FetchRetries.WithLabelValues(field).Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("rate limit: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var gqlResp gqlResponse
		if err := json.Unmarshal(respBody, &gqlResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if len(gqlResp.Errors) > 0 {
			qe := &QueryError{}
			for _, e := range gqlResp.Errors {
				qe.Messages = append(qe.Messages, e.Message)
			}
			return qe
		}

		raw, ok := gqlResp.Data[field]
		if !ok {
			return fmt.Errorf("response missing field %q", field)
		}
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal %s: %w", field, err)
		}
		return nil
	}

	return fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}
