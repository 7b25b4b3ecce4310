package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/ukpulse/pulseboard/internal/util"
)

// maxResponseBytes bounds how much of an agent reply we buffer.
const maxResponseBytes = 8 * 1024 * 1024

// Answer is one agent reply. Fields is nil when the body was not a JSON
// object; the raw body is always retained so free-form payloads survive.
type Answer struct {
	StatusCode int
	Body       []byte
	Fields     map[string]any
}

// OK reports whether the agent answered with a success status.
func (a Answer) OK() bool {
	return a.StatusCode >= 200 && a.StatusCode < 300
}

// Response returns the reply's "response" field. String values return as-is;
// structured values are re-encoded as JSON text.
func (a Answer) Response() (string, bool) {
	v, ok := a.Fields["response"]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := util.ToString(v); ok {
		return s, true
	}
	return util.MustJSON(v), true
}

// ErrorMessage returns the reply's "error" field when present.
func (a Answer) ErrorMessage() (string, bool) {
	v, ok := a.Fields["error"]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := util.ToString(v); ok {
		return s, true
	}
	return util.MustJSON(v), true
}

// Text returns the response field when present, else the whole payload.
func (a Answer) Text() string {
	if s, ok := a.Response(); ok {
		return s
	}
	return string(a.Body)
}

// Options configures a Client.
type Options struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	RateLimit     float64
	Burst         int
	Logger        *slog.Logger
}

// Client issues query POSTs to the agent through the relay. Both the refresh
// pipeline and chat share one client.
type Client struct {
	BaseURL  *url.URL
	HTTP     *http.Client
	attempts int
	backoff  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient constructs an agent client talking to the relay at base.
func NewClient(base string, opts Options) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	attempts := opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		BaseURL: u,
		HTTP: &http.Client{
			Timeout: timeout,
		},
		attempts: attempts,
		backoff:  opts.RetryBackoff,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// Query sends {"query": query} and decodes the reply. A non-nil error means
// the agent was unreachable; non-2xx replies return normally so callers can
// apply their own payload rules.
func (c *Client) Query(ctx context.Context, query string) (Answer, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Answer{}, err
		}
	}

	payload, err := util.EncodeJSON(map[string]string{"query": query})
	if err != nil {
		return Answer{}, fmt.Errorf("encode query: %w", err)
	}

	target := c.BaseURL.ResolveReference(&url.URL{Path: "/"})

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		// Create fresh request for each attempt
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
		if err != nil {
			return Answer{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.ContentLength = int64(len(payload))

		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = err
			// Context cancellation is final
			if ctx.Err() != nil {
				return Answer{}, lastErr
			}
			if attempt < c.attempts {
				c.logger.Debug("query attempt failed, retrying", "attempt", attempt, "err", err)
				select {
				case <-ctx.Done():
					return Answer{}, lastErr
				case <-time.After(c.backoff):
				}
			}
			continue
		}

		body, rerr := readBodyWithLimit(resp.Body, maxResponseBytes)
		status := resp.StatusCode
		_ = resp.Body.Close()
		if rerr != nil {
			lastErr = fmt.Errorf("read agent response: %w", rerr)
			if attempt < c.attempts {
				select {
				case <-ctx.Done():
					return Answer{}, lastErr
				case <-time.After(c.backoff):
				}
			}
			continue
		}

		// 5xx replies are worth one more attempt when retries are enabled.
		if status >= 500 && attempt < c.attempts {
			c.logger.Debug("query got server error, retrying", "attempt", attempt, "status", status)
			select {
			case <-ctx.Done():
				return Answer{}, ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}

		ans := Answer{
			StatusCode: status,
			Body:       body,
		}
		if fields, err := util.DecodeJSONMap(body); err == nil {
			ans.Fields = fields
		}
		return ans, nil
	}

	return Answer{}, fmt.Errorf("query failed after %d attempts: %w", c.attempts, lastErr)
}

// readBodyWithLimit reads up to maxBytes from the reader.
// Returns error if body exceeds limit.
func readBodyWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}

	buf := &bytes.Buffer{}
	limited := io.LimitReader(r, maxBytes+1)
	n, err := buf.ReadFrom(limited)
	if err != nil {
		return nil, err
	}
	if n > maxBytes {
		return nil, io.ErrUnexpectedEOF // signals "too large"
	}
	return buf.Bytes(), nil
}
