package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// CorrelationHeader carries the ID the receiving system uses to tie an
// outbound call to the execution that made it.
const CorrelationHeader = "Escrow-Correlation-Id"

// DefaultCalloutTimeout bounds a single outbound call.
const DefaultCalloutTimeout = 10 * time.Second

// CalloutOption configures a Callout.
type CalloutOption func(*Callout)

// WithHTTPClient sets the HTTP client used for outbound calls.
func WithHTTPClient(c *http.Client) CalloutOption {
	return func(co *Callout) { co.client = c }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) CalloutOption {
	return func(co *Callout) {
		if d > 0 {
			co.client.Timeout = d
		}
	}
}

// WithRateLimit caps outbound calls at rps per second. Zero disables the
// limiter.
func WithRateLimit(rps float64) CalloutOption {
	return func(co *Callout) {
		if rps <= 0 {
			co.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		co.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCalloutLogger sets the callout logger.
func WithCalloutLogger(l *slog.Logger) CalloutOption {
	return func(co *Callout) { co.logger = l }
}

// Callout performs cross-system HTTP calls whose failures are expected
// saga outcomes rather than errors. It never retries: run it inside a
// durable step so a replay does not send the request again.
type Callout struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewCallout creates a Callout.
func NewCallout(opts ...CalloutOption) *Callout {
	c := &Callout{
		client: &http.Client{Timeout: DefaultCalloutTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends payload as JSON to url. It returns true only when the remote
// system answers 200. A non-200 status, a transport failure or a timeout
// returns false with a nil error. Errors are reserved for calls that are
// wrong as written: an empty url, a header without CorrelationHeader or
// a payload that cannot be encoded. Cancellation of ctx is returned as
// ctx.Err().
func (c *Callout) Post(ctx context.Context, url string, payload any, header http.Header) (bool, error) {
	return c.Exchange(ctx, url, payload, header, nil)
}

// Exchange is Post that also decodes a 200 JSON response into out (if
// non-nil). An undecodable response counts as a failed call.
func (c *Callout) Exchange(ctx context.Context, url string, payload any, header http.Header, out any) (bool, error) {
	if url == "" {
		return false, errors.New("saga: callout url is empty")
	}
	if header.Get(CorrelationHeader) == "" {
		return false, fmt.Errorf("%w: post %s", ErrMissingCorrelation, url)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("saga: encode callout payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("saga: build callout request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(ctx, req, out)
}

// Get fetches url and decodes a 200 JSON response into out (if non-nil).
// Failures follow the same rules as Post.
func (c *Callout) Get(ctx context.Context, url string, out any) (bool, error) {
	if url == "" {
		return false, errors.New("saga: callout url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("saga: build callout request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(ctx, req, out)
}

func (c *Callout) do(ctx context.Context, req *http.Request, out any) (bool, error) {
	logger := c.logger.With(
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
	)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			logger.Warn("callout rate limit wait failed", slog.String("error", err.Error()))
			return false, nil
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Warn("callout failed", slog.String("error", err.Error()))
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		logger.Warn("callout rejected", slog.Int("status", resp.StatusCode))
		return false, nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			logger.Warn("callout response undecodable", slog.String("error", err.Error()))
			return false, nil
		}
	}
	logger.Debug("callout succeeded")
	return true, nil
}
