// Package httpx is a small retrying JSON client for off-chain HTTP APIs.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/version"
)

const (
	maxBodyBytes  = 4 << 20
	maxBackoff    = 2 * time.Second
	maxRetryAfter = 10 * time.Second
)

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "solagent/" + version.CLIVersion,
	}
}

// attemptError is a failed attempt and whether another one may follow.
type attemptError struct {
	err        error
	retry      bool
	retryAfter time.Duration
}

// DoJSON sends req and decodes a 2xx body into out. Transport errors, 5xx
// and 429 responses are retried; a Retry-After header stretches the wait.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var (
		lastErr error
		header  http.Header
		wait    time.Duration
	)
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = backoff(attempt)
			}
			select {
			case <-ctx.Done():
				return header, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(wait):
			}
		}

		var aerr *attemptError
		header, aerr = c.attempt(ctx, req, out)
		if aerr == nil {
			return header, nil
		}
		lastErr, wait = aerr.err, aerr.retryAfter
		if !aerr.retry {
			return header, lastErr
		}
	}
	return header, lastErr
}

func (c *Client) attempt(ctx context.Context, req *http.Request, out any) (http.Header, *attemptError) {
	cloneReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, &attemptError{err: clierr.Wrap(clierr.CodeInternal, "clone request body", err)}
		}
		cloneReq.Body = body
	}

	resp, err := c.httpClient.Do(cloneReq)
	if err != nil {
		return nil, &attemptError{err: mapNetError(err), retry: true}
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.Header, &attemptError{err: clierr.Wrap(clierr.CodeUnavailable, "read upstream response", err), retry: true}
	}
	if aerr := classifyStatus(resp); aerr != nil {
		return resp.Header, aerr
	}

	if out == nil {
		return resp.Header, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return resp.Header, &attemptError{err: clierr.New(clierr.CodeUnavailable, "upstream returned empty response")}
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return resp.Header, &attemptError{err: clierr.Wrap(clierr.CodeUnavailable, "decode upstream JSON", err)}
	}
	return resp.Header, nil
}

func classifyStatus(resp *http.Response) *attemptError {
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &attemptError{
			err:        clierr.New(clierr.CodeRateLimited, "upstream rate limited request"),
			retry:      true,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &attemptError{err: clierr.New(clierr.CodeAuth, "upstream authentication failed")}
	case code >= http.StatusInternalServerError:
		return &attemptError{err: clierr.New(clierr.CodeUnavailable, fmt.Sprintf("upstream unavailable (status %d)", code)), retry: true}
	case code < 200 || code >= 300:
		return &attemptError{err: clierr.New(clierr.CodeUnsupported, fmt.Sprintf("upstream returned unexpected status %d", code))}
	}
	return nil
}

// GetJSON issues a GET with optional headers and decodes the JSON body.
func GetJSON(ctx context.Context, c *Client, url string, headers map[string]string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "upstream timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "upstream request failed", err)
}

// parseRetryAfter reads the delay-seconds form only, capped at maxRetryAfter.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func backoff(attempt int) time.Duration {
	d := 120 * time.Millisecond * time.Duration(1<<uint(attempt-1))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d + time.Duration(rand.Intn(75))*time.Millisecond
}
