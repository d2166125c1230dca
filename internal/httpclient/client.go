// Package httpclient provides the shared rate-limited HTTP fetcher
// used by every source adapter. All outbound requests of the process
// go through one Client so the minimum inter-request spacing holds
// globally, not per adapter.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stockcheck/stockcheck/internal/config"
)

// transient HTTP statuses worth retrying with backoff.
var retryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Client wraps resty with exponential-backoff retry and a
// process-wide minimum interval between outbound requests.
type Client struct {
	rest        *resty.Client
	maxRetries  int
	backoffBase time.Duration
	minInterval time.Duration

	mu       sync.Mutex
	nextSlot time.Time

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

func New(s *config.Settings) *Client {
	rest := resty.New()
	rest.SetTimeout(30 * time.Second)
	rest.SetHeader("User-Agent", s.UserAgent)
	// resty has its own retry loop; disabled so the backoff policy
	// lives in one place.
	rest.SetRetryCount(0)

	return &Client{
		rest:        rest,
		maxRetries:  s.MaxRetries,
		backoffBase: s.BackoffBase,
		minInterval: s.MinInterval,
		sleep:       time.Sleep,
	}
}

// Request carries the optional pieces of a GET.
type Request struct {
	Params  map[string]string
	Headers map[string]string
	Cookies map[string]string
}

// StatusError reports a non-success HTTP status after retries were
// exhausted or for a non-retryable status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// Get fetches a URL, blocking first until the shared minimum interval
// since the previous request has elapsed. Statuses 429/500/502/503/504
// are retried with delay = base * 2^(attempt-1); any other non-2xx
// status or a transport error is returned to the caller immediately.
func (c *Client) Get(ctx context.Context, url string, req *Request) (*resty.Response, error) {
	if req == nil {
		req = &Request{}
	}

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return nil, err
		}

		r := c.rest.R().SetContext(ctx)
		if len(req.Params) > 0 {
			r.SetQueryParams(req.Params)
		}
		if len(req.Headers) > 0 {
			r.SetHeaders(req.Headers)
		}
		for name, value := range req.Cookies {
			r.SetCookie(&http.Cookie{Name: name, Value: value})
		}

		resp, err := r.Get(url)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", url, err)
		}

		status := resp.StatusCode()
		if retryableStatus[status] && attempt < c.maxRetries {
			c.sleep(c.backoffDelay(attempt))
			continue
		}
		if status >= 400 {
			return nil, &StatusError{URL: url, Status: status}
		}
		return resp, nil
	}

	return nil, fmt.Errorf("GET %s: retries exhausted", url)
}

// PostJSON sends a JSON body through the same throttle and retry
// policy as Get.
func (c *Client) PostJSON(ctx context.Context, url string, body any, headers map[string]string) (*resty.Response, error) {
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return nil, err
		}

		r := c.rest.R().SetContext(ctx).SetBody(body)
		r.SetHeader("Content-Type", "application/json")
		if len(headers) > 0 {
			r.SetHeaders(headers)
		}

		resp, err := r.Post(url)
		if err != nil {
			return nil, fmt.Errorf("POST %s: %w", url, err)
		}

		status := resp.StatusCode()
		if retryableStatus[status] && attempt < c.maxRetries {
			c.sleep(c.backoffDelay(attempt))
			continue
		}
		if status >= 400 {
			return nil, &StatusError{URL: url, Status: status}
		}
		return resp, nil
	}

	return nil, fmt.Errorf("POST %s: retries exhausted", url)
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	return c.backoffBase * time.Duration(1<<(attempt-1))
}

// waitTurn reserves the next send slot. Slots are handed out under
// the mutex so concurrent callers cannot race past the throttle; the
// actual sleep happens outside the critical section.
func (c *Client) waitTurn(ctx context.Context) error {
	if c.minInterval <= 0 {
		return nil
	}

	c.mu.Lock()
	now := time.Now()
	wait := time.Duration(0)
	if c.nextSlot.After(now) {
		wait = c.nextSlot.Sub(now)
		c.nextSlot = c.nextSlot.Add(c.minInterval)
	} else {
		c.nextSlot = now.Add(c.minInterval)
	}
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
