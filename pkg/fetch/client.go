// Package fetch is the outbound HTTP layer shared by all collectors: per
// request timeouts, per-source retries and per-host pacing.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultUserAgent identifies the monitor to agency servers.
const DefaultUserAgent = "RegulationMonitor/1.0"

// Archiver stores raw response bodies and returns a content reference.
type Archiver interface {
	Store(ctx context.Context, data []byte) (string, error)
}

// Options configures a Client.
type Options struct {
	Timeout     time.Duration // per attempt
	MaxRetries  int           // retries after the first attempt
	RetryDelay  time.Duration // wait between attempts
	InsecureTLS bool          // skip certificate verification (legacy agency sites)
	UserAgent   string
	Gate        *Gate    // shared per-host limits; nil means unlimited
	Archiver    Archiver // optional raw snapshot store
}

// Response is a successful fetch.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Attempts    int
	Snapshot    string // archive reference, empty when archiving is off or failed
}

// Client fetches source documents.
type Client struct {
	rc       *resty.Client
	gate     *Gate
	archiver Archiver
	logger   *slog.Logger
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	gate := opts.Gate
	if gate == nil {
		gate = NewGate(0, 1, 1<<10)
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.RetryDelay).
		SetRetryMaxWaitTime(opts.RetryDelay).
		SetHeader("User-Agent", opts.UserAgent).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r == nil || !isSuccess(r.StatusCode())
		})
	if opts.InsecureTLS {
		rc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in per agency
	}
	rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		u, err := url.Parse(r.URL)
		if err != nil {
			return err
		}
		return gate.Wait(r.Context(), u.Hostname())
	})

	return &Client{
		rc:       rc,
		gate:     gate,
		archiver: opts.Archiver,
		logger:   slog.Default().With("component", "fetch"),
	}
}

// Get fetches rawURL with the given headers. Any transport error or non-2xx
// status is retried; once retries are exhausted the failure is returned as
// an *Error.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("invalid url")}
	}

	release, err := c.gate.Acquire(ctx, u.Hostname())
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	defer release()

	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(rawURL)

	attempts := 1
	if resp != nil && resp.Request != nil && resp.Request.Attempt > 0 {
		attempts = resp.Request.Attempt
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		return nil, &Error{URL: rawURL, StatusCode: status, Attempts: attempts, Err: err}
	}
	if !isSuccess(resp.StatusCode()) {
		return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode(), Attempts: attempts}
	}

	out := &Response{
		URL:         rawURL,
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
		Attempts:    attempts,
	}
	if c.archiver != nil && len(out.Body) > 0 {
		ref, err := c.archiver.Store(ctx, out.Body)
		if err != nil {
			c.logger.WarnContext(ctx, "snapshot archive failed", "url", rawURL, "error", err)
		} else {
			out.Snapshot = ref
		}
	}
	return out, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code <= 299
}

// Error is a source fetch failure after all retries.
type Error struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
