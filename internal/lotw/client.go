// Package lotw downloads confirmation reports from the remote logbook service.
package lotw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lotwsync/internal/models"

	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://lotw.arrl.org/lotwuser/lotwreport.adi"

	maxErrorBody = 200
	maxBodySize  = 64 << 20
)

// ErrAuthRejected is returned when the service answers with its login page
// instead of a report.
var ErrAuthRejected = errors.New("lotw: credentials rejected")

// APIError represents a non-200 response.
type APIError struct {
	StatusCode int
	Body       string // first 200 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lotw: HTTP %d: %s", e.StatusCode, e.Body)
}

// Credentials identify the remote account and the station to report on.
type Credentials struct {
	Username string
	Password string
	Callsign string
}

// Response is a downloaded report.
type Response struct {
	Body   string
	Digest string // xxh3 of the body, hex
	Size   int
}

// Client talks to the report endpoint.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit paces requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
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

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient replaces the underlying HTTP client, keeping its timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   baseURL,
		userAgent: "lotwsync",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads the confirmations received since the given date.
// Transport failures and timeouts are returned as is; non-200 answers as
// *APIError; a login page as ErrAuthRejected.
func (c *Client) Fetch(ctx context.Context, creds Credentials, since time.Time) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, fmt.Errorf("lotw: rate limit wait: %w", err)
		}
	}

	query := url.Values{}
	query.Set("login", creds.Username)
	query.Set("password", creds.Password)
	query.Set("qso_query", "1")
	query.Set("qso_qsl", "yes")
	query.Set("qso_qsldetail", "yes")
	if !since.IsZero() {
		query.Set("qso_qslsince", since.UTC().Format(models.DateLayout))
	}
	if creds.Callsign != "" {
		query.Set("qso_owncall", strings.ToUpper(creds.Callsign))
	}

	fullURL := c.baseURL
	if strings.Contains(fullURL, "?") {
		fullURL += "&" + query.Encode()
	} else {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return Response{}, fmt.Errorf("lotw: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("lotw: request: %w", redact(err, creds.Password))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Response{}, fmt.Errorf("lotw: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyStr := string(body)
		if len(bodyStr) > maxErrorBody {
			bodyStr = bodyStr[:maxErrorBody]
		}
		return Response{}, &APIError{StatusCode: resp.StatusCode, Body: bodyStr}
	}

	if isLoginPage(body) {
		return Response{}, ErrAuthRejected
	}

	return Response{
		Body:   string(body),
		Digest: strconv.FormatUint(xxh3.Hash(body), 16),
		Size:   len(body),
	}, nil
}

// isLoginPage reports whether body is an HTML page rather than a report.
func isLoginPage(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.HasPrefix(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<title>"))
}

// redact drops the password from URL errors returned by the transport.
func redact(err error, secret string) error {
	var uerr *url.Error
	if secret == "" || !errors.As(err, &uerr) {
		return err
	}
	return &url.Error{
		Op:  uerr.Op,
		URL: strings.ReplaceAll(uerr.URL, url.QueryEscape(secret), "REDACTED"),
		Err: uerr.Err,
	}
}
