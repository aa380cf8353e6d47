// Package httpclient provides a shared, optimized HTTP client for m3u8dl.
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/mohaanymo/m3u8dl/internal/models"
)

// Config holds HTTP client configuration.
type Config struct {
	Timeout         time.Duration // per request, applied by Client.Get
	MaxConnsPerHost int
	DisableHTTP2    bool
	Headers         map[string]string
	UserAgent       string
	MaxBandwidth    int64 // bytes per second, 0 = unlimited
}

// DefaultConfig returns sensible defaults for media downloads.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		MaxConnsPerHost: 100,
		DisableHTTP2:    false,
	}
}

// NewHTTPClient creates an optimized HTTP client for high-throughput downloads.
func NewHTTPClient(cfg Config) *http.Client {
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 100
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression: true, // Segments are already compressed
		ForceAttemptHTTP2:  !cfg.DisableHTTP2,
		DialContext:        dialer.DialContext,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	var rt http.RoundTripper = transport
	if cfg.MaxBandwidth > 0 {
		// Allow bursts of 64KB
		rt = &rateLimitedTransport{
			base:    rt,
			limiter: rate.NewLimiter(rate.Limit(cfg.MaxBandwidth), 64*1024),
		}
	}
	rt = &headerTransport{base: rt, headers: cfg.Headers, userAgent: cfg.UserAgent}

	return &http.Client{
		Transport: otelhttp.NewTransport(rt),
	}
}

// Client performs the GET requests of a run: playlists, segments and keys.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	return Wrap(NewHTTPClient(cfg), cfg.Timeout)
}

// Wrap uses an existing *http.Client. Headers and rate limiting are then
// the caller's responsibility.
func Wrap(hc *http.Client, timeout time.Duration) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Client{http: hc, timeout: timeout}
}

// Get fetches url and returns the full body. Each call gets its own
// timeout. Failures are classified as models.ErrNetwork.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.Wrap(models.ErrNetwork, "create request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.Wrap(models.ErrNetwork, "GET "+url, unwrapURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, models.Errorf(models.ErrNetwork, "GET "+url, "HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Wrap(models.ErrNetwork, "read body", err)
	}
	return body, nil
}

// unwrapURLError drops the *url.Error envelope; the op already names the URL.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	if errors.Is(uerr.Err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout: %w", uerr.Err)
	}
	return uerr.Err
}

// headerTransport injects default and custom headers.
type headerTransport struct {
	base      http.RoundTripper
	headers   map[string]string
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// rateLimitedTransport wraps a transport with rate limiting.
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	resp.Body = &rateLimitedReader{
		r:       resp.Body,
		limiter: t.limiter,
		ctx:     req.Context(),
	}
	return resp, nil
}

// rateLimitedReader wraps an io.ReadCloser with rate limiting.
type rateLimitedReader struct {
	r       io.ReadCloser
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	// WaitN fails when n exceeds the burst
	if len(p) > r.limiter.Burst() {
		p = p[:r.limiter.Burst()]
	}
	if err := r.limiter.WaitN(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func (r *rateLimitedReader) Close() error {
	return r.r.Close()
}
