package embed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultMaxBodyBytes = 2 << 20 // 2 MB
	defaultUserAgent    = "embedmark/1.0 (+link-preview)"
	maxRedirects        = 5
)

// ErrBlockedHost is returned when a fetch targets a host the guard rejects.
var ErrBlockedHost = errors.New("blocked host")

// Fetcher retrieves the body of a page as text.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rawURL string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) (string, error) {
	return f(ctx, rawURL)
}

// HTTPFetcher is the network Fetcher. The response body is returned as text
// whatever the status code; only transport failures are errors.
type HTTPFetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	userAgent    string
	guard        bool
}

// FetchOption configures an HTTPFetcher.
type FetchOption func(*HTTPFetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) FetchOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithTimeout bounds each fetch, including redirects and body read.
func WithTimeout(d time.Duration) FetchOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) FetchOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent request header.
func WithUserAgent(ua string) FetchOption {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithHostGuard rejects loopback, private and cloud metadata addresses,
// both for the initial request and every redirect.
func WithHostGuard(enabled bool) FetchOption {
	return func(f *HTTPFetcher) { f.guard = enabled }
}

// NewHTTPFetcher returns an HTTPFetcher with a 5s timeout and a 2 MB body cap.
func NewHTTPFetcher(opts ...FetchOption) *HTTPFetcher {
	f := &HTTPFetcher{
		timeout:      defaultFetchTimeout,
		maxBodyBytes: defaultMaxBodyBytes,
		userAgent:    defaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	c := *f.client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("too many redirects (max %d)", maxRedirects)
		}
		if f.guard {
			return checkBlockedHost(req.Context(), req.URL.Hostname())
		}
		return nil
	}
	f.client = &c
	return f
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("embed: invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("embed: unsupported scheme %q", parsed.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.guard {
		if err := checkBlockedHost(ctx, parsed.Hostname()); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("embed: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("embed: read body: %w", err)
	}
	return string(data), nil
}

var cloudMetadataIP = net.ParseIP("169.254.169.254")

// checkBlockedHost rejects loopback, private, link-local and cloud metadata
// addresses.
func checkBlockedHost(ctx context.Context, host string) error {
	if host == "metadata.google.internal" || host == "localhost" {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}

	ips := []net.IP{net.ParseIP(host)}
	if ips[0] == nil {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil || len(addrs) == 0 {
			return nil //nolint:nilerr // let http.Client report DNS failures
		}
		ips = ips[:0]
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
	}

	for _, ip := range ips {
		switch {
		case ip.Equal(cloudMetadataIP):
			return fmt.Errorf("%w: cloud metadata address %s", ErrBlockedHost, host)
		case ip.IsLoopback(), ip.IsUnspecified():
			return fmt.Errorf("%w: loopback address %s", ErrBlockedHost, host)
		case ip.IsPrivate(), ip.IsLinkLocalUnicast():
			return fmt.Errorf("%w: private address %s", ErrBlockedHost, host)
		}
	}
	return nil
}
